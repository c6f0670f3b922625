// Package file provides file-based persistence used for development and tests.
package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/kazihq/zapflow/pkg/persistence"
)

// Persistence implements persistence.Persistence on top of a directory tree:
// one JSON document per entity under <root>/<kind>/<id>.json.
type Persistence struct {
	root         string
	workflowRepo *WorkflowRepository
	endpointRepo *EndpointRepository
	taskRepo     *TaskRepository
	deliveryRepo *DeliveryRepository
}

func NewPersistence(root string) *Persistence {
	cleanRoot := strings.Replace(root, "file://", "", 1)

	return &Persistence{
		root:         cleanRoot,
		workflowRepo: &WorkflowRepository{store: newStore(filepath.Join(cleanRoot, "workflows"))},
		endpointRepo: &EndpointRepository{store: newStore(filepath.Join(cleanRoot, "endpoints"))},
		taskRepo:     &TaskRepository{store: newStore(filepath.Join(cleanRoot, "tasks"))},
		deliveryRepo: &DeliveryRepository{store: newStore(filepath.Join(cleanRoot, "deliveries"))},
	}
}

func (fp *Persistence) WorkflowRepository() persistence.WorkflowRepository {
	return fp.workflowRepo
}

func (fp *Persistence) EndpointRepository() persistence.EndpointRepository {
	return fp.endpointRepo
}

func (fp *Persistence) TaskRepository() persistence.TaskRepository {
	return fp.taskRepo
}

func (fp *Persistence) DeliveryRepository() persistence.DeliveryRepository {
	return fp.deliveryRepo
}

func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); os.IsNotExist(err) {
		return os.ErrNotExist
	}

	return nil
}

// Close performs any necessary cleanup. Nothing to clean up for files.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// store serializes access to one entity directory.
type store struct {
	mu  sync.RWMutex
	dir string
}

func newStore(dir string) *store {
	return &store{dir: dir}
}

func (s *store) path(id string) string {
	return filepath.Join(s.dir, id+".json")
}

func (s *store) write(id string, entity any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", s.dir, err)
	}

	data, err := json.MarshalIndent(entity, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal entity %s: %w", id, err)
	}

	if err := os.WriteFile(s.path(id), data, 0o644); err != nil {
		return fmt.Errorf("failed to write entity %s: %w", id, err)
	}

	return nil
}

// read unmarshals one entity into target; returns os.ErrNotExist when absent.
func (s *store) read(id string, target any) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return err
	}

	return json.Unmarshal(data, target)
}

// readAll feeds every stored document to the collect callback.
func (s *store) readAll(collect func(data []byte) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("failed to read directory %s: %w", s.dir, err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}

		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		if err := collect(data); err != nil {
			return err
		}
	}

	return nil
}

func (s *store) delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return os.Remove(s.path(id))
}
