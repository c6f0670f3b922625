package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

// TaskRepository stores task history as JSON documents.
type TaskRepository struct {
	store *store
}

func (r *TaskRepository) GetByID(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task

	err := r.store.read(id, &task)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrTaskNotFound
		}

		return nil, fmt.Errorf("failed to read task %s: %w", id, err)
	}

	return &task, nil
}

func (r *TaskRepository) Save(ctx context.Context, task *models.Task) error {
	return r.store.write(task.ID, task)
}

func (r *TaskRepository) Query(ctx context.Context, filter persistence.TaskFilter) ([]*models.Task, error) {
	tasks := make([]*models.Task, 0)

	err := r.store.readAll(func(data []byte) error {
		var task models.Task
		if err := json.Unmarshal(data, &task); err != nil {
			return fmt.Errorf("failed to unmarshal task: %w", err)
		}

		if filter.WorkflowID != "" && task.WorkflowID != filter.WorkflowID {
			return nil
		}

		if filter.Status != "" && task.Status != filter.Status {
			return nil
		}

		if !filter.From.IsZero() && task.StartedAt.Before(filter.From) {
			return nil
		}

		if !filter.To.IsZero() && task.StartedAt.After(filter.To) {
			return nil
		}

		tasks = append(tasks, &task)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(tasks, func(i, j int) bool {
		return tasks[i].StartedAt.After(tasks[j].StartedAt)
	})

	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}

	return tasks, nil
}

// DeliveryRepository stores delivery records as JSON documents.
type DeliveryRepository struct {
	store *store
}

func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	var delivery models.Delivery

	err := r.store.read(id, &delivery)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrDeliveryNotFound
		}

		return nil, fmt.Errorf("failed to read delivery %s: %w", id, err)
	}

	return &delivery, nil
}

func (r *DeliveryRepository) Save(ctx context.Context, delivery *models.Delivery) error {
	return r.store.write(delivery.ID, delivery)
}

func (r *DeliveryRepository) ListByEndpoint(ctx context.Context, endpointID string, status models.DeliveryStatus, limit int) ([]*models.Delivery, error) {
	deliveries := make([]*models.Delivery, 0)

	err := r.store.readAll(func(data []byte) error {
		var delivery models.Delivery
		if err := json.Unmarshal(data, &delivery); err != nil {
			return fmt.Errorf("failed to unmarshal delivery: %w", err)
		}

		if delivery.EndpointID != endpointID {
			return nil
		}

		if status != "" && delivery.Status != status {
			return nil
		}

		deliveries = append(deliveries, &delivery)

		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(deliveries, func(i, j int) bool {
		return deliveries[i].CreatedAt.After(deliveries[j].CreatedAt)
	})

	if limit > 0 && len(deliveries) > limit {
		deliveries = deliveries[:limit]
	}

	return deliveries, nil
}
