package file

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

// WorkflowRepository stores workflows as JSON documents.
type WorkflowRepository struct {
	store *store
}

func (r *WorkflowRepository) GetAll(ctx context.Context) ([]*models.Workflow, error) {
	workflows := make([]*models.Workflow, 0)

	err := r.store.readAll(func(data []byte) error {
		var workflow models.Workflow
		if err := json.Unmarshal(data, &workflow); err != nil {
			return fmt.Errorf("failed to unmarshal workflow: %w", err)
		}

		workflows = append(workflows, &workflow)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return workflows, nil
}

func (r *WorkflowRepository) GetByID(ctx context.Context, id string) (*models.Workflow, error) {
	var workflow models.Workflow

	err := r.store.read(id, &workflow)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrWorkflowNotFound
		}

		return nil, fmt.Errorf("failed to read workflow %s: %w", id, err)
	}

	return &workflow, nil
}

func (r *WorkflowRepository) Save(ctx context.Context, workflow *models.Workflow) error {
	return r.store.write(workflow.ID, workflow)
}

func (r *WorkflowRepository) Delete(ctx context.Context, id string) error {
	err := r.store.delete(id)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrWorkflowNotFound
		}

		return fmt.Errorf("failed to delete workflow %s: %w", id, err)
	}

	return nil
}

// EndpointRepository stores webhook endpoints as JSON documents.
type EndpointRepository struct {
	store *store
}

func (r *EndpointRepository) GetAll(ctx context.Context) ([]*models.WebhookEndpoint, error) {
	endpoints := make([]*models.WebhookEndpoint, 0)

	err := r.store.readAll(func(data []byte) error {
		var endpoint models.WebhookEndpoint
		if err := json.Unmarshal(data, &endpoint); err != nil {
			return fmt.Errorf("failed to unmarshal endpoint: %w", err)
		}

		if endpoint.Stats == nil {
			endpoint.Stats = models.NewDeliveryStats()
		}

		endpoints = append(endpoints, &endpoint)

		return nil
	})
	if err != nil {
		return nil, err
	}

	return endpoints, nil
}

func (r *EndpointRepository) GetByID(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	var endpoint models.WebhookEndpoint

	err := r.store.read(id, &endpoint)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrEndpointNotFound
		}

		return nil, fmt.Errorf("failed to read endpoint %s: %w", id, err)
	}

	if endpoint.Stats == nil {
		endpoint.Stats = models.NewDeliveryStats()
	}

	return &endpoint, nil
}

func (r *EndpointRepository) Save(ctx context.Context, endpoint *models.WebhookEndpoint) error {
	return r.store.write(endpoint.ID, endpoint)
}

func (r *EndpointRepository) Delete(ctx context.Context, id string) error {
	err := r.store.delete(id)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.ErrEndpointNotFound
		}

		return fmt.Errorf("failed to delete endpoint %s: %w", id, err)
	}

	return nil
}
