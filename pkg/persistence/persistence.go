// Package persistence provides the data storage abstraction for workflows,
// endpoints, tasks and deliveries.
package persistence

import (
	"context"
	"time"

	"github.com/kazihq/zapflow/pkg/models"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	EndpointRepository() EndpointRepository
	TaskRepository() TaskRepository
	DeliveryRepository() DeliveryRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	GetAll(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

type EndpointRepository interface {
	GetAll(ctx context.Context) ([]*models.WebhookEndpoint, error)
	GetByID(ctx context.Context, id string) (*models.WebhookEndpoint, error)
	Save(ctx context.Context, endpoint *models.WebhookEndpoint) error
	Delete(ctx context.Context, id string) error
}

// TaskFilter narrows task history queries. Zero values mean "no constraint".
type TaskFilter struct {
	WorkflowID string
	Status     models.TaskStatus
	From       time.Time // StartedAt >= From
	To         time.Time // StartedAt <= To
	Limit      int
}

// TaskRepository stores task history. Implementations only ever insert or
// replace whole task records keyed by task id; the append-only discipline
// (no cross-task mutation, idempotent step appends) lives in pkg/history.
type TaskRepository interface {
	GetByID(ctx context.Context, id string) (*models.Task, error)
	Save(ctx context.Context, task *models.Task) error
	// Query returns tasks ordered by started_at descending.
	Query(ctx context.Context, filter TaskFilter) ([]*models.Task, error)
}

type DeliveryRepository interface {
	GetByID(ctx context.Context, id string) (*models.Delivery, error)
	Save(ctx context.Context, delivery *models.Delivery) error
	// ListByEndpoint returns deliveries for an endpoint ordered by created_at
	// descending, optionally filtered by status.
	ListByEndpoint(ctx context.Context, endpointID string, status models.DeliveryStatus, limit int) ([]*models.Delivery, error)
}
