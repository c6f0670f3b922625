package services

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kazihq/zapflow/pkg/delivery"
	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

// Endpoint defaults applied at registration.
const (
	defaultRetryCount        = 3
	defaultRetryDelaySeconds = 5
	defaultTimeoutMs         = 10000
	defaultBreakerThreshold  = 5
)

// EndpointService manages webhook endpoint registration and health.
type EndpointService struct {
	endpoints  persistence.EndpointRepository
	deliveries persistence.DeliveryRepository
	deliverer  *delivery.Deliverer
	logger     *slog.Logger
}

func NewEndpointService(
	endpoints persistence.EndpointRepository,
	deliveries persistence.DeliveryRepository,
	deliverer *delivery.Deliverer,
	logger *slog.Logger,
) *EndpointService {
	return &EndpointService{
		endpoints:  endpoints,
		deliveries: deliveries,
		deliverer:  deliverer,
		logger:     logger.With("module", "endpoint_service"),
	}
}

func (s *EndpointService) List(ctx context.Context) ([]*models.WebhookEndpoint, error) {
	return s.endpoints.GetAll(ctx)
}

func (s *EndpointService) Get(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	return s.endpoints.GetByID(ctx, id)
}

// Register stores a new endpoint with defaults applied. A signing secret is
// generated when none is supplied.
func (s *EndpointService) Register(ctx context.Context, endpoint *models.WebhookEndpoint) (*models.WebhookEndpoint, error) {
	if endpoint.Name == "" {
		return nil, ErrEndpointNameRequired
	}

	if endpoint.URL == "" {
		return nil, ErrEndpointURLRequired
	}

	if endpoint.ID == "" {
		endpoint.ID = uuid.Must(uuid.NewV7()).String()
	}

	if endpoint.Secret == "" {
		secret, err := generateSecret()
		if err != nil {
			return nil, fmt.Errorf("failed to generate secret: %w", err)
		}

		endpoint.Secret = secret
	}

	if len(endpoint.Events) == 0 {
		endpoint.Events = []string{"*"}
	}

	if endpoint.Status == "" {
		endpoint.Status = models.EndpointStatusActive
	}

	if endpoint.RetryCount == 0 {
		endpoint.RetryCount = defaultRetryCount
	}

	if endpoint.RetryDelaySeconds == 0 {
		endpoint.RetryDelaySeconds = defaultRetryDelaySeconds
	}

	if endpoint.TimeoutMs == 0 {
		endpoint.TimeoutMs = defaultTimeoutMs
	}

	if endpoint.BreakerThreshold == 0 {
		endpoint.BreakerThreshold = defaultBreakerThreshold
	}

	endpoint.Stats = models.NewDeliveryStats()

	now := time.Now().UTC()
	endpoint.CreatedAt = now
	endpoint.UpdatedAt = now

	if err := s.endpoints.Save(ctx, endpoint); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Registered webhook endpoint", "endpoint_id", endpoint.ID, "url", endpoint.URL)

	return endpoint, nil
}

// SetStatus manually activates or pauses an endpoint. Manual reactivation
// clears the breaker counter so deliveries get a clean slate.
func (s *EndpointService) SetStatus(ctx context.Context, id string, status models.EndpointStatus) (*models.WebhookEndpoint, error) {
	if status != models.EndpointStatusActive && status != models.EndpointStatusPaused {
		return nil, fmt.Errorf("status %q: %w", status, ErrEndpointStatusInvalid)
	}

	endpoint, err := s.endpoints.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	endpoint.Status = status
	endpoint.UpdatedAt = time.Now().UTC()

	if status == models.EndpointStatusActive && endpoint.Stats != nil {
		endpoint.Stats.ResetConsecutiveFailures()
	}

	if err := s.endpoints.Save(ctx, endpoint); err != nil {
		return nil, err
	}

	return endpoint, nil
}

// Test sends a synthetic delivery through the real delivery path.
func (s *EndpointService) Test(ctx context.Context, id string) (*models.Delivery, error) {
	endpoint, err := s.endpoints.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.deliverer.Test(ctx, endpoint)
}

func (s *EndpointService) Delete(ctx context.Context, id string) error {
	return s.endpoints.Delete(ctx, id)
}

// Deliveries lists an endpoint's delivery history, newest first.
func (s *EndpointService) Deliveries(ctx context.Context, id string, status models.DeliveryStatus, limit int) ([]*models.Delivery, error) {
	if _, err := s.endpoints.GetByID(ctx, id); err != nil {
		return nil, err
	}

	return s.deliveries.ListByEndpoint(ctx, id, status, limit)
}

// generateSecret returns a fresh webhook signing secret.
func generateSecret() (string, error) {
	raw := make([]byte, 24)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	return "whsec_" + hex.EncodeToString(raw), nil
}
