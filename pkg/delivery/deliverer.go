// Package delivery sends signed webhook payloads to registered endpoints with
// retries, backoff and a per-endpoint circuit breaker.
package delivery

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/events"
	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

var (
	// ErrEndpointPaused is returned when delivery is requested for a paused
	// endpoint. No HTTP request is made.
	ErrEndpointPaused = errors.New("endpoint is paused")
	// ErrTransient marks failures worth retrying: network errors, timeouts,
	// 5xx, 408 and 429 responses.
	ErrTransient = errors.New("transient delivery failure")
	// ErrPermanent marks failures that retrying cannot fix, such as 4xx
	// responses other than 408 and 429.
	ErrPermanent = errors.New("permanent delivery failure")
)

func IsEndpointPaused(err error) bool { return errors.Is(err, ErrEndpointPaused) }

func IsTransient(err error) bool { return errors.Is(err, ErrTransient) }

func IsPermanent(err error) bool { return errors.Is(err, ErrPermanent) }

// TestEventType is the event type used for synthetic test deliveries.
const TestEventType = "endpoint.test"

const (
	maxBackoff       = 5 * time.Minute
	maxResponseBytes = 64 * 1024
)

// Envelope is the wire format posted to endpoints. Receivers can dedupe on
// the envelope ID since delivery is at-least-once.
type Envelope struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data"`
}

// Deliverer owns outbound webhook traffic: it signs payloads, applies the
// endpoint's retry policy and maintains the per-endpoint delivery stats and
// circuit breaker.
type Deliverer struct {
	endpoints      persistence.EndpointRepository
	deliveries     persistence.DeliveryRepository
	eventBus       eventbus.EventBus
	logger         *slog.Logger
	client         *http.Client
	insecureClient *http.Client

	// statsLocks serializes counter updates per endpoint so concurrent
	// deliveries cannot lose increments.
	statsMu    sync.Mutex
	statsLocks map[string]*sync.Mutex
}

func NewDeliverer(
	endpoints persistence.EndpointRepository,
	deliveries persistence.DeliveryRepository,
	eventBus eventbus.EventBus,
	logger *slog.Logger,
) *Deliverer {
	return &Deliverer{
		endpoints:  endpoints,
		deliveries: deliveries,
		eventBus:   eventBus,
		logger:     logger.With("module", "delivery"),
		client:     &http.Client{},
		insecureClient: &http.Client{
			Transport: &http.Transport{
				TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // endpoint opted out of verification
			},
		},
		statsLocks: make(map[string]*sync.Mutex),
	}
}

// Deliver sends one event to the endpoint, retrying transient failures per
// the endpoint's retry policy. The returned Delivery records the final
// outcome; a non-nil error means the delivery ultimately failed.
func (d *Deliverer) Deliver(ctx context.Context, endpoint *models.WebhookEndpoint, eventType string, data map[string]any) (*models.Delivery, error) {
	return d.deliver(ctx, endpoint, eventType, data, false)
}

// Test sends a synthetic delivery through the same path as real traffic. A
// successful probe reactivates a tripped endpoint and resets its breaker.
func (d *Deliverer) Test(ctx context.Context, endpoint *models.WebhookEndpoint) (*models.Delivery, error) {
	return d.deliver(ctx, endpoint, TestEventType, map[string]any{"test": true}, true)
}

func (d *Deliverer) deliver(ctx context.Context, endpoint *models.WebhookEndpoint, eventType string, data map[string]any, probe bool) (*models.Delivery, error) {
	record := &models.Delivery{
		ID:         uuid.Must(uuid.NewV7()).String(),
		EndpointID: endpoint.ID,
		EventType:  eventType,
		Payload:    data,
		Status:     models.DeliveryStatusPending,
		CreatedAt:  time.Now().UTC(),
	}

	if endpoint.Status != models.EndpointStatusActive && !probe {
		record.Status = models.DeliveryStatusFailed
		record.Error = ErrEndpointPaused.Error()

		// A rejected delivery counts toward the totals; only wire failures
		// drive the breaker's consecutive counter.
		if err := d.updateEndpoint(ctx, endpoint, func(stored *models.WebhookEndpoint) {
			stored.Stats.RecordRejected()
		}); err != nil {
			return nil, err
		}

		if err := d.deliveries.Save(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to save delivery record: %w", err)
		}

		return record, fmt.Errorf("endpoint %s: %w", endpoint.ID, ErrEndpointPaused)
	}

	body, err := json.Marshal(Envelope{
		ID:        record.ID,
		Event:     eventType,
		Timestamp: record.CreatedAt,
		Data:      data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}

	signature := Sign(endpoint.Secret, body)

	attempts := endpoint.RetryCount + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error

	for attempt := 1; attempt <= attempts; attempt++ {
		record.AttemptNumber = attempt

		code, latency, attemptErr := d.attempt(ctx, endpoint, body, signature)
		if code > 0 {
			record.ResponseCode = &code
		}

		record.LatencyMs = &latency

		if attemptErr == nil {
			return record, d.finishSuccess(ctx, endpoint, record, probe)
		}

		lastErr = attemptErr

		d.logger.WarnContext(ctx, "Delivery attempt failed",
			"delivery_id", record.ID, "endpoint_id", endpoint.ID,
			"attempt", attempt, "error", attemptErr)

		if IsPermanent(attemptErr) || attempt == attempts {
			break
		}

		record.Status = models.DeliveryStatusRetrying
		if err := d.deliveries.Save(ctx, record); err != nil {
			return nil, fmt.Errorf("failed to save delivery record: %w", err)
		}

		if err := sleep(ctx, backoff(endpoint.RetryDelay(), attempt)); err != nil {
			lastErr = fmt.Errorf("delivery interrupted: %w", err)

			break
		}
	}

	return record, d.finishFailure(ctx, endpoint, record, lastErr)
}

// attempt performs a single HTTP POST within the endpoint's timeout.
func (d *Deliverer) attempt(ctx context.Context, endpoint *models.WebhookEndpoint, body []byte, signature string) (int, int64, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, endpoint.Timeout())
	defer cancel()

	request, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, endpoint.URL, bytes.NewReader(body))
	if err != nil {
		return 0, 0, fmt.Errorf("failed to build request: %w", err)
	}

	request.Header.Set("Content-Type", "application/json")
	request.Header.Set(SignatureHeader, signature)

	for name, value := range endpoint.Headers {
		request.Header.Set(name, value)
	}

	client := d.client
	if !endpoint.VerifySSL {
		client = d.insecureClient
	}

	start := time.Now()

	response, err := client.Do(request)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return 0, latency, fmt.Errorf("request failed: %v: %w", err, ErrTransient)
	}

	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, maxResponseBytes))
		_ = response.Body.Close()
	}()

	if response.StatusCode >= 200 && response.StatusCode < 300 {
		return response.StatusCode, latency, nil
	}

	if transientStatus(response.StatusCode) {
		return response.StatusCode, latency, fmt.Errorf("endpoint returned status %d: %w", response.StatusCode, ErrTransient)
	}

	return response.StatusCode, latency, fmt.Errorf("endpoint returned status %d: %w", response.StatusCode, ErrPermanent)
}

func (d *Deliverer) finishSuccess(ctx context.Context, endpoint *models.WebhookEndpoint, record *models.Delivery, probe bool) error {
	now := time.Now().UTC()
	record.Status = models.DeliveryStatusDelivered
	record.DeliveredAt = &now

	err := d.updateEndpoint(ctx, endpoint, func(stored *models.WebhookEndpoint) {
		stored.Stats.RecordSuccess()
		stored.LastTriggeredAt = &now

		if probe && stored.Status == models.EndpointStatusPaused {
			stored.Status = models.EndpointStatusActive

			d.logger.InfoContext(ctx, "Endpoint reactivated by successful probe", "endpoint_id", stored.ID)
		}
	})
	if err != nil {
		return err
	}

	if err := d.deliveries.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save delivery record: %w", err)
	}

	d.publishCompleted(ctx, record)

	return nil
}

func (d *Deliverer) finishFailure(ctx context.Context, endpoint *models.WebhookEndpoint, record *models.Delivery, cause error) error {
	now := time.Now().UTC()
	record.Status = models.DeliveryStatusFailed
	record.Error = cause.Error()

	var (
		consecutive int64
		threshold   int
		tripped     bool
	)

	err := d.updateEndpoint(ctx, endpoint, func(stored *models.WebhookEndpoint) {
		consecutive = stored.Stats.RecordFailure()
		stored.LastTriggeredAt = &now
		threshold = stored.BreakerThreshold

		tripped = threshold > 0 &&
			consecutive >= int64(threshold) &&
			stored.Status == models.EndpointStatusActive

		if tripped {
			stored.Status = models.EndpointStatusPaused

			d.logger.WarnContext(ctx, "Endpoint circuit breaker tripped",
				"endpoint_id", stored.ID, "consecutive_failures", consecutive,
				"threshold", threshold)
		}
	})
	if err != nil {
		return err
	}

	if err := d.deliveries.Save(ctx, record); err != nil {
		return fmt.Errorf("failed to save delivery record: %w", err)
	}

	if tripped {
		event := events.EndpointTripped{
			BaseEvent:           events.NewBaseEvent(events.EndpointTrippedEvent),
			EndpointID:          endpoint.ID,
			ConsecutiveFailures: consecutive,
			Threshold:           threshold,
		}
		if err := d.eventBus.Publish(ctx, endpoint.ID, event); err != nil {
			d.logger.ErrorContext(ctx, "Failed to publish endpoint tripped event", "endpoint_id", endpoint.ID, "error", err)
		}
	}

	d.publishCompleted(ctx, record)

	return fmt.Errorf("delivery %s failed after %d attempts: %w", record.ID, record.AttemptNumber, cause)
}

// updateEndpoint applies mutate to the stored endpoint under a per-endpoint
// lock. Counters accumulate on the persisted record, never on the caller's
// loaded copy, so concurrent deliveries from different tasks cannot lose
// increments. The caller's copy is refreshed with the stored state.
func (d *Deliverer) updateEndpoint(ctx context.Context, endpoint *models.WebhookEndpoint, mutate func(*models.WebhookEndpoint)) error {
	lock := d.lockFor(endpoint.ID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := d.endpoints.GetByID(ctx, endpoint.ID)
	if err != nil {
		return fmt.Errorf("failed to load endpoint %s: %w", endpoint.ID, err)
	}

	if stored.Stats == nil {
		stored.Stats = models.NewDeliveryStats()
	}

	mutate(stored)
	stored.UpdatedAt = time.Now().UTC()

	if err := d.endpoints.Save(ctx, stored); err != nil {
		return fmt.Errorf("failed to save endpoint: %w", err)
	}

	endpoint.Status = stored.Status
	endpoint.Stats = stored.Stats
	endpoint.LastTriggeredAt = stored.LastTriggeredAt
	endpoint.UpdatedAt = stored.UpdatedAt

	return nil
}

func (d *Deliverer) lockFor(endpointID string) *sync.Mutex {
	d.statsMu.Lock()
	defer d.statsMu.Unlock()

	lock, ok := d.statsLocks[endpointID]
	if !ok {
		lock = &sync.Mutex{}
		d.statsLocks[endpointID] = lock
	}

	return lock
}

func (d *Deliverer) publishCompleted(ctx context.Context, record *models.Delivery) {
	event := events.DeliveryCompleted{
		BaseEvent:    events.NewBaseEvent(events.DeliveryCompletedEvent),
		DeliveryID:   record.ID,
		EndpointID:   record.EndpointID,
		Status:       record.Status,
		Attempts:     record.AttemptNumber,
		ResponseCode: record.ResponseCode,
	}

	if err := d.eventBus.Publish(ctx, record.EndpointID, event); err != nil {
		d.logger.ErrorContext(ctx, "Failed to publish delivery completed event", "delivery_id", record.ID, "error", err)
	}
}

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

// backoff doubles the base delay per attempt, capped at maxBackoff.
func backoff(base time.Duration, attempt int) time.Duration {
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxBackoff {
			return maxBackoff
		}
	}

	if delay > maxBackoff {
		return maxBackoff
	}

	return delay
}

func sleep(ctx context.Context, duration time.Duration) error {
	timer := time.NewTimer(duration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
