package models

import (
	"sync"
	"time"
)

// EndpointStatus is the delivery eligibility of a webhook endpoint.
type EndpointStatus string

const (
	EndpointStatusActive EndpointStatus = "active"
	EndpointStatusPaused EndpointStatus = "paused"
)

// WebhookEndpoint is a registered delivery target. Endpoints are independent
// of any single workflow; several workflows may deliver to the same endpoint.
type WebhookEndpoint struct {
	ID                string            `json:"id"`
	Name              string            `json:"name" validate:"required"`
	URL               string            `json:"url"  validate:"required,url"`
	Secret            string            `json:"secret,omitempty"`
	Events            []string          `json:"events"` // subscribed event types, "*" = all
	Headers           map[string]string `json:"headers,omitempty"`
	Status            EndpointStatus    `json:"status"`
	RetryCount        int               `json:"retry_count"`
	RetryDelaySeconds int               `json:"retry_delay_seconds"`
	TimeoutMs         int               `json:"timeout_ms"`
	VerifySSL         bool              `json:"verify_ssl"`
	BreakerThreshold  int               `json:"breaker_threshold"`
	Stats             *DeliveryStats    `json:"stats"`
	LastTriggeredAt   *time.Time        `json:"last_triggered_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// SubscribedTo reports whether the endpoint receives the given event type.
func (e *WebhookEndpoint) SubscribedTo(eventType string) bool {
	for _, subscribed := range e.Events {
		if subscribed == "*" || subscribed == eventType {
			return true
		}
	}

	return false
}

// Timeout returns the per-attempt deadline.
func (e *WebhookEndpoint) Timeout() time.Duration {
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// RetryDelay returns the base backoff interval.
func (e *WebhookEndpoint) RetryDelay() time.Duration {
	return time.Duration(e.RetryDelaySeconds) * time.Second
}

// DeliveryStats holds the per-endpoint delivery counters. Each endpoint owns
// its stats record and guards it with its own lock, so concurrent deliveries
// to different endpoints never contend.
type DeliveryStats struct {
	mu sync.Mutex

	TotalDeliveries      int64 `json:"total_deliveries"`
	SuccessfulDeliveries int64 `json:"successful_deliveries"`
	FailedDeliveries     int64 `json:"failed_deliveries"`
	ConsecutiveFailures  int64 `json:"consecutive_failures"`
}

// NewDeliveryStats returns a zeroed stats record.
func NewDeliveryStats() *DeliveryStats {
	return &DeliveryStats{}
}

// RecordSuccess increments the totals and resets the consecutive failure
// counter.
func (s *DeliveryStats) RecordSuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalDeliveries++
	s.SuccessfulDeliveries++
	s.ConsecutiveFailures = 0
}

// RecordFailure increments the totals and returns the new consecutive failure
// count so the caller can apply the circuit breaker.
func (s *DeliveryStats) RecordFailure() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalDeliveries++
	s.FailedDeliveries++
	s.ConsecutiveFailures++

	return s.ConsecutiveFailures
}

// RecordRejected counts a delivery refused without a wire attempt, such as a
// send to a paused endpoint. The consecutive failure counter tracks wire
// failures only, so it is left alone.
func (s *DeliveryStats) RecordRejected() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.TotalDeliveries++
	s.FailedDeliveries++
}

// ResetConsecutiveFailures clears the breaker counter, used on manual or
// health-probe reactivation.
func (s *DeliveryStats) ResetConsecutiveFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.ConsecutiveFailures = 0
}

// DeliveryStatsSnapshot is a point-in-time copy of the counters.
type DeliveryStatsSnapshot struct {
	TotalDeliveries      int64 `json:"total_deliveries"`
	SuccessfulDeliveries int64 `json:"successful_deliveries"`
	FailedDeliveries     int64 `json:"failed_deliveries"`
	ConsecutiveFailures  int64 `json:"consecutive_failures"`
}

// Snapshot returns a copy of the counters without the lock.
func (s *DeliveryStats) Snapshot() DeliveryStatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	return DeliveryStatsSnapshot{
		TotalDeliveries:      s.TotalDeliveries,
		SuccessfulDeliveries: s.SuccessfulDeliveries,
		FailedDeliveries:     s.FailedDeliveries,
		ConsecutiveFailures:  s.ConsecutiveFailures,
	}
}
