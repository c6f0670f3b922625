package models

import "time"

// DeliveryStatus tracks an outbound webhook delivery through its attempts.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRetrying  DeliveryStatus = "retrying"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Delivery is one attempt series to send a payload to a webhook endpoint. It
// is owned by the delivery subsystem; step results reference it by ID only.
// Receivers can dedupe on the delivery ID since delivery is at-least-once.
type Delivery struct {
	ID            string         `json:"id"`
	EndpointID    string         `json:"endpoint_id"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	AttemptNumber int            `json:"attempt_number"`
	Status        DeliveryStatus `json:"status"`
	ResponseCode  *int           `json:"response_code,omitempty"`
	LatencyMs     *int64         `json:"latency_ms,omitempty"`
	Error         string         `json:"error,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	DeliveredAt   *time.Time     `json:"delivered_at,omitempty"`
}
