package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

// EndpointRepository handles webhook endpoint database operations. Delivery
// counters are persisted as plain columns; the in-memory DeliveryStats lock
// remains the single writer for a loaded endpoint.
type EndpointRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const endpointColumns = `
	id
  , name
  , url
  , secret
  , events
  , headers
  , status
  , retry_count
  , retry_delay_seconds
  , timeout_ms
  , verify_ssl
  , breaker_threshold
  , total_deliveries
  , successful_deliveries
  , failed_deliveries
  , consecutive_failures
  , last_triggered_at
  , created_at
  , updated_at
`

func (r *EndpointRepository) GetAll(ctx context.Context) ([]*models.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query endpoints: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	endpoints := make([]*models.WebhookEndpoint, 0)

	for rows.Next() {
		endpoint, err := scanEndpoint(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan endpoint: %w", err)
		}

		endpoints = append(endpoints, endpoint)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating endpoints: %w", err)
	}

	return endpoints, nil
}

func (r *EndpointRepository) GetByID(ctx context.Context, id string) (*models.WebhookEndpoint, error) {
	query := `SELECT ` + endpointColumns + ` FROM webhook_endpoints WHERE id = $1`

	endpoint, err := scanEndpoint(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrEndpointNotFound
		}

		return nil, fmt.Errorf("failed to scan endpoint: %w", err)
	}

	return endpoint, nil
}

func (r *EndpointRepository) Save(ctx context.Context, endpoint *models.WebhookEndpoint) error {
	events, err := json.Marshal(endpoint.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}

	headers, err := json.Marshal(endpoint.Headers)
	if err != nil {
		return fmt.Errorf("failed to marshal headers: %w", err)
	}

	stats := models.DeliveryStatsSnapshot{}
	if endpoint.Stats != nil {
		stats = endpoint.Stats.Snapshot()
	}

	query := `
		INSERT INTO webhook_endpoints (
			id, name, url, secret, events, headers, status, retry_count,
			retry_delay_seconds, timeout_ms, verify_ssl, breaker_threshold,
			total_deliveries, successful_deliveries, failed_deliveries,
			consecutive_failures, last_triggered_at, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			secret = EXCLUDED.secret,
			events = EXCLUDED.events,
			headers = EXCLUDED.headers,
			status = EXCLUDED.status,
			retry_count = EXCLUDED.retry_count,
			retry_delay_seconds = EXCLUDED.retry_delay_seconds,
			timeout_ms = EXCLUDED.timeout_ms,
			verify_ssl = EXCLUDED.verify_ssl,
			breaker_threshold = EXCLUDED.breaker_threshold,
			total_deliveries = EXCLUDED.total_deliveries,
			successful_deliveries = EXCLUDED.successful_deliveries,
			failed_deliveries = EXCLUDED.failed_deliveries,
			consecutive_failures = EXCLUDED.consecutive_failures,
			last_triggered_at = EXCLUDED.last_triggered_at,
			updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		endpoint.ID, endpoint.Name, endpoint.URL, endpoint.Secret, events,
		headers, endpoint.Status, endpoint.RetryCount, endpoint.RetryDelaySeconds,
		endpoint.TimeoutMs, endpoint.VerifySSL, endpoint.BreakerThreshold,
		stats.TotalDeliveries, stats.SuccessfulDeliveries, stats.FailedDeliveries,
		stats.ConsecutiveFailures, nullTime(endpoint.LastTriggeredAt),
		endpoint.CreatedAt, endpoint.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save endpoint %s: %w", endpoint.ID, err)
	}

	return nil
}

func (r *EndpointRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM webhook_endpoints WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete endpoint %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrEndpointNotFound
	}

	return nil
}

func scanEndpoint(row rowScanner) (*models.WebhookEndpoint, error) {
	var (
		endpoint        models.WebhookEndpoint
		events          []byte
		headers         []byte
		stats           models.DeliveryStats
		lastTriggeredAt sql.NullTime
	)

	err := row.Scan(
		&endpoint.ID, &endpoint.Name, &endpoint.URL, &endpoint.Secret, &events,
		&headers, &endpoint.Status, &endpoint.RetryCount, &endpoint.RetryDelaySeconds,
		&endpoint.TimeoutMs, &endpoint.VerifySSL, &endpoint.BreakerThreshold,
		&stats.TotalDeliveries, &stats.SuccessfulDeliveries, &stats.FailedDeliveries,
		&stats.ConsecutiveFailures, &lastTriggeredAt, &endpoint.CreatedAt, &endpoint.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(events, &endpoint.Events); err != nil {
		return nil, fmt.Errorf("failed to unmarshal events: %w", err)
	}

	if err := json.Unmarshal(headers, &endpoint.Headers); err != nil {
		return nil, fmt.Errorf("failed to unmarshal headers: %w", err)
	}

	endpoint.Stats = &stats

	if lastTriggeredAt.Valid {
		triggered := lastTriggeredAt.Time
		endpoint.LastTriggeredAt = &triggered
	}

	return &endpoint, nil
}
