package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence"
)

// DeliveryRepository handles delivery attempt database operations.
type DeliveryRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

const deliveryColumns = `
	id
  , endpoint_id
  , event_type
  , payload
  , attempt_number
  , status
  , response_code
  , latency_ms
  , error
  , created_at
  , delivered_at
`

func (r *DeliveryRepository) GetByID(ctx context.Context, id string) (*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE id = $1`

	delivery, err := scanDelivery(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrDeliveryNotFound
		}

		return nil, fmt.Errorf("failed to scan delivery: %w", err)
	}

	return delivery, nil
}

func (r *DeliveryRepository) Save(ctx context.Context, delivery *models.Delivery) error {
	payload, err := json.Marshal(delivery.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO deliveries (
			id, endpoint_id, event_type, payload, attempt_number, status,
			response_code, latency_ms, error, created_at, delivered_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			attempt_number = EXCLUDED.attempt_number,
			status = EXCLUDED.status,
			response_code = EXCLUDED.response_code,
			latency_ms = EXCLUDED.latency_ms,
			error = EXCLUDED.error,
			delivered_at = EXCLUDED.delivered_at
	`

	_, err = r.db.ExecContext(ctx, query,
		delivery.ID, delivery.EndpointID, delivery.EventType, payload,
		delivery.AttemptNumber, delivery.Status, delivery.ResponseCode,
		delivery.LatencyMs, delivery.Error, delivery.CreatedAt,
		nullTime(delivery.DeliveredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save delivery %s: %w", delivery.ID, err)
	}

	return nil
}

func (r *DeliveryRepository) ListByEndpoint(ctx context.Context, endpointID string, status models.DeliveryStatus, limit int) ([]*models.Delivery, error) {
	query := `SELECT ` + deliveryColumns + ` FROM deliveries WHERE endpoint_id = $1`
	args := []any{endpointID}

	if status != "" {
		args = append(args, status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}

	query += ` ORDER BY created_at DESC`

	if limit > 0 {
		args = append(args, limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deliveries: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	deliveries := make([]*models.Delivery, 0)

	for rows.Next() {
		delivery, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery: %w", err)
		}

		deliveries = append(deliveries, delivery)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deliveries: %w", err)
	}

	return deliveries, nil
}

func scanDelivery(row rowScanner) (*models.Delivery, error) {
	var (
		delivery     models.Delivery
		payload      []byte
		responseCode sql.NullInt32
		latencyMs    sql.NullInt64
		deliveredAt  sql.NullTime
	)

	err := row.Scan(
		&delivery.ID, &delivery.EndpointID, &delivery.EventType, &payload,
		&delivery.AttemptNumber, &delivery.Status, &responseCode, &latencyMs,
		&delivery.Error, &delivery.CreatedAt, &deliveredAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(payload, &delivery.Payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	if responseCode.Valid {
		code := int(responseCode.Int32)
		delivery.ResponseCode = &code
	}

	if latencyMs.Valid {
		latency := latencyMs.Int64
		delivery.LatencyMs = &latency
	}

	if deliveredAt.Valid {
		delivered := deliveredAt.Time
		delivery.DeliveredAt = &delivered
	}

	return &delivery, nil
}
