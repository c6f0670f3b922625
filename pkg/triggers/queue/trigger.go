// Package queue provides a Redis list backed trigger source. External systems
// push JSON messages onto a list; each message becomes a trigger event.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"

	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/events"
)

const popTimeout = 1 * time.Second

// Trigger consumes trigger messages from a Redis list.
type Trigger struct {
	Addr             string
	Password         string
	DB               int
	Queue            string
	DefaultEventType string

	client   redis.UniversalClient
	eventBus eventbus.EventBus
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewTrigger(config map[string]any, eventBus eventbus.EventBus, logger *slog.Logger) (*Trigger, error) {
	queue, _ := config["queue"].(string)
	defaultEventType, _ := config["event_type"].(string)

	connection, _ := config["connection"].(map[string]any)
	addr, _ := connection["addr"].(string)
	password, _ := connection["password"].(string)

	if addr == "" {
		addr = "localhost:6379"
	}

	db := 0

	if raw, ok := connection["db"].(string); ok && raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid db value: %w", err)
		}

		db = parsed
	}

	trigger := &Trigger{
		Addr:             addr,
		Password:         password,
		DB:               db,
		Queue:            queue,
		DefaultEventType: defaultEventType,
		eventBus:         eventBus,
		stopCh:           make(chan struct{}),
		logger: logger.With(
			"module", "queue_trigger",
			"queue", queue,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.Queue == "" {
		return errors.New("queue trigger queue name is required")
	}

	if t.DefaultEventType == "" {
		return errors.New("queue trigger event_type is required")
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Starting queue trigger")

	t.client = redis.NewClient(&redis.Options{
		Addr:     t.Addr,
		Password: t.Password,
		DB:       t.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := t.client.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	t.wg.Add(1)

	go t.consume(ctx)

	return nil
}

func (t *Trigger) consume(ctx context.Context) {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopCh:
			t.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			return
		default:
			if err := t.processMessage(ctx); err != nil {
				t.logger.ErrorContext(ctx, "Error processing message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (t *Trigger) processMessage(ctx context.Context) error {
	result, err := t.client.BLPop(ctx, popTimeout, t.Queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) || errors.Is(err, context.Canceled) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	event := DecodeMessage(result[1], t.DefaultEventType)

	if err := t.eventBus.Publish(ctx, t.Queue, event); err != nil {
		return fmt.Errorf("failed to publish trigger event: %w", err)
	}

	return nil
}

// DecodeMessage turns a raw queue message into a trigger event. Messages are
// expected to carry an envelope with event_type, source and data; anything
// else is wrapped as opaque data under the default event type.
func DecodeMessage(raw string, defaultEventType string) events.TriggerFired {
	var envelope struct {
		EventType string         `json:"event_type"`
		Source    string         `json:"source"`
		Data      map[string]any `json:"data"`
	}

	event := events.TriggerFired{
		BaseEvent: events.NewBaseEvent(events.TriggerFiredEvent),
		EventType: defaultEventType,
		Source:    "queue",
	}

	if err := json.Unmarshal([]byte(raw), &envelope); err != nil || envelope.EventType == "" {
		event.Data = map[string]any{
			"message":   raw,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}

		return event
	}

	event.EventType = envelope.EventType

	if envelope.Source != "" {
		event.Source = envelope.Source
	}

	event.Data = envelope.Data

	return event
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping queue trigger")

	close(t.stopCh)
	t.wg.Wait()

	if t.client != nil {
		if err := t.client.Close(); err != nil {
			t.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
		}
	}

	return nil
}
