// Package schedule provides a cron-based trigger source.
package schedule

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/kazihq/zapflow/pkg/eventbus"
	"github.com/kazihq/zapflow/pkg/events"
)

// Trigger fires a trigger event on a cron schedule.
type Trigger struct {
	ID        string
	CronExpr  string
	EventType string
	Data      map[string]any

	cron     *cron.Cron
	eventBus eventbus.EventBus
	logger   *slog.Logger
}

func NewTrigger(config map[string]any, eventBus eventbus.EventBus, logger *slog.Logger) (*Trigger, error) {
	id, _ := config["id"].(string)
	cronExpr, _ := config["cron"].(string)
	eventType, _ := config["event_type"].(string)
	data, _ := config["data"].(map[string]any)

	trigger := &Trigger{
		ID:        id,
		CronExpr:  cronExpr,
		EventType: eventType,
		Data:      data,
		eventBus:  eventBus,
		logger: logger.With(
			"module", "schedule_trigger",
			"id", id,
			"cron", cronExpr,
		),
	}

	if err := trigger.Validate(); err != nil {
		return nil, err
	}

	return trigger, nil
}

func (t *Trigger) Validate() error {
	if t.ID == "" {
		return errors.New("schedule trigger id is required")
	}

	if t.EventType == "" {
		return errors.New("schedule trigger event_type is required")
	}

	if t.CronExpr == "" {
		return errors.New("schedule trigger cron expression is required")
	}

	if _, err := cron.ParseStandard(t.CronExpr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}

	return nil
}

func (t *Trigger) Start(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Starting schedule trigger")

	t.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := t.cron.AddFunc(t.CronExpr, func() { t.Fire(context.Background()) }); err != nil {
		return fmt.Errorf("failed to add cron job for trigger %s: %w", t.ID, err)
	}

	t.cron.Start()

	return nil
}

// Fire publishes one trigger event. The cron scheduler calls this on every
// tick.
func (t *Trigger) Fire(ctx context.Context) {
	data := map[string]any{
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}

	for key, value := range t.Data {
		data[key] = value
	}

	event := events.TriggerFired{
		BaseEvent: events.NewBaseEvent(events.TriggerFiredEvent),
		EventType: t.EventType,
		Source:    "schedule",
		Data:      data,
	}

	if err := t.eventBus.Publish(ctx, t.ID, event); err != nil {
		t.logger.ErrorContext(ctx, "Failed to publish trigger event", "error", err)
	}
}

func (t *Trigger) Stop(ctx context.Context) error {
	t.logger.InfoContext(ctx, "Stopping schedule trigger")

	if t.cron != nil {
		t.cron.Stop()
	}

	return nil
}
