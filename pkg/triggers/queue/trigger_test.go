package queue_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazihq/zapflow/pkg/testutil"
	"github.com/kazihq/zapflow/pkg/triggers/queue"
)

func TestNewTriggerValidates(t *testing.T) {
	bus := testutil.NewRecordingBus()

	_, err := queue.NewTrigger(map[string]any{"event_type": "order.created"}, bus, slog.Default())
	require.Error(t, err)

	_, err = queue.NewTrigger(map[string]any{"queue": "orders"}, bus, slog.Default())
	require.Error(t, err)

	trigger, err := queue.NewTrigger(map[string]any{
		"queue":      "orders",
		"event_type": "order.created",
		"connection": map[string]any{"addr": "redis.internal:6379", "db": "2"},
	}, bus, slog.Default())
	require.NoError(t, err)
	assert.Equal(t, "redis.internal:6379", trigger.Addr)
	assert.Equal(t, 2, trigger.DB)
}

func TestNewTriggerRejectsBadDB(t *testing.T) {
	bus := testutil.NewRecordingBus()

	_, err := queue.NewTrigger(map[string]any{
		"queue":      "orders",
		"event_type": "order.created",
		"connection": map[string]any{"db": "two"},
	}, bus, slog.Default())
	require.Error(t, err)
}

func TestDecodeMessageWithEnvelope(t *testing.T) {
	raw := `{"event_type":"order.created","source":"shop","data":{"order_id":"o-1"}}`

	event := queue.DecodeMessage(raw, "queue.message")

	assert.Equal(t, "order.created", event.EventType)
	assert.Equal(t, "shop", event.Source)
	assert.Equal(t, "o-1", event.Data["order_id"])
}

func TestDecodeMessageFallsBackToOpaqueData(t *testing.T) {
	event := queue.DecodeMessage("plain text payload", "queue.message")

	assert.Equal(t, "queue.message", event.EventType)
	assert.Equal(t, "queue", event.Source)
	assert.Equal(t, "plain text payload", event.Data["message"])
	assert.NotEmpty(t, event.Data["timestamp"])
}
