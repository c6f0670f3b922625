package delivery_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazihq/zapflow/pkg/delivery"
	"github.com/kazihq/zapflow/pkg/events"
	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/persistence/file"
	"github.com/kazihq/zapflow/pkg/testutil"
)

func newTestDeliverer(t *testing.T, bus *testutil.RecordingBus) (*delivery.Deliverer, *file.Persistence) {
	t.Helper()

	p := file.NewPersistence(t.TempDir())

	return delivery.NewDeliverer(p.EndpointRepository(), p.DeliveryRepository(), bus, slog.Default()), p
}

func saveEndpoint(t *testing.T, p *file.Persistence, endpoint *models.WebhookEndpoint) {
	t.Helper()

	require.NoError(t, p.EndpointRepository().Save(context.Background(), endpoint))
}

func TestDeliverSignsAndDelivers(t *testing.T) {
	var (
		receivedBody      []byte
		receivedSignature string
		receivedHeader    string
	)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedBody, _ = io.ReadAll(r.Body)
		receivedSignature = r.Header.Get(delivery.SignatureHeader)
		receivedHeader = r.Header.Get("X-Custom")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	bus := testutil.NewRecordingBus()
	deliverer, p := newTestDeliverer(t, bus)

	endpoint := testutil.CreateTestEndpoint(server.URL, func(e *models.WebhookEndpoint) {
		e.Headers = map[string]string{"X-Custom": "custom-value"}
	})
	saveEndpoint(t, p, endpoint)

	record, err := deliverer.Deliver(context.Background(), endpoint, "task.completed", map[string]any{"task_id": "t-1"})
	require.NoError(t, err)

	assert.Equal(t, models.DeliveryStatusDelivered, record.Status)
	assert.Equal(t, 1, record.AttemptNumber)
	require.NotNil(t, record.ResponseCode)
	assert.Equal(t, http.StatusOK, *record.ResponseCode)
	assert.NotNil(t, record.DeliveredAt)

	assert.True(t, delivery.VerifySignature(endpoint.Secret, receivedBody, receivedSignature))
	assert.Equal(t, "custom-value", receivedHeader)
	assert.Contains(t, string(receivedBody), `"event":"task.completed"`)
	assert.Contains(t, string(receivedBody), record.ID)

	stats := endpoint.Stats.Snapshot()
	assert.Equal(t, int64(1), stats.TotalDeliveries)
	assert.Equal(t, int64(1), stats.SuccessfulDeliveries)
	assert.NotNil(t, endpoint.LastTriggeredAt)

	require.Len(t, bus.EventsOfType(events.DeliveryCompletedEvent), 1)
}

func TestDeliverRetriesTransientFailures(t *testing.T) {
	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		if requests < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	deliverer, p := newTestDeliverer(t, testutil.NewRecordingBus())
	endpoint := testutil.CreateTestEndpoint(server.URL)
	saveEndpoint(t, p, endpoint)

	record, err := deliverer.Deliver(context.Background(), endpoint, "task.completed", nil)
	require.NoError(t, err)

	assert.Equal(t, models.DeliveryStatusDelivered, record.Status)
	assert.Equal(t, 3, record.AttemptNumber)
	assert.Equal(t, 3, requests)

	// Success resets the breaker counter.
	assert.Equal(t, int64(0), endpoint.Stats.Snapshot().ConsecutiveFailures)
}

func TestDeliverDoesNotRetryPermanentFailures(t *testing.T) {
	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	deliverer, p := newTestDeliverer(t, testutil.NewRecordingBus())
	endpoint := testutil.CreateTestEndpoint(server.URL)
	saveEndpoint(t, p, endpoint)

	record, err := deliverer.Deliver(context.Background(), endpoint, "task.completed", nil)
	require.Error(t, err)
	assert.True(t, delivery.IsPermanent(err))

	assert.Equal(t, models.DeliveryStatusFailed, record.Status)
	assert.Equal(t, 1, record.AttemptNumber)
	assert.Equal(t, 1, requests)
}

func TestDeliverExhaustsRetriesOnTransientFailures(t *testing.T) {
	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	deliverer, p := newTestDeliverer(t, testutil.NewRecordingBus())

	endpoint := testutil.CreateTestEndpoint(server.URL, func(e *models.WebhookEndpoint) {
		e.RetryCount = 2
		e.BreakerThreshold = 10
	})
	saveEndpoint(t, p, endpoint)

	record, err := deliverer.Deliver(context.Background(), endpoint, "task.completed", nil)
	require.Error(t, err)
	assert.True(t, delivery.IsTransient(err))

	assert.Equal(t, models.DeliveryStatusFailed, record.Status)
	assert.Equal(t, 3, record.AttemptNumber)
	assert.Equal(t, 3, requests)
	assert.Equal(t, int64(1), endpoint.Stats.Snapshot().ConsecutiveFailures)
}

func TestBreakerTripsAndProbeResets(t *testing.T) {
	var healthy bool

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if healthy {
			w.WriteHeader(http.StatusOK)

			return
		}

		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	bus := testutil.NewRecordingBus()
	deliverer, p := newTestDeliverer(t, bus)

	endpoint := testutil.CreateTestEndpoint(server.URL)
	saveEndpoint(t, p, endpoint)

	// Three permanent failures in a row trip the breaker.
	for i := 0; i < 3; i++ {
		_, err := deliverer.Deliver(context.Background(), endpoint, "task.completed", nil)
		require.Error(t, err)
	}

	assert.Equal(t, models.EndpointStatusPaused, endpoint.Status)
	assert.Equal(t, int64(3), endpoint.Stats.Snapshot().ConsecutiveFailures)
	require.Len(t, bus.EventsOfType(events.EndpointTrippedEvent), 1)

	tripped, ok := bus.EventsOfType(events.EndpointTrippedEvent)[0].(events.EndpointTripped)
	require.True(t, ok)
	assert.Equal(t, endpoint.ID, tripped.EndpointID)
	assert.Equal(t, int64(3), tripped.ConsecutiveFailures)

	// Paused endpoint: delivery fails without touching the wire.
	record, err := deliverer.Deliver(context.Background(), endpoint, "task.completed", nil)
	require.Error(t, err)
	assert.True(t, delivery.IsEndpointPaused(err))
	assert.Equal(t, models.DeliveryStatusFailed, record.Status)
	assert.Equal(t, 0, record.AttemptNumber)

	// The rejected delivery counts toward the totals but not the breaker.
	stats := endpoint.Stats.Snapshot()
	assert.Equal(t, int64(4), stats.TotalDeliveries)
	assert.Equal(t, int64(4), stats.FailedDeliveries)
	assert.Equal(t, int64(3), stats.ConsecutiveFailures)

	// A successful probe reactivates the endpoint and resets the counter.
	healthy = true

	probe, err := deliverer.Test(context.Background(), endpoint)
	require.NoError(t, err)
	assert.Equal(t, models.DeliveryStatusDelivered, probe.Status)
	assert.Equal(t, models.EndpointStatusActive, endpoint.Status)
	assert.Equal(t, int64(0), endpoint.Stats.Snapshot().ConsecutiveFailures)

	saved, err := p.EndpointRepository().GetByID(context.Background(), endpoint.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EndpointStatusActive, saved.Status)
}

func TestBreakerCountsConcurrentFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	bus := testutil.NewRecordingBus()
	deliverer, p := newTestDeliverer(t, bus)

	endpoint := testutil.CreateTestEndpoint(server.URL, func(e *models.WebhookEndpoint) {
		e.RetryCount = 0
		e.BreakerThreshold = 5
	})
	saveEndpoint(t, p, endpoint)

	// Each delivery works from its own loaded copy, the way concurrent tasks
	// reach the same endpoint.
	copies := make([]*models.WebhookEndpoint, 5)
	for i := range copies {
		loaded, err := p.EndpointRepository().GetByID(context.Background(), endpoint.ID)
		require.NoError(t, err)
		copies[i] = loaded
	}

	var wg sync.WaitGroup
	for _, loaded := range copies {
		wg.Add(1)

		go func(e *models.WebhookEndpoint) {
			defer wg.Done()

			_, err := deliverer.Deliver(context.Background(), e, "task.completed", nil)
			assert.Error(t, err)
		}(loaded)
	}

	wg.Wait()

	// No increment is lost: the stored counters see all five failures and
	// the breaker trips exactly at the threshold.
	stored, err := p.EndpointRepository().GetByID(context.Background(), endpoint.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EndpointStatusPaused, stored.Status)

	stats := stored.Stats.Snapshot()
	assert.Equal(t, int64(5), stats.TotalDeliveries)
	assert.Equal(t, int64(5), stats.FailedDeliveries)
	assert.Equal(t, int64(5), stats.ConsecutiveFailures)

	require.Len(t, bus.EventsOfType(events.EndpointTrippedEvent), 1)
}

func TestDeliverRecordsAttemptsInHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	deliverer, p := newTestDeliverer(t, testutil.NewRecordingBus())
	endpoint := testutil.CreateTestEndpoint(server.URL)
	saveEndpoint(t, p, endpoint)

	record, err := deliverer.Deliver(context.Background(), endpoint, "task.completed", map[string]any{"n": float64(1)})
	require.NoError(t, err)

	listed, err := p.DeliveryRepository().ListByEndpoint(context.Background(), endpoint.ID, "", 0)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, record.ID, listed[0].ID)
	assert.Equal(t, models.DeliveryStatusDelivered, listed[0].Status)
}
