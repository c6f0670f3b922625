package services_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazihq/zapflow/pkg/models"
	"github.com/kazihq/zapflow/pkg/services"
)

func TestEndpointServiceRegisterAppliesDefaults(t *testing.T) {
	f := newFixture(t)

	registered, err := f.endpoints.Register(context.Background(), &models.WebhookEndpoint{
		Name: "billing",
		URL:  "https://billing.example.com/hooks",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, registered.ID)
	assert.True(t, strings.HasPrefix(registered.Secret, "whsec_"))
	assert.Equal(t, []string{"*"}, registered.Events)
	assert.Equal(t, models.EndpointStatusActive, registered.Status)
	assert.Equal(t, 3, registered.RetryCount)
	assert.Equal(t, 5, registered.RetryDelaySeconds)
	assert.Equal(t, 10000, registered.TimeoutMs)
	assert.Equal(t, 5, registered.BreakerThreshold)
	require.NotNil(t, registered.Stats)

	stored, err := f.endpoints.Get(context.Background(), registered.ID)
	require.NoError(t, err)
	assert.Equal(t, registered.Secret, stored.Secret)
}

func TestEndpointServiceRegisterKeepsSuppliedSettings(t *testing.T) {
	f := newFixture(t)

	registered, err := f.endpoints.Register(context.Background(), &models.WebhookEndpoint{
		Name:             "billing",
		URL:              "https://billing.example.com/hooks",
		Secret:           "whsec_custom",
		Events:           []string{"task.completed"},
		RetryCount:       7,
		BreakerThreshold: 2,
	})
	require.NoError(t, err)

	assert.Equal(t, "whsec_custom", registered.Secret)
	assert.Equal(t, []string{"task.completed"}, registered.Events)
	assert.Equal(t, 7, registered.RetryCount)
	assert.Equal(t, 2, registered.BreakerThreshold)
}

func TestEndpointServiceRegisterValidates(t *testing.T) {
	f := newFixture(t)

	_, err := f.endpoints.Register(context.Background(), &models.WebhookEndpoint{URL: "https://x.example.com"})
	require.ErrorIs(t, err, services.ErrEndpointNameRequired)
	assert.True(t, services.IsValidationError(err))

	_, err = f.endpoints.Register(context.Background(), &models.WebhookEndpoint{Name: "no url"})
	require.ErrorIs(t, err, services.ErrEndpointURLRequired)
	assert.True(t, services.IsValidationError(err))
}

func TestEndpointServiceSetStatus(t *testing.T) {
	f := newFixture(t)

	registered, err := f.endpoints.Register(context.Background(), &models.WebhookEndpoint{
		Name: "billing",
		URL:  "https://billing.example.com/hooks",
	})
	require.NoError(t, err)

	_, err = f.endpoints.SetStatus(context.Background(), registered.ID, "archived")
	require.ErrorIs(t, err, services.ErrEndpointStatusInvalid)

	paused, err := f.endpoints.SetStatus(context.Background(), registered.ID, models.EndpointStatusPaused)
	require.NoError(t, err)
	assert.Equal(t, models.EndpointStatusPaused, paused.Status)

	// Manual reactivation clears the breaker counter.
	paused.Stats.RecordFailure()
	paused.Stats.RecordFailure()
	require.NoError(t, f.persistence.EndpointRepository().Save(context.Background(), paused))

	reactivated, err := f.endpoints.SetStatus(context.Background(), registered.ID, models.EndpointStatusActive)
	require.NoError(t, err)
	assert.Equal(t, models.EndpointStatusActive, reactivated.Status)
	assert.Equal(t, int64(0), reactivated.Stats.Snapshot().ConsecutiveFailures)
}

func TestEndpointServiceTestSendsProbe(t *testing.T) {
	var requests int

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		requests++
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t)

	registered, err := f.endpoints.Register(context.Background(), &models.WebhookEndpoint{
		Name: "probe target",
		URL:  server.URL,
	})
	require.NoError(t, err)

	record, err := f.endpoints.Test(context.Background(), registered.ID)
	require.NoError(t, err)

	assert.Equal(t, 1, requests)
	assert.Equal(t, models.DeliveryStatusDelivered, record.Status)
	assert.Equal(t, "endpoint.test", record.EventType)
}

func TestEndpointServiceDeliveriesRequiresEndpoint(t *testing.T) {
	f := newFixture(t)

	_, err := f.endpoints.Deliveries(context.Background(), "missing", "", 0)
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}

func TestEndpointServiceDeliveriesListsHistory(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	f := newFixture(t)

	registered, err := f.endpoints.Register(context.Background(), &models.WebhookEndpoint{
		Name: "sink",
		URL:  server.URL,
	})
	require.NoError(t, err)

	_, err = f.endpoints.Test(context.Background(), registered.ID)
	require.NoError(t, err)

	listed, err := f.endpoints.Deliveries(context.Background(), registered.ID, models.DeliveryStatusDelivered, 10)
	require.NoError(t, err)
	require.Len(t, listed, 1)
	assert.Equal(t, models.DeliveryStatusDelivered, listed[0].Status)
}

func TestEndpointServiceDelete(t *testing.T) {
	f := newFixture(t)

	registered, err := f.endpoints.Register(context.Background(), &models.WebhookEndpoint{
		Name: "temp",
		URL:  "https://temp.example.com/hooks",
	})
	require.NoError(t, err)

	require.NoError(t, f.endpoints.Delete(context.Background(), registered.ID))

	_, err = f.endpoints.Get(context.Background(), registered.ID)
	require.Error(t, err)
	assert.True(t, services.IsNotFoundError(err))
}
