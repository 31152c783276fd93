package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pablodns/pkg/config"
	"pablodns/pkg/logging"
)

func TestNewDisabled(t *testing.T) {
	cfg := &config.TelemetryConfig{Enabled: false}

	tel, err := New(context.Background(), cfg, logging.NewDefault())
	require.NoError(t, err)
	require.NotNil(t, tel)

	assert.NotNil(t, tel.MeterProvider())
	assert.NotNil(t, tel.TracerProvider())
	assert.Nil(t, tel.prometheusServer)

	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestInitMetrics(t *testing.T) {
	cfg := &config.TelemetryConfig{Enabled: false}
	tel, err := New(context.Background(), cfg, logging.NewDefault())
	require.NoError(t, err)

	metrics, err := tel.InitMetrics()
	require.NoError(t, err)

	assert.NotNil(t, metrics.DNSQueriesTotal)
	assert.NotNil(t, metrics.DNSQueryDuration)
	assert.NotNil(t, metrics.DNSRefusedQueries)
	assert.NotNil(t, metrics.DNSRedirectedQueries)
	assert.NotNil(t, metrics.DNSMaintenanceHits)
	assert.NotNil(t, metrics.DNSForwardedQueries)
	assert.NotNil(t, metrics.RuleCount)
	assert.NotNil(t, metrics.StorageQueriesDropped)

	// Noop counters accept recordings without panicking.
	metrics.DNSQueriesTotal.Add(context.Background(), 1)
	metrics.RuleCount.Add(context.Background(), 3)
	metrics.AddDroppedQuery(context.Background(), 2)
}

func TestAddDroppedQueryNil(t *testing.T) {
	var m *Metrics
	// Must not panic on a nil receiver.
	m.AddDroppedQuery(context.Background(), 1)
}
