package metrics

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *sdkmetric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func sumOf(t *testing.T, agg metricdata.Aggregation) int64 {
	t.Helper()
	sum, ok := agg.(metricdata.Sum[int64])
	require.True(t, ok, "got %T", agg)
	var total int64
	for _, dp := range sum.DataPoints {
		total += dp.Value
	}
	return total
}

func TestOTelRecorder(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	defer provider.Shutdown(context.Background())

	rec, err := New(provider.Meter("test"))
	require.NoError(t, err)

	ctx := context.Background()
	rec.SessionCreated(ctx, "python:/usr/bin/python3", nil)
	rec.SessionCreated(ctx, "python:/usr/bin/python3", errors.New("boom"))
	rec.RestartAttempt(ctx, 1, errors.New("flaky"))
	rec.RestartAttempt(ctx, 2, nil)
	rec.IdleWaitTimeout(ctx)
	rec.DependencyPrompted(ctx)
	rec.DependencyResolved(ctx, "cancel")
	rec.SnapshotRefreshed(ctx, 3)

	data := collect(t, reader)
	assert.EqualValues(t, 2, sumOf(t, data["kbridge_session_creates_total"]))
	assert.EqualValues(t, 2, sumOf(t, data["kbridge_restart_session_attempts_total"]))
	assert.EqualValues(t, 1, sumOf(t, data["kbridge_idle_wait_timeouts_total"]))
	assert.EqualValues(t, 1, sumOf(t, data["kbridge_dependency_prompts_total"]))
	assert.EqualValues(t, 1, sumOf(t, data["kbridge_dependency_checks_total"]))
	assert.EqualValues(t, 1, sumOf(t, data["kbridge_variable_snapshots_total"]))

	hist, ok := data["kbridge_variable_snapshot_size"].(metricdata.Histogram[int64])
	require.True(t, ok)
	require.Len(t, hist.DataPoints, 1)
	assert.EqualValues(t, 3, hist.DataPoints[0].Sum)
}

func TestSetupDisabledIsNoop(t *testing.T) {
	rec, shutdown, err := Setup(context.Background(), Config{Enabled: false}, "dev")
	require.NoError(t, err)
	assert.IsType(t, Noop{}, rec)
	assert.NoError(t, shutdown(context.Background()))
}
