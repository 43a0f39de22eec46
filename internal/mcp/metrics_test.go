package mcp

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

func newTestMetrics(t *testing.T) (*toolMetrics, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	return newToolMetrics(mp.Meter(instrumentationName), zap.NewNop()), reader
}

// collectSums returns the int64 sum data points of each metric by name.
func collectSums(t *testing.T, reader *sdkmetric.ManualReader) map[string][]metricdata.DataPoint[int64] {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := make(map[string][]metricdata.DataPoint[int64])
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				sums[m.Name] = sum.DataPoints
			}
		}
	}
	return sums
}

func total(points []metricdata.DataPoint[int64]) int64 {
	var n int64
	for _, p := range points {
		n += p.Value
	}
	return n
}

func TestToolMetrics_Calls(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	m.begin(ctx, "search_documents")(nil)
	m.begin(ctx, "search_documents")(fmt.Errorf("%w: limit", errInvalidArgument))

	sums := collectSums(t, reader)
	assert.EqualValues(t, 2, total(sums["ragdocs.mcp.tool.invocations_total"]))
	assert.EqualValues(t, 0, total(sums["ragdocs.mcp.tool.active_requests"]))

	failures := sums["ragdocs.mcp.tool.errors_total"]
	require.Len(t, failures, 1)
	assert.EqualValues(t, 1, failures[0].Value)
	reason, ok := failures[0].Attributes.Value(attribute.Key("reason"))
	require.True(t, ok)
	assert.Equal(t, "validation_error", reason.AsString())
}

func TestToolMetrics_InFlight(t *testing.T) {
	m, reader := newTestMetrics(t)
	ctx := context.Background()

	done := m.begin(ctx, "document_stats")
	m.begin(ctx, "document_stats")(nil)

	sums := collectSums(t, reader)
	assert.EqualValues(t, 1, total(sums["ragdocs.mcp.tool.active_requests"]))

	done(nil)
	sums = collectSums(t, reader)
	assert.EqualValues(t, 0, total(sums["ragdocs.mcp.tool.active_requests"]))
	assert.EqualValues(t, 2, total(sums["ragdocs.mcp.tool.invocations_total"]))
}

func TestCategorizeError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"nil", nil, ""},
		{"invalid argument", fmt.Errorf("%w: documents is empty", errInvalidArgument), "validation_error"},
		{"invalid mode", assistant.ErrInvalidMode, "validation_error"},
		{"empty question", assistant.ErrEmptyQuestion, "validation_error"},
		{"store unavailable", toolError("search", docstore.ErrUninitialized), "store_unavailable"},
		{"timeout", fmt.Errorf("search: %w", context.DeadlineExceeded), "timeout"},
		{"cancelled", context.Canceled, "cancelled"},
		{"generation", assistant.ErrGenerationFailed, "generation_error"},
		{"other", errors.New("boom"), "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, categorizeError(tt.err))
		})
	}
}
