package mcp

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragdocs/internal/assistant"
	"github.com/fyrsmithlabs/ragdocs/internal/docstore"
)

const instrumentationName = "github.com/fyrsmithlabs/ragdocs/internal/mcp"

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30}

// toolMetrics counts tool calls. Instruments that fail to register stay nil
// and are skipped.
type toolMetrics struct {
	calls    metric.Int64Counter
	duration metric.Float64Histogram
	failures metric.Int64Counter
	inFlight metric.Int64UpDownCounter
}

func newToolMetrics(meter metric.Meter, logger *zap.Logger) *toolMetrics {
	if meter == nil {
		meter = otel.Meter(instrumentationName)
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("registering instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &toolMetrics{}
	var err error
	m.calls, err = meter.Int64Counter("ragdocs.mcp.tool.invocations_total",
		metric.WithDescription("MCP tool calls"),
		metric.WithUnit("{call}"))
	warn("invocations_total", err)

	m.duration, err = meter.Float64Histogram("ragdocs.mcp.tool.duration_seconds",
		metric.WithDescription("MCP tool call latency"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(durationBuckets...))
	warn("duration_seconds", err)

	m.failures, err = meter.Int64Counter("ragdocs.mcp.tool.errors_total",
		metric.WithDescription("MCP tool calls that returned an error, by reason"),
		metric.WithUnit("{call}"))
	warn("errors_total", err)

	m.inFlight, err = meter.Int64UpDownCounter("ragdocs.mcp.tool.active_requests",
		metric.WithDescription("MCP tool calls in progress"),
		metric.WithUnit("{call}"))
	warn("active_requests", err)

	return m
}

// begin marks a call of tool as in flight. The returned func records its
// outcome and must be called exactly once.
func (m *toolMetrics) begin(ctx context.Context, tool string) func(error) {
	attrs := metric.WithAttributes(attribute.String("tool", tool))
	if m.inFlight != nil {
		m.inFlight.Add(ctx, 1, attrs)
	}
	start := time.Now()

	return func(err error) {
		if m.inFlight != nil {
			m.inFlight.Add(ctx, -1, attrs)
		}
		if m.calls != nil {
			m.calls.Add(ctx, 1, attrs)
		}
		if m.duration != nil {
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
		}
		if err != nil && m.failures != nil {
			m.failures.Add(ctx, 1, metric.WithAttributes(
				attribute.String("tool", tool),
				attribute.String("reason", categorizeError(err)),
			))
		}
	}
}

// categorizeError maps an error to a low-cardinality reason label.
func categorizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errInvalidArgument),
		errors.Is(err, assistant.ErrInvalidMode),
		errors.Is(err, assistant.ErrEmptyQuestion):
		return "validation_error"
	case errors.Is(err, docstore.ErrUninitialized):
		return "store_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case errors.Is(err, assistant.ErrGenerationFailed):
		return "generation_error"
	default:
		return "internal_error"
	}
}
