package http

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const httpInstrumentationName = "github.com/fyrsmithlabs/ragdocs/internal/http"

// requestMetrics records per-route request counts, latency and body sizes.
type requestMetrics struct {
	requests metric.Int64Counter
	latency  metric.Float64Histogram
	size     metric.Int64Histogram
	inFlight metric.Int64UpDownCounter
}

func newRequestMetrics(meter metric.Meter, logger *zap.Logger) *requestMetrics {
	if meter == nil {
		meter = otel.Meter(httpInstrumentationName)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	warn := func(name string, err error) {
		if err != nil {
			logger.Warn("registering instrument", zap.String("instrument", name), zap.Error(err))
		}
	}

	m := &requestMetrics{}
	var err error
	m.requests, err = meter.Int64Counter("ragdocs.http.requests_total",
		metric.WithDescription("HTTP requests by method, route and status"),
		metric.WithUnit("{request}"))
	warn("requests_total", err)

	m.latency, err = meter.Float64Histogram("ragdocs.http.request_duration_seconds",
		metric.WithDescription("HTTP request latency by method, route and status"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10))
	warn("request_duration_seconds", err)

	// Search responses carry document text, so sizes vary widely.
	m.size, err = meter.Int64Histogram("ragdocs.http.response_size_bytes",
		metric.WithDescription("HTTP response body size by method, route and status"),
		metric.WithUnit("By"),
		metric.WithExplicitBucketBoundaries(100, 1e3, 1e4, 5e4, 1e5, 5e5, 1e6))
	warn("response_size_bytes", err)

	m.inFlight, err = meter.Int64UpDownCounter("ragdocs.http.active_requests",
		metric.WithDescription("HTTP requests in progress"),
		metric.WithUnit("{request}"))
	warn("active_requests", err)

	return m
}

// middleware records one observation per request after the handler ran.
func (m *requestMetrics) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx := c.Request().Context()
			if m.inFlight != nil {
				m.inFlight.Add(ctx, 1)
				defer m.inFlight.Add(ctx, -1)
			}
			start := time.Now()

			err := next(c)

			attrs := metric.WithAttributes(
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", routeLabel(c.Path())),
				attribute.Int("status", c.Response().Status),
			)
			if m.requests != nil {
				m.requests.Add(ctx, 1, attrs)
			}
			if m.latency != nil {
				m.latency.Record(ctx, time.Since(start).Seconds(), attrs)
			}
			if m.size != nil {
				m.size.Record(ctx, c.Response().Size, attrs)
			}
			return err
		}
	}
}

// routeLabel is the registered route pattern, or "unmatched" for requests
// that hit no route, so unknown paths do not create new series.
func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
