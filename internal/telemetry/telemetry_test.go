package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/fyrsmithlabs/ragdocs/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	otellog "go.opentelemetry.io/otel/log"
)

func TestNew_DisabledIsNoop(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.False(t, tel.IsEnabled())
	assert.False(t, tel.Degraded())
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = "collector.example.com:4317"

	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure")
}

func TestNilTelemetry(t *testing.T) {
	var tel *Telemetry
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.False(t, tel.IsEnabled())
	assert.Nil(t, tel.LoggerProvider())
}

func TestNew_LoggerProvider(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.MetricsEnabled = false
	tel, err := New(ctx, cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, tel.LoggerProvider(), "log export is opt-in")
	_ = tel.Shutdown(ctx)

	cfg.LogsEnabled = true
	cfg.Protocol = "http/protobuf"
	cfg.Endpoint = "localhost:4318"
	tel, err = New(ctx, cfg, nil)
	require.NoError(t, err)
	assert.NotNil(t, tel.LoggerProvider())
	assert.False(t, tel.Degraded())
	// Nothing listens on the collector port; only the call shape matters here.
	_ = tel.Shutdown(ctx)
}

func TestTestTelemetry_RecordsLogs(t *testing.T) {
	tt := NewTestTelemetry()
	var rec otellog.Record
	rec.SetBody(otellog.StringValue("sync complete"))
	rec.SetSeverity(otellog.SeverityInfo)
	tt.LoggerProvider.Logger("ragdocs").Emit(context.Background(), rec)

	logs := tt.Logs()
	require.Len(t, logs, 1)
	assert.Equal(t, "sync complete", logs[0].Body().AsString())
	assert.Equal(t, otellog.SeverityInfo, logs[0].Severity())
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"disabled skips checks", func(c *Config) { c.Endpoint = "" }, false},
		{"local insecure", func(c *Config) { c.Enabled = true }, false},
		{"loopback ip", func(c *Config) { c.Enabled = true; c.Endpoint = "127.0.0.1:4317" }, false},
		{"ipv6 loopback", func(c *Config) { c.Enabled = true; c.Endpoint = "[::1]:4317" }, false},
		{"remote with tls", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317"; c.Insecure = false }, false},
		{"remote insecure", func(c *Config) { c.Enabled = true; c.Endpoint = "otel.example.com:4317" }, true},
		{"bad protocol", func(c *Config) { c.Enabled = true; c.Protocol = "thrift" }, true},
		{"bad sample rate", func(c *Config) { c.Enabled = true; c.SampleRate = 2 }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestFromSettings(t *testing.T) {
	cfg := FromSettings(config.TelemetryConfig{
		Enabled:    true,
		Endpoint:   "http://localhost:4318",
		Protocol:   "http/protobuf",
		Insecure:   true,
		SampleRate: 0.5,
	}, "1.2.3")

	assert.True(t, cfg.Enabled)
	assert.Equal(t, "1.2.3", cfg.ServiceVersion)
	assert.Equal(t, "localhost:4318", stripScheme(cfg.Endpoint))
	assert.NoError(t, cfg.Validate())
}

func TestTestTelemetry_RecordsSpans(t *testing.T) {
	tt := NewTestTelemetry()
	_, span := tt.Tracer("test").Start(context.Background(), "Store.Search")
	span.SetAttributes(attribute.Int("limit", 5))
	span.End()

	tt.AssertSpanExists(t, "Store.Search")
	tt.AssertSpanAttribute(t, "Store.Search", "limit", int64(5))
}
