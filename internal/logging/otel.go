package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap/zapcore"
)

const instrumentationName = "github.com/fyrsmithlabs/ragdocs"

// newDualCore creates a core writing to stdout/stderr and/or an OTEL logger
// provider.
func newDualCore(cfg *Config, otelProvider log.LoggerProvider) (zapcore.Core, error) {
	cores := make([]zapcore.Core, 0, 2)

	if cfg.Output.Stdout || cfg.Output.Stderr {
		encoder, err := NewRedactingEncoder(newEncoder(cfg.Format), cfg.Redaction)
		if err != nil {
			return nil, fmt.Errorf("failed to create redacting encoder: %w", err)
		}
		out := os.Stdout
		if cfg.Output.Stderr {
			out = os.Stderr
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(out), cfg.Level))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		// otelzap enables every level; hold export to the configured one.
		core, err := zapcore.NewIncreaseLevelCore(otelzap.NewCore(instrumentationName,
			otelzap.WithLoggerProvider(otelProvider),
		), cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("failed to create otel core: %w", err)
		}
		cores = append(cores, core)
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	core := cores[0]
	if len(cores) > 1 {
		core = zapcore.NewTee(cores...)
	}
	return newSampledCore(core, cfg.Sampling), nil
}
