// Package logging provides structured logging with OpenTelemetry integration.
//
// The Logger wraps Zap with:
//   - a Trace level (-2, below Debug)
//   - stdout and OpenTelemetry outputs
//   - correlation fields pulled from context (trace_id, run.id, request.id, source)
//   - redaction of secret-looking keys and values
//   - level-aware sampling (errors are never sampled)
//
// Usage:
//
//	logger, err := logging.NewLogger(logging.NewDefaultConfig(), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Sync()
//
//	ctx = logging.WithRunID(ctx, runID)
//	logger.Info(ctx, "sync finished", zap.Int("added", n))
//
// Library packages take a plain *zap.Logger; use Underlying() to hand one out.
package logging
