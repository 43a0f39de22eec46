package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestContextFields(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, ContextFields(ctx))

	ctx = WithRunID(ctx, "0b6a7f1e-run")
	ctx = WithRequestID(ctx, "req_1")
	ctx = WithSource(ctx, "notion")

	enc := zapcore.NewMapObjectEncoder()
	for _, f := range ContextFields(ctx) {
		f.AddTo(enc)
	}
	assert.Equal(t, "0b6a7f1e-run", enc.Fields["run.id"])
	assert.Equal(t, "req_1", enc.Fields["request.id"])
	assert.Equal(t, "notion", enc.Fields["source"])
}

func TestWithRunID_PanicsOnInvalid(t *testing.T) {
	assert.Panics(t, func() { WithRunID(context.Background(), "") })
	assert.Panics(t, func() { WithRunID(context.Background(), "has space") })
	assert.NotPanics(t, func() { WithRunID(context.Background(), "abc-123") })
}

func TestFromContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, zapcore.InfoLevel, "from context")
}
