package logger

import (
	"context"
	"testing"

	obscontext "github.com/smallbiznis/creditgate/internal/observability/context"
	"github.com/smallbiznis/creditgate/pkg/telemetry/correlation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(nil, Config{Level: "loud"})
	require.Error(t, err)
}

func TestWithContextAddsRequestFields(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	base := zap.New(core)

	ctx := obscontext.WithRequestID(context.Background(), "req-1")
	ctx = correlation.ContextWithCorrelationID(ctx, "corr-1")
	ctx = obscontext.WithActor(ctx, "api_key", "42")
	ctx = obscontext.WithCaller(ctx, "acct-7")

	WithContext(ctx, base).Info("charged")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "corr-1", fields["correlation_id"])
	assert.Equal(t, "api_key", fields["actor_type"])
	assert.Equal(t, "42", fields["actor_id"])
	assert.Equal(t, "acct-7", fields["caller"])
	assert.Equal(t, "", fields["trace_id"])
}

func TestWithContextWithoutCaller(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	WithContext(context.Background(), zap.New(core)).Info("tick")

	require.Equal(t, 1, logs.Len())
	_, ok := logs.All()[0].ContextMap()["caller"]
	assert.False(t, ok)
}
