package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHelpers(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetTraceID(ctx))
	assert.Empty(t, GetJobID(ctx))

	ctx = WithTraceID(ctx, "trace-1")
	ctx = WithJobID(ctx, "job-1")
	assert.Equal(t, "trace-1", GetTraceID(ctx))
	assert.Equal(t, "job-1", GetJobID(ctx))
}

func TestStartSpan_PopulatesTraceID(t *testing.T) {
	require.NoError(t, InitOpenTelemetry("meshrpc-test"))

	ctx, span := StartSpan(context.Background(), "test", "operation")
	defer span.End()

	assert.NotEmpty(t, GetTraceID(ctx))
}

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := WithJobID(WithTraceID(context.Background(), "trace-1"), "job-1")
	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("dispatching")

	out := buf.String()
	assert.Contains(t, out, `"trace_id":"trace-1"`)
	assert.Contains(t, out, `"job_id":"job-1"`)
}

func TestLoggerFromContext_BareContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	logger := LoggerFromContext(context.Background(), base)
	logger.Info().Msg("plain")

	out := buf.String()
	assert.NotContains(t, out, "trace_id")
	assert.NotContains(t, out, "job_id")
}
