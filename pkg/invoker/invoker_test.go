package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meshrpc/meshrpc-go/pkg/tools"
	"github.com/meshrpc/meshrpc-go/pkg/transport"
)

func testRegistry(t *testing.T) *tools.Registry {
	t.Helper()

	reg := tools.NewRegistry()

	require.NoError(t, reg.Register(tools.Tool{
		Name:        "sum",
		Description: "Add two numbers",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"a": map[string]interface{}{"type": "number"},
				"b": map[string]interface{}{"type": "number"},
			},
			"required": []string{"a", "b"},
		},
		Handler: tools.HandlerFunc(func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return input["a"].(float64) + input["b"].(float64), nil
		}),
	}))

	require.NoError(t, reg.Register(tools.Tool{
		Name: "fail",
		Handler: tools.HandlerFunc(func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			return nil, errors.New("downstream unavailable")
		}),
	}))

	require.NoError(t, reg.Register(tools.Tool{
		Name: "panic",
		Handler: tools.HandlerFunc(func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			panic("boom")
		}),
	}))

	return reg
}

func newTestInvoker(t *testing.T) *Invoker {
	t.Helper()
	return New(testRegistry(t), zerolog.Nop())
}

func job(id, tool, input string) transport.Job {
	return transport.Job{ID: id, Tool: tool, Input: json.RawMessage(input)}
}

func TestExecute_Resolved(t *testing.T) {
	inv := newTestInvoker(t)

	result := inv.Execute(context.Background(), job("j1", "sum", `{"a":6,"b":7}`))

	assert.Equal(t, transport.OutcomeResolved, result.Outcome)
	assert.Equal(t, transport.KindNumber, result.Kind)
	assert.Equal(t, float64(13), result.Value)
	assert.GreaterOrEqual(t, result.ElapsedMillis, int64(0))
}

func TestExecute_UnknownTool(t *testing.T) {
	inv := newTestInvoker(t)

	result := inv.Execute(context.Background(), job("j2", "missing", `{}`))

	assert.Equal(t, transport.OutcomeRejected, result.Outcome)
	assert.Equal(t, transport.KindString, result.Kind)
	assert.Contains(t, result.Value.(string), "missing")
}

func TestExecute_EmptyToolName(t *testing.T) {
	inv := newTestInvoker(t)

	result := inv.Execute(context.Background(), job("j3", "", `{}`))
	assert.Equal(t, transport.OutcomeRejected, result.Outcome)
}

func TestExecute_NonMapInput(t *testing.T) {
	inv := newTestInvoker(t)

	for _, input := range []string{`"text"`, `42`, `[1,2,3]`, `true`} {
		result := inv.Execute(context.Background(), job("j4", "sum", input))
		assert.Equal(t, transport.OutcomeRejected, result.Outcome, "input %s", input)
		assert.Contains(t, result.Value.(string), "key-value map")
	}
}

func TestExecute_SchemaViolation(t *testing.T) {
	inv := newTestInvoker(t)

	// Missing required field b.
	result := inv.Execute(context.Background(), job("j5", "sum", `{"a":1}`))

	assert.Equal(t, transport.OutcomeRejected, result.Outcome)
	assert.Contains(t, result.Value.(string), "validation failed")
}

func TestExecute_HandlerError(t *testing.T) {
	inv := newTestInvoker(t)

	result := inv.Execute(context.Background(), job("j6", "fail", `{}`))

	assert.Equal(t, transport.OutcomeRejected, result.Outcome)
	assert.Equal(t, "downstream unavailable", result.Value)
}

func TestExecute_HandlerPanic(t *testing.T) {
	inv := newTestInvoker(t)

	result := inv.Execute(context.Background(), job("j7", "panic", `{}`))

	assert.Equal(t, transport.OutcomeRejected, result.Outcome)
	assert.Contains(t, result.Value.(string), "panicked")
	// The stack trace stays local.
	assert.NotContains(t, result.Value.(string), "goroutine")
}

func TestExecute_NilInputDefaultsToEmptyMap(t *testing.T) {
	reg := tools.NewRegistry()
	require.NoError(t, reg.Register(tools.Tool{
		Name: "probe",
		Handler: tools.HandlerFunc(func(ctx context.Context, input map[string]interface{}) (interface{}, error) {
			if input == nil {
				return nil, errors.New("input was nil")
			}
			return len(input), nil
		}),
	}))
	inv := New(reg, zerolog.Nop())

	result := inv.Execute(context.Background(), transport.Job{ID: "j8", Tool: "probe"})

	assert.Equal(t, transport.OutcomeResolved, result.Outcome)
	assert.Equal(t, 0, result.Value)
	assert.Equal(t, transport.KindNumber, result.Kind)
}

func TestDecodeInput(t *testing.T) {
	input, err := decodeInput(json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{"a": float64(1)}, input)

	_, err = decodeInput(json.RawMessage(`"nope"`))
	assert.ErrorIs(t, err, ErrInvalidInput)

	input, err = decodeInput(nil)
	require.NoError(t, err)
	assert.NotNil(t, input)
	assert.Empty(t, input)
}
