package tools

import (
	"context"
	"encoding/json"
	"fmt"
)

// Handler executes a tool with a decoded input map. The parameter binding
// strategy is fixed when the handler is constructed, not guessed per call.
type Handler interface {
	Invoke(ctx context.Context, input map[string]interface{}) (interface{}, error)
}

// HandlerFunc adapts a plain function that consumes the whole input map.
type HandlerFunc func(ctx context.Context, input map[string]interface{}) (interface{}, error)

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	return f(ctx, input)
}

// Typed wraps a function that takes a struct argument. The input map is
// bound onto T through a JSON round trip before the function is called,
// so field binding is resolved by the struct's json tags.
func Typed[T any](fn func(ctx context.Context, input T) (interface{}, error)) Handler {
	return typedHandler[T]{fn: fn}
}

type typedHandler[T any] struct {
	fn func(ctx context.Context, input T) (interface{}, error)
}

func (h typedHandler[T]) Invoke(ctx context.Context, input map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode input: %w", err)
	}

	var bound T
	if err := json.Unmarshal(raw, &bound); err != nil {
		return nil, fmt.Errorf("failed to bind input: %w", err)
	}

	return h.fn(ctx, bound)
}

// Tool describes a named function exposed for remote invocation.
// A tool is immutable once registered.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
	Config      map[string]interface{}
	Handler     Handler
}

// SerializedSchema returns the tool's input schema as a JSON string, the
// form sent in the machine registration payload.
func (t *Tool) SerializedSchema() (string, error) {
	raw, err := json.Marshal(t.InputSchema)
	if err != nil {
		return "", fmt.Errorf("failed to marshal schema for tool '%s': %w", t.Name, err)
	}
	return string(raw), nil
}
