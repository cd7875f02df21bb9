// Package invoker resolves and executes a single job against the local
// tool registry, producing a wire-safe result envelope.
//
// A job can only ever reject; it never aborts the dispatch loop. Stack
// traces stay in local logs, the remote side only sees error messages.
package invoker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"

	"github.com/meshrpc/meshrpc-go/internal/metrics"
	"github.com/meshrpc/meshrpc-go/internal/tracing"
	"github.com/meshrpc/meshrpc-go/pkg/tools"
	"github.com/meshrpc/meshrpc-go/pkg/transport"
)

var (
	// ErrUnknownTool means a job asked for a tool this machine never registered.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrInvalidInput means a job's input is not a key-value map or does
	// not satisfy the tool's schema.
	ErrInvalidInput = errors.New("invalid input")
)

// Invoker executes jobs against a frozen registry.
type Invoker struct {
	registry *tools.Registry
	logger   zerolog.Logger
}

// New creates an invoker.
func New(registry *tools.Registry, logger zerolog.Logger) *Invoker {
	return &Invoker{
		registry: registry,
		logger:   logger,
	}
}

// Execute runs one job to completion and returns its result envelope.
// Failures of any kind (unknown tool, bad input, handler error, handler
// panic) become a rejection whose value is the error message.
func (inv *Invoker) Execute(ctx context.Context, job transport.Job) transport.Result {
	ctx = tracing.WithJobID(ctx, job.ID)
	ctx, span := tracing.StartSpan(
		ctx,
		"meshrpc.invoker",
		"invoker.execute",
		attribute.String("tool", job.Tool),
		attribute.String("job_id", job.ID),
	)
	defer span.End()

	logger := tracing.LoggerFromContext(ctx, inv.logger)

	start := time.Now()
	raw, err := inv.invoke(ctx, job)
	elapsed := time.Since(start)

	metrics.RecordJob(job.Tool, elapsed, err == nil)

	if err != nil {
		logger.Error().
			Str("tool", job.Tool).
			Dur("duration", elapsed).
			Err(err).
			Msg("Job rejected")

		return transport.Result{
			Value:         err.Error(),
			Kind:          transport.KindString,
			Outcome:       transport.OutcomeRejected,
			ElapsedMillis: elapsed.Milliseconds(),
		}
	}

	value, kind := Normalize(raw)

	logger.Debug().
		Str("tool", job.Tool).
		Str("kind", string(kind)).
		Dur("duration", elapsed).
		Msg("Job resolved")

	return transport.Result{
		Value:         value,
		Kind:          kind,
		Outcome:       transport.OutcomeResolved,
		ElapsedMillis: elapsed.Milliseconds(),
	}
}

func (inv *Invoker) invoke(ctx context.Context, job transport.Job) (out interface{}, err error) {
	if job.Tool == "" {
		return nil, fmt.Errorf("no tool name provided for job %s: %w", job.ID, ErrUnknownTool)
	}

	tool, lookupErr := inv.registry.Get(job.Tool)
	if lookupErr != nil {
		return nil, fmt.Errorf("tool '%s' not found for job %s: %w", job.Tool, job.ID, ErrUnknownTool)
	}

	input, err := decodeInput(job.Input)
	if err != nil {
		return nil, err
	}

	if schema := inv.registry.Schema(job.Tool); schema != nil {
		if err := validateInput(schema, input); err != nil {
			return nil, err
		}
	}

	defer func() {
		if r := recover(); r != nil {
			// The stack stays local; the remote side gets the message only.
			inv.logger.Error().
				Str("tool", job.Tool).
				Str("job_id", job.ID).
				Interface("panic", r).
				Bytes("stack", debug.Stack()).
				Msg("Tool handler panicked")
			out = nil
			err = fmt.Errorf("tool '%s' panicked: %v", job.Tool, r)
		}
	}()

	return tool.Handler.Invoke(ctx, input)
}

// decodeInput decodes a job's raw input into a key-value map. Anything
// that is not a JSON object rejects with ErrInvalidInput.
func decodeInput(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 {
		return map[string]interface{}{}, nil
	}

	var input map[string]interface{}
	if err := json.Unmarshal(raw, &input); err != nil {
		return nil, fmt.Errorf("input must be a key-value map: %w", ErrInvalidInput)
	}
	if input == nil {
		input = map[string]interface{}{}
	}

	return input, nil
}

func validateInput(schema *gojsonschema.Schema, input map[string]interface{}) error {
	result, err := schema.Validate(gojsonschema.NewGoLoader(input))
	if err != nil {
		return fmt.Errorf("input validation failed: %v: %w", err, ErrInvalidInput)
	}
	if result.Valid() {
		return nil
	}

	violations := ""
	for _, desc := range result.Errors() {
		if violations != "" {
			violations += "; "
		}
		violations += desc.String()
	}

	return fmt.Errorf("input validation failed: %s: %w", violations, ErrInvalidInput)
}
