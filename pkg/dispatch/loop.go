// Package dispatch runs the background polling loop: it registers the
// machine, long-polls the cluster queue for pending jobs, fans each batch
// out to the invoker, and reports results.
//
// Invariants:
// - Batches are processed strictly cycle-by-cycle: the next poll does not
//   start until every job of the current batch has reported.
// - The effective poll interval is always within [1s, 30s].
// - The loop stops itself after too many consecutive cycle failures and
//   exposes that through Running and Err instead of crashing the host.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/meshrpc/meshrpc-go/internal/metrics"
	"github.com/meshrpc/meshrpc-go/internal/tracing"
	"github.com/meshrpc/meshrpc-go/pkg/tools"
	"github.com/meshrpc/meshrpc-go/pkg/transport"
)

const (
	// MaxConsecutivePollFailures is the cycle failure threshold after
	// which the loop gives up.
	MaxConsecutivePollFailures = 50

	// DefaultPollInterval is the inter-cycle sleep until the server
	// suggests otherwise.
	DefaultPollInterval = 10 * time.Second

	// MinPollInterval and MaxPollInterval clamp server suggestions so a
	// misbehaving server can neither make the agent hammer the API nor
	// make shutdown unresponsive.
	MinPollInterval = 1 * time.Second
	MaxPollInterval = 30 * time.Second

	// batchLimit caps the number of jobs fetched per cycle, which also
	// caps concurrent in-flight executions.
	batchLimit = 10

	// longPollSeconds is how long the server may hold a poll open.
	longPollSeconds = 10

	// stopWait bounds how long Stop waits for the loop goroutine.
	stopWait = 5 * time.Second
)

var (
	// ErrNoTools is returned by Start when the registry is empty.
	ErrNoTools = errors.New("cannot start polling with no registered tools")

	// ErrAlreadyRunning is returned by Start when the loop is active.
	ErrAlreadyRunning = errors.New("polling is already active")
)

// Transport is the remote surface the loop drives. The HTTP client in
// pkg/transport implements it; tests substitute fakes.
type Transport interface {
	RegisterMachine(ctx context.Context, toolset []transport.ToolRegistration) (string, error)
	PollJobs(ctx context.Context, req transport.PollRequest) (transport.PollResponse, error)
	ReportResult(ctx context.Context, jobID string, result transport.Result) error
}

// Invoker executes a single job and never fails the loop; any job-level
// error is already folded into the returned envelope.
type Invoker interface {
	Execute(ctx context.Context, job transport.Job) transport.Result
}

// Loop is the background dispatch agent for one machine.
type Loop struct {
	transport Transport
	registry  *tools.Registry
	invoker   Invoker
	logger    zerolog.Logger

	// interval and failures are touched only by the loop goroutine.
	interval time.Duration
	failures int

	// defaultInterval and maxFailures carry the package defaults; tests
	// tighten them to keep failure-path runs fast.
	defaultInterval time.Duration
	maxFailures     int

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	termErr error
}

// New creates a dispatch loop. All collaborators are injected; the loop
// never reaches into process-wide state or signal handling.
func New(t Transport, registry *tools.Registry, inv Invoker, logger zerolog.Logger) *Loop {
	metrics.EnsureRegistered()

	return &Loop{
		transport:       t,
		registry:        registry,
		invoker:         inv,
		logger:          logger,
		defaultInterval: DefaultPollInterval,
		maxFailures:     MaxConsecutivePollFailures,
	}
}

// Start registers the machine synchronously and then spawns the polling
// goroutine. On registration failure the agent stays idle and the error
// is returned to the caller. Start is non-blocking on success.
func (l *Loop) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.running {
		return ErrAlreadyRunning
	}
	if l.registry.Len() == 0 {
		return ErrNoTools
	}

	toolset, err := registrationPayload(l.registry)
	if err != nil {
		return err
	}

	if _, err := l.transport.RegisterMachine(context.Background(), toolset); err != nil {
		return fmt.Errorf("failed to register machine: %w", err)
	}

	l.registry.Freeze()

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.done = make(chan struct{})
	l.running = true
	l.termErr = nil
	l.failures = 0
	l.interval = l.defaultInterval

	metrics.SetConsecutiveFailures(0)
	metrics.SetPollInterval(l.interval)

	go l.run(ctx, cancel, l.done)

	l.logger.Info().Int("tools", len(toolset)).Msg("Dispatch loop started")
	return nil
}

// Stop signals the loop to terminate and waits up to five seconds for it
// to exit. It is idempotent, safe before Start, and safe to call from any
// goroutine. In-flight handlers are not killed; their results may still
// be reported after Stop returns.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil
	}
	cancel := l.cancel
	done := l.done
	l.mu.Unlock()

	cancel()

	select {
	case <-done:
		l.logger.Info().Msg("Dispatch loop stopped")
	case <-time.After(stopWait):
		l.logger.Warn().Dur("waited", stopWait).Msg("Dispatch loop did not stop in time")
	}

	return nil
}

// Running reports whether the background loop is active.
func (l *Loop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.running
}

// Err returns the terminal error when the loop stopped itself after
// exceeding the failure threshold, nil otherwise.
func (l *Loop) Err() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.termErr
}

func (l *Loop) run(ctx context.Context, cancel context.CancelFunc, done chan struct{}) {
	defer func() {
		l.mu.Lock()
		// Guard against a restart that happened after a timed-out Stop.
		if l.done == done {
			l.running = false
			l.registry.Unfreeze()
		}
		l.mu.Unlock()
		cancel()
		close(done)
	}()

	for {
		err := l.pollOnce(ctx)
		switch {
		case err == nil:
			l.failures = 0
		case errors.Is(err, context.Canceled):
			return
		default:
			l.failures++
			l.logger.Error().Err(err).Int("consecutive_failures", l.failures).Msg("Poll cycle failed")

			if errors.Is(err, transport.ErrMachineExpired) {
				l.reRegister(ctx)
			}

			if l.failures > l.maxFailures {
				l.logger.Error().
					Int("consecutive_failures", l.failures).
					Msg("Too many consecutive poll failures, stopping dispatch loop")
				l.mu.Lock()
				l.termErr = fmt.Errorf("dispatch loop stopped after %d consecutive poll failures: %w", l.failures, err)
				l.mu.Unlock()
				return
			}
		}
		metrics.SetConsecutiveFailures(l.failures)

		timer := time.NewTimer(l.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// pollOnce runs a single dispatch cycle: one long poll, a concurrent
// fan-out over the fetched batch, and a join before returning.
func (l *Loop) pollOnce(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "meshrpc.dispatch", "dispatch.poll_cycle")
	defer span.End()

	resp, err := l.transport.PollJobs(ctx, transport.PollRequest{
		Tools:       l.registry.Names(),
		Limit:       batchLimit,
		WaitSeconds: longPollSeconds,
		Acknowledge: true,
	})
	if err != nil {
		metrics.RecordPollCycle(false, 0)
		return fmt.Errorf("failed to poll jobs: %w", err)
	}

	var reportErrs []error
	if len(resp.Jobs) > 0 {
		l.logger.Info().Int("jobs", len(resp.Jobs)).Msg("Received jobs")
		reportErrs = l.dispatchBatch(ctx, resp.Jobs)
	}

	if resp.RetryAfterSeconds != nil {
		l.interval = clampInterval(*resp.RetryAfterSeconds)
		metrics.SetPollInterval(l.interval)
	}

	if len(reportErrs) > 0 {
		metrics.RecordPollCycle(false, len(resp.Jobs))
		return fmt.Errorf("failed to report results: %w", errors.Join(reportErrs...))
	}

	metrics.RecordPollCycle(true, len(resp.Jobs))
	return nil
}

// dispatchBatch executes every job of a batch concurrently and waits for
// all of them to report. Jobs already started are allowed to finish even
// if the loop is stopped, so execution and reporting run on a context
// detached from the stop signal.
func (l *Loop) dispatchBatch(ctx context.Context, jobs []transport.Job) []error {
	jobCtx := context.WithoutCancel(ctx)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)

	for _, job := range jobs {
		wg.Add(1)
		go func(job transport.Job) {
			defer wg.Done()

			result := l.invoker.Execute(jobCtx, job)
			if err := l.transport.ReportResult(jobCtx, job.ID, result); err != nil {
				metrics.RecordReportError()
				l.logger.Error().Str("job_id", job.ID).Err(err).Msg("Failed to report job result")
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}

			l.logger.Debug().Str("job_id", job.ID).Str("outcome", string(result.Outcome)).Msg("Job reported")
		}(job)
	}

	wg.Wait()
	return errs
}

// reRegister refreshes an expired machine registration in place.
func (l *Loop) reRegister(ctx context.Context) {
	toolset, err := registrationPayload(l.registry)
	if err != nil {
		l.logger.Error().Err(err).Msg("Failed to rebuild registration payload")
		return
	}
	if _, err := l.transport.RegisterMachine(ctx, toolset); err != nil {
		l.logger.Error().Err(err).Msg("Failed to re-register machine")
		return
	}
	l.logger.Info().Msg("Machine re-registered")
}

func registrationPayload(registry *tools.Registry) ([]transport.ToolRegistration, error) {
	list := registry.List()
	toolset := make([]transport.ToolRegistration, 0, len(list))
	for _, tool := range list {
		serialized, err := tool.SerializedSchema()
		if err != nil {
			return nil, err
		}
		toolset = append(toolset, transport.ToolRegistration{
			Name:        tool.Name,
			Description: tool.Description,
			Schema:      serialized,
		})
	}
	return toolset, nil
}

func clampInterval(seconds int) time.Duration {
	interval := time.Duration(seconds) * time.Second
	if interval < MinPollInterval {
		return MinPollInterval
	}
	if interval > MaxPollInterval {
		return MaxPollInterval
	}
	return interval
}
