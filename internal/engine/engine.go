package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/model"
)

// Defaults for Options fields left at zero.
const (
	DefaultKeepAlive          = 4 * time.Second
	DefaultTimeLimit          = 2 * time.Second
	DefaultMaxOutputLength    = 100000
	DefaultEscalationInterval = 50 * time.Millisecond
	DefaultEscalationBudget   = 5 * time.Second
	DefaultAbandonGrace       = 500 * time.Millisecond
)

// Options configure an Engine.
type Options struct {
	// Workers is the maximum number of renders running at once.
	Workers int
	// QueueLength is the number of admitted executions that may wait for a
	// worker. Zero derives it from TimeLimit with DefaultQueueLength.
	QueueLength int
	// KeepAlive is how long an idle worker waits for work before it exits.
	KeepAlive time.Duration
	// TimeLimit is used for QueueLength derivation and by callers that pass
	// no limit of their own to Execute.
	TimeLimit time.Duration
	// MaxOutputLength is the output budget of every render, in characters.
	MaxOutputLength int

	EscalationInterval time.Duration
	EscalationBudget   time.Duration
	AbandonGrace       time.Duration
}

// DefaultWorkers returns three quarters of the CPUs, at least two.
func DefaultWorkers() int {
	return max(2, int(math.Round(float64(runtime.NumCPU())*3/4)))
}

// DefaultQueueLength is the queue length used for a time limit when none is
// configured: about thirty seconds worth of back-to-back executions.
func DefaultQueueLength(timeLimit time.Duration) int {
	ms := timeLimit.Milliseconds()
	if ms <= 0 {
		return 2
	}
	return max(2, int(30000/ms))
}

func (o Options) withDefaults() Options {
	if o.Workers <= 0 {
		o.Workers = DefaultWorkers()
	}
	if o.TimeLimit <= 0 {
		o.TimeLimit = DefaultTimeLimit
	}
	if o.QueueLength <= 0 {
		o.QueueLength = DefaultQueueLength(o.TimeLimit)
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = DefaultKeepAlive
	}
	if o.MaxOutputLength <= 0 {
		o.MaxOutputLength = DefaultMaxOutputLength
	}
	if o.EscalationInterval <= 0 {
		o.EscalationInterval = DefaultEscalationInterval
	}
	if o.EscalationBudget <= 0 {
		o.EscalationBudget = DefaultEscalationBudget
	}
	if o.AbandonGrace <= 0 {
		o.AbandonGrace = DefaultAbandonGrace
	}
	return o
}

// Engine executes template requests on a bounded pool of workers.
type Engine struct {
	registry *backend.Registry
	opts     Options
	logger   *slog.Logger
	pool     *pool

	// base is the parent context of every render. Close cancels it.
	base       context.Context
	cancelBase context.CancelFunc

	inFlight  atomic.Int64
	unhealthy atomic.Bool
}

// NewEngine creates an engine that resolves template engines from reg.
func NewEngine(reg *backend.Registry, opts Options, logger *slog.Logger) *Engine {
	opts = opts.withDefaults()
	base, cancel := context.WithCancel(context.Background())
	e := &Engine{
		registry:   reg,
		opts:       opts,
		logger:     logger,
		base:       base,
		cancelBase: cancel,
	}
	e.pool = newPool(opts.Workers, opts.QueueLength, opts.KeepAlive, func(t *task) {
		t.run(e.base)
	})
	return e
}

// Options returns the effective options, defaults applied.
func (e *Engine) Options() Options {
	return e.opts
}

// Execute runs req and returns its result. Parse, evaluation and timeout
// failures are reported in the result. The returned error is ErrRejected when
// the engine is at capacity, a *FaultError or *UnresponsiveError when the
// execution broke down, or the context's error when ctx ended first.
//
// A timeLimit of zero uses Options.TimeLimit. submitted is not modified; a missing
// ID or engine name is filled in on a copy, and the ID used is reported in
// the result.
func (e *Engine) Execute(ctx context.Context, submitted *model.ExecutionRequest, timeLimit time.Duration) (*model.ExecutionResult, error) {
	if submitted.Template == "" {
		return nil, ErrEmptyTemplate
	}
	if timeLimit <= 0 {
		timeLimit = e.opts.TimeLimit
	}
	req := *submitted
	b, err := e.registry.Resolve(req.Engine)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnknownEngine, err)
	}
	if req.Engine == "" {
		req.Engine = b.Capabilities().Name
	}
	if req.ID == "" {
		req.ID = model.NewID()
	}

	t := newTask(&req, b, timeLimit, e.opts.MaxOutputLength, e.logger)
	start := time.Now()
	if err := e.pool.submit(t); err != nil {
		if errors.Is(err, ErrRejected) {
			rejectedTotal.Inc()
			e.logger.Warn("execution rejected", "execution_id", req.ID, "in_flight", e.InFlight())
		}
		return nil, err
	}
	e.inFlight.Add(1)
	defer e.inFlight.Add(-1)

	select {
	case <-t.started:
	case <-t.ended:
		return e.finish(t, start)
	case <-ctx.Done():
		return nil, e.abort(ctx, t)
	}

	deadline := time.NewTimer(timeLimit)
	defer deadline.Stop()
	select {
	case <-t.ended:
		return e.finish(t, start)
	case <-ctx.Done():
		return nil, e.abort(ctx, t)
	case <-deadline.C:
	}

	if e.escalate(t) {
		return e.finish(t, start)
	}
	return e.forceStop(t, start)
}

// escalate repeatedly interrupts t until it ends or the escalation budget is
// used up. It reports whether t ended.
func (e *Engine) escalate(t *task) bool {
	cause := &TimeoutError{Limit: t.timeLimit}
	tick := time.NewTicker(e.opts.EscalationInterval)
	defer tick.Stop()
	budget := time.NewTimer(e.opts.EscalationBudget)
	defer budget.Stop()

	t.interrupt(cause)
	for {
		select {
		case <-t.ended:
			return true
		case <-budget.C:
			return false
		case <-tick.C:
			t.interrupt(cause)
		}
	}
}

// forceStop abandons the worker of a render that ignored every interrupt.
func (e *Engine) forceStop(t *task, start time.Time) (*model.ExecutionResult, error) {
	if !e.pool.abandon(t) {
		// It finished while we were giving up on it.
		<-t.ended
		return e.finish(t, start)
	}
	e.logger.Warn("render ignored cancellation, worker abandoned",
		"execution_id", t.req.ID,
		"engine", t.req.Engine,
	)

	grace := time.NewTimer(e.opts.AbandonGrace)
	defer grace.Stop()
	select {
	case <-t.ended:
		return e.finish(t, start)
	case <-grace.C:
	}

	elapsed := time.Since(start)
	e.unhealthy.Store(true)
	unresponsiveTotal.Inc()
	executionsTotal.WithLabelValues(outcomeUnresponsive).Inc()
	e.logger.Error("render is unresponsive, restart recommended",
		"execution_id", t.req.ID,
		"engine", t.req.Engine,
		"elapsed_ms", elapsed.Milliseconds(),
	)
	go func() {
		<-t.ended
		e.logger.Warn("abandoned render ended", "execution_id", t.req.ID, "elapsed_ms", time.Since(start).Milliseconds())
	}()
	return nil, &UnresponsiveError{ID: t.req.ID, Elapsed: elapsed}
}

// abort handles a caller that stopped waiting.
func (e *Engine) abort(ctx context.Context, t *task) error {
	t.giveUp(context.Cause(ctx))
	executionsTotal.WithLabelValues(outcomeCancelled).Inc()
	e.logger.Debug("execution cancelled by caller", "execution_id", t.req.ID, "error", ctx.Err())
	return ctx.Err()
}

// finish turns the result of an ended task into Execute's return values.
func (e *Engine) finish(t *task, start time.Time) (*model.ExecutionResult, error) {
	res := t.outcome()
	res.ID = t.req.ID
	elapsed := time.Since(start)
	executionDuration.WithLabelValues(t.req.Engine).Observe(elapsed.Seconds())

	switch {
	case res.Succeeded() && res.Truncated:
		executionsTotal.WithLabelValues(outcomeTruncated).Inc()
	case res.Succeeded():
		executionsTotal.WithLabelValues(outcomeSuccess).Inc()
	default:
		executionsTotal.WithLabelValues(string(res.Failure.Cause)).Inc()
	}

	if !res.Succeeded() && res.Failure.Cause == model.CauseInternal {
		e.logger.Error("execution failed",
			"execution_id", t.req.ID,
			"engine", t.req.Engine,
			"duration_ms", elapsed.Milliseconds(),
			"error", res.Failure.Err,
		)
		return nil, &FaultError{ID: t.req.ID, Err: res.Failure.Err}
	}

	e.logger.Debug("execution finished",
		"execution_id", t.req.ID,
		"engine", t.req.Engine,
		"duration_ms", elapsed.Milliseconds(),
		"succeeded", res.Succeeded(),
		"truncated", res.Truncated,
	)
	return res, nil
}

// Healthy reports false once a render had to be abandoned.
func (e *Engine) Healthy() bool {
	return !e.unhealthy.Load()
}

// InFlight returns the number of accepted executions that have not returned.
func (e *Engine) InFlight() int {
	return int(e.inFlight.Load())
}

// Workers returns the number of live worker goroutines.
func (e *Engine) Workers() int {
	return e.pool.size()
}

// Close stops accepting executions and waits until the queued ones are done
// and the workers have exited. When ctx ends first, running renders are
// cancelled and ctx's error is returned.
func (e *Engine) Close(ctx context.Context) error {
	err := e.pool.close(ctx)
	e.cancelBase()
	return err
}
