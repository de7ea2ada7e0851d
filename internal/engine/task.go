package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/output"
)

// errNotRun is the result of a task whose caller gave up before it started.
var errNotRun = errors.New("execution was cancelled before it started")

// task is one execution travelling through the pool. It produces exactly one
// result. started is closed when a worker begins executing it, ended when the
// result is available.
type task struct {
	req       *model.ExecutionRequest
	backend   backend.Backend
	timeLimit time.Duration
	maxOutput int
	logger    *slog.Logger

	started chan struct{}
	ended   chan struct{}

	mu        sync.Mutex
	state     string
	cancel    context.CancelCauseFunc
	skip      bool
	abandoned bool
	finished  bool
	result    *model.ExecutionResult
}

func newTask(req *model.ExecutionRequest, b backend.Backend, timeLimit time.Duration, maxOutput int, logger *slog.Logger) *task {
	return &task{
		req:       req,
		backend:   b,
		timeLimit: timeLimit,
		maxOutput: maxOutput,
		logger:    logger,
		started:   make(chan struct{}),
		ended:     make(chan struct{}),
		state:     model.StateNotStarted,
	}
}

// transition moves the task to state. Callers hold t.mu.
func (t *task) transition(to string) {
	if !model.ValidTransition(t.state, to) {
		panic(fmt.Sprintf("task %s: invalid transition %s -> %s", t.req.ID, t.state, to))
	}
	t.state = to
	if to == model.StateStarted {
		close(t.started)
	}
}

// run executes the task on the calling worker and records its result.
func (t *task) run(base context.Context) {
	t.mu.Lock()
	if t.skip {
		t.result = model.Failed(model.CauseInternal, errNotRun)
		t.mu.Unlock()
		return
	}
	t.transition(model.StateStarted)
	t.mu.Unlock()

	res := t.execute(base)

	t.mu.Lock()
	t.result = res
	t.mu.Unlock()
}

func (t *task) execute(base context.Context) (res *model.ExecutionResult) {
	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("template engine panicked",
				"execution_id", t.req.ID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			res = model.Failed(model.CauseInternal, fmt.Errorf("panic: %v", r))
		}
	}()

	tmpl, err := t.backend.Compile(t.req.Template, backend.Options{
		OutputFormat:        t.req.OutputFormat,
		Locale:              t.req.Locale,
		TimeZone:            t.req.TimeZone,
		TagSyntax:           t.req.TagSyntax,
		InterpolationSyntax: t.req.InterpolationSyntax,
	})
	if err != nil {
		var pe *backend.ParseError
		if errors.As(err, &pe) {
			return model.Failed(model.CauseParse, err)
		}
		return model.Failed(model.CauseInternal, fmt.Errorf("compile: %w", err))
	}

	ctx, cancel := context.WithCancelCause(base)
	t.setCancel(cancel)
	defer func() {
		t.setCancel(nil)
		cancel(nil)
	}()

	var sb strings.Builder
	err = tmpl.Render(ctx, output.NewLimitedWriter(&sb, t.maxOutput), t.req.DataModel)

	var ee *backend.EvalError
	switch {
	case err == nil:
		return model.Success(sb.String(), false)
	case errors.Is(err, output.ErrLimitExceeded):
		return model.Success(sb.String()+output.TruncationNotice(t.maxOutput), true)
	case ctx.Err() != nil:
		return model.Failed(model.CauseTimeout, &TimeoutError{Limit: t.timeLimit})
	case errors.As(err, &ee):
		return model.Failed(model.CauseEvaluation, err)
	}
	return model.Failed(model.CauseInternal, fmt.Errorf("render: %w", err))
}

func (t *task) setCancel(cancel context.CancelCauseFunc) {
	t.mu.Lock()
	t.cancel = cancel
	t.mu.Unlock()
}

// interrupt asks the in-flight render, if any, to stop.
func (t *task) interrupt(cause error) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.cancel == nil {
		return false
	}
	t.cancel(cause)
	return true
}

// giveUp is called when the caller stops waiting: a task that has not started
// is skipped, a running one is interrupted.
func (t *task) giveUp(cause error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == model.StateNotStarted {
		t.skip = true
	}
	if t.cancel != nil {
		t.cancel(cause)
	}
}

// finish is called by the worker after run. It reports false if the task was
// abandoned in the meantime, in which case the worker no longer owns a pool
// slot.
func (t *task) finish() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.finished = true
	return !t.abandoned
}

// abandon detaches a started task from its worker. It reports false if the
// task finished first.
func (t *task) abandon() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finished {
		return false
	}
	t.abandoned = true
	return true
}

// end publishes the result.
func (t *task) end() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transition(model.StateEnded)
	close(t.ended)
}

// outcome returns the result of an ended task.
func (t *task) outcome() *model.ExecutionResult {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}
