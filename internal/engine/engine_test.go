package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/backend/ftl"
	"github.com/seantiz/anvil/internal/datamodel"
	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/model"
	"github.com/seantiz/anvil/internal/output"
)

// fakeBackend is a configurable mock template engine for engine tests.
type fakeBackend struct {
	name   string
	render func(ctx context.Context, w io.Writer) error
}

func (f *fakeBackend) Compile(_ string, _ backend.Options) (backend.Template, error) {
	return fakeTemplate{render: f.render}, nil
}

func (f *fakeBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{Name: f.name}
}

type fakeTemplate struct {
	render func(ctx context.Context, w io.Writer) error
}

func (t fakeTemplate) Render(ctx context.Context, w io.Writer, _ *datamodel.Map) error {
	return t.render(ctx, w)
}

// blockingBackend renders until it is cancelled.
func blockingBackend() *fakeBackend {
	return &fakeBackend{name: "blocking", render: func(ctx context.Context, _ io.Writer) error {
		<-ctx.Done()
		return ctx.Err()
	}}
}

// stubbornBackend ignores cancellation and renders until release is closed.
func stubbornBackend(release <-chan struct{}) *fakeBackend {
	return &fakeBackend{name: "stubborn", render: func(_ context.Context, w io.Writer) error {
		<-release
		_, err := io.WriteString(w, "late")
		return err
	}}
}

func okBackend() *fakeBackend {
	return &fakeBackend{name: "ok", render: func(_ context.Context, w io.Writer) error {
		_, err := io.WriteString(w, "ok")
		return err
	}}
}

func newTestEngine(t *testing.T, opts engine.Options, extra ...*fakeBackend) *engine.Engine {
	t.Helper()
	reg := backend.NewRegistry(ftl.Name)
	reg.Register(ftl.Name, ftl.New())
	for _, b := range extra {
		reg.Register(b.name, b)
	}

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	eng := engine.NewEngine(reg, opts, logger)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		eng.Close(ctx)
	})
	return eng
}

func request(t *testing.T, tmpl, data string) *model.ExecutionRequest {
	t.Helper()
	dm, err := datamodel.Parse(data, time.UTC)
	if err != nil {
		t.Fatalf("datamodel.Parse(%q): %v", data, err)
	}
	return &model.ExecutionRequest{Template: tmpl, DataModel: dm}
}

// waitFor polls cond until it holds or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func counterValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	var total float64
	for _, mf := range families {
		if mf.GetName() != name || mf.GetType() != dto.MetricType_COUNTER {
			continue
		}
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func TestExecuteSuccess(t *testing.T) {
	eng := newTestEngine(t, engine.Options{Workers: 2})

	req := request(t, "Welcome ${user}", "user=John")
	res, err := eng.Execute(context.Background(), req, time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Succeeded() {
		t.Fatalf("result failed: %s", res.Failure.Message())
	}
	if res.Output != "Welcome John" {
		t.Errorf("Output = %q, want %q", res.Output, "Welcome John")
	}
	if res.Truncated {
		t.Error("Truncated = true, want false")
	}
	if res.ID == "" {
		t.Error("result ID is empty")
	}
	if req.ID != "" || req.Engine != "" {
		t.Errorf("request was modified: ID = %q, Engine = %q", req.ID, req.Engine)
	}
}

func TestExecuteSharedRequest(t *testing.T) {
	eng := newTestEngine(t, engine.Options{Workers: 4, QueueLength: 8})
	req := request(t, "Welcome ${user}", "user=John")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := eng.Execute(context.Background(), req, time.Second)
			if err != nil {
				t.Errorf("Execute: %v", err)
				return
			}
			if res.Output != "Welcome John" {
				t.Errorf("Output = %q, want %q", res.Output, "Welcome John")
			}
			ids[i] = res.ID
		}()
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		if id == "" || seen[id] {
			t.Errorf("IDs = %q, want distinct non-empty IDs", ids)
			break
		}
		seen[id] = true
	}
	if req.ID != "" {
		t.Errorf("request ID = %q, want it left empty", req.ID)
	}
}

func TestExecuteHugeExponentStaysHealthy(t *testing.T) {
	eng := newTestEngine(t, engine.Options{
		Workers:            1,
		EscalationInterval: 5 * time.Millisecond,
		EscalationBudget:   300 * time.Millisecond,
		AbandonGrace:       50 * time.Millisecond,
	})

	for _, tt := range []struct{ tmpl, data, want string }{
		{"${a}", "a=1e30000000", "1E+30000000"},
		{"${a?c} #{a; m2}", "a=-5e-30000000", "-5E-30000000 -5E-30000000"},
	} {
		res, err := eng.Execute(context.Background(), request(t, tt.tmpl, tt.data), 100*time.Millisecond)
		if err != nil {
			t.Fatalf("Execute(%q): %v", tt.tmpl, err)
		}
		if !res.Succeeded() {
			t.Fatalf("Execute(%q) failed: %s", tt.tmpl, res.Failure.Message())
		}
		if res.Output != tt.want {
			t.Errorf("Execute(%q) = %q, want %q", tt.tmpl, res.Output, tt.want)
		}
	}
	if !eng.Healthy() {
		t.Error("Healthy() = false after rendering huge exponents")
	}
}

func TestExecuteTruncation(t *testing.T) {
	tests := []struct {
		name      string
		limit     int
		want      string
		truncated bool
	}{
		{"fits exactly", 5, "12345", false},
		{"one over", 4, "1234" + output.TruncationNotice(4), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := newTestEngine(t, engine.Options{Workers: 1, MaxOutputLength: tt.limit})
			res, err := eng.Execute(context.Background(), request(t, "12345", ""), time.Second)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if !res.Succeeded() {
				t.Fatalf("result failed: %s", res.Failure.Message())
			}
			if res.Output != tt.want {
				t.Errorf("Output = %q, want %q", res.Output, tt.want)
			}
			if res.Truncated != tt.truncated {
				t.Errorf("Truncated = %v, want %v", res.Truncated, tt.truncated)
			}
		})
	}
}

func TestExecuteTemplateFailures(t *testing.T) {
	tests := []struct {
		name  string
		tmpl  string
		cause model.Cause
	}{
		{"parse error", "test ${xx", model.CauseParse},
		{"evaluation error", "test ${x}", model.CauseEvaluation},
	}

	eng := newTestEngine(t, engine.Options{Workers: 2})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := eng.Execute(context.Background(), request(t, tt.tmpl, ""), time.Second)
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if res.Succeeded() {
				t.Fatalf("result succeeded with %q, want %s failure", res.Output, tt.cause)
			}
			if res.Failure.Cause != tt.cause {
				t.Errorf("Cause = %s, want %s (%s)", res.Failure.Cause, tt.cause, res.Failure.Message())
			}
		})
	}
}

func TestExecuteTimeout(t *testing.T) {
	eng := newTestEngine(t, engine.Options{Workers: 1})

	limit := 100 * time.Millisecond
	start := time.Now()
	res, err := eng.Execute(context.Background(), request(t, "<#list 1.. as i></#list>", ""), limit)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Succeeded() {
		t.Fatal("infinite loop succeeded")
	}
	if res.Failure.Cause != model.CauseTimeout {
		t.Fatalf("Cause = %s, want %s (%s)", res.Failure.Cause, model.CauseTimeout, res.Failure.Message())
	}
	if !strings.Contains(res.Failure.Message(), "100 ms time limit") {
		t.Errorf("Message = %q, want mention of the 100 ms limit", res.Failure.Message())
	}
	if bound := limit + engine.DefaultEscalationBudget; elapsed > bound {
		t.Errorf("Execute took %v, want at most %v", elapsed, bound)
	}
	if !eng.Healthy() {
		t.Error("Healthy() = false after a cooperative timeout")
	}
}

func TestExecuteRequestErrors(t *testing.T) {
	eng := newTestEngine(t, engine.Options{Workers: 1})

	if _, err := eng.Execute(context.Background(), &model.ExecutionRequest{}, time.Second); !errors.Is(err, engine.ErrEmptyTemplate) {
		t.Errorf("empty template: err = %v, want ErrEmptyTemplate", err)
	}

	req := &model.ExecutionRequest{Template: "x", Engine: "velocity"}
	if _, err := eng.Execute(context.Background(), req, time.Second); !errors.Is(err, engine.ErrUnknownEngine) {
		t.Errorf("unknown engine: err = %v, want ErrUnknownEngine", err)
	}
}

func TestExecuteRejectsBeyondCapacity(t *testing.T) {
	blocking := blockingBackend()
	eng := newTestEngine(t, engine.Options{Workers: 2, QueueLength: 1}, blocking)
	rejectedBefore := counterValue(t, "anvil_rejected_total")

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	errs := make(chan error, 3)
	for range 3 {
		wg.Go(func() {
			_, err := eng.Execute(ctx, &model.ExecutionRequest{Template: "x", Engine: blocking.name}, 10*time.Second)
			errs <- err
		})
	}
	waitFor(t, 2*time.Second, func() bool { return eng.InFlight() == 3 })

	start := time.Now()
	_, err := eng.Execute(context.Background(), &model.ExecutionRequest{Template: "x", Engine: blocking.name}, 10*time.Second)
	if !errors.Is(err, engine.ErrRejected) {
		t.Fatalf("fourth Execute: err = %v, want ErrRejected", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("rejection took %v, want immediate", elapsed)
	}
	if got := counterValue(t, "anvil_rejected_total") - rejectedBefore; got != 1 {
		t.Errorf("anvil_rejected_total grew by %v, want 1", got)
	}

	cancel()
	wg.Wait()
	close(errs)
	for err := range errs {
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled Execute: err = %v, want context.Canceled", err)
		}
	}

	// Capacity is given back once the cancelled renders stop.
	waitFor(t, 2*time.Second, func() bool {
		res, err := eng.Execute(context.Background(), request(t, "free", ""), time.Second)
		return err == nil && res.Output == "free"
	})
}

func TestExecuteCallerCancellationStopsRender(t *testing.T) {
	stopped := make(chan struct{})
	b := &fakeBackend{name: "watch", render: func(ctx context.Context, _ io.Writer) error {
		<-ctx.Done()
		close(stopped)
		return ctx.Err()
	}}
	eng := newTestEngine(t, engine.Options{Workers: 1}, b)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := eng.Execute(ctx, &model.ExecutionRequest{Template: "x", Engine: b.name}, 10*time.Second)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("render was not cancelled")
	}
}

func TestExecutePanicIsFault(t *testing.T) {
	b := &fakeBackend{name: "panic", render: func(context.Context, io.Writer) error {
		panic("boom")
	}}
	eng := newTestEngine(t, engine.Options{Workers: 1}, b)

	_, err := eng.Execute(context.Background(), &model.ExecutionRequest{Template: "x", Engine: b.name}, time.Second)
	var fault *engine.FaultError
	if !errors.As(err, &fault) {
		t.Fatalf("err = %v, want *FaultError", err)
	}
	if !strings.Contains(fault.Error(), "boom") {
		t.Errorf("FaultError = %q, want the panic value", fault.Error())
	}
	if !eng.Healthy() {
		t.Error("Healthy() = false after a recovered panic")
	}

	// The worker survives the panic.
	res, err := eng.Execute(context.Background(), request(t, "still here", ""), time.Second)
	if err != nil || res.Output != "still here" {
		t.Errorf("Execute after panic = %v, %v", res, err)
	}
}

func TestExecuteUnresponsiveAbandonsWorker(t *testing.T) {
	release := make(chan struct{})
	stubborn := stubbornBackend(release)
	ok := okBackend()
	eng := newTestEngine(t, engine.Options{
		Workers:            1,
		QueueLength:        1,
		EscalationInterval: 5 * time.Millisecond,
		EscalationBudget:   50 * time.Millisecond,
		AbandonGrace:       20 * time.Millisecond,
	}, stubborn, ok)
	defer close(release)
	unresponsiveBefore := counterValue(t, "anvil_unresponsive_total")

	_, err := eng.Execute(context.Background(), &model.ExecutionRequest{Template: "x", Engine: stubborn.name}, 20*time.Millisecond)
	var unresponsive *engine.UnresponsiveError
	if !errors.As(err, &unresponsive) {
		t.Fatalf("err = %v, want *UnresponsiveError", err)
	}
	if eng.Healthy() {
		t.Error("Healthy() = true after an abandoned render")
	}
	if got := counterValue(t, "anvil_unresponsive_total") - unresponsiveBefore; got != 1 {
		t.Errorf("anvil_unresponsive_total grew by %v, want 1", got)
	}

	// A replacement worker serves the next request.
	res, err := eng.Execute(context.Background(), &model.ExecutionRequest{Template: "x", Engine: ok.name}, time.Second)
	if err != nil {
		t.Fatalf("Execute after abandon: %v", err)
	}
	if res.Output != "ok" {
		t.Errorf("Output = %q, want %q", res.Output, "ok")
	}
}

func TestExecuteEndsDuringGrace(t *testing.T) {
	release := make(chan struct{})
	b := &fakeBackend{name: "slow", render: func(ctx context.Context, _ io.Writer) error {
		<-release
		return nil
	}}
	eng := newTestEngine(t, engine.Options{
		Workers:            1,
		EscalationInterval: 5 * time.Millisecond,
		EscalationBudget:   20 * time.Millisecond,
		AbandonGrace:       2 * time.Second,
	}, b)

	go func() {
		time.Sleep(100 * time.Millisecond)
		close(release)
	}()
	res, err := eng.Execute(context.Background(), &model.ExecutionRequest{Template: "x", Engine: b.name}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.Succeeded() {
		t.Errorf("result failed: %s", res.Failure.Message())
	}
	if !eng.Healthy() {
		t.Error("Healthy() = false although the render ended within the grace period")
	}
}

func TestIdleWorkersExit(t *testing.T) {
	eng := newTestEngine(t, engine.Options{Workers: 2, KeepAlive: 20 * time.Millisecond})

	if _, err := eng.Execute(context.Background(), request(t, "x", ""), time.Second); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	waitFor(t, 2*time.Second, func() bool { return eng.Workers() == 0 })

	// Workers are started again on demand.
	res, err := eng.Execute(context.Background(), request(t, "again", ""), time.Second)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if res.Output != "again" {
		t.Errorf("Output = %q, want %q", res.Output, "again")
	}
}

func TestCloseRejectsNewWork(t *testing.T) {
	eng := newTestEngine(t, engine.Options{Workers: 1})
	if err := eng.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := eng.Execute(context.Background(), request(t, "x", ""), time.Second); !errors.Is(err, engine.ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestDefaultQueueLength(t *testing.T) {
	tests := []struct {
		limit time.Duration
		want  int
	}{
		{2 * time.Second, 15},
		{100 * time.Millisecond, 300},
		{time.Minute, 2},
		{0, 2},
	}
	for _, tt := range tests {
		if got := engine.DefaultQueueLength(tt.limit); got != tt.want {
			t.Errorf("DefaultQueueLength(%v) = %d, want %d", tt.limit, got, tt.want)
		}
	}
}

func TestOptionsDefaults(t *testing.T) {
	eng := newTestEngine(t, engine.Options{})
	opts := eng.Options()
	if opts.Workers != engine.DefaultWorkers() {
		t.Errorf("Workers = %d, want %d", opts.Workers, engine.DefaultWorkers())
	}
	if opts.Workers < 2 {
		t.Errorf("Workers = %d, want at least 2", opts.Workers)
	}
	if opts.QueueLength != 15 {
		t.Errorf("QueueLength = %d, want 15", opts.QueueLength)
	}
	if opts.TimeLimit != engine.DefaultTimeLimit {
		t.Errorf("TimeLimit = %v, want %v", opts.TimeLimit, engine.DefaultTimeLimit)
	}
}
