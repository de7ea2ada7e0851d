// testserver starts an Anvil API server that, besides the real template
// engines, registers stub engines which misbehave on purpose: "sleep" renders
// slowly and "stuck" never stops. It shortens the cancellation escalation so
// the overload and unresponsive paths can be driven over HTTP in E2E tests.
// Usage: go run ./cmd/testserver
package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/seantiz/anvil/internal/api"
	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/backend/ftl"
	"github.com/seantiz/anvil/internal/backend/gotmpl"
	"github.com/seantiz/anvil/internal/backend/jstmpl"
	"github.com/seantiz/anvil/internal/config"
	"github.com/seantiz/anvil/internal/datamodel"
	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/settings"
)

// stubBackend is a template engine that ignores its source and writes output
// after a delay.
type stubBackend struct {
	name   string
	delay  time.Duration
	output string
	// stubborn renders ignore cancellation.
	stubborn bool
}

func (s *stubBackend) Compile(string, backend.Options) (backend.Template, error) {
	return s, nil
}

func (s *stubBackend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:          s.name,
		Description:   "stub engine for tests",
		OutputFormats: []string{settings.OutputFormatUndefined},
		Interruptible: !s.stubborn,
	}
}

func (s *stubBackend) Render(ctx context.Context, w io.Writer, _ *datamodel.Map) error {
	if s.stubborn {
		time.Sleep(s.delay)
	} else {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	_, err := io.WriteString(w, s.output)
	return err
}

func main() {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))

	catalog, err := settings.New()
	if err != nil {
		log.Fatalf("failed to load settings catalog: %v", err)
	}

	reg := backend.NewRegistry(ftl.Name)
	reg.Register(ftl.Name, ftl.New())
	reg.Register(gotmpl.Name, gotmpl.New())
	reg.Register(jstmpl.Name, jstmpl.New())
	reg.Register("sleep", &stubBackend{name: "sleep", delay: time.Second, output: "slept"})
	reg.Register("stuck", &stubBackend{name: "stuck", delay: time.Hour, stubborn: true})

	eng := engine.NewEngine(reg, engine.Options{
		Workers:            cfg.MaxThreads,
		QueueLength:        cfg.MaxQueueLength,
		TimeLimit:          cfg.MaxExecutionTime,
		MaxOutputLength:    cfg.MaxOutputLength,
		EscalationInterval: 10 * time.Millisecond,
		EscalationBudget:   200 * time.Millisecond,
		AbandonGrace:       100 * time.Millisecond,
	}, logger)

	srv := api.NewServer(cfg.ListenAddr, reg, eng, catalog, api.Limits{
		MaxTemplateLength:  cfg.MaxTemplateLength,
		MaxDataModelLength: cfg.MaxDataModelLength,
		TimeLimit:          eng.Options().TimeLimit,
	}, logger)

	logger.Info("testserver: starting", "addr", cfg.ListenAddr)
	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
