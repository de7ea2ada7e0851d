package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"

	"github.com/seantiz/anvil/internal/api"
	"github.com/seantiz/anvil/internal/backend"
	"github.com/seantiz/anvil/internal/backend/ftl"
	"github.com/seantiz/anvil/internal/backend/gotmpl"
	"github.com/seantiz/anvil/internal/backend/jstmpl"
	"github.com/seantiz/anvil/internal/config"
	"github.com/seantiz/anvil/internal/engine"
	"github.com/seantiz/anvil/internal/settings"
)

func main() {
	// A missing .env file is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg := config.Load()
	logger := config.NewLogger(os.Stdout, cfg.LogLevel)

	catalog, err := settings.New()
	if err != nil {
		log.Fatalf("failed to load settings catalog: %v", err)
	}

	reg := backend.NewRegistry(ftl.Name)
	reg.Register(ftl.Name, ftl.New())
	reg.Register(gotmpl.Name, gotmpl.New())
	reg.Register(jstmpl.Name, jstmpl.New())

	eng := engine.NewEngine(reg, engine.Options{
		Workers:         cfg.MaxThreads,
		QueueLength:     cfg.MaxQueueLength,
		TimeLimit:       cfg.MaxExecutionTime,
		MaxOutputLength: cfg.MaxOutputLength,
	}, logger)
	opts := eng.Options()

	logger.Info("anvil: starting",
		"listen_addr", cfg.ListenAddr,
		"workers", opts.Workers,
		"queue_length", opts.QueueLength,
		"time_limit_ms", opts.TimeLimit.Milliseconds(),
		"max_output_length", opts.MaxOutputLength,
	)

	srv := api.NewServer(cfg.ListenAddr, reg, eng, catalog, api.Limits{
		MaxTemplateLength:  cfg.MaxTemplateLength,
		MaxDataModelLength: cfg.MaxDataModelLength,
		TimeLimit:          opts.TimeLimit,
	}, logger)

	if err := srv.Run(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
