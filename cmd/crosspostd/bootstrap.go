package main

import (
	"fmt"
	"log/slog"

	"crosspost/internal/analytics"
	"crosspost/internal/config"
	"crosspost/internal/credentials"
	"crosspost/internal/daemon"
	"crosspost/internal/notifications"
	"crosspost/internal/pipeline"
	"crosspost/internal/queue"
	"crosspost/internal/submit"
	"crosspost/internal/transcode"
	"crosspost/internal/uploader"
	"crosspost/internal/workflow"
)

// bootstrap wires the daemon's dependency graph: queue, sibling stores,
// pipeline stages, workflow manager, and notifier.
func bootstrap(cfg *config.Config, logger *slog.Logger) (*daemon.Daemon, error) {
	store, err := queue.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open queue store: %w", err)
	}

	creds, err := credentials.NewStore(store.DB(), credentials.RefreshersFromConfig(cfg))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open credentials store: %w", err)
	}
	records, err := analytics.NewStore(store.DB())
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open analytics store: %w", err)
	}

	notifier := notifications.NewService(cfg)
	executor := pipeline.NewExecutor(
		cfg,
		store,
		transcode.New(cfg, logger),
		creds,
		records,
		uploader.FromConfig(cfg, logger),
		logger,
	)
	manager := workflow.NewManager(cfg, store, executor, notifier, logger)
	submitSvc := submit.NewService(cfg, store, notifier, logger)

	d, err := daemon.New(cfg, store, submitSvc, manager, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	return d, nil
}
