package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/gofrs/flock"

	"crosspost/internal/config"
	"crosspost/internal/logging"
	"crosspost/internal/queue"
	"crosspost/internal/submit"
	"crosspost/internal/workflow"
)

// Daemon coordinates background processing and enforces single-instance
// execution via a file lock.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	store    *queue.Store
	submit   *submit.Service
	workflow *workflow.Manager

	lockPath string
	lock     *flock.Flock
	api      *apiServer

	running atomic.Bool
	cancel  context.CancelFunc
}

// Status represents daemon runtime information.
type Status struct {
	Running      bool                   `json:"running"`
	Workflow     workflow.StatusSummary `json:"workflow"`
	QueueDBPath  string                 `json:"queue_db_path"`
	LockFilePath string                 `json:"lock_file_path"`
	APIAddress   string                 `json:"api_address,omitempty"`
}

// New constructs a daemon with initialized dependencies.
func New(cfg *config.Config, store *queue.Store, submitSvc *submit.Service, wf *workflow.Manager, logger *slog.Logger) (*Daemon, error) {
	if cfg == nil || store == nil || submitSvc == nil || wf == nil {
		return nil, errors.New("daemon requires config, store, submit service, and workflow manager")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	lockPath := cfg.LockPath()
	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		store:    store,
		submit:   submitSvc,
		workflow: wf,
		lockPath: lockPath,
		lock:     flock.New(lockPath),
	}

	api, err := newAPIServer(cfg, d, logger)
	if err != nil {
		return nil, err
	}
	d.api = api
	return d, nil
}

// Start acquires the daemon lock and launches the workflow manager and API
// server.
func (d *Daemon) Start(ctx context.Context) error {
	if d.running.Load() {
		return errors.New("daemon already running")
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return errors.New("another crosspost daemon instance is already running")
	}

	// The lock guarantees no other daemon owns in-flight jobs, so any row
	// still marked processing was orphaned by a crash.
	reset, err := d.store.ResetStuckProcessing(ctx)
	if err != nil {
		_ = d.lock.Unlock()
		return fmt.Errorf("reset stuck jobs: %w", err)
	}
	if reset > 0 {
		d.logger.Info("returned stuck jobs to the queue", logging.Int64("jobs", reset))
	}

	runCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	if err := d.workflow.Start(runCtx); err != nil {
		cancel()
		d.cancel = nil
		_ = d.lock.Unlock()
		return fmt.Errorf("start workflow: %w", err)
	}
	if d.api != nil {
		if err := d.api.start(runCtx); err != nil {
			d.workflow.Stop()
			cancel()
			d.cancel = nil
			_ = d.lock.Unlock()
			return fmt.Errorf("start api server: %w", err)
		}
	}

	d.running.Store(true)
	d.logger.Info("crosspost daemon started", logging.String("lock", d.lockPath))
	return nil
}

// Stop stops background processing and releases the daemon lock.
func (d *Daemon) Stop() {
	if !d.running.Load() {
		return
	}
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.api.stop()
	d.workflow.Stop()
	if err := d.lock.Unlock(); err != nil {
		d.logger.Warn("failed to release daemon lock", logging.Error(err))
	}
	d.running.Store(false)
	d.logger.Info("crosspost daemon stopped")
}

// Close releases resources held by the daemon.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// APIAddr returns the bound API address, empty until Start succeeds.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.addr()
}

// Status reports daemon runtime information.
func (d *Daemon) Status(ctx context.Context) Status {
	status := Status{
		Running:      d.running.Load(),
		QueueDBPath:  d.store.Path(),
		LockFilePath: d.lockPath,
		APIAddress:   d.APIAddr(),
	}
	if summary, err := d.workflow.StatusSummary(ctx); err == nil {
		status.Workflow = summary
	}
	return status
}

// Submit validates and enqueues a publish request.
func (d *Daemon) Submit(ctx context.Context, req submit.Request) (*queue.Job, error) {
	return d.submit.Submit(ctx, req)
}

// ListQueue returns jobs filtered by optional statuses.
func (d *Daemon) ListQueue(ctx context.Context, statuses ...queue.Status) ([]*queue.Job, error) {
	return d.store.List(ctx, statuses...)
}

// GetJob returns one job by id.
func (d *Daemon) GetJob(ctx context.Context, id string) (*queue.Job, error) {
	return d.store.GetByID(ctx, id)
}

// RetryJob requeues a terminal job for its failed platforms only.
func (d *Daemon) RetryJob(ctx context.Context, id string) (*queue.Job, error) {
	return d.store.RetryFailedPlatforms(ctx, id)
}

// QueueHealth aggregates queue counters.
func (d *Daemon) QueueHealth(ctx context.Context) (queue.HealthSummary, error) {
	return d.store.Health(ctx)
}
