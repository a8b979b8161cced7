package workflow

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/logging"
	"crosspost/internal/queue"
	"crosspost/internal/services"
)

// Processor runs one claimed job through the publish pipeline.
type Processor interface {
	Execute(ctx context.Context, job *queue.Job) error
}

// Notifier receives job lifecycle events.
type Notifier interface {
	NotifyJobPublished(ctx context.Context, job *queue.Job) error
	NotifyJobPartial(ctx context.Context, job *queue.Job) error
	NotifyJobFailed(ctx context.Context, job *queue.Job, message string) error
}

// Manager drives queue processing: worker loops claim ready jobs, run them
// through the processor, and route failures through the retry policy. A
// reclaim loop returns jobs whose workers died to the queue.
type Manager struct {
	cfg       *config.Config
	store     *queue.Store
	processor Processor
	notifier  Notifier
	logger    *slog.Logger

	workers            int
	pollInterval       time.Duration
	errorRetryInterval time.Duration
	heartbeat          *HeartbeatMonitor

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// NewManager constructs a workflow manager.
func NewManager(cfg *config.Config, store *queue.Store, processor Processor, notifier Notifier, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	workers := cfg.Queue.Workers
	if workers <= 0 {
		workers = 1
	}
	return &Manager{
		cfg:                cfg,
		store:              store,
		processor:          processor,
		notifier:           notifier,
		logger:             logging.NewComponentLogger(logger, "workflow"),
		workers:            workers,
		pollInterval:       time.Duration(cfg.Queue.PollInterval) * time.Second,
		errorRetryInterval: time.Duration(cfg.Queue.ErrorRetryInterval) * time.Second,
		heartbeat: NewHeartbeatMonitor(
			store,
			logger,
			time.Duration(cfg.Queue.HeartbeatInterval)*time.Second,
			time.Duration(cfg.Queue.HeartbeatTimeout)*time.Second,
		),
	}
}

// Start begins background processing.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(m.workers + 1)
	m.mu.Unlock()

	go m.runReclaimer(runCtx)
	for worker := 0; worker < m.workers; worker++ {
		go m.runWorker(runCtx, worker)
	}
	return nil
}

// Stop terminates background processing and waits for in-flight jobs.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

// Running reports whether background processing is active.
func (m *Manager) Running() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// LastError returns the most recent processing error, if any.
func (m *Manager) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) runWorker(ctx context.Context, worker int) {
	defer m.wg.Done()
	logger := m.logger.With(logging.Int("worker", worker))

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := m.store.ClaimNext(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			m.setLastError(err)
			logger.Error("failed to claim next job",
				logging.Error(err),
				logging.String(logging.FieldEventType, "queue_claim_failed"),
			)
			m.sleep(ctx, m.errorRetryInterval)
			continue
		}
		if job == nil {
			m.sleep(ctx, m.pollInterval)
			continue
		}

		m.processJob(ctx, logger, job)
	}
}

func (m *Manager) processJob(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	jobCtx, stopHeartbeat := context.WithCancel(services.WithJobID(ctx, job.ID))
	defer stopHeartbeat()

	var hbWG sync.WaitGroup
	hbWG.Add(1)
	go m.heartbeat.StartLoop(jobCtx, &hbWG, job.ID)
	defer hbWG.Wait()

	jobLogger := logging.WithContext(jobCtx, logger)
	jobLogger.InfoContext(jobCtx, "processing job",
		logging.Int("attempt", job.Attempts),
		logging.Any("platforms", job.Platforms),
	)

	err := m.processor.Execute(jobCtx, job)
	stopHeartbeat()
	hbWG.Wait()

	if err != nil {
		m.handleFailure(ctx, jobLogger, job, err)
		return
	}
	m.handleCompletion(ctx, jobLogger, job)
}

// handleFailure routes a pre-fan-out failure: retryable errors go back to
// the queue with backoff, permanent ones fail the job immediately.
func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, job *queue.Job, err error) {
	m.setLastError(err)

	if !services.Retryable(err) {
		if failErr := m.store.FailTerminal(ctx, job, err.Error()); failErr != nil {
			logger.Error("failed to persist terminal failure", logging.Error(failErr))
			return
		}
		logger.Error("job failed permanently",
			logging.String(logging.FieldErrorKind, services.Kind(err)),
			logging.Error(err),
		)
		m.notify(ctx, logger, func() error {
			return m.notifier.NotifyJobFailed(ctx, job, err.Error())
		})
		return
	}

	terminal, rescheduleErr := m.store.Reschedule(ctx, job, err.Error())
	if rescheduleErr != nil {
		logger.Error("failed to reschedule job", logging.Error(rescheduleErr))
		return
	}
	if terminal {
		logger.Error("job failed after exhausting retries",
			logging.Int("attempts", job.Attempts),
			logging.Error(err),
		)
		m.notify(ctx, logger, func() error {
			return m.notifier.NotifyJobFailed(ctx, job, err.Error())
		})
		return
	}
	logger.Warn("job attempt failed, rescheduled",
		logging.Int("attempt", job.Attempts),
		logging.Time("next_attempt_at", job.NextAttemptAt),
		logging.String(logging.FieldErrorKind, services.Kind(err)),
		logging.Error(err),
	)
}

// handleCompletion reacts to a committed fan-out outcome.
func (m *Manager) handleCompletion(ctx context.Context, logger *slog.Logger, job *queue.Job) {
	switch job.Status {
	case queue.StatusDone:
		logger.InfoContext(ctx, "job published to all platforms")
		m.notify(ctx, logger, func() error { return m.notifier.NotifyJobPublished(ctx, job) })
	case queue.StatusPartial:
		logger.Warn("job published partially",
			logging.Any("failed_platforms", job.FailedPlatforms()),
		)
		m.notify(ctx, logger, func() error { return m.notifier.NotifyJobPartial(ctx, job) })
	case queue.StatusFailed:
		logger.Error("job failed on every platform")
		m.notify(ctx, logger, func() error { return m.notifier.NotifyJobFailed(ctx, job, job.ErrorMessage) })
	default:
		logger.Warn("job completed with unexpected status", logging.String("status", string(job.Status)))
	}
}

func (m *Manager) notify(_ context.Context, logger *slog.Logger, send func() error) {
	if m.notifier == nil {
		return
	}
	if err := send(); err != nil {
		logger.Warn("notification delivery failed", logging.Error(err))
	}
}

func (m *Manager) runReclaimer(ctx context.Context) {
	defer m.wg.Done()
	interval := m.heartbeat.heartbeatInterval
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.heartbeat.ReclaimStaleJobs(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("reclaim stale jobs failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "heartbeat_reclaim_failed"),
				)
			}
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		d = time.Second
	}
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
