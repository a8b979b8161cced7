package workflow_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"crosspost/internal/queue"
	"crosspost/internal/services"
	"crosspost/internal/testsupport"
	"crosspost/internal/workflow"
)

type fakeProcessor struct {
	store *queue.Store

	mu       sync.Mutex
	calls    int
	failures int
	failWith error
}

// Execute mimics the pipeline contract: pre-fan-out failures are returned,
// successful fan-outs commit the derived status.
func (p *fakeProcessor) Execute(ctx context.Context, job *queue.Job) error {
	p.mu.Lock()
	p.calls++
	shouldFail := p.calls <= p.failures
	failWith := p.failWith
	p.mu.Unlock()

	if shouldFail {
		return failWith
	}
	for _, platform := range job.PendingPlatforms() {
		job.SetResult(platform, queue.PlatformResult{State: queue.PlatformSucceeded, PostID: "post-" + platform})
	}
	job.Status = queue.DeriveStatus(job.Results)
	return p.store.Update(ctx, job)
}

func (p *fakeProcessor) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type recordingNotifier struct {
	mu        sync.Mutex
	published []string
	partial   []string
	failed    []string
}

func (n *recordingNotifier) NotifyJobPublished(_ context.Context, job *queue.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.published = append(n.published, job.ID)
	return nil
}

func (n *recordingNotifier) NotifyJobPartial(_ context.Context, job *queue.Job) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.partial = append(n.partial, job.ID)
	return nil
}

func (n *recordingNotifier) NotifyJobFailed(_ context.Context, job *queue.Job, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failed = append(n.failed, job.ID)
	return nil
}

func (n *recordingNotifier) failedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.failed)
}

func (n *recordingNotifier) publishedCount() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.published)
}

func waitForStatus(t *testing.T, store *queue.Store, id string, want queue.Status) *queue.Job {
	t.Helper()
	deadline := time.Now().Add(15 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetByID(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if job.Status == want {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	job, _ := store.GetByID(context.Background(), id)
	t.Fatalf("job never reached %s, last status %s", want, job.Status)
	return nil
}

func TestManagerProcessesQueuedJob(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	processor := &fakeProcessor{store: store}
	notifier := &recordingNotifier{}
	manager := workflow.NewManager(cfg, store, processor, notifier, nil)

	job := testsupport.SeedJob(t, store, "https://cdn.example.com/clip.mov")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	final := waitForStatus(t, store, job.ID, queue.StatusDone)
	if final.Results["youtube"].PostID != "post-youtube" {
		t.Fatalf("results not committed: %+v", final.Results)
	}
	if notifier.publishedCount() != 1 {
		t.Fatalf("expected published notification, got %d", notifier.publishedCount())
	}
}

func TestManagerRetriesTransientFailure(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	processor := &fakeProcessor{
		store:    store,
		failures: 1,
		failWith: services.Wrap(services.ErrTransport, "fetch", "download", "source unreachable", nil),
	}
	manager := workflow.NewManager(cfg, store, processor, &recordingNotifier{}, nil)

	job := testsupport.SeedJob(t, store, "https://cdn.example.com/clip.mov")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	final := waitForStatus(t, store, job.ID, queue.StatusDone)
	if final.Attempts != 2 {
		t.Fatalf("expected 2 attempts, got %d", final.Attempts)
	}
	if processor.callCount() != 2 {
		t.Fatalf("expected 2 executions, got %d", processor.callCount())
	}
}

func TestManagerFailsPermanentErrorWithoutRetry(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	processor := &fakeProcessor{
		store:    store,
		failures: 100,
		failWith: services.Wrap(services.ErrValidation, "fetch", "parse", "bad source url", nil),
	}
	notifier := &recordingNotifier{}
	manager := workflow.NewManager(cfg, store, processor, notifier, nil)

	job := testsupport.SeedJob(t, store, "https://cdn.example.com/clip.mov")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	final := waitForStatus(t, store, job.ID, queue.StatusFailed)
	if final.Attempts != 1 {
		t.Fatalf("permanent failure should not retry, attempts=%d", final.Attempts)
	}
	if processor.callCount() != 1 {
		t.Fatalf("expected 1 execution, got %d", processor.callCount())
	}
	if notifier.failedCount() != 1 {
		t.Fatalf("expected failure notification, got %d", notifier.failedCount())
	}
}

func TestManagerExhaustsRetryBudget(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithMaxAttempts(2))
	store := testsupport.MustOpenStore(t, cfg)
	processor := &fakeProcessor{
		store:    store,
		failures: 100,
		failWith: services.Wrap(services.ErrTransport, "fetch", "download", "source unreachable", nil),
	}
	notifier := &recordingNotifier{}
	manager := workflow.NewManager(cfg, store, processor, notifier, nil)

	job := testsupport.SeedJob(t, store, "https://cdn.example.com/clip.mov")

	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer manager.Stop()

	final := waitForStatus(t, store, job.ID, queue.StatusFailed)
	if final.Attempts != 2 {
		t.Fatalf("expected 2 attempts before terminal failure, got %d", final.Attempts)
	}
	if notifier.failedCount() != 1 {
		t.Fatalf("expected one failure notification, got %d", notifier.failedCount())
	}
}

func TestManagerStartStopLifecycle(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	manager := workflow.NewManager(cfg, store, &fakeProcessor{store: store}, nil, nil)

	if manager.Running() {
		t.Fatal("manager running before start")
	}
	if err := manager.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !manager.Running() {
		t.Fatal("manager not running after start")
	}
	if err := manager.Start(context.Background()); err == nil {
		t.Fatal("second start should fail")
	}
	manager.Stop()
	if manager.Running() {
		t.Fatal("manager still running after stop")
	}

	summary, err := manager.StatusSummary(context.Background())
	if err != nil {
		t.Fatalf("status summary: %v", err)
	}
	if summary.Running {
		t.Fatal("summary reports running after stop")
	}
	if summary.Workers != cfg.Queue.Workers {
		t.Fatalf("summary workers %d, want %d", summary.Workers, cfg.Queue.Workers)
	}
}
