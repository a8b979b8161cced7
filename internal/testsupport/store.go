package testsupport

import (
	"context"
	"testing"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/queue"
)

// MustOpenStore opens a queue store for the given config and registers
// cleanup with the test.
func MustOpenStore(t testing.TB, cfg *config.Config, opts ...queue.Option) *queue.Store {
	t.Helper()
	store, err := queue.Open(cfg, opts...)
	if err != nil {
		t.Fatalf("open queue store: %v", err)
	}
	t.Cleanup(func() {
		_ = store.Close()
	})
	return store
}

// SeedJob inserts a queued job targeting the provided platforms.
func SeedJob(t testing.TB, store *queue.Store, sourceRef string, platforms ...string) *queue.Job {
	t.Helper()
	if len(platforms) == 0 {
		platforms = []string{"youtube"}
	}
	job, err := store.NewJob(context.Background(), queue.NewJobParams{
		UserID:         1,
		Platforms:      platforms,
		SourceMediaRef: sourceRef,
		Metadata:       queue.Metadata{Title: "Test Upload", Privacy: "private"},
	})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return job
}

// AdvanceableClock is a manual clock for scheduling tests.
type AdvanceableClock struct {
	current time.Time
}

// NewClock returns a clock frozen at the given instant.
func NewClock(at time.Time) *AdvanceableClock {
	return &AdvanceableClock{current: at.UTC()}
}

// Now returns the frozen instant.
func (c *AdvanceableClock) Now() time.Time {
	return c.current
}

// Advance moves the clock forward.
func (c *AdvanceableClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
