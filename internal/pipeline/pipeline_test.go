package pipeline_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crosspost/internal/credentials"
	"crosspost/internal/pipeline"
	"crosspost/internal/queue"
	"crosspost/internal/services"
	"crosspost/internal/testsupport"
	"crosspost/internal/uploader"
)

type copyTranscoder struct{}

func (copyTranscoder) Run(_ context.Context, source, dest string) error {
	in, err := os.Open(source)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()
	_, err = io.Copy(out, in)
	return err
}

type failingTranscoder struct{}

func (failingTranscoder) Run(context.Context, string, string) error {
	return services.Wrap(services.ErrTranscode, "transcode", "run", "ffmpeg failed", nil)
}

type staticCreds struct {
	mu    sync.Mutex
	calls []string
	err   map[string]error
}

func (c *staticCreds) GetUsable(_ context.Context, userID int64, provider string) (*credentials.Credential, error) {
	c.mu.Lock()
	c.calls = append(c.calls, provider)
	c.mu.Unlock()
	if err := c.err[provider]; err != nil {
		return nil, err
	}
	return &credentials.Credential{
		UserID:      userID,
		Provider:    provider,
		AccessToken: "token-" + provider,
		Expiry:      time.Now().Add(time.Hour),
	}, nil
}

type fakeRecorder struct {
	mu      sync.Mutex
	appends []string
}

func (r *fakeRecorder) Append(_ context.Context, jobID, platform, postID, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appends = append(r.appends, jobID+"/"+platform+"/"+postID)
	return nil
}

type fakeUploader struct {
	platform string
	postID   string
	err      error

	mu    sync.Mutex
	calls int
}

func (u *fakeUploader) Platform() string { return u.platform }

func (u *fakeUploader) Upload(_ context.Context, filePath string, _ queue.Metadata, cred *credentials.Credential) (string, error) {
	u.mu.Lock()
	u.calls++
	u.mu.Unlock()
	if cred == nil || cred.AccessToken == "" {
		return "", errors.New("missing credential")
	}
	if _, err := os.Stat(filePath); err != nil {
		return "", err
	}
	if u.err != nil {
		return "", u.err
	}
	return u.postID, nil
}

func (u *fakeUploader) callCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.calls
}

func sourceServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("raw media bytes"))
	}))
	t.Cleanup(server.Close)
	return server
}

func claimJob(t *testing.T, store *queue.Store) *queue.Job {
	t.Helper()
	job, err := store.ClaimNext(context.Background())
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if job == nil {
		t.Fatal("no job ready to claim")
	}
	return job
}

func TestExecutePublishesToAllPlatforms(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	store := testsupport.MustOpenStore(t, cfg)
	server := sourceServer(t)
	ctx := context.Background()

	testsupport.SeedJob(t, store, server.URL+"/clip.mov", "youtube", "tiktok")
	job := claimJob(t, store)

	yt := &fakeUploader{platform: "youtube", postID: "vid-1"}
	tk := &fakeUploader{platform: "tiktok", postID: "pub-1"}
	recorder := &fakeRecorder{}
	exec := pipeline.NewExecutor(cfg, store, copyTranscoder{}, &staticCreds{}, recorder,
		map[string]uploader.Uploader{"youtube": yt, "tiktok": tk}, nil)

	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if final.Status != queue.StatusDone {
		t.Fatalf("status %s, want done", final.Status)
	}
	if final.Results["youtube"].PostID != "vid-1" || final.Results["tiktok"].PostID != "pub-1" {
		t.Fatalf("post ids missing: %+v", final.Results)
	}
	if len(recorder.appends) != 2 {
		t.Fatalf("expected 2 analytics records, got %v", recorder.appends)
	}
}

func TestExecutePlatformFailureIsIsolated(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	store := testsupport.MustOpenStore(t, cfg)
	server := sourceServer(t)
	ctx := context.Background()

	testsupport.SeedJob(t, store, server.URL+"/clip.mov", "youtube", "instagram")
	job := claimJob(t, store)

	yt := &fakeUploader{platform: "youtube", postID: "vid-1"}
	ig := &fakeUploader{
		platform: "instagram",
		err:      services.Wrap(services.ErrQuotaExceeded, "instagram", "upload", "rate limited", nil),
	}
	recorder := &fakeRecorder{}
	exec := pipeline.NewExecutor(cfg, store, copyTranscoder{}, &staticCreds{}, recorder,
		map[string]uploader.Uploader{"youtube": yt, "instagram": ig}, nil)

	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if final.Status != queue.StatusPartial {
		t.Fatalf("status %s, want partial", final.Status)
	}
	if final.Results["youtube"].State != queue.PlatformSucceeded {
		t.Fatalf("youtube result %+v", final.Results["youtube"])
	}
	failed := final.Results["instagram"]
	if failed.State != queue.PlatformFailed || failed.ErrorKind != "quota_exceeded" {
		t.Fatalf("instagram result %+v", failed)
	}
	if len(recorder.appends) != 1 {
		t.Fatalf("expected 1 analytics record, got %v", recorder.appends)
	}
	if final.ErrorMessage == "" {
		t.Fatal("expected failure summary on the job")
	}
}

func TestExecuteSkipsAlreadySucceededPlatforms(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	store := testsupport.MustOpenStore(t, cfg)
	server := sourceServer(t)
	ctx := context.Background()

	testsupport.SeedJob(t, store, server.URL+"/clip.mov", "youtube", "instagram")
	job := claimJob(t, store)

	// Simulate a prior attempt that published youtube before crashing.
	job.SetResult("youtube", queue.PlatformResult{State: queue.PlatformSucceeded, PostID: "vid-early"})

	yt := &fakeUploader{platform: "youtube", postID: "vid-late"}
	ig := &fakeUploader{platform: "instagram", postID: "media-1"}
	exec := pipeline.NewExecutor(cfg, store, copyTranscoder{}, &staticCreds{}, &fakeRecorder{},
		map[string]uploader.Uploader{"youtube": yt, "instagram": ig}, nil)

	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	if yt.callCount() != 0 {
		t.Fatalf("youtube re-uploaded on redelivery: %d calls", yt.callCount())
	}
	if ig.callCount() != 1 {
		t.Fatalf("instagram calls: %d", ig.callCount())
	}

	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if final.Results["youtube"].PostID != "vid-early" {
		t.Fatalf("earlier post id lost: %+v", final.Results["youtube"])
	}
	if final.Status != queue.StatusDone {
		t.Fatalf("status %s, want done", final.Status)
	}
}

func TestExecuteFetchFailureIsReturned(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()
	ctx := context.Background()

	testsupport.SeedJob(t, store, server.URL+"/clip.mov")
	job := claimJob(t, store)

	exec := pipeline.NewExecutor(cfg, store, copyTranscoder{}, &staticCreds{}, &fakeRecorder{},
		map[string]uploader.Uploader{"youtube": &fakeUploader{platform: "youtube", postID: "x"}}, nil)

	err := exec.Execute(ctx, job)
	if !errors.Is(err, services.ErrTransport) {
		t.Fatalf("expected transport error, got %v", err)
	}
	if !services.Retryable(err) {
		t.Fatal("fetch transport failure should be retryable")
	}
}

func TestExecuteTranscodeFailureIsReturned(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	server := sourceServer(t)
	ctx := context.Background()

	testsupport.SeedJob(t, store, server.URL+"/clip.mov")
	job := claimJob(t, store)

	exec := pipeline.NewExecutor(cfg, store, failingTranscoder{}, &staticCreds{}, &fakeRecorder{},
		map[string]uploader.Uploader{"youtube": &fakeUploader{platform: "youtube", postID: "x"}}, nil)

	err := exec.Execute(ctx, job)
	if !errors.Is(err, services.ErrTranscode) {
		t.Fatalf("expected transcode error, got %v", err)
	}
}

func TestExecuteCleansWorkspace(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	store := testsupport.MustOpenStore(t, cfg)
	server := sourceServer(t)
	ctx := context.Background()

	testsupport.SeedJob(t, store, server.URL+"/clip.mov", "youtube")
	job := claimJob(t, store)

	exec := pipeline.NewExecutor(cfg, store, copyTranscoder{}, &staticCreds{}, &fakeRecorder{},
		map[string]uploader.Uploader{"youtube": &fakeUploader{platform: "youtube", postID: "vid-1"}}, nil)
	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}

	entries, err := os.ReadDir(cfg.Paths.WorkDir)
	if err != nil && !os.IsNotExist(err) {
		t.Fatalf("read work dir: %v", err)
	}
	for _, entry := range entries {
		testsupport.MustNotExist(t, filepath.Join(cfg.Paths.WorkDir, entry.Name()))
	}
}

func TestExecuteCredentialExpiredFailsPlatform(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	store := testsupport.MustOpenStore(t, cfg)
	server := sourceServer(t)
	ctx := context.Background()

	testsupport.SeedJob(t, store, server.URL+"/clip.mov")
	job := claimJob(t, store)

	creds := &staticCreds{err: map[string]error{
		"youtube": services.Wrap(services.ErrCredentialExpired, "credentials", "refresh", "grant revoked", nil),
	}}
	yt := &fakeUploader{platform: "youtube", postID: "vid-1"}
	exec := pipeline.NewExecutor(cfg, store, copyTranscoder{}, creds, &fakeRecorder{},
		map[string]uploader.Uploader{"youtube": yt}, nil)

	if err := exec.Execute(ctx, job); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if yt.callCount() != 0 {
		t.Fatal("upload attempted without a usable credential")
	}

	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if final.Status != queue.StatusFailed {
		t.Fatalf("status %s, want failed", final.Status)
	}
	if final.Results["youtube"].ErrorKind != "credential_expired" {
		t.Fatalf("result %+v", final.Results["youtube"])
	}
}

// gatedUploader blocks its upload until released, holding the fan-out open
// so the store can be observed mid-flight.
type gatedUploader struct {
	platform string
	postID   string
	started  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (u *gatedUploader) Platform() string { return u.platform }

func (u *gatedUploader) Upload(ctx context.Context, _ string, _ queue.Metadata, _ *credentials.Credential) (string, error) {
	u.once.Do(func() { close(u.started) })
	select {
	case <-u.release:
		return u.postID, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func TestFanOutPersistsResultsAsTheyResolve(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithAllPlatforms())
	store := testsupport.MustOpenStore(t, cfg)
	server := sourceServer(t)
	ctx := context.Background()

	testsupport.SeedJob(t, store, server.URL+"/clip.mov", "youtube", "instagram")
	job := claimJob(t, store)

	ig := &gatedUploader{
		platform: "instagram",
		postID:   "ig-1",
		started:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	yt := &fakeUploader{platform: "youtube", postID: "vid-1"}
	exec := pipeline.NewExecutor(cfg, store, copyTranscoder{}, &staticCreds{}, &fakeRecorder{},
		map[string]uploader.Uploader{"youtube": yt, "instagram": ig}, nil)

	done := make(chan error, 1)
	go func() { done <- exec.Execute(ctx, job) }()
	<-ig.started

	// While instagram is still in flight, youtube's success must already be
	// durable: a crash here must not replay the upload on redelivery.
	deadline := time.Now().Add(10 * time.Second)
	for {
		stored, err := store.GetByID(ctx, job.ID)
		if err != nil {
			t.Fatalf("reload job: %v", err)
		}
		if stored.Results["youtube"].State == queue.PlatformSucceeded {
			if stored.Results["youtube"].PostID != "vid-1" {
				t.Fatalf("persisted result %+v", stored.Results["youtube"])
			}
			if stored.Status != queue.StatusProcessing {
				t.Fatalf("status %s before commit, want processing", stored.Status)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("youtube result never persisted mid-fan-out: %+v", stored.Results)
		}
		time.Sleep(10 * time.Millisecond)
	}

	close(ig.release)
	if err := <-done; err != nil {
		t.Fatalf("execute: %v", err)
	}

	final, err := store.GetByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("reload job: %v", err)
	}
	if final.Status != queue.StatusDone {
		t.Fatalf("status %s, want done", final.Status)
	}
}
