package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"crosspost/internal/config"
	"crosspost/internal/credentials"
	"crosspost/internal/logging"
	"crosspost/internal/queue"
	"crosspost/internal/services"
	"crosspost/internal/uploader"
)

// Transcoder converts fetched media into the shared upload profile.
type Transcoder interface {
	Run(ctx context.Context, source, dest string) error
}

// CredentialSource serves usable access tokens per (user, provider).
type CredentialSource interface {
	GetUsable(ctx context.Context, userID int64, provider string) (*credentials.Credential, error)
}

// Recorder captures one publish record per (job, platform).
type Recorder interface {
	Append(ctx context.Context, jobID, platform, platformPostID, metricsJSON string) error
}

// Executor runs one claimed job through fetch, transcode, platform fan-out,
// analytics, and the final status commit. The workspace is removed on every
// exit path.
type Executor struct {
	store      *queue.Store
	transcoder Transcoder
	creds      CredentialSource
	records    Recorder
	uploaders  map[string]uploader.Uploader
	fetcher    *fetcher
	workDir    string
	logger     *slog.Logger
}

// NewExecutor wires the pipeline stages together.
func NewExecutor(
	cfg *config.Config,
	store *queue.Store,
	transcoder Transcoder,
	creds CredentialSource,
	records Recorder,
	uploaders map[string]uploader.Uploader,
	logger *slog.Logger,
) *Executor {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Executor{
		store:      store,
		transcoder: transcoder,
		creds:      creds,
		records:    records,
		uploaders:  uploaders,
		fetcher:    newFetcher(cfg.Fetch.TimeoutSeconds),
		workDir:    cfg.Paths.WorkDir,
		logger:     logging.NewComponentLogger(logger, "pipeline"),
	}
}

// Execute processes a claimed job. A non-nil error means the job failed
// before the fan-out and should be retried or terminally failed by the
// caller. A nil error means the fan-out completed and the job's final
// status was derived from the per-platform results and committed.
func (e *Executor) Execute(ctx context.Context, job *queue.Job) error {
	ctx = services.WithJobID(ctx, job.ID)
	logger := logging.WithContext(ctx, e.logger)

	pending := job.PendingPlatforms()
	if len(pending) == 0 {
		// Redelivered job whose platforms all resolved on a prior attempt.
		return e.commit(ctx, job)
	}

	workspace := filepath.Join(e.workDir, fmt.Sprintf("%s-%d", job.ID, job.Attempts))
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return services.Wrap(services.ErrInternal, "pipeline", "workspace", "create job workspace", err)
	}
	defer func() {
		if err := os.RemoveAll(workspace); err != nil {
			logger.WarnContext(ctx, "workspace cleanup failed",
				logging.String("workspace", workspace), logging.Error(err))
		}
	}()

	sourcePath := filepath.Join(workspace, "source")
	if err := e.fetcher.fetch(ctx, job.SourceMediaRef, sourcePath); err != nil {
		return err
	}
	logger.InfoContext(ctx, "source fetched", logging.String("workspace", workspace))

	outputPath := filepath.Join(workspace, "output.mp4")
	if err := e.transcoder.Run(ctx, sourcePath, outputPath); err != nil {
		return err
	}

	e.fanOut(ctx, job, pending, outputPath)
	return e.commit(ctx, job)
}

// fanOut uploads the transcoded file to every pending platform in parallel.
// A platform failure is recorded in that platform's result and never aborts
// the others. Each result is persisted as soon as it resolves, so a crash
// mid-fan-out cannot replay an upload that already happened.
func (e *Executor) fanOut(ctx context.Context, job *queue.Job, pending []string, outputPath string) {
	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, platform := range pending {
		wg.Add(1)
		go func(platform string) {
			defer wg.Done()
			platformCtx := services.WithPlatform(ctx, platform)
			logger := logging.WithContext(platformCtx, e.logger)

			postID, err := e.uploadOne(platformCtx, job, platform, outputPath)
			result := queue.PlatformResult{State: queue.PlatformSucceeded, PostID: postID}
			if err != nil {
				logger.ErrorContext(platformCtx, "platform upload failed",
					logging.String(logging.FieldErrorKind, services.Kind(err)),
					logging.Error(err))
				result = queue.PlatformResult{
					State:     queue.PlatformFailed,
					ErrorKind: services.Kind(err),
					Error:     err.Error(),
				}
			} else {
				logger.InfoContext(platformCtx, "platform upload succeeded",
					logging.String("post_id", postID))
			}

			mu.Lock()
			defer mu.Unlock()
			job.SetResult(platform, result)
			if err := e.store.Update(ctx, job); err != nil {
				logger.WarnContext(platformCtx, "persist platform result failed", logging.Error(err))
			}
		}(platform)
	}
	wg.Wait()
}

func (e *Executor) uploadOne(ctx context.Context, job *queue.Job, platform, outputPath string) (string, error) {
	up, ok := e.uploaders[platform]
	if !ok {
		return "", services.Wrap(services.ErrConfiguration, "pipeline", "fan_out",
			fmt.Sprintf("no uploader registered for %s", platform), nil)
	}
	cred, err := e.creds.GetUsable(ctx, job.UserID, platform)
	if err != nil {
		return "", err
	}
	postID, err := up.Upload(ctx, outputPath, job.Metadata, cred)
	if err != nil {
		return "", err
	}
	if err := e.records.Append(ctx, job.ID, platform, postID, ""); err != nil {
		// The publish already happened; losing the analytics row must not
		// fail the platform.
		logging.WithContext(ctx, e.logger).WarnContext(ctx, "analytics append failed", logging.Error(err))
	}
	return postID, nil
}

// commit derives the job's final status from its per-platform results and
// persists it.
func (e *Executor) commit(ctx context.Context, job *queue.Job) error {
	job.Status = queue.DeriveStatus(job.Results)
	job.ErrorMessage = summarizeFailures(job.Results)
	if err := e.store.Update(ctx, job); err != nil {
		return services.Wrap(services.ErrInternal, "pipeline", "commit", "persist job results", err)
	}
	logging.WithContext(ctx, e.logger).InfoContext(ctx, "job committed",
		logging.String("status", string(job.Status)))
	return nil
}

func summarizeFailures(results map[string]queue.PlatformResult) string {
	var failures []string
	for platform, result := range results {
		if result.State == queue.PlatformFailed {
			failures = append(failures, fmt.Sprintf("%s: %s", platform, result.Error))
		}
	}
	if len(failures) == 0 {
		return ""
	}
	sort.Strings(failures)
	return strings.Join(failures, "; ")
}
