package submit

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"crosspost/internal/config"
	"crosspost/internal/logging"
	"crosspost/internal/queue"
	"crosspost/internal/services"
)

// Request is a caller's publish submission before validation.
type Request struct {
	UserID         int64          `json:"user_id"`
	Platforms      []string       `json:"platforms"`
	SourceMediaRef string         `json:"source_media_ref"`
	Metadata       queue.Metadata `json:"metadata"`
	ScheduledFor   time.Time      `json:"scheduled_for,omitzero"`
}

// Service validates publish submissions and enqueues accepted jobs.
type Service struct {
	store    *queue.Store
	enabled  map[string]bool
	ordered  []string
	logger   *slog.Logger
	notifier Notifier
}

// Notifier is the optional hook fired after a job is durably enqueued.
type Notifier interface {
	NotifyJobQueued(ctx context.Context, job *queue.Job) error
}

// NewService builds the submission service over the queue store.
func NewService(cfg *config.Config, store *queue.Store, notifier Notifier, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	enabled := make(map[string]bool)
	ordered := cfg.EnabledPlatforms()
	for _, platform := range ordered {
		enabled[platform] = true
	}
	return &Service{
		store:    store,
		enabled:  enabled,
		ordered:  ordered,
		logger:   logging.NewComponentLogger(logger, "submit"),
		notifier: notifier,
	}
}

// Submit validates the request, persists the job, and returns it queued.
// The job is durable before Submit returns.
func (s *Service) Submit(ctx context.Context, req Request) (*queue.Job, error) {
	platforms, err := s.normalizePlatforms(req.Platforms)
	if err != nil {
		return nil, err
	}
	if err := validateSourceRef(req.SourceMediaRef); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Metadata.Title) == "" {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "metadata title is required", nil)
	}
	if req.UserID <= 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "user id is required", nil)
	}

	job, err := s.store.NewJob(ctx, queue.NewJobParams{
		UserID:         req.UserID,
		Platforms:      platforms,
		SourceMediaRef: strings.TrimSpace(req.SourceMediaRef),
		Metadata:       req.Metadata,
		ScheduledFor:   req.ScheduledFor,
	})
	if err != nil {
		return nil, services.Wrap(services.ErrInternal, "submit", "enqueue", "persist job", err)
	}

	s.logger.InfoContext(ctx, "job queued",
		logging.String(logging.FieldJobID, job.ID),
		logging.Any("platforms", job.Platforms),
		logging.Time("scheduled_for", job.ScheduledFor),
	)
	if s.notifier != nil {
		if err := s.notifier.NotifyJobQueued(ctx, job); err != nil {
			s.logger.WarnContext(ctx, "queued notification failed", logging.Error(err))
		}
	}
	return job, nil
}

func (s *Service) normalizePlatforms(requested []string) ([]string, error) {
	if len(requested) == 0 {
		return nil, services.Wrap(services.ErrValidation, "submit", "validate", "at least one platform is required", nil)
	}
	seen := make(map[string]bool, len(requested))
	for _, raw := range requested {
		platform := strings.ToLower(strings.TrimSpace(raw))
		if !s.enabled[platform] {
			return nil, services.Wrap(services.ErrValidation, "submit", "validate",
				fmt.Sprintf("platform %q is not enabled", raw), nil)
		}
		if seen[platform] {
			return nil, services.Wrap(services.ErrValidation, "submit", "validate",
				fmt.Sprintf("platform %q listed more than once", raw), nil)
		}
		seen[platform] = true
	}

	// Keep the configured platform order regardless of request order.
	platforms := make([]string, 0, len(seen))
	for _, platform := range s.ordered {
		if seen[platform] {
			platforms = append(platforms, platform)
		}
	}
	return platforms, nil
}

func validateSourceRef(ref string) error {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return services.Wrap(services.ErrValidation, "submit", "validate", "source media ref is required", nil)
	}
	parsed, err := url.ParseRequestURI(ref)
	if err != nil {
		return services.Wrap(services.ErrValidation, "submit", "validate", "source media ref is not a valid URL", err)
	}
	switch parsed.Scheme {
	case "http", "https", "file":
		return nil
	default:
		return services.Wrap(services.ErrValidation, "submit", "validate",
			fmt.Sprintf("unsupported source scheme %q", parsed.Scheme), nil)
	}
}
