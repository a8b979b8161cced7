package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a publish job.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
	StatusPartial    Status = "partial"
)

var allStatuses = []Status{
	StatusQueued,
	StatusProcessing,
	StatusDone,
	StatusFailed,
	StatusPartial,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsTerminal reports whether a status permits no further automatic processing.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDone, StatusFailed, StatusPartial:
		return true
	default:
		return false
	}
}

// PlatformState describes one platform's outcome within a job.
type PlatformState string

const (
	PlatformPending   PlatformState = "pending"
	PlatformSucceeded PlatformState = "succeeded"
	PlatformFailed    PlatformState = "failed"
)

// PlatformResult records the outcome of one platform upload.
type PlatformResult struct {
	State     PlatformState `json:"state"`
	PostID    string        `json:"post_id,omitempty"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// Metadata carries the platform-agnostic post fields. Each uploader projects
// only the fields its platform understands.
type Metadata struct {
	Title       string   `json:"title,omitempty"`
	Description string   `json:"description,omitempty"`
	Tags        []string `json:"tags,omitempty"`
	Privacy     string   `json:"privacy,omitempty"`
}

// Job represents a publish job persisted in SQLite.
type Job struct {
	ID             string
	UserID         int64
	Platforms      []string
	SourceMediaRef string
	Metadata       Metadata
	ScheduledFor   time.Time
	Status         Status
	Attempts       int
	MaxAttempts    int
	NextAttemptAt  time.Time
	Results        map[string]PlatformResult
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	LastHeartbeat  *time.Time
}

// DeriveStatus computes the job status implied by per-platform results:
// done when every platform succeeded, failed when every platform failed,
// partial for a mix with nothing pending, and processing while any platform
// is still pending.
func DeriveStatus(results map[string]PlatformResult) Status {
	if len(results) == 0 {
		return StatusProcessing
	}
	var pending, succeeded, failed int
	for _, result := range results {
		switch result.State {
		case PlatformSucceeded:
			succeeded++
		case PlatformFailed:
			failed++
		default:
			pending++
		}
	}
	switch {
	case pending > 0:
		return StatusProcessing
	case failed == 0:
		return StatusDone
	case succeeded == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// PendingPlatforms returns the platforms still awaiting an upload, preserving
// the job's platform order. Platforms that succeeded on a prior attempt are
// excluded so redelivery never double-posts.
func (j *Job) PendingPlatforms() []string {
	pending := make([]string, 0, len(j.Platforms))
	for _, platform := range j.Platforms {
		result, ok := j.Results[platform]
		if !ok || result.State == PlatformPending {
			pending = append(pending, platform)
		}
	}
	return pending
}

// FailedPlatforms returns the platforms whose last upload attempt failed.
func (j *Job) FailedPlatforms() []string {
	failed := make([]string, 0, len(j.Platforms))
	for _, platform := range j.Platforms {
		if j.Results[platform].State == PlatformFailed {
			failed = append(failed, platform)
		}
	}
	return failed
}

// SetResult records one platform's outcome on the job.
func (j *Job) SetResult(platform string, result PlatformResult) {
	if j.Results == nil {
		j.Results = make(map[string]PlatformResult, len(j.Platforms))
	}
	j.Results[platform] = result
}

// AttemptsExhausted reports whether the retry budget is spent.
func (j *Job) AttemptsExhausted() bool {
	return j.Attempts >= j.MaxAttempts
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int `json:"total"`
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Done       int `json:"done"`
	Failed     int `json:"failed"`
	Partial    int `json:"partial"`
}
