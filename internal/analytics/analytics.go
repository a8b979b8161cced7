package analytics

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"crosspost/internal/services"
)

const analyticsSchema = `
CREATE TABLE IF NOT EXISTS analytics (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL,
    platform TEXT NOT NULL,
    platform_post_id TEXT NOT NULL,
    metrics_json TEXT,
    sample_time TEXT NOT NULL,
    UNIQUE (job_id, platform)
);
CREATE INDEX IF NOT EXISTS idx_analytics_job ON analytics (job_id);
`

// Record is one publish event captured for later engagement tracking.
type Record struct {
	ID             int64
	JobID          string
	Platform       string
	PlatformPostID string
	MetricsJSON    string
	SampleTime     time.Time
}

// Store appends publish records to the shared database. Appends are
// deduplicated per (job, platform) so redelivered jobs never double-count a
// publish.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithNowFunc overrides the clock, used by tests.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStore prepares the analytics table on the shared database.
func NewStore(db *sql.DB, opts ...Option) (*Store, error) {
	if db == nil {
		return nil, errors.New("analytics store requires a database")
	}
	if _, err := db.Exec(analyticsSchema); err != nil {
		return nil, fmt.Errorf("ensure analytics schema: %w", err)
	}
	store := &Store{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// Append records a successful publish. A second append for the same (job,
// platform) pair is silently ignored.
func (s *Store) Append(ctx context.Context, jobID, platform, platformPostID, metricsJSON string) error {
	jobID = strings.TrimSpace(jobID)
	platform = strings.ToLower(strings.TrimSpace(platform))
	if jobID == "" || platform == "" || strings.TrimSpace(platformPostID) == "" {
		return services.Wrap(services.ErrValidation, "analytics", "append",
			"job id, platform, and post id are required", nil)
	}

	_, err := s.db.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO analytics (job_id, platform, platform_post_id, metrics_json, sample_time)
         VALUES (?, ?, ?, ?, ?)`,
		jobID,
		platform,
		platformPostID,
		nullableMetrics(metricsJSON),
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("append analytics record: %w", err)
	}
	return nil
}

// ListByJob returns the publish records for one job ordered by platform.
func (s *Store) ListByJob(ctx context.Context, jobID string) ([]Record, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id, job_id, platform, platform_post_id, metrics_json, sample_time
         FROM analytics WHERE job_id = ? ORDER BY platform`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list analytics: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var (
			record    Record
			metrics   sql.NullString
			sampledAt string
		)
		if err := rows.Scan(&record.ID, &record.JobID, &record.Platform, &record.PlatformPostID, &metrics, &sampledAt); err != nil {
			return nil, fmt.Errorf("scan analytics record: %w", err)
		}
		record.MetricsJSON = metrics.String
		if parsed, err := time.Parse(time.RFC3339Nano, sampledAt); err == nil {
			record.SampleTime = parsed
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// CountForJob returns how many platforms have a recorded publish for the job.
func (s *Store) CountForJob(ctx context.Context, jobID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analytics WHERE job_id = ?`, jobID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count analytics: %w", err)
	}
	return count, nil
}

func nullableMetrics(metricsJSON string) any {
	if strings.TrimSpace(metricsJSON) == "" {
		return nil
	}
	return metricsJSON
}
