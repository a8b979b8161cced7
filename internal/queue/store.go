package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"crosspost/internal/config"
)

// ErrNotFound is returned when a job id has no matching row.
var ErrNotFound = errors.New("job not found")

// ErrNotRetryable is returned when a retry is requested for a job that is not
// in a retryable terminal state.
var ErrNotRetryable = errors.New("job is not retryable")

// Store manages publish job persistence backed by SQLite. The jobs table
// doubles as the durable queue: workers claim ready rows with a guarded
// UPDATE so each job has at most one active owner.
type Store struct {
	db          *sql.DB
	path        string
	maxAttempts int
	backoffBase time.Duration
	now         func() time.Time
}

// Option configures optional Store behavior.
type Option func(*Store)

// WithNowFunc overrides the clock, used by tests to simulate scheduling.
func WithNowFunc(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// Open initializes or connects to the queue database and applies the schema.
func Open(cfg *config.Config, opts ...Option) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{
		db:          db,
		path:        dbPath,
		maxAttempts: cfg.Queue.MaxAttempts,
		backoffBase: time.Duration(cfg.Queue.RetryBackoffBase) * time.Second,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// DB exposes the underlying handle so sibling stores (credentials, analytics)
// can share the same database file and connection pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// NewJobParams describes a validated submission.
type NewJobParams struct {
	UserID         int64
	Platforms      []string
	SourceMediaRef string
	Metadata       Metadata
	ScheduledFor   time.Time
}

// NewJob persists a queued publish job and returns it. The row is durable
// before NewJob returns, so callers may acknowledge the submission
// immediately. Processing begins no earlier than ScheduledFor.
func (s *Store) NewJob(ctx context.Context, params NewJobParams) (*Job, error) {
	if len(params.Platforms) == 0 {
		return nil, errors.New("platforms must not be empty")
	}
	if strings.TrimSpace(params.SourceMediaRef) == "" {
		return nil, errors.New("source media ref must not be empty")
	}
	if _, err := url.ParseRequestURI(params.SourceMediaRef); err != nil {
		return nil, fmt.Errorf("parse source media ref: %w", err)
	}

	now := s.now().UTC()
	scheduledFor := params.ScheduledFor.UTC()
	if scheduledFor.IsZero() {
		scheduledFor = now
	}
	nextAttempt := scheduledFor
	if nextAttempt.Before(now) {
		nextAttempt = now
	}

	results := make(map[string]PlatformResult, len(params.Platforms))
	for _, platform := range params.Platforms {
		results[platform] = PlatformResult{State: PlatformPending}
	}

	platformsJSON, err := json.Marshal(params.Platforms)
	if err != nil {
		return nil, fmt.Errorf("marshal platforms: %w", err)
	}
	metadataJSON, err := json.Marshal(params.Metadata)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("marshal results: %w", err)
	}

	id := uuid.NewString()
	timestamp := now.Format(time.RFC3339Nano)
	_, err = s.db.ExecContext(
		ctx,
		`INSERT INTO publish_jobs (
            id, user_id, platforms, source_media_ref, metadata_json,
            scheduled_for, status, attempts, max_attempts, next_attempt_at,
            results_json, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id,
		params.UserID,
		string(platformsJSON),
		params.SourceMediaRef,
		string(metadataJSON),
		scheduledFor.Format(time.RFC3339Nano),
		StatusQueued,
		0,
		s.maxAttempts,
		nextAttempt.Format(time.RFC3339Nano),
		string(resultsJSON),
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a publish job by identifier.
func (s *Store) GetByID(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM publish_jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// ClaimNext transfers the oldest ready job to this worker, transitioning it
// to processing and counting the attempt. The guarded UPDATE is the
// exclusivity mechanism: losing a claim race simply retries the selection.
// Queued jobs whose attempt budget is already spent are failed terminally
// instead of claimed. Returns nil when no job is ready.
func (s *Store) ClaimNext(ctx context.Context) (*Job, error) {
	if err := s.failExhausted(ctx); err != nil {
		return nil, err
	}
	for {
		now := s.now().UTC()
		nowText := now.Format(time.RFC3339Nano)

		var id string
		row := s.db.QueryRowContext(
			ctx,
			`SELECT id FROM publish_jobs
             WHERE status = ? AND next_attempt_at <= ? AND attempts < max_attempts
             ORDER BY next_attempt_at, created_at LIMIT 1`,
			StatusQueued,
			nowText,
		)
		if err := row.Scan(&id); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return nil, nil
			}
			return nil, fmt.Errorf("select ready job: %w", err)
		}

		res, err := s.db.ExecContext(
			ctx,
			`UPDATE publish_jobs
             SET status = ?, attempts = attempts + 1, last_heartbeat = ?, error_message = NULL, updated_at = ?
             WHERE id = ? AND status = ?`,
			StatusProcessing,
			nowText,
			nowText,
			id,
			StatusQueued,
		)
		if err != nil {
			return nil, fmt.Errorf("claim job: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("claim rows affected: %w", err)
		}
		if affected == 0 {
			// Lost the race to another worker.
			continue
		}
		return s.GetByID(ctx, id)
	}
}

// failExhausted terminally fails queued jobs with no attempts remaining.
// Reschedule handles exhaustion on the normal retry path; this covers jobs
// returned to the queue by heartbeat reclaim after their final attempt
// crashed mid-flight.
func (s *Store) failExhausted(ctx context.Context) error {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT id FROM publish_jobs WHERE status = ? AND attempts >= max_attempts`,
		StatusQueued,
	)
	if err != nil {
		return fmt.Errorf("select exhausted jobs: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return fmt.Errorf("scan exhausted job: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterate exhausted jobs: %w", err)
	}
	rows.Close()

	for _, id := range ids {
		job, err := s.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return err
		}
		if job.Status != StatusQueued {
			continue
		}
		if err := s.FailTerminal(ctx, job, "attempt budget exhausted"); err != nil {
			return err
		}
	}
	return nil
}

// Update persists changes to an existing job.
func (s *Store) Update(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.UpdatedAt = s.now().UTC()

	platformsJSON, err := json.Marshal(job.Platforms)
	if err != nil {
		return fmt.Errorf("marshal platforms: %w", err)
	}
	metadataJSON, err := json.Marshal(job.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	resultsJSON, err := json.Marshal(job.Results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}

	_, err = s.db.ExecContext(
		ctx,
		`UPDATE publish_jobs
         SET user_id = ?, platforms = ?, source_media_ref = ?, metadata_json = ?,
             scheduled_for = ?, status = ?, attempts = ?, max_attempts = ?,
             next_attempt_at = ?, results_json = ?, error_message = ?,
             updated_at = ?, last_heartbeat = ?
         WHERE id = ?`,
		job.UserID,
		string(platformsJSON),
		job.SourceMediaRef,
		string(metadataJSON),
		job.ScheduledFor.UTC().Format(time.RFC3339Nano),
		job.Status,
		job.Attempts,
		job.MaxAttempts,
		job.NextAttemptAt.UTC().Format(time.RFC3339Nano),
		string(resultsJSON),
		nullableString(job.ErrorMessage),
		job.UpdatedAt.Format(time.RFC3339Nano),
		nullableTime(job.LastHeartbeat),
		job.ID,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

// Reschedule returns a job to the queue after a retryable attempt failure,
// applying the exponential backoff policy. When the attempt budget is spent
// the job is failed terminally instead. Reports whether the job is now
// terminal.
func (s *Store) Reschedule(ctx context.Context, job *Job, message string) (bool, error) {
	if job == nil {
		return false, errors.New("job is nil")
	}
	now := s.now().UTC()
	job.ErrorMessage = message
	job.LastHeartbeat = nil

	if job.AttemptsExhausted() {
		job.Status = StatusFailed
		for platform, result := range job.Results {
			if result.State == PlatformPending {
				result.State = PlatformFailed
				if result.ErrorKind == "" {
					result.ErrorKind = "internal"
				}
				if result.Error == "" {
					result.Error = message
				}
				job.Results[platform] = result
			}
		}
		if err := s.Update(ctx, job); err != nil {
			return false, err
		}
		return true, nil
	}

	// Exponential backoff keyed on attempts already consumed.
	delay := s.backoffBase
	for i := 1; i < job.Attempts; i++ {
		delay *= 2
	}
	job.Status = StatusQueued
	job.NextAttemptAt = now.Add(delay)
	if err := s.Update(ctx, job); err != nil {
		return false, err
	}
	return false, nil
}

// FailTerminal fails a job immediately regardless of its remaining attempt
// budget, used when the failure cannot be cured by retrying.
func (s *Store) FailTerminal(ctx context.Context, job *Job, message string) error {
	if job == nil {
		return errors.New("job is nil")
	}
	job.ErrorMessage = message
	job.LastHeartbeat = nil
	job.Status = StatusFailed
	for platform, result := range job.Results {
		if result.State == PlatformPending {
			result.State = PlatformFailed
			if result.ErrorKind == "" {
				result.ErrorKind = "internal"
			}
			if result.Error == "" {
				result.Error = message
			}
			job.Results[platform] = result
		}
	}
	return s.Update(ctx, job)
}

// RetryFailedPlatforms requeues a terminal job so that only its failed
// platforms are attempted again. Succeeded platforms keep their results and
// are never re-uploaded. The attempt budget is reset for the retargeted run.
func (s *Store) RetryFailedPlatforms(ctx context.Context, id string) (*Job, error) {
	job, err := s.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !job.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: job %s is %s", ErrNotRetryable, id, job.Status)
	}
	failed := job.FailedPlatforms()
	if len(failed) == 0 {
		return nil, fmt.Errorf("%w: job %s has no failed platforms", ErrNotRetryable, id)
	}

	for _, platform := range failed {
		job.SetResult(platform, PlatformResult{State: PlatformPending})
	}
	job.Status = StatusQueued
	job.Attempts = 0
	job.ErrorMessage = ""
	job.LastHeartbeat = nil
	job.NextAttemptAt = s.now().UTC()
	if err := s.Update(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// UpdateHeartbeat refreshes the ownership heartbeat for an in-flight job.
func (s *Store) UpdateHeartbeat(ctx context.Context, id string) error {
	now := s.now().UTC().Format(time.RFC3339Nano)
	_, err := s.db.ExecContext(
		ctx,
		`UPDATE publish_jobs SET last_heartbeat = ?, updated_at = ? WHERE id = ? AND status = ?`,
		now,
		now,
		id,
		StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("update heartbeat: %w", err)
	}
	return nil
}

// ReclaimStale returns processing jobs with expired heartbeats to the queue
// so another worker can redeliver them. Attempts consumed by the dead owner
// stay counted.
func (s *Store) ReclaimStale(ctx context.Context, cutoff time.Time) (int64, error) {
	now := s.now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE publish_jobs
         SET status = ?, last_heartbeat = NULL, next_attempt_at = ?, updated_at = ?
         WHERE status = ? AND last_heartbeat IS NOT NULL AND last_heartbeat < ?`,
		StatusQueued,
		now,
		now,
		StatusProcessing,
		cutoff.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// ResetStuckProcessing returns every processing job to the queue. The daemon
// runs it on startup, when the instance lock guarantees no live owner; the
// CLI exposes it as queue reset-stuck for manual recovery.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	now := s.now().UTC().Format(time.RFC3339Nano)
	res, err := s.db.ExecContext(
		ctx,
		`UPDATE publish_jobs
         SET status = ?, last_heartbeat = NULL, next_attempt_at = ?, updated_at = ?
         WHERE status = ?`,
		StatusQueued,
		now,
		now,
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

// List returns jobs filtered by status set (or all jobs when no status is provided).
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM publish_jobs`
	orderClause := ` ORDER BY created_at`

	var (
		rows *sql.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = s.db.QueryContext(ctx, baseQuery+orderClause)
	} else {
		placeholders := makePlaceholders(len(statuses))
		args := make([]any, len(statuses))
		for i, status := range statuses {
			args[i] = status
		}
		rows, err = s.db.QueryContext(ctx, baseQuery+` WHERE status IN (`+placeholders+`)`+orderClause, args...)
	}
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM publish_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		case StatusDone:
			health.Done += count
		case StatusFailed:
			health.Failed += count
		case StatusPartial:
			health.Partial += count
		}
	}
	return health, nil
}

// Remove deletes a job by identifier.
func (s *Store) Remove(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM publish_jobs WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// ClearDone removes only completed jobs from the queue.
func (s *Store) ClearDone(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM publish_jobs WHERE status = ?`, StatusDone)
	if err != nil {
		return 0, fmt.Errorf("clear done: %w", err)
	}
	return res.RowsAffected()
}

// Clear removes all jobs from the queue.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM publish_jobs`)
	if err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return res.RowsAffected()
}

const jobColumns = "id, user_id, platforms, source_media_ref, metadata_json, scheduled_for, status, attempts, max_attempts, next_attempt_at, results_json, error_message, created_at, updated_at, last_heartbeat"

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id               string
		userID           int64
		platformsRaw     string
		sourceMediaRef   string
		metadataRaw      sql.NullString
		scheduledRaw     string
		statusStr        string
		attempts         int
		maxAttempts      int
		nextAttemptRaw   string
		resultsRaw       sql.NullString
		errorMessage     sql.NullString
		createdRaw       string
		updatedRaw       string
		lastHeartbeatRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&userID,
		&platformsRaw,
		&sourceMediaRef,
		&metadataRaw,
		&scheduledRaw,
		&statusStr,
		&attempts,
		&maxAttempts,
		&nextAttemptRaw,
		&resultsRaw,
		&errorMessage,
		&createdRaw,
		&updatedRaw,
		&lastHeartbeatRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:             id,
		UserID:         userID,
		SourceMediaRef: sourceMediaRef,
		Status:         Status(statusStr),
		Attempts:       attempts,
		MaxAttempts:    maxAttempts,
		ErrorMessage:   errorMessage.String,
	}

	if err := json.Unmarshal([]byte(platformsRaw), &job.Platforms); err != nil {
		return nil, fmt.Errorf("unmarshal platforms: %w", err)
	}
	if metadataRaw.Valid && metadataRaw.String != "" {
		if err := json.Unmarshal([]byte(metadataRaw.String), &job.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	if resultsRaw.Valid && resultsRaw.String != "" {
		if err := json.Unmarshal([]byte(resultsRaw.String), &job.Results); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
	}
	if job.Results == nil {
		job.Results = make(map[string]PlatformResult)
	}

	if scheduled, err := parseTimeString(scheduledRaw); err == nil {
		job.ScheduledFor = scheduled
	}
	if next, err := parseTimeString(nextAttemptRaw); err == nil {
		job.NextAttemptAt = next
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		job.UpdatedAt = updated
	}
	if lastHeartbeatRaw.Valid {
		if heartbeat, err := parseTimeString(lastHeartbeatRaw.String); err == nil {
			job.LastHeartbeat = &heartbeat
		}
	}
	return job, nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullableTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return value.UTC().Format(time.RFC3339Nano)
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	return time.Parse(time.RFC3339Nano, value)
}

func makePlaceholders(count int) string {
	if count <= 0 {
		return ""
	}
	placeholders := make([]byte, 0, count*2)
	for i := 0; i < count; i++ {
		if i > 0 {
			placeholders = append(placeholders, ',')
		}
		placeholders = append(placeholders, '?')
	}
	return string(placeholders)
}
