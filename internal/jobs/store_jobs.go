package jobs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const jobColumns = "id, type, payload, status, retry_count, max_retries, run_at, result, error_message, created_at, started_at, completed_at"

// CreateOption customizes job creation.
type CreateOption func(*createOptions)

type createOptions struct {
	runAt      time.Time
	maxRetries int
}

// WithRunAt schedules the job for a future time instead of immediately.
func WithRunAt(runAt time.Time) CreateOption {
	return func(o *createOptions) {
		o.runAt = runAt
	}
}

// WithMaxRetries overrides the default retry budget for this job.
func WithMaxRetries(max int) CreateOption {
	return func(o *createOptions) {
		if max >= 0 {
			o.maxRetries = max
		}
	}
}

// Create enqueues a new pending job with a typed payload.
func (s *Store) Create(ctx context.Context, jobType Type, payload any, opts ...CreateOption) (*Job, error) {
	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal job payload: %w", err)
	}
	return s.CreateRaw(ctx, jobType, encoded, opts...)
}

// CreateRaw enqueues a new pending job with a pre-encoded payload.
func (s *Store) CreateRaw(ctx context.Context, jobType Type, payload json.RawMessage, opts ...CreateOption) (*Job, error) {
	if _, err := ParseType(string(jobType)); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	if len(payload) == 0 {
		payload = json.RawMessage("{}")
	}

	now := time.Now().UTC()
	options := createOptions{runAt: now, maxRetries: 3}
	for _, opt := range opts {
		opt(&options)
	}

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (type, payload, status, retry_count, max_retries, run_at, created_at)
         VALUES (?, ?, ?, 0, ?, ?, ?)`,
		jobType,
		string(payload),
		StatusPending,
		options.maxRetries,
		options.runAt.UTC().Format(time.RFC3339Nano),
		now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.Get(ctx, id)
}

// Get fetches a job by identifier. Returns nil when absent.
func (s *Store) Get(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// List returns jobs filtered by status set, newest first. With no statuses,
// all jobs are returned.
func (s *Store) List(ctx context.Context, statuses ...Status) ([]*Job, error) {
	baseQuery := `SELECT ` + jobColumns + ` FROM jobs`
	orderClause := ` ORDER BY id DESC`

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

	return collectJobs(rows)
}

// ClaimBatch atomically moves up to limit due pending jobs to running and
// returns them. The subquery ordering guarantees oldest-due-first dispatch;
// the single UPDATE guarantees no two dispatchers claim the same job.
func (s *Store) ClaimBatch(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		return nil, nil
	}
	now := time.Now().UTC().Format(time.RFC3339Nano)

	ctx = ensureContext(ctx)
	var jobs []*Job
	err := retryOnBusy(ctx, func() error {
		rows, err := s.db.QueryContext(
			ctx,
			`UPDATE jobs SET status = ?, started_at = ?
             WHERE id IN (
                 SELECT id FROM jobs
                 WHERE status = ? AND run_at <= ?
                 ORDER BY run_at, id
                 LIMIT ?
             )
             RETURNING `+jobColumns,
			StatusRunning,
			now,
			StatusPending,
			now,
			limit,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		jobs, err = collectJobs(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("claim jobs: %w", err)
	}
	return jobs, nil
}

// Complete marks a running job as completed with an optional result payload.
func (s *Store) Complete(ctx context.Context, id int64, result string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, result = ?, error_message = NULL, completed_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted,
		nullableString(result),
		now,
		id,
		StatusRunning,
	)
	if err != nil {
		return fmt.Errorf("complete job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("complete job %d: not running", id)
	}
	return nil
}

// Fail records a failed attempt. Transient failures reschedule the job with
// exponential backoff until the retry budget is exhausted; permanent failures
// and exhausted budgets park the job as failed. The updated job is returned.
func (s *Store) Fail(ctx context.Context, id int64, message string, permanent bool) (*Job, error) {
	job, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("fail job %d: not found", id)
	}

	now := time.Now().UTC()
	retries := job.RetryCount + 1
	exhausted := permanent || retries >= job.MaxRetries

	if exhausted {
		if _, err := s.execWithRetry(
			ctx,
			`UPDATE jobs SET status = ?, retry_count = ?, error_message = ?, completed_at = ?
             WHERE id = ? AND status = ?`,
			StatusFailed,
			retries,
			nullableString(message),
			now.Format(time.RFC3339Nano),
			id,
			StatusRunning,
		); err != nil {
			return nil, fmt.Errorf("fail job: %w", err)
		}
	} else {
		runAt := now.Add(s.backoffDelay(job.RetryCount))
		if _, err := s.execWithRetry(
			ctx,
			`UPDATE jobs SET status = ?, retry_count = ?, error_message = ?, run_at = ?, started_at = NULL
             WHERE id = ? AND status = ?`,
			StatusPending,
			retries,
			nullableString(message),
			runAt.Format(time.RFC3339Nano),
			id,
			StatusRunning,
		); err != nil {
			return nil, fmt.Errorf("reschedule job: %w", err)
		}
	}

	return s.Get(ctx, id)
}

// backoffDelay returns base * 2^retryCount, the wait before the next attempt.
func (s *Store) backoffDelay(retryCount int) time.Duration {
	delay := s.backoffBase
	if delay <= 0 {
		delay = defaultBackoffBase
	}
	for i := 0; i < retryCount; i++ {
		delay *= 2
		if delay >= time.Hour {
			return time.Hour
		}
	}
	return delay
}

// ReclaimStale returns running jobs whose dispatcher has not finished within
// olderThan back to pending for another attempt.
func (s *Store) ReclaimStale(ctx context.Context, olderThan time.Duration) (int64, error) {
	if olderThan <= 0 {
		return 0, errors.New("reclaim stale: timeout must be positive")
	}
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan).Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, run_at = ?, started_at = NULL
         WHERE status = ? AND started_at IS NOT NULL AND started_at <= ?`,
		StatusPending,
		now.Format(time.RFC3339Nano),
		StatusRunning,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// RetryFailed moves all failed jobs back to pending with a fresh retry budget.
func (s *Store) RetryFailed(ctx context.Context) (int64, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, retry_count = 0, error_message = NULL, run_at = ?, started_at = NULL, completed_at = NULL
         WHERE status = ?`,
		StatusPending,
		now,
		StatusFailed,
	)
	if err != nil {
		return 0, fmt.Errorf("retry failed jobs: %w", err)
	}
	return res.RowsAffected()
}

// Retry moves one failed job back to pending.
func (s *Store) Retry(ctx context.Context, id int64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs SET status = ?, retry_count = 0, error_message = NULL, run_at = ?, started_at = NULL, completed_at = NULL
         WHERE id = ? AND status = ?`,
		StatusPending,
		now,
		id,
		StatusFailed,
	)
	if err != nil {
		return false, fmt.Errorf("retry job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// DeleteOlderThan removes terminal jobs finished before cutoff. With no
// statuses, both completed and failed jobs are swept.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses ...Status) (int64, error) {
	if len(statuses) == 0 {
		statuses = []Status{StatusCompleted, StatusFailed}
	}
	for _, status := range statuses {
		if !status.Terminal() {
			return 0, fmt.Errorf("delete jobs: status %s is not terminal", status)
		}
	}
	placeholders := makePlaceholders(len(statuses))
	args := make([]any, 0, len(statuses)+1)
	for _, status := range statuses {
		args = append(args, status)
	}
	args = append(args, cutoff.UTC().Format(time.RFC3339Nano))

	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE status IN (`+placeholders+`) AND COALESCE(completed_at, created_at) <= ?`,
		args...,
	)
	if err != nil {
		return 0, fmt.Errorf("delete old jobs: %w", err)
	}
	return res.RowsAffected()
}

// Stats returns a count of jobs grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
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

func collectJobs(rows *sql.Rows) ([]*Job, error) {
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

func scanJob(scanner interface{ Scan(dest ...any) error }) (*Job, error) {
	var (
		id           int64
		jobType      string
		payload      string
		statusStr    string
		retryCount   int
		maxRetries   int
		runAtRaw     string
		result       sql.NullString
		errorMessage sql.NullString
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)

	if err := scanner.Scan(
		&id,
		&jobType,
		&payload,
		&statusStr,
		&retryCount,
		&maxRetries,
		&runAtRaw,
		&result,
		&errorMessage,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}

	job := &Job{
		ID:           id,
		Type:         Type(jobType),
		Payload:      json.RawMessage(payload),
		Status:       Status(statusStr),
		RetryCount:   retryCount,
		MaxRetries:   maxRetries,
		Result:       result.String,
		ErrorMessage: errorMessage.String,
	}
	if runAt, err := parseTimeString(runAtRaw); err == nil {
		job.RunAt = runAt
	}
	if created, err := parseTimeString(createdRaw); err == nil {
		job.CreatedAt = created
	}
	if startedRaw.Valid {
		if started, err := parseTimeString(startedRaw.String); err == nil {
			job.StartedAt = &started
		}
	}
	if completedRaw.Valid {
		if completed, err := parseTimeString(completedRaw.String); err == nil {
			job.CompletedAt = &completed
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

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
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
