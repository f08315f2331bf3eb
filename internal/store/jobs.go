package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// JobOutcome is the worker's verdict on a finished attempt.
type JobOutcome int

const (
	// OutcomeCompleted marks the job done.
	OutcomeCompleted JobOutcome = iota
	// OutcomeRetry reschedules with backoff, or fails the job once
	// attempts are exhausted.
	OutcomeRetry
	// OutcomeFailed marks the job terminally failed regardless of
	// remaining attempts.
	OutcomeFailed
)

const jobColumns = `id, file_id, folder_id, status, priority, attempts, max_attempts, last_error, run_after, created_at, started_at, completed_at`

func scanJob(row pgx.Row) (*Job, error) {
	var j Job
	err := row.Scan(&j.ID, &j.FileID, &j.FolderID, &j.Status, &j.Priority, &j.Attempts,
		&j.MaxAttempts, &j.LastError, &j.RunAfter, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return &j, nil
}

// EnqueueJob creates or revives the single job row for a file. A
// terminal row is reset to pending; a live row keeps its state so a
// job cannot be claimed twice for the same file.
func (s *Store) EnqueueJob(ctx context.Context, fileID, folderID uuid.UUID, priority, maxAttempts int) (*Job, error) {
	row := s.pool.QueryRow(ctx, `
INSERT INTO indexing_jobs (id, file_id, folder_id, priority, max_attempts)
VALUES ($1, $2, $3, $4, $5)
ON CONFLICT (file_id) DO UPDATE SET
	priority = EXCLUDED.priority,
	max_attempts = EXCLUDED.max_attempts,
	status = CASE WHEN indexing_jobs.status IN ('completed', 'failed') THEN 'pending' ELSE indexing_jobs.status END,
	attempts = CASE WHEN indexing_jobs.status IN ('completed', 'failed') THEN 0 ELSE indexing_jobs.attempts END,
	last_error = CASE WHEN indexing_jobs.status IN ('completed', 'failed') THEN '' ELSE indexing_jobs.last_error END,
	run_after = now(),
	created_at = CASE WHEN indexing_jobs.status IN ('completed', 'failed') THEN now() ELSE indexing_jobs.created_at END,
	started_at = NULL,
	completed_at = NULL
RETURNING `+jobColumns,
		uuid.New(), fileID, folderID, priority, maxAttempts)
	j, err := scanJob(row)
	if err != nil {
		return nil, err
	}
	if j == nil {
		return nil, fmt.Errorf("enqueue job: no row returned")
	}
	return j, nil
}

// ClaimNextJob atomically claims the highest-priority runnable pending
// job using row-level locking with skip-locked semantics, so concurrent
// workers never take the same row. The claimed file is marked indexing
// and the owning folder advances out of pending in the same
// transaction. Returns nil when no job is runnable.
func (s *Store) ClaimNextJob(ctx context.Context) (*Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `
UPDATE indexing_jobs SET
	status = 'processing',
	attempts = attempts + 1,
	started_at = now()
WHERE id = (
	SELECT id FROM indexing_jobs
	WHERE status = 'pending' AND run_after <= now()
	ORDER BY priority DESC, created_at
	LIMIT 1
	FOR UPDATE SKIP LOCKED
)
RETURNING ` + jobColumns)
	j, err := scanJob(row)
	if err != nil || j == nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE files SET index_status = 'indexing', updated_at = now() WHERE id = $1`, j.FileID); err != nil {
		return nil, fmt.Errorf("mark file indexing: %w", err)
	}
	if _, err := tx.Exec(ctx, `
UPDATE folders SET status = 'indexing', updated_at = now()
WHERE id = $1 AND status IN ('pending', 'ready')`, j.FolderID); err != nil {
		return nil, fmt.Errorf("mark folder indexing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return j, nil
}

// ResetStaleJobs re-pends processing rows whose attempt started more
// than staleAfter ago. Covers rows orphaned by a crash mid-attempt,
// which nothing else would ever touch again. Returns the number of
// requeued jobs.
func (s *Store) ResetStaleJobs(ctx context.Context, staleAfter time.Duration) (int, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE indexing_jobs SET status = 'pending', started_at = NULL, run_after = now()
WHERE status = 'processing' AND started_at < now() - make_interval(secs => $1)`, staleAfter.Seconds())
	if err != nil {
		return 0, fmt.Errorf("reset stale jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// CompleteJob records the attempt outcome. Retry bounces the job back
// to pending with exponential backoff until attempts reach the maximum,
// at which point the job fails terminally.
func (s *Store) CompleteJob(ctx context.Context, job *Job, outcome JobOutcome, jobErr error, backoffBase, backoffCap time.Duration) error {
	lastError := ""
	if jobErr != nil {
		lastError = jobErr.Error()
	}

	switch {
	case outcome == OutcomeCompleted:
		_, err := s.pool.Exec(ctx, `
UPDATE indexing_jobs SET status = 'completed', last_error = '', completed_at = now()
WHERE id = $1`, job.ID)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
	case outcome == OutcomeRetry && job.Attempts < job.MaxAttempts:
		delay := RetryDelay(job.Attempts, backoffBase, backoffCap)
		_, err := s.pool.Exec(ctx, `
UPDATE indexing_jobs SET status = 'pending', last_error = $2, run_after = now() + make_interval(secs => $3)
WHERE id = $1`, job.ID, lastError, delay.Seconds())
		if err != nil {
			return fmt.Errorf("reschedule job: %w", err)
		}
	default:
		_, err := s.pool.Exec(ctx, `
UPDATE indexing_jobs SET status = 'failed', last_error = $2, completed_at = now()
WHERE id = $1`, job.ID, lastError)
		if err != nil {
			return fmt.Errorf("fail job: %w", err)
		}
	}
	return nil
}

// RetryDelay computes the backoff before the next attempt: base doubled
// per completed attempt, capped.
func RetryDelay(attempts int, base, cap time.Duration) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			return cap
		}
	}
	if delay > cap {
		return cap
	}
	return delay
}
