// Package queue implements the durable sync job queue (spec §4.1):
// skip-locked claim, heartbeats, phase labels, terminal transitions, and
// a janitor pass for stale-job recovery. The claim query follows the
// teacher's own FOR UPDATE SKIP LOCKED CTE
// (internal/worker/send_worker_batch.go's claimQueueItems).
package queue

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// StaleAfter is T_stale (spec §4.1): a job whose heartbeat is older than
// this is recoverable by the janitor. Default 2x the longest phase step
// budget (5 min), per spec.
const StaleAfter = 5 * time.Minute

// Queue is a thin wrapper around *sql.DB implementing the job-queue
// contract. It holds no state of its own; every operation is one
// transaction.
type Queue struct {
	db *sql.DB
}

func New(db *sql.DB) *Queue {
	return &Queue{db: db}
}

// Enqueue inserts a new Queued job for listID (spec §4.1 "always
// produces a row"; idempotence is the caller's discretion).
func (q *Queue) Enqueue(ctx context.Context, listID int32) (uuid.UUID, error) {
	var id uuid.UUID
	err := q.db.QueryRowContext(ctx, `
		INSERT INTO sync_jobs (id, mailing_list_id, status, phase, created_at, last_heartbeat, metrics)
		VALUES (gen_random_uuid(), $1, $2, $3, now(), now(), $4)
		RETURNING id
	`, listID, domain.SyncJobQueued, domain.PhaseWaiting, domain.JobMetrics{}).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("enqueue job for list %d: %w", listID, err)
	}
	return id, nil
}

// EnqueueAllEnabled enqueues one job per enabled mailing list (spec §4.1).
func (q *Queue) EnqueueAllEnabled(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := q.db.QueryContext(ctx, `
		INSERT INTO sync_jobs (id, mailing_list_id, status, phase, created_at, last_heartbeat, metrics)
		SELECT gen_random_uuid(), ml.id, $1, $2, now(), now(), $3
		FROM mailing_lists ml
		WHERE ml.enabled
		RETURNING id
	`, domain.SyncJobQueued, domain.PhaseWaiting, domain.JobMetrics{})
	if err != nil {
		return nil, fmt.Errorf("enqueue all enabled: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan enqueued job id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate enqueued job ids: %w", err)
	}
	return ids, nil
}

// ClaimNext atomically selects the oldest Queued job not held by any
// other claimer and transitions it to Running, all in one transaction
// (spec §4.1). Returns (nil, nil) if no job is claimable.
func (q *Queue) ClaimNext(ctx context.Context) (*domain.SyncJob, error) {
	row := q.db.QueryRowContext(ctx, `
		WITH claimed AS (
			SELECT id
			FROM sync_jobs
			WHERE status = $1
			ORDER BY created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE sync_jobs j
		SET status = $2, started_at = now(), last_heartbeat = now()
		FROM claimed c
		WHERE j.id = c.id
		RETURNING j.id, j.mailing_list_id, j.status, j.phase, j.created_at,
		          j.started_at, j.completed_at, j.error_message, j.attempt,
		          j.metrics, j.last_heartbeat
	`, domain.SyncJobQueued, domain.SyncJobRunning)

	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next job: %w", err)
	}
	return job, nil
}

// Heartbeat touches last_heartbeat for a running job (spec §4.1).
func (q *Queue) Heartbeat(ctx context.Context, jobID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `UPDATE sync_jobs SET last_heartbeat = now() WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("heartbeat job %s: %w", jobID, err)
	}
	return nil
}

// UpdatePhase sets the free-form phase label (spec §4.1).
func (q *Queue) UpdatePhase(ctx context.Context, jobID uuid.UUID, phase string) error {
	_, err := q.db.ExecContext(ctx, `UPDATE sync_jobs SET phase = $1 WHERE id = $2`, phase, jobID)
	if err != nil {
		return fmt.Errorf("update phase for job %s: %w", jobID, err)
	}
	return nil
}

// UpdateMetrics overwrites a job's opaque progress/metrics object.
func (q *Queue) UpdateMetrics(ctx context.Context, jobID uuid.UUID, metrics domain.JobMetrics) error {
	_, err := q.db.ExecContext(ctx, `UPDATE sync_jobs SET metrics = $1 WHERE id = $2`, metrics, jobID)
	if err != nil {
		return fmt.Errorf("update metrics for job %s: %w", jobID, err)
	}
	return nil
}

// Complete marks a job Completed (spec §4.1 terminal transition).
func (q *Queue) Complete(ctx context.Context, jobID uuid.UUID) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = $1, completed_at = now() WHERE id = $2
	`, domain.SyncJobCompleted, jobID)
	if err != nil {
		return fmt.Errorf("complete job %s: %w", jobID, err)
	}
	return nil
}

// Fail marks a job Failed with the given message serialized verbatim
// (spec §7 propagation policy).
func (q *Queue) Fail(ctx context.Context, jobID uuid.UUID, errMsg string) error {
	_, err := q.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = $1, completed_at = now(), error_message = $2 WHERE id = $3
	`, domain.SyncJobFailed, errMsg, jobID)
	if err != nil {
		return fmt.Errorf("fail job %s: %w", jobID, err)
	}
	return nil
}

// CancelAll marks every Running job Cancelled (spec §4.1).
func (q *Queue) CancelAll(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_jobs SET status = $1, completed_at = now() WHERE status = $2
	`, domain.SyncJobCancelled, domain.SyncJobRunning)
	if err != nil {
		return 0, fmt.Errorf("cancel all running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("cancel all rows affected: %w", err)
	}
	return int(n), nil
}

// IsCancelled reports whether jobID has been marked Cancelled; polled at
// phase boundaries and every N chunks within a phase (spec §5).
func (q *Queue) IsCancelled(ctx context.Context, jobID uuid.UUID) (bool, error) {
	var status domain.SyncJobStatus
	err := q.db.QueryRowContext(ctx, `SELECT status FROM sync_jobs WHERE id = $1`, jobID).Scan(&status)
	if err != nil {
		return false, fmt.Errorf("check cancellation for job %s: %w", jobID, err)
	}
	return status == domain.SyncJobCancelled, nil
}

// Get fetches one job by id, for the job-status endpoint (spec §6:
// "status, phase, last heartbeat, and error message when Failed").
func (q *Queue) Get(ctx context.Context, jobID uuid.UUID) (*domain.SyncJob, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, mailing_list_id, status, phase, created_at, started_at,
		       completed_at, error_message, attempt, metrics, last_heartbeat
		FROM sync_jobs WHERE id = $1
	`, jobID)
	job, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job %s: %w", jobID, err)
	}
	return job, nil
}

// Status returns the queue's current read model (spec §4.1).
func (q *Queue) Status(ctx context.Context) (domain.QueueStatus, error) {
	var out domain.QueueStatus

	currentRow := q.db.QueryRowContext(ctx, `
		SELECT id, mailing_list_id, status, phase, created_at, started_at,
		       completed_at, error_message, attempt, metrics, last_heartbeat
		FROM sync_jobs WHERE status = $1
		ORDER BY started_at DESC LIMIT 1
	`, domain.SyncJobRunning)
	current, err := scanJob(currentRow)
	if err != nil && err != sql.ErrNoRows {
		return out, fmt.Errorf("load current job: %w", err)
	}
	if err == nil {
		out.Current = current
		out.IsRunning = true
	}

	rows, err := q.db.QueryContext(ctx, `
		SELECT id, mailing_list_id, status, phase, created_at, started_at,
		       completed_at, error_message, attempt, metrics, last_heartbeat
		FROM sync_jobs WHERE status = $1
		ORDER BY created_at ASC
	`, domain.SyncJobQueued)
	if err != nil {
		return out, fmt.Errorf("load queued jobs: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		job, err := scanJobRow(rows)
		if err != nil {
			return out, fmt.Errorf("scan queued job: %w", err)
		}
		out.Queued = append(out.Queued, *job)
	}
	if err := rows.Err(); err != nil {
		return out, fmt.Errorf("iterate queued jobs: %w", err)
	}
	return out, nil
}

// ReclaimStale resets jobs whose heartbeat is older than StaleAfter back
// to Queued with an incremented attempt counter (spec §4.1 janitor
// pass). Returns the number of jobs reclaimed.
func (q *Queue) ReclaimStale(ctx context.Context) (int, error) {
	res, err := q.db.ExecContext(ctx, `
		UPDATE sync_jobs
		SET status = $1, started_at = NULL, attempt = attempt + 1
		WHERE status = $2 AND last_heartbeat < $3
	`, domain.SyncJobQueued, domain.SyncJobRunning, time.Now().Add(-StaleAfter))
	if err != nil {
		return 0, fmt.Errorf("reclaim stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reclaim stale rows affected: %w", err)
	}
	return int(n), nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row *sql.Row) (*domain.SyncJob, error) {
	return scanJobFromScanner(row)
}

func scanJobRow(rows *sql.Rows) (*domain.SyncJob, error) {
	return scanJobFromScanner(rows)
}

func scanJobFromScanner(s scanner) (*domain.SyncJob, error) {
	var j domain.SyncJob
	err := s.Scan(
		&j.ID, &j.MailingListID, &j.Status, &j.Phase, &j.CreatedAt,
		&j.StartedAt, &j.CompletedAt, &j.ErrorMessage, &j.Attempt,
		&j.Metrics, &j.LastHeartbeat,
	)
	if err != nil {
		return nil, err
	}
	return &j, nil
}
