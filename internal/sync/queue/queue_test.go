package queue

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

var jobCols = []string{
	"id", "mailing_list_id", "status", "phase", "created_at", "started_at",
	"completed_at", "error_message", "attempt", "metrics", "last_heartbeat",
}

func TestEnqueueReturnsNewJobID(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	want := uuid.New()
	mock.ExpectQuery("INSERT INTO sync_jobs").
		WithArgs(int32(7), domain.SyncJobQueued, domain.PhaseWaiting, domain.JobMetrics{}).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(want))

	q := New(db)
	got, err := q.Enqueue(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextReturnsNilWhenEmpty(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("WITH claimed AS").
		WithArgs(domain.SyncJobQueued, domain.SyncJobRunning).
		WillReturnRows(sqlmock.NewRows(jobCols))

	q := New(db)
	job, err := q.ClaimNext(context.Background())
	require.NoError(t, err)
	assert.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClaimNextReturnsClaimedJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("WITH claimed AS").
		WithArgs(domain.SyncJobQueued, domain.SyncJobRunning).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow(id, int32(7), domain.SyncJobRunning, domain.PhaseWaiting, now, now, nil, nil, 0, domain.JobMetrics{}, now))

	q := New(db)
	job, err := q.ClaimNext(context.Background())
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, domain.SyncJobRunning, job.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsNilWhenJobMissing(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT id, mailing_list_id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(jobCols))

	q := New(db)
	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, job)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsJob(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("SELECT id, mailing_list_id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow(id, int32(7), domain.SyncJobFailed, domain.PhaseImporting, now, now, now, "boom", 1, domain.JobMetrics{}, now))

	q := New(db)
	job, err := q.Get(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, job)
	assert.Equal(t, domain.SyncJobFailed, job.Status)
	require.NotNil(t, job.ErrorMessage)
	assert.Equal(t, "boom", *job.ErrorMessage)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestIsCancelledReportsCancelledStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectQuery("SELECT status FROM sync_jobs").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(domain.SyncJobCancelled))

	q := New(db)
	cancelled, err := q.IsCancelled(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, cancelled)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFailSerializesErrorMessageVerbatim(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	id := uuid.New()
	mock.ExpectExec("UPDATE sync_jobs SET status").
		WithArgs(domain.SyncJobFailed, "boom", id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := New(db)
	err = q.Fail(context.Background(), id, "boom")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReclaimStaleResetsToQueued(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sync_jobs").
		WithArgs(domain.SyncJobQueued, domain.SyncJobRunning, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	q := New(db)
	n, err := q.ReclaimStale(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCancelAllMarksRunningJobsCancelled(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sync_jobs SET status").
		WithArgs(domain.SyncJobCancelled, domain.SyncJobRunning).
		WillReturnResult(sqlmock.NewResult(0, 1))

	q := New(db)
	n, err := q.CancelAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}
