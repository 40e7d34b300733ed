package queue

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

type fakeLock struct {
	acquireResult bool
	acquireErr    error
	released      bool
}

func (f *fakeLock) Acquire(ctx context.Context) (bool, error) { return f.acquireResult, f.acquireErr }
func (f *fakeLock) Release(ctx context.Context) error {
	f.released = true
	return nil
}

func TestJanitorRunOnceReclaimsWhenLockAcquired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE sync_jobs").
		WithArgs(domain.SyncJobQueued, domain.SyncJobRunning, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))

	lock := &fakeLock{acquireResult: true}
	j := NewJanitor(New(db), lock)

	require.NoError(t, j.RunOnce(context.Background()))
	assert.True(t, lock.released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestJanitorRunOnceSkipsWhenLockNotAcquired(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	lock := &fakeLock{acquireResult: false}
	j := NewJanitor(New(db), lock)

	require.NoError(t, j.RunOnce(context.Background()))
	assert.False(t, lock.released)
	require.NoError(t, mock.ExpectationsWereMet())
}
