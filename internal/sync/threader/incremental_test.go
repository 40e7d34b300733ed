package threader

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandAffectedSetFollowsChainToFixedPoint(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT DISTINCT e2.id").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int32(2)))
	mock.ExpectQuery("SELECT DISTINCT e2.id").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := ExpandAffectedSet(context.Background(), db, 7, []int32{1})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{1, 2}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpandAffectedSetNoNewIDsStopsImmediately(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT DISTINCT e2.id").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	ids, err := ExpandAffectedSet(context.Background(), db, 7, []int32{1})
	require.NoError(t, err)
	assert.Equal(t, []int32{1}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAffectedThreadIDsEmptyInputSkipsQuery(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ids, err := AffectedThreadIDs(context.Background(), db, 7, nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAffectedThreadIDsReturnsDistinctThreads(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("SELECT DISTINCT thread_id FROM thread_memberships").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"thread_id"}).AddRow(int32(10)).AddRow(int32(11)))

	ids, err := AffectedThreadIDs(context.Background(), db, 7, []int32{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, []int32{10, 11}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

// TestRethreadAffectedRebuildsSingleThread covers spec S5: rethreading
// E1/E2/E3 after deleting their prior thread should produce one thread
// with the new, longer member chain.
func TestRethreadAffectedRebuildsSingleThread(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM thread_memberships").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("DELETE FROM threads").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT root_message_id, membership_hash").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"root_message_id", "membership_hash"}))
	mock.ExpectQuery("INSERT INTO threads").
		WithArgs(int32(7), "a@x", "Hello", sqlmock.AnyArg(), sqlmock.AnyArg(), 3, sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int32(99)))
	mock.ExpectExec("INSERT INTO thread_memberships").
		WithArgs(int32(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectCommit()

	e1 := mustDate(t, "2024-01-01T00:00:00Z")
	e2 := mustDate(t, "2024-01-01T01:00:00Z")
	e3 := mustDate(t, "2024-01-01T02:00:00Z")
	emails := map[int32]EmailData{
		1: {EmailID: 1, MessageID: "a@x", Subject: "Hello", Date: e1},
		2: {EmailID: 2, MessageID: "b@x", Subject: "Re: Hello", InReplyTo: strPtr("a@x"), Date: e2},
		3: {EmailID: 3, MessageID: "c@x", Subject: "Re: Hello", InReplyTo: strPtr("b@x"), Date: e3},
	}
	references := map[int32][]string{
		2: {"a@x"},
		3: {"b@x"},
	}

	ids, err := RethreadAffected(context.Background(), db, 7, []int32{55}, emails, references, Options{})
	require.NoError(t, err)
	assert.Equal(t, []int32{99}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
