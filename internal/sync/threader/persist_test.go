package threader

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFinalizeDedupesKeepingFirstSeenDepth(t *testing.T) {
	info := ThreadInfo{
		RootMessageID: "a@x",
		Members: []MemberDepth{
			{EmailID: 1, Depth: 0},
			{EmailID: 2, Depth: 1},
			{EmailID: 1, Depth: 5}, // duplicate, later depth must be dropped
		},
	}

	fin := Finalize(info)
	assert.Equal(t, 2, fin.MessageCount)
	require.Len(t, fin.Members, 2)
	assert.Equal(t, MemberDepth{EmailID: 1, Depth: 0}, fin.Members[0])
	assert.Equal(t, MemberDepth{EmailID: 2, Depth: 1}, fin.Members[1])
}

// TestMembershipHashDeterministicAndSensitive covers P8: identical
// member sets hash identically; any change in membership changes it.
func TestMembershipHashDeterministicAndSensitive(t *testing.T) {
	h1 := MembershipHash([]int32{1, 2, 3})
	h2 := MembershipHash([]int32{1, 2, 3})
	assert.Equal(t, h1, h2)

	h3 := MembershipHash([]int32{1, 2})
	assert.NotEqual(t, h1, h3)

	h4 := MembershipHash([]int32{1, 2, 4})
	assert.NotEqual(t, h1, h4)
}

func TestBulkInsertThreadsSkipsUnchangedThread(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fin := Finalize(ThreadInfo{
		RootMessageID: "a@x",
		Subject:       "Hello",
		StartDate:     time.Unix(0, 0),
		LastDate:      time.Unix(100, 0),
		Members:       []MemberDepth{{EmailID: 1, Depth: 0}, {EmailID: 2, Depth: 1}},
	})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT root_message_id, membership_hash").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"root_message_id", "membership_hash"}).
			AddRow("a@x", fin.MembershipHash))
	mock.ExpectCommit()

	ids, err := BulkInsertThreads(context.Background(), db, 7, []FinalizedThread{fin})
	require.NoError(t, err)
	assert.Empty(t, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertThreadsUpsertsChangedThread(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	fin := Finalize(ThreadInfo{
		RootMessageID: "a@x",
		Subject:       "Hello",
		StartDate:     time.Unix(0, 0),
		LastDate:      time.Unix(100, 0),
		Members:       []MemberDepth{{EmailID: 1, Depth: 0}, {EmailID: 2, Depth: 1}},
	})

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT root_message_id, membership_hash").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"root_message_id", "membership_hash"}).
			AddRow("a@x", "stale-hash"))
	mock.ExpectQuery("INSERT INTO threads").
		WithArgs(int32(7), "a@x", "Hello", fin.StartDate, fin.LastDate, 2, fin.MembershipHash).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int32(42)))
	mock.ExpectExec("INSERT INTO thread_memberships").
		WithArgs(int32(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	ids, err := BulkInsertThreads(context.Background(), db, 7, []FinalizedThread{fin})
	require.NoError(t, err)
	assert.Equal(t, []int32{42}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBulkInsertThreadsEmptyInputIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ids, err := BulkInsertThreads(context.Background(), db, 7, nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
