package importer

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/sync/cache"
	"github.com/ignite/sparkpost-monitor/internal/sync/parser"
)

func sampleRecord(t *testing.T, messageID, senderEmail string, date time.Time) Record {
	t.Helper()
	return Record{
		CommitHash: "deadbeef",
		Epoch:      0,
		Parsed: parser.ParsedEmail{
			MessageID:         messageID,
			Subject:           "Hello",
			NormalizedSubject: "hello",
			Date:              date,
			AuthorName:        "Alice",
			AuthorEmail:       senderEmail,
			Body:              "body",
			SearchBody:        "body",
			ToAddrs:           []parser.Address{{Name: "Bob", Email: "bob@example.com"}},
		},
	}
}

func TestImportChunkEmptyIsNoop(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	c := cache.New(7)
	stats, err := ImportChunk(context.Background(), db, 7, nil, c)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportChunkFullPipeline(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	date := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	records := []Record{sampleRecord(t, "a@x", "alice@example.com", date)}

	// The id-fetch phase runs two queries concurrently on separate
	// goroutines (spec §4.5 step 3); their relative arrival order at
	// the mock isn't guaranteed, same as the teacher's own handling of
	// concurrent DB calls in journey_executor_test.go.
	mock.MatchExpectationsInOrder(false)

	mock.ExpectExec("INSERT INTO authors").
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 2))

	mock.ExpectQuery("SELECT email, id FROM authors").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"email", "id"}).AddRow("alice@example.com", int32(1)))

	mock.ExpectExec("INSERT INTO emails").
		WithArgs(int32(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	mock.ExpectQuery("SELECT message_id, id FROM emails").
		WithArgs(int32(7), sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"message_id", "id"}).AddRow("a@x", int32(10)))
	mock.ExpectQuery("SELECT email, id FROM authors").
		WithArgs(sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"email", "id"}).AddRow("bob@example.com", int32(2)))

	mock.ExpectExec("INSERT INTO email_recipients").
		WithArgs(int32(7), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	c := cache.New(7)
	stats, err := ImportChunk(context.Background(), db, 7, records, c)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.EmailsInserted)
	assert.Equal(t, 0, stats.EmailsSkipped)
	assert.Equal(t, 1, stats.RecipientsInserted)
	assert.Equal(t, 0, stats.ReferencesInserted)

	info, ok := c.Lookup("a@x")
	require.True(t, ok)
	assert.Equal(t, int32(10), info.EmailID)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateAuthorActivityRunsUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO author_mailing_list_activity").
		WithArgs(int32(7)).
		WillReturnRows(sqlmock.NewRows([]string{"author_id"}).AddRow(int32(3)).AddRow(int32(9)))

	ids, err := UpdateAuthorActivity(context.Background(), db, 7)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int32{3, 9}, ids)
	require.NoError(t, mock.ExpectationsWereMet())
}
