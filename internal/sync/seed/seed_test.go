package seed

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeedCreatesPartitionsOnlyWhenListIsNew(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO mailing_lists").
		WithArgs("lkml", "Linux Kernel Mailing List", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow(int32(7), true))

	mock.ExpectBegin()
	for i := 0; i < 5; i++ {
		mock.ExpectExec("CREATE TABLE IF NOT EXISTS").WillReturnResult(sqlmock.NewResult(0, 0))
	}
	mock.ExpectCommit()

	mock.ExpectExec("INSERT INTO mailing_list_repositories").
		WithArgs(int32(7), 0, "https://lore.kernel.org/lkml/git/0.git").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO mailing_list_repositories").
		WithArgs(int32(7), 1, "https://lore.kernel.org/lkml/git/1.git").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(db)
	err = s.Seed(context.Background(), Entry{
		Slug:        "lkml",
		DisplayName: "Linux Kernel Mailing List",
		Repos: []RepoShard{
			{URL: "https://lore.kernel.org/lkml/git/0.git", EpochOrder: 0},
			{URL: "https://lore.kernel.org/lkml/git/1.git", EpochOrder: 1},
		},
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedSkipsPartitionsWhenListAlreadyExists(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO mailing_lists").
		WithArgs("bpf", "BPF", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow(int32(3), false))
	mock.ExpectExec("INSERT INTO mailing_list_repositories").
		WithArgs(int32(3), 0, "https://lore.kernel.org/bpf/git/0.git").
		WillReturnResult(sqlmock.NewResult(0, 1))

	s := New(db)
	err = s.Seed(context.Background(), Entry{
		Slug:        "bpf",
		DisplayName: "BPF",
		Repos:       []RepoShard{{URL: "https://lore.kernel.org/bpf/git/0.git", EpochOrder: 0}},
	})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSeedRejectsEmptySlug(t *testing.T) {
	s := New(nil)
	err := s.Seed(context.Background(), Entry{Slug: ""})
	require.Error(t, err)
}

func TestSeedAllContinuesPastIndividualFailures(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery("INSERT INTO mailing_lists").
		WithArgs("good", "Good List", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "created"}).AddRow(int32(1), false))

	s := New(db)
	err = s.SeedAll(context.Background(), []Entry{
		{Slug: ""},
		{Slug: "good", DisplayName: "Good List"},
	})

	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
