package gitsource

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/sparkpost-monitor/internal/sync/errs"
)

func initEpochRepo(t *testing.T, base, slug string, epoch int) (string, []string) {
	t.Helper()
	path := filepath.Join(base, slug, "git", fmt.Sprintf("%d.git", epoch))
	require.NoError(t, os.MkdirAll(path, 0o755))

	repo, err := git.PlainInit(path, false)
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	sig := &object.Signature{Name: "Dev", Email: "dev@example.com", When: time.Now()}

	require.NoError(t, os.WriteFile(filepath.Join(path, "m"), []byte("first message"), 0o644))
	_, err = wt.Add("m")
	require.NoError(t, err)
	h1, err := wt.Commit("first", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(path, "m"), []byte("second message"), 0o644))
	_, err = wt.Add("m")
	require.NoError(t, err)
	h2, err := wt.Commit("second", &git.CommitOptions{Author: sig})
	require.NoError(t, err)

	return path, []string{h1.String(), h2.String()}
}

func TestListCommitsChronologicalOrder(t *testing.T) {
	base := t.TempDir()
	_, hashes := initEpochRepo(t, base, "myslug", 0)

	src := New(base)
	commits, err := src.ListCommits("myslug", 0, "")
	require.NoError(t, err)
	require.Len(t, commits, 2)
	assert.Equal(t, hashes[0], commits[0].CommitHash)
	assert.Equal(t, hashes[1], commits[1].CommitHash)
	assert.Equal(t, BlobName, commits[0].BlobName)
	assert.Equal(t, 0, commits[0].Epoch)
}

func TestListCommitsSinceExcludesCheckpoint(t *testing.T) {
	base := t.TempDir()
	_, hashes := initEpochRepo(t, base, "myslug", 0)

	src := New(base)
	commits, err := src.ListCommits("myslug", 0, hashes[0])
	require.NoError(t, err)
	require.Len(t, commits, 1)
	assert.Equal(t, hashes[1], commits[0].CommitHash)
}

func TestListCommitsSinceAtTipIsEmpty(t *testing.T) {
	base := t.TempDir()
	_, hashes := initEpochRepo(t, base, "myslug", 0)

	src := New(base)
	commits, err := src.ListCommits("myslug", 0, hashes[1])
	require.NoError(t, err)
	assert.Empty(t, commits)
}

func TestReadBlobReturnsContentsAtCommit(t *testing.T) {
	base := t.TempDir()
	_, hashes := initEpochRepo(t, base, "myslug", 0)

	src := New(base)
	data, err := src.ReadBlob("myslug", 0, hashes[0])
	require.NoError(t, err)
	assert.Equal(t, "first message", string(data))

	data, err = src.ReadBlob("myslug", 0, hashes[1])
	require.NoError(t, err)
	assert.Equal(t, "second message", string(data))
}

func TestValidateMirrorsMissingPath(t *testing.T) {
	base := t.TempDir()
	src := New(base)
	err := src.ValidateMirrors("nosuchslug", []int{0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.MirrorMissing))
}

func TestValidateMirrorsNotARepo(t *testing.T) {
	base := t.TempDir()
	path := filepath.Join(base, "badslug", "git", "0.git")
	require.NoError(t, os.MkdirAll(path, 0o755))

	src := New(base)
	err := src.ValidateMirrors("badslug", []int{0})
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.MirrorMissing))
}

func TestValidateMirrorsValid(t *testing.T) {
	base := t.TempDir()
	initEpochRepo(t, base, "myslug", 0)

	src := New(base)
	err := src.ValidateMirrors("myslug", []int{0})
	assert.NoError(t, err)
}
