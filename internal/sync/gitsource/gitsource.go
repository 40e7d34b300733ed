// Package gitsource enumerates commits and reads email blobs out of
// public-inbox v2 git mirrors (spec §4.2). It reads mirrors directly
// with go-git rather than shelling out to the git binary, so a missing
// or corrupt mirror surfaces as a typed error instead of a parsed CLI
// exit code.
package gitsource

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"github.com/ignite/sparkpost-monitor/internal/sync/errs"
)

// BlobName is the public-inbox v2 payload blob at the tree root.
const BlobName = "m"

// CommitRef names one commit in one epoch that carries an "m" blob.
type CommitRef struct {
	CommitHash string
	BlobName   string
	Epoch      int
}

// Source reads epoch mirrors rooted at <mirrorBase>/<slug>/git/<epoch>.git.
type Source struct {
	mirrorBase string
}

// New builds a Source rooted at mirrorBase.
func New(mirrorBase string) *Source {
	return &Source{mirrorBase: mirrorBase}
}

func (s *Source) epochPath(slug string, epoch int) string {
	return filepath.Join(s.mirrorBase, slug, "git", fmt.Sprintf("%d.git", epoch))
}

// ValidateMirrors fails with an operator-actionable error naming the
// first missing or invalid epoch path (spec §4.2, §7 MirrorMissing).
func (s *Source) ValidateMirrors(slug string, epochs []int) error {
	for _, epoch := range epochs {
		path := s.epochPath(slug, epoch)
		info, err := os.Stat(path)
		if err != nil {
			return fmt.Errorf("mailing list %q epoch %d: mirror not found at %s: %w", slug, epoch, path, errs.MirrorMissing)
		}
		if !info.IsDir() {
			return fmt.Errorf("mailing list %q epoch %d: mirror path %s is not a directory: %w", slug, epoch, path, errs.MirrorMissing)
		}
		if _, err := git.PlainOpen(path); err != nil {
			return fmt.Errorf("mailing list %q epoch %d: %s is not a valid git repository: %w: %v", slug, epoch, path, errs.MirrorMissing, err)
		}
	}
	return nil
}

// ListCommits walks every local branch from tip to root (or to since,
// exclusive), keeping only commits whose tree contains a blob named
// exactly "m", and returns them in chronological order (spec §4.2).
// Branches are visited in sorted-name order so the result is stable for
// a given (epoch, since).
func (s *Source) ListCommits(slug string, epoch int, since string) ([]CommitRef, error) {
	path := s.epochPath(slug, epoch)
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("mailing list %q epoch %d: open mirror: %w: %v", slug, epoch, errs.MirrorMissing, err)
	}

	branchIter, err := repo.Branches()
	if err != nil {
		return nil, fmt.Errorf("mailing list %q epoch %d: list branches: %w", slug, epoch, err)
	}

	refsByName := make(map[string]*plumbing.Reference)
	var names []string
	err = branchIter.ForEach(func(ref *plumbing.Reference) error {
		name := ref.Name().Short()
		refsByName[name] = ref
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mailing list %q epoch %d: iterate branches: %w", slug, epoch, err)
	}
	sort.Strings(names)

	var out []CommitRef
	for _, name := range names {
		branchCommits, err := s.walkBranch(repo, refsByName[name], epoch, since)
		if err != nil {
			return nil, fmt.Errorf("mailing list %q epoch %d branch %s: %w", slug, epoch, name, err)
		}
		out = append(out, branchCommits...)
	}
	return out, nil
}

// walkBranch walks tip-to-root collecting commits with an "m" blob,
// stopping at (and excluding) since, then reverses so the branch's own
// slice is oldest-first.
func (s *Source) walkBranch(repo *git.Repository, ref *plumbing.Reference, epoch int, since string) ([]CommitRef, error) {
	var collected []CommitRef
	hash := ref.Hash()

	for {
		if since != "" && hash.String() == since {
			break
		}

		commit, err := repo.CommitObject(hash)
		if err != nil {
			return nil, fmt.Errorf("load commit %s: %w", hash, err)
		}

		if hasBlob(commit, BlobName) {
			collected = append(collected, CommitRef{CommitHash: hash.String(), BlobName: BlobName, Epoch: epoch})
		}

		if commit.NumParents() == 0 {
			break
		}
		parent, err := commit.Parent(0)
		if err != nil {
			return nil, fmt.Errorf("load parent of %s: %w", hash, err)
		}
		hash = parent.Hash
	}

	for i, j := 0, len(collected)-1; i < j; i, j = i+1, j-1 {
		collected[i], collected[j] = collected[j], collected[i]
	}
	return collected, nil
}

func hasBlob(commit *object.Commit, name string) bool {
	tree, err := commit.Tree()
	if err != nil {
		return false
	}
	_, err = tree.File(name)
	return err == nil
}

// ReadBlob fetches the "m" blob's contents at commitHash (spec §4.2).
func (s *Source) ReadBlob(slug string, epoch int, commitHash string) ([]byte, error) {
	path := s.epochPath(slug, epoch)
	repo, err := git.PlainOpen(path)
	if err != nil {
		return nil, fmt.Errorf("mailing list %q epoch %d: open mirror: %w: %v", slug, epoch, errs.MirrorMissing, err)
	}

	commit, err := repo.CommitObject(plumbing.NewHash(commitHash))
	if err != nil {
		return nil, fmt.Errorf("mailing list %q epoch %d: load commit %s: %w", slug, epoch, commitHash, err)
	}
	tree, err := commit.Tree()
	if err != nil {
		return nil, fmt.Errorf("mailing list %q epoch %d: load tree at %s: %w", slug, epoch, commitHash, err)
	}
	file, err := tree.File(BlobName)
	if err != nil {
		return nil, fmt.Errorf("mailing list %q epoch %d commit %s: blob %q missing: %w: %v", slug, epoch, commitHash, BlobName, errs.Corruption, err)
	}
	contents, err := file.Contents()
	if err != nil {
		return nil, fmt.Errorf("mailing list %q epoch %d commit %s: read blob %q: %w", slug, epoch, commitHash, BlobName, err)
	}
	return []byte(contents), nil
}
