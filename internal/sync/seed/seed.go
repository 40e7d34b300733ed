// Package seed implements the idempotent upsert half of mailing-list
// seeding (spec §6, SUPPLEMENTED FEATURES #1). Decoding the upstream
// gzip/JSON grokmirror manifest into plain tuples stays external (the
// original's sync/manifest.rs fetch_manifest/parse_manifest); this
// package only consumes the already-decoded result and makes the
// database agree with it.
package seed

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/sparkpost-monitor/internal/pkg/logger"
	"github.com/ignite/sparkpost-monitor/internal/sync/schema"
)

// RepoShard is one epoch-ordered git remote belonging to a mailing
// list, mirroring the original's RepoShard{url, order}.
type RepoShard struct {
	URL        string
	EpochOrder int
}

// Entry is one manifest-derived mailing list, the decoded shape of the
// original's MailingListFromManifest.
type Entry struct {
	Slug        string
	DisplayName string
	Description string
	Repos       []RepoShard
}

// Seeder applies decoded manifest entries to the database.
type Seeder struct {
	db *sql.DB
}

func New(db *sql.DB) *Seeder {
	return &Seeder{db: db}
}

// Seed upserts one mailing list and all of its repository shards. When
// the list did not already exist, it also creates that list's
// partition set (spec §6: "one partition per list, created atomically
// when a list is first seeded").
func (s *Seeder) Seed(ctx context.Context, e Entry) error {
	if e.Slug == "" {
		return fmt.Errorf("seed: entry has no slug")
	}

	listID, created, err := s.upsertMailingList(ctx, e)
	if err != nil {
		return fmt.Errorf("seed %s: %w", e.Slug, err)
	}

	if created {
		if err := schema.EnsureListPartitions(ctx, s.db, listID); err != nil {
			return fmt.Errorf("seed %s: %w", e.Slug, err)
		}
		logger.Info("seed created mailing list", "slug", e.Slug, "mailing_list_id", listID)
	}

	for _, r := range e.Repos {
		if err := s.upsertRepository(ctx, listID, r); err != nil {
			return fmt.Errorf("seed %s epoch %d: %w", e.Slug, r.EpochOrder, err)
		}
	}

	return nil
}

// SeedAll applies every entry, continuing past individual failures so
// one malformed list doesn't block the rest of a manifest run. It
// returns the first error encountered, if any, after attempting all
// entries.
func (s *Seeder) SeedAll(ctx context.Context, entries []Entry) error {
	var firstErr error
	for _, e := range entries {
		if err := s.Seed(ctx, e); err != nil {
			logger.Error("seed entry failed", "slug", e.Slug, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// upsertMailingList inserts or updates one mailing list by slug,
// returning its id and whether this call created the row.
func (s *Seeder) upsertMailingList(ctx context.Context, e Entry) (id int32, created bool, err error) {
	err = s.db.QueryRowContext(ctx, `
		INSERT INTO mailing_lists (slug, display_name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			description = EXCLUDED.description
		RETURNING id, (xmax = 0)
	`, e.Slug, e.DisplayName, e.Description).Scan(&id, &created)
	if err != nil {
		return 0, false, fmt.Errorf("upsert mailing list: %w", err)
	}
	return id, created, nil
}

// upsertRepository inserts or updates one (mailing_list, epoch) shard's
// remote URL, leaving last_indexed_commit untouched when the row
// already exists (re-seeding must never roll back a checkpoint).
func (s *Seeder) upsertRepository(ctx context.Context, listID int32, r RepoShard) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mailing_list_repositories (mailing_list_id, epoch, remote_url)
		VALUES ($1, $2, $3)
		ON CONFLICT (mailing_list_id, epoch) DO UPDATE SET
			remote_url = EXCLUDED.remote_url
	`, listID, r.EpochOrder, r.URL)
	if err != nil {
		return fmt.Errorf("upsert repository: %w", err)
	}
	return nil
}
