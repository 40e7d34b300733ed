package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// ErrNotFound mirrors the teacher's per-repo not-found sentinels
// (campaign.ErrNotFound, suppression's equivalent) for this domain's
// read-side lookups.
var ErrNotFound = fmt.Errorf("not found")

// MailingListRepo implements read/admin access to mailing_lists and
// mailing_list_repositories for the status/admin surface (cmd/statusd)
// and any external seeder driving tuples into internal/sync/seed. The
// dispatcher and importer deliberately do not go through this type —
// they own their bulk/transactional SQL directly, the same way the
// teacher's internal/worker packages never route through
// internal/repository/postgres either.
type MailingListRepo struct{ db *sql.DB }

func NewMailingListRepo(db *sql.DB) *MailingListRepo { return &MailingListRepo{db: db} }

// List returns every mailing list ordered by sync_priority descending,
// then slug.
func (r *MailingListRepo) List(ctx context.Context) ([]domain.MailingList, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, slug, display_name, description, enabled, sync_priority,
		       created_at, last_synced_at, last_threaded_at
		FROM mailing_lists
		ORDER BY sync_priority DESC, slug
	`)
	if err != nil {
		return nil, fmt.Errorf("list mailing lists: %w", err)
	}
	defer rows.Close()

	var out []domain.MailingList
	for rows.Next() {
		var l domain.MailingList
		if err := rows.Scan(&l.ID, &l.Slug, &l.DisplayName, &l.Description, &l.Enabled,
			&l.SyncPriority, &l.CreatedAt, &l.LastSyncedAt, &l.LastThreaded); err != nil {
			return nil, fmt.Errorf("list mailing lists: scan: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// GetBySlug fetches one mailing list by its unique slug.
func (r *MailingListRepo) GetBySlug(ctx context.Context, slug string) (*domain.MailingList, error) {
	var l domain.MailingList
	err := r.db.QueryRowContext(ctx, `
		SELECT id, slug, display_name, description, enabled, sync_priority,
		       created_at, last_synced_at, last_threaded_at
		FROM mailing_lists
		WHERE slug = $1
	`, slug).Scan(&l.ID, &l.Slug, &l.DisplayName, &l.Description, &l.Enabled,
		&l.SyncPriority, &l.CreatedAt, &l.LastSyncedAt, &l.LastThreaded)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get mailing list: %w", err)
	}
	return &l, nil
}

// SetEnabled flips a list's enabled flag, e.g. from an admin surface
// pausing sync on a list without removing its rows.
func (r *MailingListRepo) SetEnabled(ctx context.Context, id int32, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE mailing_lists SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("set enabled: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Repositories returns every epoch shard for one mailing list, ascending
// by epoch — the same shape loadMailingList builds in
// internal/sync/dispatcher, exposed here for admin/read use.
func (r *MailingListRepo) Repositories(ctx context.Context, mailingListID int32) ([]domain.MailingListRepository, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, mailing_list_id, epoch, remote_url, last_indexed_commit
		FROM mailing_list_repositories
		WHERE mailing_list_id = $1
		ORDER BY epoch
	`, mailingListID)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()

	var out []domain.MailingListRepository
	for rows.Next() {
		var repo domain.MailingListRepository
		if err := rows.Scan(&repo.ID, &repo.MailingListID, &repo.Epoch, &repo.RemoteURL, &repo.LastIndexedCommit); err != nil {
			return nil, fmt.Errorf("list repositories: scan: %w", err)
		}
		out = append(out, repo)
	}
	return out, rows.Err()
}
