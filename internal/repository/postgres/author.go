package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

// AuthorRepo implements read access to authors, their name aliases, and
// their per-list activity rollups. The importer owns the bulk
// upsert/dedup path for these tables directly (internal/sync/importer);
// this type exists for the admin/status surface to look an author up
// by email without importing the bulk-import package.
type AuthorRepo struct{ db *sql.DB }

func NewAuthorRepo(db *sql.DB) *AuthorRepo { return &AuthorRepo{db: db} }

// GetByEmail fetches one author by lowercased email.
func (r *AuthorRepo) GetByEmail(ctx context.Context, email string) (*domain.Author, error) {
	var a domain.Author
	err := r.db.QueryRowContext(ctx, `
		SELECT id, email, canonical_name, first_seen, last_seen
		FROM authors
		WHERE email = $1
	`, email).Scan(&a.ID, &a.Email, &a.CanonicalName, &a.FirstSeen, &a.LastSeen)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get author: %w", err)
	}
	return &a, nil
}

// Aliases returns every display name observed for an author, most
// recently seen first.
func (r *AuthorRepo) Aliases(ctx context.Context, authorID int32) ([]domain.AuthorNameAlias, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, author_id, name, usage_count, first_seen_at, last_seen_at
		FROM author_name_aliases
		WHERE author_id = $1
		ORDER BY last_seen_at DESC
	`, authorID)
	if err != nil {
		return nil, fmt.Errorf("list aliases: %w", err)
	}
	defer rows.Close()

	var out []domain.AuthorNameAlias
	for rows.Next() {
		var al domain.AuthorNameAlias
		if err := rows.Scan(&al.ID, &al.AuthorID, &al.Name, &al.UsageCount, &al.FirstSeenAt, &al.LastSeenAt); err != nil {
			return nil, fmt.Errorf("list aliases: scan: %w", err)
		}
		out = append(out, al)
	}
	return out, rows.Err()
}

// Activity returns one author's rollup on one mailing list, refreshed
// post-import by internal/sync/importer's UpdateAuthorActivity.
func (r *AuthorRepo) Activity(ctx context.Context, authorID, mailingListID int32) (*domain.AuthorMailingListActivity, error) {
	var act domain.AuthorMailingListActivity
	err := r.db.QueryRowContext(ctx, `
		SELECT author_id, mailing_list_id, first_email_at, last_email_at, email_count, thread_count
		FROM author_mailing_list_activity
		WHERE author_id = $1 AND mailing_list_id = $2
	`, authorID, mailingListID).Scan(&act.AuthorID, &act.MailingListID, &act.FirstEmailAt,
		&act.LastEmailAt, &act.EmailCount, &act.ThreadCount)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get activity: %w", err)
	}
	return &act, nil
}
