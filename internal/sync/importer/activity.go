package importer

import (
	"context"
	"database/sql"
	"fmt"
)

// UpdateAuthorActivity refreshes AuthorMailingListActivity for one
// mailing list: a single set-based upsert grouping Email by
// (author, mailing_list), joining ThreadMembership for thread counts
// (spec §4.5 "Author activity refresh"). Run after threading so
// thread_count reflects the just-persisted threads. Returns the set of
// author ids whose activity row changed, for the downstream event
// contract (spec §6).
func UpdateAuthorActivity(ctx context.Context, db *sql.DB, listID int32) ([]int32, error) {
	rows, err := db.QueryContext(ctx, `
		INSERT INTO author_mailing_list_activity (author_id, mailing_list_id, first_email_at, last_email_at, email_count, thread_count)
		SELECT e.author_id, e.mailing_list_id,
		       MIN(e.date) AS first_email_at,
		       MAX(e.date) AS last_email_at,
		       COUNT(DISTINCT e.id) AS email_count,
		       COUNT(DISTINCT tm.thread_id) AS thread_count
		FROM emails e
		LEFT JOIN thread_memberships tm
		       ON tm.mailing_list_id = e.mailing_list_id AND tm.email_id = e.id
		WHERE e.mailing_list_id = $1
		GROUP BY e.author_id, e.mailing_list_id
		ON CONFLICT (author_id, mailing_list_id) DO UPDATE SET
			first_email_at = EXCLUDED.first_email_at,
			last_email_at = EXCLUDED.last_email_at,
			email_count = EXCLUDED.email_count,
			thread_count = EXCLUDED.thread_count
		WHERE (author_mailing_list_activity.first_email_at, author_mailing_list_activity.last_email_at,
		       author_mailing_list_activity.email_count, author_mailing_list_activity.thread_count)
		      IS DISTINCT FROM
		      (EXCLUDED.first_email_at, EXCLUDED.last_email_at, EXCLUDED.email_count, EXCLUDED.thread_count)
		RETURNING author_id
	`, listID)
	if err != nil {
		return nil, fmt.Errorf("update author activity for list %d: %w", listID, err)
	}
	defer rows.Close()

	var authorIDs []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan updated author id for list %d: %w", listID, err)
		}
		authorIDs = append(authorIDs, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate updated author ids for list %d: %w", listID, err)
	}
	return authorIDs, nil
}
