package threader

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// ExpandAffectedSet grows newEmailIDs to the full affected subgraph
// (spec §4.6 "Incremental re-threading"): any email that replies to,
// references, or is referenced by an email already in the set. Expands
// breadth-first until a fixed point, so a chain of replies several hops
// away from the seed ids is still pulled in.
func ExpandAffectedSet(ctx context.Context, db *sql.DB, listID int32, newEmailIDs []int32) ([]int32, error) {
	affected := make(map[int32]bool, len(newEmailIDs))
	frontier := make([]int32, 0, len(newEmailIDs))
	for _, id := range newEmailIDs {
		if !affected[id] {
			affected[id] = true
			frontier = append(frontier, id)
		}
	}

	for len(frontier) > 0 {
		next, err := expandOnce(ctx, db, listID, frontier)
		if err != nil {
			return nil, err
		}
		frontier = frontier[:0]
		for _, id := range next {
			if !affected[id] {
				affected[id] = true
				frontier = append(frontier, id)
			}
		}
	}

	out := make([]int32, 0, len(affected))
	for id := range affected {
		out = append(out, id)
	}
	return out, nil
}

// expandOnce finds every email one hop away from frontier in either
// direction: replying to, referencing, or referenced by a frontier
// email.
func expandOnce(ctx context.Context, db *sql.DB, listID int32, frontier []int32) ([]int32, error) {
	rows, err := db.QueryContext(ctx, `
		WITH frontier_ids AS (
			SELECT unnest($2::int[]) AS id
		), frontier_msgs AS (
			SELECT e.message_id FROM emails e
			JOIN frontier_ids f ON e.id = f.id
			WHERE e.mailing_list_id = $1
		)
		SELECT DISTINCT e2.id
		FROM emails e2
		WHERE e2.mailing_list_id = $1 AND (
			e2.in_reply_to IN (SELECT message_id FROM frontier_msgs)
			OR e2.id IN (
				SELECT er.email_id FROM email_references er
				WHERE er.mailing_list_id = $1
				  AND er.referenced_message_id IN (SELECT message_id FROM frontier_msgs)
			)
			OR e2.message_id IN (
				SELECT er.referenced_message_id FROM email_references er
				JOIN frontier_ids f ON er.email_id = f.id
				WHERE er.mailing_list_id = $1
			)
		)
	`, listID, pq.Array(frontier))
	if err != nil {
		return nil, fmt.Errorf("expand affected set for list %d: %w", listID, err)
	}
	defer rows.Close()

	var out []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan affected email id for list %d: %w", listID, err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate affected email ids for list %d: %w", listID, err)
	}
	return out, nil
}

// AffectedThreadIDs returns the distinct thread ids that any of the
// given emails currently belongs to.
func AffectedThreadIDs(ctx context.Context, db *sql.DB, listID int32, affectedEmailIDs []int32) ([]int32, error) {
	if len(affectedEmailIDs) == 0 {
		return nil, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT DISTINCT thread_id FROM thread_memberships
		WHERE mailing_list_id = $1 AND email_id = ANY($2)
	`, listID, pq.Array(affectedEmailIDs))
	if err != nil {
		return nil, fmt.Errorf("find affected threads for list %d: %w", listID, err)
	}
	defer rows.Close()

	var ids []int32
	for rows.Next() {
		var id int32
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan affected thread id for list %d: %w", listID, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate affected thread ids for list %d: %w", listID, err)
	}
	return ids, nil
}

// RethreadAffected deletes every thread/membership touching an affected
// email and rebuilds threads from just the affected subgraph, persisting
// the result (spec §4.6 "Incremental re-threading"). Callers are
// expected to have already expanded the affected id set with
// ExpandAffectedSet and filtered emails/references down to that set.
// Returns the ids of threads that were (re)written.
func RethreadAffected(ctx context.Context, db *sql.DB, listID int32, affectedThreadIDs []int32, affectedEmails map[int32]EmailData, affectedReferences map[int32][]string, opts Options) ([]int32, error) {
	if len(affectedThreadIDs) > 0 {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin rethread delete tx for list %d: %w", listID, err)
		}

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM thread_memberships WHERE mailing_list_id = $1 AND thread_id = ANY($2)
		`, listID, pq.Array(affectedThreadIDs)); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("delete affected memberships for list %d: %w", listID, err)
		}
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM threads WHERE mailing_list_id = $1 AND id = ANY($2)
		`, listID, pq.Array(affectedThreadIDs)); err != nil {
			tx.Rollback()
			return nil, fmt.Errorf("delete affected threads for list %d: %w", listID, err)
		}
		if err := tx.Commit(); err != nil {
			return nil, fmt.Errorf("commit rethread delete phase for list %d: %w", listID, err)
		}
	}

	rebuilt := BuildThreads(affectedEmails, affectedReferences, opts)
	finalized := make([]FinalizedThread, len(rebuilt))
	for i, t := range rebuilt {
		finalized[i] = Finalize(t)
	}

	return BulkInsertThreads(ctx, db, listID, finalized)
}
