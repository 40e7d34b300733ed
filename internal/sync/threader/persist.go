package threader

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"time"

	"github.com/lib/pq"
)

// FinalizedThread is a ThreadInfo after member dedup and membership-hash
// computation, ready for bulk_insert_threads (spec §4.6).
type FinalizedThread struct {
	RootMessageID  string
	Subject        string
	StartDate      time.Time
	LastDate       time.Time
	MessageCount   int
	MembershipHash string
	Members        []MemberDepth
}

// Finalize dedupes a ThreadInfo's members keeping the first-seen depth
// and computes its membership_hash (spec §4.6 step 1, I4).
func Finalize(info ThreadInfo) FinalizedThread {
	seen := make(map[int32]bool, len(info.Members))
	deduped := make([]MemberDepth, 0, len(info.Members))
	for _, m := range info.Members {
		if seen[m.EmailID] {
			continue
		}
		seen[m.EmailID] = true
		deduped = append(deduped, m)
	}

	ids := make([]int32, len(deduped))
	for i, m := range deduped {
		ids[i] = m.EmailID
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	return FinalizedThread{
		RootMessageID:  info.RootMessageID,
		Subject:        info.Subject,
		StartDate:      info.StartDate,
		LastDate:       info.LastDate,
		MessageCount:   len(deduped),
		MembershipHash: MembershipHash(ids),
		Members:        deduped,
	}
}

// MembershipHash computes the spec I4 content-addressed fingerprint:
// SHA-256 over the concatenated little-endian bytes of the sorted
// ascending member email ids. Callers must pass an already-sorted
// slice; Finalize does this for them.
func MembershipHash(sortedEmailIDs []int32) string {
	buf := make([]byte, 4*len(sortedEmailIDs))
	for i, id := range sortedEmailIDs {
		binary.LittleEndian.PutUint32(buf[i*4:], uint32(id))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}

// BulkInsertThreads upserts every FinalizedThread whose membership_hash
// differs from what's stored (skipping unchanged threads per I4), then
// bulk-inserts their memberships via a single UNNEST statement with
// ON CONFLICT DO NOTHING, all within one transaction (spec §4.6
// "Persistence with change detection"). Returns the ids of threads that
// were upserted (unchanged threads are not included).
func BulkInsertThreads(ctx context.Context, db *sql.DB, listID int32, threads []FinalizedThread) ([]int32, error) {
	if len(threads) == 0 {
		return nil, nil
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin bulk_insert_threads tx for list %d: %w", listID, err)
	}
	defer tx.Rollback()

	roots := make([]string, len(threads))
	for i, th := range threads {
		roots[i] = th.RootMessageID
	}

	existingHash := make(map[string]string, len(threads))
	rows, err := tx.QueryContext(ctx, `
		SELECT root_message_id, membership_hash
		FROM threads
		WHERE mailing_list_id = $1 AND root_message_id = ANY($2)
	`, listID, pq.Array(roots))
	if err != nil {
		return nil, fmt.Errorf("load existing threads for list %d: %w", listID, err)
	}
	for rows.Next() {
		var root, hash string
		if err := rows.Scan(&root, &hash); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan existing thread for list %d: %w", listID, err)
		}
		existingHash[root] = hash
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate existing threads for list %d: %w", listID, err)
	}
	rows.Close()

	toUpsert := make([]FinalizedThread, 0, len(threads))
	for _, th := range threads {
		if existingHash[th.RootMessageID] == th.MembershipHash {
			continue
		}
		toUpsert = append(toUpsert, th)
	}
	if len(toUpsert) == 0 {
		return nil, tx.Commit()
	}

	threadIDs := make(map[string]int32, len(toUpsert))
	for _, th := range toUpsert {
		var id int32
		err := tx.QueryRowContext(ctx, `
			INSERT INTO threads (mailing_list_id, root_message_id, subject, start_date, last_date, message_count, membership_hash)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (mailing_list_id, root_message_id) DO UPDATE SET
				subject = EXCLUDED.subject,
				start_date = EXCLUDED.start_date,
				last_date = EXCLUDED.last_date,
				message_count = EXCLUDED.message_count,
				membership_hash = EXCLUDED.membership_hash
			RETURNING id
		`, listID, th.RootMessageID, th.Subject, th.StartDate, th.LastDate, th.MessageCount, th.MembershipHash).Scan(&id)
		if err != nil {
			return nil, fmt.Errorf("upsert thread %s for list %d: %w", th.RootMessageID, listID, err)
		}
		threadIDs[th.RootMessageID] = id
	}

	var memberThreadIDs, memberEmailIDs, memberDepths []int32
	for _, th := range toUpsert {
		tid := threadIDs[th.RootMessageID]
		for _, m := range th.Members {
			memberThreadIDs = append(memberThreadIDs, tid)
			memberEmailIDs = append(memberEmailIDs, m.EmailID)
			memberDepths = append(memberDepths, int32(m.Depth))
		}
	}

	if len(memberThreadIDs) > 0 {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO thread_memberships (mailing_list_id, thread_id, email_id, depth)
			SELECT $1, d.thread_id, d.email_id, d.depth
			FROM (
				SELECT UNNEST($2::int[]) AS thread_id,
				       UNNEST($3::int[]) AS email_id,
				       UNNEST($4::int[]) AS depth
			) d
			ON CONFLICT DO NOTHING
		`, listID, pq.Array(memberThreadIDs), pq.Array(memberEmailIDs), pq.Array(memberDepths))
		if err != nil {
			return nil, fmt.Errorf("bulk insert memberships for list %d: %w", listID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit bulk_insert_threads for list %d: %w", listID, err)
	}

	ids := make([]int32, 0, len(threadIDs))
	for _, id := range threadIDs {
		ids = append(ids, id)
	}
	return ids, nil
}
