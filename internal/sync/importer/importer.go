// Package importer performs bulk columnar ingestion of parsed emails
// into one mailing list's partitioned tables (spec §4.5): author
// dedup/upsert, a single UNNEST email insert, parallel id-fetch over two
// connections, parallel recipient/reference inserts, and in-band cache
// population. Every bulk statement follows the teacher's
// internal/worker/send_worker_batch.go updateQueueItems UNNEST pattern.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"

	"github.com/ignite/sparkpost-monitor/internal/sync/cache"
	"github.com/ignite/sparkpost-monitor/internal/sync/parser"
)

// ChunkSize is the target record count per ImportChunk call (spec §4.5).
const ChunkSize = 25000

// Record pairs one parsed email with the git commit and epoch it came
// from, the unit ImportChunk consumes.
type Record struct {
	CommitHash string
	Epoch      int
	Parsed     parser.ParsedEmail
}

// Stats tallies one ImportChunk call's outcome, for dispatcher logging
// and job metrics.
type Stats struct {
	EmailsInserted     int
	EmailsSkipped      int // pre-existing, ON CONFLICT DO NOTHING
	RecipientsInserted int
	ReferencesInserted int
}

// ImportChunk runs the five-phase pipeline for one chunk of parsed
// records against one mailing list, populating c in-band (spec §4.5).
// Safe to retry: every bulk statement uses a conflict handler that
// yields an at-most-once effect per natural key.
func ImportChunk(ctx context.Context, db *sql.DB, listID int32, records []Record, c *cache.Cache) (Stats, error) {
	if len(records) == 0 {
		return Stats{}, nil
	}

	if err := upsertAuthors(ctx, db, records); err != nil {
		return Stats{}, fmt.Errorf("authors phase for list %d: %w", listID, err)
	}

	inserted, err := insertEmails(ctx, db, listID, records)
	if err != nil {
		return Stats{}, fmt.Errorf("emails phase for list %d: %w", listID, err)
	}

	messageIDToEmailID, addressToAuthorID, err := fetchIDs(ctx, db, listID, records)
	if err != nil {
		return Stats{}, err
	}

	recipientsN, referencesN, err := insertRecipientsAndReferences(ctx, db, listID, records, messageIDToEmailID, addressToAuthorID)
	if err != nil {
		return Stats{}, err
	}

	populateCache(c, records, messageIDToEmailID)

	return Stats{
		EmailsInserted:     inserted,
		EmailsSkipped:      len(records) - inserted,
		RecipientsInserted: recipientsN,
		ReferencesInserted: referencesN,
	}, nil
}

// upsertAuthors extracts the union of sender + To + Cc addresses with a
// first-observed non-empty display name and upserts them by email in a
// single UNNEST insert (spec §4.5 step 1).
func upsertAuthors(ctx context.Context, db *sql.DB, records []Record) error {
	names := make(map[string]string)
	order := make([]string, 0, len(records))
	observe := func(email, name string) {
		if email == "" {
			return
		}
		existing, seen := names[email]
		if !seen {
			names[email] = name
			order = append(order, email)
			return
		}
		if existing == "" && name != "" {
			names[email] = name
		}
	}
	for _, r := range records {
		observe(r.Parsed.AuthorEmail, r.Parsed.AuthorName)
		for _, a := range r.Parsed.ToAddrs {
			observe(a.Email, a.Name)
		}
		for _, a := range r.Parsed.CcAddrs {
			observe(a.Email, a.Name)
		}
	}
	if len(order) == 0 {
		return nil
	}

	emails := make([]string, len(order))
	displayNames := make([]string, len(order))
	for i, e := range order {
		emails[i] = e
		displayNames[i] = names[e]
	}

	_, err := db.ExecContext(ctx, `
		INSERT INTO authors (email, canonical_name, first_seen, last_seen)
		SELECT d.email, NULLIF(d.name, ''), now(), now()
		FROM (
			SELECT UNNEST($1::text[]) AS email, UNNEST($2::text[]) AS name
		) d
		ON CONFLICT (email) DO UPDATE SET
			last_seen = now(),
			canonical_name = COALESCE(authors.canonical_name, EXCLUDED.canonical_name)
	`, pq.Array(emails), pq.Array(displayNames))
	if err != nil {
		return fmt.Errorf("upsert authors: %w", err)
	}
	return nil
}

// insertEmails resolves sender author ids, builds columnar vectors, and
// bulk-inserts via a single UNNEST with ON CONFLICT DO NOTHING (spec
// §4.5 step 2). Returns the count of rows actually inserted.
func insertEmails(ctx context.Context, db *sql.DB, listID int32, records []Record) (int, error) {
	senderAddrs := dedupeNonEmpty(func(r Record) string { return r.Parsed.AuthorEmail }, records)
	authorIDs, err := fetchAuthorIDs(ctx, db, senderAddrs)
	if err != nil {
		return 0, fmt.Errorf("lookup sender author ids: %w", err)
	}

	n := len(records)
	messageIDs := make([]string, n)
	gitCommitHashes := make([]string, n)
	epochs := make([]int32, n)
	authorIDCol := make([]int32, n)
	subjects := make([]string, n)
	normalizedSubjects := make([]string, n)
	dates := make([]time.Time, n)
	inReplyTos := make([]sql.NullString, n)
	bodies := make([]string, n)
	searchBodies := make([]string, n)
	seriesIDs := make([]sql.NullString, n)
	seriesNumbers := make([]sql.NullInt32, n)
	seriesTotals := make([]sql.NullInt32, n)
	patchTypes := make([]sql.NullString, n)
	isPatchOnly := make([]bool, n)

	for i, r := range records {
		p := r.Parsed
		messageIDs[i] = p.MessageID
		gitCommitHashes[i] = r.CommitHash
		epochs[i] = int32(r.Epoch)
		authorIDCol[i] = authorIDs[p.AuthorEmail]
		subjects[i] = p.Subject
		normalizedSubjects[i] = p.NormalizedSubject
		dates[i] = p.Date
		if p.InReplyTo != nil {
			inReplyTos[i] = sql.NullString{String: *p.InReplyTo, Valid: true}
		}
		bodies[i] = p.Body
		searchBodies[i] = p.SearchBody
		if p.SeriesID != nil {
			seriesIDs[i] = sql.NullString{String: *p.SeriesID, Valid: true}
		}
		if p.SeriesNumber != nil {
			seriesNumbers[i] = sql.NullInt32{Int32: int32(*p.SeriesNumber), Valid: true}
		}
		if p.SeriesTotal != nil {
			seriesTotals[i] = sql.NullInt32{Int32: int32(*p.SeriesTotal), Valid: true}
		}
		if p.PatchType != nil {
			patchTypes[i] = sql.NullString{String: *p.PatchType, Valid: true}
		}
		isPatchOnly[i] = p.IsPatchOnly
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO emails (
			mailing_list_id, message_id, git_commit_hash, epoch, author_id,
			subject, normalized_subject, date, in_reply_to, body, search_body,
			series_id, series_number, series_total, patch_type, is_patch_only
		)
		SELECT $1, d.message_id, d.git_commit_hash, d.epoch, d.author_id,
		       d.subject, d.normalized_subject, d.date, d.in_reply_to, d.body, d.search_body,
		       d.series_id, d.series_number, d.series_total, d.patch_type, d.is_patch_only
		FROM (
			SELECT UNNEST($2::text[]) AS message_id,
			       UNNEST($3::text[]) AS git_commit_hash,
			       UNNEST($4::int[]) AS epoch,
			       UNNEST($5::int[]) AS author_id,
			       UNNEST($6::text[]) AS subject,
			       UNNEST($7::text[]) AS normalized_subject,
			       UNNEST($8::timestamptz[]) AS date,
			       UNNEST($9::text[]) AS in_reply_to,
			       UNNEST($10::text[]) AS body,
			       UNNEST($11::text[]) AS search_body,
			       UNNEST($12::text[]) AS series_id,
			       UNNEST($13::int[]) AS series_number,
			       UNNEST($14::int[]) AS series_total,
			       UNNEST($15::text[]) AS patch_type,
			       UNNEST($16::bool[]) AS is_patch_only
		) d
		ON CONFLICT (mailing_list_id, message_id) DO NOTHING
	`, listID, pq.Array(messageIDs), pq.Array(gitCommitHashes), pq.Array(epochs), pq.Array(authorIDCol),
		pq.Array(subjects), pq.Array(normalizedSubjects), pq.Array(dates), pq.Array(inReplyTos),
		pq.Array(bodies), pq.Array(searchBodies), pq.Array(seriesIDs), pq.Array(seriesNumbers),
		pq.Array(seriesTotals), pq.Array(patchTypes), pq.Array(isPatchOnly))
	if err != nil {
		return 0, fmt.Errorf("bulk insert emails: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("emails rows affected: %w", err)
	}
	return int(affected), nil
}

// fetchIDs runs the id-fetch phase (spec §4.5 step 3): message_id ->
// email_id and address -> author_id, concurrently.
func fetchIDs(ctx context.Context, db *sql.DB, listID int32, records []Record) (map[string]int32, map[string]int32, error) {
	messageIDs := dedupeNonEmpty(func(r Record) string { return r.Parsed.MessageID }, records)
	recipientAddrs := recipientAddresses(records)

	var (
		messageIDToEmailID map[string]int32
		addressToAuthorID  map[string]int32
		emailErr, authorErr error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		messageIDToEmailID, emailErr = fetchEmailIDs(ctx, db, listID, messageIDs)
	}()
	go func() {
		defer wg.Done()
		addressToAuthorID, authorErr = fetchAuthorIDs(ctx, db, recipientAddrs)
	}()
	wg.Wait()

	if emailErr != nil {
		return nil, nil, fmt.Errorf("id fetch phase (emails) for list %d: %w", listID, emailErr)
	}
	if authorErr != nil {
		return nil, nil, fmt.Errorf("id fetch phase (authors) for list %d: %w", listID, authorErr)
	}
	return messageIDToEmailID, addressToAuthorID, nil
}

func fetchAuthorIDs(ctx context.Context, db *sql.DB, addresses []string) (map[string]int32, error) {
	out := make(map[string]int32, len(addresses))
	if len(addresses) == 0 {
		return out, nil
	}
	rows, err := db.QueryContext(ctx, `SELECT email, id FROM authors WHERE email = ANY($1)`, pq.Array(addresses))
	if err != nil {
		return nil, fmt.Errorf("fetch author ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var email string
		var id int32
		if err := rows.Scan(&email, &id); err != nil {
			return nil, fmt.Errorf("scan author id: %w", err)
		}
		out[email] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate author ids: %w", err)
	}
	return out, nil
}

func fetchEmailIDs(ctx context.Context, db *sql.DB, listID int32, messageIDs []string) (map[string]int32, error) {
	out := make(map[string]int32, len(messageIDs))
	if len(messageIDs) == 0 {
		return out, nil
	}
	rows, err := db.QueryContext(ctx, `
		SELECT message_id, id FROM emails WHERE mailing_list_id = $1 AND message_id = ANY($2)
	`, listID, pq.Array(messageIDs))
	if err != nil {
		return nil, fmt.Errorf("fetch email ids: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var messageID string
		var id int32
		if err := rows.Scan(&messageID, &id); err != nil {
			return nil, fmt.Errorf("scan email id: %w", err)
		}
		out[messageID] = id
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate email ids: %w", err)
	}
	return out, nil
}

// insertRecipientsAndReferences runs the recipients and references
// phases concurrently (spec §4.5 step 4).
func insertRecipientsAndReferences(ctx context.Context, db *sql.DB, listID int32, records []Record, messageIDToEmailID, addressToAuthorID map[string]int32) (int, int, error) {
	var (
		recipientsN, referencesN int
		recErr, refErr           error
	)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		recipientsN, recErr = insertRecipients(ctx, db, listID, records, messageIDToEmailID, addressToAuthorID)
	}()
	go func() {
		defer wg.Done()
		referencesN, refErr = insertReferences(ctx, db, listID, records, messageIDToEmailID)
	}()
	wg.Wait()

	if recErr != nil {
		return 0, 0, fmt.Errorf("recipients phase for list %d: %w", listID, recErr)
	}
	if refErr != nil {
		return 0, 0, fmt.Errorf("references phase for list %d: %w", listID, refErr)
	}
	return recipientsN, referencesN, nil
}

type recipientKey struct {
	emailID  int32
	authorID int32
	kind     string
}

func insertRecipients(ctx context.Context, db *sql.DB, listID int32, records []Record, messageIDToEmailID, addressToAuthorID map[string]int32) (int, error) {
	seen := make(map[recipientKey]bool)
	var emailIDs, authorIDs []int32
	var kinds []string

	add := func(messageID, address, kind string) {
		emailID, ok := messageIDToEmailID[messageID]
		if !ok {
			return
		}
		authorID, ok := addressToAuthorID[address]
		if !ok {
			return
		}
		key := recipientKey{emailID: emailID, authorID: authorID, kind: kind}
		if seen[key] {
			return
		}
		seen[key] = true
		emailIDs = append(emailIDs, emailID)
		authorIDs = append(authorIDs, authorID)
		kinds = append(kinds, kind)
	}

	for _, r := range records {
		for _, a := range r.Parsed.ToAddrs {
			add(r.Parsed.MessageID, a.Email, "to")
		}
		for _, a := range r.Parsed.CcAddrs {
			add(r.Parsed.MessageID, a.Email, "cc")
		}
	}

	if len(emailIDs) == 0 {
		return 0, nil
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO email_recipients (mailing_list_id, email_id, author_id, kind)
		SELECT $1, d.email_id, d.author_id, d.kind
		FROM (
			SELECT UNNEST($2::int[]) AS email_id,
			       UNNEST($3::int[]) AS author_id,
			       UNNEST($4::text[]) AS kind
		) d
		ON CONFLICT DO NOTHING
	`, listID, pq.Array(emailIDs), pq.Array(authorIDs), pq.Array(kinds))
	if err != nil {
		return 0, fmt.Errorf("bulk insert recipients: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("recipients rows affected: %w", err)
	}
	return int(affected), nil
}

type referenceKey struct {
	emailID             int32
	referencedMessageID string
}

func insertReferences(ctx context.Context, db *sql.DB, listID int32, records []Record, messageIDToEmailID map[string]int32) (int, error) {
	seen := make(map[referenceKey]bool)
	var emailIDs []int32
	var referencedIDs []string
	var positions []int32

	for _, r := range records {
		emailID, ok := messageIDToEmailID[r.Parsed.MessageID]
		if !ok {
			continue
		}
		pos := int32(0)
		for _, ref := range r.Parsed.References {
			key := referenceKey{emailID: emailID, referencedMessageID: ref}
			if seen[key] {
				continue
			}
			seen[key] = true
			emailIDs = append(emailIDs, emailID)
			referencedIDs = append(referencedIDs, ref)
			positions = append(positions, pos)
			pos++
		}
	}

	if len(emailIDs) == 0 {
		return 0, nil
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO email_references (mailing_list_id, email_id, referenced_message_id, position)
		SELECT $1, d.email_id, d.referenced_message_id, d.position
		FROM (
			SELECT UNNEST($2::int[]) AS email_id,
			       UNNEST($3::text[]) AS referenced_message_id,
			       UNNEST($4::int[]) AS position
		) d
		ON CONFLICT DO NOTHING
	`, listID, pq.Array(emailIDs), pq.Array(referencedIDs), pq.Array(positions))
	if err != nil {
		return 0, fmt.Errorf("bulk insert references: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("references rows affected: %w", err)
	}
	return int(affected), nil
}

// populateCache pushes EmailThreadingInfo and reference chains into c
// for every successfully mapped email (spec §4.5 step 5).
func populateCache(c *cache.Cache, records []Record, messageIDToEmailID map[string]int32) {
	for _, r := range records {
		p := r.Parsed
		emailID, ok := messageIDToEmailID[p.MessageID]
		if !ok {
			continue
		}
		c.InsertEmail(cache.EmailThreadingInfo{
			EmailID:           emailID,
			MessageID:         p.MessageID,
			Subject:           p.Subject,
			NormalizedSubject: p.NormalizedSubject,
			InReplyTo:         p.InReplyTo,
			Date:              p.Date,
			SeriesID:          p.SeriesID,
			SeriesNumber:      p.SeriesNumber,
			SeriesTotal:       p.SeriesTotal,
		})
		if len(p.References) > 0 {
			c.InsertReferences(emailID, p.References)
		}
	}
}

func dedupeNonEmpty(key func(Record) string, records []Record) []string {
	seen := make(map[string]bool)
	out := make([]string, 0, len(records))
	for _, r := range records {
		k := key(r)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, k)
	}
	return out
}

func recipientAddresses(records []Record) []string {
	seen := make(map[string]bool)
	out := make([]string, 0)
	for _, r := range records {
		for _, a := range r.Parsed.ToAddrs {
			if a.Email != "" && !seen[a.Email] {
				seen[a.Email] = true
				out = append(out, a.Email)
			}
		}
		for _, a := range r.Parsed.CcAddrs {
			if a.Email != "" && !seen[a.Email] {
				seen[a.Email] = true
				out = append(out, a.Email)
			}
		}
	}
	return out
}
