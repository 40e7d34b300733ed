// Package schema manages the core's partitioned tables (spec §6): the
// five per-mailing-list tables (emails, threads, email_recipients,
// email_references, thread_memberships) are LIST-partitioned on
// mailing_list_id, with one partition created atomically the first time
// a list is seeded. The global tables (mailing_lists,
// mailing_list_repositories, authors, author_name_aliases,
// author_mailing_list_activity, sync_jobs) are ordinary unpartitioned
// tables created once at startup.
//
// Like the teacher's ensureTables/ensureSchema methods throughout
// internal/api and internal/worker, schema is managed with idempotent
// CREATE TABLE IF NOT EXISTS statements embedded in Go rather than a
// flat-file migration runner: the partition set is only known at
// runtime (one mailing list at a time), so a fixed set of .sql files
// cannot express it.
package schema

import (
	"context"
	"database/sql"
	"fmt"
)

// EnsureGlobalSchema creates every global (unpartitioned) table and the
// parent partitioned tables, plus the indexes spec §6 says are declared
// on parents and inherited by partitions. Safe to call on every
// process start; every statement is IF NOT EXISTS.
func EnsureGlobalSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range globalStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure global schema: %w", err)
		}
	}
	return nil
}

var globalStatements = []string{
	`CREATE TABLE IF NOT EXISTS mailing_lists (
		id SERIAL PRIMARY KEY,
		slug VARCHAR(255) NOT NULL UNIQUE,
		display_name VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		enabled BOOLEAN NOT NULL DEFAULT true,
		sync_priority INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_synced_at TIMESTAMPTZ,
		last_threaded_at TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS mailing_list_repositories (
		id SERIAL PRIMARY KEY,
		mailing_list_id INTEGER NOT NULL REFERENCES mailing_lists(id),
		epoch INTEGER NOT NULL,
		remote_url TEXT NOT NULL,
		last_indexed_commit VARCHAR(64),
		UNIQUE (mailing_list_id, epoch)
	)`,

	`CREATE TABLE IF NOT EXISTS authors (
		id SERIAL PRIMARY KEY,
		email VARCHAR(320) NOT NULL UNIQUE,
		canonical_name VARCHAR(255),
		first_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,

	`CREATE TABLE IF NOT EXISTS author_name_aliases (
		id SERIAL PRIMARY KEY,
		author_id INTEGER NOT NULL REFERENCES authors(id),
		name VARCHAR(255) NOT NULL,
		usage_count INTEGER NOT NULL DEFAULT 1,
		first_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_seen_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		UNIQUE (author_id, name)
	)`,

	`CREATE TABLE IF NOT EXISTS author_mailing_list_activity (
		author_id INTEGER NOT NULL REFERENCES authors(id),
		mailing_list_id INTEGER NOT NULL REFERENCES mailing_lists(id),
		first_email_at TIMESTAMPTZ NOT NULL,
		last_email_at TIMESTAMPTZ NOT NULL,
		email_count BIGINT NOT NULL DEFAULT 0,
		thread_count BIGINT NOT NULL DEFAULT 0,
		PRIMARY KEY (author_id, mailing_list_id)
	)`,

	`CREATE TABLE IF NOT EXISTS sync_jobs (
		id UUID PRIMARY KEY,
		mailing_list_id INTEGER NOT NULL REFERENCES mailing_lists(id),
		status VARCHAR(20) NOT NULL,
		phase VARCHAR(20) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at TIMESTAMPTZ,
		completed_at TIMESTAMPTZ,
		error_message TEXT,
		attempt INTEGER NOT NULL DEFAULT 0,
		metrics JSONB NOT NULL DEFAULT '{}',
		last_heartbeat TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_mailing_list ON sync_jobs (mailing_list_id)`,
	`CREATE INDEX IF NOT EXISTS idx_sync_jobs_status ON sync_jobs (status)`,

	`CREATE TABLE IF NOT EXISTS emails (
		id SERIAL,
		mailing_list_id INTEGER NOT NULL,
		message_id TEXT NOT NULL,
		git_commit_hash VARCHAR(64) NOT NULL,
		author_id INTEGER NOT NULL,
		subject TEXT NOT NULL,
		normalized_subject TEXT NOT NULL,
		date TIMESTAMPTZ NOT NULL,
		in_reply_to TEXT,
		body TEXT NOT NULL,
		search_body TEXT NOT NULL,
		series_id TEXT,
		series_number INTEGER,
		series_total INTEGER,
		patch_type VARCHAR(20),
		is_patch_only BOOLEAN NOT NULL DEFAULT false,
		epoch INTEGER NOT NULL,
		PRIMARY KEY (mailing_list_id, id),
		UNIQUE (mailing_list_id, message_id),
		UNIQUE (mailing_list_id, git_commit_hash)
	) PARTITION BY LIST (mailing_list_id)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_in_reply_to ON emails (mailing_list_id, in_reply_to)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_author ON emails (author_id)`,
	`CREATE INDEX IF NOT EXISTS idx_emails_normalized_subject ON emails (mailing_list_id, normalized_subject)`,

	`CREATE TABLE IF NOT EXISTS email_recipients (
		mailing_list_id INTEGER NOT NULL,
		email_id INTEGER NOT NULL,
		author_id INTEGER NOT NULL,
		kind VARCHAR(3) NOT NULL,
		PRIMARY KEY (mailing_list_id, email_id, author_id, kind)
	) PARTITION BY LIST (mailing_list_id)`,

	`CREATE TABLE IF NOT EXISTS email_references (
		mailing_list_id INTEGER NOT NULL,
		email_id INTEGER NOT NULL,
		referenced_message_id TEXT NOT NULL,
		position INTEGER NOT NULL,
		PRIMARY KEY (mailing_list_id, email_id, position)
	) PARTITION BY LIST (mailing_list_id)`,

	`CREATE TABLE IF NOT EXISTS threads (
		id SERIAL,
		mailing_list_id INTEGER NOT NULL,
		root_message_id TEXT NOT NULL,
		subject TEXT NOT NULL,
		start_date TIMESTAMPTZ NOT NULL,
		last_date TIMESTAMPTZ NOT NULL,
		message_count INTEGER NOT NULL,
		membership_hash VARCHAR(64) NOT NULL,
		PRIMARY KEY (mailing_list_id, id),
		UNIQUE (mailing_list_id, root_message_id)
	) PARTITION BY LIST (mailing_list_id)`,

	`CREATE TABLE IF NOT EXISTS thread_memberships (
		mailing_list_id INTEGER NOT NULL,
		thread_id INTEGER NOT NULL,
		email_id INTEGER NOT NULL,
		depth INTEGER NOT NULL,
		PRIMARY KEY (mailing_list_id, thread_id, email_id)
	) PARTITION BY LIST (mailing_list_id)`,
	`CREATE INDEX IF NOT EXISTS idx_thread_memberships_email ON thread_memberships (mailing_list_id, email_id)`,
}

// partitionedTables lists the parent tables that need one LIST
// partition per mailing list, in the order EnsureListPartitions
// creates them (parents before anything that would reference them is
// not a concern here — there are no FKs between partitions).
var partitionedTables = []string{
	"emails",
	"email_recipients",
	"email_references",
	"threads",
	"thread_memberships",
}

// EnsureListPartitions creates the one partition per partitioned table
// that mailingListID needs, atomically, the first time a list is
// seeded (spec §6). Idempotent: every statement is IF NOT EXISTS, so a
// re-seed of an already-partitioned list is a no-op.
func EnsureListPartitions(ctx context.Context, db *sql.DB, mailingListID int32) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ensure list partitions: begin: %w", err)
	}
	defer tx.Rollback()

	for _, table := range partitionedTables {
		partition := fmt.Sprintf("%s_p%d", table, mailingListID)
		stmt := fmt.Sprintf(
			`CREATE TABLE IF NOT EXISTS %s PARTITION OF %s FOR VALUES IN (%d)`,
			partition, table, mailingListID,
		)
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure list partitions: create %s: %w", partition, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("ensure list partitions: commit: %w", err)
	}
	return nil
}
