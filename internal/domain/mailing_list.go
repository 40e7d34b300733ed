package domain

import "time"

// MailingList is one public-inbox-style archived mailing list, e.g. "linux-kernel".
type MailingList struct {
	ID           int32      `json:"id" db:"id"`
	Slug         string     `json:"slug" db:"slug"` // lower-kebab, unique
	DisplayName  string     `json:"display_name" db:"display_name"`
	Description  string     `json:"description" db:"description"`
	Enabled      bool       `json:"enabled" db:"enabled"`
	SyncPriority int        `json:"sync_priority" db:"sync_priority"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	LastSyncedAt *time.Time `json:"last_synced_at" db:"last_synced_at"`
	LastThreaded *time.Time `json:"last_threaded_at" db:"last_threaded_at"`
}

// MailingListRepository is one git "epoch" shard belonging to a MailingList.
// Uniqueness: (MailingListID, Epoch).
type MailingListRepository struct {
	ID                 int32   `json:"id" db:"id"`
	MailingListID      int32   `json:"mailing_list_id" db:"mailing_list_id"`
	Epoch              int     `json:"epoch" db:"epoch"` // non-negative, ordered
	RemoteURL          string  `json:"remote_url" db:"remote_url"`
	LastIndexedCommit  *string `json:"last_indexed_commit" db:"last_indexed_commit"`
}
