package domain

import "time"

// Author is a global (not per-list) identity keyed by lowercased email.
type Author struct {
	ID            int32     `json:"id" db:"id"`
	Email         string    `json:"email" db:"email"` // unique, lowercased
	CanonicalName *string   `json:"canonical_name" db:"canonical_name"`
	FirstSeen     time.Time `json:"first_seen" db:"first_seen"`
	LastSeen      time.Time `json:"last_seen" db:"last_seen"`
}

// AuthorNameAlias records one display name observed for an Author.
// Uniqueness: (AuthorID, Name).
type AuthorNameAlias struct {
	ID          int32     `json:"id" db:"id"`
	AuthorID    int32     `json:"author_id" db:"author_id"`
	Name        string    `json:"name" db:"name"`
	UsageCount  int       `json:"usage_count" db:"usage_count"`
	FirstSeenAt time.Time `json:"first_seen_at" db:"first_seen_at"`
	LastSeenAt  time.Time `json:"last_seen_at" db:"last_seen_at"`
}

// AuthorMailingListActivity is a derived (author, mailing_list) rollup,
// refreshed post-import by UpdateAuthorActivity.
type AuthorMailingListActivity struct {
	AuthorID      int32     `json:"author_id" db:"author_id"`
	MailingListID int32     `json:"mailing_list_id" db:"mailing_list_id"`
	FirstEmailAt  time.Time `json:"first_email_at" db:"first_email_at"`
	LastEmailAt   time.Time `json:"last_email_at" db:"last_email_at"`
	EmailCount    int64     `json:"email_count" db:"email_count"`
	ThreadCount   int64     `json:"thread_count" db:"thread_count"`
}
