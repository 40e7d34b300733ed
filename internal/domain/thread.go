package domain

import "time"

// Thread is one conversation tree, partitioned by MailingListID.
// Uniqueness: (MailingListID, RootMessageID).
type Thread struct {
	ID              int32     `json:"id" db:"id"`
	MailingListID   int32     `json:"mailing_list_id" db:"mailing_list_id"`
	RootMessageID   string    `json:"root_message_id" db:"root_message_id"`
	Subject         string    `json:"subject" db:"subject"`
	StartDate       time.Time `json:"start_date" db:"start_date"`
	LastDate        time.Time `json:"last_date" db:"last_date"`
	MessageCount    int       `json:"message_count" db:"message_count"`
	MembershipHash  string    `json:"membership_hash" db:"membership_hash"` // hex SHA-256
}

// ThreadMembership places one Email in one Thread at a given depth.
// Depth 0 is the thread root (spec I5).
type ThreadMembership struct {
	MailingListID int32 `json:"mailing_list_id" db:"mailing_list_id"`
	ThreadID      int32 `json:"thread_id" db:"thread_id"`
	EmailID       int32 `json:"email_id" db:"email_id"`
	Depth         int   `json:"depth" db:"depth"`
}
