package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// RecipientKind distinguishes To and Cc recipients on an email.
type RecipientKind string

const (
	RecipientTo RecipientKind = "to"
	RecipientCc RecipientKind = "cc"
)

// PatchMetadata records the line ranges a patch payload occupies in an
// email body, so search_body sanitization is exact and reversible.
// Line numbers are 0-indexed into the raw body text.
type PatchMetadata struct {
	DiffRanges     []LineRange `json:"diff_ranges,omitempty"`
	TrailerRanges  []LineRange `json:"trailer_ranges,omitempty"`
	SeparatorLine  *int        `json:"separator_line,omitempty"`
	DiffstatRanges []LineRange `json:"diffstat_ranges,omitempty"`
}

// LineRange is an inclusive [Start, End] line range.
type LineRange struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// Value implements driver.Valuer so PatchMetadata can be stored as JSONB.
func (m *PatchMetadata) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner so PatchMetadata can be read back from JSONB.
func (m *PatchMetadata) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	var b []byte
	switch v := src.(type) {
	case []byte:
		b = v
	case string:
		b = []byte(v)
	default:
		return fmt.Errorf("patch metadata: unsupported scan type %T", src)
	}
	if len(b) == 0 {
		return nil
	}
	return json.Unmarshal(b, m)
}

// Email is one message, partitioned by MailingListID.
type Email struct {
	ID               int32          `json:"id" db:"id"`
	MailingListID    int32          `json:"mailing_list_id" db:"mailing_list_id"`
	MessageID        string         `json:"message_id" db:"message_id"` // unique w/ mailing_list_id; no angle brackets
	GitCommitHash    string         `json:"git_commit_hash" db:"git_commit_hash"`
	Epoch            int            `json:"epoch" db:"epoch"`
	AuthorID         int32          `json:"author_id" db:"author_id"`
	Subject          string         `json:"subject" db:"subject"`
	NormalizedSubject string        `json:"normalized_subject" db:"normalized_subject"`
	Date             time.Time      `json:"date" db:"date"` // UTC
	InReplyTo        *string        `json:"in_reply_to" db:"in_reply_to"`
	Body             string         `json:"body" db:"body"`
	SearchBody       string         `json:"search_body" db:"search_body"`
	SeriesID         *string        `json:"series_id" db:"series_id"`
	SeriesNumber     *int           `json:"series_number" db:"series_number"`
	SeriesTotal      *int           `json:"series_total" db:"series_total"`
	PatchType        *string        `json:"patch_type" db:"patch_type"`
	IsPatchOnly      bool           `json:"is_patch_only" db:"is_patch_only"`
	PatchMetadata    *PatchMetadata `json:"patch_metadata" db:"patch_metadata"`
}

// EmailRecipient is a (email, author, kind) membership row, partitioned
// alongside Email.
type EmailRecipient struct {
	EmailID  int32         `json:"email_id" db:"email_id"`
	AuthorID int32         `json:"author_id" db:"author_id"`
	Kind     RecipientKind `json:"kind" db:"kind"`
}

// EmailReference preserves one ordinal position of the References header
// chain for an email. ReferencedMessageID may name a phantom (spec I2):
// no Email row with that message_id need exist.
type EmailReference struct {
	MailingListID        int32  `json:"mailing_list_id" db:"mailing_list_id"`
	EmailID              int32  `json:"email_id" db:"email_id"`
	ReferencedMessageID  string `json:"referenced_message_id" db:"referenced_message_id"`
	Position             int    `json:"position" db:"position"` // 0-indexed, contiguous, insertion order
}
