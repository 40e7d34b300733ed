package cache

import (
	"context"
	"database/sql"
	"fmt"
)

// LoadFromDatabase fully repopulates the cache from the emails and
// email_references tables for this cache's mailing list (spec §4.4's
// fallback load, used when no disk snapshot exists or it fails version
// validation).
func (c *Cache) LoadFromDatabase(ctx context.Context, db *sql.DB) error {
	emailRows, err := db.QueryContext(ctx, `
		SELECT id, message_id, subject, normalized_subject, in_reply_to, date,
		       series_id, series_number, series_total
		FROM emails
		WHERE mailing_list_id = $1
	`, c.ListID)
	if err != nil {
		return fmt.Errorf("load emails for list %d: %w", c.ListID, err)
	}
	defer emailRows.Close()

	for emailRows.Next() {
		var info EmailThreadingInfo
		if err := emailRows.Scan(
			&info.EmailID, &info.MessageID, &info.Subject, &info.NormalizedSubject,
			&info.InReplyTo, &info.Date, &info.SeriesID, &info.SeriesNumber, &info.SeriesTotal,
		); err != nil {
			return fmt.Errorf("scan email row for list %d: %w", c.ListID, err)
		}
		c.InsertEmail(info)
	}
	if err := emailRows.Err(); err != nil {
		return fmt.Errorf("iterate emails for list %d: %w", c.ListID, err)
	}

	refRows, err := db.QueryContext(ctx, `
		SELECT email_id, referenced_message_id
		FROM email_references
		WHERE mailing_list_id = $1
		ORDER BY email_id, position
	`, c.ListID)
	if err != nil {
		return fmt.Errorf("load references for list %d: %w", c.ListID, err)
	}
	defer refRows.Close()

	chains := make(map[int32][]string)
	var order []int32
	seen := make(map[int32]bool)
	for refRows.Next() {
		var emailID int32
		var referencedMessageID string
		if err := refRows.Scan(&emailID, &referencedMessageID); err != nil {
			return fmt.Errorf("scan reference row for list %d: %w", c.ListID, err)
		}
		if !seen[emailID] {
			seen[emailID] = true
			order = append(order, emailID)
		}
		chains[emailID] = append(chains[emailID], referencedMessageID)
	}
	if err := refRows.Err(); err != nil {
		return fmt.Errorf("iterate references for list %d: %w", c.ListID, err)
	}

	for _, emailID := range order {
		c.InsertReferences(emailID, chains[emailID])
	}

	return nil
}
