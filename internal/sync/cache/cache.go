// Package cache holds the per-mailing-list threading cache (spec §4.4):
// a concurrent map of email threading metadata plus reference chains,
// built up during import and handed to the threader as a point-in-time
// snapshot. Writers never hold an external lock; sync.Map gives each key
// its own fast path the same way the teacher's job-progress registries
// do (internal/worker's in-flight job tracking uses the same pattern).
package cache

import (
	"sync"
	"time"
)

// EmailThreadingInfo is the per-email record the cache holds, keyed by
// message_id for inserts and re-keyed by email_id for threading
// snapshots (spec §4.4/§4.6).
type EmailThreadingInfo struct {
	EmailID           int32
	MessageID         string
	Subject           string
	NormalizedSubject string
	InReplyTo         *string
	Date              time.Time
	SeriesID          *string
	SeriesNumber      *int
	SeriesTotal       *int
}

// Cache is the unified per-mailing-list threading cache. Zero value is
// not usable; construct with New.
type Cache struct {
	ListID int32

	emails     sync.Map // message_id string -> EmailThreadingInfo
	references sync.Map // email_id int32 -> []string (ordered referenced message_ids)
}

// New builds an empty cache for the given mailing list.
func New(listID int32) *Cache {
	return &Cache{ListID: listID}
}

// InsertEmail stores or overwrites the threading info for a message_id.
// Safe for concurrent callers; last-writer-wins per key (spec §4.4).
func (c *Cache) InsertEmail(info EmailThreadingInfo) {
	c.emails.Store(info.MessageID, info)
}

// InsertReferences stores or overwrites the ordered reference chain for
// an email_id. Safe for concurrent callers; last-writer-wins per key.
func (c *Cache) InsertReferences(emailID int32, referencedMessageIDs []string) {
	cp := make([]string, len(referencedMessageIDs))
	copy(cp, referencedMessageIDs)
	c.references.Store(emailID, cp)
}

// Lookup returns the threading info for a message_id, if present.
func (c *Cache) Lookup(messageID string) (EmailThreadingInfo, bool) {
	v, ok := c.emails.Load(messageID)
	if !ok {
		return EmailThreadingInfo{}, false
	}
	return v.(EmailThreadingInfo), true
}

// Len reports the number of emails currently held (for metrics/logging).
func (c *Cache) Len() int {
	n := 0
	c.emails.Range(func(_, _ interface{}) bool { n++; return true })
	return n
}

// SnapshotForThreading returns owned copies of the email and reference
// maps, re-keyed by email_id, suitable for handing to the threader
// (spec §4.4). The snapshot is point-in-time: writers after this call
// do not affect the returned maps.
func (c *Cache) SnapshotForThreading() (map[int32]EmailThreadingInfo, map[int32][]string) {
	emails := make(map[int32]EmailThreadingInfo)
	c.emails.Range(func(_, v interface{}) bool {
		info := v.(EmailThreadingInfo)
		emails[info.EmailID] = info
		return true
	})

	refs := make(map[int32][]string)
	c.references.Range(func(k, v interface{}) bool {
		emailID := k.(int32)
		chain := v.([]string)
		cp := make([]string, len(chain))
		copy(cp, chain)
		refs[emailID] = cp
		return true
	})

	return emails, refs
}
