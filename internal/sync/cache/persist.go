package cache

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/sync/errs"
)

// CurrentVersion is the on-disk envelope format version (spec §6).
// Readers must reject any other value and fall back to a database
// reload rather than guess at a layout.
const CurrentVersion uint32 = 1

// envelope is the versioned binary blob written to
// <cache_base>/<list_id>_unified_v1.bin. gob is self-describing (it
// carries its own field layout) and round-trips nested maps without a
// schema file, which is what the versioned-envelope contract needs;
// nothing in the retrieved pack offers a binary codec built for this
// (no direct msgpack/protobuf dependency — see DESIGN.md), so this is
// the one place this package reaches for stdlib over a pack library.
type envelope struct {
	Version       uint32
	MailingListID int32
	Emails        map[string]EmailThreadingInfo // keyed by message_id
	References    map[int32][]string            // keyed by email_id
}

func fileName(listID int32) string {
	return fmt.Sprintf("%d_unified_v1.bin", listID)
}

func encodeEnvelope(buf *bytes.Buffer, env envelope) error {
	return gob.NewEncoder(buf).Encode(env)
}

func decodeEnvelope(data []byte, env *envelope) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(env)
}

// SaveToDisk writes the cache's current contents to dir as a single
// versioned binary blob (spec §4.4/§6). Writes to a temp file first and
// renames into place so a reader never observes a partial file.
func (c *Cache) SaveToDisk(dir string) error {
	env := c.toEnvelope()

	var buf bytes.Buffer
	if err := encodeEnvelope(&buf, env); err != nil {
		return fmt.Errorf("encode cache envelope for list %d: %w", c.ListID, err)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache dir %s: %w", dir, err)
	}

	final := filepath.Join(dir, fileName(c.ListID))
	tmp := final + fmt.Sprintf(".tmp-%d", time.Now().UnixNano())
	if err := os.WriteFile(tmp, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write cache temp file for list %d: %w", c.ListID, err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename cache temp file for list %d: %w", c.ListID, err)
	}
	return nil
}

// LoadFromDisk reads dir's versioned blob for the cache's list id. ok is
// false when the file is absent or its version does not match
// CurrentVersion; callers must fall back to LoadFromDatabase in either
// case (spec §4.4, errs.Corruption on mismatch).
func (c *Cache) LoadFromDisk(dir string) (ok bool, err error) {
	path := filepath.Join(dir, fileName(c.ListID))
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read cache file for list %d: %w", c.ListID, err)
	}

	var env envelope
	if decErr := decodeEnvelope(data, &env); decErr != nil {
		return false, fmt.Errorf("decode cache file for list %d: %w: %v", c.ListID, errs.Corruption, decErr)
	}
	if env.Version != CurrentVersion {
		return false, fmt.Errorf("cache file for list %d has version %d, want %d: %w", c.ListID, env.Version, CurrentVersion, errs.Corruption)
	}
	if env.MailingListID != c.ListID {
		return false, fmt.Errorf("cache file for list %d actually holds list %d: %w", c.ListID, env.MailingListID, errs.Corruption)
	}

	c.loadEnvelope(env)
	return true, nil
}

func (c *Cache) toEnvelope() envelope {
	emails := make(map[string]EmailThreadingInfo)
	c.emails.Range(func(k, v interface{}) bool {
		emails[k.(string)] = v.(EmailThreadingInfo)
		return true
	})

	refs := make(map[int32][]string)
	c.references.Range(func(k, v interface{}) bool {
		refs[k.(int32)] = v.([]string)
		return true
	})

	return envelope{
		Version:       CurrentVersion,
		MailingListID: c.ListID,
		Emails:        emails,
		References:    refs,
	}
}

func (c *Cache) loadEnvelope(env envelope) {
	for messageID, info := range env.Emails {
		c.emails.Store(messageID, info)
	}
	for emailID, refs := range env.References {
		c.references.Store(emailID, refs)
	}
}
