package cache

import (
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleInfo(emailID int32, messageID string) EmailThreadingInfo {
	return EmailThreadingInfo{
		EmailID:           emailID,
		MessageID:         messageID,
		Subject:           "Hello",
		NormalizedSubject: "hello",
		Date:              time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestInsertAndLookup(t *testing.T) {
	c := New(7)
	c.InsertEmail(sampleInfo(1, "a@x"))

	info, ok := c.Lookup("a@x")
	require.True(t, ok)
	assert.Equal(t, int32(1), info.EmailID)

	_, ok = c.Lookup("missing@x")
	assert.False(t, ok)
}

func TestInsertReferencesCopiesSlice(t *testing.T) {
	c := New(7)
	refs := []string{"a@x", "b@x"}
	c.InsertReferences(1, refs)
	refs[0] = "mutated@x"

	_, snapshotRefs := c.SnapshotForThreading()
	assert.Equal(t, []string{"a@x", "b@x"}, snapshotRefs[1])
}

func TestSnapshotForThreadingReKeysByEmailID(t *testing.T) {
	c := New(7)
	c.InsertEmail(sampleInfo(10, "a@x"))
	c.InsertEmail(sampleInfo(20, "b@x"))
	c.InsertReferences(20, []string{"a@x"})

	emails, refs := c.SnapshotForThreading()
	require.Len(t, emails, 2)
	assert.Equal(t, "a@x", emails[10].MessageID)
	assert.Equal(t, "b@x", emails[20].MessageID)
	assert.Equal(t, []string{"a@x"}, refs[20])
}

func TestSnapshotIsPointInTime(t *testing.T) {
	c := New(7)
	c.InsertEmail(sampleInfo(1, "a@x"))

	emails, _ := c.SnapshotForThreading()
	c.InsertEmail(sampleInfo(2, "b@x"))

	assert.Len(t, emails, 1)
	assert.Equal(t, 2, c.Len())
}

func TestConcurrentInsertsAreSafe(t *testing.T) {
	c := New(7)
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.InsertEmail(sampleInfo(int32(i), "msg-"+strconv.Itoa(i)))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 200, c.Len())
}
