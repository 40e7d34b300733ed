package parser

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStripPatchPayloadRemovesDiff(t *testing.T) {
	body := "Intro text\n\nOn patch\n\ndiff --git a/foo b/foo\nindex 111..222 100644\n--- a/foo\n+++ b/foo\n@@ -1,3 +1,4 @@\n-line1\n+line1 changed\n line2\n\nSigned-off-by: Dev\n\nReply continues"

	search, meta, isPatchOnly := StripPatchPayload(body)

	assert.Equal(t, "Intro text\n\nOn patch\n\nReply continues", search)
	assert.False(t, isPatchOnly)
	require.NotNil(t, meta)
	assert.NotEmpty(t, meta.DiffRanges)
	assert.NotEmpty(t, meta.TrailerRanges)
}

func TestStripPatchPayloadWholeBodyIsPatch(t *testing.T) {
	body := "diff --git a/foo b/foo\nindex 111..222 100644\n--- a/foo\n+++ b/foo\n@@ -1,1 +1,1 @@\n-old\n+new"

	search, meta, isPatchOnly := StripPatchPayload(body)

	assert.Equal(t, "", search)
	assert.True(t, isPatchOnly)
	require.NotNil(t, meta)
	assert.NotEmpty(t, meta.DiffRanges)
}

func TestStripPatchPayloadNoDiffNoTrailer(t *testing.T) {
	body := "Just a plain message\n\nwith no patch content at all."

	search, meta, isPatchOnly := StripPatchPayload(body)

	assert.Equal(t, body, search)
	assert.False(t, isPatchOnly)
	assert.Nil(t, meta)
}

func TestStripPatchPayloadEmptyBody(t *testing.T) {
	search, meta, isPatchOnly := StripPatchPayload("")
	assert.Equal(t, "", search)
	assert.Nil(t, meta)
	assert.False(t, isPatchOnly)
}

func TestStripPatchPayloadTrailerOnly(t *testing.T) {
	body := "Looks good.\n\nSigned-off-by: Dev <dev@example.com>\nReviewed-by: Maint <maint@example.com>"

	search, meta, isPatchOnly := StripPatchPayload(body)

	assert.Equal(t, "Looks good.", search)
	assert.False(t, isPatchOnly)
	require.NotNil(t, meta)
	assert.NotEmpty(t, meta.TrailerRanges)
	assert.Empty(t, meta.DiffRanges)
}
