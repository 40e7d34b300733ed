package parser

import (
	"errors"
	"testing"

	"github.com/ignite/sparkpost-monitor/internal/sync/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rawEmail(headers map[string]string, body string) []byte {
	msg := ""
	for k, v := range headers {
		msg += k + ": " + v + "\r\n"
	}
	msg += "\r\n" + body
	return []byte(msg)
}

func TestParseSimpleEmail(t *testing.T) {
	blob := rawEmail(map[string]string{
		"Message-ID": "<a@x>",
		"Subject":    "Hello",
		"From":       "Jane Dev <jane@example.com>",
		"Date":       "Mon, 1 Jan 2024 00:00:00 +0000",
	}, "Hi there.\n")

	pe, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, "a@x", pe.MessageID)
	assert.Equal(t, "Hello", pe.Subject)
	assert.Equal(t, "hello", pe.NormalizedSubject)
	assert.Equal(t, "jane@example.com", pe.AuthorEmail)
	assert.Equal(t, "Jane Dev", pe.AuthorName)
	assert.Equal(t, 2024, pe.Date.Year())
}

func TestParseMissingMessageID(t *testing.T) {
	blob := rawEmail(map[string]string{
		"Subject": "Hello",
		"From":    "jane@example.com",
	}, "body")
	_, err := Parse(blob)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.PermanentInputError))
}

func TestParseMissingAuthor(t *testing.T) {
	blob := rawEmail(map[string]string{
		"Message-ID": "<a@x>",
		"Subject":    "Hello",
	}, "body")
	_, err := Parse(blob)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errs.PermanentInputError))
}

func TestParseMissingSubjectDefaults(t *testing.T) {
	blob := rawEmail(map[string]string{
		"Message-ID": "<a@x>",
		"From":       "jane@example.com",
	}, "body")
	pe, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, "(No Subject)", pe.Subject)
}

func TestParseMissingDateFallsBackToNow(t *testing.T) {
	blob := rawEmail(map[string]string{
		"Message-ID": "<a@x>",
		"From":       "jane@example.com",
		"Subject":    "Hi",
	}, "body")
	pe, err := Parse(blob)
	require.NoError(t, err)
	assert.False(t, pe.Date.IsZero())
}

func TestParseReferencesAndInReplyTo(t *testing.T) {
	blob := rawEmail(map[string]string{
		"Message-ID":  "<b@x>",
		"From":        "jane@example.com",
		"Subject":     "Re: Hello",
		"In-Reply-To": "<a@x>",
		"References":  "<a@x> <c@x>",
	}, "body")
	pe, err := Parse(blob)
	require.NoError(t, err)
	require.NotNil(t, pe.InReplyTo)
	assert.Equal(t, "a@x", *pe.InReplyTo)
	assert.Equal(t, []string{"a@x", "c@x"}, pe.References)
}

func TestParseRecipients(t *testing.T) {
	blob := rawEmail(map[string]string{
		"Message-ID": "<a@x>",
		"From":       "jane@example.com",
		"Subject":    "Hi",
		"To":         "Bob <bob@example.com>, carol@example.com",
		"Cc":         "Dan <dan@example.com>",
	}, "body")
	pe, err := Parse(blob)
	require.NoError(t, err)
	require.Len(t, pe.ToAddrs, 2)
	assert.Equal(t, "bob@example.com", pe.ToAddrs[0].Email)
	assert.Equal(t, "carol@example.com", pe.ToAddrs[1].Email)
	require.Len(t, pe.CcAddrs, 1)
	assert.Equal(t, "dan@example.com", pe.CcAddrs[0].Email)
}

func TestParseStripsNulBytes(t *testing.T) {
	blob := rawEmail(map[string]string{
		"Message-ID": "<a@x>",
		"From":       "jane@example.com",
		"Subject":    "Hi\x00there",
	}, "body\x00text")
	pe, err := Parse(blob)
	require.NoError(t, err)
	assert.Equal(t, "Hithere", pe.Subject)
	assert.Equal(t, "bodytext", pe.Body)
}
