// Package parser decodes RFC-5322 email blobs into the structured
// ParsedEmail records the bulk importer consumes (spec §4.3). It mirrors
// the teacher's repository-layer idiom of wrapping every failure with
// fmt.Errorf("%w") and signaling skippable conditions via the
// errs.PermanentInputError sentinel so the dispatcher can count and move
// on rather than abort the job.
package parser

import (
	"bytes"
	"fmt"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"strings"
	"time"

	"github.com/ignite/sparkpost-monitor/internal/domain"
	"github.com/ignite/sparkpost-monitor/internal/sync/errs"
)

// ParsedEmail is the parser's output record (spec §4.3).
type ParsedEmail struct {
	MessageID         string
	Subject           string
	NormalizedSubject string
	Date              time.Time
	AuthorName        string
	AuthorEmail       string
	Body              string
	SearchBody        string
	ToAddrs           []Address
	CcAddrs           []Address
	InReplyTo         *string
	References        []string

	SeriesID     *string
	SeriesNumber *int
	SeriesTotal  *int
	PatchType    *string
	IsPatchOnly  bool
	PatchMeta    *domain.PatchMetadata
}

// Address is a parsed display-name/email pair; Name may be empty.
type Address struct {
	Name  string
	Email string
}

// sanitizeText strips NUL bytes (Postgres can't store them, spec I7) and
// trims surrounding whitespace.
func sanitizeText(s string) string {
	if strings.IndexByte(s, 0) >= 0 {
		s = strings.ReplaceAll(s, "\x00", "")
	}
	return strings.TrimSpace(s)
}

// cleanMessageID strips angle brackets and NULs, per spec §4.3. Returns
// "", false when the cleaned value is empty.
func cleanMessageID(raw string) (string, bool) {
	cleaned := strings.Trim(strings.TrimSpace(raw), "<>")
	cleaned = sanitizeText(cleaned)
	if cleaned == "" {
		return "", false
	}
	return cleaned, true
}

// Parse converts a raw email blob into a ParsedEmail, or an error
// wrapping errs.PermanentInputError when the record is not well-formed
// enough to import (missing Message-ID or author).
func Parse(blob []byte) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(blob))
	if err != nil {
		return nil, fmt.Errorf("read message: %w: %v", errs.PermanentInputError, err)
	}

	messageID, ok := cleanMessageID(msg.Header.Get("Message-ID"))
	if !ok {
		return nil, fmt.Errorf("missing message-id: %w", errs.PermanentInputError)
	}

	subject := sanitizeText(msg.Header.Get("Subject"))
	if subject == "" {
		subject = "(No Subject)"
	}

	date := parseDate(msg.Header.Get("Date"))

	fromName, fromEmail, ok := parseFirstAddress(msg.Header.Get("From"))
	if !ok || fromEmail == "" {
		return nil, fmt.Errorf("missing or unparseable author: %w", errs.PermanentInputError)
	}

	rawBody, err := readAll(msg.Body)
	if err != nil {
		rawBody = nil
	}

	body, err := extractBody(msg.Header, rawBody)
	if err != nil {
		// A body we cannot decode still yields a valid, importable
		// record; we just end up with an empty body.
		body = ""
	}
	body = sanitizeText(body)

	toAddrs := parseAddressList(msg.Header.Get("To"))
	ccAddrs := parseAddressList(msg.Header.Get("Cc"))

	var inReplyTo *string
	if irt, ok := cleanMessageID(msg.Header.Get("In-Reply-To")); ok {
		inReplyTo = &irt
	}

	references := extractReferences(msg.Header.Get("References"))

	normalizedSubject := NormalizeSubject(subject)

	pe := &ParsedEmail{
		MessageID:         messageID,
		Subject:           subject,
		NormalizedSubject: normalizedSubject,
		Date:              date,
		AuthorName:        fromName,
		AuthorEmail:       fromEmail,
		Body:              body,
		ToAddrs:           toAddrs,
		CcAddrs:           ccAddrs,
		InReplyTo:         inReplyTo,
		References:        references,
	}

	series := ExtractPatchSeries(subject)
	pe.SeriesID = series.SeriesID
	pe.SeriesNumber = series.Number
	pe.SeriesTotal = series.Total
	pe.PatchType = series.PatchType

	searchBody, patchMeta, isPatchOnly := StripPatchPayload(body)
	pe.SearchBody = searchBody
	pe.PatchMeta = patchMeta
	pe.IsPatchOnly = isPatchOnly

	return pe, nil
}

func parseDate(raw string) time.Time {
	if raw == "" {
		return time.Now().UTC()
	}
	if t, err := mail.ParseDate(raw); err == nil {
		return t.UTC()
	}
	// Tolerant fallback formats seen in older archives.
	layouts := []string{
		time.RFC1123Z,
		time.RFC1123,
		"Mon, 2 Jan 2006 15:04:05 -0700",
		"2 Jan 2006 15:04:05 -0700",
		"Mon, 2 Jan 2006 15:04:05 MST",
		time.RFC822Z,
		time.RFC822,
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, strings.TrimSpace(raw)); err == nil {
			return t.UTC()
		}
	}
	return time.Now().UTC()
}

func parseFirstAddress(raw string) (name, email string, ok bool) {
	if strings.TrimSpace(raw) == "" {
		return "", "", false
	}
	addrs, err := mail.ParseAddressList(raw)
	if err != nil || len(addrs) == 0 {
		// Some archives emit a single malformed address; try the
		// single-address parser as a fallback before giving up.
		if a, aerr := mail.ParseAddress(raw); aerr == nil {
			return sanitizeText(a.Name), strings.ToLower(a.Address), true
		}
		return "", "", false
	}
	a := addrs[0]
	return sanitizeText(a.Name), strings.ToLower(a.Address), true
}

func parseAddressList(raw string) []Address {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	var out []Address
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		a, err := mail.ParseAddress(part)
		if err != nil {
			continue
		}
		out = append(out, Address{Name: sanitizeText(a.Name), Email: strings.ToLower(a.Address)})
	}
	return out
}

func extractReferences(raw string) []string {
	fields := strings.Fields(raw)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		cleaned := strings.Trim(f, "<>")
		cleaned = sanitizeText(cleaned)
		if cleaned == "" {
			continue
		}
		out = append(out, cleaned)
	}
	return out
}

// extractBody decodes a single- or multi-part message body, preferring
// text/plain for multipart messages, per spec §4.3.
func extractBody(header mail.Header, body []byte) (string, error) {
	contentType := header.Get("Content-Type")
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return decodePart(textproto.MIMEHeader(header), body), nil
	}

	boundary := params["boundary"]
	if boundary == "" {
		return decodePart(textproto.MIMEHeader(header), body), nil
	}

	reader := multipart.NewReader(bytes.NewReader(body), boundary)
	var fallback string
	var plainText string
	haveFallback := false

	for {
		part, perr := reader.NextPart()
		if perr != nil {
			break
		}
		data, rerr := readAll(part)
		if rerr != nil {
			continue
		}
		decoded := decodePart(part.Header, data)
		partType, _, _ := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if partType == "text/plain" && plainText == "" {
			plainText = decoded
		}
		if !haveFallback {
			fallback = decoded
			haveFallback = true
		}
	}

	if plainText != "" {
		return plainText, nil
	}
	return fallback, nil
}

func decodePart(header textproto.MIMEHeader, data []byte) string {
	enc := strings.ToLower(header.Get("Content-Transfer-Encoding"))
	switch enc {
	case "quoted-printable":
		decoded, err := readAll(quotedprintable.NewReader(bytes.NewReader(data)))
		if err == nil {
			return string(decoded)
		}
	case "base64":
		decoded, err := decodeBase64(data)
		if err == nil {
			return string(decoded)
		}
	}
	return string(data)
}
