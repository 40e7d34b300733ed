package parser

import (
	"regexp"
	"strconv"
	"strings"
)

// SeriesInfo is the subject-derived patch series identity (spec §4.5,
// scenario S4).
type SeriesInfo struct {
	SeriesID  *string
	Number    *int
	Total     *int
	PatchType *string
}

var (
	bracketTagRe = regexp.MustCompile(`^\[([^\]]*)\]`)
	counterRe    = regexp.MustCompile(`(\d+)\s*/\s*(\d+)`)
)

// ExtractPatchSeries derives series_id/series_number/series_total/patch_type
// from a raw (non-normalized) subject line. Per spec scenario S4, a reply
// ("Re: [PATCH v2 2/3] fix foo") carries no series fields even though its
// subject still contains the bracket tag — only messages whose subject
// itself opens with the bracket (no reply prefix) are patch submissions.
//
// Open Question (spec §9): the precise series_id canonicalization is left
// to the implementer. This derivation keeps the bracket tag with its
// "N/M" counter removed (so "[PATCH v2 1/3]" and "[PATCH v2 2/3]" share a
// series key) joined with the message's normalized subject (so two
// unrelated series that happen to reuse "[PATCH v2]" don't collide).
func ExtractPatchSeries(subject string) SeriesInfo {
	trimmed := strings.TrimSpace(subject)
	lower := strings.ToLower(trimmed)
	for _, prefix := range replyPrefixes {
		if strings.HasPrefix(lower, prefix) {
			return SeriesInfo{}
		}
	}

	m := bracketTagRe.FindStringSubmatch(trimmed)
	if m == nil {
		return SeriesInfo{}
	}
	tag := strings.TrimSpace(m[1])
	if tag == "" {
		return SeriesInfo{}
	}
	lowerTag := strings.ToLower(tag)
	if !strings.Contains(lowerTag, "patch") && !strings.Contains(lowerTag, "rfc") {
		return SeriesInfo{}
	}

	info := SeriesInfo{}

	switch {
	case strings.Contains(lowerTag, "rfc"):
		t := "rfc"
		info.PatchType = &t
	case strings.Contains(lowerTag, "patch"):
		t := "patch"
		info.PatchType = &t
	}

	counterMatch := counterRe.FindStringSubmatch(tag)
	tagWithoutCounter := tag
	if counterMatch != nil {
		if n, err := strconv.Atoi(counterMatch[1]); err == nil {
			info.Number = &n
		}
		if t, err := strconv.Atoi(counterMatch[2]); err == nil {
			info.Total = &t
		}
		tagWithoutCounter = strings.Replace(tag, counterMatch[0], "", 1)
	}

	canonicalTag := strings.Join(strings.Fields(strings.ToLower(tagWithoutCounter)), " ")
	normalizedSubject := NormalizeSubject(trimmed)
	id := canonicalTag + "::" + normalizedSubject
	info.SeriesID = &id

	return info
}
