package parser

import (
	"strings"

	"github.com/ignite/sparkpost-monitor/internal/domain"
)

var diffStartPrefixes = []string{"diff --git ", "Index: ", "+++ ", "--- ", "*** ", "===="}

var trailerPrefixes = []string{
	"signed-off-by:", "co-developed-by:", "acknowledged-by:", "acked-by:",
	"reviewed-by:", "tested-by:", "reported-by:", "suggested-by:",
	"fixes:", "link:", "cc:", "changelog:", "changes in v", "changes since v",
	"base-commit:", "supersedes:", "requires:", "dependencies:", "depends-on:",
	"note:", "notes:",
}

// StripPatchPayload scans a decoded body for diff and trailer blocks
// using the heuristics in spec §4.3, records their line ranges as
// PatchMetadata, and returns the body with those ranges removed (the
// search_body). Diffstat lines are not detected; they stay in the
// search_body and DiffstatRanges is left empty. isPatchOnly is true when nothing but diff/trailer lines
// remain. Mirrors the line-range approach in the original implementation's
// sanitize pass so stripping stays exact and reversible.
func StripPatchPayload(body string) (searchBody string, meta *domain.PatchMetadata, isPatchOnly bool) {
	if body == "" {
		return "", nil, false
	}

	lines := strings.Split(body, "\n")
	drop := make([]bool, len(lines))

	var diffRanges []domain.LineRange
	var trailerRanges []domain.LineRange

	inDiff := false
	diffStart := -1

	flushDiff := func(endExclusive int) {
		if diffStart >= 0 {
			diffRanges = append(diffRanges, domain.LineRange{Start: diffStart, End: endExclusive - 1})
			diffStart = -1
		}
	}

	trailerStart := -1
	flushTrailer := func(endExclusive int) {
		if trailerStart >= 0 {
			trailerRanges = append(trailerRanges, domain.LineRange{Start: trailerStart, End: endExclusive - 1})
			trailerStart = -1
		}
	}

	for i, line := range lines {
		trimmedStart := strings.TrimLeft(line, " \t")
		lower := strings.ToLower(trimmedStart)

		if startsWithAny(trimmedStart, diffStartPrefixes) {
			if !inDiff {
				inDiff = true
				diffStart = i
			}
			drop[i] = true
			flushTrailer(i)
			continue
		}

		if inDiff {
			if strings.HasPrefix(trimmedStart, "@@") ||
				strings.HasPrefix(trimmedStart, "+++") ||
				strings.HasPrefix(trimmedStart, "---") ||
				strings.HasPrefix(trimmedStart, "index ") {
				drop[i] = true
				continue
			}
			if strings.HasPrefix(line, "+") || strings.HasPrefix(line, "-") || strings.HasPrefix(line, " ") {
				drop[i] = true
				continue
			}
			if strings.TrimSpace(line) == "" {
				drop[i] = true
				inDiff = false
				flushDiff(i + 1)
				continue
			}
			inDiff = false
			flushDiff(i)
		}

		if strings.TrimSpace(lower) == "" {
			flushTrailer(i)
			continue
		}

		if startsWithAny(lower, trailerPrefixes) {
			drop[i] = true
			if trailerStart < 0 {
				trailerStart = i
			}
			continue
		}
		flushTrailer(i)
	}
	flushDiff(len(lines))
	flushTrailer(len(lines))

	sanitized := make([]string, 0, len(lines))
	lastBlank := true
	for i, line := range lines {
		if drop[i] {
			continue
		}
		isBlank := strings.TrimSpace(line) == ""
		if isBlank && (len(sanitized) == 0 || lastBlank) {
			continue
		}
		sanitized = append(sanitized, line)
		lastBlank = isBlank
	}
	for len(sanitized) > 0 && strings.TrimSpace(sanitized[len(sanitized)-1]) == "" {
		sanitized = sanitized[:len(sanitized)-1]
	}

	isPatchOnly = len(sanitized) == 0 && (len(diffRanges) > 0 || len(trailerRanges) > 0)

	if len(diffRanges) == 0 && len(trailerRanges) == 0 {
		meta = nil
	} else {
		meta = &domain.PatchMetadata{DiffRanges: diffRanges, TrailerRanges: trailerRanges}
	}

	return strings.Join(sanitized, "\n"), meta, isPatchOnly
}

func startsWithAny(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
