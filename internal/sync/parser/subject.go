package parser

import "strings"

var replyPrefixes = []string{"re:", "fwd:", "fw:", "aw:"}

// NormalizeSubject lowercases subject, repeatedly strips reply prefixes
// and bracketed tags until a fixed point, then collapses whitespace
// (spec §4.3). Idempotent: NormalizeSubject(NormalizeSubject(s)) == NormalizeSubject(s).
func NormalizeSubject(subject string) string {
	s := strings.ToLower(strings.TrimSpace(subject))

	for {
		before := s

		for _, prefix := range replyPrefixes {
			if strings.HasPrefix(s, prefix) {
				s = strings.TrimSpace(s[len(prefix):])
			}
		}

		if strings.HasPrefix(s, "[") {
			if end := strings.IndexByte(s, ']'); end >= 0 {
				s = strings.TrimSpace(s[end+1:])
			}
		}

		if s == before {
			break
		}
	}

	return strings.Join(strings.Fields(s), " ")
}
