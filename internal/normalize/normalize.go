// Package normalize canonicalizes caller input into the natural key used to
// deduplicate runs and persisted entities.
package normalize

import (
	"fmt"
	"strings"
)

// MaxKeyLength bounds the derived natural key so it stays usable as a
// workflow ID and an index key.
const MaxKeyLength = 200

// NaturalKey derives the canonical slug for a raw input (a URL, a topic, a
// company or country name). The same logical input always yields the same
// key: trim, lower-case, strip URL scheme and www, collapse separators to a
// single hyphen, drop everything outside [a-z0-9-].
func NaturalKey(raw string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", fmt.Errorf("empty input")
	}

	// URL inputs: the host+path is the identity, not the scheme.
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexAny(s, "?#"); i >= 0 {
		s = s[:i]
	}
	s = strings.TrimSuffix(s, "/")

	var b strings.Builder
	lastHyphen := true // suppress leading hyphen
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastHyphen = false
		default:
			if !lastHyphen {
				b.WriteByte('-')
				lastHyphen = true
			}
		}
	}
	key := strings.Trim(b.String(), "-")
	if key == "" {
		return "", fmt.Errorf("input %q normalizes to empty key", raw)
	}
	if len(key) > MaxKeyLength {
		key = strings.Trim(key[:MaxKeyLength], "-")
	}
	return key, nil
}

// WorkflowID derives the deterministic workflow identifier for a natural key.
// Two submissions of the same normalized input map to the same workflow, which
// is what makes concurrent duplicate submissions converge on one entity.
func WorkflowID(naturalKey string) string {
	return "pipeline-" + naturalKey
}
