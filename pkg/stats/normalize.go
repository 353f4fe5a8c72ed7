package stats

import (
	"regexp"
	"strings"

	"golang.org/x/text/cases"
)

const placeholder = "<*>"

// Replacement order matters: a UUID contains hex runs and digits, and a hex id
// contains digits.
var (
	uuidPattern   = regexp.MustCompile(`(?i)[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}`)
	hexPattern    = regexp.MustCompile(`(?i)\b(?:0x)?[0-9a-f]*[0-9][0-9a-f]*\b`)
	numberPattern = regexp.MustCompile(`\d+(?:\.\d+)?`)
)

// NormalizeError reduces an error string to its structural shape so that
// errors differing only in ids, counts or timestamps cluster together.
func NormalizeError(s string) string {
	s = uuidPattern.ReplaceAllString(s, placeholder)
	s = hexPattern.ReplaceAllStringFunc(s, func(m string) string {
		if len(m) < 8 {
			return m
		}
		return placeholder
	})
	s = numberPattern.ReplaceAllString(s, placeholder)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
