package normalizers

import (
	"regexp"
	"strings"
)

var (
	honorificPattern = wordPattern(
		"Mr", "Ms", "Ltd", "LLP", "Pvt", "Private", "Limited", "LLC", "PLLP", "lp", "m/s", "pvtltd",
	)
	conjunctionPattern = regexp.MustCompile(`(?i)\band\b`)
	separatorPattern   = regexp.MustCompile(`[.,]`)
	qualifierPattern   = wordPattern(
		"industry", "industries", "corp", "corporation", "inc", "incorporated", "foundation",
		"company", "co", "limited", "ltd", "pvt", "llc", "llp", "and", "pvtltd", "m/s", "ms",
	)
)

// wordPattern matches any of the words as a whole word, ignoring case
func wordPattern(words ...string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		quoted = append(quoted, regexp.QuoteMeta(w))
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

// NormalizeCustomerName reduces a customer or company name to a comparison key.
// Honorifics, legal-entity suffixes, conjunctions, periods, commas and all whitespace
// are removed and the result is lower-cased:
//
//	NormalizeCustomerName("M/S Acme Pvt. Ltd.") == "acme"
//
// The rules repeat until the key stops changing, so the function is idempotent even
// when removing spaces produces a stop word ("L P" -> "lp" -> "").
func NormalizeCustomerName(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	s = FoldDiacritics(s)
	for {
		next := normalizeNameOnce(s)
		if next == s {
			return next
		}
		s = next
	}
}

func normalizeNameOnce(s string) string {
	s = honorificPattern.ReplaceAllString(s, "")

	// "A&B" and "A & B" both become "A and B"
	s = strings.ReplaceAll(s, "&", " and ")
	s = conjunctionPattern.ReplaceAllString(s, "and")

	s = separatorPattern.ReplaceAllString(s, "")
	s = qualifierPattern.ReplaceAllString(s, "")

	return strings.ToLower(RemoveWhitespace(s))
}
