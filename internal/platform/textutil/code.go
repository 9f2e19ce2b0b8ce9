package textutil

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

var upper = cases.Upper(language.Und)

// CanonicalCode folds a user-entered code into its canonical comparison form:
// NFKC normalisation collapses full-width and compatibility characters before
// locale-independent uppercasing, so visually identical promo codes match.
func CanonicalCode(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	return upper.String(norm.NFKC.String(trimmed))
}
