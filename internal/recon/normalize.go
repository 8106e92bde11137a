package recon

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var accentStripper = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// stripAccents removes combining marks so "depósito" and "deposito" compare
// equal. Falls back to the input when the transform fails.
func stripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

// tokenSet lower-cases, strips accents and splits a description into its set
// of whitespace-separated tokens. Punctuation glued to a token is removed so
// "ACME," and "acme" collapse.
func tokenSet(s string) map[string]struct{} {
	s = strings.ToLower(stripAccents(s))
	set := make(map[string]struct{})
	for _, tok := range strings.Fields(s) {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok != "" {
			set[tok] = struct{}{}
		}
	}
	return set
}

// normalizeDocRef strips everything that is not a letter or digit and
// lower-cases the remainder, so "NF-1234" and "nf1234" match.
func normalizeDocRef(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
