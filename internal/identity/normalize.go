package identity

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, strips diacritics and collapses whitespace.
// "  José  da Silva " becomes "jose da silva".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// Tokens returns the whitespace-separated words of an already normalised
// string that are longer than two runes. Initials and short particles such
// as "da" or "m." are dropped.
func Tokens(normalized string) []string {
	var out []string
	for _, f := range strings.Fields(normalized) {
		if utf8.RuneCountInString(f) > 2 {
			out = append(out, f)
		}
	}
	return out
}
