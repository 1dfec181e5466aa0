// Package intent maps free text to a closed set of intents with an ordered,
// first-match keyword table.
package intent

import "strings"

var accentFolds = map[rune]rune{
	'á': 'a', 'à': 'a',
	'é': 'e', 'è': 'e',
	'í': 'i', 'ì': 'i',
	'ó': 'o', 'ò': 'o',
	'ú': 'u', 'ù': 'u',
	'ñ': 'n',
}

// Normalize lowercases text, folds Spanish accented vowels and ñ, turns every
// character that is neither an ASCII word character nor whitespace into a
// space, then collapses and trims whitespace.
func Normalize(text string) string {
	lowered := strings.ToLower(text)
	var b strings.Builder
	b.Grow(len(lowered))
	for _, r := range lowered {
		if folded, ok := accentFolds[r]; ok {
			r = folded
		}
		if isWordRune(r) {
			b.WriteRune(r)
			continue
		}
		b.WriteByte(' ')
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func isWordRune(r rune) bool {
	return r == '_' ||
		(r >= 'a' && r <= 'z') ||
		(r >= 'A' && r <= 'Z') ||
		(r >= '0' && r <= '9')
}
