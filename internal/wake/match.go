package wake

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxPhraseDistance is the largest edit distance between compacted transcript and phrase that
// still counts as a hit.
const maxPhraseDistance = 2

// MatchPhrase reports whether text contains phrase after normalization, or whether the two are
// within a small edit distance once whitespace is removed.
func MatchPhrase(text, phrase string) bool {
	t := normalizeText(text)
	p := normalizeText(phrase)
	if p == "" || t == "" {
		return false
	}
	if strings.Contains(t, p) {
		return true
	}
	return editDistance(compact(t), compact(p)) <= maxPhraseDistance
}

// normalizeText lowercases s, strips accents and punctuation and collapses whitespace.
func normalizeText(s string) string {
	stripped, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), s)
	if err != nil {
		stripped = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func compact(s string) string {
	return strings.ReplaceAll(s, " ", "")
}

// editDistance is the Levenshtein distance over runes.
func editDistance(a, b string) int {
	ar, br := []rune(a), []rune(b)
	row := make([]int, len(br)+1)
	for j := range row {
		row[j] = j
	}
	for i, ac := range ar {
		prev := row[0]
		row[0] = i + 1
		for j, bc := range br {
			cost := 1
			if ac == bc {
				cost = 0
			}
			cur := row[j+1]
			row[j+1] = min(row[j+1]+1, row[j]+1, prev+cost)
			prev = cur
		}
	}
	return row[len(br)]
}
