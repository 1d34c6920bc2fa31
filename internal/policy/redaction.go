// Package policy decides what part of a transcript may be kept in the journal.
package policy

import "regexp"

type rule struct {
	label   string
	pattern *regexp.Regexp
}

// Cards run before phones so long digit runs are labelled as cards.
var rules = []rule{
	{"SECRET", regexp.MustCompile(`(?i)\b(?:sk|pk|rk)-[a-z0-9_\-]{16,}\b`)},
	{"EMAIL", regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)},
	{"CARD", regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)},
	{"PHONE", regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)},
}

// RedactTranscript masks contact details, card numbers and API-key shaped tokens.
// It returns the labels of the rules that fired.
func RedactTranscript(text string) (string, []string) {
	var hits []string
	out := text
	for _, r := range rules {
		next := r.pattern.ReplaceAllString(out, "[REDACTED_"+r.label+"]")
		if next != out {
			hits = append(hits, r.label)
			out = next
		}
	}
	return out, hits
}
