package evaluator

import (
	"strings"
	"unicode"
)

// tokenOverlapThreshold is the share of expected tokens a proposed mitigation
// must contain to count as a match.
const tokenOverlapThreshold = 0.6

// stopwords are ignored when comparing free text.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "from": true, "into": true,
	"with": true, "that": true, "this": true, "then": true, "than": true,
	"have": true, "been": true, "were": true, "will": true, "should": true,
	"could": true, "would": true, "about": true, "their": true, "there": true,
	"when": true, "where": true, "which": true, "after": true, "before": true,
}

// words splits text into lowercase tokens. Dots, dashes, underscores and
// slashes stay inside a token so versions such as "v2.3.0" stay whole.
func words(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(unicode.IsLetter(r) || unicode.IsDigit(r) || r == '.' || r == '-' || r == '_' || r == '/')
	})
	out := fields[:0]
	for _, f := range fields {
		if w := strings.Trim(f, ".-_/"); w != "" {
			out = append(out, w)
		}
	}
	return out
}

// significantWords returns the distinct tokens of text that carry meaning:
// anything containing a digit, plus words longer than three characters that
// are not stopwords. Dotted identifiers without digits are split, so
// "PaymentService.charge" yields "paymentservice" and "charge".
func significantWords(text string) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(w string) {
		if seen[w] {
			return
		}
		if !hasDigit(w) && (len(w) <= 3 || stopwords[w]) {
			return
		}
		seen[w] = true
		out = append(out, w)
	}
	for _, w := range words(text) {
		if hasDigit(w) || !strings.Contains(w, ".") {
			add(w)
			continue
		}
		for _, part := range strings.Split(w, ".") {
			add(part)
		}
	}
	return out
}

func hasDigit(s string) bool {
	return strings.IndexFunc(s, unicode.IsDigit) >= 0
}

// tokenMatches reports whether want appears among tokens. Tokens with digits
// must match exactly; other words may sit inside a compound token, so
// "pointer" matches "nullpointerexception".
func tokenMatches(want string, tokens []string) bool {
	exact := hasDigit(want)
	for _, t := range tokens {
		if t == want || (!exact && strings.Contains(t, want)) {
			return true
		}
	}
	return false
}

// covers counts the wanted words found in tokens. ok is false when a wanted
// word with a digit is missing.
func covers(want, tokens []string) (matched int, ok bool) {
	for _, w := range want {
		if tokenMatches(w, tokens) {
			matched++
		} else if hasDigit(w) {
			return matched, false
		}
	}
	return matched, true
}

// containsPhrase reports whether the tokens of phrase occur consecutively in
// text.
func containsPhrase(text, phrase string) bool {
	want := words(phrase)
	if len(want) == 0 {
		return false
	}
	have := words(text)
	for i := 0; i+len(want) <= len(have); i++ {
		match := true
		for j, w := range want {
			if have[i+j] != w {
				match = false
				break
			}
		}
		if match {
			return true
		}
	}
	return false
}

// mitigationMatches reports whether proposed describes the expected fix.
// Every version or number in expected must appear verbatim and proposed must
// cover enough of expected's significant words.
func mitigationMatches(proposed, expected string) bool {
	if strings.TrimSpace(proposed) == "" || strings.TrimSpace(expected) == "" {
		return false
	}
	want := significantWords(expected)
	if len(want) == 0 {
		return containsPhrase(proposed, expected)
	}
	matched, ok := covers(want, significantWords(proposed))
	if !ok {
		return false
	}
	return float64(matched)/float64(len(want)) >= tokenOverlapThreshold
}

// evidenceMatches reports whether text mentions a strict majority of item's
// significant words, including all of its versions and numbers. Items
// without significant words must appear as a whole phrase.
func evidenceMatches(item, text string) bool {
	want := significantWords(item)
	if len(want) == 0 {
		return containsPhrase(text, item)
	}
	matched, ok := covers(want, significantWords(text))
	return ok && matched*2 > len(want)
}
