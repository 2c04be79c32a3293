package subtitle

import (
	"strings"
	"unicode"
)

// completeSentenceChars is the clean-character threshold above which a
// fragment counts as a complete sentence rather than a short partial.
const completeSentenceChars = 8

// isTargetLanguage classifies a fragment as target-language text when more
// than half of its Latin+CJK letters are Latin.
func isTargetLanguage(s string) bool {
	latin, cjk := 0, 0
	for _, r := range s {
		switch {
		case unicode.Is(unicode.Latin, r):
			latin++
		case unicode.Is(unicode.Han, r),
			unicode.Is(unicode.Hiragana, r),
			unicode.Is(unicode.Katakana, r),
			unicode.Is(unicode.Hangul, r):
			cjk++
		}
	}
	if latin+cjk == 0 {
		return false
	}
	return float64(latin)/float64(latin+cjk) > 0.5
}

// cleanLength counts letters and digits, ignoring punctuation and whitespace.
func cleanLength(s string) int {
	n := 0
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			n++
		}
	}
	return n
}

// isCompleteSentence reports whether a fragment is long enough to stand alone.
func isCompleteSentence(s string) bool {
	return cleanLength(s) >= completeSentenceChars
}

// stripWhitespace removes all whitespace for containment comparisons.
func stripWhitespace(s string) string {
	return strings.Join(strings.Fields(s), "")
}

// similar reports whether two fragments describe the same utterance: equal,
// one containing the other, or character-set Jaccard overlap >= 0.7.
func similar(a, b string) bool {
	if a == b {
		return true
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return jaccard(a, b) >= 0.7
}

// jaccard computes character-set overlap between two fragments.
func jaccard(a, b string) float64 {
	setA := make(map[rune]struct{})
	for _, r := range a {
		setA[r] = struct{}{}
	}
	setB := make(map[rune]struct{})
	for _, r := range b {
		setB[r] = struct{}{}
	}
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}

	intersection := 0
	for r := range setA {
		if _, ok := setB[r]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}
