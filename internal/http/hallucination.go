package http

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/cases"
)

// Whisper emits these on silence or background noise.
var hallucinations = map[string]struct{}{}

func init() {
	for _, s := range []string{
		"thank you", "thanks", "you", "thank you.", "thanks.", "bye", "bye.",
		"goodbye", "see you", "okay", "ok", "thank you very much", "thanks a lot",
		"sure", ".", "thank you for watching", "thanks for watching",
		"please subscribe", "like and subscribe", "the end", "silence",
		"so", "um", "uh",
	} {
		hallucinations[s] = struct{}{}
	}
}

// maxCJKRatio is the share of CJK characters above which a transcript of
// English speech is treated as noise.
const maxCJKRatio = 0.3

// isHallucination reports whether a transcript should be dropped: too short,
// a known filler phrase, or mostly CJK characters.
func isHallucination(text string) bool {
	// Casers carry state, so each call gets its own.
	t := cases.Fold().String(strings.TrimSpace(text))
	n := utf8.RuneCountInString(t)
	if n < 3 {
		return true
	}
	if _, ok := hallucinations[t]; ok {
		return true
	}

	cjk := 0
	for _, r := range t {
		if isCJK(r) {
			cjk++
		}
	}
	return float64(cjk)/float64(n) > maxCJKRatio
}

func isCJK(r rune) bool {
	return (r >= 0x3000 && r <= 0x9fff) ||
		(r >= 0xac00 && r <= 0xd7af) ||
		(r >= 0xf900 && r <= 0xfaff)
}
