// Package memlayer assembles the token-budgeted three-tier context
// (profile, ranked core memories, recent history) handed to the host's
// language model, and runs the background embedding backfill.
package memlayer

import (
	"math"
	"strings"
	"unicode"
)

// EstimateTokens approximates the token cost of mixed CJK and Latin
// text: CJK characters count 1.5 tokens each, everything else one token
// per whitespace-separated word, rounded up.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}

	var cjk int
	var latin strings.Builder
	for _, r := range text {
		if isCJK(r) {
			cjk++
			latin.WriteRune(' ')
		} else {
			latin.WriteRune(r)
		}
	}
	words := len(strings.Fields(latin.String()))

	return int(math.Ceil(1.5*float64(cjk) + float64(words)))
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) ||
		unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) ||
		unicode.Is(unicode.Hangul, r)
}
