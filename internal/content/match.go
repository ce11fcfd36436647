// Package content holds the read-only conversational content a session type
// is configured with: the topic catalogue for tutoring sessions and the FAQ
// table for sales sessions. Both support spoken-input lookup, which must
// tolerate transcription noise ("lupes" for "loops"), so matching combines
// Double Metaphone phonetic codes with Jaro-Winkler similarity.
package content

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	// phoneticThreshold is the minimum Jaro-Winkler score for a candidate
	// that already overlaps phonetically with the input.
	phoneticThreshold = 0.70

	// fuzzyThreshold is the minimum Jaro-Winkler score when no phonetic
	// overlap exists.
	fuzzyThreshold = 0.85
)

// bestMatch finds the candidate most similar to the spoken phrase. Candidates
// that share a Double Metaphone code with any input token qualify at the
// lower phonetic threshold; otherwise pure string similarity must clear the
// higher fuzzy threshold. Returns the index of the winning candidate, its
// score, and whether anything matched.
func bestMatch(phrase string, candidates []string) (int, float64, bool) {
	phrase = strings.ToLower(strings.TrimSpace(phrase))
	if phrase == "" || len(candidates) == 0 {
		return 0, 0, false
	}
	inputTokens := strings.Fields(phrase)
	inputCodes := metaphoneCodes(inputTokens)

	bestIdx, bestScore, bestPhonetic := -1, 0.0, false

	for i, cand := range candidates {
		candLower := strings.ToLower(strings.TrimSpace(cand))
		if candLower == "" {
			continue
		}
		candTokens := strings.Fields(candLower)

		phonetic := codesOverlap(inputCodes, metaphoneCodes(candTokens))
		score := similarity(inputTokens, candTokens, phrase, candLower)

		switch {
		case phonetic && score >= phoneticThreshold:
			if !bestPhonetic || score > bestScore {
				bestIdx, bestScore, bestPhonetic = i, score, true
			}
		case !phonetic && !bestPhonetic && score >= fuzzyThreshold && score > bestScore:
			bestIdx, bestScore = i, score
		}
	}

	if bestIdx < 0 {
		return 0, 0, false
	}
	return bestIdx, bestScore, true
}

// metaphoneCodes returns the union of Double Metaphone codes for the tokens.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap reports whether the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity is the highest Jaro-Winkler score between input and candidate,
// comparing full strings, space-stripped strings, and every token pair. The
// token-pair pass covers utterances that embed the candidate in a longer
// sentence ("tell me about loops").
func similarity(inputTokens, candTokens []string, inputFull, candFull string) float64 {
	score := matchr.JaroWinkler(inputFull, candFull, false)

	if len(inputTokens) > 1 || len(candTokens) > 1 {
		if s := matchr.JaroWinkler(strings.Join(inputTokens, ""), strings.Join(candTokens, ""), false); s > score {
			score = s
		}
	}

	for _, it := range inputTokens {
		for _, ct := range candTokens {
			if s := matchr.JaroWinkler(it, ct, false); s > score {
				score = s
			}
		}
	}

	return score
}
