package stringutil

import (
	"strings"
	"unicode"
)

// NormalizeText lowercases s, strips punctuation and symbols, and collapses
// whitespace runs to single spaces. Used to compare message contents
// independent of formatting.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	lastSpace := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsSpace(r):
			if !lastSpace {
				b.WriteRune(' ')
				lastSpace = true
			}
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			// stripped
		default:
			b.WriteRune(r)
			lastSpace = false
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// Similarity returns the normalized Levenshtein similarity of a and b in
// [0, 1], where 1 means identical after normalization.
func Similarity(a, b string) float64 {
	na, nb := NormalizeText(a), NormalizeText(b)
	if na == nb {
		return 1
	}
	ra, rb := []rune(na), []rune(nb)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return 1
	}
	dist := levenshtein(ra, rb, -1)
	return 1 - float64(dist)/float64(longest)
}

// SimilarityExceeds reports whether Similarity(a, b) > threshold. It bails
// out early when the length difference alone rules the threshold out, and
// abandons the distance computation once it can no longer come in under the
// threshold.
func SimilarityExceeds(a, b string, threshold float64) bool {
	na, nb := NormalizeText(a), NormalizeText(b)
	if na == nb {
		return threshold < 1
	}
	ra, rb := []rune(na), []rune(nb)
	longest := max(len(ra), len(rb))
	if longest == 0 {
		return threshold < 1
	}
	cutoff := int(float64(longest) * (1 - threshold))
	diff := len(ra) - len(rb)
	if diff < 0 {
		diff = -diff
	}
	// Length difference is a lower bound on edit distance.
	if diff > cutoff {
		return false
	}
	dist := levenshtein(ra, rb, cutoff)
	if dist > cutoff {
		return false
	}
	return 1-float64(dist)/float64(longest) > threshold
}

// levenshtein computes the edit distance between a and b with two rows.
// When cutoff is non-negative and every entry of a row exceeds it, the true
// distance cannot be lower, so cutoff+1 is returned immediately.
func levenshtein(a, b []rune, cutoff int) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		rowMin := curr[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
			if curr[j] < rowMin {
				rowMin = curr[j]
			}
		}
		if cutoff >= 0 && rowMin > cutoff {
			return cutoff + 1
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
