// Package prompt assembles the provider input for a turn: a token
// estimator with no tokenizer dependency, a phase model derived from
// round progress, and a budget-aware history selector.
package prompt

import (
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// Estimator defaults, overridable via tokenEstimation.* settings.
const (
	DefaultCharsPerToken = 2.8
	DefaultTokensPerWord = 1.4

	// estimateSafetyMargin pads estimates so a slightly-off guess
	// never overruns a real context window.
	estimateSafetyMargin = 1.10
)

// Estimator approximates token counts from character and word counts.
// Estimates are cached by content hash.
type Estimator struct {
	charsPerToken float64
	tokensPerWord float64
	cache         *expirable.LRU[string, int]
}

// NewEstimator creates an estimator. Non-positive coefficients fall
// back to the defaults; cacheSize 0 disables caching bounds.
func NewEstimator(charsPerToken, tokensPerWord float64, cacheSize int) *Estimator {
	if charsPerToken <= 0 {
		charsPerToken = DefaultCharsPerToken
	}
	if tokensPerWord <= 0 {
		tokensPerWord = DefaultTokensPerWord
	}
	return &Estimator{
		charsPerToken: charsPerToken,
		tokensPerWord: tokensPerWord,
		cache:         expirable.NewLRU[string, int](cacheSize, nil, 30*time.Minute),
	}
}

// Estimate returns the token estimate for text, minimum 1.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 1
	}
	key := contentKey(text)
	if n, ok := e.cache.Get(key); ok {
		return n
	}

	chars := float64(len([]rune(text)))
	words := float64(len(strings.Fields(text)))
	estimate := math.Max(math.Ceil(chars/e.charsPerToken), math.Ceil(words/e.tokensPerWord))
	n := int(math.Ceil(estimate * estimateSafetyMargin))
	if n < 1 {
		n = 1
	}

	e.cache.Add(key, n)
	return n
}

// CharsPerToken exposes the character coefficient, used to convert a
// token budget back into a character truncation limit.
func (e *Estimator) CharsPerToken() float64 {
	return e.charsPerToken
}

// Purge drops all cached estimates.
func (e *Estimator) Purge() {
	e.cache.Purge()
}

// contentKey builds a stable cache key from a content hash plus length
// so unequal texts rarely collide.
func contentKey(text string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(text))
	return fmt.Sprintf("%x:%d", h.Sum64(), len(text))
}
