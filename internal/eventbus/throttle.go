package eventbus

import "time"

// Throttle defaults; tunable via performance.tokenBroadcastThrottle and
// performance.streamingUpdateInterval.
const (
	DefaultTokenThrottle  = 10
	DefaultUpdateInterval = 200 * time.Millisecond
)

// TokenThrottle decides when a token delta is worth broadcasting: every
// K tokens or every T elapsed, whichever comes first. The terminal
// done=true event must bypass the throttle entirely; callers emit it
// unconditionally.
type TokenThrottle struct {
	every    int
	interval time.Duration

	pending  int
	lastEmit time.Time
	now      func() time.Time
}

// NewTokenThrottle creates a throttle. Non-positive arguments fall back
// to the defaults.
func NewTokenThrottle(every int, interval time.Duration) *TokenThrottle {
	if every <= 0 {
		every = DefaultTokenThrottle
	}
	if interval <= 0 {
		interval = DefaultUpdateInterval
	}
	return &TokenThrottle{
		every:    every,
		interval: interval,
		now:      time.Now,
	}
}

// Tick records one received token and reports whether to emit now. The
// first token after construction always emits so subscribers see output
// promptly.
func (t *TokenThrottle) Tick() bool {
	t.pending++
	now := t.now()
	if t.lastEmit.IsZero() || t.pending >= t.every || now.Sub(t.lastEmit) >= t.interval {
		t.pending = 0
		t.lastEmit = now
		return true
	}
	return false
}

// Pending returns the number of tokens received since the last emit.
func (t *TokenThrottle) Pending() int {
	return t.pending
}
