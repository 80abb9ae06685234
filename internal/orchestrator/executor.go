package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/parley-org/parley/internal/eventbus"
	"github.com/parley-org/parley/internal/llm"
	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/stringutil"
)

// Repetition thresholds: a response is rejected when one word
// dominates it or when it repeats whole sentences.
const (
	repetitionWordShare  = 0.15
	repetitionMinWordLen = 3
	repetitionMinSentLen = 10

	retryBackoffUnit = time.Second
)

// TurnOptions parameterize one turn execution.
type TurnOptions struct {
	DiscussionID string
	MessageID    string
	Model        string
	Context      []llm.Message

	// FallbackPrompt replaces the user prompt on retry attempts.
	FallbackPrompt string

	MaxRetries        int
	MinResponseLength int
	EnableStreaming   bool
	Timeout           time.Duration
	MaxTokens         int

	// Token event tuning.
	ThrottleEvery  int
	UpdateInterval time.Duration

	SimilarityThreshold float64

	// Summary switches the emitted events to the summary_* variants.
	Summary bool
}

// TurnResult is the outcome of a turn. On Success=false, Content holds
// the error sentinel.
type TurnResult struct {
	Content    string
	TokenCount int
	Success    bool
}

// Executor fills one message per call: streaming first, non-streaming
// fallback, bounded retries, repetition gate.
type Executor struct {
	provider llm.Provider
	bus      *eventbus.Bus
	metrics  *Metrics
}

// NewExecutor creates a turn executor.
func NewExecutor(provider llm.Provider, bus *eventbus.Bus, metrics *Metrics) *Executor {
	return &Executor{provider: provider, bus: bus, metrics: metrics}
}

// Execute runs the turn protocol. The returned result is also the
// content to store in the placeholder message.
func (e *Executor) Execute(ctx context.Context, opts TurnOptions) TurnResult {
	attempts := opts.MaxRetries + 1

	var content string
	var tokens int
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			backoff := retryBackoffUnit * time.Duration(attempt-1)
			logger.Debug(ctx, "Retrying turn", "model", opts.Model, "attempt", attempt, "backoff", backoff)
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return e.failure(ctx, opts, attempts)
			}
		}

		var err error
		content, tokens, err = e.attempt(ctx, opts, attempt)
		if err != nil {
			logger.Warn(ctx, "Turn attempt failed", "model", opts.Model, "attempt", attempt, "err", err)
			e.metrics.providerError(e.provider.Name())
			continue
		}

		if isRepetitive(content, opts.SimilarityThreshold) {
			if attempt < attempts {
				logger.Warn(ctx, "Rejecting repetitive response", "model", opts.Model, "attempt", attempt)
				continue
			}
			// Retry budget exhausted; a repetitive answer beats none.
			logger.Warn(ctx, "Accepting repetitive response after final attempt", "model", opts.Model)
		}

		return TurnResult{Content: content, TokenCount: tokens, Success: true}
	}

	return e.failure(ctx, opts, attempts)
}

func (e *Executor) failure(ctx context.Context, opts TurnOptions, attempts int) TurnResult {
	logger.Error(ctx, "Turn failed after all attempts", "model", opts.Model, "attempts", attempts)
	return TurnResult{
		Content: fmt.Sprintf("[Error: %s failed to respond after %d attempts]", opts.Model, attempts),
		Success: false,
	}
}

// attempt tries streaming first (when enabled), then the one-shot
// fallback with a terse prompt on retries.
func (e *Executor) attempt(ctx context.Context, opts TurnOptions, attempt int) (string, int, error) {
	if opts.EnableStreaming {
		content, tokens, err := e.streamOnce(ctx, opts)
		if err == nil && e.validate(content, tokens, opts) {
			return content, tokens, nil
		}
		if err != nil {
			logger.Debug(ctx, "Streaming path failed, falling back", "model", opts.Model, "err", err)
		}
	}
	return e.completeOnce(ctx, opts, attempt)
}

// streamOnce runs the streaming path, emitting throttled token events
// and periodic content snapshots.
func (e *Executor) streamOnce(ctx context.Context, opts TurnOptions) (string, int, error) {
	callCtx, cancel := e.withTimeout(ctx, opts)
	defer cancel()

	req := e.request(opts, opts.Context)
	throttle := eventbus.NewTokenThrottle(opts.ThrottleEvery, opts.UpdateInterval)
	snapshotInterval := opts.UpdateInterval
	if snapshotInterval <= 0 {
		snapshotInterval = eventbus.DefaultUpdateInterval
	}

	var buf strings.Builder
	tokens := 0
	lastSnapshot := time.Now()

	_, err := e.provider.CompleteStream(callCtx, req, func(chunk llm.Chunk) {
		if chunk.Content != "" {
			buf.WriteString(chunk.Content)
			tokens++
			e.metrics.addTokens(1)
			if throttle.Tick() {
				e.emitToken(opts, chunk.Content, buf.String(), tokens, false)
			}
			if time.Since(lastSnapshot) >= snapshotInterval {
				lastSnapshot = time.Now()
				e.emitStreaming(opts, buf.String(), false)
			}
		}
		if chunk.Done {
			// The terminal event bypasses the throttle.
			e.emitToken(opts, "", buf.String(), tokens, true)
			e.emitStreaming(opts, buf.String(), true)
		}
	})
	if err != nil {
		return "", 0, err
	}
	return buf.String(), tokens, nil
}

// completeOnce runs the non-streaming fallback. Retries swap the user
// prompt for the terse phase-generic one.
func (e *Executor) completeOnce(ctx context.Context, opts TurnOptions, attempt int) (string, int, error) {
	callCtx, cancel := e.withTimeout(ctx, opts)
	defer cancel()

	msgs := opts.Context
	if attempt > 1 && opts.FallbackPrompt != "" {
		msgs = shortenContext(msgs, opts.FallbackPrompt)
	}

	result, err := e.provider.Complete(callCtx, e.request(opts, msgs))
	if err != nil {
		return "", 0, err
	}

	tokens := result.Usage.CompletionTokens
	if tokens == 0 {
		tokens = len(strings.Fields(result.Content))
	}
	if !e.validate(result.Content, 1, opts) {
		return "", 0, fmt.Errorf("response below minimum length (%d chars)", len(result.Content))
	}
	return result.Content, tokens, nil
}

func (e *Executor) withTimeout(ctx context.Context, opts TurnOptions) (context.Context, context.CancelFunc) {
	if opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, opts.Timeout)
}

func (e *Executor) request(opts TurnOptions, msgs []llm.Message) *llm.CompletionRequest {
	var reqOpts []llm.RequestOption
	if opts.MaxTokens > 0 {
		reqOpts = append(reqOpts, llm.WithMaxTokens(opts.MaxTokens))
	}
	return llm.NewCompletionRequest(opts.Model, msgs, reqOpts...)
}

// validate applies the acceptance gate: at least one chunk of content
// and a minimum final length.
func (e *Executor) validate(content string, chunks int, opts TurnOptions) bool {
	return chunks > 0 && len(content) >= opts.MinResponseLength
}

func (e *Executor) emitToken(opts TurnOptions, token, content string, count int, done bool) {
	if e.bus == nil {
		return
	}
	if opts.Summary {
		e.bus.Publish(eventbus.NewSummaryToken(opts.DiscussionID, opts.MessageID, token, content, count, done))
		return
	}
	e.bus.Publish(eventbus.NewMessageToken(opts.DiscussionID, opts.MessageID, token, content, count, done))
}

func (e *Executor) emitStreaming(opts TurnOptions, content string, complete bool) {
	if e.bus == nil {
		return
	}
	if opts.Summary {
		e.bus.Publish(eventbus.NewSummaryStreaming(opts.DiscussionID, opts.MessageID, content, complete))
		return
	}
	e.bus.Publish(eventbus.NewMessageStreaming(opts.DiscussionID, opts.MessageID, content, complete))
}

// shortenContext keeps the system message and replaces everything else
// with the terse prompt.
func shortenContext(msgs []llm.Message, fallback string) []llm.Message {
	out := make([]llm.Message, 0, 2)
	for _, m := range msgs {
		if m.Role == llm.RoleSystem {
			out = append(out, m)
			break
		}
	}
	return append(out, llm.Message{Role: llm.RoleUser, Content: fallback})
}

// isRepetitive rejects output where one word dominates or two
// sentences repeat each other.
func isRepetitive(content string, similarityThreshold float64) bool {
	if similarityThreshold <= 0 {
		similarityThreshold = 0.8
	}

	words := strings.Fields(content)
	if len(words) > 0 {
		freq := map[string]int{}
		for _, w := range words {
			w = strings.ToLower(strings.Trim(w, ".,!?;:\"'"))
			if len(w) > repetitionMinWordLen {
				freq[w]++
			}
		}
		for _, n := range freq {
			if float64(n)/float64(len(words)) > repetitionWordShare {
				return true
			}
		}
	}

	sentences := splitSentences(content)
	for i := 0; i < len(sentences); i++ {
		for j := i + 1; j < len(sentences); j++ {
			if len(sentences[i]) > repetitionMinSentLen && len(sentences[j]) > repetitionMinSentLen &&
				stringutil.SimilarityExceeds(sentences[i], sentences[j], similarityThreshold) {
				return true
			}
		}
	}
	return false
}

func splitSentences(content string) []string {
	raw := strings.FieldsFunc(content, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n'
	})
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
