package prompt

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/parley-org/parley/internal/llm"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/stringutil"
)

// Budget bounds the context assembled for one model.
type Budget struct {
	MaxContextTokens int
	MaxMessageTokens int
}

// DefaultBudget is used when no model-specific hint applies.
var DefaultBudget = Budget{MaxContextTokens: 4096, MaxMessageTokens: 1024}

// ClampToHint shrinks the budget when the model's reported context
// window is smaller than twice the configured budget.
func (b Budget) ClampToHint(contextLength int) Budget {
	if contextLength > 0 && contextLength < b.MaxContextTokens*2 {
		b.MaxContextTokens = contextLength / 2
	}
	return b
}

// Settings is the snapshot of tunables a single Build call works with.
type Settings struct {
	MaxMessages         int
	AdaptiveContext     bool
	ReductionFactor     float64
	ReductionThreshold  int
	SimilarityThreshold float64
}

// DefaultSettings mirror the config defaults.
func DefaultSettings() Settings {
	return Settings{
		MaxMessages:         10,
		AdaptiveContext:     true,
		ReductionFactor:     0.8,
		ReductionThreshold:  5,
		SimilarityThreshold: 0.8,
	}
}

const (
	// userPromptReserve keeps headroom for the phase prompt around the
	// history block.
	userPromptReserve = 200

	// minMessagesAfterReduction floors the adaptive message cap.
	minMessagesAfterReduction = 3

	// errorSentinelMarker identifies failed-turn contents excluded
	// from history.
	errorSentinelMarker = "[Error:"

	reasoningOpen  = "<think>"
	reasoningClose = "</think>"
)

// Builder assembles [system, user] contexts, caching the result per
// (discussion, model, round, message count).
type Builder struct {
	estimator *Estimator
	cache     *expirable.LRU[string, []llm.Message]
}

// NewBuilder creates a builder sharing the given estimator.
func NewBuilder(estimator *Estimator, cacheSize int) *Builder {
	return &Builder{
		estimator: estimator,
		cache:     expirable.NewLRU[string, []llm.Message](cacheSize, nil, 10*time.Minute),
	}
}

// Estimator returns the token estimator the builder uses.
func (b *Builder) Estimator() *Estimator {
	return b.estimator
}

// Purge drops all cached contexts.
func (b *Builder) Purge() {
	b.cache.Purge()
}

// EstimateContext returns the token estimate of an assembled context.
func (b *Builder) EstimateContext(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += b.estimator.Estimate(m.Content)
	}
	return total
}

// Build produces the [system, user] context for the next turn of
// model in discussion d.
func (b *Builder) Build(d *models.Discussion, model string, budget Budget, settings Settings) []llm.Message {
	key := fmt.Sprintf("%s|%s|%d|%d", d.ID, model, d.CurrentRound, len(d.Messages))
	if cached, ok := b.cache.Get(key); ok {
		return cached
	}

	phase := PhaseFor(d.CurrentRound, d.MaxRounds)
	budget, maxMessages := b.applyShrinkage(d.CurrentRound, budget, settings)

	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: b.systemPrompt(d, model, phase)},
		{Role: llm.RoleUser, Content: b.userPrompt(d, model, phase, budget, maxMessages, settings)},
	}

	b.cache.Add(key, msgs)
	return msgs
}

// applyShrinkage reduces the budget and message cap as rounds
// accumulate, so long discussions do not drown models in history.
func (b *Builder) applyShrinkage(currentRound int, budget Budget, settings Settings) (Budget, int) {
	maxMessages := settings.MaxMessages
	if maxMessages <= 0 {
		maxMessages = DefaultSettings().MaxMessages
	}
	if !settings.AdaptiveContext || currentRound < settings.ReductionThreshold {
		return budget, maxMessages
	}

	steps := (currentRound - settings.ReductionThreshold) / 5
	factor := math.Pow(settings.ReductionFactor, float64(steps))
	budget.MaxContextTokens = int(float64(budget.MaxContextTokens) * factor)
	maxMessages = int(float64(maxMessages) * factor)
	if maxMessages < minMessagesAfterReduction {
		maxMessages = minMessagesAfterReduction
	}
	return budget, maxMessages
}

func (b *Builder) systemPrompt(d *models.Discussion, model string, phase Phase) string {
	others := make([]string, 0, len(d.Models)-1)
	for _, m := range d.Models {
		if m != model {
			others = append(others, m)
		}
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s, one participant in a multi-model discussion on the topic: %q.\n", model, d.Topic)
	if len(others) > 0 {
		fmt.Fprintf(&sb, "The other participants are: %s.\n", strings.Join(others, ", "))
	}
	fmt.Fprintf(&sb, "This is round %d of %d (%s phase).\n", d.CurrentRound+1, d.MaxRounds, phase)
	sb.WriteString(phase.Guideline())
	return sb.String()
}

func (b *Builder) userPrompt(d *models.Discussion, model string, phase Phase, budget Budget, maxMessages int, settings Settings) string {
	if phase == PhaseInitial {
		return phase.FallbackPrompt(d.Topic)
	}

	history := b.selectHistory(d, budget, maxMessages, settings)
	if len(history) == 0 {
		return phase.FallbackPrompt(d.Topic)
	}

	var sb strings.Builder
	sb.WriteString("The discussion so far:\n\n")
	sb.WriteString(strings.Join(history, "\n\n"))
	sb.WriteString("\n\n")
	sb.WriteString(phase.FallbackPrompt(d.Topic))
	return sb.String()
}

// selectHistory walks messages newest to oldest, filtering, deduping
// and truncating until the budget is exhausted, then returns the
// survivors in chronological order.
func (b *Builder) selectHistory(d *models.Discussion, budget Budget, maxMessages int, settings Settings) []string {
	candidates := filterMessages(d.Messages)

	threshold := settings.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultSettings().SimilarityThreshold
	}

	maxChars := int(float64(budget.MaxMessageTokens) * b.estimator.CharsPerToken())
	var selected []string
	var kept []string // raw contents for dedupe comparison
	total := 0

	for i := len(candidates) - 1; i >= 0; i-- {
		msg := candidates[i]
		if isDuplicate(msg.Content, kept, threshold) {
			continue
		}

		formatted := fmt.Sprintf("%s contributed: %s", msg.ModelName, msg.Content)
		if b.estimator.Estimate(formatted) > budget.MaxMessageTokens {
			formatted = stringutil.TruncateWithEllipsis(formatted, maxChars)
		}

		cost := b.estimator.Estimate(formatted)
		if total+cost+userPromptReserve > budget.MaxContextTokens {
			break
		}

		selected = append(selected, formatted)
		kept = append(kept, msg.Content)
		total += cost
		if len(selected) >= maxMessages {
			break
		}
	}

	// Newest-first selection, chronological assembly.
	for i, j := 0, len(selected)-1; i < j; i, j = i+1, j-1 {
		selected[i], selected[j] = selected[j], selected[i]
	}
	return selected
}

// filterMessages drops system messages, empty contents, error
// sentinels and messages with an unclosed reasoning marker.
func filterMessages(msgs []models.Message) []models.Message {
	out := make([]models.Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == models.RoleSystem {
			continue
		}
		content := strings.TrimSpace(m.Content)
		if content == "" {
			continue
		}
		if strings.Contains(content, errorSentinelMarker) {
			continue
		}
		if strings.Contains(content, reasoningOpen) && !strings.Contains(content, reasoningClose) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func isDuplicate(content string, kept []string, threshold float64) bool {
	for _, k := range kept {
		if stringutil.SimilarityExceeds(content, k, threshold) {
			return true
		}
	}
	return false
}
