package prompt

import (
	"fmt"
	"strings"

	"github.com/parley-org/parley/internal/llm"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/stringutil"
)

// Summary budget floors. A summary gets a fraction of the normal
// budget but never less than these.
const (
	summaryContextShare = 0.4
	summaryMessageShare = 0.6

	minSummaryContextTokens = 1000
	minSummaryMessageTokens = 800

	// MinSummaryCompletionTokens floors the completion cap handed to
	// the provider for summary calls.
	MinSummaryCompletionTokens = 100

	// summaryHistoryCap bounds how many recent messages feed the
	// summary context.
	summaryHistoryCap = 5
)

// SummaryBudget derives the reduced budget used by the summary ladder.
func SummaryBudget(base Budget) Budget {
	out := Budget{
		MaxContextTokens: int(float64(base.MaxContextTokens) * summaryContextShare),
		MaxMessageTokens: int(float64(base.MaxMessageTokens) * summaryMessageShare),
	}
	if out.MaxContextTokens < minSummaryContextTokens {
		out.MaxContextTokens = minSummaryContextTokens
	}
	if out.MaxMessageTokens < minSummaryMessageTokens {
		out.MaxMessageTokens = minSummaryMessageTokens
	}
	return out
}

// BuildSummary assembles the full phase-aware summary context: the
// first two ladder rungs use it. History caps at the most recent
// messages and truncates each more aggressively than turn context.
func (b *Builder) BuildSummary(d *models.Discussion, budget Budget) []llm.Message {
	system := fmt.Sprintf(
		"You summarize a completed multi-model discussion on the topic: %q. Participants: %s. Produce a concise synthesis of the positions, the points of agreement and disagreement, and the overall conclusion.",
		d.Topic, strings.Join(d.Models, ", "),
	)

	candidates := filterMessages(d.Messages)
	if len(candidates) > summaryHistoryCap {
		candidates = candidates[len(candidates)-summaryHistoryCap:]
	}

	// Half the per-message allowance: summaries need breadth, not
	// full transcripts.
	maxChars := int(float64(budget.MaxMessageTokens) * b.estimator.CharsPerToken() / 2)
	var history []string
	total := 0
	for _, msg := range candidates {
		formatted := fmt.Sprintf("%s contributed: %s", msg.ModelName, stringutil.TruncateWithEllipsis(msg.Content, maxChars))
		cost := b.estimator.Estimate(formatted)
		if total+cost+userPromptReserve > budget.MaxContextTokens {
			break
		}
		history = append(history, formatted)
		total += cost
	}

	user := fmt.Sprintf("Summarize the discussion about %q.", d.Topic)
	if len(history) > 0 {
		user = fmt.Sprintf("The discussion:\n\n%s\n\n%s", strings.Join(history, "\n\n"), user)
	}

	return []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: user},
	}
}

// SimpleSummaryContext is the third ladder rung: a two-message context
// with no transcript.
func SimpleSummaryContext(d *models.Discussion) []llm.Message {
	return []llm.Message{
		{
			Role:    llm.RoleSystem,
			Content: fmt.Sprintf("Summarize the discussion about %s in 2-3 sentences.", d.Topic),
		},
		{
			Role: llm.RoleUser,
			Content: fmt.Sprintf("%d models (%s) discussed %q over %d round(s). Give a brief summary of what such a discussion would have covered.",
				len(d.Models), strings.Join(d.Models, ", "), d.Topic, d.CurrentRound),
		},
	}
}

// MinimalSummaryContext is the last ladder rung before the system
// fallback.
func MinimalSummaryContext(d *models.Discussion) []llm.Message {
	return []llm.Message{
		{Role: llm.RoleUser, Content: fmt.Sprintf("Summarize: %s. Keep it brief.", d.Topic)},
	}
}
