package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parley-org/parley/internal/eventbus"
	"github.com/parley-org/parley/internal/llm"
	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/prompt"
)

// defaultSummaryDeadlines are the per-rung wall-clock budgets of the
// summary ladder, in rung order.
var defaultSummaryDeadlines = [4]time.Duration{
	60 * time.Second,
	45 * time.Second,
	30 * time.Second,
	20 * time.Second,
}

// minSummaryLength is the success gate: a summary shorter than this is
// treated as a rung failure.
const minSummaryLength = 20

// summaryRung is one attempt strategy of the ladder.
type summaryRung struct {
	name      string
	streaming bool
	context   func() []llm.Message
}

// summarize runs the ladder after the turn loop finishes, ending the
// discussion as completed either with a model summary or the system
// fallback.
func (o *Orchestrator) summarize(ctx context.Context, d *models.Discussion) {
	o.mu.Lock()
	d.Status = models.StatusSummarizing
	d.Touch()
	cp := d.Clone()
	o.mu.Unlock()
	o.save(ctx, cp)
	o.bus.Publish(eventbus.NewGeneratingSummary(d.ID, d.SummaryModel))
	logger.Info(ctx, "Generating summary", "discussionId", d.ID, "summaryModel", d.SummaryModel)

	cfg := o.snapshot()
	budget := prompt.SummaryBudget(o.budgetFor(ctx, d.SummaryModel, cfg))
	summaryID := uuid.NewString()

	rungs := []summaryRung{
		{name: "streaming", streaming: true, context: func() []llm.Message { return o.builder.BuildSummary(cp, budget) }},
		{name: "non-streaming", context: func() []llm.Message { return o.builder.BuildSummary(cp, budget) }},
		{name: "simple", context: func() []llm.Message { return prompt.SimpleSummaryContext(cp) }},
		{name: "minimal", context: func() []llm.Message { return prompt.MinimalSummaryContext(cp) }},
	}

	for i, rung := range rungs {
		// A stop request aborts the ladder at the next rung boundary.
		o.mu.RLock()
		status := d.Status
		o.mu.RUnlock()
		if status != models.StatusSummarizing {
			logger.Info(ctx, "Summary ladder aborted", "discussionId", d.ID, "status", status)
			return
		}

		content, tokens, err := o.runSummaryRung(ctx, d, rung, summaryID, budget, o.summaryDeadlines[i])
		if err != nil {
			logger.Warn(ctx, "Summary rung failed", "rung", rung.name, "err", err)
			o.metrics.providerError(o.provider.Name())
			continue
		}
		if len(content) <= minSummaryLength {
			logger.Warn(ctx, "Summary rung produced too little content", "rung", rung.name, "length", len(content))
			continue
		}

		summary := models.NewSummary(d.SummaryModel, content, tokens)
		summary.ID = summaryID
		o.completeWithSummary(ctx, d, summary, false)
		return
	}

	// Every rung failed; the discussion still completes.
	fallback := models.NewFallbackSummary(fmt.Sprintf(
		"Discussion about %q completed with %d messages from models: %s. Summary generation encountered technical difficulties.",
		d.Topic, len(d.AssistantMessages()), strings.Join(d.Models, ", "),
	))
	fallback.ID = summaryID
	o.mu.Lock()
	d.Error = "summary generation failed on all attempts"
	o.mu.Unlock()
	o.metrics.summaryFallback()
	o.completeWithSummary(ctx, d, fallback, true)
}

// runSummaryRung executes one rung under its deadline.
func (o *Orchestrator) runSummaryRung(ctx context.Context, d *models.Discussion, rung summaryRung, summaryID string, budget prompt.Budget, deadline time.Duration) (string, int, error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "discussion.summary",
			trace.WithAttributes(attribute.String("discussion.id", d.ID), attribute.String("rung", rung.name)))
		defer span.End()
	}
	logger.Debug(ctx, "Trying summary rung", "rung", rung.name, "deadline", deadline)

	cfg := o.snapshot()
	maxTokens := budget.MaxMessageTokens
	if maxTokens < prompt.MinSummaryCompletionTokens {
		maxTokens = prompt.MinSummaryCompletionTokens
	}
	opts := TurnOptions{
		DiscussionID:      d.ID,
		MessageID:         summaryID,
		Model:             d.SummaryModel,
		Context:           rung.context(),
		MinResponseLength: minSummaryLength + 1,
		Timeout:           deadline,
		MaxTokens:         maxTokens,
		ThrottleEvery:     cfg.Performance.TokenBroadcastThrottle,
		UpdateInterval:    cfg.Performance.StreamingUpdateInterval,
		Summary:           true,
	}

	if rung.streaming {
		content, tokens, err := o.executor.streamOnce(ctx, opts)
		if err != nil {
			return "", 0, err
		}
		if !o.executor.validate(content, tokens, opts) {
			return "", 0, fmt.Errorf("stream produced %d chars", len(content))
		}
		return content, tokens, nil
	}
	return o.executor.completeOnce(ctx, opts, 1)
}

// completeWithSummary finishes the discussion: summary recorded,
// status completed, dropped from the registry.
func (o *Orchestrator) completeWithSummary(ctx context.Context, d *models.Discussion, summary *models.Summary, warning bool) {
	now := time.Now()
	o.mu.Lock()
	d.Summary = summary
	d.Status = models.StatusCompleted
	d.CompletedAt = &now
	d.Touch()
	delete(o.active, d.ID)
	delete(o.discussions, d.ID)
	activeCount := len(o.active)
	cp := d.Clone()
	o.mu.Unlock()

	o.save(ctx, cp)
	o.bus.Publish(eventbus.NewSummaryComplete(cp.ID, summary))
	o.bus.Publish(eventbus.NewDiscussionCompleted(cp, warning))
	o.metrics.setActive(activeCount)
	logger.Info(ctx, "Discussion completed", "discussionId", cp.ID, "fallback", summary.Fallback)
}
