// Package orchestrator drives discussions: it owns the in-memory
// registry of live discussions, runs one turn loop goroutine per
// running discussion, persists every state change and broadcasts it on
// the event bus.
package orchestrator

import (
	"context"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/parley-org/parley/internal/config"
	"github.com/parley-org/parley/internal/eventbus"
	"github.com/parley-org/parley/internal/llm"
	"github.com/parley-org/parley/internal/logger"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/prompt"
	"github.com/parley-org/parley/internal/storage"
)

// Single-model mode: a stuck turn blocks successors for at most
// rounds × interval before the set is force-cleared.
const (
	defaultStuckWaitRounds   = 60
	defaultStuckWaitInterval = 500 * time.Millisecond
)

// descriptorProvider is implemented by providers that can report a
// model's context-length hint.
type descriptorProvider interface {
	Descriptor(ctx context.Context, model string) (llm.ModelDescriptor, bool)
}

// Orchestrator is the process-wide discussion service.
type Orchestrator struct {
	cfg   *config.Config
	cfgMu sync.RWMutex

	provider llm.Provider
	store    *storage.Store
	bus      *eventbus.Bus
	builder  *prompt.Builder
	executor *Executor
	metrics  *Metrics
	tracer   trace.Tracer

	// mu guards the registry and every field of a registered
	// discussion. Never held across provider or disk I/O.
	mu          sync.RWMutex
	discussions map[string]*models.Discussion
	active      map[string]struct{}

	// runningMu guards the running-models set (model -> discussion).
	runningMu     sync.Mutex
	runningModels map[string]string

	stuckWaitRounds   int
	stuckWaitInterval time.Duration

	summaryDeadlines [4]time.Duration

	rootCtx context.Context
	wg      sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetrics installs prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer enables per-discussion and per-turn spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = t
	}
}

// WithSummaryDeadlines overrides the per-rung ladder deadlines.
func WithSummaryDeadlines(deadlines [4]time.Duration) Option {
	return func(o *Orchestrator) {
		o.summaryDeadlines = deadlines
	}
}

// WithSummaryDeadlineCap clamps every ladder rung deadline to at most d.
func WithSummaryDeadlineCap(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d <= 0 {
			return
		}
		for i := range o.summaryDeadlines {
			if o.summaryDeadlines[i] > d {
				o.summaryDeadlines[i] = d
			}
		}
	}
}

// New creates the orchestrator. ctx is the process lifetime; turn
// loops stop when it is cancelled or when Shutdown runs.
func New(ctx context.Context, cfg *config.Config, provider llm.Provider, store *storage.Store, bus *eventbus.Bus, builder *prompt.Builder, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:               cfg,
		provider:          provider,
		store:             store,
		bus:               bus,
		builder:           builder,
		discussions:       make(map[string]*models.Discussion),
		active:            make(map[string]struct{}),
		runningModels:     make(map[string]string),
		stuckWaitRounds:   defaultStuckWaitRounds,
		stuckWaitInterval: defaultStuckWaitInterval,
		summaryDeadlines:  defaultSummaryDeadlines,
		rootCtx:           ctx,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.executor = NewExecutor(provider, bus, o.metrics)
	return o
}

// snapshot returns a copy of the current configuration; turn loops
// take one per iteration so runtime tuning applies at the next turn.
func (o *Orchestrator) snapshot() config.Config {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return *o.cfg
}

// Create validates the request, builds the discussion with its system
// intro message and persists it.
func (o *Orchestrator) Create(ctx context.Context, req models.CreateRequest) (*models.Discussion, error) {
	req.ApplyDefaults()
	d, err := models.NewDiscussion(req)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.discussions[d.ID] = d
	o.mu.Unlock()

	if err := o.store.Save(ctx, d.Clone()); err != nil {
		o.mu.Lock()
		delete(o.discussions, d.ID)
		o.mu.Unlock()
		return nil, fmt.Errorf("failed to persist discussion: %w", err)
	}

	logger.Info(ctx, "Discussion created", "discussionId", d.ID, "topic", d.Topic, "models", d.Models)
	return d.Clone(), nil
}

// Start launches the turn loop for a created or stopped discussion.
// A stopped discussion resumes from its persisted position.
func (o *Orchestrator) Start(ctx context.Context, id string) (*models.Discussion, error) {
	d, err := o.resident(ctx, id)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	switch {
	case d.Status.IsActive():
		o.mu.Unlock()
		return nil, ErrAlreadyActive
	case d.Status == models.StatusCompleted, d.Status == models.StatusError:
		o.mu.Unlock()
		return nil, &models.ValidationError{Field: "status", Reason: fmt.Sprintf("cannot start a discussion in status %q", d.Status)}
	case d.CurrentRound >= d.MaxRounds:
		o.mu.Unlock()
		return nil, ErrNoRoundsRemaining
	}
	d.Status = models.StatusRunning
	d.Touch()
	o.active[d.ID] = struct{}{}
	activeCount := len(o.active)
	cp := d.Clone()
	o.mu.Unlock()

	o.save(ctx, cp)
	o.bus.Publish(eventbus.NewDiscussionStarted(cp))
	o.metrics.setActive(activeCount)
	logger.Info(ctx, "Discussion started", "discussionId", cp.ID)

	o.wg.Add(1)
	go o.runLoop(d)

	return cp, nil
}

// resident returns the in-memory discussion, loading and registering
// it from disk when needed. Completed discussions are never
// re-registered.
func (o *Orchestrator) resident(ctx context.Context, id string) (*models.Discussion, error) {
	o.mu.RLock()
	d, ok := o.discussions[id]
	o.mu.RUnlock()
	if ok {
		return d, nil
	}

	loaded, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDiscussionNotFound, id)
	}
	if loaded.Status == models.StatusCompleted {
		return loaded, nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if existing, ok := o.discussions[id]; ok {
		return existing, nil
	}
	o.discussions[id] = loaded
	return loaded, nil
}

// runLoop drives one discussion until its rounds are exhausted or its
// status leaves running, then hands over to the summary ladder.
func (o *Orchestrator) runLoop(d *models.Discussion) {
	defer o.wg.Done()
	ctx := logger.WithValues(o.rootCtx, "discussionId", d.ID)

	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "discussion.run",
			trace.WithAttributes(attribute.String("discussion.id", d.ID)))
		defer span.End()
	}

	defer func() {
		if r := recover(); r != nil {
			o.fatal(ctx, d, fmt.Errorf("turn loop panic: %v\n%s", r, debug.Stack()))
		}
	}()

	for {
		o.mu.RLock()
		status := d.Status
		round := d.CurrentRound
		idx := d.CurrentModelIndex
		o.mu.RUnlock()
		if status != models.StatusRunning || round >= d.MaxRounds {
			break
		}

		model := d.Models[idx]
		cfg := o.snapshot()

		if cfg.Orchestrator.SingleModelMode {
			o.waitForIdleModels(ctx)
		}
		o.setRunning(model, d.ID)
		func() {
			defer o.clearRunning(model)
			o.executeTurn(ctx, d, model, round, cfg)
		}()

		o.mu.Lock()
		d.CurrentModelIndex = (d.CurrentModelIndex + 1) % len(d.Models)
		wrapped := d.CurrentModelIndex == 0
		if wrapped {
			d.CurrentRound++
		}
		d.Touch()
		completedRound := d.CurrentRound
		o.mu.Unlock()
		o.persist(ctx, d)
		if wrapped {
			o.bus.Publish(eventbus.NewRoundCompleted(d.ID, completedRound, d.MaxRounds))
		}

		if cfg.Orchestrator.ModelDelay > 0 {
			select {
			case <-time.After(cfg.Orchestrator.ModelDelay):
			case <-ctx.Done():
			}
		}
	}

	o.mu.RLock()
	status := d.Status
	o.mu.RUnlock()
	if status == models.StatusRunning {
		o.summarize(ctx, d)
	}
}

// executeTurn runs steps 3-8 of the turn protocol for one model.
func (o *Orchestrator) executeTurn(ctx context.Context, d *models.Discussion, model string, round int, cfg config.Config) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.Start(ctx, "discussion.turn", trace.WithAttributes(
			attribute.String("discussion.id", d.ID),
			attribute.String("model", model),
			attribute.Int("round", round+1),
		))
		defer span.End()
	}

	budget := o.budgetFor(ctx, model, cfg)
	settings := prompt.Settings{
		MaxMessages:         cfg.Context.MaxContextMessages,
		AdaptiveContext:     cfg.Performance.AdaptiveContextSize,
		ReductionFactor:     cfg.Performance.ContextReductionFactor,
		ReductionThreshold:  cfg.Performance.MaxRoundsBeforeReduction,
		SimilarityThreshold: cfg.Performance.SimilarityThreshold,
	}

	o.mu.RLock()
	turnContext := o.builder.Build(d, model, budget, settings)
	o.mu.RUnlock()

	o.bus.Publish(eventbus.NewModelThinking(d.ID, model, round+1))

	msg := models.NewAssistantMessage(model, round+1, "", 0)
	o.mu.Lock()
	d.Messages = append(d.Messages, msg)
	d.Touch()
	cp := d.Clone()
	o.mu.Unlock()
	o.save(ctx, cp)
	o.bus.Publish(eventbus.NewMessageStarted(cp, msg))

	phase := prompt.PhaseFor(round, d.MaxRounds)
	start := time.Now()
	result := o.executor.Execute(ctx, TurnOptions{
		DiscussionID:        d.ID,
		MessageID:           msg.ID,
		Model:               model,
		Context:             turnContext,
		FallbackPrompt:      phase.FallbackPrompt(d.Topic),
		MaxRetries:          cfg.Orchestrator.MaxRetries,
		MinResponseLength:   cfg.Orchestrator.MinResponseLength,
		EnableStreaming:     cfg.Orchestrator.EnableStreaming,
		Timeout:             cfg.Orchestrator.TurnTimeout,
		MaxTokens:           budget.MaxMessageTokens,
		ThrottleEvery:       cfg.Performance.TokenBroadcastThrottle,
		UpdateInterval:      cfg.Performance.StreamingUpdateInterval,
		SimilarityThreshold: cfg.Performance.SimilarityThreshold,
	})
	o.metrics.observeTurn(model, lo.Ternary(result.Success, "success", "failure"), time.Since(start).Seconds())

	var final models.Message
	o.mu.Lock()
	for i := len(d.Messages) - 1; i >= 0; i-- {
		if d.Messages[i].ID == msg.ID {
			d.Messages[i].Content = result.Content
			d.Messages[i].TokenCount = result.TokenCount
			final = d.Messages[i]
			break
		}
	}
	d.Touch()
	cp = d.Clone()
	o.mu.Unlock()
	o.save(ctx, cp)
	o.bus.Publish(eventbus.NewMessageComplete(cp, final))
}

// budgetFor derives the model's token budget, clamped to the context
// length the provider reports, when it reports one.
func (o *Orchestrator) budgetFor(ctx context.Context, model string, cfg config.Config) prompt.Budget {
	budget := prompt.Budget{
		MaxContextTokens: cfg.Context.MaxContextTokens,
		MaxMessageTokens: cfg.Context.MaxMessageTokens,
	}
	if dp, ok := o.provider.(descriptorProvider); ok {
		hintCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if desc, ok := dp.Descriptor(hintCtx, model); ok {
			budget = budget.ClampToHint(desc.ContextLength)
		}
	}
	return budget
}

// waitForIdleModels blocks until no model is mid-turn. A set that
// stays occupied past the deadline is treated as stuck and cleared.
func (o *Orchestrator) waitForIdleModels(ctx context.Context) {
	for i := 0; i < o.stuckWaitRounds; i++ {
		o.runningMu.Lock()
		idle := len(o.runningModels) == 0
		o.runningMu.Unlock()
		if idle {
			return
		}
		select {
		case <-time.After(o.stuckWaitInterval):
		case <-ctx.Done():
			return
		}
	}

	o.runningMu.Lock()
	logger.Warn(ctx, "Force-clearing stuck running-models set", "models", lo.Keys(o.runningModels))
	o.runningModels = make(map[string]string)
	o.runningMu.Unlock()
}

func (o *Orchestrator) setRunning(model, discussionID string) {
	o.runningMu.Lock()
	o.runningModels[model] = discussionID
	o.runningMu.Unlock()
}

func (o *Orchestrator) clearRunning(model string) {
	o.runningMu.Lock()
	delete(o.runningModels, model)
	o.runningMu.Unlock()
}

// RunningModels returns a snapshot of the models currently mid-turn.
func (o *Orchestrator) RunningModels() map[string]string {
	o.runningMu.Lock()
	defer o.runningMu.Unlock()
	out := make(map[string]string, len(o.runningModels))
	for m, id := range o.runningModels {
		out[m] = id
	}
	return out
}

// persist saves a consistent copy of the discussion. Failures are
// logged, never propagated into the loop; the save always precedes the
// corresponding event broadcast.
func (o *Orchestrator) persist(ctx context.Context, d *models.Discussion) {
	o.mu.RLock()
	cp := d.Clone()
	o.mu.RUnlock()
	o.save(ctx, cp)
}

// save writes an already-cloned discussion.
func (o *Orchestrator) save(ctx context.Context, cp *models.Discussion) {
	if err := o.store.Save(ctx, cp); err != nil {
		logger.Error(ctx, "Failed to persist discussion", "discussionId", cp.ID, "err", err)
	}
}

// fatal handles an unrecoverable loop failure.
func (o *Orchestrator) fatal(ctx context.Context, d *models.Discussion, err error) {
	logger.Error(ctx, "Discussion failed", "discussionId", d.ID, "err", err)

	o.mu.Lock()
	d.Status = models.StatusError
	d.Error = err.Error()
	d.Touch()
	delete(o.active, d.ID)
	activeCount := len(o.active)
	o.mu.Unlock()

	o.runningMu.Lock()
	for model, id := range o.runningModels {
		if id == d.ID {
			delete(o.runningModels, model)
		}
	}
	o.runningMu.Unlock()

	o.persist(ctx, d)
	o.bus.Publish(eventbus.NewDiscussionError(d.ID, err.Error()))
	o.metrics.setActive(activeCount)
}

// Stop requests a cooperative stop. Idempotent; stopping an inactive
// discussion returns its current state unchanged.
func (o *Orchestrator) Stop(ctx context.Context, id string) (*models.Discussion, error) {
	d, err := o.resident(ctx, id)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	stopped := false
	if d.Status.IsActive() {
		d.Status = models.StatusStopped
		d.Touch()
		delete(o.active, d.ID)
		stopped = true
	}
	activeCount := len(o.active)
	cp := d.Clone()
	o.mu.Unlock()

	if stopped {
		o.save(ctx, cp)
		o.bus.Publish(eventbus.NewDiscussionStopped(cp))
		o.metrics.setActive(activeCount)
		logger.Info(ctx, "Discussion stopped", "discussionId", cp.ID)
	}
	return cp, nil
}

// Delete removes a discussion from memory and disk, force-stopping it
// first when active.
func (o *Orchestrator) Delete(ctx context.Context, id string) error {
	o.mu.Lock()
	d, inMemory := o.discussions[id]
	if inMemory {
		if d.Status.IsActive() {
			d.Status = models.StatusStopped
			delete(o.active, id)
		}
		delete(o.discussions, id)
	}
	activeCount := len(o.active)
	o.mu.Unlock()

	if !inMemory {
		if _, err := o.store.Load(ctx, id); err != nil {
			return fmt.Errorf("%w: %s", ErrDiscussionNotFound, id)
		}
	}

	o.runningMu.Lock()
	for model, owner := range o.runningModels {
		if owner == id {
			delete(o.runningModels, model)
		}
	}
	o.runningMu.Unlock()

	if err := o.store.Delete(ctx, id); err != nil {
		return err
	}
	o.bus.Publish(eventbus.NewDiscussionDeleted(id))
	o.metrics.setActive(activeCount)
	logger.Info(ctx, "Discussion deleted", "discussionId", id)
	return nil
}

// Get returns the discussion by id: memory first, disk fallback.
// Completed discussions always come from disk and are never cached.
func (o *Orchestrator) Get(ctx context.Context, id string) (*models.Discussion, error) {
	o.mu.RLock()
	d, ok := o.discussions[id]
	var cp *models.Discussion
	if ok {
		cp = d.Clone()
	}
	o.mu.RUnlock()
	if ok {
		return cp, nil
	}

	loaded, err := o.store.Load(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrDiscussionNotFound, id)
	}
	return loaded, nil
}

// List merges the in-memory registry with the on-disk index, memory
// winning by id, newest first.
func (o *Orchestrator) List(ctx context.Context) ([]models.IndexEntry, error) {
	entries, err := o.store.List(ctx)
	if err != nil {
		return nil, err
	}

	o.mu.RLock()
	resident := lo.MapValues(o.discussions, func(d *models.Discussion, _ string) models.IndexEntry {
		return models.IndexEntryOf(d)
	})
	o.mu.RUnlock()

	merged := lo.KeyBy(entries, func(e models.IndexEntry) string { return e.ID })
	for id, entry := range resident {
		merged[id] = entry
	}

	out := lo.Values(merged)
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Messages returns one page of a discussion's messages plus the total
// count.
func (o *Orchestrator) Messages(ctx context.Context, id string, page, limit int) ([]models.Message, int, error) {
	d, err := o.Get(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 50
	}

	total := len(d.Messages)
	start := (page - 1) * limit
	if start >= total {
		return []models.Message{}, total, nil
	}
	end := start + limit
	if end > total {
		end = total
	}
	return d.Messages[start:end], total, nil
}

// GetSummary returns the discussion's summary.
func (o *Orchestrator) GetSummary(ctx context.Context, id string) (*models.Summary, error) {
	d, err := o.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if d.Summary == nil {
		return nil, ErrNoSummary
	}
	return d.Summary, nil
}

// ActiveDiscussions returns copies of the discussions in the active
// set, for auto-save.
func (o *Orchestrator) ActiveDiscussions() []*models.Discussion {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]*models.Discussion, 0, len(o.active))
	for id := range o.active {
		if d, ok := o.discussions[id]; ok {
			out = append(out, d.Clone())
		}
	}
	return out
}

// Health reports provider connectivity.
func (o *Orchestrator) Health(ctx context.Context) llm.HealthStatus {
	return o.provider.Health(ctx)
}

// ListModels enumerates the models the provider can serve.
func (o *Orchestrator) ListModels(ctx context.Context) ([]llm.ModelDescriptor, error) {
	return o.provider.ListModels(ctx)
}

// StorageInfo reports storage usage.
func (o *Orchestrator) StorageInfo(ctx context.Context) (*storage.Info, error) {
	return o.store.Info(ctx)
}

// BackupNow snapshots the store.
func (o *Orchestrator) BackupNow(ctx context.Context) (string, error) {
	return o.store.Backup(ctx)
}

// CleanupNow removes orphaned discussion files.
func (o *Orchestrator) CleanupNow(ctx context.Context) (int, error) {
	return o.store.Cleanup(ctx)
}

// PerformanceConfig returns the current runtime tunables.
func (o *Orchestrator) PerformanceConfig() config.Tuning {
	o.cfgMu.RLock()
	defer o.cfgMu.RUnlock()
	return o.cfg.Tuning()
}

// UpdatePerformanceConfig applies validated tunables; they take effect
// at the next turn.
func (o *Orchestrator) UpdatePerformanceConfig(t config.Tuning) error {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	return o.cfg.ApplyTuning(t)
}

// Optimize applies a named preset over the current tunables.
func (o *Orchestrator) Optimize(mode string) (config.Tuning, error) {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	t, err := config.PresetTuning(mode, o.cfg.Tuning())
	if err != nil {
		return config.Tuning{}, err
	}
	if err := o.cfg.ApplyTuning(t); err != nil {
		return config.Tuning{}, err
	}
	return t, nil
}

// ReleaseIdle evicts terminal discussions from the in-memory registry;
// they stay on disk and reload on demand. Scheduled by maintenance.
func (o *Orchestrator) ReleaseIdle() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	released := 0
	for id, d := range o.discussions {
		if _, active := o.active[id]; active {
			continue
		}
		if d.Status.IsTerminal() {
			delete(o.discussions, id)
			released++
		}
	}
	return released
}

// PurgeCaches drops the derived caches; scheduled by maintenance.
func (o *Orchestrator) PurgeCaches() {
	o.builder.Purge()
	o.builder.Estimator().Purge()
}

// Shutdown stops all active discussions and waits for their loops,
// bounded by ctx.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.RLock()
	ids := lo.Keys(o.active)
	o.mu.RUnlock()

	for _, id := range ids {
		if _, err := o.Stop(ctx, id); err != nil {
			logger.Warn(ctx, "Failed to stop discussion during shutdown", "discussionId", id, "err", err)
		}
	}

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
