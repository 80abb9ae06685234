package config

import (
	"fmt"
	"time"
)

// Built-in defaults for the tunable knobs, shared by the loader and
// the balanced preset.
const (
	DefaultModelDelayMillis         = 50
	DefaultMaxContextMessages       = 10
	DefaultContextReductionFactor   = 0.8
	DefaultMaxRoundsBeforeReduction = 5
	DefaultTokenBroadcastThrottle   = 10
	DefaultStreamingUpdateMillis    = 200
	DefaultSimilarityThreshold      = 0.8
)

// Optimize preset names accepted by PresetTuning.
const (
	OptimizeFast     = "fast"
	OptimizeBalanced = "balanced"
	OptimizeQuality  = "quality"
)

// Tuning is the runtime-adjustable subset of the configuration exposed
// through the performance endpoints. Fields carry full values, not
// deltas; decoding a partial JSON body over a current snapshot yields
// partial-update semantics.
type Tuning struct {
	ModelDelayMillis         int     `json:"modelDelay"`
	EnableStreaming          bool    `json:"enableStreaming"`
	SingleModelMode          bool    `json:"singleModelMode"`
	MaxContextMessages       int     `json:"maxContextMessages"`
	AdaptiveContextSize      bool    `json:"adaptiveContextSize"`
	ContextReductionFactor   float64 `json:"contextReductionFactor"`
	MaxRoundsBeforeReduction int     `json:"maxRoundsBeforeReduction"`
	TokenBroadcastThrottle   int     `json:"tokenBroadcastThrottle"`
	StreamingUpdateMillis    int     `json:"streamingUpdateInterval"`
	SimilarityThreshold      float64 `json:"similarityThreshold"`
}

// Tuning returns a snapshot of the tunable knobs.
func (c *Config) Tuning() Tuning {
	return Tuning{
		ModelDelayMillis:         int(c.Orchestrator.ModelDelay / time.Millisecond),
		EnableStreaming:          c.Orchestrator.EnableStreaming,
		SingleModelMode:          c.Orchestrator.SingleModelMode,
		MaxContextMessages:       c.Context.MaxContextMessages,
		AdaptiveContextSize:      c.Performance.AdaptiveContextSize,
		ContextReductionFactor:   c.Performance.ContextReductionFactor,
		MaxRoundsBeforeReduction: c.Performance.MaxRoundsBeforeReduction,
		TokenBroadcastThrottle:   c.Performance.TokenBroadcastThrottle,
		StreamingUpdateMillis:    int(c.Performance.StreamingUpdateInterval / time.Millisecond),
		SimilarityThreshold:      c.Performance.SimilarityThreshold,
	}
}

// ApplyTuning validates t and writes it back into the config.
func (c *Config) ApplyTuning(t Tuning) error {
	if err := t.Validate(); err != nil {
		return err
	}
	c.Orchestrator.ModelDelay = time.Duration(t.ModelDelayMillis) * time.Millisecond
	c.Orchestrator.EnableStreaming = t.EnableStreaming
	c.Orchestrator.SingleModelMode = t.SingleModelMode
	c.Context.MaxContextMessages = t.MaxContextMessages
	c.Performance.AdaptiveContextSize = t.AdaptiveContextSize
	c.Performance.ContextReductionFactor = t.ContextReductionFactor
	c.Performance.MaxRoundsBeforeReduction = t.MaxRoundsBeforeReduction
	c.Performance.TokenBroadcastThrottle = t.TokenBroadcastThrottle
	c.Performance.StreamingUpdateInterval = time.Duration(t.StreamingUpdateMillis) * time.Millisecond
	c.Performance.SimilarityThreshold = t.SimilarityThreshold
	return nil
}

// Validate rejects out-of-range values. Unlike the loader, runtime
// updates are not clamped.
func (t Tuning) Validate() error {
	if t.ModelDelayMillis < 0 || t.ModelDelayMillis > 5000 {
		return fmt.Errorf("modelDelay must be within 0..5000 ms, got %d", t.ModelDelayMillis)
	}
	if t.MaxContextMessages < 1 || t.MaxContextMessages > 20 {
		return fmt.Errorf("maxContextMessages must be within 1..20, got %d", t.MaxContextMessages)
	}
	if t.ContextReductionFactor < 0.1 || t.ContextReductionFactor > 1.0 {
		return fmt.Errorf("contextReductionFactor must be within 0.1..1.0, got %g", t.ContextReductionFactor)
	}
	if t.MaxRoundsBeforeReduction < 1 || t.MaxRoundsBeforeReduction > 20 {
		return fmt.Errorf("maxRoundsBeforeReduction must be within 1..20, got %d", t.MaxRoundsBeforeReduction)
	}
	if t.TokenBroadcastThrottle < 1 || t.TokenBroadcastThrottle > 100 {
		return fmt.Errorf("tokenBroadcastThrottle must be within 1..100, got %d", t.TokenBroadcastThrottle)
	}
	if t.StreamingUpdateMillis < 50 || t.StreamingUpdateMillis > 1000 {
		return fmt.Errorf("streamingUpdateInterval must be within 50..1000 ms, got %d", t.StreamingUpdateMillis)
	}
	if t.SimilarityThreshold < 0 || t.SimilarityThreshold > 1 {
		return fmt.Errorf("similarityThreshold must be within 0..1, got %g", t.SimilarityThreshold)
	}
	return nil
}

// DefaultTuning returns the built-in defaults for every tunable knob.
func DefaultTuning() Tuning {
	return Tuning{
		ModelDelayMillis:         DefaultModelDelayMillis,
		EnableStreaming:          true,
		SingleModelMode:          true,
		MaxContextMessages:       DefaultMaxContextMessages,
		AdaptiveContextSize:      true,
		ContextReductionFactor:   DefaultContextReductionFactor,
		MaxRoundsBeforeReduction: DefaultMaxRoundsBeforeReduction,
		TokenBroadcastThrottle:   DefaultTokenBroadcastThrottle,
		StreamingUpdateMillis:    DefaultStreamingUpdateMillis,
		SimilarityThreshold:      DefaultSimilarityThreshold,
	}
}

// PresetTuning returns the named preset applied over base. The fast
// preset trades context depth for latency, quality does the opposite,
// and balanced restores the built-in defaults.
func PresetTuning(mode string, base Tuning) (Tuning, error) {
	t := base
	switch mode {
	case OptimizeFast:
		t.ModelDelayMillis = 0
		t.TokenBroadcastThrottle = 20
		t.StreamingUpdateMillis = 400
		t.AdaptiveContextSize = true
		t.ContextReductionFactor = 0.7
		t.MaxContextMessages = 6
	case OptimizeBalanced:
		t = DefaultTuning()
	case OptimizeQuality:
		t.ModelDelayMillis = 100
		t.TokenBroadcastThrottle = 5
		t.StreamingUpdateMillis = 100
		t.AdaptiveContextSize = false
		t.MaxContextMessages = 16
	default:
		return Tuning{}, fmt.Errorf("unknown optimize mode: %q", mode)
	}
	return t, nil
}
