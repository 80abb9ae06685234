package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTuning_SnapshotAndApply(t *testing.T) {
	cfg := testLoad(t, WithAppHomeDir(t.TempDir()))

	snap := cfg.Tuning()
	assert.Equal(t, DefaultTuning(), snap)

	snap.ModelDelayMillis = 500
	snap.MaxContextMessages = 4
	snap.SimilarityThreshold = 0.5
	require.NoError(t, cfg.ApplyTuning(snap))

	assert.Equal(t, 500*time.Millisecond, cfg.Orchestrator.ModelDelay)
	assert.Equal(t, 4, cfg.Context.MaxContextMessages)
	assert.InDelta(t, 0.5, cfg.Performance.SimilarityThreshold, 1e-9)
}

func TestTuning_PartialJSONUpdate(t *testing.T) {
	cfg := testLoad(t, WithAppHomeDir(t.TempDir()))

	// Decoding over the current snapshot leaves absent fields intact.
	snap := cfg.Tuning()
	require.NoError(t, json.Unmarshal([]byte(`{"modelDelay": 0}`), &snap))

	assert.Equal(t, 0, snap.ModelDelayMillis)
	assert.Equal(t, DefaultMaxContextMessages, snap.MaxContextMessages)
	assert.True(t, snap.EnableStreaming)
}

func TestTuning_ValidateRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Tuning)
	}{
		{"modelDelayTooHigh", func(t *Tuning) { t.ModelDelayMillis = 5001 }},
		{"modelDelayNegative", func(t *Tuning) { t.ModelDelayMillis = -1 }},
		{"contextMessagesZero", func(t *Tuning) { t.MaxContextMessages = 0 }},
		{"contextMessagesTooHigh", func(t *Tuning) { t.MaxContextMessages = 21 }},
		{"reductionFactorTooLow", func(t *Tuning) { t.ContextReductionFactor = 0.05 }},
		{"throttleZero", func(t *Tuning) { t.TokenBroadcastThrottle = 0 }},
		{"intervalTooLow", func(t *Tuning) { t.StreamingUpdateMillis = 49 }},
		{"similarityAboveOne", func(t *Tuning) { t.SimilarityThreshold = 1.1 }},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tuning := DefaultTuning()
			tc.modify(&tuning)
			assert.Error(t, tuning.Validate())
		})
	}
}

func TestTuning_ApplyRejectsInvalid(t *testing.T) {
	cfg := testLoad(t, WithAppHomeDir(t.TempDir()))

	bad := cfg.Tuning()
	bad.TokenBroadcastThrottle = 1000
	require.Error(t, cfg.ApplyTuning(bad))

	// The config keeps its previous values on rejection.
	assert.Equal(t, DefaultTokenBroadcastThrottle, cfg.Performance.TokenBroadcastThrottle)
}

func TestPresetTuning(t *testing.T) {
	base := DefaultTuning()

	fast, err := PresetTuning(OptimizeFast, base)
	require.NoError(t, err)
	assert.Equal(t, 0, fast.ModelDelayMillis)
	assert.Equal(t, 20, fast.TokenBroadcastThrottle)
	assert.Equal(t, 400, fast.StreamingUpdateMillis)
	assert.Equal(t, 6, fast.MaxContextMessages)
	assert.InDelta(t, 0.7, fast.ContextReductionFactor, 1e-9)
	assert.NoError(t, fast.Validate())

	quality, err := PresetTuning(OptimizeQuality, base)
	require.NoError(t, err)
	assert.Equal(t, 100, quality.ModelDelayMillis)
	assert.Equal(t, 5, quality.TokenBroadcastThrottle)
	assert.Equal(t, 100, quality.StreamingUpdateMillis)
	assert.False(t, quality.AdaptiveContextSize)
	assert.Equal(t, 16, quality.MaxContextMessages)
	assert.NoError(t, quality.Validate())

	// Balanced restores the defaults even from a modified base.
	modified := quality
	balanced, err := PresetTuning(OptimizeBalanced, modified)
	require.NoError(t, err)
	assert.Equal(t, DefaultTuning(), balanced)

	_, err = PresetTuning("turbo", base)
	require.Error(t, err)
}
