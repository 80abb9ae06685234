package models_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-org/parley/internal/models"
)

func TestLoadDiscussionSpec(t *testing.T) {
	specFile := filepath.Join(t.TempDir(), "discussion.yaml")
	require.NoError(t, os.WriteFile(specFile, []byte(`
topic: "Should tests be fast?"
models:
  - llama3
  - openai/gpt-4o
summaryModel: openai/gpt-4o
maxRounds: 5
`), 0600))

	spec, err := models.LoadDiscussionSpec(specFile)
	require.NoError(t, err)
	assert.Equal(t, "Should tests be fast?", spec.Topic)
	assert.Equal(t, []string{"llama3", "openai/gpt-4o"}, spec.Models)
	assert.Equal(t, "openai/gpt-4o", spec.SummaryModel)
	assert.Equal(t, 5, spec.MaxRounds)

	req := spec.CreateRequest()
	assert.NoError(t, req.Validate())
}

func TestLoadDiscussionSpec_DefaultsApplied(t *testing.T) {
	specFile := filepath.Join(t.TempDir(), "discussion.yaml")
	require.NoError(t, os.WriteFile(specFile, []byte(`
topic: minimal
models: [a, b]
`), 0600))

	spec, err := models.LoadDiscussionSpec(specFile)
	require.NoError(t, err)

	req := spec.CreateRequest()
	assert.Equal(t, "a", req.SummaryModel)
	assert.Equal(t, models.DefaultMaxRounds, req.MaxRounds)
	assert.NoError(t, req.Validate())
}

func TestLoadDiscussionSpec_Errors(t *testing.T) {
	_, err := models.LoadDiscussionSpec(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)

	badFile := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(badFile, []byte("topic: [unclosed"), 0600))
	_, err = models.LoadDiscussionSpec(badFile)
	require.Error(t, err)
}
