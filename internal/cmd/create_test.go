package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-org/parley/internal/models"
)

func writeSpecFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "discussion.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestCreateRequestFromFlags(t *testing.T) {
	cmd := createCmd()
	require.NoError(t, cmd.Flags().Set("models", "llama3,mistral"))
	require.NoError(t, cmd.Flags().Set("max-rounds", "5"))

	req, err := createRequest(cmd, []string{"Is coffee healthy?"})
	require.NoError(t, err)

	assert.Equal(t, "Is coffee healthy?", req.Topic)
	assert.Equal(t, []string{"llama3", "mistral"}, req.Models)
	assert.Equal(t, "llama3", req.SummaryModel)
	assert.Equal(t, 5, req.MaxRounds)
}

func TestCreateRequestFromSpecFile(t *testing.T) {
	path := writeSpecFile(t, `
topic: "Should tests be fast?"
models:
  - llama3
  - openai/gpt-4o
summaryModel: openai/gpt-4o
maxRounds: 4
`)

	cmd := createCmd()
	require.NoError(t, cmd.Flags().Set("file", path))

	req, err := createRequest(cmd, nil)
	require.NoError(t, err)

	assert.Equal(t, "Should tests be fast?", req.Topic)
	assert.Equal(t, []string{"llama3", "openai/gpt-4o"}, req.Models)
	assert.Equal(t, "openai/gpt-4o", req.SummaryModel)
	assert.Equal(t, 4, req.MaxRounds)
}

func TestCreateRequestFlagsOverrideSpecFile(t *testing.T) {
	path := writeSpecFile(t, `
topic: "File topic"
models: [alpha, beta]
`)

	cmd := createCmd()
	require.NoError(t, cmd.Flags().Set("file", path))
	require.NoError(t, cmd.Flags().Set("summary-model", "beta"))

	req, err := createRequest(cmd, []string{"Flag topic"})
	require.NoError(t, err)

	assert.Equal(t, "Flag topic", req.Topic)
	assert.Equal(t, "beta", req.SummaryModel)
	assert.Equal(t, models.DefaultMaxRounds, req.MaxRounds)
}

func TestCreateRequestValidates(t *testing.T) {
	cmd := createCmd()
	require.NoError(t, cmd.Flags().Set("models", "solo"))

	_, err := createRequest(cmd, []string{"Lonely topic"})
	require.Error(t, err)

	var verr *models.ValidationError
	assert.ErrorAs(t, err, &verr)
}
