package models_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-org/parley/internal/models"
)

func validCreateRequest() models.CreateRequest {
	return models.CreateRequest{
		Topic:        "Is coffee healthy?",
		Models:       []string{"llama3", "openai/gpt-4o"},
		SummaryModel: "llama3",
		MaxRounds:    3,
	}
}

func TestNewDiscussion(t *testing.T) {
	d, err := models.NewDiscussion(validCreateRequest())
	require.NoError(t, err)

	assert.NotEmpty(t, d.ID)
	assert.Equal(t, models.StatusCreated, d.Status)
	assert.Equal(t, 0, d.CurrentRound)
	assert.Equal(t, 0, d.CurrentModelIndex)
	assert.False(t, d.CreatedAt.IsZero())
	assert.Equal(t, d.CreatedAt, d.UpdatedAt)

	require.Len(t, d.Messages, 1)
	intro := d.Messages[0]
	assert.Equal(t, models.RoleSystem, intro.Role)
	assert.Equal(t, 0, intro.Round)
	assert.Contains(t, intro.Content, "Is coffee healthy?")
	assert.Contains(t, intro.Content, "llama3")
	assert.Contains(t, intro.Content, "openai/gpt-4o")
}

func TestNewDiscussion_Validation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*models.CreateRequest)
		field  string
	}{
		{"emptyTopic", func(r *models.CreateRequest) { r.Topic = "  " }, "topic"},
		{"oneModel", func(r *models.CreateRequest) { r.Models = []string{"solo"} }, "models"},
		{"blankModel", func(r *models.CreateRequest) { r.Models = []string{"a", " "} }, "models"},
		{"zeroRounds", func(r *models.CreateRequest) { r.MaxRounds = 0 }, "maxRounds"},
		{"tooManyRounds", func(r *models.CreateRequest) { r.MaxRounds = 21 }, "maxRounds"},
		{"noSummaryModel", func(r *models.CreateRequest) { r.SummaryModel = "" }, "summaryModel"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.modify(&req)
			_, err := models.NewDiscussion(req)
			require.Error(t, err)
			assert.True(t, models.IsValidationError(err))
			assert.Contains(t, err.Error(), tc.field)
		})
	}
}

func TestCreateRequest_ApplyDefaults(t *testing.T) {
	req := models.CreateRequest{
		Topic:  "defaults",
		Models: []string{"first", "second"},
	}
	req.ApplyDefaults()

	assert.Equal(t, "first", req.SummaryModel)
	assert.Equal(t, models.DefaultMaxRounds, req.MaxRounds)

	// Explicit values survive.
	req2 := validCreateRequest()
	req2.SummaryModel = "openai/gpt-4o"
	req2.MaxRounds = 7
	req2.ApplyDefaults()
	assert.Equal(t, "openai/gpt-4o", req2.SummaryModel)
	assert.Equal(t, 7, req2.MaxRounds)
}

func TestDiscussion_JSONPreservesUnknownFields(t *testing.T) {
	stored := `{
		"id": "disc-1",
		"topic": "t",
		"models": ["a", "b"],
		"summaryModel": "a",
		"maxRounds": 3,
		"currentRound": 1,
		"currentModelIndex": 0,
		"status": "stopped",
		"messages": [],
		"createdAt": "2026-01-02T15:04:05Z",
		"updatedAt": "2026-01-02T15:04:05Z",
		"futureField": {"nested": true},
		"anotherExtra": 42
	}`

	var d models.Discussion
	require.NoError(t, json.Unmarshal([]byte(stored), &d))

	assert.Equal(t, "disc-1", d.ID)
	assert.Equal(t, models.StatusStopped, d.Status)
	require.Len(t, d.Extra, 2)
	assert.JSONEq(t, `{"nested": true}`, string(d.Extra["futureField"]))

	d.Status = models.StatusRunning
	out, err := json.Marshal(&d)
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(out, &raw))
	assert.JSONEq(t, `"running"`, string(raw["status"]))
	assert.JSONEq(t, `{"nested": true}`, string(raw["futureField"]))
	assert.JSONEq(t, `42`, string(raw["anotherExtra"]))
}

func TestDiscussion_JSONRoundTripWithoutExtras(t *testing.T) {
	d, err := models.NewDiscussion(validCreateRequest())
	require.NoError(t, err)
	d.AppendMessage(models.NewAssistantMessage("llama3", 1, "first take", 12))

	out, err := json.Marshal(d)
	require.NoError(t, err)

	var back models.Discussion
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, d.ID, back.ID)
	assert.Nil(t, back.Extra)
	require.Len(t, back.Messages, 2)
	assert.Equal(t, "first take", back.Messages[1].Content)
	assert.Equal(t, 12, back.Messages[1].TokenCount)
}

func TestDiscussion_CheckInvariants(t *testing.T) {
	base := func() *models.Discussion {
		d, err := models.NewDiscussion(validCreateRequest())
		require.NoError(t, err)
		return d
	}

	d := base()
	assert.NoError(t, d.CheckInvariants())

	d = base()
	d.CurrentRound = d.MaxRounds + 1
	assert.Error(t, d.CheckInvariants())

	d = base()
	d.CurrentModelIndex = len(d.Models)
	assert.Error(t, d.CheckInvariants())

	d = base()
	d.Status = models.StatusCompleted
	assert.Error(t, d.CheckInvariants(), "completed without summary")
	d.Summary = models.NewSummary("llama3", "done", 5)
	assert.NoError(t, d.CheckInvariants())

	d = base()
	d.Status = models.Status("paused")
	assert.Error(t, d.CheckInvariants())
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, models.StatusRunning.IsActive())
	assert.True(t, models.StatusSummarizing.IsActive())
	assert.False(t, models.StatusCreated.IsActive())
	assert.False(t, models.StatusCompleted.IsActive())

	assert.True(t, models.StatusCompleted.IsTerminal())
	assert.True(t, models.StatusStopped.IsTerminal())
	assert.True(t, models.StatusError.IsTerminal())
	assert.False(t, models.StatusRunning.IsTerminal())
}

func TestIndexEntryOf(t *testing.T) {
	d, err := models.NewDiscussion(validCreateRequest())
	require.NoError(t, err)
	d.AppendMessage(models.NewAssistantMessage("llama3", 1, "hello", 3))
	completedAt := time.Now()
	d.CompletedAt = &completedAt

	entry := models.IndexEntryOf(d)
	assert.Equal(t, d.ID, entry.ID)
	assert.Equal(t, d.Topic, entry.Topic)
	assert.Equal(t, d.Status, entry.Status)
	assert.Equal(t, d.Models, entry.Models)
	assert.Equal(t, 2, entry.MessageCount)
	assert.Equal(t, &completedAt, entry.CompletedAt)
}

func TestAssistantMessages(t *testing.T) {
	d, err := models.NewDiscussion(validCreateRequest())
	require.NoError(t, err)
	d.AppendMessage(models.NewAssistantMessage("a", 1, "one", 1))
	d.AppendMessage(models.NewAssistantMessage("b", 1, "two", 1))

	msgs := d.AssistantMessages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "one", msgs[0].Content)
	assert.Equal(t, "two", msgs[1].Content)
}
