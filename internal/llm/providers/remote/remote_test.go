package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-org/parley/internal/llm"
)

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(llm.NewConfig())
	require.ErrorIs(t, err, llm.ErrNoAPIKey)
}

func TestCompleteStreamSendsBearerToken(t *testing.T) {
	var gotAuth, gotModel string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		gotModel = req.Model
		require.True(t, req.Stream)

		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"hi\"}}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer ts.Close()

	p, err := New(llm.NewConfig(llm.WithBaseURL(ts.URL), llm.WithAPIKey("secret-key")))
	require.NoError(t, err)

	var content string
	var done int
	_, err = p.CompleteStream(context.Background(), llm.NewCompletionRequest("openai/gpt-4o", []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
	}), func(c llm.Chunk) {
		content += c.Content
		if c.Done {
			done++
		}
	})
	require.NoError(t, err)

	assert.Equal(t, "Bearer secret-key", gotAuth)
	assert.Equal(t, "openai/gpt-4o", gotModel)
	assert.Equal(t, "hi", content)
	assert.Equal(t, 1, done)
}

func TestListModelsCarriesContextLength(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/models", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"id": "openai/gpt-4o", "name": "GPT-4o", "context_length": 128000},
				{"id": "meta/llama3"},
			},
		})
	}))
	defer ts.Close()

	p, err := New(llm.NewConfig(llm.WithBaseURL(ts.URL), llm.WithAPIKey("secret-key")))
	require.NoError(t, err)

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "GPT-4o", models[0].DisplayName)
	assert.Equal(t, 128000, models[0].ContextLength)
	assert.Equal(t, "meta/llama3", models[1].DisplayName)
}

func TestAPIErrorSurfacesStatus(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("rate limited"))
	}))
	defer ts.Close()

	p, err := New(llm.NewConfig(llm.WithBaseURL(ts.URL), llm.WithAPIKey("secret-key")))
	require.NoError(t, err)

	_, err = p.Complete(context.Background(), llm.NewCompletionRequest("openai/gpt-4o", []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
	}))
	require.Error(t, err)

	var perr *llm.ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
}
