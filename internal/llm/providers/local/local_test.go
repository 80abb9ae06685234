package local

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-org/parley/internal/llm"
)

func newDaemon(t *testing.T, handler http.Handler) (string, int) {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)

	u, err := url.Parse(ts.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(u.Port())
	require.NoError(t, err)
	return "http://" + u.Hostname(), port
}

func openAIHandler(t *testing.T, streamBody string) http.Handler {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/models", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"id": "llama3"}, {"id": "mistral"}},
		})
	})
	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req chatCompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		if req.Stream {
			w.Header().Set("Content-Type", "text/event-stream")
			fmt.Fprint(w, streamBody)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"choices": []map[string]any{{
				"message":       map[string]string{"role": "assistant", "content": "a complete answer"},
				"finish_reason": "stop",
			}},
			"usage": map[string]int{"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16},
		})
	})
	return mux
}

func newProvider(t *testing.T, base string, ports ...int) llm.Provider {
	t.Helper()
	p, err := New(llm.NewConfig(llm.WithBaseURL(base), llm.WithLocalPorts(ports)))
	require.NoError(t, err)
	return p
}

func TestProbeSkipsDeadPorts(t *testing.T) {
	base, port := newDaemon(t, openAIHandler(t, ""))
	p := newProvider(t, base, 1, port)

	health := p.Health(context.Background())
	assert.True(t, health.Connected)
	assert.Contains(t, health.Message, strconv.Itoa(port))

	models, err := p.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3", models[0].ID)
	assert.Equal(t, llm.ProviderLocal, models[0].Provider)
}

func TestProbeFailsWhenNoDaemon(t *testing.T) {
	p := newProvider(t, "http://127.0.0.1", 1)

	health := p.Health(context.Background())
	assert.False(t, health.Connected)

	var perr *llm.ProviderError
	_, err := p.ListModels(context.Background())
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "local", perr.Provider)
}

func TestComplete(t *testing.T) {
	base, port := newDaemon(t, openAIHandler(t, ""))
	p := newProvider(t, base, port)

	result, err := p.Complete(context.Background(), llm.NewCompletionRequest("llama3", []llm.Message{
		{Role: llm.RoleUser, Content: "say something"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "a complete answer", result.Content)
	assert.Equal(t, "stop", result.FinishReason)
	assert.Equal(t, 16, result.Usage.TotalTokens)
}

func TestCompleteStream(t *testing.T) {
	streamBody := "data: {\"choices\":[{\"delta\":{\"content\":\"Hel\"}}]}\n\n" +
		"data: {\"choices\":[{\"delta\":{\"content\":\"lo\"}}],\"usage\":{\"prompt_tokens\":3,\"completion_tokens\":2,\"total_tokens\":5}}\n\n" +
		"data: not json, skipped\n\n" +
		"data: [DONE]\n\n"
	base, port := newDaemon(t, openAIHandler(t, streamBody))
	p := newProvider(t, base, port)

	var chunks []llm.Chunk
	usage, err := p.CompleteStream(context.Background(), llm.NewCompletionRequest("llama3", []llm.Message{
		{Role: llm.RoleUser, Content: "say hello"},
	}), func(c llm.Chunk) {
		chunks = append(chunks, c)
	})
	require.NoError(t, err)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.True(t, chunks[2].Done)
	require.NotNil(t, usage)
	assert.Equal(t, 5, usage.TotalTokens)
}

func TestCompleteStreamWithoutDoneMarker(t *testing.T) {
	streamBody := "data: {\"choices\":[{\"delta\":{\"content\":\"partial\"}}]}\n\n"
	base, port := newDaemon(t, openAIHandler(t, streamBody))
	p := newProvider(t, base, port)

	var done int
	_, err := p.CompleteStream(context.Background(), llm.NewCompletionRequest("llama3", []llm.Message{
		{Role: llm.RoleUser, Content: "go on"},
	}), func(c llm.Chunk) {
		if c.Done {
			done++
		}
	})
	require.NoError(t, err)
	assert.Equal(t, 1, done)
}
