package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-org/parley/internal/config"
	"github.com/parley-org/parley/internal/eventbus"
	"github.com/parley-org/parley/internal/llm"
	"github.com/parley-org/parley/internal/orchestrator"
	"github.com/parley-org/parley/internal/prompt"
	"github.com/parley-org/parley/internal/storage"
)

// slowProvider answers every call after a fixed delay so tests can
// observe a running discussion.
type slowProvider struct {
	mu    sync.Mutex
	calls int
	delay time.Duration
}

func (p *slowProvider) Name() string { return "slow" }

func (p *slowProvider) ListModels(_ context.Context) ([]llm.ModelDescriptor, error) {
	return []llm.ModelDescriptor{{Provider: llm.ProviderLocal, ID: "alpha"}}, nil
}

func (p *slowProvider) Health(_ context.Context) llm.HealthStatus {
	return llm.HealthStatus{Connected: true}
}

func (p *slowProvider) reply() string {
	p.mu.Lock()
	p.calls++
	n := p.calls
	p.mu.Unlock()
	return fmt.Sprintf("Response number %d carries enough distinct words to clear every acceptance gate easily.", n)
}

func (p *slowProvider) Complete(ctx context.Context, _ *llm.CompletionRequest) (*llm.CompletionResult, error) {
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
		}
	}
	content := p.reply()
	return &llm.CompletionResult{Content: content, Usage: llm.Usage{CompletionTokens: len(strings.Fields(content))}}, nil
}

func (p *slowProvider) CompleteStream(ctx context.Context, req *llm.CompletionRequest, sink llm.Sink) (*llm.Usage, error) {
	result, err := p.Complete(ctx, req)
	if err != nil {
		sink(llm.Chunk{Done: true})
		return nil, err
	}
	for _, word := range strings.SplitAfter(result.Content, " ") {
		sink(llm.Chunk{Content: word})
	}
	sink(llm.Chunk{Done: true})
	return &result.Usage, nil
}

func newTestServer(t *testing.T, provider llm.Provider) (*httptest.Server, *Server) {
	t.Helper()
	cfg := &config.Config{
		Orchestrator: config.Orchestrator{
			EnableStreaming:   false,
			MinResponseLength: 20,
			TurnTimeout:       5 * time.Second,
		},
		Context: config.Context{
			MaxContextMessages: 10,
			MaxContextTokens:   4096,
			MaxMessageTokens:   1024,
		},
		TokenEstimation: config.TokenEstimation{CharsPerToken: 2.8, TokensPerWord: 1.4},
		Performance: config.Performance{
			ContextReductionFactor:   0.8,
			MaxRoundsBeforeReduction: 5,
			TokenBroadcastThrottle:   10,
			StreamingUpdateInterval:  200 * time.Millisecond,
			SimilarityThreshold:      0.8,
		},
		Logging: config.Logging{Level: "info", Format: "text"},
	}

	store, err := storage.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	bus := eventbus.NewBus(eventbus.WithQueueSize(1024))
	estimator := prompt.NewEstimator(cfg.TokenEstimation.CharsPerToken, cfg.TokenEstimation.TokensPerWord, 64)
	builder := prompt.NewBuilder(estimator, 64)
	orc := orchestrator.New(context.Background(), cfg, provider, store, bus, builder,
		orchestrator.WithSummaryDeadlines([4]time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second, 5 * time.Second}))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = orc.Shutdown(ctx)
	})

	srv := NewServer(cfg, orc, bus, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts, srv
}

func doJSON(t *testing.T, method, url string, body string) (*http.Response, map[string]any) {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })

	var decoded map[string]any
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		_ = json.NewDecoder(resp.Body).Decode(&decoded)
	}
	return resp, decoded
}

func createDiscussion(t *testing.T, baseURL string) string {
	t.Helper()
	resp, body := doJSON(t, http.MethodPost, baseURL+"/api/v1/discussions",
		`{"topic":"Are generics worth it","models":["alpha","beta"],"maxRounds":1}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Equal(t, true, body["success"])
	disc := body["discussion"].(map[string]any)
	return disc["id"].(string)
}

func TestCreateValidation(t *testing.T) {
	ts, _ := newTestServer(t, &slowProvider{})

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions",
		`{"topic":"too few","models":["alpha"]}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, false, body["success"])
	assert.Contains(t, body["error"], "models")

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions", `{not json`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDiscussionEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, &slowProvider{})
	id := createDiscussion(t, ts.URL)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["count"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, id, body["id"])
	assert.Equal(t, "created", body["status"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/no-such-id", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	// Export before completion conflicts.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/"+id+"/export", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	// No summary yet.
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/"+id+"/summary", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/api/v1/discussions/"+id, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/"+id, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestStartConflicts(t *testing.T) {
	provider := &slowProvider{delay: 200 * time.Millisecond}
	ts, _ := newTestServer(t, provider)
	id := createDiscussion(t, ts.URL)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions/"+id+"/start", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions/"+id+"/start", "")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions/no-such-id/start", "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions/"+id+"/stop", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
}

func TestMessagesEndpointPagination(t *testing.T) {
	ts, _ := newTestServer(t, &slowProvider{})
	id := createDiscussion(t, ts.URL)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/"+id+"/messages?page=1&limit=1", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["total"]) // the system intro
	assert.EqualValues(t, 1, body["limit"])

	// An absurd limit is capped rather than rejected.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/"+id+"/messages?limit=99999", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, maxPageLimit, body["limit"])
}

func TestPerformanceEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, &slowProvider{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/performance/config", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "tokenBroadcastThrottle")

	resp, body = doJSON(t, http.MethodPut, ts.URL+"/api/v1/discussions/performance/config",
		`{"tokenBroadcastThrottle":25}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg := body["config"].(map[string]any)
	assert.EqualValues(t, 25, cfg["tokenBroadcastThrottle"])
	// Untouched fields keep their values.
	assert.EqualValues(t, 10, cfg["maxContextMessages"])

	resp, _ = doJSON(t, http.MethodPut, ts.URL+"/api/v1/discussions/performance/config",
		`{"tokenBroadcastThrottle":5000}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions/performance/optimize",
		`{"mode":"fast"}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cfg = body["config"].(map[string]any)
	assert.EqualValues(t, 0, cfg["modelDelay"])

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions/performance/optimize",
		`{"mode":"warp"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthEndpoint(t *testing.T) {
	ts, _ := newTestServer(t, &slowProvider{})

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/health", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])
	assert.NotEmpty(t, body["version"])
}

func TestStorageEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, &slowProvider{})
	createDiscussion(t, ts.URL)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/api/v1/discussions/storage/info", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 1, body["discussionCount"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions/storage/backup", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["path"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/api/v1/discussions/storage/cleanup", "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 0, body["removed"])
}

func TestEventStream(t *testing.T) {
	ts, srv := newTestServer(t, &slowProvider{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	// Give the relay goroutine a moment to subscribe.
	require.Eventually(t, func() bool {
		return srv.bus.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.bus.Publish(eventbus.NewDiscussionDeleted("disc-42"))

	_, frame, err := conn.Read(ctx)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, "discussion_deleted", decoded["type"])
	assert.Equal(t, "disc-42", decoded["discussionId"])
	assert.NotEmpty(t, decoded["timestamp"])
}

func TestEventStreamFilter(t *testing.T) {
	ts, srv := newTestServer(t, &slowProvider{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/events?discussionId=wanted"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	require.Eventually(t, func() bool {
		return srv.bus.SubscriberCount() == 1
	}, 2*time.Second, 10*time.Millisecond)

	srv.bus.Publish(eventbus.NewDiscussionDeleted("other"))
	srv.bus.Publish(eventbus.NewDiscussionDeleted("wanted"))

	_, frame, err := conn.Read(ctx)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(frame, &decoded))
	assert.Equal(t, "wanted", decoded["discussionId"])
}
