package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubBackend struct {
	name    string
	models  []ModelDescriptor
	listErr error
	healthy bool

	completed []string
	streamed  []string
}

func (s *stubBackend) Name() string { return s.name }

func (s *stubBackend) ListModels(_ context.Context) ([]ModelDescriptor, error) {
	return s.models, s.listErr
}

func (s *stubBackend) Health(_ context.Context) HealthStatus {
	return HealthStatus{Connected: s.healthy}
}

func (s *stubBackend) Complete(_ context.Context, req *CompletionRequest) (*CompletionResult, error) {
	s.completed = append(s.completed, req.Model)
	return &CompletionResult{Content: "from " + s.name}, nil
}

func (s *stubBackend) CompleteStream(_ context.Context, req *CompletionRequest, sink Sink) (*Usage, error) {
	s.streamed = append(s.streamed, req.Model)
	sink(Chunk{Content: "from " + s.name})
	sink(Chunk{Done: true})
	return nil, nil
}

func TestRouteModel(t *testing.T) {
	assert.Equal(t, ProviderLocal, RouteModel("llama3"))
	assert.Equal(t, ProviderLocal, RouteModel("qwen2.5-coder"))
	assert.Equal(t, ProviderRemote, RouteModel("openai/gpt-4o"))
	assert.Equal(t, ProviderRemote, RouteModel("anthropic/claude-sonnet"))
}

func TestRouterDispatch(t *testing.T) {
	local := &stubBackend{name: "local"}
	remote := &stubBackend{name: "remote"}
	router := NewRouter(local, remote)
	ctx := context.Background()

	res, err := router.Complete(ctx, &CompletionRequest{Model: "llama3"})
	require.NoError(t, err)
	assert.Equal(t, "from local", res.Content)

	res, err = router.Complete(ctx, &CompletionRequest{Model: "openai/gpt-4o"})
	require.NoError(t, err)
	assert.Equal(t, "from remote", res.Content)

	assert.Equal(t, []string{"llama3"}, local.completed)
	assert.Equal(t, []string{"openai/gpt-4o"}, remote.completed)
}

func TestRouterMissingBackend(t *testing.T) {
	router := NewRouter(&stubBackend{name: "local"}, nil)
	ctx := context.Background()

	_, err := router.Complete(ctx, &CompletionRequest{Model: "openai/gpt-4o"})
	require.Error(t, err)

	// The sink still observes its terminal chunk.
	var done bool
	_, err = router.CompleteStream(ctx, &CompletionRequest{Model: "openai/gpt-4o"}, func(c Chunk) {
		if c.Done {
			done = true
		}
	})
	require.Error(t, err)
	assert.True(t, done)
}

func TestRouterListModelsMergesAndDegrades(t *testing.T) {
	local := &stubBackend{
		name:   "local",
		models: []ModelDescriptor{{Provider: ProviderLocal, ID: "llama3"}},
	}
	remote := &stubBackend{
		name:   "remote",
		models: []ModelDescriptor{{Provider: ProviderRemote, ID: "openai/gpt-4o"}},
	}
	router := NewRouter(local, remote)
	ctx := context.Background()

	models, err := router.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 2)
	assert.Equal(t, "llama3", models[0].ID)
	assert.Equal(t, "openai/gpt-4o", models[1].ID)

	// A failing remote listing degrades to local-only.
	remote.listErr = errors.New("remote down")
	models, err = router.ListModels(ctx)
	require.NoError(t, err)
	require.Len(t, models, 1)
	assert.Equal(t, "llama3", models[0].ID)

	// Both failing is an error.
	local.listErr = errors.New("local down")
	_, err = router.ListModels(ctx)
	require.Error(t, err)
}

func TestRouterHealth(t *testing.T) {
	local := &stubBackend{name: "local"}
	remote := &stubBackend{name: "remote", healthy: true}
	router := NewRouter(local, remote)

	st := router.Health(context.Background())
	assert.True(t, st.Connected)

	remote.healthy = false
	st = router.Health(context.Background())
	assert.False(t, st.Connected)
}

func TestRouterDescriptor(t *testing.T) {
	local := &stubBackend{
		name:   "local",
		models: []ModelDescriptor{{Provider: ProviderLocal, ID: "llama3", ContextLength: 8192}},
	}
	router := NewRouter(local, nil)

	desc, ok := router.Descriptor(context.Background(), "llama3")
	require.True(t, ok)
	assert.Equal(t, 8192, desc.ContextLength)

	_, ok = router.Descriptor(context.Background(), "mistral")
	assert.False(t, ok)
}
