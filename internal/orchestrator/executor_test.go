package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-org/parley/internal/llm"
)

// recordingProvider scripts the non-streaming path and records every
// request it sees.
type recordingProvider struct {
	mu       sync.Mutex
	requests []*llm.CompletionRequest
	results  []string
	errs     []error
	stream   func(sink llm.Sink)
}

func (p *recordingProvider) Name() string { return "recording" }

func (p *recordingProvider) ListModels(_ context.Context) ([]llm.ModelDescriptor, error) {
	return nil, nil
}

func (p *recordingProvider) Health(_ context.Context) llm.HealthStatus {
	return llm.HealthStatus{Connected: true}
}

func (p *recordingProvider) Complete(_ context.Context, req *llm.CompletionRequest) (*llm.CompletionResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := len(p.requests)
	p.requests = append(p.requests, req)
	if n < len(p.errs) && p.errs[n] != nil {
		return nil, p.errs[n]
	}
	content := ""
	if n < len(p.results) {
		content = p.results[n]
	}
	return &llm.CompletionResult{Content: content}, nil
}

func (p *recordingProvider) CompleteStream(_ context.Context, req *llm.CompletionRequest, sink llm.Sink) (*llm.Usage, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	p.mu.Unlock()
	if p.stream == nil {
		sink(llm.Chunk{Done: true})
		return nil, errors.New("streaming not scripted")
	}
	p.stream(sink)
	return nil, nil
}

func (p *recordingProvider) seen() []*llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*llm.CompletionRequest(nil), p.requests...)
}

func TestIsRepetitive(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    bool
	}{
		{
			name:    "varied prose",
			content: "Different words carry separate meanings across every single clause written here today without anything recurring at all.",
			want:    false,
		},
		{
			name:    "dominant word",
			content: "banana banana banana banana banana banana",
			want:    true,
		},
		{
			name:    "repeated sentences",
			content: "The answer is clearly forty two. The answer is clearly forty two! Something else entirely happens in between these lines.",
			want:    true,
		},
		{
			name:    "empty",
			content: "",
			want:    false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, isRepetitive(tc.content, 0.8))
		})
	}
}

func TestShortenContextKeepsSystemMessage(t *testing.T) {
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "you are a debater"},
		{Role: llm.RoleUser, Content: "a very long transcript"},
	}
	out := shortenContext(msgs, "share one thought")
	require.Len(t, out, 2)
	assert.Equal(t, llm.RoleSystem, out[0].Role)
	assert.Equal(t, "you are a debater", out[0].Content)
	assert.Equal(t, llm.RoleUser, out[1].Role)
	assert.Equal(t, "share one thought", out[1].Content)

	// No system message to preserve.
	out = shortenContext(msgs[1:], "share one thought")
	require.Len(t, out, 1)
	assert.Equal(t, "share one thought", out[0].Content)
}

func TestExecuteRetriesWithFallbackPrompt(t *testing.T) {
	provider := &recordingProvider{
		errs:    []error{errors.New("first call refused"), nil},
		results: []string{"", "A considered answer that comfortably clears the minimum response length gate."},
	}
	executor := NewExecutor(provider, nil, nil)

	result := executor.Execute(context.Background(), TurnOptions{
		Model:             "alpha",
		Context:           []llm.Message{{Role: llm.RoleSystem, Content: "sys"}, {Role: llm.RoleUser, Content: "long prompt"}},
		FallbackPrompt:    "Briefly share your view.",
		MaxRetries:        1,
		MinResponseLength: 20,
	})
	require.True(t, result.Success)
	assert.Contains(t, result.Content, "considered answer")

	reqs := provider.seen()
	require.Len(t, reqs, 2)
	// The retry swaps the user prompt for the terse fallback.
	assert.Equal(t, "long prompt", reqs[0].Messages[1].Content)
	assert.Equal(t, "Briefly share your view.", reqs[1].Messages[1].Content)
}

func TestExecuteFailureSentinel(t *testing.T) {
	provider := &recordingProvider{errs: []error{errors.New("down")}}
	executor := NewExecutor(provider, nil, nil)

	result := executor.Execute(context.Background(), TurnOptions{
		Model:             "alpha",
		Context:           []llm.Message{{Role: llm.RoleUser, Content: "go"}},
		MinResponseLength: 20,
	})
	assert.False(t, result.Success)
	assert.Equal(t, "[Error: alpha failed to respond after 1 attempts]", result.Content)
	assert.Zero(t, result.TokenCount)
}

func TestExecuteShortStreamFallsBackToComplete(t *testing.T) {
	provider := &recordingProvider{
		stream: func(sink llm.Sink) {
			sink(llm.Chunk{Content: "tiny"})
			sink(llm.Chunk{Done: true})
		},
		results: []string{"", "A full response from the non-streaming path that is long enough to pass."},
	}
	executor := NewExecutor(provider, nil, nil)

	result := executor.Execute(context.Background(), TurnOptions{
		Model:             "alpha",
		Context:           []llm.Message{{Role: llm.RoleUser, Content: "go"}},
		MinResponseLength: 20,
		EnableStreaming:   true,
	})
	require.True(t, result.Success)
	assert.Contains(t, result.Content, "non-streaming path")

	// One streaming attempt, then the fallback completion.
	require.Len(t, provider.seen(), 2)
}

func TestExecuteAcceptsRepetitiveOnFinalAttempt(t *testing.T) {
	repetitive := "echo echo echo echo echo echo echo echo"
	provider := &recordingProvider{results: []string{repetitive, repetitive}}
	executor := NewExecutor(provider, nil, nil)

	result := executor.Execute(context.Background(), TurnOptions{
		Model:             "alpha",
		Context:           []llm.Message{{Role: llm.RoleUser, Content: "go"}},
		MaxRetries:        1,
		MinResponseLength: 20,
	})
	require.True(t, result.Success)
	assert.Equal(t, repetitive, result.Content)
	assert.Len(t, provider.seen(), 2)
}

func TestValidate(t *testing.T) {
	e := &Executor{}
	opts := TurnOptions{MinResponseLength: 10}
	assert.False(t, e.validate("short", 1, opts))
	assert.False(t, e.validate(strings.Repeat("a", 20), 0, opts))
	assert.True(t, e.validate(strings.Repeat("a", 20), 1, opts))
}
