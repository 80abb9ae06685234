// Package llm abstracts the model backends a discussion can speak to:
// a local OpenAI-compatible daemon found by port probing, and a remote
// bearer-authenticated API with SSE streaming.
package llm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ProviderType identifies a provider implementation.
type ProviderType string

const (
	// ProviderLocal talks to a co-located inference daemon (Ollama,
	// vLLM, llama.cpp server and other OpenAI-compatible servers).
	ProviderLocal ProviderType = "local"

	// ProviderRemote talks to a cloud completion API over HTTPS with a
	// bearer token.
	ProviderRemote ProviderType = "remote"
)

// RouteModel maps a model identifier to the provider that serves it.
// Identifiers with a "/" (vendor-prefixed, e.g. "openai/gpt-4o") route
// to the remote provider; bare names route to the local daemon.
func RouteModel(model string) ProviderType {
	if strings.Contains(model, "/") {
		return ProviderRemote
	}
	return ProviderLocal
}

// Message is a single turn handed to a backend.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Message role constants.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ModelDescriptor describes one servable model.
type ModelDescriptor struct {
	Provider      ProviderType `json:"provider"`
	ID            string       `json:"id"`
	DisplayName   string       `json:"displayName,omitempty"`
	ContextLength int          `json:"contextLength,omitempty"`
}

// HealthStatus reports whether a provider can currently serve requests.
type HealthStatus struct {
	Connected bool   `json:"connected"`
	Message   string `json:"message,omitempty"`
}

// Usage carries token accounting reported by a backend.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// CompletionRequest is a single completion call.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64
	MaxTokens   *int
	TopP        *float64
	Stop        []string
}

// CompletionResult is the non-streaming response.
type CompletionResult struct {
	Content      string
	FinishReason string
	Usage        Usage
}

// Chunk is one streamed fragment. The final chunk has Done=true and may
// carry empty Content; Usage is only present on the final chunk when
// the backend reports it.
type Chunk struct {
	Content string
	Done    bool
	Usage   *Usage
}

// Sink receives streamed chunks in order. Implementations must be safe
// to call from the provider's request goroutine.
type Sink func(Chunk)

// Provider is the contract the orchestrator programs against.
type Provider interface {
	// Name returns the provider identifier.
	Name() string

	// ListModels enumerates the models this provider can serve.
	ListModels(ctx context.Context) ([]ModelDescriptor, error)

	// Health probes the backend.
	Health(ctx context.Context) HealthStatus

	// Complete performs a single-shot completion. May block for
	// seconds; honor ctx.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)

	// CompleteStream streams the completion through sink. The sink
	// observes Done=true exactly once, even when the call fails
	// afterwards. No retries happen at this layer.
	CompleteStream(ctx context.Context, req *CompletionRequest, sink Sink) (*Usage, error)
}

// Factory builds a provider from a Config.
type Factory func(cfg Config) (Provider, error)

var (
	registryMu sync.RWMutex
	registry   = make(map[ProviderType]Factory)
)

// RegisterProvider makes a provider implementation available to
// NewProvider. Called from provider package init functions.
func RegisterProvider(t ProviderType, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[t] = factory
}

// NewProvider instantiates the registered provider of the given type.
func NewProvider(t ProviderType, opts ...Option) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[t]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, t)
	}
	return factory(NewConfig(opts...))
}

// RegisteredProviders returns the provider types available, sorted.
func RegisteredProviders() []ProviderType {
	registryMu.RLock()
	defer registryMu.RUnlock()
	out := make([]ProviderType, 0, len(registry))
	for t := range registry {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
