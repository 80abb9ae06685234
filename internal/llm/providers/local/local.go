// Package local provides the provider implementation for co-located
// OpenAI-compatible servers: Ollama, vLLM, llama.cpp server, LocalAI
// and other compatible daemons. The daemon's port is discovered by
// probing a candidate list and cached until a request fails.
package local

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/parley-org/parley/internal/llm"
)

const (
	providerName        = "local"
	defaultBaseURL      = "http://localhost"
	chatCompletionsPath = "/v1/chat/completions"
	modelsPath          = "/v1/models"
	streamPrefix        = "data: "
	streamDoneMarker    = "[DONE]"
	probeTimeout        = 2 * time.Second
)

// defaultPorts covers Ollama, llama.cpp server, LocalAI and vLLM in
// their stock configurations.
var defaultPorts = []int{11434, 8080, 5000, 8000}

func init() {
	llm.RegisterProvider(llm.ProviderLocal, New)
}

// Provider implements llm.Provider for local OpenAI-compatible servers.
type Provider struct {
	config     llm.Config
	httpClient *llm.HTTPClient

	mu      sync.Mutex
	baseURL string // discovered scheme://host:port, empty until probed
}

// New creates a local provider. No API key is required; one is sent as
// a bearer header only when configured.
func New(cfg llm.Config) (llm.Provider, error) {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if len(cfg.LocalPorts) == 0 {
		cfg.LocalPorts = defaultPorts
	}
	return &Provider{
		config:     cfg,
		httpClient: llm.NewHTTPClient(cfg),
	}, nil
}

// Name returns the provider name.
func (p *Provider) Name() string {
	return providerName
}

// endpoint returns the daemon base URL, probing the candidate ports on
// first use.
func (p *Provider) endpoint(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.baseURL != "" {
		return p.baseURL, nil
	}

	var lastErr error
	for _, port := range p.config.LocalPorts {
		candidate := fmt.Sprintf("%s:%d", p.config.BaseURL, port)
		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		body, err := p.httpClient.Get(probeCtx, providerName, candidate+modelsPath, p.authHeaders())
		cancel()
		if err != nil {
			lastErr = err
			continue
		}
		_ = body.Close()
		p.baseURL = candidate
		return candidate, nil
	}

	err := fmt.Errorf("no local daemon on ports %v", p.config.LocalPorts)
	if lastErr != nil {
		err = fmt.Errorf("%w (last error: %v)", err, lastErr)
	}
	return "", llm.WrapError(providerName, err)
}

// invalidate drops the cached endpoint so the next call re-probes.
func (p *Provider) invalidate() {
	p.mu.Lock()
	p.baseURL = ""
	p.mu.Unlock()
}

// ListModels enumerates the daemon's models.
func (p *Provider) ListModels(ctx context.Context) ([]llm.ModelDescriptor, error) {
	base, err := p.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	body, err := p.httpClient.Get(ctx, providerName, base+modelsPath, p.authHeaders())
	if err != nil {
		p.invalidate()
		return nil, err
	}
	defer func() { _ = body.Close() }()

	var resp modelListResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, llm.WrapError(providerName, fmt.Errorf("failed to decode model list: %w", err))
	}

	models := make([]llm.ModelDescriptor, 0, len(resp.Data))
	for _, m := range resp.Data {
		models = append(models, llm.ModelDescriptor{
			Provider:    llm.ProviderLocal,
			ID:          m.ID,
			DisplayName: m.ID,
		})
	}
	return models, nil
}

// Health reports whether a daemon answered the probe.
func (p *Provider) Health(ctx context.Context) llm.HealthStatus {
	base, err := p.endpoint(ctx)
	if err != nil {
		return llm.HealthStatus{Connected: false, Message: err.Error()}
	}
	return llm.HealthStatus{Connected: true, Message: "local daemon at " + base}
}

// Complete performs a single-shot completion.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResult, error) {
	base, err := p.endpoint(ctx)
	if err != nil {
		return nil, err
	}

	payload, err := buildRequestBody(req, false)
	if err != nil {
		return nil, llm.WrapError(providerName, err)
	}

	respBody, err := p.httpClient.Post(ctx, providerName, base+chatCompletionsPath, payload, p.authHeaders())
	if err != nil {
		p.invalidate()
		return nil, err
	}
	defer func() { _ = respBody.Close() }()

	var resp chatCompletionResponse
	if err := json.NewDecoder(respBody).Decode(&resp); err != nil {
		return nil, llm.WrapError(providerName, fmt.Errorf("failed to decode response: %w", err))
	}
	if len(resp.Choices) == 0 {
		return nil, llm.WrapError(providerName, fmt.Errorf("no choices in response"))
	}

	return &llm.CompletionResult{
		Content:      resp.Choices[0].Message.Content,
		FinishReason: resp.Choices[0].FinishReason,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}, nil
}

// CompleteStream streams the completion through sink. The sink sees
// Done=true exactly once, also when the call fails.
func (p *Provider) CompleteStream(ctx context.Context, req *llm.CompletionRequest, sink llm.Sink) (*llm.Usage, error) {
	base, err := p.endpoint(ctx)
	if err != nil {
		sink(llm.Chunk{Done: true})
		return nil, err
	}

	payload, err := buildRequestBody(req, true)
	if err != nil {
		sink(llm.Chunk{Done: true})
		return nil, llm.WrapError(providerName, err)
	}

	respBody, err := p.httpClient.Post(ctx, providerName, base+chatCompletionsPath, payload, p.authHeaders())
	if err != nil {
		p.invalidate()
		sink(llm.Chunk{Done: true})
		return nil, err
	}

	return streamResponse(ctx, respBody, sink)
}

func (p *Provider) authHeaders() map[string]string {
	if p.config.APIKey != "" {
		return map[string]string{
			"Authorization": "Bearer " + p.config.APIKey,
		}
	}
	return nil
}

func buildRequestBody(req *llm.CompletionRequest, stream bool) ([]byte, error) {
	messages := make([]message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = message{Role: m.Role, Content: m.Content}
	}

	chatReq := chatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   stream,
	}
	if req.Temperature != nil {
		chatReq.Temperature = req.Temperature
	}
	if req.MaxTokens != nil {
		chatReq.MaxTokens = req.MaxTokens
	}
	if req.TopP != nil {
		chatReq.TopP = req.TopP
	}
	if len(req.Stop) > 0 {
		chatReq.Stop = req.Stop
	}

	return json.Marshal(chatReq)
}

// streamResponse scans SSE lines and forwards deltas. Unparseable data
// lines are skipped; a stream that yields nothing is the caller's
// problem to detect.
func streamResponse(ctx context.Context, body io.ReadCloser, sink llm.Sink) (*llm.Usage, error) {
	defer func() { _ = body.Close() }()

	var usage *llm.Usage
	doneSent := false
	emitDone := func() {
		if !doneSent {
			doneSent = true
			sink(llm.Chunk{Done: true, Usage: usage})
		}
	}

	scanner := bufio.NewScanner(body)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			emitDone()
			return usage, llm.WrapError(providerName, ctx.Err())
		default:
		}

		line := scanner.Text()
		if line == "" || !strings.HasPrefix(line, streamPrefix) {
			continue
		}

		data := strings.TrimPrefix(line, streamPrefix)
		if data == streamDoneMarker {
			emitDone()
			return usage, nil
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			continue
		}

		if chunk.Usage != nil {
			usage = &llm.Usage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			sink(llm.Chunk{Content: chunk.Choices[0].Delta.Content})
		}
	}

	if err := scanner.Err(); err != nil {
		emitDone()
		return usage, llm.WrapError(providerName, err)
	}

	// Stream ended without [DONE]; still signal completion.
	emitDone()
	return usage, nil
}

// API request/response types (OpenAI-compatible)

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature *float64  `json:"temperature,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	Stop        []string  `json:"stop,omitempty"`
	Stream      bool      `json:"stream,omitempty"`
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int     `json:"index"`
		Message      message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type streamChunk struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index int `json:"index"`
		Delta struct {
			Role    string `json:"role,omitempty"`
			Content string `json:"content,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage,omitempty"`
}

type modelListResponse struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}
