// Package remote provides the provider implementation for cloud
// completion APIs speaking the OpenAI wire shape over HTTPS with a
// bearer token, such as OpenRouter.
package remote

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/parley-org/parley/internal/llm"
)

const (
	providerName        = "remote"
	defaultBaseURL      = "https://openrouter.ai/api/v1"
	chatCompletionsPath = "/chat/completions"
	modelsPath          = "/models"
	streamPrefix        = "data: "
	streamDoneMarker    = "[DONE]"
	healthTimeout       = 5 * time.Second
)

func init() {
	llm.RegisterProvider(llm.ProviderRemote, New)
}

// Provider implements the llm.Provider interface for remote APIs.
var _ llm.Provider = (*Provider)(nil)

type Provider struct {
	config     llm.Config
	httpClient *llm.HTTPClient
}

// New creates a remote provider. A bearer credential is required.
func New(cfg llm.Config) (llm.Provider, error) {
	if cfg.APIKey == "" {
		return nil, llm.ErrNoAPIKey
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
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

// ListModels enumerates the models the remote API serves.
func (p *Provider) ListModels(ctx context.Context) ([]llm.ModelDescriptor, error) {
	body, err := p.httpClient.Get(ctx, providerName, p.config.BaseURL+modelsPath, p.authHeaders())
	if err != nil {
		return nil, err
	}
	defer func() { _ = body.Close() }()

	var resp modelListResponse
	if err := json.NewDecoder(body).Decode(&resp); err != nil {
		return nil, llm.WrapError(providerName, fmt.Errorf("failed to decode model list: %w", err))
	}

	models := make([]llm.ModelDescriptor, 0, len(resp.Data))
	for _, m := range resp.Data {
		name := m.Name
		if name == "" {
			name = m.ID
		}
		models = append(models, llm.ModelDescriptor{
			Provider:      llm.ProviderRemote,
			ID:            m.ID,
			DisplayName:   name,
			ContextLength: m.ContextLength,
		})
	}
	return models, nil
}

// Health probes the models endpoint.
func (p *Provider) Health(ctx context.Context) llm.HealthStatus {
	probeCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	body, err := p.httpClient.Get(probeCtx, providerName, p.config.BaseURL+modelsPath, p.authHeaders())
	if err != nil {
		return llm.HealthStatus{Connected: false, Message: err.Error()}
	}
	_ = body.Close()
	return llm.HealthStatus{Connected: true, Message: "remote API at " + p.config.BaseURL}
}

// Complete performs a single-shot completion.
func (p *Provider) Complete(ctx context.Context, req *llm.CompletionRequest) (*llm.CompletionResult, error) {
	payload, err := buildRequestBody(req, false)
	if err != nil {
		return nil, llm.WrapError(providerName, err)
	}

	respBody, err := p.httpClient.Post(ctx, providerName, p.config.BaseURL+chatCompletionsPath, payload, p.authHeaders())
	if err != nil {
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

// CompleteStream streams the completion through sink via SSE. The sink
// sees Done=true exactly once, also when the call fails.
func (p *Provider) CompleteStream(ctx context.Context, req *llm.CompletionRequest, sink llm.Sink) (*llm.Usage, error) {
	payload, err := buildRequestBody(req, true)
	if err != nil {
		sink(llm.Chunk{Done: true})
		return nil, llm.WrapError(providerName, err)
	}

	respBody, err := p.httpClient.Post(ctx, providerName, p.config.BaseURL+chatCompletionsPath, payload, p.authHeaders())
	if err != nil {
		sink(llm.Chunk{Done: true})
		return nil, err
	}

	return streamResponse(ctx, respBody, sink)
}

func (p *Provider) authHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.config.APIKey,
	}
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
		ID            string `json:"id"`
		Name          string `json:"name"`
		ContextLength int    `json:"context_length"`
	} `json:"data"`
}
