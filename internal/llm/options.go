package llm

import "time"

// Config carries provider construction settings.
type Config struct {
	// APIKey is the bearer credential for remote backends.
	APIKey string

	// BaseURL is the backend endpoint. For the local provider this is
	// the scheme and host without a port; ports come from LocalPorts.
	BaseURL string

	// LocalPorts lists candidate ports probed in order for a local
	// daemon.
	LocalPorts []int

	// Timeout bounds the wait for response headers. Reading a
	// streamed body is bounded by the request context instead.
	Timeout time.Duration
}

// DefaultConfig returns the built-in provider settings.
func DefaultConfig() Config {
	return Config{
		Timeout: 120 * time.Second,
	}
}

// Option is a functional option for configuring a provider.
type Option func(*Config)

// WithAPIKey sets the API key.
func WithAPIKey(apiKey string) Option {
	return func(c *Config) {
		c.APIKey = apiKey
	}
}

// WithBaseURL sets the backend endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Config) {
		c.BaseURL = baseURL
	}
}

// WithLocalPorts sets the local daemon probe list.
func WithLocalPorts(ports []int) Option {
	return func(c *Config) {
		c.LocalPorts = ports
	}
}

// WithTimeout sets the request timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Config) {
		c.Timeout = timeout
	}
}

// ApplyOptions applies the given options to a Config.
func ApplyOptions(cfg *Config, opts ...Option) {
	for _, opt := range opts {
		opt(cfg)
	}
}

// NewConfig creates a Config with the given options applied over the
// defaults.
func NewConfig(opts ...Option) Config {
	cfg := DefaultConfig()
	ApplyOptions(&cfg, opts...)
	return cfg
}

// RequestOption is a functional option for configuring a
// CompletionRequest.
type RequestOption func(*CompletionRequest)

// WithTemperature sets the sampling temperature.
func WithTemperature(temp float64) RequestOption {
	return func(r *CompletionRequest) {
		r.Temperature = &temp
	}
}

// WithMaxTokens caps the generated tokens.
func WithMaxTokens(tokens int) RequestOption {
	return func(r *CompletionRequest) {
		r.MaxTokens = &tokens
	}
}

// WithTopP sets the nucleus sampling parameter.
func WithTopP(topP float64) RequestOption {
	return func(r *CompletionRequest) {
		r.TopP = &topP
	}
}

// WithStop sets the stop sequences.
func WithStop(stop ...string) RequestOption {
	return func(r *CompletionRequest) {
		r.Stop = stop
	}
}

// NewCompletionRequest creates a request with the given model, messages
// and options.
func NewCompletionRequest(model string, messages []Message, opts ...RequestOption) *CompletionRequest {
	req := &CompletionRequest{
		Model:    model,
		Messages: messages,
	}
	for _, opt := range opts {
		opt(req)
	}
	return req
}
