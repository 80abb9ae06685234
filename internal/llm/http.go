package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// HTTPClient performs single-shot HTTP requests for providers. Uses
// plain net/http so streaming response bodies stay open for the caller;
// retry policy belongs to the turn executor, never to this layer.
type HTTPClient struct {
	client *http.Client
}

// NewHTTPClient creates an HTTP client with its own transport, so
// connection state is not shared across unrelated providers.
// cfg.Timeout bounds the wait for response headers only; how long a
// body may be read is governed by the request context, so a slow
// stream is not cut off mid-turn.
func NewHTTPClient(cfg Config) *HTTPClient {
	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ExpectContinueTimeout: 1 * time.Second,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}

	return &HTTPClient{
		client: &http.Client{Transport: transport},
	}
}

// Post sends a JSON body and returns the response body for streaming
// reads. Non-2xx responses are drained and surfaced as a ProviderError.
func (c *HTTPClient) Post(ctx context.Context, provider, url string, body []byte, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(provider, req)
}

// Get fetches url and returns the response body.
func (c *HTTPClient) Get(ctx context.Context, provider, url string, headers map[string]string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	return c.do(provider, req)
}

func (c *HTTPClient) do(provider string, req *http.Request) (io.ReadCloser, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, WrapError(provider, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}

	errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = resp.Body.Close()
	return nil, NewAPIError(provider, resp.StatusCode, string(errBody))
}
