// Package client is the HTTP client the CLI uses to talk to a running
// server.
package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/parley-org/parley/internal/build"
	"github.com/parley-org/parley/internal/config"
	"github.com/parley-org/parley/internal/llm"
	"github.com/parley-org/parley/internal/models"
	"github.com/parley-org/parley/internal/storage"
)

const defaultTimeout = 30 * time.Second

// Client talks to the REST API.
type Client struct {
	http *resty.Client
}

// apiError is the error body shape every endpoint uses.
type apiError struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// New creates a client for the given server address.
func New(cfg config.Server) *Client {
	http := resty.New().
		SetBaseURL(fmt.Sprintf("http://%s/api/v1", cfg.Addr())).
		SetTimeout(defaultTimeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", build.Slug+"/"+build.Version)
	return &Client{http: http}
}

func (c *Client) check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	if resp.IsError() {
		if apiErr, ok := resp.Error().(*apiError); ok && apiErr.Error != "" {
			return fmt.Errorf("server returned %s: %s", resp.Status(), apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status())
	}
	return nil
}

func (c *Client) request(ctx context.Context) *resty.Request {
	return c.http.R().SetContext(ctx).SetError(&apiError{})
}

// CreateResponse is the body of a successful create/start/stop call.
type CreateResponse struct {
	Success    bool              `json:"success"`
	Discussion models.IndexEntry `json:"discussion"`
}

// ListResponse is the body of the list call.
type ListResponse struct {
	Discussions []models.IndexEntry `json:"discussions"`
	Count       int                 `json:"count"`
}

// MessagesResponse is one page of messages.
type MessagesResponse struct {
	Messages []models.Message `json:"messages"`
	Total    int              `json:"total"`
	Page     int              `json:"page"`
	Limit    int              `json:"limit"`
}

// HealthResponse reports server and provider health.
type HealthResponse struct {
	Status   string           `json:"status"`
	Version  string           `json:"version"`
	Provider llm.HealthStatus `json:"provider"`
}

// ModelsResponse lists the servable models.
type ModelsResponse struct {
	Models []llm.ModelDescriptor `json:"models"`
	Count  int                   `json:"count"`
}

// BackupResponse is the body of a backup call.
type BackupResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
}

// CleanupResponse is the body of a cleanup call.
type CleanupResponse struct {
	Success bool `json:"success"`
	Removed int  `json:"removed"`
}

// Create registers a new discussion.
func (c *Client) Create(ctx context.Context, req models.CreateRequest) (*models.IndexEntry, error) {
	var out CreateResponse
	resp, err := c.request(ctx).SetBody(req).SetResult(&out).Post("/discussions")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out.Discussion, nil
}

// Start launches a discussion's turn loop.
func (c *Client) Start(ctx context.Context, id string) (*models.IndexEntry, error) {
	var out CreateResponse
	resp, err := c.request(ctx).SetResult(&out).Post("/discussions/" + id + "/start")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out.Discussion, nil
}

// Stop requests a cooperative stop.
func (c *Client) Stop(ctx context.Context, id string) (*models.IndexEntry, error) {
	var out CreateResponse
	resp, err := c.request(ctx).SetResult(&out).Post("/discussions/" + id + "/stop")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out.Discussion, nil
}

// List returns discussion summaries, newest first.
func (c *Client) List(ctx context.Context) ([]models.IndexEntry, error) {
	var out ListResponse
	resp, err := c.request(ctx).SetResult(&out).Get("/discussions")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out.Discussions, nil
}

// Get fetches the full discussion.
func (c *Client) Get(ctx context.Context, id string) (*models.Discussion, error) {
	var out models.Discussion
	resp, err := c.request(ctx).SetResult(&out).Get("/discussions/" + id)
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Messages fetches one page of messages.
func (c *Client) Messages(ctx context.Context, id string, page, limit int) (*MessagesResponse, error) {
	var out MessagesResponse
	resp, err := c.request(ctx).
		SetQueryParam("page", fmt.Sprintf("%d", page)).
		SetQueryParam("limit", fmt.Sprintf("%d", limit)).
		SetResult(&out).
		Get("/discussions/" + id + "/messages")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Summary fetches the discussion's summary.
func (c *Client) Summary(ctx context.Context, id string) (*models.Summary, error) {
	var out models.Summary
	resp, err := c.request(ctx).SetResult(&out).Get("/discussions/" + id + "/summary")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Delete removes a discussion.
func (c *Client) Delete(ctx context.Context, id string) error {
	resp, err := c.request(ctx).Delete("/discussions/" + id)
	return c.check(resp, err)
}

// Export downloads the rendered discussion in the given format.
func (c *Client) Export(ctx context.Context, id, format string) ([]byte, error) {
	resp, err := c.request(ctx).SetQueryParam("format", format).Get("/discussions/" + id + "/export")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}

// Backup triggers a storage backup.
func (c *Client) Backup(ctx context.Context) (string, error) {
	var out BackupResponse
	resp, err := c.request(ctx).SetResult(&out).Post("/discussions/storage/backup")
	if err := c.check(resp, err); err != nil {
		return "", err
	}
	return out.Path, nil
}

// Cleanup removes orphaned discussion files.
func (c *Client) Cleanup(ctx context.Context) (int, error) {
	var out CleanupResponse
	resp, err := c.request(ctx).SetResult(&out).Post("/discussions/storage/cleanup")
	if err := c.check(resp, err); err != nil {
		return 0, err
	}
	return out.Removed, nil
}

// StorageInfo fetches storage usage statistics.
func (c *Client) StorageInfo(ctx context.Context) (*storage.Info, error) {
	var out storage.Info
	resp, err := c.request(ctx).SetResult(&out).Get("/discussions/storage/info")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// PerformanceConfig fetches the runtime tunables.
func (c *Client) PerformanceConfig(ctx context.Context) (*config.Tuning, error) {
	var out config.Tuning
	resp, err := c.request(ctx).SetResult(&out).Get("/discussions/performance/config")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Optimize applies a named performance preset.
func (c *Client) Optimize(ctx context.Context, mode string) error {
	resp, err := c.request(ctx).SetBody(map[string]string{"mode": mode}).Post("/discussions/performance/optimize")
	return c.check(resp, err)
}

// Health probes the server.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var out HealthResponse
	resp, err := c.request(ctx).SetResult(&out).Get("/health")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Models lists the models the server can reach.
func (c *Client) Models(ctx context.Context) ([]llm.ModelDescriptor, error) {
	var out ModelsResponse
	resp, err := c.request(ctx).SetResult(&out).Get("/models")
	if err := c.check(resp, err); err != nil {
		return nil, err
	}
	return out.Models, nil
}
