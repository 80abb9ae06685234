package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSlowStreamOutlivesHeaderTimeout(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "chunk-1\n")
		flusher.Flush()
		time.Sleep(150 * time.Millisecond)
		_, _ = io.WriteString(w, "chunk-2\n")
		flusher.Flush()
	}))
	defer srv.Close()

	// The body takes three times the configured timeout to finish.
	client := NewHTTPClient(Config{Timeout: 50 * time.Millisecond})
	body, err := client.Get(context.Background(), "test", srv.URL, nil)
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "chunk-2")
}

func TestSlowHeadersTimeOut(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(300 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := NewHTTPClient(Config{Timeout: 50 * time.Millisecond})
	_, err := client.Get(context.Background(), "test", srv.URL, nil)
	require.Error(t, err)

	var perr *ProviderError
	assert.ErrorAs(t, err, &perr)
}

func TestContextCancelStopsStream(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		_, _ = io.WriteString(w, "chunk-1\n")
		flusher.Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	client := NewHTTPClient(Config{Timeout: time.Minute})
	body, err := client.Get(ctx, "test", srv.URL, nil)
	require.NoError(t, err)
	defer func() { _ = body.Close() }()

	_, err = io.ReadAll(body)
	require.Error(t, err)
}
