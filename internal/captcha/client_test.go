package captcha

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/krivcovaanna86-netizen/vk-viewer-pro-sub000/internal/config"
)

func newTestClient(t *testing.T, endpoint string, maxWait time.Duration) *Client {
	t.Helper()
	return NewClient(config.CaptchaConfig{
		Endpoint:     endpoint,
		APIKey:       "test-key",
		PollInterval: 5 * time.Millisecond,
		MaxWait:      maxWait,
	}, zaptest.NewLogger(t))
}

func TestSolveReadyAfterPending(t *testing.T) {
	var polls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			var req submitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "test-key", req.APIKey)
			assert.Equal(t, "aW1hZ2U=", req.Image)
			_ = json.NewEncoder(w).Encode(submitResponse{TaskID: "task-1"})
		case "/result":
			assert.Equal(t, "task-1", r.URL.Query().Get("id"))
			if polls.Add(1) < 3 {
				_ = json.NewEncoder(w).Encode(resultResponse{Status: "pending"})
				return
			}
			_ = json.NewEncoder(w).Encode(resultResponse{Status: "ready", Answer: "7kfa2"})
		default:
			t.Fatalf("unexpected path %s", r.URL.Path)
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	answer, err := client.Solve(context.Background(), "aW1hZ2U=")

	require.NoError(t, err)
	assert.Equal(t, "7kfa2", answer)
	assert.Equal(t, int32(3), polls.Load())
}

func TestSolveTimesOut(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			_ = json.NewEncoder(w).Encode(submitResponse{TaskID: "task-2"})
		case "/result":
			_ = json.NewEncoder(w).Encode(resultResponse{Status: "pending"})
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, 20*time.Millisecond)
	_, err := client.Solve(context.Background(), "aW1hZ2U=")

	assert.ErrorIs(t, err, ErrSolveTimeout)
}

func TestSolveProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			_ = json.NewEncoder(w).Encode(submitResponse{TaskID: "task-3"})
		case "/result":
			_ = json.NewEncoder(w).Encode(resultResponse{Status: "error", Error: "unsolvable"})
		}
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	_, err := client.Solve(context.Background(), "aW1hZ2U=")

	assert.ErrorIs(t, err, ErrProviderRejected)
}

func TestSubmitRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(submitResponse{Error: "bad api key"})
	}))
	defer server.Close()

	client := newTestClient(t, server.URL, time.Second)
	_, err := client.Solve(context.Background(), "aW1hZ2U=")

	assert.ErrorIs(t, err, ErrProviderRejected)
}

func TestSolveCancelled(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit":
			_ = json.NewEncoder(w).Encode(submitResponse{TaskID: "task-4"})
		case "/result":
			_ = json.NewEncoder(w).Encode(resultResponse{Status: "pending"})
		}
	}))
	defer server.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Millisecond)
	defer cancel()

	client := newTestClient(t, server.URL, time.Minute)
	_, err := client.Solve(ctx, "aW1hZ2U=")

	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
