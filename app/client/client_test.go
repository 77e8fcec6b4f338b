package client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, server *httptest.Server, cfg Config) *Client {
	t.Helper()
	cfg.BaseURL = server.URL
	c, err := New(server.Client(), cfg)
	if err != nil {
		t.Fatalf("creating client: %v", err)
	}
	return c
}

func TestNewRejectsRelativeBase(t *testing.T) {
	for _, base := range []string{"", "/wp-json/kiss", "not a url"} {
		if _, err := New(nil, Config{BaseURL: base}); err == nil {
			t.Errorf("Expected error for base URL %q", base)
		}
	}
}

func TestFetchPostsSendsRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/posts" {
			t.Errorf("Expected path /posts, got %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("per_page"); got != "5" {
			t.Errorf("Expected per_page=5, got %q", got)
		}
		if r.URL.Query().Has("_cache_buster") {
			t.Error("Expected no cache buster outside debug mode")
		}
		if got := r.Header.Get("X-WP-Nonce"); got != "abc123" {
			t.Errorf("Expected nonce header abc123, got %q", got)
		}
		if got := r.Header.Get("User-Agent"); got != "Widget Test" {
			t.Errorf("Expected user agent 'Widget Test', got %q", got)
		}
		w.Write([]byte(`[{"id":1,"title":"A","link":"https://example.com/a"}]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{UserAgent: "Widget Test"})
	body, err := c.FetchPosts(context.Background(), 5, "abc123", false)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !strings.Contains(string(body), `"title":"A"`) {
		t.Errorf("Unexpected body: %s", body)
	}
}

func TestFetchPostsCacheBuster(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("_cache_buster") == "" {
			t.Error("Expected cache buster in debug mode")
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})
	if _, err := c.FetchPosts(context.Background(), 8, "", true); err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestFetchPostsCustomAuthHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("X-Widget-Token"); got != "tok" {
			t.Errorf("Expected custom auth header, got %q", got)
		}
		w.Write([]byte(`[]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{AuthHeader: "X-Widget-Token"})
	if _, err := c.FetchPosts(context.Background(), 8, "tok", false); err != nil {
		t.Fatalf("fetch: %v", err)
	}
}

func TestFetchPostsStatusError(t *testing.T) {
	for _, code := range []int{400, 403, 404, 500, 503} {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(code)
		}))

		c := newTestClient(t, server, Config{})
		_, err := c.FetchPosts(context.Background(), 8, "", false)
		server.Close()

		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Errorf("Expected StatusError for %d, got %v", code, err)
			continue
		}
		if statusErr.StatusCode != code {
			t.Errorf("Expected status %d, got %d", code, statusErr.StatusCode)
		}
	}
}

func TestFetchPostsTimeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c := newTestClient(t, server, Config{Timeout: 50 * time.Millisecond})
	_, err := c.FetchPosts(context.Background(), 8, "", false)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
}

func TestFetchPostsReusesBodyOnNotModified(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Header().Set("Last-Modified", "Sat, 09 Aug 2025 12:00:00 GMT")
		w.Write([]byte(`[{"id":7,"title":"Kept","link":"#"}]`))
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})
	first, err := c.FetchPosts(context.Background(), 8, "", false)
	if err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	second, err := c.FetchPosts(context.Background(), 8, "", false)
	if err != nil {
		t.Fatalf("second fetch: %v", err)
	}

	if string(first) != string(second) {
		t.Errorf("Expected remembered body on 304, got %q", second)
	}
	if calls.Load() != 2 {
		t.Errorf("Expected 2 requests, got %d", calls.Load())
	}
}

func TestFetchPostsNotModifiedWithoutBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotModified)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})
	_, err := c.FetchPosts(context.Background(), 8, "", false)
	if !errors.Is(err, ErrNotModifiedWithoutBody) {
		t.Errorf("Expected ErrNotModifiedWithoutBody, got %v", err)
	}
}

func TestProbeTokenHead(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" {
			t.Errorf("Expected default probe path /token, got %s", r.URL.Path)
		}
		if r.Method != http.MethodHead {
			t.Errorf("Expected HEAD, got %s", r.Method)
		}
		w.Header().Set("X-WP-Nonce", "fresh-token")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})
	token, err := c.ProbeToken(context.Background(), "old")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if token != "fresh-token" {
		t.Errorf("Expected 'fresh-token', got %q", token)
	}
}

func TestProbeTokenFallsBackToGet(t *testing.T) {
	var methods []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		methods = append(methods, r.Method)
		if r.Method == http.MethodHead {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("X-Token", "from-get")
		w.Write([]byte("ok"))
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{TokenHeader: "X-Token", ProbeURL: server.URL + "/ping"})
	token, err := c.ProbeToken(context.Background(), "")
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if token != "from-get" {
		t.Errorf("Expected 'from-get', got %q", token)
	}
	if len(methods) != 2 || methods[0] != http.MethodHead || methods[1] != http.MethodGet {
		t.Errorf("Expected HEAD then GET, got %v", methods)
	}
}

func TestProbeTokenStatusError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	c := newTestClient(t, server, Config{})
	if _, err := c.ProbeToken(context.Background(), ""); err == nil {
		t.Error("Expected error for 401 probe")
	}
}
