package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

const (
	DefaultTimeout    = 10 * time.Second
	DefaultAuthHeader = "X-WP-Nonce"
	DefaultUserAgent  = "KISS Blog Posts/1.0"

	maxBodySize = 2 << 20
)

// StatusError is returned for any non-2xx response other than a usable 304.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("HTTP error: %d %s", e.StatusCode, e.Status)
}

// ErrNotModifiedWithoutBody means the server answered 304 for a URL this
// client holds no remembered body for.
var ErrNotModifiedWithoutBody = errors.New("not modified response without a remembered body")

type Config struct {
	BaseURL     string
	AuthHeader  string
	ProbeURL    string
	TokenHeader string
	UserAgent   string
	Timeout     time.Duration
}

type validators struct {
	etag         string
	lastModified string
	body         []byte
}

// Client talks to the posts endpoint and the token probe.
type Client struct {
	httpClient *http.Client
	cfg        Config
	now        func() time.Time

	mu         sync.Mutex
	remembered map[string]validators
}

func New(httpClient *http.Client, cfg Config) (*Client, error) {
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid endpoint base URL %q", cfg.BaseURL)
	}
	cfg.BaseURL = base.String()

	if cfg.AuthHeader == "" {
		cfg.AuthHeader = DefaultAuthHeader
	}
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = cfg.AuthHeader
	}
	if cfg.ProbeURL == "" {
		cfg.ProbeURL = cfg.BaseURL + "/token"
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Client{
		httpClient: httpClient,
		cfg:        cfg,
		now:        time.Now,
		remembered: make(map[string]validators),
	}, nil
}

func (c *Client) PostsURL(pageSize int, bust bool) string {
	q := url.Values{}
	q.Set("per_page", strconv.Itoa(pageSize))
	if bust {
		q.Set("_cache_buster", strconv.FormatInt(c.now().UnixNano(), 10))
	}
	return c.cfg.BaseURL + "/posts?" + q.Encode()
}

// FetchPosts returns the raw body of one posts request. A 304 is answered
// with the body remembered for the same URL.
func (c *Client) FetchPosts(ctx context.Context, pageSize int, token string, bust bool) ([]byte, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	target := c.PostsURL(pageSize, bust)
	key := c.cfg.BaseURL + "/posts?per_page=" + strconv.Itoa(pageSize)

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if token != "" {
		req.Header.Set(c.cfg.AuthHeader, token)
	}

	prior, havePrior := c.lookup(key)
	if havePrior && !bust {
		if prior.etag != "" {
			req.Header.Set("If-None-Match", prior.etag)
		}
		if prior.lastModified != "" {
			req.Header.Set("If-Modified-Since", prior.lastModified)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		if !havePrior {
			return nil, ErrNotModifiedWithoutBody
		}
		slog.Debug("Posts not modified, reusing remembered body", "url", target)
		return prior.body, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	etag := resp.Header.Get("ETag")
	lastModified := resp.Header.Get("Last-Modified")
	if etag != "" || lastModified != "" {
		c.remember(key, validators{etag: etag, lastModified: lastModified, body: data})
	}

	return data, nil
}

// ProbeToken asks the probe endpoint for a fresh token. HEAD is tried first;
// servers that reject it with 405 are asked again with GET.
func (c *Client) ProbeToken(ctx context.Context, token string) (string, error) {
	fresh, err := c.probe(ctx, http.MethodHead, token)
	var statusErr *StatusError
	if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusMethodNotAllowed {
		return c.probe(ctx, http.MethodGet, token)
	}
	return fresh, err
}

func (c *Client) probe(ctx context.Context, method, token string) (string, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, method, c.cfg.ProbeURL, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("User-Agent", c.cfg.UserAgent)
	if token != "" {
		req.Header.Set(c.cfg.AuthHeader, token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodySize))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{StatusCode: resp.StatusCode, Status: http.StatusText(resp.StatusCode)}
	}

	return resp.Header.Get(c.cfg.TokenHeader), nil
}

func (c *Client) lookup(key string) (validators, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.remembered[key]
	return v, ok
}

func (c *Client) remember(key string, v validators) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.remembered[key] = v
}
