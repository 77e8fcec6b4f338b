package widget

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/auth"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/cache"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/client"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/metrics"
	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/posts"
)

const (
	DefaultPageSize    = 8
	DefaultMaxAttempts = 4
	DefaultBaseDelay   = time.Second

	MinPageSize = 1
	MaxPageSize = 20
)

type State string

const (
	StateIdle     State = "idle"
	StateLoading  State = "loading"
	StateRetrying State = "retrying"
	StateSuccess  State = "success"
	StateEmpty    State = "empty"
	StateFailed   State = "failed"
)

// Fetcher issues one request against the posts endpoint.
type Fetcher interface {
	FetchPosts(ctx context.Context, pageSize int, token string, bust bool) ([]byte, error)
}

// TokenSource is the part of auth.TokenManager the controller needs.
type TokenSource interface {
	CurrentToken(ctx context.Context) string
	Token() string
	Refresh(ctx context.Context) (auth.Credential, error)
}

var (
	_ Fetcher     = (*client.Client)(nil)
	_ Fetcher     = (FetcherFunc)(nil)
	_ TokenSource = (*auth.TokenManager)(nil)
)

type FetcherFunc func(ctx context.Context, pageSize int, token string, bust bool) ([]byte, error)

func (f FetcherFunc) FetchPosts(ctx context.Context, pageSize int, token string, bust bool) ([]byte, error) {
	return f(ctx, pageSize, token, bust)
}

type Options struct {
	Debug           bool
	DefaultPageSize int
	MaxAttempts     int
	BaseDelay       time.Duration
}

func DefaultOptions() Options {
	return Options{
		DefaultPageSize: DefaultPageSize,
		MaxAttempts:     DefaultMaxAttempts,
		BaseDelay:       DefaultBaseDelay,
	}
}

// Outcome describes how one Load ended.
type Outcome struct {
	State      State
	PageSize   int
	Records    []posts.DisplayRecord
	Attempts   int
	FromCache  bool
	Err        *FetchError
	Superseded bool
}

// Controller drives one widget container through cache lookup, fetch,
// retry with backoff and a single token refresh per load. A newer Load
// supersedes an older one; renders from a superseded load are dropped.
type Controller struct {
	opts      Options
	fetcher   Fetcher
	tokens    TokenSource
	cache     *cache.PostCache
	renderer  *Renderer
	sanitizer *posts.Sanitizer
	target    Target
	metrics   *metrics.Metrics
	sleep     func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	seq         uint64
	cancel      context.CancelFunc
	state       State
	rawPageSize string
}

func NewController(opts Options, fetcher Fetcher, tokens TokenSource, postCache *cache.PostCache, target Target, m *metrics.Metrics) *Controller {
	defaults := DefaultOptions()
	if opts.DefaultPageSize < MinPageSize || opts.DefaultPageSize > MaxPageSize {
		opts.DefaultPageSize = defaults.DefaultPageSize
	}
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = defaults.MaxAttempts
	}
	if opts.BaseDelay <= 0 {
		opts.BaseDelay = defaults.BaseDelay
	}

	return &Controller{
		opts:      opts,
		fetcher:   fetcher,
		tokens:    tokens,
		cache:     postCache,
		renderer:  NewRenderer(),
		sanitizer: posts.NewSanitizer(),
		target:    target,
		metrics:   m,
		sleep:     sleepContext,
		state:     StateIdle,
	}
}

// WithSleep replaces the backoff wait. Used by tests.
func (c *Controller) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Controller {
	c.sleep = sleep
	return c
}

func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ParsePageSize reads a configured page size. Values that are not numbers
// or fall outside 1..20 yield def.
func ParsePageSize(raw string, def int) int {
	n, err := cast.ToIntE(strings.TrimSpace(raw))
	if err != nil || n < MinPageSize || n > MaxPageSize {
		return def
	}
	return n
}

// Run loads using the page size configured on the target.
func (c *Controller) Run(ctx context.Context) Outcome {
	return c.Load(ctx, c.target.PageSize())
}

// Retry starts over from attempt 0 with the page size of the last load.
func (c *Controller) Retry(ctx context.Context) Outcome {
	c.mu.Lock()
	raw := c.rawPageSize
	c.mu.Unlock()
	return c.Load(ctx, raw)
}

func (c *Controller) Load(ctx context.Context, rawPageSize string) Outcome {
	start := time.Now()
	pageSize := ParsePageSize(rawPageSize, c.opts.DefaultPageSize)

	loadCtx, seq, cancel := c.begin(ctx, rawPageSize)
	defer cancel()

	outcome := c.load(loadCtx, seq, pageSize)
	outcome.PageSize = pageSize

	if outcome.Superseded {
		slog.Debug("Widget load superseded", "seq", seq, "page_size", pageSize, "attempts", outcome.Attempts)
		return outcome
	}

	c.metrics.ObserveLoad(string(outcome.State), time.Since(start).Seconds())
	slog.Info("Widget load finished",
		"state", outcome.State,
		"page_size", pageSize,
		"attempts", outcome.Attempts,
		"from_cache", outcome.FromCache,
		"posts", len(outcome.Records),
		"duration", time.Since(start))

	return outcome
}

func (c *Controller) load(ctx context.Context, seq uint64, pageSize int) Outcome {
	useCache := c.cache != nil && !c.opts.Debug
	key := cache.Key(pageSize)

	if useCache {
		records, ok := c.cache.Get(ctx, key)
		c.metrics.ObserveCache(ok)
		if ok {
			return c.succeed(seq, records, 0, true)
		}
	}

	if !c.commit(seq, StateLoading, c.renderer.Loading()) {
		return Outcome{State: c.State(), Superseded: true}
	}

	var (
		lastErr   *FetchError
		refreshed bool
		attempts  int
	)

	// attempt counts backoff slots only. The replay after a token refresh
	// reruns attempt 0 and does not use one up.
	for attempt := 0; attempt < c.opts.MaxAttempts; {
		token := c.tokens.Token()
		if attempt == 0 && !refreshed {
			token = c.tokens.CurrentToken(ctx)
		}

		attempts++
		records, fe := c.fetch(ctx, pageSize, token)
		if !c.isCurrent(seq) {
			return Outcome{State: c.State(), Attempts: attempts, Superseded: true}
		}

		if fe == nil {
			if len(records) == 0 {
				return c.empty(seq, attempts)
			}
			if useCache {
				c.cache.Put(ctx, key, records)
			}
			return c.succeed(seq, records, attempts, false)
		}
		lastErr = fe

		if fe.Kind == AuthExpired && attempt == 0 && !refreshed {
			refreshed = true
			if _, err := c.tokens.Refresh(ctx); err != nil {
				c.metrics.ObserveRefresh(false)
				slog.Warn("Token refresh after 403 failed", "seq", seq, "error", err)
				break
			}
			c.metrics.ObserveRefresh(true)
			slog.Debug("Token refreshed after 403, replaying request", "seq", seq)
			continue
		}

		if !fe.Retryable() || attempt >= c.opts.MaxAttempts-1 {
			break
		}

		delay := c.backoff(attempt)
		slog.Warn("Widget fetch failed, retrying",
			"seq", seq,
			"attempt", attempt+1,
			"kind", fe.Kind,
			"status", fe.StatusCode,
			"delay", delay,
			"error", fe.Err)

		if !c.commit(seq, StateRetrying, c.renderer.Retrying(attempt+1, c.opts.MaxAttempts-1, delay)) {
			return Outcome{State: c.State(), Attempts: attempts, Superseded: true}
		}

		if err := c.sleep(ctx, delay); err != nil {
			if !c.isCurrent(seq) {
				return Outcome{State: c.State(), Attempts: attempts, Superseded: true}
			}
			lastErr = Classify(err)
			break
		}
		if !c.isCurrent(seq) {
			return Outcome{State: c.State(), Attempts: attempts, Superseded: true}
		}
		attempt++
	}

	return c.fail(seq, lastErr, attempts)
}

func (c *Controller) fetch(ctx context.Context, pageSize int, token string) ([]posts.PostRecord, *FetchError) {
	body, err := c.fetcher.FetchPosts(ctx, pageSize, token, c.opts.Debug)
	if err != nil {
		fe := Classify(err)
		c.metrics.ObserveAttempt(string(fe.Kind))
		return nil, fe
	}

	records, err := posts.Decode(body)
	if err != nil {
		fe := malformed(err)
		c.metrics.ObserveAttempt(string(fe.Kind))
		return nil, fe
	}

	c.metrics.ObserveAttempt("ok")
	return records, nil
}

func (c *Controller) succeed(seq uint64, records []posts.PostRecord, attempts int, fromCache bool) Outcome {
	display := c.sanitizer.Run(records)

	tiles := make([]Tile, len(records))
	for i := range records {
		tiles[i] = Tile{Post: display[i], Source: records[i]}
	}

	if !c.commit(seq, StateSuccess, c.renderer.Tiles(tiles, c.opts.Debug)) {
		return Outcome{State: c.State(), Attempts: attempts, Superseded: true}
	}
	return Outcome{State: StateSuccess, Records: display, Attempts: attempts, FromCache: fromCache}
}

func (c *Controller) empty(seq uint64, attempts int) Outcome {
	if !c.commit(seq, StateEmpty, c.renderer.Empty()) {
		return Outcome{State: c.State(), Attempts: attempts, Superseded: true}
	}
	return Outcome{State: StateEmpty, Attempts: attempts}
}

func (c *Controller) fail(seq uint64, fe *FetchError, attempts int) Outcome {
	var detail string
	if c.opts.Debug {
		detail = fe.Error()
	}

	if !c.commit(seq, StateFailed, c.renderer.Error(fe.UserMessage(), detail)) {
		return Outcome{State: c.State(), Attempts: attempts, Superseded: true}
	}

	slog.Error("Widget load failed",
		"seq", seq,
		"kind", fe.Kind,
		"status", fe.StatusCode,
		"attempts", attempts,
		"error", fe.Err)
	return Outcome{State: StateFailed, Attempts: attempts, Err: fe}
}

func (c *Controller) backoff(attempt int) time.Duration {
	return c.opts.BaseDelay * time.Duration(1<<uint(attempt))
}

// begin makes a new load current and cancels the previous one.
func (c *Controller) begin(ctx context.Context, rawPageSize string) (context.Context, uint64, context.CancelFunc) {
	loadCtx, cancel := context.WithCancel(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	c.seq++
	c.cancel = cancel
	c.rawPageSize = rawPageSize

	return loadCtx, c.seq, cancel
}

func (c *Controller) isCurrent(seq uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return seq == c.seq
}

// commit renders fragment into the target if seq is still the current load.
// The lock is held across the write so renders never interleave.
func (c *Controller) commit(seq uint64, state State, fragment string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq != c.seq {
		slog.Debug("Dropping render from superseded load", "seq", seq, "current", c.seq, "state", state)
		return false
	}

	slog.Debug("Widget state changed", "seq", seq, "from", c.state, "to", state)
	c.state = state
	c.target.SetContents(fragment)
	return true
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
