package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/cache"
)

const (
	DefaultMaxAge  = 12 * time.Hour
	lastRefreshKey = "auth:last_refresh"
)

var ErrEmptyToken = errors.New("probe response carried no token")

// Prober mints a fresh token from an endpoint unrelated to the data feed.
type Prober interface {
	ProbeToken(ctx context.Context, token string) (string, error)
}

type Credential struct {
	Token    string
	IssuedAt time.Time
}

// TokenManager owns the current token and the time it was last refreshed.
// The refresh time is persisted in store so freshness survives restarts.
type TokenManager struct {
	prober Prober
	store  cache.Store
	maxAge time.Duration
	now    func() time.Time

	mu    sync.RWMutex
	token string
	group singleflight.Group
}

func NewTokenManager(initialToken string, prober Prober, store cache.Store, maxAge time.Duration) *TokenManager {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &TokenManager{
		prober: prober,
		store:  store,
		maxAge: maxAge,
		now:    time.Now,
		token:  initialToken,
	}
}

// WithClock replaces the time source. Used by tests.
func (m *TokenManager) WithClock(now func() time.Time) *TokenManager {
	m.now = now
	return m
}

func (m *TokenManager) Token() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

// IsStale reports whether the last refresh is older than maxAge. A refresh
// that was never recorded counts as fresh.
func (m *TokenManager) IsStale(ctx context.Context) bool {
	last, ok := m.lastRefresh(ctx)
	if !ok {
		return false
	}
	return m.now().Sub(last) > m.maxAge
}

// Refresh probes for a new token and records the refresh time. Concurrent
// callers share a single probe.
func (m *TokenManager) Refresh(ctx context.Context) (Credential, error) {
	v, err, shared := m.group.Do("refresh", func() (any, error) {
		return m.refresh(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	if shared {
		slog.Debug("Joined in-flight token refresh")
	}
	return v.(Credential), nil
}

// CurrentToken returns the best available token, refreshing first when the
// current one is stale. A failed refresh falls back to the current token.
func (m *TokenManager) CurrentToken(ctx context.Context) string {
	if !m.IsStale(ctx) {
		return m.Token()
	}

	cred, err := m.Refresh(ctx)
	if err != nil {
		slog.Warn("Proactive token refresh failed, using current token", "error", err)
		return m.Token()
	}
	return cred.Token
}

func (m *TokenManager) refresh(ctx context.Context) (Credential, error) {
	token, err := m.prober.ProbeToken(ctx, m.Token())
	if err != nil {
		return Credential{}, fmt.Errorf("token probe failed: %w", err)
	}

	token = strings.TrimSpace(token)
	if token == "" {
		return Credential{}, ErrEmptyToken
	}

	cred := Credential{Token: token, IssuedAt: m.now().UTC()}

	m.mu.Lock()
	m.token = cred.Token
	m.mu.Unlock()

	if err := m.store.Set(ctx, lastRefreshKey, []byte(cred.IssuedAt.Format(time.RFC3339))); err != nil {
		slog.Warn("Failed to record token refresh time", "error", err)
	}

	slog.Debug("Token refreshed", "issued_at", cred.IssuedAt)
	return cred, nil
}

func (m *TokenManager) lastRefresh(ctx context.Context) (time.Time, bool) {
	data, found, err := m.store.Get(ctx, lastRefreshKey)
	if err != nil {
		slog.Warn("Failed to read token refresh time", "error", err)
		return time.Time{}, false
	}
	if !found {
		return time.Time{}, false
	}

	last, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		slog.Debug("Discarding unreadable token refresh time", "value", string(data))
		if err := m.store.Delete(ctx, lastRefreshKey); err != nil {
			slog.Warn("Failed to delete token refresh time", "error", err)
		}
		return time.Time{}, false
	}
	return last, true
}
