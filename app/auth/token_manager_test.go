package auth

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kissplugins/KISS-Blog-Posts-Sidebar/app/cache"
)

type fakeProber struct {
	calls  atomic.Int32
	token  string
	err    error
	gate   chan struct{}
	seenMu sync.Mutex
	seen   []string
}

func (p *fakeProber) ProbeToken(ctx context.Context, token string) (string, error) {
	p.calls.Add(1)
	p.seenMu.Lock()
	p.seen = append(p.seen, token)
	p.seenMu.Unlock()
	if p.gate != nil {
		<-p.gate
	}
	return p.token, p.err
}

func TestIsStaleNeverRecorded(t *testing.T) {
	m := NewTokenManager("initial", &fakeProber{}, cache.NewMemoryStore(), DefaultMaxAge)

	if m.IsStale(context.Background()) {
		t.Error("Expected never-refreshed token to count as fresh")
	}
}

func TestIsStaleAfterMaxAge(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 8, 9, 8, 0, 0, 0, time.UTC)
	now := t0
	prober := &fakeProber{token: "fresh"}
	m := NewTokenManager("initial", prober, cache.NewMemoryStore(), DefaultMaxAge).
		WithClock(func() time.Time { return now })

	if _, err := m.Refresh(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	now = t0.Add(11 * time.Hour)
	if m.IsStale(ctx) {
		t.Error("Expected token refreshed 11h ago to be fresh")
	}

	now = t0.Add(12*time.Hour + time.Second)
	if !m.IsStale(ctx) {
		t.Error("Expected token refreshed over 12h ago to be stale")
	}
}

func TestRefreshRecordsToken(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	prober := &fakeProber{token: "  minted  "}
	m := NewTokenManager("initial", prober, store, DefaultMaxAge)

	cred, err := m.Refresh(ctx)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if cred.Token != "minted" {
		t.Errorf("Expected token 'minted', got %q", cred.Token)
	}
	if m.Token() != "minted" {
		t.Errorf("Expected manager to hold new token, got %q", m.Token())
	}
	if prober.seen[0] != "initial" {
		t.Errorf("Expected probe to carry the previous token, got %q", prober.seen[0])
	}
	if _, found, _ := store.Get(ctx, lastRefreshKey); !found {
		t.Error("Expected refresh time to be persisted")
	}
}

func TestRefreshFailureKeepsToken(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()

	for name, prober := range map[string]*fakeProber{
		"probe error": {err: errors.New("connection refused")},
		"empty token": {token: ""},
	} {
		t.Run(name, func(t *testing.T) {
			m := NewTokenManager("initial", prober, store, DefaultMaxAge)
			if _, err := m.Refresh(ctx); err == nil {
				t.Fatal("Expected refresh to fail")
			}
			if m.Token() != "initial" {
				t.Errorf("Expected token to stay 'initial', got %q", m.Token())
			}
			if _, found, _ := store.Get(ctx, lastRefreshKey); found {
				t.Error("Expected no refresh time after failure")
			}
		})
	}
}

func TestCurrentTokenRefreshesWhenStale(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 8, 9, 8, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore()
	store.Set(ctx, lastRefreshKey, []byte(t0.Format(time.RFC3339)))

	prober := &fakeProber{token: "fresh"}
	m := NewTokenManager("old", prober, store, DefaultMaxAge).
		WithClock(func() time.Time { return t0.Add(13 * time.Hour) })

	if got := m.CurrentToken(ctx); got != "fresh" {
		t.Errorf("Expected refreshed token, got %q", got)
	}
	if prober.calls.Load() != 1 {
		t.Errorf("Expected 1 probe, got %d", prober.calls.Load())
	}
}

func TestCurrentTokenFallsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2025, 8, 9, 8, 0, 0, 0, time.UTC)
	store := cache.NewMemoryStore()
	store.Set(ctx, lastRefreshKey, []byte(t0.Format(time.RFC3339)))

	m := NewTokenManager("old", &fakeProber{err: errors.New("down")}, store, DefaultMaxAge).
		WithClock(func() time.Time { return t0.Add(13 * time.Hour) })

	if got := m.CurrentToken(ctx); got != "old" {
		t.Errorf("Expected fallback to current token, got %q", got)
	}
}

func TestCurrentTokenFreshSkipsProbe(t *testing.T) {
	prober := &fakeProber{token: "fresh"}
	m := NewTokenManager("initial", prober, cache.NewMemoryStore(), DefaultMaxAge)

	if got := m.CurrentToken(context.Background()); got != "initial" {
		t.Errorf("Expected initial token, got %q", got)
	}
	if prober.calls.Load() != 0 {
		t.Errorf("Expected no probe, got %d", prober.calls.Load())
	}
}

func TestUnreadableRefreshTimeIsDiscarded(t *testing.T) {
	ctx := context.Background()
	store := cache.NewMemoryStore()
	store.Set(ctx, lastRefreshKey, []byte("last tuesday"))

	m := NewTokenManager("initial", &fakeProber{}, store, DefaultMaxAge)
	if m.IsStale(ctx) {
		t.Error("Expected unreadable refresh time to count as fresh")
	}
	if store.Len() != 0 {
		t.Error("Expected unreadable refresh time to be deleted")
	}
}

func TestConcurrentRefreshesShareOneProbe(t *testing.T) {
	ctx := context.Background()
	prober := &fakeProber{token: "fresh", gate: make(chan struct{})}
	m := NewTokenManager("initial", prober, cache.NewMemoryStore(), DefaultMaxAge)

	var wg sync.WaitGroup
	results := make([]string, 5)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cred, err := m.Refresh(ctx)
			if err == nil {
				results[i] = cred.Token
			}
		}(i)
	}

	// Let every goroutine reach the single flight before releasing the probe.
	for prober.calls.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(prober.gate)
	wg.Wait()

	if prober.calls.Load() != 1 {
		t.Errorf("Expected 1 probe, got %d", prober.calls.Load())
	}
	for i, token := range results {
		if token != "fresh" {
			t.Errorf("Expected goroutine %d to get 'fresh', got %q", i, token)
		}
	}
}
