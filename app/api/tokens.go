package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

const DefaultTokenTTL = 12 * time.Hour

// TokenStore mints request tokens and remembers them until they expire.
type TokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	now    func() time.Time
	tokens map[string]time.Time // token -> expiry
}

func NewTokenStore(ttl time.Duration) *TokenStore {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenStore{
		ttl:    ttl,
		now:    time.Now,
		tokens: make(map[string]time.Time),
	}
}

func (s *TokenStore) Mint() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for token, expiry := range s.tokens {
		if !now.Before(expiry) {
			delete(s.tokens, token)
		}
	}

	token := uuid.NewString()
	expiry := now.Add(s.ttl)
	s.tokens[token] = expiry
	return token, expiry
}

func (s *TokenStore) Valid(token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	expiry, ok := s.tokens[token]
	if !ok {
		return false
	}
	if !s.now().Before(expiry) {
		delete(s.tokens, token)
		return false
	}
	return true
}

func (s *TokenStore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tokens)
}
