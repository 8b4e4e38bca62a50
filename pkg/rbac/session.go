package rbac

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// SessionConfig bounds the session registry
type SessionConfig struct {
	MaxSessions int           // 0 means unbounded
	IdleTTL     time.Duration // 0 disables idle expiry
	Metrics     *observability.Metrics
}

// DefaultSessionConfig returns registry defaults
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		MaxSessions: 10000,
		IdleTTL:     30 * time.Minute,
	}
}

// Sessions maps opaque session ids to their own Provider. Providers are
// never shared between sessions. A session evicted for size or idleness is
// logged out.
type Sessions struct {
	source  ContextSource
	opts    []ProviderOption
	metrics *observability.Metrics

	mu     sync.Mutex
	cache  *expirable.LRU[string, *Provider]
	active atomic.Int64
}

// NewSessions creates a registry whose providers load from source
func NewSessions(source ContextSource, cfg SessionConfig, opts ...ProviderOption) *Sessions {
	s := &Sessions{source: source, opts: opts, metrics: cfg.Metrics}
	// The callback runs under the cache lock; it must not call back into the cache.
	s.cache = expirable.NewLRU[string, *Provider](cfg.MaxSessions, func(_ string, p *Provider) {
		p.Logout()
		s.metrics.SetSessionsActive(int(s.active.Add(-1)))
	}, cfg.IdleTTL)
	return s
}

// Open establishes principal on sessionID, creating the session if needed.
// An existing session is re-established, discarding its context first. The
// provider is returned even when the load fails, in the Error state.
func (s *Sessions) Open(ctx context.Context, sessionID string, principal Principal) (*Provider, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session id is required", ErrValidation)
	}
	if strings.TrimSpace(principal.ID) == "" {
		return nil, fmt.Errorf("%w: principal id is required", ErrValidation)
	}

	s.mu.Lock()
	p, ok := s.cache.Get(sessionID)
	if !ok {
		// An expired entry may linger until the sweep; drop it so it is logged out.
		s.cache.Remove(sessionID)
		p = NewProvider(s.source, s.opts...)
		s.active.Add(1)
	}
	s.cache.Add(sessionID, p)
	s.metrics.SetSessionsActive(int(s.active.Load()))
	s.mu.Unlock()

	_, err := p.Establish(ctx, principal)
	return p, err
}

// Get returns the session's provider and renews its idle timer
func (s *Sessions) Get(sessionID string) (*Provider, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.cache.Get(sessionID)
	if !ok {
		s.cache.Remove(sessionID)
		return nil, false
	}
	s.cache.Add(sessionID, p)
	return p, true
}

// Close logs the session out and forgets it
func (s *Sessions) Close(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.Remove(sessionID)
}

// Len returns the number of live sessions
func (s *Sessions) Len() int {
	return s.cache.Len()
}

// Purge logs out every session
func (s *Sessions) Purge() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache.Purge()
}
