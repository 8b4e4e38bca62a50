package rbac

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// DefaultLoadTimeout bounds a context load when no timeout is configured
const DefaultLoadTimeout = 10 * time.Second

// ContextSource loads the rows an authorization context is built from.
// *Store implements it.
type ContextSource interface {
	GetUserProfile(ctx context.Context, principalID string) (*UserProfile, error)
	GetRole(ctx context.Context, roleID string) (*Role, error)
}

// Provider owns one session's authorization context.
//
// Unauthenticated -> Loading -> Ready | ReadyNoRole | Error, and back to
// Unauthenticated on logout or when a different principal is established.
//
// The permission set is loaded once. Role or grant edits made elsewhere do
// not reach a loaded session until Refresh or the next Establish.
type Provider struct {
	source  ContextSource
	timeout time.Duration
	metrics *observability.Metrics
	logger  *observability.Logger
	tracer  trace.Tracer

	mu         sync.Mutex
	generation uint64
	current    atomic.Pointer[AuthorizationContext]
	loads      singleflight.Group
}

// ProviderOption configures a Provider
type ProviderOption func(*Provider)

// WithLoadTimeout bounds each context load; a load that runs out of time ends in Error
func WithLoadTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) { p.timeout = d }
}

// WithProviderMetrics records load outcomes
func WithProviderMetrics(m *observability.Metrics) ProviderOption {
	return func(p *Provider) { p.metrics = m }
}

// WithProviderLogger sets the provider logger
func WithProviderLogger(l *observability.Logger) ProviderOption {
	return func(p *Provider) { p.logger = l }
}

// WithTracer overrides the tracer used for the load span
func WithTracer(t trace.Tracer) ProviderOption {
	return func(p *Provider) { p.tracer = t }
}

// NewProvider creates an unauthenticated provider
func NewProvider(source ContextSource, opts ...ProviderOption) *Provider {
	p := &Provider{
		source:  source,
		timeout: DefaultLoadTimeout,
		logger:  observability.NopLogger(),
		tracer:  observability.Tracer(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.current.Store(newContext(StateUnauthenticated, nil, nil, nil, nil))
	return p
}

// Context returns the current snapshot. It is never nil.
func (p *Provider) Context() *AuthorizationContext {
	return p.current.Load()
}

// State returns the current lifecycle state
func (p *Provider) State() State {
	return p.Context().State
}

// Establish binds a principal and loads its context. Any previous context is
// discarded first, so guards see Loading until the load finishes. A load
// failure leaves the provider in Error and is returned.
func (p *Provider) Establish(ctx context.Context, principal Principal) (*AuthorizationContext, error) {
	principal.ID = strings.TrimSpace(principal.ID)
	if principal.ID == "" {
		return nil, fmt.Errorf("%w: principal id is required", ErrValidation)
	}

	p.mu.Lock()
	p.generation++
	gen := p.generation
	p.current.Store(newContext(StateLoading, &principal, nil, nil, nil))
	p.mu.Unlock()

	return p.load(ctx, principal, gen)
}

// Refresh reloads the context for the established principal. The previous
// snapshot keeps serving decisions until the new one is swapped in, and
// concurrent refreshes share one load.
func (p *Provider) Refresh(ctx context.Context) (*AuthorizationContext, error) {
	p.mu.Lock()
	cur := p.current.Load()
	gen := p.generation
	p.mu.Unlock()

	if cur.Principal == nil {
		return nil, ErrNoSession
	}
	return p.load(ctx, *cur.Principal, gen)
}

// RefreshIfPrincipal refreshes only when principalID is the established
// principal. It reports whether a refresh ran.
func (p *Provider) RefreshIfPrincipal(ctx context.Context, principalID string) (bool, error) {
	if p.Context().PrincipalID() != principalID || principalID == "" {
		return false, nil
	}
	_, err := p.Refresh(ctx)
	return true, err
}

// Logout discards the context. Loads still in flight are dropped when they finish.
func (p *Provider) Logout() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.generation++
	p.current.Store(newContext(StateUnauthenticated, nil, nil, nil, nil))
}

type loadResult struct {
	ac        *AuthorizationContext
	committed bool
}

func (p *Provider) load(ctx context.Context, principal Principal, gen uint64) (*AuthorizationContext, error) {
	key := fmt.Sprintf("%s/%d", principal.ID, gen)
	v, _, _ := p.loads.Do(key, func() (interface{}, error) {
		ac := p.fetch(ctx, principal)
		return loadResult{ac: ac, committed: p.commit(gen, ac)}, nil
	})

	res := v.(loadResult)
	if !res.committed {
		return p.Context(), fmt.Errorf("%w: session changed while loading", ErrNoSession)
	}
	if res.ac.State == StateError {
		return res.ac, res.ac.Err
	}
	return res.ac, nil
}

func (p *Provider) commit(gen uint64, ac *AuthorizationContext) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.generation != gen {
		return false
	}
	p.current.Store(ac)
	return true
}

func (p *Provider) fetch(ctx context.Context, principal Principal) *AuthorizationContext {
	start := time.Now()
	ctx, span := p.tracer.Start(ctx, "rbac.Provider.load",
		trace.WithAttributes(attribute.String("rbac.principal_id", principal.ID)))
	defer span.End()

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	// The source may not honour ctx; the select keeps a stalled load from hanging.
	done := make(chan *AuthorizationContext, 1)
	go func() { done <- p.resolve(ctx, principal) }()

	var ac *AuthorizationContext
	select {
	case ac = <-done:
	case <-ctx.Done():
		ac = newContext(StateError, &principal, nil, nil, fmt.Errorf("load authorization context: %w", ctx.Err()))
	}

	span.SetAttributes(attribute.String("rbac.state", ac.State.String()))
	if ac.Err != nil {
		span.RecordError(ac.Err)
		span.SetStatus(codes.Error, ac.Err.Error())
	}
	p.metrics.RecordContextLoad(ac.State.String(), time.Since(start))

	log := p.logger.WithFields(map[string]interface{}{
		"principal_id": principal.ID,
		"state":        ac.State.String(),
	})
	if ac.Err != nil {
		log.WithError(ac.Err).Warn("authorization context load failed, denying all")
	} else {
		log.Debug("authorization context loaded")
	}
	return ac
}

func (p *Provider) resolve(ctx context.Context, principal Principal) *AuthorizationContext {
	profile, err := p.source.GetUserProfile(ctx, principal.ID)
	switch {
	case errors.Is(err, ErrNotFound):
		return newContext(StateReadyNoRole, &principal, nil, nil, nil)
	case err != nil:
		return newContext(StateError, &principal, nil, nil, fmt.Errorf("load user profile: %w", err))
	}

	if profile.RoleID == nil {
		return newContext(StateReadyNoRole, &principal, profile, nil, nil)
	}

	role, err := p.source.GetRole(ctx, *profile.RoleID)
	switch {
	case errors.Is(err, ErrNotFound):
		return newContext(StateReadyNoRole, &principal, profile, nil, nil)
	case err != nil:
		return newContext(StateError, &principal, profile, nil, fmt.Errorf("load role: %w", err))
	}

	return newContext(StateReady, &principal, profile, role, nil)
}
