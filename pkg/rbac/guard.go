package rbac

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Outcome is a guard's verdict
type Outcome int

const (
	// OutcomePending means the context is still loading. It is distinct from
	// Denied so callers do not flash content or errors before the load ends.
	OutcomePending Outcome = iota
	OutcomeAllowed
	OutcomeDenied
)

func (o Outcome) String() string {
	switch o {
	case OutcomePending:
		return "pending"
	case OutcomeAllowed:
		return "allowed"
	case OutcomeDenied:
		return "denied"
	}
	return fmt.Sprintf("Outcome(%d)", int(o))
}

// DenyMode selects what a guard does on denial
type DenyMode int

const (
	// DenyHide renders nothing and skips the payload silently
	DenyHide DenyMode = iota
	// DenyExplain shows an explicit "Access Denied" explanation
	DenyExplain
)

// DefaultDeniedMessage is the explanation shown in DenyExplain mode
const DefaultDeniedMessage = "Access Denied"

// GuardOption configures a Guard or RoleGuard
type GuardOption func(*guardCore)

// Explain switches the guard to DenyExplain with an optional custom message
func Explain(message string) GuardOption {
	return func(g *guardCore) {
		g.mode = DenyExplain
		if message != "" {
			g.message = message
		}
	}
}

type guardCore struct {
	mode    DenyMode
	message string
	decide  func(ac *AuthorizationContext) Outcome
	// notify is called on denial in explain mode
	notify func(ctx context.Context, ac *AuthorizationContext)
}

func newGuardCore(opts []GuardOption) guardCore {
	g := guardCore{mode: DenyHide, message: DefaultDeniedMessage}
	for _, opt := range opts {
		opt(&g)
	}
	return g
}

// Guard gates a payload on one catalog permission. It holds no permission
// logic of its own; every decision comes from the Evaluator.
type Guard struct {
	guardCore
	Permission Permission
}

// NewGuard declares a permission guard. Guards are declared at startup, so an
// unknown permission panics rather than failing at evaluation time.
func NewGuard(e *Evaluator, perm Permission, opts ...GuardOption) *Guard {
	if !perm.IsKnown() {
		panic(fmt.Sprintf("rbac.NewGuard: %v: %s", ErrUnknownPermission, perm))
	}
	g := &Guard{guardCore: newGuardCore(opts), Permission: perm}
	g.decide = func(ac *AuthorizationContext) Outcome {
		if ac.Loading() {
			return OutcomePending
		}
		if e.HasPermission(ac, perm.Resource, perm.Action) {
			return OutcomeAllowed
		}
		return OutcomeDenied
	}
	g.notify = func(ctx context.Context, ac *AuthorizationContext) {
		e.notifyDenied(ctx, ac, perm, Evaluate(ac, perm).Reason)
	}
	return g
}

// RoleGuard gates a payload on holding one of a set of roles
type RoleGuard struct {
	guardCore
	Roles []RoleKind
}

// NewRoleGuard declares a role guard
func NewRoleGuard(e *Evaluator, roles []RoleKind, opts ...GuardOption) *RoleGuard {
	g := &RoleGuard{guardCore: newGuardCore(opts), Roles: append([]RoleKind(nil), roles...)}
	g.decide = func(ac *AuthorizationContext) Outcome {
		if ac.Loading() {
			return OutcomePending
		}
		if e.HasRole(ac, g.Roles...) {
			return OutcomeAllowed
		}
		return OutcomeDenied
	}
	return g
}

// Mode returns the deny mode
func (g *guardCore) Mode() DenyMode { return g.mode }

// Message returns the explanation used in explain mode
func (g *guardCore) Message() string { return g.message }

// Decide returns the guard's verdict for ac
func (g *guardCore) Decide(ac *AuthorizationContext) Outcome {
	return g.decide(ac)
}

// Render returns content when allowed. When denied it returns "" in hide mode
// and the explanation in explain mode; while pending it returns "".
func (g *guardCore) Render(ctx context.Context, ac *AuthorizationContext, content func() string) (string, Outcome) {
	switch o := g.decide(ac); o {
	case OutcomeAllowed:
		return content(), o
	case OutcomeDenied:
		if g.mode == DenyExplain {
			g.onDenied(ctx, ac)
			return g.message, o
		}
		return "", o
	default:
		return "", o
	}
}

// Execute runs fn only when allowed. Denied and pending payloads are skipped
// without error; the outcome tells the caller which happened.
func (g *guardCore) Execute(ctx context.Context, ac *AuthorizationContext, fn func(context.Context) error) (Outcome, error) {
	o := g.decide(ac)
	switch o {
	case OutcomeAllowed:
		return o, fn(ctx)
	case OutcomeDenied:
		if g.mode == DenyExplain {
			g.onDenied(ctx, ac)
		}
	}
	return o, nil
}

func (g *guardCore) onDenied(ctx context.Context, ac *AuthorizationContext) {
	if g.notify != nil {
		g.notify(ctx, ac)
	}
}

// Middleware guards an HTTP handler using the context stored on the request.
// Pending is 503 with Retry-After. Denied is 404 in hide mode and 403 with
// the explanation in explain mode.
func (g *guardCore) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ac := ContextFromRequest(r.Context())
		switch g.decide(ac) {
		case OutcomeAllowed:
			next.ServeHTTP(w, r)
		case OutcomePending:
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusServiceUnavailable, "authorization context is loading")
		default:
			if g.mode == DenyExplain {
				g.onDenied(r.Context(), ac)
				writeJSONError(w, http.StatusForbidden, g.message)
				return
			}
			http.NotFound(w, r)
		}
	})
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
