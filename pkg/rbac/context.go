package rbac

import (
	"context"
	"fmt"
	"time"

	"github.com/platinummonkey/clinicauth/pkg/contextkeys"
)

// State is the lifecycle state of a session's authorization context
type State int

const (
	StateUnauthenticated State = iota
	StateLoading
	StateReady
	StateReadyNoRole
	StateError
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateReadyNoRole:
		return "ready_no_role"
	case StateError:
		return "error"
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// AuthorizationContext is the immutable per-session snapshot the evaluator
// reads. Nothing mutates a context after construction; a refresh builds and
// swaps in a new one.
type AuthorizationContext struct {
	Principal   *Principal
	Profile     *UserProfile
	Role        *Role
	Permissions PermissionSet
	State       State
	LoadedAt    time.Time
	Err         error
}

// newContext copies profile and role so later writes by the caller cannot
// reach into the snapshot
func newContext(state State, principal *Principal, profile *UserProfile, role *Role, err error) *AuthorizationContext {
	ac := &AuthorizationContext{State: state, Err: err, LoadedAt: time.Now().UTC()}
	if principal != nil {
		p := *principal
		ac.Principal = &p
	}
	if profile != nil {
		u := *profile
		if profile.RoleID != nil {
			id := *profile.RoleID
			u.RoleID = &id
		}
		ac.Profile = &u
	}
	if role != nil {
		r := *role
		ac.Role = &r
		ac.Permissions = role.Permissions
	}
	return ac
}

// NewAuthorizationContext builds a context directly from loaded rows. The
// state is Ready when a role is present and ReadyNoRole otherwise.
func NewAuthorizationContext(principal Principal, profile *UserProfile, role *Role) *AuthorizationContext {
	state := StateReady
	if role == nil {
		state = StateReadyNoRole
	}
	return newContext(state, &principal, profile, role, nil)
}

// PrincipalID returns the principal id or "" when unauthenticated
func (ac *AuthorizationContext) PrincipalID() string {
	if ac == nil || ac.Principal == nil {
		return ""
	}
	return ac.Principal.ID
}

// RoleKind classifies the bound role, RoleKindCustom when none
func (ac *AuthorizationContext) RoleKind() RoleKind {
	if ac == nil {
		return RoleKindCustom
	}
	return ac.Role.Kind()
}

// Loading reports whether a decision would be premature. A nil context is
// not loading; it has no session and is denied.
func (ac *AuthorizationContext) Loading() bool {
	return ac != nil && ac.State == StateLoading
}

// ContextFromRequest returns the authorization context stored by the session
// middleware, or nil
func ContextFromRequest(ctx context.Context) *AuthorizationContext {
	ac, _ := ctx.Value(contextkeys.AuthzContextKey).(*AuthorizationContext)
	return ac
}

// WithContext stores the authorization context on ctx
func WithContext(ctx context.Context, ac *AuthorizationContext) context.Context {
	return contextkeys.WithAuthzContext(ctx, ac)
}
