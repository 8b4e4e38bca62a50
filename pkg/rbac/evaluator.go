package rbac

import (
	"context"
	"time"

	"github.com/platinummonkey/clinicauth/pkg/contextkeys"
	"github.com/platinummonkey/clinicauth/pkg/notify"
	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// Decision reasons
const (
	ReasonGranted         = "granted"
	ReasonNotReady        = "authorization context not ready"
	ReasonLoadFailed      = "authorization context failed to load"
	ReasonNoPrincipal     = "no principal"
	ReasonNoProfile       = "no user profile"
	ReasonInactiveProfile = "user profile inactive"
	ReasonNoRole          = "no role bound"
	ReasonInactiveRole    = "role inactive"
	ReasonNotGranted      = "permission not granted"
)

// Decision is the outcome of one evaluation
type Decision struct {
	Allowed bool
	Reason  string
}

// Evaluate is the decision function. It is deny-by-default and a flat
// set-membership test: there is no inheritance, hierarchy, wildcard or bypass.
// Missing data is a denial, never an error.
func Evaluate(ac *AuthorizationContext, perm Permission) Decision {
	switch {
	case ac == nil || ac.State == StateLoading || ac.State == StateUnauthenticated:
		return Decision{Reason: ReasonNotReady}
	case ac.State == StateError:
		return Decision{Reason: ReasonLoadFailed}
	case ac.Principal == nil:
		return Decision{Reason: ReasonNoPrincipal}
	case ac.Profile == nil:
		return Decision{Reason: ReasonNoProfile}
	case !ac.Profile.IsActive:
		return Decision{Reason: ReasonInactiveProfile}
	case ac.Role == nil:
		return Decision{Reason: ReasonNoRole}
	case !ac.Role.IsActive:
		return Decision{Reason: ReasonInactiveRole}
	case !ac.Permissions.Has(perm):
		return Decision{Reason: ReasonNotGranted}
	}
	return Decision{Allowed: true, Reason: ReasonGranted}
}

// HasPermission reports whether the context grants (resource, action)
func HasPermission(ac *AuthorizationContext, res Resource, act Action) bool {
	return Evaluate(ac, Permission{Resource: res, Action: act}).Allowed
}

// HasRole reports whether the context holds an active role of one of kinds,
// for an active profile
func HasRole(ac *AuthorizationContext, kinds ...RoleKind) bool {
	if ac == nil || ac.State != StateReady || ac.Principal == nil || ac.Profile == nil || !ac.Profile.IsActive {
		return false
	}
	if ac.Role == nil || !ac.Role.IsActive {
		return false
	}
	kind := ac.Role.Kind()
	for _, k := range kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Evaluator wraps the decision function with metrics and the denial
// notification used at mutation entry points
type Evaluator struct {
	notifier notify.Notifier
	metrics  *observability.Metrics
	logger   *observability.Logger
}

// EvaluatorOption configures an Evaluator
type EvaluatorOption func(*Evaluator)

// WithNotifier sets the sink used by CheckPermission
func WithNotifier(n notify.Notifier) EvaluatorOption {
	return func(e *Evaluator) { e.notifier = n }
}

// WithEvaluatorMetrics records decisions in metrics
func WithEvaluatorMetrics(m *observability.Metrics) EvaluatorOption {
	return func(e *Evaluator) { e.metrics = m }
}

// WithEvaluatorLogger sets the logger used for notification failures
func WithEvaluatorLogger(l *observability.Logger) EvaluatorOption {
	return func(e *Evaluator) { e.logger = l }
}

// NewEvaluator creates an evaluator. Without options it notifies nobody and
// records no metrics.
func NewEvaluator(opts ...EvaluatorOption) *Evaluator {
	e := &Evaluator{
		notifier: notify.Nop{},
		logger:   observability.NopLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Evaluate evaluates and records the decision
func (e *Evaluator) Evaluate(ac *AuthorizationContext, perm Permission) Decision {
	d := Evaluate(ac, perm)
	e.metrics.RecordDecision(string(perm.Resource), string(perm.Action), d.Allowed)
	return d
}

// HasPermission is the silent check used by guards that hide denied content
func (e *Evaluator) HasPermission(ac *AuthorizationContext, res Resource, act Action) bool {
	return e.Evaluate(ac, Permission{Resource: res, Action: act}).Allowed
}

// CheckPermission is HasPermission plus a user-visible denial notification.
// A failed notification is logged and does not change the decision.
func (e *Evaluator) CheckPermission(ctx context.Context, ac *AuthorizationContext, res Resource, act Action) bool {
	perm := Permission{Resource: res, Action: act}
	d := e.Evaluate(ac, perm)
	if d.Allowed {
		return true
	}
	e.notifyDenied(ctx, ac, perm, d.Reason)
	return false
}

func (e *Evaluator) notifyDenied(ctx context.Context, ac *AuthorizationContext, perm Permission, reason string) {
	res, act := perm.Resource, perm.Action
	denial := notify.Denial{
		PrincipalID: ac.PrincipalID(),
		SessionID:   contextkeys.GetSessionID(ctx),
		Resource:    string(res),
		Action:      string(act),
		Reason:      reason,
		Message:     notify.DefaultMessage(string(res), string(act)),
		At:          time.Now().UTC(),
	}
	err := e.notifier.NotifyDenied(ctx, denial)
	e.metrics.RecordNotification(e.notifier.Name(), err)
	if err != nil {
		e.logger.WithError(err).WithField("principal_id", denial.PrincipalID).Warn("failed to deliver denial notification")
	}
}

// HasRole checks role membership without recording a permission decision
func (e *Evaluator) HasRole(ac *AuthorizationContext, kinds ...RoleKind) bool {
	return HasRole(ac, kinds...)
}
