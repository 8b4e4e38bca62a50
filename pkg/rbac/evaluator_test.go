package rbac

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/clinicauth/pkg/contextkeys"
	"github.com/platinummonkey/clinicauth/pkg/notify"
	"github.com/platinummonkey/clinicauth/pkg/observability"
)

type recordingNotifier struct {
	mu      sync.Mutex
	denials []notify.Denial
	err     error
}

func (r *recordingNotifier) Name() string { return "recording" }

func (r *recordingNotifier) NotifyDenied(_ context.Context, d notify.Denial) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.denials = append(r.denials, d)
	return r.err
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.denials)
}

func TestEvaluate_AbsentPermissionDenied(t *testing.T) {
	granted := MustPermission(ResourcePatients, ActionRead)
	ac := readyContext(true, true, granted)

	for _, p := range Catalog() {
		d := Evaluate(ac, p)
		if p == granted {
			assert.True(t, d.Allowed)
			assert.Equal(t, ReasonGranted, d.Reason)
			continue
		}
		assert.False(t, d.Allowed, p.String())
		assert.Equal(t, ReasonNotGranted, d.Reason)
	}
}

func TestEvaluate_InactiveRoleDeniesEverything(t *testing.T) {
	ac := readyContext(true, false, Catalog()...)
	for _, p := range Catalog() {
		d := Evaluate(ac, p)
		assert.False(t, d.Allowed, p.String())
		assert.Equal(t, ReasonInactiveRole, d.Reason)
	}
}

func TestEvaluate_InactiveProfileDeniesEverything(t *testing.T) {
	ac := readyContext(false, true, Catalog()...)
	for _, p := range Catalog() {
		d := Evaluate(ac, p)
		assert.False(t, d.Allowed, p.String())
		assert.Equal(t, ReasonInactiveProfile, d.Reason)
	}
}

func TestEvaluate_NoRoleDeniesEverything(t *testing.T) {
	ac := NewAuthorizationContext(Principal{ID: "u1"}, &UserProfile{ID: "u1", IsActive: true}, nil)
	assert.Equal(t, StateReadyNoRole, ac.State)
	for _, p := range Catalog() {
		d := Evaluate(ac, p)
		assert.False(t, d.Allowed)
		assert.Equal(t, ReasonNoRole, d.Reason)
	}
}

func TestEvaluate_MissingData(t *testing.T) {
	perm := MustPermission(ResourcePatients, ActionRead)

	assert.Equal(t, ReasonNotReady, Evaluate(nil, perm).Reason)
	assert.Equal(t, ReasonNotReady, Evaluate(&AuthorizationContext{State: StateLoading}, perm).Reason)
	assert.Equal(t, ReasonNotReady, Evaluate(&AuthorizationContext{State: StateUnauthenticated}, perm).Reason)
	assert.Equal(t, ReasonLoadFailed, Evaluate(&AuthorizationContext{State: StateError, Err: errors.New("boom")}, perm).Reason)
	assert.Equal(t, ReasonNoPrincipal, Evaluate(&AuthorizationContext{State: StateReady}, perm).Reason)

	noProfile := NewAuthorizationContext(Principal{ID: "u1"}, nil, nil)
	assert.Equal(t, ReasonNoProfile, Evaluate(noProfile, perm).Reason)
}

func TestEvaluate_Idempotent(t *testing.T) {
	ac := readyContext(true, true, MustPermission(ResourceTests, ActionUpdate))
	for _, p := range Catalog() {
		assert.Equal(t, Evaluate(ac, p), Evaluate(ac, p))
	}
}

func TestEvaluate_ScenarioReceptionistReadOnly(t *testing.T) {
	ac := readyContext(true, true, MustPermission(ResourcePatients, ActionRead))
	assert.False(t, HasPermission(ac, ResourcePatients, ActionUpdate))
	assert.True(t, HasPermission(ac, ResourcePatients, ActionRead))
}

func TestEvaluate_ScenarioInactiveAdmin(t *testing.T) {
	var admin RoleDefinition
	for _, d := range BuiltInRoles() {
		if d.Name == RoleAdmin {
			admin = d
		}
	}
	roleID := "admin-id"
	ac := NewAuthorizationContext(
		Principal{ID: "admin-user"},
		&UserProfile{ID: "admin-user", RoleID: &roleID, IsActive: false},
		&Role{ID: roleID, Name: RoleAdmin, Permissions: admin.Permissions, IsActive: true},
	)
	assert.False(t, HasPermission(ac, ResourceUsers, ActionDelete))
}

func TestHasRole(t *testing.T) {
	roleID := "r1"
	profile := &UserProfile{ID: "u1", RoleID: &roleID, IsActive: true}
	ac := NewAuthorizationContext(Principal{ID: "u1"}, profile, &Role{ID: roleID, Name: RoleDoctor, IsActive: true})

	assert.True(t, HasRole(ac, RoleKindDoctor))
	assert.True(t, HasRole(ac, RoleKindAdmin, RoleKindDoctor))
	assert.False(t, HasRole(ac, RoleKindAdmin))
	assert.False(t, HasRole(ac))
	assert.False(t, HasRole(nil, RoleKindDoctor))

	inactive := NewAuthorizationContext(Principal{ID: "u1"}, profile, &Role{ID: roleID, Name: RoleDoctor, IsActive: false})
	assert.False(t, HasRole(inactive, RoleKindDoctor))

	custom := NewAuthorizationContext(Principal{ID: "u1"}, profile, &Role{ID: roleID, Name: "billing", IsActive: true})
	assert.True(t, HasRole(custom, RoleKindCustom))
}

func TestEvaluator_RecordsDecisions(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	e := NewEvaluator(WithEvaluatorMetrics(metrics))
	ac := readyContext(true, true, MustPermission(ResourcePatients, ActionRead))

	assert.True(t, e.HasPermission(ac, ResourcePatients, ActionRead))
	assert.False(t, e.HasPermission(ac, ResourcePatients, ActionDelete))

	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("patients", "read", "allowed")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.AuthzDecisionsTotal.WithLabelValues("patients", "delete", "denied")))
}

func TestEvaluator_CheckPermissionNotifiesOnDenial(t *testing.T) {
	n := &recordingNotifier{}
	e := NewEvaluator(WithNotifier(n))
	ac := readyContext(true, true, MustPermission(ResourcePatients, ActionRead))

	ctx := contextkeys.WithSessionID(context.Background(), "sess-1")
	assert.True(t, e.CheckPermission(ctx, ac, ResourcePatients, ActionRead))
	assert.Equal(t, 0, n.count())

	assert.False(t, e.CheckPermission(ctx, ac, ResourcePatients, ActionUpdate))
	require.Equal(t, 1, n.count())

	d := n.denials[0]
	assert.Equal(t, "user-1", d.PrincipalID)
	assert.Equal(t, "sess-1", d.SessionID)
	assert.Equal(t, "patients", d.Resource)
	assert.Equal(t, "update", d.Action)
	assert.Equal(t, ReasonNotGranted, d.Reason)
	assert.Equal(t, notify.DefaultMessage("patients", "update"), d.Message)

	// HasPermission stays silent
	assert.False(t, e.HasPermission(ac, ResourcePatients, ActionUpdate))
	assert.Equal(t, 1, n.count())
}

func TestEvaluator_NotificationFailureKeepsDecision(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	n := &recordingNotifier{err: errors.New("redis down")}
	e := NewEvaluator(WithNotifier(n), WithEvaluatorMetrics(metrics))

	assert.False(t, e.CheckPermission(context.Background(), nil, ResourceUsers, ActionDelete))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.NotificationsTotal.WithLabelValues("recording", "failure")))
}

func TestEvaluate_ConcurrentReaders(t *testing.T) {
	ac := readyContext(true, true, Catalog()...)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for _, p := range Catalog() {
				assert.True(t, HasPermission(ac, p.Resource, p.Action))
			}
		}()
	}
	wg.Wait()
}
