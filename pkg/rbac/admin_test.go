package rbac

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/clinicauth/pkg/audit"
)

type adminFixture struct {
	store    *Store
	activity *audit.DBStore
	notifier *recordingNotifier
	admin    *Admin
	roles    map[string]*Role
}

func newAdminFixture(t *testing.T) *adminFixture {
	t.Helper()
	db := setupTestDB(t)
	store := NewStore(db)
	activity, err := audit.NewDBStore(db)
	require.NoError(t, err)

	n := &recordingNotifier{}
	f := &adminFixture{
		store:    store,
		activity: activity,
		notifier: n,
		admin:    NewAdmin(store, NewEvaluator(WithNotifier(n)), audit.NewActivityLogger(activity), nil),
		roles:    map[string]*Role{},
	}
	for _, name := range BuiltInRoleNames() {
		f.roles[name] = builtInRole(t, store, name)
	}
	return f
}

// session opens a provider for a new profile holding roleName
func (f *adminFixture) session(t *testing.T, id, roleName string) *Provider {
	t.Helper()
	createProfile(t, f.store, id, f.roles[roleName], true)
	p := NewProvider(f.store)
	_, err := p.Establish(context.Background(), Principal{ID: id})
	require.NoError(t, err)
	return p
}

func (f *adminFixture) entries(t *testing.T) []audit.Entry {
	t.Helper()
	f.admin.Wait()
	entries, err := f.activity.Search(context.Background(), audit.Filter{})
	require.NoError(t, err)
	return entries
}

func TestAdmin_AssignRoleLogsOneEntry(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	admin := f.session(t, "admin-1", RoleAdmin)
	createProfile(t, f.store, "u1", f.roles[RoleReceptionist], true)

	updated, err := f.admin.AssignRole(ctx, admin, "u1", f.roles[RoleDoctor].ID)
	require.NoError(t, err)
	assert.Equal(t, f.roles[RoleDoctor].ID, *updated.RoleID)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, audit.ActionAssignRole, e.Action)
	assert.Equal(t, audit.ResourceUser, e.ResourceType)
	assert.Equal(t, "u1", *e.ResourceID)
	assert.Equal(t, "admin-1", *e.UserID)
	assert.Equal(t, f.roles[RoleDoctor].ID, e.Details["role_id"])
}

func TestAdmin_DeniedWritesNothing(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	receptionist := f.session(t, "desk-1", RoleReceptionist)
	createProfile(t, f.store, "u1", f.roles[RoleTechnician], true)

	_, err := f.admin.AssignRole(ctx, receptionist, "u1", f.roles[RoleAdmin].ID)
	assert.ErrorIs(t, err, ErrPermissionDenied)

	got, err := f.store.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, f.roles[RoleTechnician].ID, *got.RoleID)
	assert.Empty(t, f.entries(t))

	require.Equal(t, 1, f.notifier.count())
	assert.Equal(t, "users", f.notifier.denials[0].Resource)
	assert.Equal(t, "update", f.notifier.denials[0].Action)
}

func TestAdmin_NoSessionDenied(t *testing.T) {
	f := newAdminFixture(t)
	createProfile(t, f.store, "u1", nil, true)

	_, err := f.admin.DeactivateUser(context.Background(), nil, "u1")
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Empty(t, f.entries(t))
}

func TestAdmin_SelfChangeRefreshesSession(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	admin := f.session(t, "admin-1", RoleAdmin)
	require.True(t, HasPermission(admin.Context(), ResourceUsers, ActionUpdate))

	_, err := f.admin.AssignRole(ctx, admin, "admin-1", f.roles[RoleReceptionist].ID)
	require.NoError(t, err)

	assert.Equal(t, RoleKindReceptionist, admin.Context().RoleKind())
	assert.False(t, HasPermission(admin.Context(), ResourceUsers, ActionUpdate))
}

func TestAdmin_OtherUsersSessionStaysStale(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	admin := f.session(t, "admin-1", RoleAdmin)
	doctor := f.session(t, "doc-1", RoleDoctor)

	_, err := f.admin.DeactivateUser(ctx, admin, "doc-1")
	require.NoError(t, err)

	assert.True(t, HasPermission(doctor.Context(), ResourcePatients, ActionRead))
	_, err = doctor.Refresh(ctx)
	require.NoError(t, err)
	assert.False(t, HasPermission(doctor.Context(), ResourcePatients, ActionRead))
}

func TestAdmin_UpdateUserProfile(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	admin := f.session(t, "admin-1", RoleAdmin)
	createProfile(t, f.store, "u1", nil, true)

	updated, err := f.admin.UpdateUserProfile(ctx, admin, "u1", ProfilePatch{Department: strPtr("Radiology")})
	require.NoError(t, err)
	assert.Equal(t, "Radiology", updated.Department)

	entries := f.entries(t)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionUpdate, entries[0].Action)
	assert.Equal(t, "u1", *entries[0].ResourceID)
	assert.Equal(t, []interface{}{"department"}, entries[0].Details["fields"])

	_, err = f.admin.UpdateUserProfile(ctx, admin, "u1", ProfilePatch{})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = f.admin.UpdateUserProfile(ctx, admin, "ghost", ProfilePatch{Phone: strPtr("1")})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Len(t, f.entries(t), 1)
}

func TestAdmin_ActivationNeedsDeactivatePermission(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()

	limited := createRole(t, f.store, "hr", true, MustPermission(ResourceUsers, ActionUpdate))
	createProfile(t, f.store, "hr-1", limited, true)
	hr := NewProvider(f.store)
	_, err := hr.Establish(ctx, Principal{ID: "hr-1"})
	require.NoError(t, err)

	createProfile(t, f.store, "u1", nil, true)
	inactive := false

	_, err = f.admin.UpdateUserProfile(ctx, hr, "u1", ProfilePatch{IsActive: &inactive})
	assert.ErrorIs(t, err, ErrPermissionDenied)

	_, err = f.admin.UpdateUserProfile(ctx, hr, "u1", ProfilePatch{Phone: strPtr("555")})
	assert.NoError(t, err)
}

func TestAdmin_RoleLifecycle(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	admin := f.session(t, "admin-1", RoleAdmin)

	role, err := f.admin.CreateRole(ctx, admin, RoleDefinition{
		Name:        "billing",
		DisplayName: "Billing",
		Permissions: MustPermissionSet(MustPermission(ResourceReports, ActionRead)),
		IsActive:    true,
	})
	require.NoError(t, err)

	perms := MustPermissionSet(MustPermission(ResourceReports, ActionRead), MustPermission(ResourceReports, ActionExport))
	_, err = f.admin.UpdateRolePermissions(ctx, admin, role.ID, perms)
	require.NoError(t, err)

	require.NoError(t, f.admin.SetRoleActive(ctx, admin, role.ID, false))
	require.NoError(t, f.admin.DeleteRole(ctx, admin, role.ID))

	f.admin.Wait()
	trail, err := f.activity.ByResource(ctx, audit.ResourceRole, role.ID)
	require.NoError(t, err)
	require.Len(t, trail, 4)

	actions := map[string]bool{}
	for _, e := range trail {
		actions[e.Action] = true
		assert.Equal(t, role.ID, *e.ResourceID)
	}
	assert.Equal(t, map[string]bool{
		audit.ActionCreate:     true,
		audit.ActionUpdate:     true,
		audit.ActionDeactivate: true,
		audit.ActionDelete:     true,
	}, actions)

	_, err = f.store.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAdmin_RoleMutationsDeniedForDoctor(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	doctor := f.session(t, "doc-1", RoleDoctor)
	target := f.roles[RoleReceptionist]

	_, err := f.admin.CreateRole(ctx, doctor, RoleDefinition{Name: "x"})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	_, err = f.admin.UpdateRolePermissions(ctx, doctor, target.ID, PermissionSet{})
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, f.admin.SetRoleActive(ctx, doctor, target.ID, false), ErrPermissionDenied)
	assert.ErrorIs(t, f.admin.DeleteRole(ctx, doctor, target.ID), ErrPermissionDenied)

	got, err := f.store.GetRole(ctx, target.ID)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
	assert.Empty(t, f.entries(t))
}

type failingWriter struct{}

func (failingWriter) Append(context.Context, *audit.Entry) error {
	return errors.New("activity store unavailable")
}

func TestAdmin_ActivityFailureDoesNotFailMutation(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	f.admin = NewAdmin(f.store, NewEvaluator(), audit.NewActivityLogger(failingWriter{}), nil)
	admin := f.session(t, "admin-1", RoleAdmin)
	createProfile(t, f.store, "u1", nil, true)

	_, err := f.admin.AssignRole(ctx, admin, "u1", f.roles[RoleDoctor].ID)
	require.NoError(t, err)
	f.admin.Wait()

	got, err := f.store.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, f.roles[RoleDoctor].ID, *got.RoleID)
}

// slowWriter holds each append for delay unless ctx is cancelled first
type slowWriter struct {
	memActivity
	delay time.Duration
}

func (w *slowWriter) Append(ctx context.Context, e *audit.Entry) error {
	select {
	case <-time.After(w.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return w.memActivity.Append(ctx, e)
}

func TestAdmin_ActivityWriteOutlivesRequest(t *testing.T) {
	f := newAdminFixture(t)
	writer := &slowWriter{delay: 300 * time.Millisecond}
	f.admin = NewAdmin(f.store, NewEvaluator(), audit.NewActivityLogger(writer), nil)
	admin := f.session(t, "admin-1", RoleAdmin)
	createProfile(t, f.store, "u1", nil, true)

	ctx, cancel := context.WithCancel(context.Background())
	start := time.Now()
	_, err := f.admin.AssignRole(ctx, admin, "u1", f.roles[RoleDoctor].ID)
	elapsed := time.Since(start)
	cancel()
	require.NoError(t, err)
	assert.Less(t, elapsed, writer.delay)

	f.admin.Wait()
	entries := writer.all()
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ActionAssignRole, entries[0].Action)
	assert.Equal(t, "admin-1", *entries[0].UserID)
}

func TestAdmin_PendingContextIsNotDenied(t *testing.T) {
	f := newAdminFixture(t)
	ctx := context.Background()
	createProfile(t, f.store, "u1", nil, true)

	src := sourceWithUser("admin-1", true, &Role{
		ID:          "role-admin",
		Name:        RoleAdmin,
		IsActive:    true,
		Permissions: MustPermissionSet(MustPermission(ResourceUsers, ActionUpdate)),
	})
	src.block = make(chan struct{})
	p := NewProvider(src)

	done := make(chan error, 1)
	go func() {
		_, err := p.Establish(ctx, Principal{ID: "admin-1"})
		done <- err
	}()
	waitFor(t, func() bool { return src.callCount() == 1 })

	_, err := f.admin.AssignRole(ctx, p, "u1", f.roles[RoleDoctor].ID)
	assert.ErrorIs(t, err, ErrContextPending)
	assert.NotErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, 0, f.notifier.count())
	assert.Empty(t, f.entries(t))

	got, err := f.store.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.RoleID)

	close(src.block)
	require.NoError(t, <-done)

	_, err = f.admin.AssignRole(ctx, p, "u1", f.roles[RoleDoctor].ID)
	require.NoError(t, err)
	assert.Len(t, f.entries(t), 1)
}
