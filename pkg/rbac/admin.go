package rbac

import (
	"context"
	"fmt"
	"sync"

	"github.com/platinummonkey/clinicauth/pkg/audit"
	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// Session is the acting caller's view of its own authorization context.
// *Provider implements it.
type Session interface {
	Context() *AuthorizationContext
	Refresh(ctx context.Context) (*AuthorizationContext, error)
}

// Admin is the mutation service for user profiles and roles. Every method
// checks the caller first, writes, then records one activity entry in the
// background.
type Admin struct {
	store    *Store
	eval     *Evaluator
	activity *audit.ActivityLogger
	logger   *observability.Logger

	pending sync.WaitGroup
}

// NewAdmin creates the administration service
func NewAdmin(store *Store, eval *Evaluator, activity *audit.ActivityLogger, logger *observability.Logger) *Admin {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &Admin{store: store, eval: eval, activity: activity, logger: logger}
}

func sessionContext(s Session) *AuthorizationContext {
	if s == nil {
		return nil
	}
	return s.Context()
}

// authorize refuses a caller whose context is still loading with
// ErrContextPending, without counting it as a denial.
func (a *Admin) authorize(ctx context.Context, s Session, res Resource, act Action) (*AuthorizationContext, error) {
	ac := sessionContext(s)
	if ac.Loading() {
		return nil, fmt.Errorf("%w: %s:%s", ErrContextPending, res, act)
	}
	if !a.eval.CheckPermission(ctx, ac, res, act) {
		return nil, fmt.Errorf("%w: %s:%s", ErrPermissionDenied, res, act)
	}
	return ac, nil
}

// record writes the activity entry off the caller's path. The write is
// detached from ctx so a client disconnect after a committed mutation still
// leaves a trail.
func (a *Admin) record(ctx context.Context, ac *AuthorizationContext, action, resourceType, resourceID string, details map[string]interface{}) {
	if a.activity == nil {
		return
	}
	done := a.activity.LogActivityAsync(ctx, ac.PrincipalID(), action, resourceType, resourceID, details)
	a.pending.Add(1)
	go func() {
		defer a.pending.Done()
		<-done
	}()
}

// Wait blocks until every activity write started so far has finished
func (a *Admin) Wait() {
	a.pending.Wait()
}

// refreshIfSelf rebuilds the acting session when it changed its own profile.
// The write already committed, so a failed refresh is only logged.
func (a *Admin) refreshIfSelf(ctx context.Context, s Session, ac *AuthorizationContext, userID string) {
	if s == nil || ac.PrincipalID() != userID {
		return
	}
	if _, err := s.Refresh(ctx); err != nil {
		a.logger.WithError(err).WithField("principal_id", userID).Warn("failed to refresh own authorization context")
	}
}

// UpdateUserProfile applies patch to a profile. Changing is_active also
// requires users:deactivate.
func (a *Admin) UpdateUserProfile(ctx context.Context, s Session, userID string, patch ProfilePatch) (*UserProfile, error) {
	ac, err := a.authorize(ctx, s, ResourceUsers, ActionUpdate)
	if err != nil {
		return nil, err
	}
	if patch.IsActive != nil {
		if _, err := a.authorize(ctx, s, ResourceUsers, ActionDeactivate); err != nil {
			return nil, err
		}
	}

	updated, err := a.store.UpdateUserProfile(ctx, userID, patch)
	if err != nil {
		return nil, err
	}

	a.record(ctx, ac, audit.ActionUpdate, audit.ResourceUser, userID, map[string]interface{}{
		"fields": patch.Fields(),
	})
	a.refreshIfSelf(ctx, s, ac, userID)
	return updated, nil
}

// AssignRole binds a user to roleID. An empty roleID clears the binding.
func (a *Admin) AssignRole(ctx context.Context, s Session, userID, roleID string) (*UserProfile, error) {
	ac, err := a.authorize(ctx, s, ResourceUsers, ActionUpdate)
	if err != nil {
		return nil, err
	}

	patch := ProfilePatch{ClearRole: roleID == ""}
	if roleID != "" {
		patch.RoleID = &roleID
	}
	updated, err := a.store.UpdateUserProfile(ctx, userID, patch)
	if err != nil {
		return nil, err
	}

	var assigned interface{}
	if updated.RoleID != nil {
		assigned = *updated.RoleID
	}
	a.record(ctx, ac, audit.ActionAssignRole, audit.ResourceUser, userID, map[string]interface{}{
		"role_id": assigned,
	})
	a.refreshIfSelf(ctx, s, ac, userID)
	return updated, nil
}

// DeactivateUser marks a profile inactive. Sessions of that user keep their
// loaded context until refreshed.
func (a *Admin) DeactivateUser(ctx context.Context, s Session, userID string) (*UserProfile, error) {
	ac, err := a.authorize(ctx, s, ResourceUsers, ActionDeactivate)
	if err != nil {
		return nil, err
	}

	inactive := false
	updated, err := a.store.UpdateUserProfile(ctx, userID, ProfilePatch{IsActive: &inactive})
	if err != nil {
		return nil, err
	}

	a.record(ctx, ac, audit.ActionDeactivate, audit.ResourceUser, userID, nil)
	a.refreshIfSelf(ctx, s, ac, userID)
	return updated, nil
}

// CreateRole creates a role from def
func (a *Admin) CreateRole(ctx context.Context, s Session, def RoleDefinition) (*Role, error) {
	ac, err := a.authorize(ctx, s, ResourceRoles, ActionCreate)
	if err != nil {
		return nil, err
	}

	role := &Role{
		Name:        def.Name,
		DisplayName: def.DisplayName,
		Description: def.Description,
		Permissions: def.Permissions,
		IsActive:    def.IsActive,
	}
	if err := a.store.CreateRole(ctx, role); err != nil {
		return nil, err
	}

	a.record(ctx, ac, audit.ActionCreate, audit.ResourceRole, role.ID, map[string]interface{}{
		"name":        role.Name,
		"permissions": role.Permissions.Strings(),
	})
	return role, nil
}

// UpdateRolePermissions replaces a role's grant set. Sessions holding the
// role keep the old set until they refresh.
func (a *Admin) UpdateRolePermissions(ctx context.Context, s Session, roleID string, perms PermissionSet) (*Role, error) {
	ac, err := a.authorize(ctx, s, ResourceRoles, ActionUpdate)
	if err != nil {
		return nil, err
	}

	role, err := a.store.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	previous := role.Permissions
	role.Permissions = perms
	if err := a.store.UpdateRole(ctx, role); err != nil {
		return nil, err
	}

	a.record(ctx, ac, audit.ActionUpdate, audit.ResourceRole, role.ID, map[string]interface{}{
		"name":                 role.Name,
		"permissions":          perms.Strings(),
		"previous_permissions": previous.Strings(),
	})
	return role, nil
}

// SetRoleActive activates or deactivates a role
func (a *Admin) SetRoleActive(ctx context.Context, s Session, roleID string, active bool) error {
	ac, err := a.authorize(ctx, s, ResourceRoles, ActionUpdate)
	if err != nil {
		return err
	}

	if err := a.store.SetRoleActive(ctx, roleID, active); err != nil {
		return err
	}

	action := audit.ActionDeactivate
	if active {
		action = audit.ActionActivate
	}
	a.record(ctx, ac, action, audit.ResourceRole, roleID, nil)
	return nil
}

// DeleteRole deletes a role; profiles bound to it are left without a role
func (a *Admin) DeleteRole(ctx context.Context, s Session, roleID string) error {
	ac, err := a.authorize(ctx, s, ResourceRoles, ActionDelete)
	if err != nil {
		return err
	}

	if err := a.store.DeleteRole(ctx, roleID); err != nil {
		return err
	}

	a.record(ctx, ac, audit.ActionDelete, audit.ResourceRole, roleID, nil)
	return nil
}
