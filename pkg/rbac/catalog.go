package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Resource represents a protected category of clinic data
type Resource string

const (
	ResourcePatients     Resource = "patients"
	ResourceTests        Resource = "tests"
	ResourceBookings     Resource = "bookings"
	ResourceUsers        Resource = "users"
	ResourceRoles        Resource = "roles"
	ResourceSettings     Resource = "settings"
	ResourceReports      Resource = "reports"
	ResourceActivityLogs Resource = "activity_logs"
)

// Action represents an operation that can be performed on a resource
type Action string

const (
	ActionCreate     Action = "create"
	ActionRead       Action = "read"
	ActionUpdate     Action = "update"
	ActionDelete     Action = "delete"
	ActionDeactivate Action = "deactivate"
	ActionSystem     Action = "system"
	ActionExport     Action = "export"
)

// catalog is the closed set of permissions. Adding a capability means adding it here.
var catalog = map[Resource][]Action{
	ResourcePatients:     {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceTests:        {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceBookings:     {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceUsers:        {ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionDeactivate},
	ResourceRoles:        {ActionCreate, ActionRead, ActionUpdate, ActionDelete},
	ResourceSettings:     {ActionRead, ActionUpdate, ActionSystem},
	ResourceReports:      {ActionRead, ActionExport},
	ResourceActivityLogs: {ActionRead},
}

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource" yaml:"resource"`
	Action   Action   `json:"action" yaml:"action"`
}

// String returns the "resource:action" form of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// IsKnown reports whether the permission is part of the catalog
func (p Permission) IsKnown() bool {
	for _, a := range catalog[p.Resource] {
		if a == p.Action {
			return true
		}
	}
	return false
}

// Catalog returns every permission in the catalog, sorted by resource then action.
func Catalog() []Permission {
	perms := make([]Permission, 0, 32)
	for res, actions := range catalog {
		for _, act := range actions {
			perms = append(perms, Permission{Resource: res, Action: act})
		}
	}
	sortPermissions(perms)
	return perms
}

// Resources returns all catalog resources in name order
func Resources() []Resource {
	out := make([]Resource, 0, len(catalog))
	for res := range catalog {
		out = append(out, res)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ActionsFor returns the actions defined on a resource, or nil for an unknown resource.
func ActionsFor(res Resource) []Action {
	actions, ok := catalog[res]
	if !ok {
		return nil
	}
	out := make([]Action, len(actions))
	copy(out, actions)
	return out
}

// NewPermission validates a (resource, action) pair against the catalog
func NewPermission(res Resource, act Action) (Permission, error) {
	p := Permission{Resource: res, Action: act}
	if !p.IsKnown() {
		return Permission{}, fmt.Errorf("%w: %s", ErrUnknownPermission, p)
	}
	return p, nil
}

// MustPermission is NewPermission for package-level and startup wiring.
// It panics on a pair that is not in the catalog.
func MustPermission(res Resource, act Action) Permission {
	p, err := NewPermission(res, act)
	if err != nil {
		panic(fmt.Sprintf("rbac.MustPermission: %v", err))
	}
	return p
}

// ParsePermission parses the "resource:action" form
func ParsePermission(s string) (Permission, error) {
	res, act, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Permission{}, fmt.Errorf("%w: malformed permission %q", ErrUnknownPermission, s)
	}
	return NewPermission(Resource(res), Action(act))
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Resource != perms[j].Resource {
			return perms[i].Resource < perms[j].Resource
		}
		return perms[i].Action < perms[j].Action
	})
}

// RoleKind is the closed set of built-in roles, with RoleKindCustom for
// administrator-created roles that are not part of the built-in set.
type RoleKind int

const (
	RoleKindCustom RoleKind = iota
	RoleKindAdmin
	RoleKindDoctor
	RoleKindTechnician
	RoleKindReceptionist
)

// Built-in role names
const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleTechnician   = "technician"
	RoleReceptionist = "receptionist"
)

// ClassifyRole maps a role's machine name to its kind
func ClassifyRole(name string) RoleKind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case RoleAdmin:
		return RoleKindAdmin
	case RoleDoctor:
		return RoleKindDoctor
	case RoleTechnician:
		return RoleKindTechnician
	case RoleReceptionist:
		return RoleKindReceptionist
	default:
		return RoleKindCustom
	}
}

// String returns the built-in role name, or "custom"
func (k RoleKind) String() string {
	switch k {
	case RoleKindAdmin:
		return RoleAdmin
	case RoleKindDoctor:
		return RoleDoctor
	case RoleKindTechnician:
		return RoleTechnician
	case RoleKindReceptionist:
		return RoleReceptionist
	case RoleKindCustom:
		return "custom"
	}
	return fmt.Sprintf("RoleKind(%d)", int(k))
}

// BuiltInRoleNames returns the machine names of the built-in roles
func BuiltInRoleNames() []string {
	return []string{RoleAdmin, RoleDoctor, RoleReceptionist, RoleTechnician}
}
