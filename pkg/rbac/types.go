package rbac

import (
	"fmt"
	"strings"
	"time"
)

// Principal is the already-authenticated identity handed to the engine
type Principal struct {
	ID    string `json:"id"`
	Email string `json:"email,omitempty"`
}

// Role represents a named bundle of granted permissions
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	DisplayName string        `json:"display_name"`
	Description string        `json:"description"`
	Permissions PermissionSet `json:"permissions"`
	IsActive    bool          `json:"is_active"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Kind classifies the role against the built-in role names
func (r *Role) Kind() RoleKind {
	if r == nil {
		return RoleKindCustom
	}
	return ClassifyRole(r.Name)
}

// UserProfile binds a principal to at most one role. RoleID is a weak
// reference: the role may be deleted or deactivated independently.
type UserProfile struct {
	ID         string    `json:"id"`
	RoleID     *string   `json:"role_id,omitempty"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone,omitempty"`
	Department string    `json:"department,omitempty"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// FullName joins first and last name
func (u *UserProfile) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// ProfilePatch is a partial update of a user profile. Nil fields are left unchanged.
type ProfilePatch struct {
	FirstName  *string `json:"first_name,omitempty"`
	LastName   *string `json:"last_name,omitempty"`
	Email      *string `json:"email,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Department *string `json:"department,omitempty"`
	IsActive   *bool   `json:"is_active,omitempty"`
	RoleID     *string `json:"role_id,omitempty"`
	ClearRole  bool    `json:"clear_role,omitempty"`
}

// Normalize trims the patch in place and validates it
func (p *ProfilePatch) Normalize() error {
	trim := func(v *string) *string {
		if v == nil {
			return nil
		}
		t := strings.TrimSpace(*v)
		return &t
	}
	p.FirstName = trim(p.FirstName)
	p.LastName = trim(p.LastName)
	p.Phone = trim(p.Phone)
	p.Department = trim(p.Department)
	p.RoleID = trim(p.RoleID)
	if p.Email != nil {
		e := strings.ToLower(strings.TrimSpace(*p.Email))
		p.Email = &e
	}

	if p.Empty() {
		return fmt.Errorf("%w: patch has no fields", ErrValidation)
	}
	if p.FirstName != nil && *p.FirstName == "" {
		return fmt.Errorf("%w: first_name must not be empty", ErrValidation)
	}
	if p.LastName != nil && *p.LastName == "" {
		return fmt.Errorf("%w: last_name must not be empty", ErrValidation)
	}
	if p.Email != nil && (*p.Email == "" || !strings.Contains(*p.Email, "@")) {
		return fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if p.RoleID != nil && *p.RoleID == "" {
		return fmt.Errorf("%w: role_id must not be empty", ErrValidation)
	}
	if p.RoleID != nil && p.ClearRole {
		return fmt.Errorf("%w: role_id and clear_role are mutually exclusive", ErrValidation)
	}
	return nil
}

// Empty reports whether the patch changes nothing
func (p *ProfilePatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Email == nil && p.Phone == nil &&
		p.Department == nil && p.IsActive == nil && p.RoleID == nil && !p.ClearRole
}

// Fields returns the column names touched by the patch, for activity details
func (p *ProfilePatch) Fields() []string {
	var fields []string
	if p.FirstName != nil {
		fields = append(fields, "first_name")
	}
	if p.LastName != nil {
		fields = append(fields, "last_name")
	}
	if p.Email != nil {
		fields = append(fields, "email")
	}
	if p.Phone != nil {
		fields = append(fields, "phone")
	}
	if p.Department != nil {
		fields = append(fields, "department")
	}
	if p.IsActive != nil {
		fields = append(fields, "is_active")
	}
	if p.RoleID != nil || p.ClearRole {
		fields = append(fields, "role_id")
	}
	return fields
}

// Apply returns a copy of the profile with the patch applied
func (p *ProfilePatch) Apply(u UserProfile) UserProfile {
	if p.FirstName != nil {
		u.FirstName = *p.FirstName
	}
	if p.LastName != nil {
		u.LastName = *p.LastName
	}
	if p.Email != nil {
		u.Email = *p.Email
	}
	if p.Phone != nil {
		u.Phone = *p.Phone
	}
	if p.Department != nil {
		u.Department = *p.Department
	}
	if p.IsActive != nil {
		u.IsActive = *p.IsActive
	}
	if p.ClearRole {
		u.RoleID = nil
	} else if p.RoleID != nil {
		id := *p.RoleID
		u.RoleID = &id
	}
	return u
}

// RoleDefinition describes a role to be created or updated by name
type RoleDefinition struct {
	Name        string
	DisplayName string
	Description string
	Permissions PermissionSet
	IsActive    bool
}

// BuiltInRoles returns the built-in role definitions. The admin grant set is
// listed permission by permission: a permission added to the catalog is not
// granted to admin until it is added here too.
func BuiltInRoles() []RoleDefinition {
	p := MustPermission
	return []RoleDefinition{
		{
			Name:        RoleAdmin,
			DisplayName: "Administrator",
			Description: "Full access to clinic data, users, roles and system settings",
			IsActive:    true,
			Permissions: MustPermissionSet(
				p(ResourcePatients, ActionCreate),
				p(ResourcePatients, ActionRead),
				p(ResourcePatients, ActionUpdate),
				p(ResourcePatients, ActionDelete),
				p(ResourceTests, ActionCreate),
				p(ResourceTests, ActionRead),
				p(ResourceTests, ActionUpdate),
				p(ResourceTests, ActionDelete),
				p(ResourceBookings, ActionCreate),
				p(ResourceBookings, ActionRead),
				p(ResourceBookings, ActionUpdate),
				p(ResourceBookings, ActionDelete),
				p(ResourceUsers, ActionCreate),
				p(ResourceUsers, ActionRead),
				p(ResourceUsers, ActionUpdate),
				p(ResourceUsers, ActionDelete),
				p(ResourceUsers, ActionDeactivate),
				p(ResourceRoles, ActionCreate),
				p(ResourceRoles, ActionRead),
				p(ResourceRoles, ActionUpdate),
				p(ResourceRoles, ActionDelete),
				p(ResourceSettings, ActionRead),
				p(ResourceSettings, ActionUpdate),
				p(ResourceSettings, ActionSystem),
				p(ResourceReports, ActionRead),
				p(ResourceReports, ActionExport),
				p(ResourceActivityLogs, ActionRead),
			),
		},
		{
			Name:        RoleDoctor,
			DisplayName: "Doctor",
			Description: "Manages patients, orders and reviews tests",
			IsActive:    true,
			Permissions: MustPermissionSet(
				p(ResourcePatients, ActionCreate),
				p(ResourcePatients, ActionRead),
				p(ResourcePatients, ActionUpdate),
				p(ResourceTests, ActionCreate),
				p(ResourceTests, ActionRead),
				p(ResourceTests, ActionUpdate),
				p(ResourceBookings, ActionRead),
				p(ResourceBookings, ActionUpdate),
				p(ResourceReports, ActionRead),
				p(ResourceReports, ActionExport),
			),
		},
		{
			Name:        RoleTechnician,
			DisplayName: "Lab Technician",
			Description: "Records test results",
			IsActive:    true,
			Permissions: MustPermissionSet(
				p(ResourcePatients, ActionRead),
				p(ResourceTests, ActionCreate),
				p(ResourceTests, ActionRead),
				p(ResourceTests, ActionUpdate),
				p(ResourceBookings, ActionRead),
			),
		},
		{
			Name:        RoleReceptionist,
			DisplayName: "Receptionist",
			Description: "Registers patients and manages bookings",
			IsActive:    true,
			Permissions: MustPermissionSet(
				p(ResourcePatients, ActionCreate),
				p(ResourcePatients, ActionRead),
				p(ResourcePatients, ActionUpdate),
				p(ResourceBookings, ActionCreate),
				p(ResourceBookings, ActionRead),
				p(ResourceBookings, ActionUpdate),
				p(ResourceBookings, ActionDelete),
				p(ResourceTests, ActionRead),
			),
		},
	}
}
