package rbac

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the data-access boundary for roles and user profiles. It performs
// no authorization; callers check the evaluator first (see Admin).
type Store struct {
	db *sql.DB
}

// NewStore creates a new RBAC store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

const roleColumns = `id, name, display_name, description, permissions, is_active, created_at, updated_at`

const profileColumns = `id, role_id, first_name, last_name, email, phone, department, is_active, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRole(row rowScanner) (*Role, error) {
	var role Role
	var permissionsJSON []byte
	err := row.Scan(
		&role.ID,
		&role.Name,
		&role.DisplayName,
		&role.Description,
		&permissionsJSON,
		&role.IsActive,
		&role.CreatedAt,
		&role.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(permissionsJSON, &role.Permissions); err != nil {
		return nil, fmt.Errorf("role %s has invalid permissions: %w", role.Name, err)
	}
	return &role, nil
}

func scanProfile(row rowScanner) (*UserProfile, error) {
	var u UserProfile
	var roleID, phone, department sql.NullString
	err := row.Scan(
		&u.ID,
		&roleID,
		&u.FirstName,
		&u.LastName,
		&u.Email,
		&phone,
		&department,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if roleID.Valid {
		id := roleID.String
		u.RoleID = &id
	}
	u.Phone = phone.String
	u.Department = department.String
	return &u, nil
}

// validRoleID reports whether id can name a row in roles. The column is a
// UUID, so anything else would fail in the driver rather than match nothing.
func validRoleID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

func checkRoleRef(roleID *string) error {
	if roleID != nil && !validRoleID(*roleID) {
		return fmt.Errorf("%w: role_id %q is not a UUID", ErrValidation, *roleID)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func validateRole(role *Role) error {
	role.Name = strings.ToLower(strings.TrimSpace(role.Name))
	if role.Name == "" {
		return fmt.Errorf("%w: role name is required", ErrValidation)
	}
	if strings.ContainsAny(role.Name, " \t:") {
		return fmt.Errorf("%w: role name %q must not contain spaces or colons", ErrValidation, role.Name)
	}
	if strings.TrimSpace(role.DisplayName) == "" {
		role.DisplayName = role.Name
	}
	for _, p := range role.Permissions.List() {
		if !p.IsKnown() {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, p)
		}
	}
	return nil
}

// CreateRole inserts a role, assigning an id when none is set
func (s *Store) CreateRole(ctx context.Context, role *Role) error {
	if err := validateRole(role); err != nil {
		return err
	}
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}
	if role.ID == "" {
		role.ID = uuid.NewString()
	} else if !validRoleID(role.ID) {
		return fmt.Errorf("%w: role id %q is not a UUID", ErrValidation, role.ID)
	}

	query := `
		INSERT INTO roles (id, name, display_name, description, permissions, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, query,
		role.ID,
		role.Name,
		role.DisplayName,
		role.Description,
		string(permissionsJSON),
		role.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create role: %w", err)
	}

	role.CreatedAt = now
	role.UpdatedAt = now
	return nil
}

// GetRole retrieves a role by ID
func (s *Store) GetRole(ctx context.Context, roleID string) (*Role, error) {
	if !validRoleID(roleID) {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	query := `SELECT ` + roleColumns + ` FROM roles WHERE id = $1`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, roleID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// GetRoleByName retrieves a role by its machine name
func (s *Store) GetRoleByName(ctx context.Context, name string) (*Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE name = $1`

	role, err := scanRole(s.db.QueryRowContext(ctx, query, strings.ToLower(strings.TrimSpace(name))))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: role %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get role: %w", err)
	}
	return role, nil
}

// ListActiveRoles lists active roles ordered by name. It populates admin
// pickers and is never consulted for decisions.
func (s *Store) ListActiveRoles(ctx context.Context) ([]Role, error) {
	return s.listRoles(ctx, `SELECT `+roleColumns+` FROM roles WHERE is_active = $1 ORDER BY name ASC`, true)
}

// ListRoles lists every role, active or not, ordered by name
func (s *Store) ListRoles(ctx context.Context) ([]Role, error) {
	return s.listRoles(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name ASC`)
}

func (s *Store) listRoles(ctx context.Context, query string, args ...interface{}) ([]Role, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list roles: %w", err)
	}
	defer rows.Close()

	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, *role)
	}
	return roles, rows.Err()
}

// UpdateRole replaces a role's display fields, permissions and active flag
func (s *Store) UpdateRole(ctx context.Context, role *Role) error {
	if !validRoleID(role.ID) {
		return fmt.Errorf("%w: role %s", ErrNotFound, role.ID)
	}
	if err := validateRole(role); err != nil {
		return err
	}
	permissionsJSON, err := json.Marshal(role.Permissions)
	if err != nil {
		return fmt.Errorf("failed to marshal permissions: %w", err)
	}

	query := `
		UPDATE roles
		SET display_name = $1, description = $2, permissions = $3, is_active = $4, updated_at = $5
		WHERE id = $6
	`

	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx, query,
		role.DisplayName,
		role.Description,
		string(permissionsJSON),
		role.IsActive,
		now,
		role.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	if err := expectOneRow(res, "role", role.ID); err != nil {
		return err
	}

	role.UpdatedAt = now
	return nil
}

// SetRoleActive flips a role's active flag
func (s *Store) SetRoleActive(ctx context.Context, roleID string, active bool) error {
	if !validRoleID(roleID) {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	query := `UPDATE roles SET is_active = $1, updated_at = $2 WHERE id = $3`

	res, err := s.db.ExecContext(ctx, query, active, time.Now().UTC(), roleID)
	if err != nil {
		return fmt.Errorf("failed to update role: %w", err)
	}
	return expectOneRow(res, "role", roleID)
}

// DeleteRole removes a role. The foreign key clears role_id on profiles that
// referenced it; sessions already holding the role keep it until refreshed.
func (s *Store) DeleteRole(ctx context.Context, roleID string) error {
	if !validRoleID(roleID) {
		return fmt.Errorf("%w: role %s", ErrNotFound, roleID)
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM roles WHERE id = $1`, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	return expectOneRow(res, "role", roleID)
}

// CreateUserProfile inserts the profile for an authenticated principal
func (s *Store) CreateUserProfile(ctx context.Context, u *UserProfile) error {
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	switch {
	case strings.TrimSpace(u.ID) == "":
		return fmt.Errorf("%w: profile id is required", ErrValidation)
	case strings.TrimSpace(u.FirstName) == "" || strings.TrimSpace(u.LastName) == "":
		return fmt.Errorf("%w: first_name and last_name are required", ErrValidation)
	case !strings.Contains(u.Email, "@"):
		return fmt.Errorf("%w: valid email is required", ErrValidation)
	}
	if err := checkRoleRef(u.RoleID); err != nil {
		return err
	}

	query := `
		INSERT INTO user_profiles (id, role_id, first_name, last_name, email, phone, department, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, query,
		u.ID,
		u.RoleID,
		u.FirstName,
		u.LastName,
		u.Email,
		nullString(u.Phone),
		nullString(u.Department),
		u.IsActive,
		now,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to create user profile: %w", err)
	}

	u.CreatedAt = now
	u.UpdatedAt = now
	return nil
}

// GetUserProfile retrieves the profile bound to a principal
func (s *Store) GetUserProfile(ctx context.Context, principalID string) (*UserProfile, error) {
	query := `SELECT ` + profileColumns + ` FROM user_profiles WHERE id = $1`

	u, err := scanProfile(s.db.QueryRowContext(ctx, query, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user profile %s", ErrNotFound, principalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}
	return u, nil
}

// ListUserProfiles lists profiles ordered by last and first name
func (s *Store) ListUserProfiles(ctx context.Context) ([]UserProfile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM user_profiles ORDER BY last_name ASC, first_name ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list user profiles: %w", err)
	}
	defer rows.Close()

	var out []UserProfile
	for rows.Next() {
		u, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user profile: %w", err)
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

// UpdateUserProfile applies a partial update. A role_id in the patch must be
// a UUID referencing an existing role.
func (s *Store) UpdateUserProfile(ctx context.Context, principalID string, patch ProfilePatch) (*UserProfile, error) {
	if err := patch.Normalize(); err != nil {
		return nil, err
	}
	if err := checkRoleRef(patch.RoleID); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanProfile(tx.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE id = $1`, principalID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: user profile %s", ErrNotFound, principalID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user profile: %w", err)
	}

	if patch.RoleID != nil {
		var exists int
		err := tx.QueryRowContext(ctx, `SELECT 1 FROM roles WHERE id = $1`, *patch.RoleID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: role_id %s does not reference a role", ErrValidation, *patch.RoleID)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to check role: %w", err)
		}
	}

	updated := patch.Apply(*current)
	updated.UpdatedAt = time.Now().UTC()

	query := `
		UPDATE user_profiles
		SET role_id = $1, first_name = $2, last_name = $3, email = $4, phone = $5, department = $6, is_active = $7, updated_at = $8
		WHERE id = $9
	`
	_, err = tx.ExecContext(ctx, query,
		updated.RoleID,
		updated.FirstName,
		updated.LastName,
		updated.Email,
		nullString(updated.Phone),
		nullString(updated.Department),
		updated.IsActive,
		updated.UpdatedAt,
		principalID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit user profile update: %w", err)
	}
	return &updated, nil
}

func expectOneRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, kind, id)
	}
	return nil
}
