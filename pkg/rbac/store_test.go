package rbac

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_RoleCRUD(t *testing.T) {
	db := setupTestDB(t)
	store := NewStore(db)
	ctx := context.Background()

	role := &Role{
		Name:        " Billing ",
		Description: "Handles invoices",
		Permissions: MustPermissionSet(MustPermission(ResourceReports, ActionRead)),
		IsActive:    true,
	}
	require.NoError(t, store.CreateRole(ctx, role))
	assert.NotEmpty(t, role.ID)
	assert.Equal(t, "billing", role.Name)
	assert.Equal(t, "billing", role.DisplayName)

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "billing", got.Name)
	assert.True(t, got.IsActive)
	assert.True(t, got.Permissions.Equal(role.Permissions))

	byName, err := store.GetRoleByName(ctx, "BILLING")
	require.NoError(t, err)
	assert.Equal(t, role.ID, byName.ID)

	got.DisplayName = "Billing Clerk"
	got.Permissions = MustPermissionSet(MustPermission(ResourceReports, ActionRead), MustPermission(ResourceReports, ActionExport))
	require.NoError(t, store.UpdateRole(ctx, got))

	updated, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.Equal(t, "Billing Clerk", updated.DisplayName)
	assert.Equal(t, []string{"reports:export", "reports:read"}, updated.Permissions.Strings())

	require.NoError(t, store.DeleteRole(ctx, role.ID))
	_, err = store.GetRole(ctx, role.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteRole(ctx, role.ID), ErrNotFound)
}

func TestStore_CreateRoleValidation(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	assert.ErrorIs(t, store.CreateRole(ctx, &Role{Name: " "}), ErrValidation)
	assert.ErrorIs(t, store.CreateRole(ctx, &Role{Name: "front desk"}), ErrValidation)
	assert.ErrorIs(t, store.CreateRole(ctx, &Role{Name: "ns:role"}), ErrValidation)
}

func TestStore_ListActiveRolesOrdered(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	createRole(t, store, "receptionist", true)
	createRole(t, store, "doctor", true)
	createRole(t, store, "archived", false)
	createRole(t, store, "admin", true)

	roles, err := store.ListActiveRoles(ctx)
	require.NoError(t, err)
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"admin", "doctor", "receptionist"}, names)

	all, err := store.ListRoles(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestStore_SetRoleActive(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	role := createRole(t, store, "doctor", true)
	require.NoError(t, store.SetRoleActive(ctx, role.ID, false))

	got, err := store.GetRole(ctx, role.ID)
	require.NoError(t, err)
	assert.False(t, got.IsActive)

	assert.ErrorIs(t, store.SetRoleActive(ctx, "missing", true), ErrNotFound)
}

func TestStore_UserProfile(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	role := createRole(t, store, "doctor", true)
	createProfile(t, store, "u1", role, true)

	got, err := store.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, got.RoleID)
	assert.Equal(t, role.ID, *got.RoleID)
	assert.Equal(t, "u1@clinic.test", got.Email)
	assert.Empty(t, got.Phone)

	_, err = store.GetUserProfile(ctx, "nobody")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.ErrorIs(t, store.CreateUserProfile(ctx, &UserProfile{ID: "u2", FirstName: "A", LastName: "B", Email: "bad"}), ErrValidation)

	list, err := store.ListUserProfiles(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestStore_UpdateUserProfile(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()

	doctor := createRole(t, store, "doctor", true)
	tech := createRole(t, store, "technician", true)
	createProfile(t, store, "u1", doctor, true)

	updated, err := store.UpdateUserProfile(ctx, "u1", ProfilePatch{
		Phone:  strPtr(" 555-0100 "),
		RoleID: &tech.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "555-0100", updated.Phone)
	assert.Equal(t, tech.ID, *updated.RoleID)

	got, err := store.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "555-0100", got.Phone)
	assert.Equal(t, tech.ID, *got.RoleID)
	assert.Equal(t, "Test", got.FirstName)

	cleared, err := store.UpdateUserProfile(ctx, "u1", ProfilePatch{ClearRole: true})
	require.NoError(t, err)
	assert.Nil(t, cleared.RoleID)

	got, err = store.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.RoleID)
}

func TestStore_UpdateUserProfileErrors(t *testing.T) {
	store := NewStore(setupTestDB(t))
	ctx := context.Background()
	createProfile(t, store, "u1", nil, true)

	_, err := store.UpdateUserProfile(ctx, "u1", ProfilePatch{})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = store.UpdateUserProfile(ctx, "nobody", ProfilePatch{Phone: strPtr("1")})
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.UpdateUserProfile(ctx, "u1", ProfilePatch{RoleID: strPtr("no-such-role")})
	assert.ErrorIs(t, err, ErrValidation)

	got, err := store.GetUserProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, got.RoleID)
}

func TestStore_UpdateUserProfileRollsBackOnError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM user_profiles WHERE id = ").
		WithArgs("u1").
		WillReturnError(errors.New("connection lost"))
	mock.ExpectRollback()

	_, err = store.UpdateUserProfile(context.Background(), "u1", ProfilePatch{Phone: strPtr("1")})
	assert.ErrorContains(t, err, "connection lost")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_GetRoleQueryError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	roleID := "6f1c1a52-3f0e-4d8e-9a4b-2a61c2b7d9e1"
	mock.ExpectQuery("SELECT (.+) FROM roles WHERE id = ").
		WithArgs(roleID).
		WillReturnError(errors.New("timeout"))

	_, err = NewStore(db).GetRole(context.Background(), roleID)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// Role ids are UUID columns in PostgreSQL; a malformed id must be answered
// at the store rather than surface as a driver error.
func TestStore_MalformedRoleIDNeverReachesDatabase(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewStore(db)
	ctx := context.Background()

	_, err = store.GetRole(ctx, "admin")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.SetRoleActive(ctx, "admin", false), ErrNotFound)
	assert.ErrorIs(t, store.DeleteRole(ctx, "not-a-uuid"), ErrNotFound)
	assert.ErrorIs(t, store.UpdateRole(ctx, &Role{ID: "not-a-uuid", Name: "x"}), ErrNotFound)

	assert.ErrorIs(t, store.CreateRole(ctx, &Role{ID: "custom", Name: "custom"}), ErrValidation)
	assert.ErrorIs(t, store.CreateUserProfile(ctx, &UserProfile{
		ID: "u1", RoleID: strPtr("doctor"), FirstName: "A", LastName: "B", Email: "a@clinic.test",
	}), ErrValidation)
	_, err = store.UpdateUserProfile(ctx, "u1", ProfilePatch{RoleID: strPtr("doctor")})
	assert.ErrorIs(t, err, ErrValidation)

	assert.NoError(t, mock.ExpectationsWereMet())
}
