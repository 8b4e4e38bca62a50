package rbac

import (
	"context"
	"database/sql"
	"sync"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/clinicauth/pkg/audit"
)

// sqliteSchema mirrors Migrations() with SQLite types; the TIMESTAMP and
// BOOLEAN declarations make the driver return time.Time and bool.
const sqliteSchema = `
	CREATE TABLE roles (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		display_name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		permissions TEXT NOT NULL DEFAULT '{}',
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE user_profiles (
		id TEXT PRIMARY KEY,
		role_id TEXT,
		first_name TEXT NOT NULL,
		last_name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone TEXT,
		department TEXT,
		is_active BOOLEAN NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE TABLE activity_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		details TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	);
`

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(sqliteSchema)
	require.NoError(t, err)
	return db
}

func createRole(t *testing.T, store *Store, name string, active bool, perms ...Permission) *Role {
	t.Helper()
	role := &Role{
		Name:        name,
		DisplayName: name,
		Permissions: MustPermissionSet(perms...),
		IsActive:    active,
	}
	require.NoError(t, store.CreateRole(context.Background(), role))
	return role
}

func createProfile(t *testing.T, store *Store, id string, role *Role, active bool) *UserProfile {
	t.Helper()
	u := &UserProfile{
		ID:        id,
		FirstName: "Test",
		LastName:  id,
		Email:     id + "@clinic.test",
		IsActive:  active,
	}
	if role != nil {
		roleID := role.ID
		u.RoleID = &roleID
	}
	require.NoError(t, store.CreateUserProfile(context.Background(), u))
	return u
}

// builtInRole creates the named built-in role with its catalog grants
func builtInRole(t *testing.T, store *Store, name string) *Role {
	t.Helper()
	for _, def := range BuiltInRoles() {
		if def.Name == name {
			return createRole(t, store, def.Name, def.IsActive, def.Permissions.List()...)
		}
	}
	t.Fatalf("no built-in role %q", name)
	return nil
}

// readyContext builds a Ready context without storage
func readyContext(profileActive, roleActive bool, perms ...Permission) *AuthorizationContext {
	roleID := "role-1"
	return NewAuthorizationContext(
		Principal{ID: "user-1"},
		&UserProfile{ID: "user-1", RoleID: &roleID, IsActive: profileActive},
		&Role{ID: roleID, Name: "custom", Permissions: MustPermissionSet(perms...), IsActive: roleActive},
	)
}

// fakeSource is an in-memory ContextSource
type fakeSource struct {
	mu       sync.Mutex
	profiles map[string]*UserProfile
	roles    map[string]*Role
	err      error
	calls    int
	block    chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{profiles: map[string]*UserProfile{}, roles: map[string]*Role{}}
}

func (f *fakeSource) GetUserProfile(ctx context.Context, id string) (*UserProfile, error) {
	f.mu.Lock()
	f.calls++
	block := f.block
	f.mu.Unlock()

	if block != nil {
		<-block
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	u, ok := f.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (f *fakeSource) GetRole(ctx context.Context, id string) (*Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r, ok := f.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (f *fakeSource) put(profile *UserProfile, role *Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profiles[profile.ID] = profile
	if role != nil {
		f.roles[role.ID] = role
	}
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// memActivity captures activity entries
type memActivity struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (m *memActivity) Append(_ context.Context, e *audit.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *memActivity) Search(_ context.Context, f audit.Filter) ([]audit.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []audit.Entry
	for _, e := range m.entries {
		if f.ResourceID != "" && (e.ResourceID == nil || *e.ResourceID != f.ResourceID) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memActivity) all() []audit.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.Entry(nil), m.entries...)
}
