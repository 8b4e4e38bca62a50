package audit

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sqliteSchema = `
	CREATE TABLE activity_logs (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		action TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id TEXT,
		details TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)
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

// fixedClock returns increasing timestamps so ordering is deterministic
func fixedClock(start time.Time) func() time.Time {
	n := 0
	return func() time.Time {
		n++
		return start.Add(time.Duration(n) * time.Second)
	}
}

func TestDBStore_LogAndQueryByResource(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewDBStore(db)
	require.NoError(t, err)

	logger := NewActivityLogger(store)
	res := logger.LogActivity(context.Background(), "actor-1", ActionUpdate, "patient", "p123",
		map[string]interface{}{"fields": []string{"name"}})
	require.True(t, res.OK(), "write failed: %v", res.Err)

	entries, err := store.ByResource(context.Background(), "patient", "p123")
	require.NoError(t, err)
	require.Len(t, entries, 1)

	got := entries[0]
	assert.Equal(t, res.Entry.ID, got.ID)
	assert.Equal(t, "actor-1", derefString(got.UserID))
	assert.Equal(t, ActionUpdate, got.Action)
	assert.Equal(t, "p123", derefString(got.ResourceID))
	assert.Equal(t, []interface{}{"name"}, got.Details["fields"])

	others, err := store.ByResource(context.Background(), "patient", "p999")
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestDBStore_SearchFiltersAndOrder(t *testing.T) {
	db := setupTestDB(t)
	store, err := NewDBStore(db)
	require.NoError(t, err)

	logger := NewActivityLogger(store)
	logger.now = fixedClock(time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC))

	ctx := context.Background()
	require.True(t, logger.LogActivity(ctx, "admin", ActionCreate, ResourceRole, "r1", nil).OK())
	require.True(t, logger.LogActivity(ctx, "admin", ActionAssignRole, ResourceUser, "u1", nil).OK())
	require.True(t, logger.LogActivity(ctx, "other", ActionAssignRole, ResourceUser, "u2", nil).OK())
	require.True(t, logger.LogActivity(ctx, "", ActionDeactivate, ResourceUser, "u1", nil).OK())

	all, err := store.Search(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ActionDeactivate, all[0].Action)
	assert.Equal(t, ActionCreate, all[3].Action)
	assert.Nil(t, all[0].UserID)

	byUser, err := store.Search(ctx, Filter{UserID: "admin"})
	require.NoError(t, err)
	assert.Len(t, byUser, 2)

	byAction, err := store.Search(ctx, Filter{Action: ActionAssignRole, ResourceType: ResourceUser})
	require.NoError(t, err)
	assert.Len(t, byAction, 2)

	paged, err := store.Search(ctx, Filter{Limit: 2, Offset: 1})
	require.NoError(t, err)
	require.Len(t, paged, 2)
	assert.Equal(t, "u2", derefString(paged[0].ResourceID))
}

func TestDBStore_AppendArgs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db)
	require.NoError(t, err)

	user := "actor-1"
	entry := &Entry{
		ID:           "11111111-1111-1111-1111-111111111111",
		UserID:       &user,
		Action:       ActionUpdate,
		ResourceType: ResourceUser,
		CreatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	mock.ExpectExec("INSERT INTO activity_logs").
		WithArgs(entry.ID, sqlmock.AnyArg(), ActionUpdate, ResourceUser, sqlmock.AnyArg(), []byte("{}"), entry.CreatedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.Append(context.Background(), entry))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDBStore_AppendError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO activity_logs").WillReturnError(errors.New("disk full"))

	err = store.Append(context.Background(), &Entry{ID: "x", Action: ActionCreate, ResourceType: ResourceRole})
	assert.ErrorContains(t, err, "disk full")
}

func TestDBStore_SearchBuildsPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store, err := NewDBStore(db)
	require.NoError(t, err)

	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`AND resource_id = \$1 AND created_at >= \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("p1", since, 10, 5).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "resource_type", "resource_id", "details", "created_at"}).
			AddRow("e1", nil, "update", "patient", "p1", []byte(`{"k":"v"}`), since))

	entries, err := store.Search(context.Background(), Filter{ResourceID: "p1", Since: &since, Limit: 10, Offset: 5})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Nil(t, entries[0].UserID)
	assert.Equal(t, "v", entries[0].Details["k"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestNewDBStore_RequiresDB(t *testing.T) {
	_, err := NewDBStore(nil)
	assert.Error(t, err)
}
