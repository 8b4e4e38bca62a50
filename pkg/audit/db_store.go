package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// DefaultSearchLimit caps a search that does not set Limit
const DefaultSearchLimit = 100

// DBStore persists entries in the activity_logs table. It only appends and reads.
type DBStore struct {
	db *sql.DB
}

// NewDBStore creates a store on db. The table is created by Migrations.
func NewDBStore(db *sql.DB) (*DBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	return &DBStore{db: db}, nil
}

// Append inserts one entry
func (s *DBStore) Append(ctx context.Context, entry *Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}

	details := entry.Details
	if details == nil {
		details = map[string]interface{}{}
	}
	detailsJSON, err := json.Marshal(details)
	if err != nil {
		return fmt.Errorf("failed to marshal details: %w", err)
	}

	query := `
		INSERT INTO activity_logs (id, user_id, action, resource_type, resource_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.db.ExecContext(ctx, query,
		entry.ID,
		entry.UserID,
		entry.Action,
		entry.ResourceType,
		entry.ResourceID,
		detailsJSON,
		entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert activity log: %w", err)
	}
	return nil
}

// Search returns entries matching filter, newest first
func (s *DBStore) Search(ctx context.Context, filter Filter) ([]Entry, error) {
	query := `
		SELECT id, user_id, action, resource_type, resource_id, details, created_at
		FROM activity_logs
		WHERE 1=1
	`

	args := []interface{}{}
	argCount := 1

	if filter.UserID != "" {
		query += fmt.Sprintf(" AND user_id = $%d", argCount)
		args = append(args, filter.UserID)
		argCount++
	}

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argCount)
		args = append(args, filter.Action)
		argCount++
	}

	if filter.ResourceType != "" {
		query += fmt.Sprintf(" AND resource_type = $%d", argCount)
		args = append(args, filter.ResourceType)
		argCount++
	}

	if filter.ResourceID != "" {
		query += fmt.Sprintf(" AND resource_id = $%d", argCount)
		args = append(args, filter.ResourceID)
		argCount++
	}

	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argCount)
		args = append(args, *filter.Since)
		argCount++
	}

	if filter.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argCount)
		args = append(args, *filter.Until)
		argCount++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", argCount)
	args = append(args, limit)
	argCount++

	if filter.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argCount)
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query activity logs: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activity logs: %w", err)
	}
	return entries, nil
}

// ByResource returns the trail of one record, newest first
func (s *DBStore) ByResource(ctx context.Context, resourceType, resourceID string) ([]Entry, error) {
	return s.Search(ctx, Filter{ResourceType: resourceType, ResourceID: resourceID})
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanEntry(row rowScanner) (*Entry, error) {
	var (
		entry       Entry
		userID      sql.NullString
		resourceID  sql.NullString
		detailsJSON []byte
	)
	if err := row.Scan(
		&entry.ID,
		&userID,
		&entry.Action,
		&entry.ResourceType,
		&resourceID,
		&detailsJSON,
		&entry.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to scan activity log: %w", err)
	}

	if userID.Valid {
		entry.UserID = &userID.String
	}
	if resourceID.Valid {
		entry.ResourceID = &resourceID.String
	}
	entry.Details = map[string]interface{}{}
	if len(detailsJSON) > 0 {
		if err := json.Unmarshal(detailsJSON, &entry.Details); err != nil {
			return nil, fmt.Errorf("failed to unmarshal details: %w", err)
		}
	}
	return &entry, nil
}
