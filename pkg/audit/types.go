package audit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidEntry is returned when an entry is missing a required field
var ErrInvalidEntry = errors.New("invalid activity entry")

// Common actions written by the administration service
const (
	ActionCreate     = "create"
	ActionUpdate     = "update"
	ActionDelete     = "delete"
	ActionAssignRole = "assign_role"
	ActionDeactivate = "deactivate"
	ActionActivate   = "activate"
)

// Resource types recorded in activity entries
const (
	ResourceUser = "users"
	ResourceRole = "roles"
)

// Entry is one immutable activity log row
type Entry struct {
	ID           string                 `json:"id"`
	UserID       *string                `json:"user_id,omitempty"`
	Action       string                 `json:"action"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   *string                `json:"resource_id,omitempty"`
	Details      map[string]interface{} `json:"details"`
	CreatedAt    time.Time              `json:"created_at"`
}

// Validate checks the fields every entry must carry
func (e *Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.Action) == "" {
		return fmt.Errorf("%w: action is required", ErrInvalidEntry)
	}
	if strings.TrimSpace(e.ResourceType) == "" {
		return fmt.Errorf("%w: resource_type is required", ErrInvalidEntry)
	}
	return nil
}

// Filter selects entries for search and export
type Filter struct {
	UserID       string
	Action       string
	ResourceType string
	ResourceID   string
	Since        *time.Time
	Until        *time.Time
	Limit        int
	Offset       int
}

// ExportFormat is a supported export encoding
type ExportFormat string

const (
	ExportFormatJSON   ExportFormat = "json"
	ExportFormatNDJSON ExportFormat = "ndjson"
	ExportFormatCSV    ExportFormat = "csv"
)

// ParseExportFormat parses a format name, case-insensitively
func ParseExportFormat(s string) (ExportFormat, error) {
	switch f := ExportFormat(strings.ToLower(strings.TrimSpace(s))); f {
	case ExportFormatJSON, ExportFormatNDJSON, ExportFormatCSV:
		return f, nil
	}
	return "", fmt.Errorf("unsupported export format: %q", s)
}

// Writer appends entries. No update or delete exists.
type Writer interface {
	Append(ctx context.Context, entry *Entry) error
}

// Reader searches entries, newest first
type Reader interface {
	Search(ctx context.Context, filter Filter) ([]Entry, error)
}

// Store is an append-only activity log
type Store interface {
	Writer
	Reader
}

func stringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
