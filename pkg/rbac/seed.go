package rbac

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/platinummonkey/clinicauth/pkg/audit"
	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// roleFile is the YAML layout of a role definition file:
//
//	roles:
//	  - name: billing
//	    display_name: Billing Clerk
//	    permissions:
//	      patients: [read]
//	      reports: [read, export]
type roleFile struct {
	Roles []roleDoc `yaml:"roles"`
}

type roleDoc struct {
	Name        string              `yaml:"name"`
	DisplayName string              `yaml:"display_name"`
	Description string              `yaml:"description"`
	Active      *bool               `yaml:"active"`
	Permissions map[string][]string `yaml:"permissions"`
}

// ParseRoleDefinitions decodes a role file. Any permission outside the
// catalog fails the whole file.
func ParseRoleDefinitions(data []byte) ([]RoleDefinition, error) {
	var file roleFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("failed to parse role definitions: %w", err)
	}

	seen := make(map[string]bool, len(file.Roles))
	defs := make([]RoleDefinition, 0, len(file.Roles))
	for i, doc := range file.Roles {
		name := strings.ToLower(strings.TrimSpace(doc.Name))
		if name == "" {
			return nil, fmt.Errorf("%w: role %d has no name", ErrValidation, i)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: role %q defined twice", ErrValidation, name)
		}
		seen[name] = true

		var perms []Permission
		for res, actions := range doc.Permissions {
			for _, act := range actions {
				p, err := NewPermission(Resource(res), Action(act))
				if err != nil {
					return nil, fmt.Errorf("role %q: %w", name, err)
				}
				perms = append(perms, p)
			}
		}
		set, err := NewPermissionSet(perms...)
		if err != nil {
			return nil, fmt.Errorf("role %q: %w", name, err)
		}

		active := true
		if doc.Active != nil {
			active = *doc.Active
		}
		defs = append(defs, RoleDefinition{
			Name:        name,
			DisplayName: doc.DisplayName,
			Description: doc.Description,
			Permissions: set,
			IsActive:    active,
		})
	}
	return defs, nil
}

// LoadRoleFile reads and parses a role definition file
func LoadRoleFile(path string) ([]RoleDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRoleDefinitions(data)
}

// MergeDefinitions overlays defs by name; later definitions replace earlier
// ones. The result is sorted by name.
func MergeDefinitions(sets ...[]RoleDefinition) []RoleDefinition {
	byName := make(map[string]RoleDefinition)
	for _, defs := range sets {
		for _, d := range defs {
			byName[strings.ToLower(strings.TrimSpace(d.Name))] = d
		}
	}
	out := make([]RoleDefinition, 0, len(byName))
	for _, d := range byName {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// SeedResult lists role names by what Seed did with them
type SeedResult struct {
	Created   []string
	Updated   []string
	Unchanged []string
}

// SeedOption configures Seed
type SeedOption func(*seeder)

type seeder struct {
	activity *audit.ActivityLogger
}

// WithSeedActivity records one activity entry per created or updated role.
// Entries carry the principal on ctx as actor, or none when seeding runs
// outside a session, and "source": "seed" in their details.
func WithSeedActivity(l *audit.ActivityLogger) SeedOption {
	return func(s *seeder) { s.activity = l }
}

func (s *seeder) record(ctx context.Context, action string, role *Role, previous *PermissionSet) {
	if s.activity == nil {
		return
	}
	details := map[string]interface{}{
		"source":      "seed",
		"name":        role.Name,
		"permissions": role.Permissions.Strings(),
		"is_active":   role.IsActive,
	}
	if previous != nil {
		details["previous_permissions"] = previous.Strings()
	}
	s.activity.LogActivity(ctx, "", action, audit.ResourceRole, role.ID, details)
}

// Seed upserts roles by name. Roles not named in defs are left alone.
// Sessions already holding a seeded role are not refreshed.
func Seed(ctx context.Context, store *Store, defs []RoleDefinition, opts ...SeedOption) (*SeedResult, error) {
	sd := &seeder{}
	for _, opt := range opts {
		opt(sd)
	}

	result := &SeedResult{}
	for _, def := range defs {
		role, err := store.GetRoleByName(ctx, def.Name)
		switch {
		case errors.Is(err, ErrNotFound):
			role = &Role{
				Name:        def.Name,
				DisplayName: def.DisplayName,
				Description: def.Description,
				Permissions: def.Permissions,
				IsActive:    def.IsActive,
			}
			if err := store.CreateRole(ctx, role); err != nil {
				return result, fmt.Errorf("failed to seed role %q: %w", def.Name, err)
			}
			result.Created = append(result.Created, role.Name)
			sd.record(ctx, audit.ActionCreate, role, nil)
			continue
		case err != nil:
			return result, err
		}

		displayName := def.DisplayName
		if strings.TrimSpace(displayName) == "" {
			displayName = role.Name
		}
		if role.DisplayName == displayName && role.Description == def.Description &&
			role.IsActive == def.IsActive && role.Permissions.Equal(def.Permissions) {
			result.Unchanged = append(result.Unchanged, role.Name)
			continue
		}

		previous := role.Permissions
		role.DisplayName = displayName
		role.Description = def.Description
		role.Permissions = def.Permissions
		role.IsActive = def.IsActive
		if err := store.UpdateRole(ctx, role); err != nil {
			return result, fmt.Errorf("failed to seed role %q: %w", def.Name, err)
		}
		result.Updated = append(result.Updated, role.Name)
		sd.record(ctx, audit.ActionUpdate, role, &previous)
	}
	return result, nil
}

// WatchRoleFile calls apply with the parsed file each time it changes, until
// ctx is done. The directory is watched so editors that replace the file by
// rename are picked up. A file that fails to parse is logged and skipped.
func WatchRoleFile(ctx context.Context, path string, apply func(context.Context, []RoleDefinition) error, logger *observability.Logger) error {
	if logger == nil {
		logger = observability.NopLogger()
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	target := filepath.Clean(path)
	log := logger.WithField("path", target)
	log.Info("watching role definitions")

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			defs, err := LoadRoleFile(target)
			if err != nil {
				log.WithError(err).Warn("role definitions not applied")
				continue
			}
			if err := apply(ctx, defs); err != nil {
				log.WithError(err).Error("failed to apply role definitions")
				continue
			}
			log.WithField("roles", len(defs)).Info("role definitions applied")
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.WithError(err).Warn("watcher error")
		}
	}
}
