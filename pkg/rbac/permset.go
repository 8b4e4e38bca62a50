package rbac

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// PermissionSet is an immutable set of catalog permissions. The zero value is
// the empty set and grants nothing.
type PermissionSet struct {
	m map[Permission]struct{}
}

// NewPermissionSet builds a set, rejecting any pair not in the catalog
func NewPermissionSet(perms ...Permission) (PermissionSet, error) {
	m := make(map[Permission]struct{}, len(perms))
	for _, p := range perms {
		if !p.IsKnown() {
			return PermissionSet{}, fmt.Errorf("%w: %s", ErrUnknownPermission, p)
		}
		m[p] = struct{}{}
	}
	return PermissionSet{m: m}, nil
}

// MustPermissionSet panics if any permission is unknown
func MustPermissionSet(perms ...Permission) PermissionSet {
	s, err := NewPermissionSet(perms...)
	if err != nil {
		panic(fmt.Sprintf("rbac.MustPermissionSet: %v", err))
	}
	return s
}

// Has reports set membership
func (s PermissionSet) Has(p Permission) bool {
	_, ok := s.m[p]
	return ok
}

// Len returns the number of granted permissions
func (s PermissionSet) Len() int {
	return len(s.m)
}

// List returns the permissions sorted by resource then action
func (s PermissionSet) List() []Permission {
	out := make([]Permission, 0, len(s.m))
	for p := range s.m {
		out = append(out, p)
	}
	sortPermissions(out)
	return out
}

// Strings returns the sorted "resource:action" forms
func (s PermissionSet) Strings() []string {
	list := s.List()
	out := make([]string, len(list))
	for i, p := range list {
		out[i] = p.String()
	}
	return out
}

// Equal reports whether both sets hold the same permissions
func (s PermissionSet) Equal(other PermissionSet) bool {
	if s.Len() != other.Len() {
		return false
	}
	for p := range s.m {
		if !other.Has(p) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the set as {"resource": ["action", ...]}, the shape stored
// in the roles.permissions column.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	grouped := make(map[Resource][]Action)
	for _, p := range s.List() {
		grouped[p.Resource] = append(grouped[p.Resource], p.Action)
	}
	return json.Marshal(grouped)
}

// UnmarshalJSON accepts the grouped object form and the flat
// [{"resource": ..., "action": ...}] list form. Unknown pairs are rejected.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*s = PermissionSet{}
		return nil
	}

	var perms []Permission
	switch data[0] {
	case '{':
		var grouped map[Resource][]Action
		if err := json.Unmarshal(data, &grouped); err != nil {
			return fmt.Errorf("decode permissions: %w", err)
		}
		resources := make([]Resource, 0, len(grouped))
		for res := range grouped {
			resources = append(resources, res)
		}
		sort.Slice(resources, func(i, j int) bool { return resources[i] < resources[j] })
		for _, res := range resources {
			for _, act := range grouped[res] {
				perms = append(perms, Permission{Resource: res, Action: act})
			}
		}
	case '[':
		if err := json.Unmarshal(data, &perms); err != nil {
			return fmt.Errorf("decode permissions: %w", err)
		}
	default:
		return fmt.Errorf("decode permissions: unexpected JSON %q", string(data[:1]))
	}

	set, err := NewPermissionSet(perms...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
