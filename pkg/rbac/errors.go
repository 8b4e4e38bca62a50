package rbac

import "errors"

var (
	// ErrNotFound is returned when a role or user profile does not exist
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for malformed writes to roles or user profiles
	ErrValidation = errors.New("validation failed")

	// ErrPermissionDenied is returned by mutation entry points when the
	// evaluator denied the caller. The evaluator itself only returns booleans.
	ErrPermissionDenied = errors.New("permission denied")

	// ErrContextPending is returned by mutation entry points while the
	// caller's authorization context is still loading. Retry later.
	ErrContextPending = errors.New("authorization context is loading")

	// ErrUnknownPermission is returned for a (resource, action) pair outside the catalog
	ErrUnknownPermission = errors.New("unknown permission")

	// ErrNoSession is returned when a provider operation needs an established principal
	ErrNoSession = errors.New("no principal established")
)
