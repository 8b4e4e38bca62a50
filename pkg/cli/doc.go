// Package cli provides the clinicauth command-line interface.
//
// # Overview
//
// This package implements the `clinicauth` binary: schema migrations, role
// seeding, permission checks, activity log queries and the HTTP service.
// Every command reads its configuration from CLINICAUTH_* environment
// variables (see pkg/config).
//
// # Commands
//
// migrate: Apply the role store and activity log migrations
//
//	clinicauth migrate
//
// seed: Create or update roles by name
//
//	clinicauth seed --file roles.yaml
//	clinicauth seed --file roles.yaml --watch
//	clinicauth seed --builtin=false --file roles.yaml
//
// roles: List roles, or the permission catalog
//
//	clinicauth roles --active
//	clinicauth roles --catalog
//
// check: Evaluate one permission for a user. Exits non-zero when denied.
//
//	clinicauth check --user 0b6f... --resource patients --action read
//
// audit: Search, export and archive the activity log
//
//	clinicauth audit search --resource-type users --since 2024-01-01T00:00:00Z
//	clinicauth audit export --format csv --out activity.csv
//	clinicauth audit archive --bucket clinic-audit --prefix activity
//
// serve: Run the HTTP API
//
//	clinicauth serve --migrate --seed
//
// # Related Packages
//
//   - pkg/rbac: Authorization engine and HTTP handlers
//   - pkg/audit: Activity log storage, export and archive
//   - pkg/database: Connection pool and migrations
package cli
