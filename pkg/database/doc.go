// Package database opens the PostgreSQL pool and applies versioned schema
// migrations for the roles, user_profiles and activity_logs tables.
//
//	db, err := database.Open(ctx, database.Config{URL: cfg.Database.URL})
//	err = database.Migrate(ctx, db, append(rbac.Migrations(), audit.Migrations()...), logger)
//
// Migrations are recorded in schema_migrations and each runs in its own
// transaction. Versions are global across packages and must be unique.
package database
