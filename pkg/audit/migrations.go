package audit

import "github.com/platinummonkey/clinicauth/pkg/database"

// MigrationVersion is the schema version that creates activity_logs. It
// follows the rbac migrations in the shared schema_migrations table.
const MigrationVersion = 3

// Migrations returns the PostgreSQL schema for the activity log
func Migrations() []database.Migration {
	return []database.Migration{
		{
			Version:     MigrationVersion,
			Description: "Create activity_logs table",
			SQL: `
				CREATE TABLE IF NOT EXISTS activity_logs (
					id UUID PRIMARY KEY,
					user_id VARCHAR(255),
					action VARCHAR(100) NOT NULL,
					resource_type VARCHAR(100) NOT NULL,
					resource_id VARCHAR(255),
					details JSONB NOT NULL DEFAULT '{}',
					created_at TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
				);

				CREATE INDEX IF NOT EXISTS idx_activity_logs_created_at ON activity_logs(created_at DESC);
				CREATE INDEX IF NOT EXISTS idx_activity_logs_user_id ON activity_logs(user_id);
				CREATE INDEX IF NOT EXISTS idx_activity_logs_resource ON activity_logs(resource_type, resource_id);
			`,
		},
	}
}
