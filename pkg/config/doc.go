// Package config loads clinicauth configuration from environment variables.
//
// Every setting has a default; LoadConfig validates the combination.
//
// Server settings:
//
//	CLINICAUTH_HOST="0.0.0.0"
//	CLINICAUTH_PORT="8080"
//	CLINICAUTH_READ_TIMEOUT="15s"
//	CLINICAUTH_SESSION_TOKEN=""  # bearer token required on /rbac/sessions
//
// Database settings:
//
//	CLINICAUTH_DATABASE_URL="postgres://localhost/clinicauth?sslmode=disable"
//	CLINICAUTH_DATABASE_MAX_CONNS="10"
//
// Sessions:
//
//	CLINICAUTH_CONTEXT_LOAD_TIMEOUT="10s"
//	CLINICAUTH_SESSION_IDLE_TTL="30m"
//	CLINICAUTH_MAX_SESSIONS="10000"
//
// Denial notifications and activity log:
//
//	CLINICAUTH_REDIS_URL="redis://localhost:6379/0"
//	CLINICAUTH_REDIS_CHANNEL_PREFIX="clinicauth:denials"
//	CLINICAUTH_AUDIT_ASYNC="false"
//	CLINICAUTH_AUDIT_FILE_PATH="/var/log/clinicauth/activity"
//	CLINICAUTH_AUDIT_S3_BUCKET="clinic-activity-archive"
//
// Observability settings:
//
//	CLINICAUTH_LOG_LEVEL="info"  # debug, info, warn, error
//	CLINICAUTH_METRICS_ENABLED="true"
//	CLINICAUTH_OTEL_ENABLED="false"
//	CLINICAUTH_OTEL_ENDPOINT="otel-collector:4317"
package config
