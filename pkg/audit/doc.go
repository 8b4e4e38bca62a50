// Package audit records an append-only trail of state-changing operations.
//
// # Overview
//
// Every successful mutation made through the administration service produces
// exactly one activity entry: who acted, the action verb, the resource type
// and id, and structured details. Entries are never updated or deleted; no
// API in this package can do either.
//
// # Writers
//
// DBStore is the system of record (activity_logs table). FileWriter mirrors
// entries to a rotated JSON-lines file, and MultiWriter fans out to both.
//
//	store, _ := audit.NewDBStore(db)
//	mirror, _ := audit.NewFileWriter(audit.DefaultFileWriterConfig())
//	logger := audit.NewActivityLogger(audit.NewMultiWriter(store, mirror),
//		audit.WithMetrics(metrics), audit.WithLogger(log))
//
//	res := logger.LogActivity(ctx, actorID, audit.ActionAssignRole, audit.ResourceUser, userID,
//		map[string]interface{}{"role_id": roleID})
//
// # Compliance note
//
// LogActivity runs after the mutation has committed, in a separate write. If
// that write fails the mutation stands and the entry is missing: the failure
// is logged at error level, counted in clinicauth_activity_writes_total with
// status="failure", and returned in Result.Err, but it is never propagated to
// the caller of the mutation. Deployments that require a complete trail must
// alert on that counter.
//
// # Export and archive
//
// Search results can be exported as JSON, NDJSON or CSV, and Archiver uploads
// NDJSON exports to S3-compatible storage.
package audit
