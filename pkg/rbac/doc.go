// Package rbac decides whether a clinic user may perform an action.
//
// # Overview
//
// Permissions are (resource, action) pairs from a closed, compiled-in
// catalog. A role is a named set of permissions; a user profile binds one
// authenticated principal to at most one role. There is no inheritance, no
// hierarchy and no wildcard: the admin role lists every permission it holds.
//
// # Resources and Actions
//
//	patients       create read update delete
//	tests          create read update delete
//	bookings       create read update delete
//	users          create read update delete deactivate
//	roles          create read update delete
//	settings       read update system
//	reports        read export
//	activity_logs  read
//
// A permission outside the catalog is rejected when it is constructed, parsed
// from storage or loaded from a role file, never at evaluation time.
//
// # Authorization Context
//
// Each session owns a Provider holding an immutable AuthorizationContext:
//
//	Unauthenticated -> Loading -> Ready | ReadyNoRole | Error
//
// Establish loads the profile and role once. Role edits made afterwards do
// not reach a loaded session until Refresh or the next Establish. A session
// that loaded a role before it was deactivated keeps evaluating against the
// grants it loaded; a new session for that role is denied everything.
//
// # Decisions
//
// Evaluate is deny-by-default. A permission is allowed only when the context
// is Ready, the profile and role are present and active, and the pair is in
// the role's set. Missing data is a denial, never an error.
//
//	ac, _ := provider.Establish(ctx, rbac.Principal{ID: userID})
//	if rbac.HasPermission(ac, rbac.ResourcePatients, rbac.ActionUpdate) {
//		// show the edit form
//	}
//
// Evaluator.CheckPermission also notifies the user on denial and is used at
// mutation entry points. Guards wrap content, actions and HTTP handlers:
//
//	guard := rbac.NewGuard(evaluator, rbac.MustPermission(rbac.ResourceReports, rbac.ActionExport))
//	router.Handle("/reports/export", guard.Middleware(exportHandler))
//
// A guard reports Pending while the context loads, so callers can wait
// instead of flashing a denial.
//
// # Administration
//
// Admin checks the caller, writes through the Store and then records one
// activity entry per mutation. The Store itself performs no authorization.
package rbac
