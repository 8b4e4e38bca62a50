// Package notify delivers user-visible denial notifications.
//
// The evaluator's CheckPermission hands every denial at a mutation entry
// point to a Notifier. Sinks are opaque to the engine: LogNotifier writes a
// structured warning, RedisNotifier publishes a JSON message on the
// principal's channel for the UI to surface as a toast, and Multi fans out
// to several sinks.
//
//	rdb, _ := notify.NewRedisClient(ctx, cfg.Redis.URL)
//	n := notify.Multi(
//		notify.NewLogNotifier(logger),
//		notify.NewRedisNotifier(rdb, "clinicauth:denials"),
//	)
//
// Delivery failures are returned to the caller, which logs and drops them;
// a failed notification never changes the decision.
package notify
