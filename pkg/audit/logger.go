package audit

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/clinicauth/pkg/contextkeys"
	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// Result reports the outcome of one activity write. Err is never returned to
// the mutation that produced the entry.
type Result struct {
	Entry *Entry
	Err   error
}

// OK reports whether the entry was persisted
func (r Result) OK() bool {
	return r.Err == nil
}

// ActivityLogger records state-changing operations after they succeed
type ActivityLogger struct {
	writer  Writer
	metrics *observability.Metrics
	logger  *observability.Logger
	now     func() time.Time
}

// Option configures an ActivityLogger
type Option func(*ActivityLogger)

// WithMetrics counts writes by status
func WithMetrics(m *observability.Metrics) Option {
	return func(l *ActivityLogger) { l.metrics = m }
}

// WithLogger sets the logger that reports failed writes
func WithLogger(logger *observability.Logger) Option {
	return func(l *ActivityLogger) { l.logger = logger }
}

// NewActivityLogger creates a logger writing to w
func NewActivityLogger(w Writer, opts ...Option) *ActivityLogger {
	l := &ActivityLogger{
		writer: w,
		logger: observability.NopLogger(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogActivity appends one entry. An empty actorID falls back to the principal
// on ctx; an empty resourceID is stored as NULL. A failed write is logged,
// counted and returned in the Result, never as a panic or error return.
func (l *ActivityLogger) LogActivity(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]interface{}) Result {
	if actorID == "" {
		actorID = contextkeys.GetPrincipalID(ctx)
	}
	details = copyDetails(details)
	if rid := contextkeys.GetRequestID(ctx); rid != "" {
		if _, ok := details["request_id"]; !ok {
			details["request_id"] = rid
		}
	}

	entry := &Entry{
		ID:           uuid.NewString(),
		UserID:       stringPtr(actorID),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   stringPtr(resourceID),
		Details:      details,
		CreatedAt:    l.now(),
	}

	err := entry.Validate()
	if err == nil {
		err = l.writer.Append(ctx, entry)
	}
	l.metrics.RecordActivityWrite(err)
	if err != nil {
		l.logger.WithError(err).WithFields(map[string]interface{}{
			"action":        action,
			"resource_type": resourceType,
			"resource_id":   resourceID,
			"user_id":       actorID,
		}).Error("failed to write activity log entry")
	}
	return Result{Entry: entry, Err: err}
}

// LogActivityAsync writes in the background. The write outlives cancellation
// of ctx; the channel receives exactly one Result.
func (l *ActivityLogger) LogActivityAsync(ctx context.Context, actorID, action, resourceType, resourceID string, details map[string]interface{}) <-chan Result {
	out := make(chan Result, 1)
	ctx = context.WithoutCancel(ctx)
	go func() {
		out <- l.LogActivity(ctx, actorID, action, resourceType, resourceID, details)
	}()
	return out
}

func copyDetails(details map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(details)+1)
	for k, v := range details {
		out[k] = v
	}
	return out
}
