package notify

import (
	"context"

	"github.com/platinummonkey/clinicauth/pkg/observability"
)

// LogNotifier writes denials to the structured log
type LogNotifier struct {
	logger *observability.Logger
}

// NewLogNotifier creates a log sink
func NewLogNotifier(logger *observability.Logger) *LogNotifier {
	if logger == nil {
		logger = observability.NopLogger()
	}
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Name() string { return "log" }

func (n *LogNotifier) NotifyDenied(ctx context.Context, d Denial) error {
	n.logger.WithFields(map[string]interface{}{
		"principal_id": d.PrincipalID,
		"session_id":   d.SessionID,
		"resource":     d.Resource,
		"action":       d.Action,
		"reason":       d.Reason,
	}).Warn(d.Message)
	return nil
}
