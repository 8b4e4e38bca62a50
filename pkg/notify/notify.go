package notify

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Denial describes one refused action for the acting principal
type Denial struct {
	PrincipalID string    `json:"principal_id"`
	SessionID   string    `json:"session_id,omitempty"`
	Resource    string    `json:"resource"`
	Action      string    `json:"action"`
	Reason      string    `json:"reason"`
	Message     string    `json:"message"`
	At          time.Time `json:"at"`
}

// DefaultMessage is the operator-facing text for a denial
func DefaultMessage(resource, action string) string {
	return fmt.Sprintf("Access Denied: you do not have permission to %s %s", action, resource)
}

// Notifier delivers denial notifications
type Notifier interface {
	Name() string
	NotifyDenied(ctx context.Context, d Denial) error
}

// Nop discards notifications
type Nop struct{}

func (Nop) Name() string                                { return "nop" }
func (Nop) NotifyDenied(context.Context, Denial) error { return nil }

type multi struct {
	sinks []Notifier
}

// Multi returns a Notifier that delivers to every sink, joining their errors
func Multi(sinks ...Notifier) Notifier {
	flat := make([]Notifier, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			flat = append(flat, s)
		}
	}
	return &multi{sinks: flat}
}

func (m *multi) Name() string { return "multi" }

func (m *multi) NotifyDenied(ctx context.Context, d Denial) error {
	var errs []error
	for _, s := range m.sinks {
		if err := s.NotifyDenied(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
		}
	}
	return errors.Join(errs...)
}
