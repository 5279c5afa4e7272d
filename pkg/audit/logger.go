package audit

import (
	"context"
	"time"

	"github.com/platinummonkey/invoicer/pkg/contextkeys"
)

// Logger is the interface for audit logging
type Logger interface {
	// Log records an event. Implementations may fill in ID.
	Log(ctx context.Context, event *Event) error

	// Close flushes buffered events
	Close() error
}

// NewEvent creates an event stamped with the current time and the request id
// carried by ctx. Source defaults to SourceAPI.
func NewEvent(ctx context.Context, eventType EventType, status EventStatus) *Event {
	return &Event{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Status:    status,
		Source:    SourceAPI,
		RequestID: contextkeys.GetRequestID(ctx),
	}
}

// NopLogger discards events
type NopLogger struct{}

// Log implements Logger
func (NopLogger) Log(context.Context, *Event) error { return nil }

// Close implements Logger
func (NopLogger) Close() error { return nil }
