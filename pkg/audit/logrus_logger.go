package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// LogrusLogger writes each event as one structured log line tagged audit=true
type LogrusLogger struct {
	logger logrus.FieldLogger
}

// NewLogrusLogger creates an audit logger on top of a logrus logger
func NewLogrusLogger(logger logrus.FieldLogger) *LogrusLogger {
	return &LogrusLogger{logger: logger}
}

// Log implements Logger
func (l *LogrusLogger) Log(_ context.Context, event *Event) error {
	fields := logrus.Fields{
		"audit":      true,
		"event_type": event.EventType,
		"status":     event.Status,
		"source":     event.Source,
	}
	set := func(key, value string) {
		if value != "" {
			fields[key] = value
		}
	}
	set("actor_user_id", event.ActorUserID)
	set("organization_id", event.OrganizationID)
	set("api_key_id", event.APIKeyID)
	set("resource_type", string(event.ResourceType))
	set("resource_id", event.ResourceID)
	set("request_id", event.RequestID)
	set("ip_address", event.IPAddress)
	for k, v := range event.Metadata {
		fields["meta_"+k] = v
	}
	if event.Changes != nil {
		fields["changes"] = event.Changes
	}

	msg := event.Message
	if msg == "" {
		msg = string(event.EventType)
	}

	entry := l.logger.WithFields(fields)
	if event.Status == EventStatusSuccess {
		entry.Info(msg)
	} else {
		entry.Warn(msg)
	}
	return nil
}

// Close implements Logger
func (l *LogrusLogger) Close() error {
	return nil
}
