package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

// DBLogger appends audit events to the audit_event table created by the
// storage migrations
type DBLogger struct {
	db    *sql.DB
	stats *observability.QueryStats
}

// NewDBLogger creates a new database-backed audit logger. stats may be nil.
func NewDBLogger(db *sql.DB, stats *observability.QueryStats) *DBLogger {
	return &DBLogger{db: db, stats: stats}
}

// Log inserts the event and sets its ID
func (l *DBLogger) Log(ctx context.Context, event *Event) error {
	var metadataJSON, changesJSON []byte
	var err error

	if len(event.Metadata) > 0 {
		metadataJSON, err = json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal metadata: %w", err)
		}
	}
	if event.Changes != nil {
		changesJSON, err = json.Marshal(event.Changes)
		if err != nil {
			return fmt.Errorf("failed to marshal changes: %w", err)
		}
	}

	err = l.stats.Track(ctx, "audit.insert_event", func(ctx context.Context) error {
		return l.db.QueryRowContext(ctx, `
			INSERT INTO audit_event (
				occurred_at, event_type, status, source,
				actor_user_id, organization_id, api_key_id,
				resource_type, resource_id,
				request_id, ip_address,
				message, metadata, changes
			) VALUES (
				$1, $2, $3, $4,
				NULLIF($5, ''), NULLIF($6, ''), NULLIF($7, ''),
				NULLIF($8, ''), NULLIF($9, ''),
				NULLIF($10, ''), NULLIF($11, ''),
				NULLIF($12, ''), $13, $14
			) RETURNING id
		`,
			event.Timestamp, event.EventType, event.Status, event.Source,
			event.ActorUserID, event.OrganizationID, event.APIKeyID,
			event.ResourceType, event.ResourceID,
			event.RequestID, event.IPAddress,
			event.Message, nullJSON(metadataJSON), nullJSON(changesJSON),
		).Scan(&event.ID)
	})
	if err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// Close implements Logger; the database handle is owned by the caller
func (l *DBLogger) Close() error {
	return nil
}

func nullJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}
