// Package audit records security-relevant changes: membership role changes,
// organization deletion, API key issuance and revocation, and authorization
// denials.
//
// Events are written through a Logger. DBLogger appends to the audit_event
// table, LogrusLogger emits one structured log line per event, and
// MultiLogger fans out to several destinations.
//
//	logger := audit.NewMultiLogger(
//		audit.NewDBLogger(db, stats),
//		audit.NewLogrusLogger(log),
//	)
//	event := audit.NewEvent(ctx, audit.EventTypeRoleChange, audit.EventStatusSuccess)
//	event.ActorUserID = user.ID
//	_ = logger.Log(ctx, event)
//
// Audit failures never fail the operation being audited. Callers log the
// error and continue.
package audit
