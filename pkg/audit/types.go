package audit

import (
	"time"
)

// EventType represents the category of audit event
type EventType string

const (
	// Authorization events
	EventTypeAccessDenied EventType = "authz.access_denied"
	EventTypeRoleChange   EventType = "authz.role_change"

	// Credential events
	EventTypeAPIKeyCreate EventType = "auth.api_key_create"
	EventTypeAPIKeyRevoke EventType = "auth.api_key_revoke"

	// Organization events
	EventTypeOrgDelete EventType = "admin.org_delete"
)

// EventStatus represents the outcome of an event
type EventStatus string

const (
	EventStatusSuccess EventStatus = "success"
	EventStatusFailure EventStatus = "failure"
	EventStatusDenied  EventStatus = "denied"
)

// ResourceType represents the type of resource acted on
type ResourceType string

const (
	ResourceTypeOrganization ResourceType = "organization"
	ResourceTypeMember       ResourceType = "member"
	ResourceTypeAPIKey       ResourceType = "api_key"
	ResourceTypeProcedure    ResourceType = "procedure"
)

// Source identifies which surface produced an event
type Source string

const (
	SourceAPI Source = "api"
	SourceCLI Source = "cli"
)

// Event is a single audit log entry
type Event struct {
	ID        int64       `json:"id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
	EventType EventType   `json:"event_type"`
	Status    EventStatus `json:"status"`
	Source    Source      `json:"source"`

	// Actor
	ActorUserID    string `json:"actor_user_id,omitempty"`
	OrganizationID string `json:"organization_id,omitempty"`
	APIKeyID       string `json:"api_key_id,omitempty"`

	// Resource
	ResourceType ResourceType `json:"resource_type,omitempty"`
	ResourceID   string       `json:"resource_id,omitempty"`

	// Request
	RequestID string `json:"request_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`

	Message  string                 `json:"message,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
	Changes  *ChangeDetails         `json:"changes,omitempty"`
}

// ChangeDetails tracks before/after values for updates
type ChangeDetails struct {
	Before map[string]interface{} `json:"before,omitempty"`
	After  map[string]interface{} `json:"after,omitempty"`
}
