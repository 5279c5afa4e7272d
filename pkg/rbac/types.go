package rbac

import (
	"fmt"
	"sort"
	"strings"
)

// Resource represents a resource type in the system
type Resource string

const (
	ResourceInvoices Resource = "invoices"
	ResourceClients  Resource = "clients"
	ResourceSettings Resource = "settings"
)

// Action represents an action that can be performed on a resource
type Action string

const (
	ActionCreate  Action = "create"
	ActionRead    Action = "read"
	ActionUpdate  Action = "update"
	ActionDelete  Action = "delete"
	ActionApprove Action = "approve"
)

// Permission represents a specific permission (resource + action)
type Permission struct {
	Resource Resource `json:"resource"`
	Action   Action   `json:"action"`
}

// String returns the "resource:action" form of the permission
func (p Permission) String() string {
	return string(p.Resource) + ":" + string(p.Action)
}

// MarshalText encodes the permission as "resource:action"
func (p Permission) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses "resource:action"
func (p *Permission) UnmarshalText(text []byte) error {
	parsed, err := ParsePermission(string(text))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

var (
	InvoicesCreate  = Permission{ResourceInvoices, ActionCreate}
	InvoicesRead    = Permission{ResourceInvoices, ActionRead}
	InvoicesUpdate  = Permission{ResourceInvoices, ActionUpdate}
	InvoicesDelete  = Permission{ResourceInvoices, ActionDelete}
	InvoicesApprove = Permission{ResourceInvoices, ActionApprove}
	ClientsCreate   = Permission{ResourceClients, ActionCreate}
	ClientsRead     = Permission{ResourceClients, ActionRead}
	ClientsUpdate   = Permission{ResourceClients, ActionUpdate}
	ClientsDelete   = Permission{ResourceClients, ActionDelete}
	SettingsRead    = Permission{ResourceSettings, ActionRead}
	SettingsUpdate  = Permission{ResourceSettings, ActionUpdate}
)

// AllPermissions lists every known permission
func AllPermissions() []Permission {
	return []Permission{
		InvoicesCreate, InvoicesRead, InvoicesUpdate, InvoicesDelete, InvoicesApprove,
		ClientsCreate, ClientsRead, ClientsUpdate, ClientsDelete,
		SettingsRead, SettingsUpdate,
	}
}

// ParsePermission parses a known "resource:action" permission
func ParsePermission(s string) (Permission, error) {
	resource, action, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return Permission{}, fmt.Errorf("invalid permission %q: expected resource:action", s)
	}
	p := Permission{Resource: Resource(resource), Action: Action(action)}
	for _, known := range AllPermissions() {
		if known == p {
			return p, nil
		}
	}
	return Permission{}, fmt.Errorf("unknown permission %q", s)
}

// AccessLevel is a privilege tier of the permission table. It is coarser than
// a list of permissions and finer than a membership role.
type AccessLevel string

const (
	LevelAdmin      AccessLevel = "admin"
	LevelManager    AccessLevel = "manager"
	LevelAccountant AccessLevel = "accountant"
	LevelViewer     AccessLevel = "viewer"
)

// AccessLevels returns the levels from most to least privileged
func AccessLevels() []AccessLevel {
	return []AccessLevel{LevelAdmin, LevelManager, LevelAccountant, LevelViewer}
}

// ParseAccessLevel parses a level name
func ParseAccessLevel(s string) (AccessLevel, error) {
	level := AccessLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := levelPermissions[level]; !ok {
		return "", fmt.Errorf("unknown access level %q", s)
	}
	return level, nil
}

type permissionSet map[Permission]struct{}

func setOf(perms ...Permission) permissionSet {
	s := make(permissionSet, len(perms))
	for _, p := range perms {
		s[p] = struct{}{}
	}
	return s
}

// levelPermissions is the static permission table. Each level's set
// contains the set of every level below it.
var levelPermissions = map[AccessLevel]permissionSet{
	LevelAdmin: setOf(AllPermissions()...),
	LevelManager: setOf(
		InvoicesCreate, InvoicesRead, InvoicesUpdate, InvoicesApprove,
		ClientsCreate, ClientsRead, ClientsUpdate,
		SettingsRead,
	),
	LevelAccountant: setOf(
		InvoicesCreate, InvoicesRead, InvoicesUpdate,
		ClientsRead,
	),
	LevelViewer: setOf(InvoicesRead, ClientsRead),
}

// HasPermission reports whether level grants permission. Unknown levels
// grant nothing.
func HasPermission(level AccessLevel, permission Permission) bool {
	_, ok := levelPermissions[level][permission]
	return ok
}

// PermissionsFor returns the permissions granted to level, sorted
func PermissionsFor(level AccessLevel) []Permission {
	perms := make([]Permission, 0, len(levelPermissions[level]))
	for p := range levelPermissions[level] {
		perms = append(perms, p)
	}
	sort.Slice(perms, func(i, j int) bool { return perms[i].String() < perms[j].String() })
	return perms
}

// AccessLevelFor maps a stored membership role onto the permission table:
//
//	owner  -> admin
//	admin  -> manager
//	member -> accountant
//
// The legacy level names manager, accountant and viewer are accepted as
// stored. Anything else, including an empty role, is viewer.
func AccessLevelFor(storedRole string) AccessLevel {
	switch strings.ToLower(strings.TrimSpace(storedRole)) {
	case "owner":
		return LevelAdmin
	case "admin":
		return LevelManager
	case "member":
		return LevelAccountant
	case "manager":
		return LevelManager
	case "accountant":
		return LevelAccountant
	default:
		return LevelViewer
	}
}
