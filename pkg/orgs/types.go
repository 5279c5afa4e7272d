package orgs

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotMember is returned when no (organization, member) row matches.
	// It deliberately covers "organization does not exist" too.
	ErrNotMember = errors.New("not a member of this organization")
	// ErrInvalidRole is returned when a role outside the closed set is written
	ErrInvalidRole = errors.New("invalid organization role")
	// ErrNotFound is returned for missing organizations or members
	ErrNotFound = errors.New("not found")
	// ErrAlreadyMember is returned when adding an existing member
	ErrAlreadyMember = errors.New("user is already a member of this organization")
	// ErrLastOwner is returned when a change would leave an organization without an owner
	ErrLastOwner = errors.New("organization must keep at least one owner")
	// ErrSlugTaken is returned when the requested slug is in use
	ErrSlugTaken = errors.New("organization slug already in use")
)

// Role is a membership role. The set is closed: owner, admin, member.
type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

// Roles lists every valid role, most privileged first
func Roles() []Role {
	return []Role{RoleOwner, RoleAdmin, RoleMember}
}

// Valid reports whether r is one of the enumerated roles
func (r Role) Valid() bool {
	switch r {
	case RoleOwner, RoleAdmin, RoleMember:
		return true
	}
	return false
}

func (r Role) String() string {
	return string(r)
}

// ParseRole validates a role for writing. Unlike NormalizeRole it never
// coerces: anything outside the set is ErrInvalidRole.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return r, nil
}

// NormalizeRole maps a stored value onto the closed set. Unknown values
// become RoleMember, the least privileged role. The second result is false
// when the stored value had to be coerced.
func NormalizeRole(stored string) (Role, bool) {
	r := Role(stored)
	if r.Valid() {
		return r, true
	}
	return RoleMember, false
}

// PlanTier is the organization's billing plan
type PlanTier string

const (
	PlanFree       PlanTier = "free"
	PlanPro        PlanTier = "pro"
	PlanEnterprise PlanTier = "enterprise"
)

// NormalizePlan maps unknown or empty values to PlanFree
func NormalizePlan(stored string) PlanTier {
	switch p := PlanTier(stored); p {
	case PlanFree, PlanPro, PlanEnterprise:
		return p
	}
	return PlanFree
}

// Organization is a tenant
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	Plan      PlanTier  `json:"plan"`
	Logo      string    `json:"logo,omitempty"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Member associates one user with one organization
type Member struct {
	ID             string    `json:"id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
}

// MemberDetail is a member joined with the user's profile
type MemberDetail struct {
	Member
	Name  string `json:"name"`
	Email string `json:"email"`
	Image string `json:"image,omitempty"`
}

// Membership is the result of resolving an organization for a user
type Membership struct {
	Organization Organization
	Member       Member
	// StoredRole is the raw column value, kept so callers can report coercions
	StoredRole string
}

// Selector chooses the organization a request acts within. Slug wins when both are set.
type Selector struct {
	Slug string
	ID   string
}

// Empty reports whether neither field is set
func (s Selector) Empty() bool {
	return s.Slug == "" && s.ID == ""
}

func (s Selector) String() string {
	if s.Slug != "" {
		return "slug:" + s.Slug
	}
	return "id:" + s.ID
}

// CreateOrgRequest is the input for CreateOrganization
type CreateOrgRequest struct {
	Name string   `json:"name"`
	Slug string   `json:"slug,omitempty"`
	Plan PlanTier `json:"plan,omitempty"`
	Logo string   `json:"logo,omitempty"`
}

// UpdateMemberRequest is the input for UpdateMemberRole
type UpdateMemberRequest struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

func generateSlug(name string) string {
	slug := strings.ToLower(strings.TrimSpace(name))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			return r
		}
		return -1
	}, slug)
	return strings.Trim(slug, "-")
}
