package procedure

import (
	"net/http"
	"time"

	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/orgs"
)

// Fixed demo identities. Every demo request shares them.
const (
	DemoUserID       = "demo-user-001"
	DemoUserEmail    = "demo@example.com"
	DemoUserName     = "Demo User"
	DemoSessionID    = "demo-session-001"
	DemoSessionToken = "demo-token"
	DemoOrgID        = "demo-org"
	DemoOrgName      = "Demo Organization"
	DemoOrgSlug      = "demo"
	DemoMemberID     = "demo-member-001"

	demoSessionTTL = 7 * 24 * time.Hour
)

// IsDemoRequest reports whether headers ask for demo mode. Only the exact
// value "true" counts.
func IsDemoRequest(headers http.Header) bool {
	return headers != nil && headers.Get(HeaderDemoMode) == "true"
}

// DemoIdentity returns the synthetic demo user and session
func DemoIdentity(now time.Time) (auth.User, auth.Session) {
	user := auth.User{
		ID:            DemoUserID,
		Email:         DemoUserEmail,
		Name:          DemoUserName,
		EmailVerified: true,
	}
	session := auth.Session{
		ID:                   DemoSessionID,
		ExpiresAt:            now.Add(demoSessionTTL),
		Token:                DemoSessionToken,
		UserID:               DemoUserID,
		ActiveOrganizationID: DemoOrgID,
	}
	return user, session
}

// DemoOrganization returns the synthetic demo organization and owner membership
func DemoOrganization() (orgs.Organization, orgs.Member) {
	org := orgs.Organization{
		ID:   DemoOrgID,
		Name: DemoOrgName,
		Slug: DemoOrgSlug,
		Plan: orgs.PlanPro,
	}
	member := orgs.Member{
		ID:             DemoMemberID,
		OrganizationID: DemoOrgID,
		UserID:         DemoUserID,
		Role:           orgs.RoleOwner,
	}
	return org, member
}
