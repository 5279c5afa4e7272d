// Package procedure is the authorization pipeline every API procedure runs
// through.
//
// Each stage takes the context produced by the previous one and either
// returns a richer context or fails with an apperr condition:
//
//	RequestContext
//	  -> Authenticate        -> AuthenticatedContext   (401 on any session failure)
//	  -> ResolveOrganization -> OrganizationContext    (400 without selector, 403 when not a member)
//	  -> RequireRole / RequirePermission gates          (403)
//
// Contexts embed their predecessor by value, so a later stage can never
// observe a half-built context and nothing is shared between requests.
//
// Stages compose with Then and Check:
//
//	orgAdmin := procedure.Then(p.OrgScoped(), procedure.Check(p.AdminOrOwner()))
//
// # Demo mode
//
// A request carrying "X-Demo-Mode: true" (exactly) is answered with fixed
// synthetic identities: user demo-user-001, organization demo-org with an
// owner membership. Neither the session resolver nor the database is
// consulted. Demo mode can be switched off with WithDemoMode(false).
package procedure
