// Package orgs manages organizations and their memberships.
//
// # Roles
//
// Membership roles form a closed set: owner, admin and member. Writes are
// validated (AddMember and UpdateMemberRole reject anything else with
// ErrInvalidRole, and the member_role_check constraint backs this up in the
// database). Reads still coerce unknown stored values to member, the least
// privileged role, and log a warning so legacy rows surface instead of
// granting access.
//
// # Membership Resolution
//
// ResolveMembership answers "which organization does this request act within,
// and what is the caller's role there" with one joined query:
//
//	ms, err := store.ResolveMembership(ctx, userID, orgs.Selector{Slug: "acme"})
//	if errors.Is(err, orgs.ErrNotMember) {
//		// organization missing or caller not a member; callers must not tell these apart
//	}
package orgs
