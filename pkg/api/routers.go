package api

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/invoicer/pkg/apperr"
	"github.com/platinummonkey/invoicer/pkg/audit"
	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/middleware"
	"github.com/platinummonkey/invoicer/pkg/orgs"
	"github.com/platinummonkey/invoicer/pkg/procedure"
	"github.com/platinummonkey/invoicer/pkg/rbac"
)

// HealthOutput is the health.check result
type HealthOutput struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Version   string    `json:"version"`
}

// CurrentOrganization is the organizations.current result
type CurrentOrganization struct {
	Organization orgs.Organization `json:"organization"`
	Member       orgs.Member       `json:"member"`
	AccessLevel  rbac.AccessLevel  `json:"access_level"`
	Permissions  []rbac.Permission `json:"permissions"`
}

// MemberList is the members.list result
type MemberList struct {
	Members []*orgs.MemberDetail `json:"members"`
}

// UpdateRoleInput is the members.updateRole input
type UpdateRoleInput struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
}

// UpdateRoleOutput is the members.updateRole result
type UpdateRoleOutput struct {
	UserID string    `json:"user_id"`
	Role   orgs.Role `json:"role"`
}

// SuccessOutput acknowledges a mutation with no other result
type SuccessOutput struct {
	Success bool `json:"success"`
}

var errDemoReadOnly = apperr.Forbidden("the demo organization is read-only")

func (s *Server) procedures() []procedure.Procedure {
	p := s.pipeline
	return []procedure.Procedure{
		procedure.Public(procedure.Meta{
			Name:    "health.check",
			Summary: "Health check",
		}, s.healthCheck),

		procedure.Define(procedure.Meta{
			Name:       "invoices.list",
			Access:     procedure.AccessOrganization,
			Permission: rbac.InvoicesRead.String(),
			Summary:    "List invoices for the organization",
		}, procedure.Then(p.OrgScoped(), procedure.Check(p.RequirePermission(s.checker, rbac.InvoicesRead))), s.listInvoices),

		procedure.Define(procedure.Meta{
			Name:       "clients.list",
			Access:     procedure.AccessOrganization,
			Permission: rbac.ClientsRead.String(),
			Summary:    "List clients for the organization",
		}, procedure.Then(p.OrgScoped(), procedure.Check(p.RequirePermission(s.checker, rbac.ClientsRead))), s.listClients),

		procedure.Define(procedure.Meta{
			Name:    "organizations.current",
			Access:  procedure.AccessOrganization,
			Summary: "Describe the active organization and the caller's access",
		}, p.OrgScoped(), s.currentOrganization),

		procedure.Define(procedure.Meta{
			Name:    "members.list",
			Access:  procedure.AccessOrganization,
			Summary: "List organization members",
		}, p.OrgScoped(), s.listMembers),

		procedure.Define(procedure.Meta{
			Name:    "members.updateRole",
			Kind:    procedure.KindMutation,
			Access:  procedure.AccessAdmin,
			Summary: "Change a member's role",
		}, procedure.Then(p.OrgAdmin(), procedure.Check(procedure.Gate[procedure.OrganizationContext](s.strictLimit))), s.updateMemberRole),

		procedure.Define(procedure.Meta{
			Name:    "organizations.delete",
			Kind:    procedure.KindMutation,
			Access:  procedure.AccessOwner,
			Summary: "Delete the organization",
		}, procedure.Then(p.OrgOwner(), procedure.Check(procedure.Gate[procedure.OrganizationContext](s.strictLimit))), s.deleteOrganization),
	}
}

// strictLimit spends the caller's strict budget once guards have identified them
func (s *Server) strictLimit(ctx context.Context, oc procedure.OrganizationContext) error {
	if s.strict == nil {
		return nil
	}
	_, err := middleware.Check(ctx, s.strict, middleware.LimiterStrict, middleware.UserKey(oc.User.ID), s.metrics)
	return err
}

func (s *Server) healthCheck(ctx context.Context, _ procedure.RequestContext, _ struct{}) (HealthOutput, error) {
	return HealthOutput{Status: "ok", Timestamp: s.now().UTC(), Version: s.version}, nil
}

func (s *Server) ledgerFor(oc procedure.OrganizationContext) LedgerStore {
	if oc.IsDemo() {
		return demoLedger{}
	}
	return s.ledger
}

func (s *Server) listInvoices(ctx context.Context, oc procedure.OrganizationContext, in ListInput) (*InvoiceList, error) {
	list, err := s.ledgerFor(oc).ListInvoices(ctx, oc.Organization.ID, in)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

func (s *Server) listClients(ctx context.Context, oc procedure.OrganizationContext, in ListInput) (*ClientList, error) {
	list, err := s.ledgerFor(oc).ListClients(ctx, oc.Organization.ID, in)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return list, nil
}

func (s *Server) currentOrganization(ctx context.Context, oc procedure.OrganizationContext, _ struct{}) (CurrentOrganization, error) {
	level := rbac.AccessLevelFor(string(oc.Member.Role))
	if !oc.IsDemo() {
		// the checker reads the stored role, which may be a legacy level name
		result, err := s.checker.CheckPermission(ctx, rbac.Subject{
			UserID:         oc.User.ID,
			OrganizationID: oc.Organization.ID,
		}, rbac.InvoicesRead)
		if err != nil {
			return CurrentOrganization{}, apperr.Internal(err)
		}
		level = result.Level
	}

	return CurrentOrganization{
		Organization: oc.Organization,
		Member:       oc.Member,
		AccessLevel:  level,
		Permissions:  effectivePermissions(level, oc.Credential),
	}, nil
}

// effectivePermissions narrows a level's permissions to the API key's grant
func effectivePermissions(level rbac.AccessLevel, cred auth.Credential) []rbac.Permission {
	perms := rbac.PermissionsFor(level)
	if !cred.IsAPIKey() {
		return perms
	}
	granted := make(map[string]struct{}, len(cred.Permissions))
	for _, p := range cred.Permissions {
		granted[p] = struct{}{}
	}
	out := make([]rbac.Permission, 0, len(perms))
	for _, p := range perms {
		if _, ok := granted[p.String()]; ok {
			out = append(out, p)
		}
	}
	return out
}

func (s *Server) listMembers(ctx context.Context, oc procedure.OrganizationContext, _ struct{}) (MemberList, error) {
	if oc.IsDemo() {
		return MemberList{Members: []*orgs.MemberDetail{{
			Member: oc.Member,
			Name:   oc.User.Name,
			Email:  oc.User.Email,
		}}}, nil
	}

	members, err := s.orgs.ListMembers(ctx, oc.Organization.ID)
	if err != nil {
		return MemberList{}, apperr.Internal(err)
	}
	if members == nil {
		members = []*orgs.MemberDetail{}
	}
	return MemberList{Members: members}, nil
}

func (s *Server) updateMemberRole(ctx context.Context, oc procedure.OrganizationContext, in UpdateRoleInput) (UpdateRoleOutput, error) {
	if in.UserID == "" {
		return UpdateRoleOutput{}, apperr.BadRequest("user_id is required")
	}
	role, err := orgs.ParseRole(in.Role)
	if err != nil {
		return UpdateRoleOutput{}, apperr.BadRequest("role must be one of owner, admin, member")
	}
	if oc.IsDemo() {
		return UpdateRoleOutput{}, errDemoReadOnly
	}
	// granting or revoking ownership is reserved to owners
	if role == orgs.RoleOwner && oc.Member.Role != orgs.RoleOwner {
		return UpdateRoleOutput{}, apperr.Forbidden("only owners can grant the owner role")
	}
	stored, err := s.orgs.GetMemberRole(ctx, in.UserID, oc.Organization.ID)
	switch {
	case errors.Is(err, orgs.ErrNotMember):
		return UpdateRoleOutput{}, apperr.NotFound("member not found")
	case err != nil:
		return UpdateRoleOutput{}, apperr.Internal(err)
	}
	previous, _ := orgs.NormalizeRole(stored)
	if previous == orgs.RoleOwner && oc.Member.Role != orgs.RoleOwner {
		return UpdateRoleOutput{}, apperr.Forbidden("only owners can change an owner's role")
	}

	err = s.orgs.UpdateMemberRole(ctx, oc.Organization.ID, in.UserID, role)
	switch {
	case errors.Is(err, orgs.ErrNotFound):
		return UpdateRoleOutput{}, apperr.NotFound("member not found")
	case errors.Is(err, orgs.ErrLastOwner):
		return UpdateRoleOutput{}, apperr.Conflict(orgs.ErrLastOwner.Error())
	case err != nil:
		return UpdateRoleOutput{}, apperr.Internal(err)
	}

	s.checker.InvalidateCache(in.UserID, oc.Organization.ID)
	s.entry(oc.RequestContext).WithFields(logrus.Fields{
		"organization_id": oc.Organization.ID,
		"target_user_id":  in.UserID,
		"role":            role,
		"actor_user_id":   oc.User.ID,
	}).Info("member role updated")

	event := s.actorEvent(ctx, oc, audit.EventTypeRoleChange)
	event.ResourceType = audit.ResourceTypeMember
	event.ResourceID = in.UserID
	event.Changes = &audit.ChangeDetails{
		Before: map[string]interface{}{"role": string(previous)},
		After:  map[string]interface{}{"role": string(role)},
	}
	s.record(oc.RequestContext, event)

	return UpdateRoleOutput{UserID: in.UserID, Role: role}, nil
}

func (s *Server) deleteOrganization(ctx context.Context, oc procedure.OrganizationContext, _ struct{}) (SuccessOutput, error) {
	if oc.IsDemo() {
		return SuccessOutput{}, errDemoReadOnly
	}

	err := s.orgs.DeleteOrganization(ctx, oc.Organization.ID)
	switch {
	case errors.Is(err, orgs.ErrNotFound):
		return SuccessOutput{}, apperr.NotFound("organization not found")
	case err != nil:
		return SuccessOutput{}, apperr.Internal(err)
	}

	s.entry(oc.RequestContext).WithFields(logrus.Fields{
		"organization_id": oc.Organization.ID,
		"actor_user_id":   oc.User.ID,
	}).Warn("organization deleted")

	event := s.actorEvent(ctx, oc, audit.EventTypeOrgDelete)
	event.ResourceType = audit.ResourceTypeOrganization
	event.ResourceID = oc.Organization.ID
	event.Metadata = map[string]interface{}{"slug": oc.Organization.Slug, "name": oc.Organization.Name}
	s.record(oc.RequestContext, event)

	return SuccessOutput{Success: true}, nil
}

// actorEvent starts a successful event attributed to the caller
func (s *Server) actorEvent(ctx context.Context, oc procedure.OrganizationContext, eventType audit.EventType) *audit.Event {
	event := audit.NewEvent(ctx, eventType, audit.EventStatusSuccess)
	event.ActorUserID = oc.User.ID
	event.OrganizationID = oc.Organization.ID
	if oc.Credential.IsAPIKey() {
		event.APIKeyID = oc.Credential.APIKeyID
	}
	return event
}
