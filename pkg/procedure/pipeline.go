package procedure

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/invoicer/pkg/apperr"
	"github.com/platinummonkey/invoicer/pkg/auth"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/orgs"
	"github.com/platinummonkey/invoicer/pkg/rbac"
)

// Stage names used in logs, metrics and spans
const (
	StageAuthenticate = "authenticate"
	StageOrganization = "organization"
	StageRole         = "role"
	StagePermission   = "permission"
)

// Pipeline holds the collaborators of the authorization stages
type Pipeline struct {
	sessions    auth.SessionResolver
	members     orgs.MembershipStore
	demoEnabled bool
	now         func() time.Time
	metrics     *observability.Metrics
	otel        *observability.OTelMetrics
	tracer      trace.Tracer
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithDemoMode enables or disables the x-demo-mode short-circuit
func WithDemoMode(enabled bool) Option {
	return func(p *Pipeline) { p.demoEnabled = enabled }
}

// WithMetrics records guard outcomes in prometheus
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithOTelMetrics records guard outcomes through OpenTelemetry
func WithOTelMetrics(m *observability.OTelMetrics) Option {
	return func(p *Pipeline) { p.otel = m }
}

// WithClock overrides the clock used for demo session expiry
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline. Demo mode is enabled by default.
func NewPipeline(sessions auth.SessionResolver, members orgs.MembershipStore, opts ...Option) *Pipeline {
	p := &Pipeline{
		sessions:    sessions,
		members:     members,
		demoEnabled: true,
		now:         time.Now,
		tracer:      observability.Tracer("github.com/platinummonkey/invoicer/pkg/procedure"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Pipeline) isDemo(rc RequestContext) bool {
	return p.demoEnabled && IsDemoRequest(rc.Headers)
}

// observe closes a stage span and records its outcome
func (p *Pipeline) observe(ctx context.Context, span trace.Span, stage string, start time.Time, outcome string, err error) {
	d := time.Since(start)
	p.metrics.ObserveGuard(stage, outcome, d)
	p.otel.RecordGuard(ctx, stage, outcome, d)
	span.SetAttributes(attribute.String("guard.outcome", outcome))
	if err != nil {
		span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
	}
	span.End()
}

func outcomeOf(err error) string {
	if err == nil {
		return "allowed"
	}
	return strings.ToLower(string(apperr.CodeOf(err)))
}

// Authenticate verifies the caller. Any failure to resolve a session, whether
// the resolver found none or failed outright, is Unauthorized.
func (p *Pipeline) Authenticate(ctx context.Context, rc RequestContext) (out AuthenticatedContext, err error) {
	ctx, span := p.tracer.Start(ctx, "procedure.authenticate")
	start := time.Now()
	outcome := ""
	defer func() {
		if outcome == "" {
			outcome = outcomeOf(err)
		}
		p.observe(ctx, span, StageAuthenticate, start, outcome, err)
	}()

	if rc.Headers == nil {
		return AuthenticatedContext{}, apperr.Unauthorized("request headers are required")
	}

	if p.isDemo(rc) {
		outcome = "demo"
		user, session := DemoIdentity(p.now())
		return AuthenticatedContext{
			RequestContext: rc,
			User:           user,
			Session:        session,
			Credential:     auth.Credential{Source: auth.SourceDemo},
		}, nil
	}

	id, err := p.sessions.GetSession(ctx, rc.Headers)
	switch {
	case err != nil && errors.Is(err, auth.ErrNoSession):
		rc.log().WithError(err).Debug("no valid session")
		return AuthenticatedContext{}, apperr.Unauthorized("")
	case err != nil:
		rc.log().WithError(err).Error("session lookup failed")
		return AuthenticatedContext{}, apperr.Unauthorized("")
	case id == nil || id.User.ID == "":
		rc.log().Debug("no session found")
		return AuthenticatedContext{}, apperr.Unauthorized("")
	}

	span.SetAttributes(attribute.String("auth.source", string(id.Credential.Source)))
	return AuthenticatedContext{
		RequestContext: rc,
		User:           id.User,
		Session:        id.Session,
		Credential:     id.Credential,
	}, nil
}

// SelectorFrom reads the organization selector headers. The slug wins when
// both are present.
func SelectorFrom(rc RequestContext) orgs.Selector {
	return orgs.Selector{
		Slug: strings.TrimSpace(rc.Headers.Get(HeaderOrganizationSlug)),
		ID:   strings.TrimSpace(rc.Headers.Get(HeaderOrganizationID)),
	}
}

// ResolveOrganization scopes the request to the selected organization, which
// the caller must be a member of.
func (p *Pipeline) ResolveOrganization(ctx context.Context, ac AuthenticatedContext) (out OrganizationContext, err error) {
	ctx, span := p.tracer.Start(ctx, "procedure.resolve_organization")
	start := time.Now()
	outcome := ""
	defer func() {
		if outcome == "" {
			outcome = outcomeOf(err)
		}
		p.observe(ctx, span, StageOrganization, start, outcome, err)
	}()

	if p.isDemo(ac.RequestContext) {
		outcome = "demo"
		org, member := DemoOrganization()
		return OrganizationContext{AuthenticatedContext: ac, Organization: org, Member: member}, nil
	}

	sel := SelectorFrom(ac.RequestContext)
	if sel.Empty() {
		return OrganizationContext{}, apperr.BadRequest("organization slug or id header is required")
	}
	span.SetAttributes(attribute.String("organization.selector", sel.String()))

	ms, err := p.members.ResolveMembership(ctx, ac.User.ID, sel)
	if errors.Is(err, orgs.ErrNotMember) {
		ac.log().WithFields(logrus.Fields{
			"user_id":  ac.User.ID,
			"selector": sel.String(),
		}).Info("organization access denied")
		return OrganizationContext{}, apperr.Forbidden("not a member of this organization")
	}
	if err != nil {
		ac.log().WithError(err).WithField("selector", sel.String()).Error("membership lookup failed")
		return OrganizationContext{}, apperr.Internal(err)
	}

	return OrganizationContext{
		AuthenticatedContext: ac,
		Organization:         ms.Organization,
		Member:               ms.Member,
	}, nil
}

// RequireRole admits organization contexts whose member role is one of roles.
// It panics when roles is empty or names an unknown role.
func (p *Pipeline) RequireRole(roles ...orgs.Role) Gate[OrganizationContext] {
	if len(roles) == 0 {
		panic("procedure: RequireRole needs at least one role")
	}
	names := make([]string, len(roles))
	for i, r := range roles {
		if !r.Valid() {
			panic(fmt.Sprintf("procedure: unknown role %q", r))
		}
		names[i] = string(r)
	}
	message := "requires role: " + strings.Join(names, " or ")

	return func(ctx context.Context, oc OrganizationContext) (err error) {
		ctx, span := p.tracer.Start(ctx, "procedure.require_role")
		start := time.Now()
		defer func() { p.observe(ctx, span, StageRole, start, outcomeOf(err), err) }()

		for _, r := range roles {
			if oc.Member.Role == r {
				return nil
			}
		}
		return apperr.Forbidden(message)
	}
}

// AdminOrOwner admits owners and admins
func (p *Pipeline) AdminOrOwner() Gate[OrganizationContext] {
	return p.RequireRole(orgs.RoleOwner, orgs.RoleAdmin)
}

// OwnerOnly admits owners
func (p *Pipeline) OwnerOnly() Gate[OrganizationContext] {
	return p.RequireRole(orgs.RoleOwner)
}

// RequirePermission admits organization contexts whose caller holds
// permission according to checker. Demo requests act as the demo owner and
// skip the role lookup.
func (p *Pipeline) RequirePermission(checker rbac.Checker, permission rbac.Permission) Gate[OrganizationContext] {
	return func(ctx context.Context, oc OrganizationContext) (err error) {
		ctx, span := p.tracer.Start(ctx, "procedure.require_permission",
			trace.WithAttributes(attribute.String("permission", permission.String())))
		start := time.Now()
		defer func() { p.observe(ctx, span, StagePermission, start, outcomeOf(err), err) }()

		if oc.IsDemo() {
			if !rbac.HasPermission(rbac.AccessLevelFor(string(oc.Member.Role)), permission) {
				return apperr.Forbidden(fmt.Sprintf("you don't have permission to %s", permission))
			}
			return nil
		}

		return checker.RequirePermission(ctx, rbac.Subject{
			UserID:         oc.User.ID,
			OrganizationID: oc.Organization.ID,
			APIKey:         oc.Credential.IsAPIKey(),
			KeyPermissions: oc.Credential.Permissions,
		}, permission)
	}
}

// Protected is the authentication stage
func (p *Pipeline) Protected() Stage[RequestContext, AuthenticatedContext] {
	return p.Authenticate
}

// OrgScoped authenticates and then resolves the organization
func (p *Pipeline) OrgScoped() Stage[RequestContext, OrganizationContext] {
	return Then(
		Stage[RequestContext, AuthenticatedContext](p.Authenticate),
		Stage[AuthenticatedContext, OrganizationContext](p.ResolveOrganization),
	)
}

// OrgAdmin is OrgScoped followed by the admin-or-owner gate
func (p *Pipeline) OrgAdmin() Stage[RequestContext, OrganizationContext] {
	return Then(p.OrgScoped(), Check(p.AdminOrOwner()))
}

// OrgOwner is OrgScoped followed by the owner-only gate
func (p *Pipeline) OrgOwner() Stage[RequestContext, OrganizationContext] {
	return Then(p.OrgScoped(), Check(p.OwnerOnly()))
}
