package orgs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/storage"
)

// MembershipStore resolves a user's membership in one organization
type MembershipStore interface {
	ResolveMembership(ctx context.Context, userID string, sel Selector) (*Membership, error)
}

// Service is the full organization store
type Service interface {
	MembershipStore

	CreateOrganization(ctx context.Context, req *CreateOrgRequest, ownerUserID string) (*Organization, error)
	GetOrganization(ctx context.Context, id string) (*Organization, error)
	DeleteOrganization(ctx context.Context, id string) error

	AddMember(ctx context.Context, orgID, userID string, role Role) (*Member, error)
	UpdateMemberRole(ctx context.Context, orgID, userID string, role Role) error
	RemoveMember(ctx context.Context, orgID, userID string) error
	ListMembers(ctx context.Context, orgID string) ([]*MemberDetail, error)
	GetMemberRole(ctx context.Context, userID, orgID string) (string, error)
}

// PostgresService implements Service using PostgreSQL
type PostgresService struct {
	db     *sql.DB
	stats  *observability.QueryStats
	logger *logrus.Logger
	newID  func() string
}

// Option configures a PostgresService
type Option func(*PostgresService)

// WithQueryStats times every query into stats
func WithQueryStats(stats *observability.QueryStats) Option {
	return func(s *PostgresService) { s.stats = stats }
}

// WithLogger sets the logger used for data-integrity warnings
func WithLogger(logger *logrus.Logger) Option {
	return func(s *PostgresService) { s.logger = logger }
}

// NewPostgresService creates a new PostgresService
func NewPostgresService(db *sql.DB, opts ...Option) *PostgresService {
	s := &PostgresService{
		db:     db,
		logger: logrus.StandardLogger(),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

const resolveMembershipColumns = `
		SELECT o.id, o.name, o.slug, o.plan, m.id, m.user_id, m.role
		FROM organization o
		INNER JOIN member m ON m.organization_id = o.id AND m.user_id = $1
`

// ResolveMembership loads the organization and the caller's membership in a
// single joined query so the two cannot disagree. No row, whether because the
// organization is missing or the user is not a member, is ErrNotMember.
func (s *PostgresService) ResolveMembership(ctx context.Context, userID string, sel Selector) (*Membership, error) {
	if sel.Empty() {
		return nil, fmt.Errorf("organization selector is required")
	}

	query := resolveMembershipColumns + "		WHERE o.slug = $2\n		LIMIT 1"
	arg := sel.Slug
	if sel.Slug == "" {
		query = resolveMembershipColumns + "		WHERE o.id = $2\n		LIMIT 1"
		arg = sel.ID
	}

	var (
		ms   Membership
		slug sql.NullString
		plan sql.NullString
	)
	err := s.track(ctx, "orgs.resolve_membership", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, query, userID, arg).Scan(
			&ms.Organization.ID, &ms.Organization.Name, &slug, &plan,
			&ms.Member.ID, &ms.Member.UserID, &ms.StoredRole,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotMember
	}
	if err != nil {
		return nil, fmt.Errorf("failed to resolve membership: %w", err)
	}

	ms.Organization.Slug = slug.String
	ms.Organization.Plan = NormalizePlan(plan.String)
	ms.Member.OrganizationID = ms.Organization.ID

	role, ok := NormalizeRole(ms.StoredRole)
	if !ok {
		s.logger.WithFields(logrus.Fields{
			"member_id":       ms.Member.ID,
			"organization_id": ms.Organization.ID,
			"stored_role":     ms.StoredRole,
		}).Warn("unrecognized stored role coerced to member")
	}
	ms.Member.Role = role

	return &ms, nil
}

// CreateOrganization inserts the organization and its owner membership atomically
func (s *PostgresService) CreateOrganization(ctx context.Context, req *CreateOrgRequest, ownerUserID string) (*Organization, error) {
	if req.Name == "" {
		return nil, fmt.Errorf("organization name is required")
	}

	org := &Organization{
		ID:   s.newID(),
		Name: req.Name,
		Slug: req.Slug,
		Plan: NormalizePlan(string(req.Plan)),
		Logo: req.Logo,
	}
	if org.Slug == "" {
		org.Slug = generateSlug(req.Name)
	}

	err := s.track(ctx, "orgs.create", func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to start transaction: %w", err)
		}
		defer tx.Rollback()

		err = tx.QueryRowContext(ctx, `
			INSERT INTO organization (id, name, slug, plan, logo)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			RETURNING created_at
		`, org.ID, org.Name, org.Slug, org.Plan, org.Logo).Scan(&org.CreatedAt)
		if err != nil {
			if storage.IsUniqueViolation(err) {
				return ErrSlugTaken
			}
			return fmt.Errorf("failed to create organization: %w", err)
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO member (id, organization_id, user_id, role)
			VALUES ($1, $2, $3, $4)
		`, s.newID(), org.ID, ownerUserID, RoleOwner); err != nil {
			return fmt.Errorf("failed to add owner: %w", err)
		}

		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}

	return org, nil
}

// GetOrganization retrieves an organization by ID
func (s *PostgresService) GetOrganization(ctx context.Context, id string) (*Organization, error) {
	org := &Organization{}
	var slug, plan, logo sql.NullString

	err := s.track(ctx, "orgs.get", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT id, name, slug, plan, logo, created_at
			FROM organization
			WHERE id = $1
		`, id).Scan(&org.ID, &org.Name, &slug, &plan, &logo, &org.CreatedAt)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("organization %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}

	org.Slug = slug.String
	org.Plan = NormalizePlan(plan.String)
	org.Logo = logo.String
	return org, nil
}

// DeleteOrganization removes an organization; memberships cascade
func (s *PostgresService) DeleteOrganization(ctx context.Context, id string) error {
	var result sql.Result
	err := s.track(ctx, "orgs.delete", func(ctx context.Context) error {
		var err error
		result, err = s.db.ExecContext(ctx, "DELETE FROM organization WHERE id = $1", id)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete organization: %w", err)
	}
	return requireAffected(result, "organization")
}

func (s *PostgresService) track(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	return s.stats.Track(ctx, name, fn)
}

func requireAffected(result sql.Result, what string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %w", what, ErrNotFound)
	}
	return nil
}
