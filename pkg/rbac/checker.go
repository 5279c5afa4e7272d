package rbac

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/invoicer/pkg/apperr"
	"github.com/platinummonkey/invoicer/pkg/observability"
	"github.com/platinummonkey/invoicer/pkg/orgs"
)

// RoleLookup returns the stored membership role of a user in an
// organization, or orgs.ErrNotMember when there is none.
type RoleLookup interface {
	GetMemberRole(ctx context.Context, userID, orgID string) (string, error)
}

// Checker handles permission checking and evaluation
type Checker interface {
	// CheckPermission evaluates a permission without raising
	CheckPermission(ctx context.Context, subject Subject, permission Permission) (*PermissionCheckResult, error)

	// RequirePermission returns a typed error unless the subject holds permission
	RequirePermission(ctx context.Context, subject Subject, permission Permission) error

	// InvalidateCache forgets the cached level of a user in an organization
	InvalidateCache(userID, orgID string)
}

// Subject is the caller a permission is checked for
type Subject struct {
	UserID         string
	OrganizationID string
	// APIKey marks callers authenticated by an API key; KeyPermissions then
	// further restricts what the role allows.
	APIKey         bool
	KeyPermissions []string
}

// PermissionCheckResult is the outcome of a permission check
type PermissionCheckResult struct {
	Allowed   bool        `json:"allowed"`
	Level     AccessLevel `json:"level"`
	Reason    string      `json:"reason"`
	Cached    bool        `json:"cached"`
	CheckedAt time.Time   `json:"checked_at"`
}

// PermissionChecker implements the Checker interface
type PermissionChecker struct {
	roles   RoleLookup
	cache   *expirable.LRU[string, AccessLevel]
	logger  *logrus.Logger
	metrics *observability.Metrics
}

// CheckerOption configures a PermissionChecker
type CheckerOption func(*PermissionChecker)

// WithMetrics records each decision in metrics
func WithMetrics(m *observability.Metrics) CheckerOption {
	return func(pc *PermissionChecker) { pc.metrics = m }
}

// WithLogger sets the checker logger
func WithLogger(logger *logrus.Logger) CheckerOption {
	return func(pc *PermissionChecker) { pc.logger = logger }
}

// NewPermissionChecker creates a new permission checker. A cacheTTL of zero
// disables caching of resolved access levels.
func NewPermissionChecker(roles RoleLookup, cacheSize int, cacheTTL time.Duration, opts ...CheckerOption) *PermissionChecker {
	pc := &PermissionChecker{
		roles:  roles,
		logger: logrus.StandardLogger(),
	}
	if cacheTTL > 0 {
		if cacheSize <= 0 {
			cacheSize = 10000
		}
		pc.cache = expirable.NewLRU[string, AccessLevel](cacheSize, nil, cacheTTL)
	}
	for _, opt := range opts {
		opt(pc)
	}
	return pc
}

func cacheKey(userID, orgID string) string {
	return userID + "\x00" + orgID
}

// ResolveAccessLevel looks up the caller's access level. A missing membership
// resolves to viewer; lookup failures are returned.
func (pc *PermissionChecker) ResolveAccessLevel(ctx context.Context, userID, orgID string) (AccessLevel, bool, error) {
	key := cacheKey(userID, orgID)
	if pc.cache != nil {
		if level, ok := pc.cache.Get(key); ok {
			pc.metrics.ObserveCache("role", true)
			return level, true, nil
		}
		pc.metrics.ObserveCache("role", false)
	}

	stored, err := pc.roles.GetMemberRole(ctx, userID, orgID)
	if err != nil && !errors.Is(err, orgs.ErrNotMember) {
		return "", false, fmt.Errorf("failed to look up member role: %w", err)
	}

	level := AccessLevelFor(stored)
	if pc.cache != nil {
		pc.cache.Add(key, level)
	}
	return level, false, nil
}

// CheckPermission checks if a subject has a specific permission
func (pc *PermissionChecker) CheckPermission(ctx context.Context, subject Subject, permission Permission) (*PermissionCheckResult, error) {
	level, cached, err := pc.ResolveAccessLevel(ctx, subject.UserID, subject.OrganizationID)
	if err != nil {
		return nil, err
	}

	result := &PermissionCheckResult{
		Level:     level,
		Cached:    cached,
		CheckedAt: time.Now(),
	}

	switch {
	case !HasPermission(level, permission):
		result.Reason = fmt.Sprintf("access level %s lacks %s", level, permission)
	case subject.APIKey && !keyAllows(subject.KeyPermissions, permission):
		result.Reason = fmt.Sprintf("api key is not scoped to %s", permission)
	default:
		result.Allowed = true
		result.Reason = fmt.Sprintf("granted by access level %s", level)
	}

	return result, nil
}

func keyAllows(granted []string, permission Permission) bool {
	want := permission.String()
	for _, g := range granted {
		if g == want {
			return true
		}
	}
	return false
}

// RequirePermission raises Unauthorized when the subject has no user,
// Forbidden when the permission is not granted, and Internal when the role
// could not be looked up.
func (pc *PermissionChecker) RequirePermission(ctx context.Context, subject Subject, permission Permission) error {
	if subject.UserID == "" {
		return apperr.Unauthorized("authentication required")
	}

	result, err := pc.CheckPermission(ctx, subject, permission)
	if err != nil {
		pc.logger.WithError(err).WithFields(logrus.Fields{
			"user_id":         subject.UserID,
			"organization_id": subject.OrganizationID,
			"permission":      permission.String(),
		}).Error("permission check failed")
		return apperr.Internal(err)
	}

	pc.metrics.ObservePermission(permission.String(), result.Allowed)
	if !result.Allowed {
		pc.logger.WithFields(logrus.Fields{
			"user_id":         subject.UserID,
			"organization_id": subject.OrganizationID,
			"level":           result.Level,
		}).Debug(result.Reason)
		return apperr.Forbidden(fmt.Sprintf("you don't have permission to %s", permission))
	}
	return nil
}

// InvalidateCache forgets the cached level of a user in an organization
func (pc *PermissionChecker) InvalidateCache(userID, orgID string) {
	if pc.cache != nil {
		pc.cache.Remove(cacheKey(userID, orgID))
	}
}
