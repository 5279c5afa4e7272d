package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

// ErrKeyNotFound is returned when revoking an unknown or already revoked key
var ErrKeyNotFound = errors.New("api key not found")

// APIKey is a stored API key; the secret itself is never persisted
type APIKey struct {
	ID             string     `json:"id"`
	UserID         string     `json:"userId"`
	OrganizationID string     `json:"organizationId,omitempty"`
	Name           string     `json:"name"`
	Prefix         string     `json:"prefix"`
	Permissions    []string   `json:"permissions"`
	ExpiresAt      *time.Time `json:"expiresAt,omitempty"`
	RevokedAt      *time.Time `json:"revokedAt,omitempty"`
	LastUsedAt     *time.Time `json:"lastUsedAt,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// CreateKeyRequest describes a new API key
type CreateKeyRequest struct {
	UserID         string
	OrganizationID string
	Name           string
	Permissions    []string
	ExpiresAt      *time.Time
}

// APIKeyStore issues API keys and resolves requests that present one
type APIKeyStore struct {
	db     *sql.DB
	gen    *KeyGenerator
	stats  *observability.QueryStats
	logger *logrus.Logger
	now    func() time.Time
	newID  func() string
}

// NewAPIKeyStore creates an API key store
func NewAPIKeyStore(db *sql.DB, stats *observability.QueryStats, logger *logrus.Logger) *APIKeyStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &APIKeyStore{
		db:     db,
		gen:    NewKeyGenerator(),
		stats:  stats,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// CreateKey stores a new key and returns it with the plaintext secret, which
// is shown once.
func (s *APIKeyStore) CreateKey(ctx context.Context, req *CreateKeyRequest) (*APIKey, string, error) {
	if req.UserID == "" {
		return nil, "", fmt.Errorf("user id is required")
	}
	if req.Name == "" {
		return nil, "", fmt.Errorf("key name is required")
	}
	if req.ExpiresAt != nil && !req.ExpiresAt.After(s.now()) {
		return nil, "", fmt.Errorf("expiry must be in the future")
	}

	secret, hash, prefix, err := s.gen.GenerateKey()
	if err != nil {
		return nil, "", err
	}

	key := &APIKey{
		ID:             s.newID(),
		UserID:         req.UserID,
		OrganizationID: req.OrganizationID,
		Name:           req.Name,
		Prefix:         prefix,
		Permissions:    append([]string{}, req.Permissions...),
		ExpiresAt:      req.ExpiresAt,
	}
	err = s.stats.Track(ctx, "auth.create_api_key", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO api_key (id, user_id, organization_id, name, prefix, key_hash, permissions, expires_at)
			VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
			RETURNING created_at
		`, key.ID, key.UserID, key.OrganizationID, key.Name, key.Prefix, hash,
			pq.Array(key.Permissions), key.ExpiresAt).Scan(&key.CreatedAt)
	})
	if err != nil {
		return nil, "", fmt.Errorf("failed to create api key: %w", err)
	}
	return key, secret, nil
}

// RevokeKey marks a key revoked
func (s *APIKeyStore) RevokeKey(ctx context.Context, id string) error {
	var affected int64
	err := s.stats.Track(ctx, "auth.revoke_api_key", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `
			UPDATE api_key SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL
		`, id, s.now())
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to revoke api key: %w", err)
	}
	if affected == 0 {
		return ErrKeyNotFound
	}
	return nil
}

// Token returns the API key presented in headers, if any
func (s *APIKeyStore) Token(headers http.Header) string {
	if key := strings.TrimSpace(headers.Get(APIKeyHeader)); key != "" {
		return key
	}
	if tok := BearerToken(headers); strings.HasPrefix(tok, APIKeyPrefix) {
		return tok
	}
	return ""
}

// GetSession resolves an API key to the identity of its owner. The session
// is synthetic: its id is derived from the key id and it expires with the key.
func (s *APIKeyStore) GetSession(ctx context.Context, headers http.Header) (*Identity, error) {
	secret := s.Token(headers)
	if secret == "" {
		return nil, ErrNoSession
	}
	if err := s.gen.ValidateKeyFormat(secret); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoSession, err)
	}

	now := s.now()
	var (
		id        Identity
		keyID     string
		orgID     sql.NullString
		image     sql.NullString
		expiresAt sql.NullTime
		perms     []string
	)
	err := s.stats.Track(ctx, "auth.get_api_key", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT k.id, k.organization_id, k.prefix, k.permissions, k.expires_at,
			       u.id, u.email, u.name, u.email_verified, u.image
			FROM api_key k
			INNER JOIN "user" u ON u.id = k.user_id
			WHERE k.key_hash = $1
			  AND k.revoked_at IS NULL
			  AND (k.expires_at IS NULL OR k.expires_at > $2)
		`, s.gen.HashKey(secret), now).Scan(
			&keyID, &orgID, &id.Session.Token, pq.Array(&perms), &expiresAt,
			&id.User.ID, &id.User.Email, &id.User.Name, &id.User.EmailVerified, &image,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load api key: %w", err)
	}

	id.User.Image = image.String
	id.Session.ID = "apikey:" + keyID
	id.Session.UserID = id.User.ID
	id.Session.ActiveOrganizationID = orgID.String
	id.Session.ExpiresAt = now.Add(24 * time.Hour)
	if expiresAt.Valid {
		id.Session.ExpiresAt = expiresAt.Time
	}
	id.Credential = Credential{Source: SourceAPIKey, APIKeyID: keyID, Permissions: perms}

	s.touch(ctx, keyID, now)
	return &id, nil
}

func (s *APIKeyStore) touch(ctx context.Context, keyID string, now time.Time) {
	err := s.stats.Track(ctx, "auth.touch_api_key", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `UPDATE api_key SET last_used_at = $2 WHERE id = $1`, keyID, now)
		return err
	})
	if err != nil {
		s.logger.WithError(err).WithField("api_key_id", keyID).Warn("failed to record api key use")
	}
}
