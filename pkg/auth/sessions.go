package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/platinummonkey/invoicer/pkg/observability"
)

// SQLSessionStore resolves and manages database-backed sessions
type SQLSessionStore struct {
	db         *sql.DB
	cookieName string
	ttl        time.Duration
	stats      *observability.QueryStats
	now        func() time.Time
	newID      func() string
}

// SessionStoreOption configures a SQLSessionStore
type SessionStoreOption func(*SQLSessionStore)

// WithCookieName overrides the session cookie name
func WithCookieName(name string) SessionStoreOption {
	return func(s *SQLSessionStore) {
		if name != "" {
			s.cookieName = name
		}
	}
}

// WithSessionTTL sets the lifetime of created sessions
func WithSessionTTL(ttl time.Duration) SessionStoreOption {
	return func(s *SQLSessionStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithSessionQueryStats times store queries into stats
func WithSessionQueryStats(stats *observability.QueryStats) SessionStoreOption {
	return func(s *SQLSessionStore) { s.stats = stats }
}

// NewSQLSessionStore creates a session store over db
func NewSQLSessionStore(db *sql.DB, opts ...SessionStoreOption) *SQLSessionStore {
	s := &SQLSessionStore{
		db:         db,
		cookieName: DefaultSessionCookie,
		ttl:        7 * 24 * time.Hour,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CookieName returns the session cookie name
func (s *SQLSessionStore) CookieName() string {
	return s.cookieName
}

// Token returns the session token carried by headers, if any
func (s *SQLSessionStore) Token(headers http.Header) string {
	return SessionToken(headers, s.cookieName)
}

// GetSession resolves the session token in headers to its user and session
func (s *SQLSessionStore) GetSession(ctx context.Context, headers http.Header) (*Identity, error) {
	token := s.Token(headers)
	if token == "" {
		return nil, ErrNoSession
	}

	var (
		id                       Identity
		activeOrg, ip, ua, image sql.NullString
	)
	err := s.stats.Track(ctx, "auth.get_session", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			SELECT s.id, s.expires_at, s.token, s.user_id, s.active_organization_id, s.ip_address, s.user_agent,
			       u.id, u.email, u.name, u.email_verified, u.image
			FROM session s
			INNER JOIN "user" u ON u.id = s.user_id
			WHERE s.token = $1 AND s.expires_at > $2
		`, token, s.now()).Scan(
			&id.Session.ID, &id.Session.ExpiresAt, &id.Session.Token, &id.Session.UserID,
			&activeOrg, &ip, &ua,
			&id.User.ID, &id.User.Email, &id.User.Name, &id.User.EmailVerified, &image,
		)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	id.Session.ActiveOrganizationID = activeOrg.String
	id.Session.IPAddress = ip.String
	id.Session.UserAgent = ua.String
	id.User.Image = image.String
	id.Credential = Credential{Source: SourceSession}
	return &id, nil
}

// CreateSession starts a new session for userID
func (s *SQLSessionStore) CreateSession(ctx context.Context, userID, ipAddress, userAgent string) (*Session, error) {
	token, err := NewSessionToken()
	if err != nil {
		return nil, err
	}

	sess := &Session{
		ID:        s.newID(),
		ExpiresAt: s.now().Add(s.ttl).UTC(),
		Token:     token,
		UserID:    userID,
		IPAddress: ipAddress,
		UserAgent: userAgent,
	}
	err = s.stats.Track(ctx, "auth.create_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO session (id, expires_at, token, user_id, ip_address, user_agent)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''), NULLIF($6, ''))
		`, sess.ID, sess.ExpiresAt, sess.Token, sess.UserID, sess.IPAddress, sess.UserAgent)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return sess, nil
}

// DeleteSession removes the session with the given token. Deleting an
// unknown token is not an error.
func (s *SQLSessionStore) DeleteSession(ctx context.Context, token string) error {
	err := s.stats.Track(ctx, "auth.delete_session", func(ctx context.Context) error {
		_, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE token = $1`, token)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// PurgeExpired deletes expired sessions and returns how many were removed
func (s *SQLSessionStore) PurgeExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.stats.Track(ctx, "auth.purge_sessions", func(ctx context.Context) error {
		res, err := s.db.ExecContext(ctx, `DELETE FROM session WHERE expires_at <= $1`, s.now())
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("failed to purge sessions: %w", err)
	}
	return n, nil
}

// UpsertUser creates the user or refreshes its profile, keyed by email
func (s *SQLSessionStore) UpsertUser(ctx context.Context, u *User) (*User, error) {
	if u.Email == "" {
		return nil, fmt.Errorf("user email is required")
	}

	out := *u
	var image sql.NullString
	err := s.stats.Track(ctx, "auth.upsert_user", func(ctx context.Context) error {
		return s.db.QueryRowContext(ctx, `
			INSERT INTO "user" (id, name, email, email_verified, image)
			VALUES ($1, $2, $3, $4, NULLIF($5, ''))
			ON CONFLICT (email) DO UPDATE
			SET name = EXCLUDED.name,
			    email_verified = "user".email_verified OR EXCLUDED.email_verified,
			    image = COALESCE(EXCLUDED.image, "user".image),
			    updated_at = NOW()
			RETURNING id, email_verified, image
		`, s.newID(), u.Name, u.Email, u.EmailVerified, u.Image).Scan(&out.ID, &out.EmailVerified, &image)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	out.Image = image.String
	return &out, nil
}
