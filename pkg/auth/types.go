package auth

import (
	"context"
	"errors"
	"net/http"
	"time"
)

// ErrNoSession is returned by a SessionResolver when the request carries no
// valid session. It is a negative answer, not a failure.
var ErrNoSession = errors.New("no valid session")

// Source identifies how an identity was established
type Source string

const (
	SourceSession Source = "session"
	SourceAPIKey  Source = "api_key"
	SourceOIDC    Source = "oidc"
	SourceDemo    Source = "demo"
)

// User represents an authenticated user
type User struct {
	ID            string `json:"id"`
	Email         string `json:"email"`
	Name          string `json:"name"`
	EmailVerified bool   `json:"emailVerified"`
	Image         string `json:"image,omitempty"`
}

// Session represents an authenticated session
type Session struct {
	ID                   string    `json:"id"`
	ExpiresAt            time.Time `json:"expiresAt"`
	Token                string    `json:"token"`
	UserID               string    `json:"userId"`
	ActiveOrganizationID string    `json:"activeOrganizationId,omitempty"`
	IPAddress            string    `json:"ipAddress,omitempty"`
	UserAgent            string    `json:"userAgent,omitempty"`
}

// Credential describes what the caller presented
type Credential struct {
	Source   Source `json:"source"`
	APIKeyID string `json:"apiKeyId,omitempty"`
	// Permissions restricts an API key; empty for non-key credentials
	Permissions []string `json:"permissions,omitempty"`
}

// IsAPIKey reports whether the credential is an API key
func (c Credential) IsAPIKey() bool {
	return c.Source == SourceAPIKey
}

// Identity is the result of resolving a request's credentials
type Identity struct {
	User       User       `json:"user"`
	Session    Session    `json:"session"`
	Credential Credential `json:"credential"`
}

// SessionResolver resolves the session attached to a set of request headers.
// Implementations return ErrNoSession (possibly wrapped) when no valid session
// is present and any other error for a failure to decide.
type SessionResolver interface {
	GetSession(ctx context.Context, headers http.Header) (*Identity, error)
}

// SessionResolverFunc adapts a function to SessionResolver
type SessionResolverFunc func(ctx context.Context, headers http.Header) (*Identity, error)

// GetSession calls f
func (f SessionResolverFunc) GetSession(ctx context.Context, headers http.Header) (*Identity, error) {
	return f(ctx, headers)
}

// TokenResolver is a SessionResolver that can name the credential it would
// use, so lookups can be cached per token.
type TokenResolver interface {
	SessionResolver
	Token(headers http.Header) string
}
