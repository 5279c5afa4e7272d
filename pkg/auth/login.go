package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"github.com/platinummonkey/invoicer/pkg/httputil"
)

const stateCookie = "invoicer.oidc_state"

// SessionManager creates and ends sessions for OIDCLogin
type SessionManager interface {
	UserUpserter
	CreateSession(ctx context.Context, userID, ipAddress, userAgent string) (*Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// Invalidator drops cached sessions
type Invalidator interface {
	Invalidate(ctx context.Context, token string) error
}

// LoginConfig configures OIDCLogin
type LoginConfig struct {
	CookieName        string
	CookieSecure      bool
	PostLoginRedirect string
	TrustProxy        bool
}

// OIDCLogin runs the authorization code flow against an OIDC provider and
// issues a session cookie on success.
type OIDCLogin struct {
	oauth    *oauth2.Config
	verifier *oidc.IDTokenVerifier
	sessions SessionManager
	cache    Invalidator
	cfg      LoginConfig
	logger   *logrus.Logger
}

// NewOIDCLogin creates the login handlers. cache may be nil.
func NewOIDCLogin(oauth *oauth2.Config, verifier *oidc.IDTokenVerifier, sessions SessionManager, cache Invalidator, cfg LoginConfig, logger *logrus.Logger) *OIDCLogin {
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultSessionCookie
	}
	if cfg.PostLoginRedirect == "" {
		cfg.PostLoginRedirect = "/"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &OIDCLogin{
		oauth:    oauth,
		verifier: verifier,
		sessions: sessions,
		cache:    cache,
		cfg:      cfg,
		logger:   logger,
	}
}

// RegisterRoutes mounts the login, callback and sign-out endpoints
func (l *OIDCLogin) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/auth/oidc/login", l.Login).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/oidc/callback", l.Callback).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/sign-out", l.SignOut).Methods(http.MethodPost)
}

// Login redirects to the provider with a fresh state value
func (l *OIDCLogin) Login(w http.ResponseWriter, r *http.Request) {
	state, err := randomToken()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/api/auth/oidc",
		MaxAge:   int((10 * time.Minute).Seconds()),
		HttpOnly: true,
		Secure:   l.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, l.oauth.AuthCodeURL(state), http.StatusFound)
}

// Callback completes the code exchange and starts a session
func (l *OIDCLogin) Callback(w http.ResponseWriter, r *http.Request) {
	log := l.logger.WithField("path", r.URL.Path)

	c, err := r.Cookie(stateCookie)
	state := r.URL.Query().Get("state")
	if err != nil || state == "" || subtle.ConstantTimeCompare([]byte(c.Value), []byte(state)) != 1 {
		httputil.WriteBadRequest(w, "invalid login state")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/api/auth/oidc", MaxAge: -1})

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		log.WithField("provider_error", errParam).Info("oidc login rejected by provider")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	token, err := l.oauth.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.WithError(err).Warn("oidc code exchange failed")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	rawID, ok := token.Extra("id_token").(string)
	if !ok || rawID == "" {
		log.Warn("oidc token response has no id_token")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	idToken, err := l.verifier.Verify(r.Context(), rawID)
	if err != nil {
		log.WithError(err).Warn("oidc id token rejected")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	user, err := userFromIDToken(r.Context(), l.sessions, idToken)
	if err != nil {
		log.WithError(err).Warn("failed to map oidc user")
		httputil.WriteUnauthorized(w, "login failed")
		return
	}

	sess, err := l.sessions.CreateSession(r.Context(), user.ID, httputil.ClientIP(r, l.cfg.TrustProxy), r.UserAgent())
	if err != nil {
		log.WithError(err).Error("failed to create session")
		httputil.WriteError(w, fmt.Errorf("create session: %w", err))
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     l.cfg.CookieName,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   l.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	log.WithField("user_id", user.ID).Info("user signed in")
	http.Redirect(w, r, l.cfg.PostLoginRedirect, http.StatusFound)
}

// SignOut ends the caller's session and clears the cookie
func (l *OIDCLogin) SignOut(w http.ResponseWriter, r *http.Request) {
	token := SessionToken(r.Header, l.cfg.CookieName)
	if token != "" {
		if err := l.sessions.DeleteSession(r.Context(), token); err != nil {
			l.logger.WithError(err).Error("failed to delete session")
			httputil.WriteError(w, err)
			return
		}
		if l.cache != nil {
			if err := l.cache.Invalidate(r.Context(), token); err != nil {
				l.logger.WithError(err).Warn("failed to invalidate cached session")
			}
		}
	}

	http.SetCookie(w, &http.Cookie{
		Name:     l.cfg.CookieName,
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   l.cfg.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	httputil.WriteSuccess(w, map[string]bool{"success": true})
}
