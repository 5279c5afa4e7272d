package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

type fakeSessions struct {
	fakeUsers
	created []string
	deleted []string
}

func (f *fakeSessions) CreateSession(ctx context.Context, userID, ip, ua string) (*Session, error) {
	f.created = append(f.created, userID)
	return &Session{ID: "sess-1", Token: "new-token", UserID: userID, ExpiresAt: time.Now().Add(time.Hour)}, nil
}

func (f *fakeSessions) DeleteSession(ctx context.Context, token string) error {
	f.deleted = append(f.deleted, token)
	return nil
}

type fakeInvalidator struct{ tokens []string }

func (f *fakeInvalidator) Invalidate(ctx context.Context, token string) error {
	f.tokens = append(f.tokens, token)
	return nil
}

func newTestLogin(t *testing.T, idToken string) (*mux.Router, *fakeSessions, *fakeInvalidator) {
	t.Helper()
	issuer := newTestIssuer(t)

	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		if r.Form.Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(map[string]string{"error": "invalid_grant"})
			return
		}
		raw := idToken
		if raw == "" {
			raw = issuer.sign(t, jwt.MapClaims{"email": "ada@example.com", "name": "Ada"})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "access",
			"token_type":   "Bearer",
			"expires_in":   3600,
			"id_token":     raw,
		})
	}))
	t.Cleanup(provider.Close)

	oauthCfg := &oauth2.Config{
		ClientID:    testClientID,
		RedirectURL: "https://app.example.com/api/auth/oidc/callback",
		Endpoint:    oauth2.Endpoint{AuthURL: provider.URL + "/authorize", TokenURL: provider.URL + "/token"},
		Scopes:      []string{"openid", "email", "profile"},
	}

	sessions := &fakeSessions{}
	cache := &fakeInvalidator{}
	logger, _ := test.NewNullLogger()
	login := NewOIDCLogin(oauthCfg, issuer.verifier, sessions, cache, LoginConfig{PostLoginRedirect: "/dashboard"}, logger)

	r := mux.NewRouter()
	login.RegisterRoutes(r)
	return r, sessions, cache
}

func TestOIDCLogin_Login(t *testing.T) {
	r, _, _ := newTestLogin(t, "")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/api/auth/oidc/login", nil))

	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/authorize", loc.Path)

	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, stateCookie, cookies[0].Name)
	assert.Equal(t, cookies[0].Value, loc.Query().Get("state"))
	assert.True(t, cookies[0].HttpOnly)
}

func callbackRequest(state, cookieState, code string) *http.Request {
	req := httptest.NewRequest("GET", "/api/auth/oidc/callback?state="+state+"&code="+code, nil)
	if cookieState != "" {
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: cookieState})
	}
	return req
}

func TestOIDCLogin_Callback(t *testing.T) {
	t.Run("success sets session cookie", func(t *testing.T) {
		r, sessions, _ := newTestLogin(t, "")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, callbackRequest("s1", "s1", "good-code"))

		require.Equal(t, http.StatusFound, w.Code, w.Body.String())
		assert.Equal(t, "/dashboard", w.Header().Get("Location"))
		assert.Equal(t, []string{"user-ada@example.com"}, sessions.created)

		var session *http.Cookie
		for _, c := range w.Result().Cookies() {
			if c.Name == DefaultSessionCookie {
				session = c
			}
		}
		require.NotNil(t, session)
		assert.Equal(t, "new-token", session.Value)
		assert.True(t, session.HttpOnly)
	})

	t.Run("state mismatch", func(t *testing.T) {
		r, sessions, _ := newTestLogin(t, "")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, callbackRequest("s1", "s2", "good-code"))
		assert.Equal(t, http.StatusBadRequest, w.Code)

		w = httptest.NewRecorder()
		r.ServeHTTP(w, callbackRequest("s1", "", "good-code"))
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Empty(t, sessions.created)
	})

	t.Run("failed exchange", func(t *testing.T) {
		r, sessions, _ := newTestLogin(t, "")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, callbackRequest("s1", "s1", "bad-code"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, sessions.created)
	})

	t.Run("invalid id token", func(t *testing.T) {
		r, sessions, _ := newTestLogin(t, "not.a.token")

		w := httptest.NewRecorder()
		r.ServeHTTP(w, callbackRequest("s1", "s1", "good-code"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
		assert.Empty(t, sessions.created)
	})
}

func TestOIDCLogin_SignOut(t *testing.T) {
	r, sessions, cache := newTestLogin(t, "")

	req := httptest.NewRequest("POST", "/api/auth/sign-out", nil)
	req.AddCookie(&http.Cookie{Name: DefaultSessionCookie, Value: "tok-1"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"tok-1"}, sessions.deleted)
	assert.Equal(t, []string{"tok-1"}, cache.tokens)
	require.Len(t, w.Result().Cookies(), 1)
	assert.True(t, w.Result().Cookies()[0].MaxAge < 0)
}
