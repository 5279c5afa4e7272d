package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/http"
	"strings"
)

const (
	// APIKeyPrefix identifies invoicer API keys
	APIKeyPrefix = "inv_"
	// KeyLength is the number of random bytes in keys and session tokens
	KeyLength = 32
	// DefaultSessionCookie is the cookie that carries the session token
	DefaultSessionCookie = "invoicer.session_token"
	// APIKeyHeader may carry an API key instead of the Authorization header
	APIKeyHeader = "X-Api-Key"
)

// KeyGenerator generates and validates API keys
type KeyGenerator struct{}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// GenerateKey creates a new API key.
// Format: inv_<base64url(32 random bytes)>
func (g *KeyGenerator) GenerateKey() (key string, keyHash string, keyPrefix string, err error) {
	encoded, err := randomToken()
	if err != nil {
		return "", "", "", err
	}

	key = APIKeyPrefix + encoded

	// First 8 encoded chars are kept for display
	keyPrefix = APIKeyPrefix
	if len(encoded) >= 8 {
		keyPrefix = APIKeyPrefix + encoded[:8]
	}

	return key, HashToken(key), keyPrefix, nil
}

// HashKey computes the SHA256 hash of a key for lookup
func (g *KeyGenerator) HashKey(key string) string {
	return HashToken(key)
}

// ValidateKeyFormat checks if a key has the correct format
func (g *KeyGenerator) ValidateKeyFormat(key string) error {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return fmt.Errorf("key must start with %q", APIKeyPrefix)
	}

	encoded := strings.TrimPrefix(key, APIKeyPrefix)
	if encoded == "" {
		return fmt.Errorf("key is too short")
	}

	raw, err := base64.RawURLEncoding.DecodeString(encoded)
	if err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}
	if len(raw) != KeyLength {
		return fmt.Errorf("key must encode %d bytes, got %d", KeyLength, len(raw))
	}

	return nil
}

// ExtractPrefix returns the display prefix of a key
func (g *KeyGenerator) ExtractPrefix(key string) string {
	if !strings.HasPrefix(key, APIKeyPrefix) {
		return ""
	}
	encoded := strings.TrimPrefix(key, APIKeyPrefix)
	if len(encoded) >= 8 {
		return APIKeyPrefix + encoded[:8]
	}
	return APIKeyPrefix + encoded
}

// HashToken returns the hex SHA256 of a token
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// NewSessionToken returns a random opaque session token
func NewSessionToken() (string, error) {
	return randomToken()
}

func randomToken() (string, error) {
	b := make([]byte, KeyLength)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// BearerToken returns the token of an "Authorization: Bearer" header
func BearerToken(headers http.Header) string {
	authz := headers.Get("Authorization")
	if len(authz) < 7 || !strings.EqualFold(authz[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(authz[7:])
}

// CookieValue returns the named cookie from raw request headers
func CookieValue(headers http.Header, name string) string {
	req := http.Request{Header: headers}
	c, err := req.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// SessionToken extracts a session token from the cookie, falling back to a
// bearer token that is neither an API key nor a JWT.
func SessionToken(headers http.Header, cookieName string) string {
	if tok := CookieValue(headers, cookieName); tok != "" {
		return tok
	}
	tok := BearerToken(headers)
	if tok == "" || strings.HasPrefix(tok, APIKeyPrefix) || looksLikeJWT(tok) {
		return ""
	}
	return tok
}

func looksLikeJWT(tok string) bool {
	return strings.Count(tok, ".") == 2
}
