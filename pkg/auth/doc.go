// Package auth establishes who is calling.
//
// # Overview
//
// A SessionResolver turns raw request headers into an Identity (user, session
// and the credential that was presented) or reports ErrNoSession. Several
// resolvers are provided and are normally combined with ChainResolver:
//
//	sessions := auth.NewSQLSessionStore(db, auth.WithCookieName(cfg.Auth.SessionCookieName))
//	resolver := auth.NewChainResolver(
//		auth.NewCachedResolver(sessions, redisClient, "session", cfg.Auth.SessionCacheTTL, logger, metrics),
//		auth.NewAPIKeyStore(db, stats, logger),
//		auth.NewCachedResolver(auth.NewOIDCResolver(verifier, sessions), redisClient, "oidc", cfg.Auth.SessionCacheTTL, logger, metrics),
//	)
//
// # Credentials
//
// Session tokens arrive in the invoicer.session_token cookie or as an opaque
// bearer token. API keys have the form
//
//	inv_<base64url(32 random bytes)>
//
// and arrive in X-Api-Key or as a bearer token; only their SHA256 hash is
// stored. Bearer tokens shaped like a JWT are treated as OIDC ID tokens.
//
// # Caching
//
// CachedResolver keeps resolved identities in Redis under the "auth:" prefix
// for at most the configured TTL and never past the session expiry. Redis
// errors fall back to the wrapped resolver.
package auth
