// Package config loads application configuration.
//
// Values are resolved in three layers: built-in defaults, an optional YAML
// file named by INVOICER_CONFIG_FILE, then INVOICER_* environment variables.
//
// Server settings:
//
//	INVOICER_HOST="0.0.0.0"
//	INVOICER_PORT="3001"
//	INVOICER_HEALTH_PORT="9090"
//	INVOICER_CORS_ALLOWED_ORIGINS="https://app.example.com"
//
// Storage settings:
//
//	INVOICER_DATABASE_URL="postgres://localhost/invoicer?sslmode=disable"
//	INVOICER_REDIS_URL="redis://localhost:6379"
//
// Auth settings:
//
//	INVOICER_SESSION_COOKIE_NAME="invoicer.session_token"
//	INVOICER_OIDC_ENABLED="true"
//	INVOICER_OIDC_ISSUER_URL="https://accounts.example.com"
//	INVOICER_OIDC_CLIENT_ID="invoicer"
//
// Demo mode (the x-demo-mode header) is on by default and is switched off with
// INVOICER_DEMO_MODE_ENABLED="false".
//
// The same settings in YAML:
//
//	server:
//	  port: "3001"
//	database:
//	  url: postgres://localhost/invoicer
//	rate_limit:
//	  api: {requests: 100, window: 1m}
//	demo:
//	  enabled: false
package config
