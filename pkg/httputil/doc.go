// Package httputil provides HTTP helpers shared by the API handlers.
//
// # Responses
//
// Every error leaves the process through WriteError, which serializes an
// apperr condition as
//
//	{"code": "FORBIDDEN", "message": "not a member of this organization"}
//
// Untyped errors are written as a generic INTERNAL condition; their text is
// never sent to the client. Rate-limited responses also set Retry-After.
//
// # Middleware
//
//	handler := httputil.Chain(
//		httputil.RecoveryMiddleware(logger),
//		httputil.RequestIDMiddleware,
//		httputil.LoggingMiddleware(logger),
//		httputil.CORSMiddleware(cfg.Server.CORSAllowedOrigins),
//	)(router)
//
// LoggingMiddleware stores a request-scoped *logrus.Entry carrying request_id,
// method and path in the request context (see contextkeys.GetLogger).
package httputil
