// Package apperr defines the typed error conditions that cross the API
// boundary.
//
// Internal failures (driver errors, identity provider failures) are wrapped
// with a cause that is kept for logging but never serialized:
//
//	if err != nil {
//		return apperr.Internal(err)
//	}
//
// The HTTP layer maps a condition to a status code with HTTPStatus:
//
//	status := apperr.HTTPStatus(err) // 401, 403, 400, 404, 409, 429 or 500
package apperr
