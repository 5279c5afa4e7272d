package httputil

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"

	"github.com/platinummonkey/invoicer/pkg/apperr"
)

// WriteJSON writes a JSON response with the given status code
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// DataResponse is the body of every successful procedure response
type DataResponse struct {
	Data interface{} `json:"data"`
}

// WriteData writes a 200 response wrapping data in a DataResponse
func WriteData(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, DataResponse{Data: data})
}

// ErrorResponse is the body of every error response
type ErrorResponse struct {
	Code       apperr.Code `json:"code"`
	Message    string      `json:"message"`
	RetryAfter int         `json:"retry_after,omitempty"`
}

// WriteError writes err as a typed error response. Errors that are not
// *apperr.Error are reported as INTERNAL without their text.
func WriteError(w http.ResponseWriter, err error) {
	public := apperr.Public(err)

	body := ErrorResponse{Code: public.Code, Message: public.Message}
	if public.Code == apperr.CodeRateLimited && public.RetryAfter > 0 {
		body.RetryAfter = int(math.Ceil(public.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(body.RetryAfter))
	}

	WriteJSON(w, public.Code.HTTPStatus(), body)
}

// WriteBadRequest writes a bad request error (400)
func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteError(w, apperr.BadRequest(message))
}

// WriteUnauthorized writes an unauthorized error (401)
func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteError(w, apperr.Unauthorized(message))
}

// WriteSuccess writes a successful response (200 OK) with JSON data
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}
