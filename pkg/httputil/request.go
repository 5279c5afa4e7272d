package httputil

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
)

// RawInput returns a procedure's JSON input. GET requests carry it in the
// named query parameter; other methods carry it as the body. Empty input is
// returned as nil.
func RawInput(r *http.Request, queryParam string) (json.RawMessage, error) {
	if r.Method == http.MethodGet {
		if v := r.URL.Query().Get(queryParam); v != "" {
			return json.RawMessage(v), nil
		}
		return nil, nil
	}

	if r.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read request body: %w", err)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return nil, nil
	}
	return body, nil
}

// ClientIP returns the caller's address. Forwarding headers are only honored
// behind a trusted proxy.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			first, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(first)
		}
		if real := r.Header.Get("X-Real-IP"); real != "" {
			return strings.TrimSpace(real)
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
