package httputil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRawInput(t *testing.T) {
	tests := []struct {
		name   string
		method string
		target string
		body   string
		want   string
	}{
		{"get with input", http.MethodGet, `/rpc?input=%7B%22limit%22%3A5%7D`, "", `{"limit":5}`},
		{"get without input", http.MethodGet, "/rpc", "", ""},
		{"post body", http.MethodPost, "/rpc?input=ignored", `{"user_id":"u1"}`, `{"user_id":"u1"}`},
		{"post blank body", http.MethodPost, "/rpc", "  \n", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, strings.NewReader(tt.body))
			raw, err := RawInput(req, "input")
			require.NoError(t, err)
			if tt.want == "" {
				assert.Nil(t, raw)
				return
			}
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("connection reset") }

func TestRawInput_ReadError(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rpc", failingReader{})
	_, err := RawInput(req, "input")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		headers    map[string]string
		trustProxy bool
		want       string
	}{
		{"remote addr", "10.1.2.3:5555", nil, false, "10.1.2.3"},
		{"forwarded ignored without trust", "10.1.2.3:5555", map[string]string{"X-Forwarded-For": "1.1.1.1"}, false, "10.1.2.3"},
		{"forwarded first hop", "10.1.2.3:5555", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, true, "1.1.1.1"},
		{"real ip", "10.1.2.3:5555", map[string]string{"X-Real-IP": "3.3.3.3"}, true, "3.3.3.3"},
		{"no port", "10.1.2.3", nil, false, "10.1.2.3"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			assert.Equal(t, tt.want, ClientIP(req, tt.trustProxy))
		})
	}
}
