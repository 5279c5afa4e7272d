package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShutdownManager_ReverseOrder(t *testing.T) {
	var buf bytes.Buffer
	sm := NewShutdownManager(NewLogger("info", FormatJSON, &buf), 0)

	var order []string
	sm.Register("db", func(ctx context.Context) error {
		order = append(order, "db")
		return nil
	})
	sm.Register("redis", func(ctx context.Context) error {
		order = append(order, "redis")
		return errors.New("already closed")
	})
	sm.AddServer(&http.Server{Addr: "127.0.0.1:0"})

	err := sm.Shutdown(context.Background())

	assert.Equal(t, []string{"redis", "db"}, order)
	assert.ErrorContains(t, err, "redis: already closed")
}
