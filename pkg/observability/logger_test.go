package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/contextkeys"
)

func TestNewLogger_Levels(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("info", FormatJSON, &buf)

	t.Run("debug not logged at info level", func(t *testing.T) {
		buf.Reset()
		logger.Debug("debug message")
		assert.Zero(t, buf.Len())
	})

	t.Run("info logged as json", func(t *testing.T) {
		buf.Reset()
		logger.WithField("path", "/api/rpc/invoices/list").Info("info message")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "info", entry["level"])
		assert.Equal(t, "info message", entry["msg"])
		assert.Equal(t, "/api/rpc/invoices/list", entry["path"])
	})
}

func TestNewLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger("debug", "TEXT", &buf)

	logger.Debug("hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, logrus.WarnLevel, ParseLevel(" warn "))
	assert.Equal(t, logrus.InfoLevel, ParseLevel("loud"))
	assert.Equal(t, logrus.InfoLevel, ParseLevel(""))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := NewLogger("info", FormatJSON, &buf)

	t.Run("uses request fields", func(t *testing.T) {
		buf.Reset()
		ctx := contextkeys.WithRequestID(context.Background(), "req-42")
		ctx = contextkeys.WithUserID(ctx, "user-7")

		FromContext(ctx, base).Info("hi")

		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "req-42", entry["request_id"])
		assert.Equal(t, "user-7", entry["user_id"])
	})

	t.Run("prefers stored entry", func(t *testing.T) {
		stored := logrus.NewEntry(base).WithField("stored", true)
		ctx := contextkeys.WithLogger(context.Background(), stored)
		assert.Same(t, stored, FromContext(ctx, base))
	})
}

func TestWithTraceContext_NoSpan(t *testing.T) {
	entry := logrus.NewEntry(logrus.New())
	assert.Same(t, entry, WithTraceContext(context.Background(), entry))
}
