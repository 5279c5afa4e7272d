package contextkeys

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestRequestScopedValues(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestID(ctx))
	assert.Empty(t, GetUserID(ctx))
	assert.Nil(t, GetLogger(ctx))

	entry := logrus.NewEntry(logrus.New())
	start := time.Unix(1700000000, 0)

	ctx = WithRequestID(ctx, "req-1")
	ctx = WithUserID(ctx, "user-1")
	ctx = WithLogger(ctx, entry)
	ctx = WithRequestStartTime(ctx, start)

	assert.Equal(t, "req-1", GetRequestID(ctx))
	assert.Equal(t, "user-1", GetUserID(ctx))
	assert.Same(t, entry, GetLogger(ctx))
	got, ok := GetRequestStartTime(ctx)
	assert.True(t, ok)
	assert.Equal(t, start, got)
}
