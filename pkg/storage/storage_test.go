package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/invoicer/pkg/config"
)

func TestOpenRedis(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		client, err := OpenRedis(context.Background(), config.RedisConfig{})
		require.NoError(t, err)
		assert.Nil(t, client)
	})

	t.Run("connects", func(t *testing.T) {
		mr := miniredis.RunT(t)
		client, err := OpenRedis(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr()})
		require.NoError(t, err)
		defer client.Close()

		require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
		got, err := mr.Get("k")
		require.NoError(t, err)
		assert.Equal(t, "v", got)
	})

	t.Run("invalid url", func(t *testing.T) {
		_, err := OpenRedis(context.Background(), config.RedisConfig{URL: "ftp://nope"})
		assert.ErrorContains(t, err, "invalid redis URL")
	})
}

func TestErrorClassification(t *testing.T) {
	unique := fmt.Errorf("insert member: %w", &pq.Error{Code: "23505"})
	fk := &pq.Error{Code: "23503"}
	check := &pq.Error{Code: "23514"}

	assert.True(t, IsUniqueViolation(unique))
	assert.False(t, IsUniqueViolation(fk))
	assert.True(t, IsForeignKeyViolation(fk))
	assert.True(t, IsCheckViolation(check))
	assert.False(t, IsUniqueViolation(errors.New("23505")))
}
