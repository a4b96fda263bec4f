//go:build unit

package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	storage := NewRedisStorage(client)
	require.NotNil(t, storage)

	return storage, mr
}

func TestNewRedisStorage_NilClient(t *testing.T) {
	t.Parallel()

	assert.Nil(t, NewRedisStorage(nil))
}

func TestRedisStorage_GetSetDelete(t *testing.T) {
	t.Parallel()

	storage, mr := newStorage(t)

	val, err := storage.Get("client-a")
	require.NoError(t, err)
	assert.Nil(t, val)

	require.NoError(t, storage.Set("client-a", []byte("3"), time.Minute))
	assert.True(t, mr.Exists(keyPrefix+"client-a"))

	val, err = storage.Get("client-a")
	require.NoError(t, err)
	assert.Equal(t, []byte("3"), val)

	require.NoError(t, storage.Delete("client-a"))

	val, err = storage.Get("client-a")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisStorage_Expiration(t *testing.T) {
	t.Parallel()

	storage, mr := newStorage(t)

	require.NoError(t, storage.Set("client-a", []byte("1"), time.Second))
	mr.FastForward(2 * time.Second)

	val, err := storage.Get("client-a")
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestRedisStorage_EmptyInputsIgnored(t *testing.T) {
	t.Parallel()

	storage, mr := newStorage(t)

	require.NoError(t, storage.Set("", []byte("1"), time.Minute))
	require.NoError(t, storage.Set("client-a", nil, time.Minute))
	assert.Empty(t, mr.Keys())
}

func TestRedisStorage_ResetOnlyOwnKeys(t *testing.T) {
	t.Parallel()

	storage, mr := newStorage(t)

	require.NoError(t, mr.Set("reelforge:job:keep", "x"))

	for _, key := range []string{"a", "b", "c"} {
		require.NoError(t, storage.Set(key, []byte("1"), time.Minute))
	}

	require.NoError(t, storage.Reset())
	assert.Equal(t, []string{"reelforge:job:keep"}, mr.Keys())
}

func TestRedisStorage_NilReceiver(t *testing.T) {
	t.Parallel()

	var storage *RedisStorage

	val, err := storage.Get("k")
	assert.NoError(t, err)
	assert.Nil(t, val)
	assert.NoError(t, storage.Set("k", []byte("v"), 0))
	assert.NoError(t, storage.Delete("k"))
	assert.NoError(t, storage.Reset())
	assert.NoError(t, storage.Close())
}
