package cloud

import (
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willswire/mcheyne/internal/kvstore"
)

// redisTestOptions returns options for a live server named by REDIS_ADDR,
// under a prefix unique to this test run.
func redisTestOptions(t *testing.T) RedisOptions {
	t.Helper()
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	return RedisOptions{Addr: addr, Prefix: "mcheyne-test-" + uuid.NewString()}
}

func TestNewRedis_RequiresAddr(t *testing.T) {
	_, err := NewRedis(context.Background(), RedisOptions{}, quietLogger())
	assert.Error(t, err)
}

func TestNewRedis_Unreachable(t *testing.T) {
	ctx := context.Background()
	r, err := NewRedis(ctx, RedisOptions{Addr: "127.0.0.1:1"}, quietLogger())
	require.NoError(t, err, "an unreachable server starts the store offline")
	t.Cleanup(func() { r.Close() })

	assert.False(t, r.Available(ctx))
	_, err = r.All(ctx)
	assert.Error(t, err)
}

func TestRedis_ReadWrite(t *testing.T) {
	ctx := context.Background()
	opts := redisTestOptions(t)

	r, err := NewRedis(ctx, opts, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		r.rdb.Del(ctx, r.hash)
		r.Close()
	})

	assert.True(t, r.Available(ctx))

	_, err = r.Get(ctx, "startDate")
	assert.ErrorIs(t, err, kvstore.ErrNotFound)

	start := time.Date(2022, time.January, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, kvstore.SetTime(ctx, r, "startDate", start))
	got, ok, err := kvstore.GetTime(ctx, r, "startDate")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, got.Equal(start))

	require.NoError(t, r.Remove(ctx, "startDate"))
	keys, err := r.Keys(ctx)
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedis_ExternalChange(t *testing.T) {
	ctx := context.Background()
	opts := redisTestOptions(t)

	phone, err := NewRedis(ctx, opts, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() { phone.Close() })

	laptop, err := NewRedis(ctx, opts, quietLogger())
	require.NoError(t, err)
	t.Cleanup(func() {
		laptop.rdb.Del(ctx, laptop.hash)
		laptop.Close()
	})

	var phoneNotified, laptopNotified atomic.Int32
	phone.OnExternalChange(func() { phoneNotified.Add(1) })
	laptop.OnExternalChange(func() { laptopNotified.Add(1) })

	require.NoError(t, kvstore.SetBool(ctx, phone, "selfPaced", true))
	require.NoError(t, phone.Synchronize(ctx))

	assert.Eventually(t, func() bool {
		return laptopNotified.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Zero(t, phoneNotified.Load())
}
