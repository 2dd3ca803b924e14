package cache

import (
	"context"
	"net"
	"os"
	"testing"
	"time"

	"UsefulTimer/config"
	"UsefulTimer/model"

	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要真实的 Redis，设置 REDIS_TEST_ADDR=host:port 后运行
func testClient(t *testing.T) *redis.Client {
	t.Helper()
	addr := os.Getenv("REDIS_TEST_ADDR")
	if addr == "" {
		t.Skip("REDIS_TEST_ADDR not set")
	}
	cfg := config.FromEnv()
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err, "REDIS_TEST_ADDR must be host:port")
	cfg.RedisHost, cfg.RedisPort = host, port

	client, err := ConnectRedis(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedisKV_Integration(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	prefix := "usefultimer-test:" + time.Now().Format("150405.000") + ":"
	kv := NewRedisKV(client, prefix)

	require.NoError(t, kv.Ping(ctx))

	_, ok, err := kv.Get(ctx, "AudioDownload")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(ctx, "AudioDownload", `{"version":2,"items":{}}`))
	v, ok, err := kv.Get(ctx, "AudioDownload")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, `{"version":2,"items":{}}`, v)

	raw, err := client.Get(ctx, prefix+"AudioDownload").Result()
	require.NoError(t, err)
	assert.Equal(t, v, raw, "keys carry the prefix")

	require.NoError(t, kv.Delete(ctx, "AudioDownload"))
	_, ok, err = kv.Get(ctx, "AudioDownload")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlaybackCache_Integration(t *testing.T) {
	client := testClient(t)
	ctx := context.Background()
	c := NewPlaybackCache(client, "usefultimer-test:"+time.Now().Format("150405.000")+":")

	got, err := c.GetPlayback(ctx, "t-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	status := model.PlaybackStatus{TimerID: "t-1", State: model.StateRunning, Mode: model.ModeLoop, CycleTime: 10}
	require.NoError(t, c.SetPlayback(ctx, status))
	active, err := c.ActiveTimers(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t-1"}, active)

	status.State = model.StateIdle
	status.Completed = true
	require.NoError(t, c.SetPlayback(ctx, status))
	got, err = c.GetPlayback(ctx, "t-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Completed)
	active, err = c.ActiveTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	require.NoError(t, c.RemovePlayback(ctx, "t-1"))
}

func TestRedisKV_NilClient(t *testing.T) {
	t.Parallel()

	kv := NewRedisKV(nil, "")
	_, _, err := kv.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.Error(t, kv.Set(context.Background(), "k", "v"))
	assert.NoError(t, kv.Close())
}
