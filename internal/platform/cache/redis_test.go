package cache

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestNewPingsServer(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := New(context.Background(), mr.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Set(context.Background(), "k", "v", 0).Err())
	mr.CheckGet(t, "k", "v")

	mr.Close()
	_, err = New(context.Background(), mr.Addr())
	require.Error(t, err)
}

func TestOptions(t *testing.T) {
	opts, err := Options("redis://:secret@cache:6380/2")
	require.NoError(t, err)
	require.Equal(t, "cache:6380", opts.Addr)
	require.Equal(t, "secret", opts.Password)
	require.Equal(t, 2, opts.DB)

	opts, err = Options(" 127.0.0.1:6379 ")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6379", opts.Addr)

	_, err = Options("")
	require.Error(t, err)
	_, err = Options("redis://cache:6379/notanumber")
	require.Error(t, err)
}

func TestQueueOptions(t *testing.T) {
	opts, err := QueueOptions("redis://worker:pw@cache:6380/1")
	require.NoError(t, err)
	require.Equal(t, "cache:6380", opts.Addr)
	require.Equal(t, "worker", opts.Username)
	require.Equal(t, "pw", opts.Password)
	require.Equal(t, 1, opts.DB)
	require.Nil(t, opts.TLSConfig)

	opts, err = QueueOptions("rediss://cache:6380")
	require.NoError(t, err)
	require.NotNil(t, opts.TLSConfig)

	opts, err = QueueOptions("127.0.0.1:6379")
	require.NoError(t, err)
	require.Equal(t, "127.0.0.1:6379", opts.Addr)
	require.Zero(t, opts.DB)

	_, err = QueueOptions(" ")
	require.Error(t, err)
}

func TestQueueOptionsDialURL(t *testing.T) {
	mr := miniredis.RunT(t)
	opts, err := QueueOptions("redis://" + mr.Addr() + "/0")
	require.NoError(t, err)
	client, ok := opts.MakeRedisClient().(*redis.Client)
	require.True(t, ok)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(context.Background()).Err())
}
