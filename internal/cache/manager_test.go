package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()
	mr := miniredis.RunT(t)

	manager, err := NewManager(Config{Addr: mr.Addr(), KeyPrefix: "test"}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })
	return mr, manager
}

type record struct {
	ID    string `json:"id"`
	Nodes int    `json:"nodes"`
}

func TestNewManager_Unreachable(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, nil)
	assert.ErrorContains(t, err, "failed to connect to redis")
}

func TestNewManager_BadTLSCA(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1", TLS: true, TLSCAFile: "/nonexistent/ca.pem"}, nil)
	assert.ErrorContains(t, err, "redis tls")
}

func TestManager_Key(t *testing.T) {
	_, manager := setupTestRedis(t)
	assert.Equal(t, "test:owner:alice:workflows", manager.Key("owner", "alice", "workflows"))

	manager.config.KeyPrefix = ""
	assert.Equal(t, "workflow:abc", manager.Key("workflow", "abc"))
}

func TestManager_GetJSON(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("test:workflow:a", `{"id":"a","nodes":2}`))
	require.NoError(t, mr.Set("test:workflow:bad", `{not json`))

	var got record
	require.NoError(t, manager.GetJSON(ctx, "test:workflow:a", &got))
	assert.Equal(t, record{ID: "a", Nodes: 2}, got)

	assert.True(t, IsCacheMiss(manager.GetJSON(ctx, "test:workflow:missing", &got)))
	err := manager.GetJSON(ctx, "test:workflow:bad", &got)
	require.Error(t, err)
	assert.False(t, IsCacheMiss(err))
}

func TestMGetJSON(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()
	require.NoError(t, mr.Set("w:1", `{"id":"1","nodes":1}`))
	require.NoError(t, mr.Set("w:3", `{"id":"3","nodes":3}`))

	values, missing, err := MGetJSON[record](ctx, manager, []string{"w:1", "w:2", "w:3"})
	require.NoError(t, err)
	require.Len(t, values, 3)
	assert.Equal(t, &record{ID: "1", Nodes: 1}, values[0])
	assert.Nil(t, values[1])
	assert.Equal(t, "3", values[2].ID)
	assert.Equal(t, []string{"w:2"}, missing)

	values, missing, err = MGetJSON[record](ctx, manager, nil)
	require.NoError(t, err)
	assert.Nil(t, values)
	assert.Nil(t, missing)

	require.NoError(t, mr.Set("w:bad", "{"))
	_, _, err = MGetJSON[record](ctx, manager, []string{"w:1", "w:bad"})
	assert.ErrorContains(t, err, "decode w:bad")
}

func TestManager_PipelinedAndSets(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	err := manager.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, "wf:1", "{}", 0)
		p.SAdd(ctx, "owner:alice", "1", "2")
		return nil
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("wf:1"))

	members, err := manager.SetMembers(ctx, "owner:alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, members)

	members, err = manager.SetMembers(ctx, "owner:nobody")
	require.NoError(t, err)
	assert.Empty(t, members)
}

func TestManager_Stream(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	var ids []string
	for _, action := range []string{"create", "execute", "activate"} {
		id, err := manager.StreamAppend(ctx, "audit", map[string]any{"action": action}, 100)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	all, err := manager.StreamRange(ctx, "audit", "", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "create", all[0].Values["action"])

	page, err := manager.StreamRange(ctx, "audit", ids[0], 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, ids[1], page[0].ID)

	rest, err := manager.StreamRange(ctx, "audit", ids[2], 0)
	require.NoError(t, err)
	assert.Empty(t, rest)
}

func TestManager_Closed(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close(), "close is idempotent")

	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, manager.GetJSON(ctx, "k", &record{}), ErrClosed)
	_, err := manager.SetMembers(ctx, "k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, manager.Pipelined(ctx, func(redis.Pipeliner) error { return nil }), ErrClosed)
	assert.Nil(t, manager.PoolStats())
}

func TestManager_PoolStats(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Ping(context.Background()))

	stats := manager.PoolStats()
	require.NotNil(t, stats)
	assert.GreaterOrEqual(t, stats.TotalConns, uint32(1))
}

func TestManager_WatchLogsTransitions(t *testing.T) {
	mr := miniredis.RunT(t)
	core, logs := observer.New(zapcore.InfoLevel)

	manager, err := NewManager(Config{
		Addr:                mr.Addr(),
		MaxRetries:          -1,
		HealthCheckInterval: 10 * time.Millisecond,
	}, zap.New(core))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	mr.Close()
	require.Eventually(t, func() bool {
		return logs.FilterMessage("redis became unreachable").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, mr.Restart())
	require.Eventually(t, func() bool {
		return logs.FilterMessage("redis reachable again").Len() == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, logs.FilterMessage("redis became unreachable").Len(), "repeated failures log once")
}
