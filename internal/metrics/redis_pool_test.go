package metrics

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_RegisterRedisPool(t *testing.T) {
	c, reg := newTestCollector(t)

	stats := &redis.PoolStats{Hits: 7, Misses: 2, Timeouts: 1, TotalConns: 4, IdleConns: 3, StaleConns: 5}
	require.NoError(t, c.RegisterRedisPool(func() *redis.PoolStats { return stats }))

	expected := `
# HELP test_redis_pool_connections Connections currently in the pool.
# TYPE test_redis_pool_connections gauge
test_redis_pool_connections 4
# HELP test_redis_pool_hits_total Times a free connection was found in the pool.
# TYPE test_redis_pool_hits_total counter
test_redis_pool_hits_total 7
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"test_redis_pool_connections", "test_redis_pool_hits_total"))

	stats = nil
	n, err := testutil.GatherAndCount(reg, "test_redis_pool_connections")
	require.NoError(t, err)
	assert.Zero(t, n, "closed pool exports nothing")
}
