package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// =============================================================================
// 💾 Redis 连接池
// =============================================================================

// redisPoolCollector 在每次抓取时读取 go-redis 连接池统计
type redisPoolCollector struct {
	stats func() *redis.PoolStats

	hits, misses, timeouts *prometheus.Desc
	total, idle, stale     *prometheus.Desc
}

// RegisterRedisPool 暴露 Redis 连接池统计；stats 返回 nil 时（连接已关闭）不输出样本
func (c *Collector) RegisterRedisPool(stats func() *redis.PoolStats) error {
	desc := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(c.namespace, "redis_pool", name), help, nil, nil)
	}
	return c.registerer.Register(&redisPoolCollector{
		stats:    stats,
		hits:     desc("hits_total", "Times a free connection was found in the pool."),
		misses:   desc("misses_total", "Times a free connection was not found in the pool."),
		timeouts: desc("timeouts_total", "Times a wait for a connection timed out."),
		total:    desc("connections", "Connections currently in the pool."),
		idle:     desc("idle_connections", "Idle connections currently in the pool."),
		stale:    desc("stale_connections_total", "Stale connections removed from the pool."),
	})
}

func (r *redisPoolCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{r.hits, r.misses, r.timeouts, r.total, r.idle, r.stale} {
		ch <- d
	}
}

func (r *redisPoolCollector) Collect(ch chan<- prometheus.Metric) {
	s := r.stats()
	if s == nil {
		return
	}
	ch <- prometheus.MustNewConstMetric(r.hits, prometheus.CounterValue, float64(s.Hits))
	ch <- prometheus.MustNewConstMetric(r.misses, prometheus.CounterValue, float64(s.Misses))
	ch <- prometheus.MustNewConstMetric(r.timeouts, prometheus.CounterValue, float64(s.Timeouts))
	ch <- prometheus.MustNewConstMetric(r.total, prometheus.GaugeValue, float64(s.TotalConns))
	ch <- prometheus.MustNewConstMetric(r.idle, prometheus.GaugeValue, float64(s.IdleConns))
	ch <- prometheus.MustNewConstMetric(r.stale, prometheus.CounterValue, float64(s.StaleConns))
}
