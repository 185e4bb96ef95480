// Package cache provides internal cache management.
// This package is internal and should not be imported by external projects.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/agentweave/internal/tlsutil"
)

// =============================================================================
// 💾 Redis 管理器
// =============================================================================

// ErrCacheMiss 键不存在
var ErrCacheMiss = errors.New("cache miss")

// ErrClosed 管理器已关闭
var ErrClosed = errors.New("cache manager is closed")

// IsCacheMiss 判断是否为未命中错误
func IsCacheMiss(err error) bool {
	return errors.Is(err, ErrCacheMiss)
}

// Config Redis 配置
type Config struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`

	// 键前缀，Key 拼出的所有键都以此开头
	KeyPrefix string `yaml:"key_prefix" json:"key_prefix"`

	MaxRetries   int `yaml:"max_retries" json:"max_retries"`
	PoolSize     int `yaml:"pool_size" json:"pool_size"`
	MinIdleConns int `yaml:"min_idle_conns" json:"min_idle_conns"`

	// 后台探活间隔，0 关闭；只在状态变化时记录日志
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`

	// TLS 连接，CAFile 追加信任的 CA
	TLS       bool   `yaml:"tls" json:"tls"`
	TLSCAFile string `yaml:"tls_ca_file" json:"tls_ca_file"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                "localhost:6379",
		KeyPrefix:           "agentweave",
		MaxRetries:          3,
		PoolSize:            10,
		MinIdleConns:        2,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Manager 持有 Redis 客户端，供 Redis 工作流存储与审计流共用
type Manager struct {
	redis  *redis.Client
	config Config
	logger *zap.Logger

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewManager 连接 Redis，启动失败时返回错误
func NewManager(config Config, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
	}
	if config.TLS {
		host, _, err := net.SplitHostPort(config.Addr)
		if err != nil {
			host = config.Addr
		}
		tlsCfg, err := tlsutil.ClientTLSConfig(tlsutil.ClientFiles{CAFile: config.TLSCAFile, ServerName: host})
		if err != nil {
			return nil, fmt.Errorf("redis tls: %w", err)
		}
		opts.TLSConfig = tlsCfg
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	m := &Manager{
		redis:  client,
		config: config,
		logger: logger.With(zap.String("component", "cache")),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	if config.HealthCheckInterval > 0 {
		go m.watch(config.HealthCheckInterval)
	} else {
		close(m.done)
	}

	m.logger.Info("redis connected",
		zap.String("addr", config.Addr),
		zap.Int("db", config.DB),
		zap.String("key_prefix", config.KeyPrefix),
		zap.Bool("tls", config.TLS),
	)
	return m, nil
}

// Key 拼接带前缀的键，例如 Key("workflow", id) => "agentweave:workflow:<id>"
func (m *Manager) Key(parts ...string) string {
	key := strings.Join(parts, ":")
	if m.config.KeyPrefix == "" {
		return key
	}
	return m.config.KeyPrefix + ":" + key
}

// do 在读锁内执行 fn，关闭后返回 ErrClosed
func (m *Manager) do(fn func(c *redis.Client) error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return ErrClosed
	}
	return fn(m.redis)
}

// =============================================================================
// 🎯 读取
// =============================================================================

// GetJSON 读取并反序列化一个 JSON 值，键不存在时返回 ErrCacheMiss
func (m *Manager) GetJSON(ctx context.Context, key string, dest any) error {
	var raw string
	err := m.do(func(c *redis.Client) error {
		var err error
		raw, err = c.Get(ctx, key).Result()
		return err
	})
	switch {
	case errors.Is(err, redis.Nil):
		return ErrCacheMiss
	case err != nil:
		return fmt.Errorf("cache get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), dest); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// MGetJSON 用一次 MGET 读取多个 JSON 值，按 keys 的顺序返回。
// 不存在的键对应 nil，并收集到 missing 中。
func MGetJSON[T any](ctx context.Context, m *Manager, keys []string) (values []*T, missing []string, err error) {
	if len(keys) == 0 {
		return nil, nil, nil
	}
	var raws []any
	err = m.do(func(c *redis.Client) error {
		var err error
		raws, err = c.MGet(ctx, keys...).Result()
		return err
	})
	if err != nil {
		return nil, nil, fmt.Errorf("cache mget: %w", err)
	}

	values = make([]*T, len(keys))
	for i, raw := range raws {
		s, ok := raw.(string)
		if !ok {
			missing = append(missing, keys[i])
			continue
		}
		v := new(T)
		if err := json.Unmarshal([]byte(s), v); err != nil {
			return nil, nil, fmt.Errorf("decode %s: %w", keys[i], err)
		}
		values[i] = v
	}
	return values, missing, nil
}

// SetMembers 返回集合成员
func (m *Manager) SetMembers(ctx context.Context, key string) ([]string, error) {
	var members []string
	err := m.do(func(c *redis.Client) error {
		var err error
		members, err = c.SMembers(ctx, key).Result()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cache smembers %s: %w", key, err)
	}
	return members, nil
}

// =============================================================================
// ✍️ 写入
// =============================================================================

// Pipelined 在 MULTI/EXEC 事务中执行 fn 内排队的命令
func (m *Manager) Pipelined(ctx context.Context, fn func(redis.Pipeliner) error) error {
	err := m.do(func(c *redis.Client) error {
		_, err := c.TxPipelined(ctx, fn)
		return err
	})
	if err != nil && !errors.Is(err, ErrClosed) {
		return fmt.Errorf("cache transaction: %w", err)
	}
	return err
}

// StreamAppend 向 stream 追加一条记录；maxLen > 0 时近似裁剪
func (m *Manager) StreamAppend(ctx context.Context, stream string, values map[string]any, maxLen int64) (string, error) {
	args := &redis.XAddArgs{Stream: stream, Values: values}
	if maxLen > 0 {
		args.MaxLen = maxLen
		args.Approx = true
	}
	var id string
	err := m.do(func(c *redis.Client) error {
		var err error
		id, err = c.XAdd(ctx, args).Result()
		return err
	})
	if err != nil {
		return "", fmt.Errorf("cache xadd %s: %w", stream, err)
	}
	return id, nil
}

// StreamRange 读取 stream 中 ID 大于 after 的最多 count 条记录；after 为空时从头读取
func (m *Manager) StreamRange(ctx context.Context, stream, after string, count int64) ([]redis.XMessage, error) {
	start := "-"
	if after != "" {
		start = "(" + after
	}
	var msgs []redis.XMessage
	err := m.do(func(c *redis.Client) error {
		var err error
		if count > 0 {
			msgs, err = c.XRangeN(ctx, stream, start, "+", count).Result()
		} else {
			msgs, err = c.XRange(ctx, stream, start, "+").Result()
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("cache xrange %s: %w", stream, err)
	}
	return msgs, nil
}

// =============================================================================
// 🏥 生命周期
// =============================================================================

// Ping 检查 Redis 连接
func (m *Manager) Ping(ctx context.Context) error {
	return m.do(func(c *redis.Client) error { return c.Ping(ctx).Err() })
}

// PoolStats 返回连接池统计，关闭后为 nil
func (m *Manager) PoolStats() *redis.PoolStats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	return m.redis.PoolStats()
}

// Close 停止探活并关闭客户端
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.stop)
	m.mu.Unlock()

	<-m.done
	m.logger.Info("redis connection closed")
	return m.redis.Close()
}

// watch 周期探活，只在可用性变化时记录日志
func (m *Manager) watch(interval time.Duration) {
	defer close(m.done)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	healthy := true
	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := m.Ping(ctx)
		cancel()

		switch {
		case errors.Is(err, ErrClosed):
			return
		case err != nil && healthy:
			healthy = false
			m.logger.Error("redis became unreachable", zap.Error(err))
		case err == nil && !healthy:
			healthy = true
			m.logger.Info("redis reachable again")
		}
	}
}
