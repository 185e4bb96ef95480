package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	cgosqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

// 支持的驱动名称
const (
	DriverPostgres = "postgres"
	DriverMySQL    = "mysql"
	DriverSQLite   = "sqlite"  // glebarez/sqlite，纯 Go
	DriverSQLite3  = "sqlite3" // gorm.io/driver/sqlite，需要 CGO
)

// ErrPoolClosed 连接池已关闭
var ErrPoolClosed = errors.New("database pool is closed")

// Config 打开工作流数据库的参数
type Config struct {
	Driver string     `yaml:"driver" json:"driver"`
	DSN    string     `yaml:"dsn" json:"dsn"`
	Pool   PoolConfig `yaml:"pool" json:"pool"`

	// 超过该耗时的 SQL 以 warn 级别记录，0 使用 DefaultSlowThreshold
	SlowThreshold time.Duration `yaml:"slow_threshold" json:"slow_threshold"`
}

// PoolConfig 连接池参数
type PoolConfig struct {
	MaxIdleConns    int           `yaml:"max_idle_conns" json:"max_idle_conns"`
	MaxOpenConns    int           `yaml:"max_open_conns" json:"max_open_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time" json:"conn_max_idle_time"`

	// 后台探活间隔，0 关闭
	HealthCheckInterval time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxIdleConns:        5,
		MaxOpenConns:        25,
		ConnMaxLifetime:     time.Hour,
		ConnMaxIdleTime:     10 * time.Minute,
		HealthCheckInterval: 30 * time.Second,
	}
}

// Validate 校验连接池配置
func (c PoolConfig) Validate() error {
	switch {
	case c.MaxOpenConns <= 0:
		return errors.New("max_open_conns must be positive")
	case c.MaxIdleConns <= 0:
		return errors.New("max_idle_conns must be positive")
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("max_idle_conns (%d) cannot exceed max_open_conns (%d)", c.MaxIdleConns, c.MaxOpenConns)
	case c.ConnMaxLifetime < 0, c.ConnMaxIdleTime < 0, c.HealthCheckInterval < 0:
		return errors.New("pool durations must not be negative")
	}
	return nil
}

func (c PoolConfig) apply(db *sql.DB) {
	db.SetMaxIdleConns(c.MaxIdleConns)
	db.SetMaxOpenConns(c.MaxOpenConns)
	db.SetConnMaxLifetime(c.ConnMaxLifetime)
	db.SetConnMaxIdleTime(c.ConnMaxIdleTime)
}

// Dialector 根据驱动名称返回 GORM 方言
func Dialector(driver, dsn string) (gorm.Dialector, error) {
	switch strings.ToLower(driver) {
	case DriverPostgres, "postgresql":
		return postgres.Open(dsn), nil
	case DriverMySQL:
		return mysql.Open(dsn), nil
	case DriverSQLite:
		return sqlite.Open(dsn), nil
	case DriverSQLite3:
		return cgosqlite.Open(dsn), nil
	}
	return nil, fmt.Errorf("unsupported database driver: %s", driver)
}

// Open 打开数据库，SQL 日志写入 zap
func Open(cfg Config, logger *zap.Logger) (*PoolManager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Pool.Validate(); err != nil {
		return nil, err
	}
	dialector, err := Dialector(cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         NewGormLogger(logger, cfg.SlowThreshold),
		NowFunc:        func() time.Time { return time.Now().UTC() },
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", cfg.Driver, err)
	}

	pm, err := NewPoolManager(db, cfg.Pool, logger)
	if err != nil {
		if sqlDB, dbErr := db.DB(); dbErr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	return pm, nil
}

// =============================================================================
// 🗄️ PoolManager
// =============================================================================

// PoolManager 持有工作流存储与审计共用的 GORM 连接
type PoolManager struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	config PoolConfig
	logger *zap.Logger

	healthy atomic.Bool

	mu     sync.RWMutex
	closed bool
	stop   chan struct{}
	done   chan struct{}
}

// NewPoolManager 应用连接池参数，HealthCheckInterval > 0 时启动后台探活
func NewPoolManager(db *gorm.DB, config PoolConfig, logger *zap.Logger) (*PoolManager, error) {
	if db == nil {
		return nil, errors.New("db cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("get sql.DB: %w", err)
	}
	config.apply(sqlDB)

	pm := &PoolManager{
		db:     db,
		sqlDB:  sqlDB,
		config: config,
		logger: logger.With(zap.String("component", "database"), zap.String("dialect", db.Name())),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	pm.healthy.Store(true)

	if config.HealthCheckInterval > 0 {
		go pm.watch()
	} else {
		close(pm.done)
	}

	pm.logger.Info("database opened",
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns),
	)
	return pm, nil
}

// DB 返回 GORM 实例
func (pm *PoolManager) DB() *gorm.DB {
	return pm.db
}

// Ping 探测数据库连接
func (pm *PoolManager) Ping(ctx context.Context) error {
	pm.mu.RLock()
	defer pm.mu.RUnlock()
	if pm.closed {
		return ErrPoolClosed
	}
	return pm.sqlDB.PingContext(ctx)
}

// Stats 返回底层连接池统计
func (pm *PoolManager) Stats() sql.DBStats {
	return pm.sqlDB.Stats()
}

// Healthy 返回最近一次后台探活的结果
func (pm *PoolManager) Healthy() bool {
	return pm.healthy.Load()
}

// Close 停止探活并关闭连接池，可重复调用
func (pm *PoolManager) Close() error {
	pm.mu.Lock()
	if pm.closed {
		pm.mu.Unlock()
		return nil
	}
	pm.closed = true
	close(pm.stop)
	pm.mu.Unlock()

	<-pm.done
	pm.logger.Info("database closed")
	return pm.sqlDB.Close()
}

// watch 定时探活，只在可达性变化时记录日志
func (pm *PoolManager) watch() {
	defer close(pm.done)

	ticker := time.NewTicker(pm.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pm.stop:
			return
		case <-ticker.C:
		}
		pm.probe()
	}
}

func (pm *PoolManager) probe() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := pm.Ping(ctx)
	if errors.Is(err, ErrPoolClosed) {
		return
	}
	ok := err == nil
	if pm.healthy.Swap(ok) == ok {
		return
	}
	if ok {
		stats := pm.Stats()
		pm.logger.Info("database reachable again",
			zap.Int("open_connections", stats.OpenConnections),
			zap.Int("idle", stats.Idle),
		)
		return
	}
	pm.logger.Error("database became unreachable", zap.Error(err))
}
