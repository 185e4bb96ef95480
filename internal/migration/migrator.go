package migration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/BaSui01/agentweave/config"
)

// =============================================================================
// 🗄️ Schema 迁移
// =============================================================================

//go:embed migrations
var migrationsFS embed.FS

var (
	// ErrSchemaDirty 上次迁移中途失败，需要 force 修复
	ErrSchemaDirty = errors.New("schema is dirty")
	// ErrSchemaBehind 存在未应用的迁移
	ErrSchemaBehind = errors.New("schema has pending migrations")
)

// File 一条内嵌迁移
type File struct {
	Version uint
	Name    string
}

// Status 内嵌迁移及其在目标库中的状态
type Status struct {
	File
	Applied bool
	Dirty   bool
}

// Options 迁移器选项
type Options struct {
	// 版本记录表，默认 schema_migrations
	Table string
	// 获取迁移锁与首次连接的超时，默认 15 秒
	LockTimeout time.Duration
	Logger      *zap.Logger
}

// Migrator 对 workflows / agents / audit_events 三张表执行版本化迁移
type Migrator struct {
	dialect Dialect
	m       *migrate.Migrate
	logger  *zap.Logger
}

// Open 连接数据库并加载该方言的内嵌迁移
func Open(dialect Dialect, dsn string, opts Options) (*Migrator, error) {
	if !dialect.valid() {
		return nil, fmt.Errorf("unsupported database type: %q", dialect)
	}
	if dsn == "" {
		return nil, errors.New("database URL is required")
	}
	if opts.Table == "" {
		opts.Table = "schema_migrations"
	}
	if opts.LockTimeout <= 0 {
		opts.LockTimeout = 15 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	db, err := sql.Open(dialect.sqlDriver(), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), opts.LockTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	dbDriver, err := dialect.driver(db, opts.Table)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create database driver: %w", err)
	}
	src, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		_ = dbDriver.Close()
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, string(dialect), dbDriver)
	if err != nil {
		_ = dbDriver.Close()
		return nil, fmt.Errorf("create migrate instance: %w", err)
	}

	logger := opts.Logger.With(zap.String("component", "migration"), zap.String("dialect", string(dialect)))
	m.LockTimeout = opts.LockTimeout
	m.Log = migrateLogger{logger: logger.Sugar()}

	return &Migrator{dialect: dialect, m: m, logger: logger}, nil
}

// OpenConfig 按应用数据库配置打开迁移器
func OpenConfig(cfg config.DatabaseConfig, opts Options) (*Migrator, error) {
	dialect, dsn, err := DSN(cfg)
	if err != nil {
		return nil, err
	}
	return Open(dialect, dsn, opts)
}

// Dialect 返回迁移器的方言
func (m *Migrator) Dialect() Dialect {
	return m.dialect
}

// run 执行一次迁移；ctx 取消时在当前迁移文件完成后停止
func (m *Migrator) run(ctx context.Context, op string, fn func() error) error {
	stop := context.AfterFunc(ctx, func() {
		select {
		case m.m.GracefulStop <- true:
		default:
		}
	})
	defer func() {
		// 未被消费的停止信号会中断下一次迁移
		if !stop() {
			select {
			case <-m.m.GracefulStop:
			default:
			}
		}
	}()

	start := time.Now()
	err := fn()
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Debug("schema unchanged", zap.String("op", op))
		return nil
	}
	if err != nil {
		var dirty migrate.ErrDirty
		if errors.As(err, &dirty) {
			return fmt.Errorf("%s: %w at version %d", op, ErrSchemaDirty, dirty.Version)
		}
		return fmt.Errorf("%s: %w", op, err)
	}
	if ctx.Err() != nil {
		return fmt.Errorf("%s interrupted: %w", op, ctx.Err())
	}

	version, _, _ := m.Version()
	m.logger.Info("schema migrated",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Duration("duration", time.Since(start)),
	)
	return nil
}

// Up 应用全部未执行的迁移
func (m *Migrator) Up(ctx context.Context) error {
	return m.run(ctx, "up", m.m.Up)
}

// Down 回滚最近一次迁移
func (m *Migrator) Down(ctx context.Context) error {
	return m.run(ctx, "down", func() error { return m.m.Steps(-1) })
}

// Reset 回滚全部迁移
func (m *Migrator) Reset(ctx context.Context) error {
	return m.run(ctx, "reset", m.m.Down)
}

// Steps n>0 前进 n 步，n<0 回滚 |n| 步
func (m *Migrator) Steps(ctx context.Context, n int) error {
	return m.run(ctx, "steps", func() error { return m.m.Steps(n) })
}

// Goto 迁移到指定版本
func (m *Migrator) Goto(ctx context.Context, version uint) error {
	return m.run(ctx, "goto", func() error { return m.m.Migrate(version) })
}

// Force 只改写版本记录并清除 dirty 标记，不执行 SQL
func (m *Migrator) Force(version int) error {
	if err := m.m.Force(version); err != nil {
		return fmt.Errorf("force: %w", err)
	}
	m.logger.Warn("schema version forced", zap.Int("version", version))
	return nil
}

// Version 返回当前版本；尚未迁移时为 0
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("read schema version: %w", err)
	}
	return version, dirty, nil
}

// Status 列出全部内嵌迁移及其应用状态
func (m *Migrator) Status() ([]Status, error) {
	version, dirty, err := m.Version()
	if err != nil {
		return nil, err
	}
	files, err := Files(m.dialect)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(files))
	for i, f := range files {
		out[i] = Status{
			File:    f,
			Applied: f.Version <= version,
			Dirty:   dirty && f.Version == version,
		}
	}
	return out, nil
}

// Pending 返回尚未应用的迁移
func (m *Migrator) Pending() ([]File, error) {
	statuses, err := m.Status()
	if err != nil {
		return nil, err
	}
	var pending []File
	for _, s := range statuses {
		if !s.Applied {
			pending = append(pending, s.File)
		}
	}
	return pending, nil
}

// EnsureCurrent 在 schema 为 dirty 或落后于内嵌迁移时返回错误
func (m *Migrator) EnsureCurrent() error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if dirty {
		return fmt.Errorf("%w at version %d", ErrSchemaDirty, version)
	}
	pending, err := m.Pending()
	if err != nil {
		return err
	}
	if len(pending) > 0 {
		return fmt.Errorf("%w: %d after version %d", ErrSchemaBehind, len(pending), version)
	}
	return nil
}

// Close 释放迁移源与数据库连接
func (m *Migrator) Close() error {
	srcErr, dbErr := m.m.Close()
	return errors.Join(srcErr, dbErr)
}

// =============================================================================
// 📄 内嵌迁移清单
// =============================================================================

// Files 按版本顺序列出某方言的内嵌迁移
func Files(dialect Dialect) ([]File, error) {
	if !dialect.valid() {
		return nil, fmt.Errorf("unsupported database type: %q", dialect)
	}
	src, err := iofs.New(migrationsFS, dialect.dir())
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	defer src.Close()

	var files []File
	version, err := src.First()
	for err == nil {
		if r, name, rerr := src.ReadUp(version); rerr == nil {
			_ = r.Close()
			files = append(files, File{Version: version, Name: name})
		}
		version, err = src.Next(version)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	return files, nil
}

// migrateLogger 把 golang-migrate 的日志接到 zap
type migrateLogger struct {
	logger *zap.SugaredLogger
}

func (l migrateLogger) Printf(format string, v ...any) {
	l.logger.Debugf(strings.TrimRight(format, "\n"), v...)
}

func (l migrateLogger) Verbose() bool {
	return l.logger.Desugar().Core().Enabled(zapcore.DebugLevel)
}
