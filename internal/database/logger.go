package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultSlowThreshold 慢查询阈值
const DefaultSlowThreshold = 200 * time.Millisecond

// =============================================================================
// 📝 GORM → zap
// =============================================================================

// GormLogger 把 GORM 日志写入 zap
//
// 普通 SQL 记为 debug，慢查询记为 warn，执行错误记为 error；
// gorm.ErrRecordNotFound 属于正常的查询结果，不按错误记录。
type GormLogger struct {
	logger *zap.Logger
	level  gormlogger.LogLevel
	slow   time.Duration
}

// NewGormLogger 创建 GORM 日志适配器
func NewGormLogger(logger *zap.Logger, slow time.Duration) *GormLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	if slow <= 0 {
		slow = DefaultSlowThreshold
	}
	return &GormLogger{
		logger: logger.With(zap.String("component", "gorm")).WithOptions(zap.AddCallerSkip(3)),
		level:  gormlogger.Warn,
		slow:   slow,
	}
}

// LogMode 返回指定级别的副本
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *GormLogger) Info(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Info {
		l.logger.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Warn(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *GormLogger) Error(_ context.Context, msg string, args ...any) {
	if l.level >= gormlogger.Error {
		l.logger.Error(fmt.Sprintf(msg, args...))
	}
}

// Trace 记录一次 SQL 执行
func (l *GormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)

	var (
		level zapcore.Level
		msg   string
	)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound) && l.level >= gormlogger.Error:
		level, msg = zapcore.ErrorLevel, "sql failed"
	case elapsed > l.slow && l.level >= gormlogger.Warn:
		level, msg = zapcore.WarnLevel, "slow sql"
	case l.logger.Core().Enabled(zapcore.DebugLevel):
		level, msg = zapcore.DebugLevel, "sql"
	default:
		return
	}

	sql, rows := fc()
	fields := []zap.Field{
		zap.String("sql", sql),
		zap.Int64("rows", rows),
		zap.Duration("elapsed", elapsed),
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	if ce := l.logger.Check(level, msg); ce != nil {
		ce.Write(fields...)
	}
}
