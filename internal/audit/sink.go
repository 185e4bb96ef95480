package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentweave/internal/cache"
	"github.com/BaSui01/agentweave/types"
	"github.com/BaSui01/agentweave/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// =============================================================================
// 📝 日志审计
// =============================================================================

// LoggerSink 将审计事件写入结构化日志
type LoggerSink struct {
	logger *zap.Logger
}

// NewLoggerSink 创建日志审计
func NewLoggerSink(logger *zap.Logger) *LoggerSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LoggerSink{logger: logger.With(zap.String("component", "audit"))}
}

// AppendEvent implements workflow.AuditSink.
func (s *LoggerSink) AppendEvent(ctx context.Context, ownerID, text string, metadata map[string]any) error {
	fields := []zap.Field{
		zap.String("owner_id", ownerID),
		zap.Any("metadata", metadata),
	}
	if traceID, ok := types.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	s.logger.Info(text, fields...)
	return nil
}

// =============================================================================
// 📨 Redis Stream 审计
// =============================================================================

// RedisStreamSink 将审计事件追加到 Redis Stream
type RedisStreamSink struct {
	cache  *cache.Manager
	stream string
	maxLen int64
}

// NewRedisStreamSink 创建 Stream 审计；stream 会加上 Manager 的键前缀
func NewRedisStreamSink(manager *cache.Manager, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{
		cache:  manager,
		stream: manager.Key(stream),
		maxLen: maxLen,
	}
}

// Stream 返回完整的 stream 键
func (s *RedisStreamSink) Stream() string {
	return s.stream
}

// AppendEvent implements workflow.AuditSink.
func (s *RedisStreamSink) AppendEvent(ctx context.Context, ownerID, text string, metadata map[string]any) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	_, err = s.cache.StreamAppend(ctx, s.stream, map[string]any{
		"owner_id":   ownerID,
		"text":       text,
		"metadata":   meta,
		"created_at": time.Now().UTC().Format(time.RFC3339Nano),
	}, s.maxLen)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

// =============================================================================
// 🗄️ 数据库审计
// =============================================================================

// Event 对应 audit_events 表
type Event struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	OwnerID   string    `gorm:"size:128;not null;index:idx_audit_events_owner_id,priority:1"`
	Text      string    `gorm:"type:text;not null"`
	Metadata  string    `gorm:"type:text"`
	CreatedAt time.Time `gorm:"not null;index:idx_audit_events_owner_id,priority:2"`
}

func (Event) TableName() string { return "audit_events" }

// GormSink 将审计事件写入 audit_events 表
type GormSink struct {
	db *gorm.DB
}

// NewGormSink 创建数据库审计
func NewGormSink(db *gorm.DB) *GormSink {
	return &GormSink{db: db}
}

// AutoMigrate 创建 audit_events 表，生产环境应使用 internal/migration
func (s *GormSink) AutoMigrate() error {
	return s.db.AutoMigrate(&Event{})
}

// AppendEvent implements workflow.AuditSink.
func (s *GormSink) AppendEvent(ctx context.Context, ownerID, text string, metadata map[string]any) error {
	meta, err := encodeMetadata(metadata)
	if err != nil {
		return err
	}
	ev := &Event{
		OwnerID:   ownerID,
		Text:      text,
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(ev).Error; err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// ListByOwner 按时间倒序返回用户最近的审计事件
func (s *GormSink) ListByOwner(ctx context.Context, ownerID string, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	var events []Event
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

// =============================================================================
// 🔀 组合审计
// =============================================================================

// MultiSink 依次写入所有下游，单个失败不影响其余下游
type MultiSink []workflow.AuditSink

// AppendEvent implements workflow.AuditSink.
func (m MultiSink) AppendEvent(ctx context.Context, ownerID, text string, metadata map[string]any) error {
	var errs []error
	for _, sink := range m {
		if err := sink.AppendEvent(ctx, ownerID, text, metadata); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func encodeMetadata(metadata map[string]any) (string, error) {
	if len(metadata) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return "", fmt.Errorf("marshal audit metadata: %w", err)
	}
	return string(data), nil
}
