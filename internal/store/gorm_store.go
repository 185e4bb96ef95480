package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/agentweave/workflow"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// =============================================================================
// 🗄️ 数据库工作流存储
// =============================================================================

// GormStore 基于 gorm 的 workflow.Store 实现，支持 postgres / mysql / sqlite
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore 创建数据库存储
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{
		db:     db,
		logger: logger.With(zap.String("component", "gorm_store")),
	}
}

// Save 按主键插入或整行覆盖
func (s *GormStore) Save(ctx context.Context, wf *workflow.Workflow) error {
	rec, err := toRecord(wf)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("save workflow %s: %w", wf.ID, err)
	}
	return nil
}

// Get 查询单个工作流
func (s *GormStore) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	var rec workflowRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrWorkflowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return rec.toWorkflow()
}

// ListByOwner 按创建时间列出用户的工作流
func (s *GormStore) ListByOwner(ctx context.Context, ownerID string) ([]*workflow.Workflow, error) {
	var recs []workflowRecord
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC").
		Order("id ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list workflows of %s: %w", ownerID, err)
	}

	out := make([]*workflow.Workflow, 0, len(recs))
	for i := range recs {
		wf, err := recs[i].toWorkflow()
		if err != nil {
			// 单条损坏的记录不影响列表
			s.logger.Warn("skipping unreadable workflow record",
				zap.String("workflow_id", recs[i].ID),
				zap.Error(err),
			)
			continue
		}
		out = append(out, wf)
	}
	workflow.SortWorkflows(out)
	return out, nil
}

// Delete 删除工作流，不存在时返回 workflow.ErrWorkflowNotFound
func (s *GormStore) Delete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&workflowRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete workflow %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return workflow.ErrWorkflowNotFound
	}
	return nil
}
