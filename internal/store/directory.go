package store

import (
	"context"
	"fmt"
	"time"

	"github.com/BaSui01/agentweave/types"
	"github.com/BaSui01/agentweave/workflow"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAgentDirectory 基于 agents 表的 workflow.AgentLookup 实现
type GormAgentDirectory struct {
	db *gorm.DB
}

// NewGormAgentDirectory 创建数据库 Agent 目录
func NewGormAgentDirectory(db *gorm.DB) *GormAgentDirectory {
	return &GormAgentDirectory{db: db}
}

// Register 登记 Agent，已存在时忽略；ownerID 为 workflow.SharedOwner 时对所有用户可见
func (d *GormAgentDirectory) Register(ctx context.Context, ownerID, agentRef, name string) error {
	rec := &agentRecord{
		AgentRef:  agentRef,
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	err := d.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(rec).Error
	if err != nil {
		return fmt.Errorf("register agent %s: %w", agentRef, err)
	}
	return nil
}

// Resolve 实现 workflow.AgentLookup
func (d *GormAgentDirectory) Resolve(ctx context.Context, agentRef, ownerID string) error {
	var count int64
	err := d.db.WithContext(ctx).
		Model(&agentRecord{}).
		Where("agent_ref = ? AND owner_id IN ?", agentRef, []string{ownerID, workflow.SharedOwner}).
		Count(&count).Error
	if err != nil {
		return types.NewInternalError(fmt.Sprintf("resolve agent %s", agentRef)).WithCause(err)
	}
	if count == 0 {
		return types.NewNotFoundError(fmt.Sprintf("agent not found: %s", agentRef))
	}
	return nil
}
