package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/agentweave/workflow"
	"gorm.io/gorm"
)

// =============================================================================
// 🗃️ 数据库模型
// =============================================================================

// workflowRecord 对应 workflows 表，节点与最近一次运行以 JSON 文本保存
type workflowRecord struct {
	ID          string    `gorm:"primaryKey;size:64"`
	OwnerID     string    `gorm:"size:128;not null;index:idx_workflows_owner_id"`
	Name        string    `gorm:"size:255;not null"`
	Description string    `gorm:"type:text;not null;default:''"`
	Nodes       string    `gorm:"type:text;not null"`
	StartNodeID string    `gorm:"size:128;not null;default:''"`
	IsActive    bool      `gorm:"not null;default:true"`
	LastRun     *string   `gorm:"type:text"`
	CreatedAt   time.Time `gorm:"autoCreateTime:false;not null"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime:false;not null"`
}

func (workflowRecord) TableName() string { return "workflows" }

// agentRecord 对应 agents 表，owner_id 为 "*" 表示所有用户可见
type agentRecord struct {
	AgentRef  string    `gorm:"primaryKey;size:128"`
	OwnerID   string    `gorm:"primaryKey;size:128"`
	Name      string    `gorm:"size:255;not null;default:''"`
	CreatedAt time.Time `gorm:"not null"`
}

func (agentRecord) TableName() string { return "agents" }

// AutoMigrate 为 workflows 与 agents 表创建或更新 Schema，生产环境应使用 internal/migration
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&workflowRecord{}, &agentRecord{}); err != nil {
		return fmt.Errorf("auto migrate store tables: %w", err)
	}
	return nil
}

func toRecord(wf *workflow.Workflow) (*workflowRecord, error) {
	nodes := wf.Nodes
	if nodes == nil {
		nodes = []workflow.WorkflowNode{}
	}
	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return nil, fmt.Errorf("marshal nodes: %w", err)
	}

	rec := &workflowRecord{
		ID:          wf.ID,
		OwnerID:     wf.OwnerID,
		Name:        wf.Name,
		Description: wf.Description,
		Nodes:       string(nodesJSON),
		StartNodeID: wf.StartNodeID,
		IsActive:    wf.IsActive,
		CreatedAt:   wf.CreatedAt.UTC(),
		UpdatedAt:   wf.UpdatedAt.UTC(),
	}
	if wf.LastRun != nil {
		lastRun, err := json.Marshal(wf.LastRun)
		if err != nil {
			return nil, fmt.Errorf("marshal last run: %w", err)
		}
		s := string(lastRun)
		rec.LastRun = &s
	}
	return rec, nil
}

func (r *workflowRecord) toWorkflow() (*workflow.Workflow, error) {
	wf := &workflow.Workflow{
		ID:          r.ID,
		Name:        r.Name,
		Description: r.Description,
		OwnerID:     r.OwnerID,
		StartNodeID: r.StartNodeID,
		IsActive:    r.IsActive,
		CreatedAt:   r.CreatedAt.UTC(),
		UpdatedAt:   r.UpdatedAt.UTC(),
	}
	if err := json.Unmarshal([]byte(r.Nodes), &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes of workflow %s: %w", r.ID, err)
	}
	if r.LastRun != nil && *r.LastRun != "" {
		var lr workflow.RunSummary
		if err := json.Unmarshal([]byte(*r.LastRun), &lr); err != nil {
			return nil, fmt.Errorf("unmarshal last run of workflow %s: %w", r.ID, err)
		}
		wf.LastRun = &lr
	}
	return wf, nil
}
