package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentweave/internal/cache"
	"github.com/BaSui01/agentweave/workflow"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 💾 Redis 工作流存储
// =============================================================================

// RedisStore 将工作流保存为 JSON 字符串，并为每个用户维护一个 id 集合
//
// 键布局：
//
//	<prefix>:workflow:<id>          工作流 JSON
//	<prefix>:owner:<owner>:workflows 用户的工作流 id 集合
type RedisStore struct {
	cache  *cache.Manager
	logger *zap.Logger
}

// NewRedisStore 创建 Redis 存储
func NewRedisStore(manager *cache.Manager, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{
		cache:  manager,
		logger: logger.With(zap.String("component", "redis_store")),
	}
}

func (s *RedisStore) workflowKey(id string) string {
	return s.cache.Key("workflow", id)
}

func (s *RedisStore) ownerKey(ownerID string) string {
	return s.cache.Key("owner", ownerID, "workflows")
}

// Save 在同一事务中写入工作流并登记到用户集合
func (s *RedisStore) Save(ctx context.Context, wf *workflow.Workflow) error {
	data, err := json.Marshal(wf)
	if err != nil {
		return fmt.Errorf("marshal workflow %s: %w", wf.ID, err)
	}

	return s.cache.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.workflowKey(wf.ID), data, 0)
		pipe.SAdd(ctx, s.ownerKey(wf.OwnerID), wf.ID)
		return nil
	})
}

// Get 读取工作流
func (s *RedisStore) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	var wf workflow.Workflow
	if err := s.cache.GetJSON(ctx, s.workflowKey(id), &wf); err != nil {
		if cache.IsCacheMiss(err) {
			return nil, workflow.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("get workflow %s: %w", id, err)
	}
	return &wf, nil
}

// ListByOwner 用一次 MGET 读取用户集合中的全部工作流，集合中残留的 id 会被忽略
func (s *RedisStore) ListByOwner(ctx context.Context, ownerID string) ([]*workflow.Workflow, error) {
	ids, err := s.cache.SetMembers(ctx, s.ownerKey(ownerID))
	if err != nil {
		return nil, fmt.Errorf("list workflows of %s: %w", ownerID, err)
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.workflowKey(id)
	}
	found, missing, err := cache.MGetJSON[workflow.Workflow](ctx, s.cache, keys)
	if err != nil {
		return nil, fmt.Errorf("list workflows of %s: %w", ownerID, err)
	}
	if len(missing) > 0 {
		s.logger.Debug("stale workflow ids in owner set",
			zap.String("owner_id", ownerID),
			zap.Strings("keys", missing),
		)
	}

	out := make([]*workflow.Workflow, 0, len(found))
	for _, wf := range found {
		if wf != nil {
			out = append(out, wf)
		}
	}
	workflow.SortWorkflows(out)
	return out, nil
}

// Delete 删除工作流并从用户集合中移除
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	wf, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	return s.cache.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.workflowKey(id))
		pipe.SRem(ctx, s.ownerKey(wf.OwnerID), id)
		return nil
	})
}
