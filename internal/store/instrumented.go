package store

import (
	"context"
	"errors"
	"time"

	"github.com/BaSui01/agentweave/workflow"
)

// OperationRecorder 接收存储操作的耗时与结果，internal/metrics.Collector 实现了该接口
type OperationRecorder interface {
	RecordStoreOperation(backend, operation string, err error, duration time.Duration)
}

// Instrumented 为任意 workflow.Store 记录操作指标
type Instrumented struct {
	next     workflow.Store
	backend  string
	recorder OperationRecorder
}

// NewInstrumented 包装 next；recorder 为 nil 时直接返回 next
func NewInstrumented(next workflow.Store, backend string, recorder OperationRecorder) workflow.Store {
	if recorder == nil {
		return next
	}
	return &Instrumented{next: next, backend: backend, recorder: recorder}
}

func (s *Instrumented) observe(op string, start time.Time, err error) {
	// 未找到属于正常结果
	if errors.Is(err, workflow.ErrWorkflowNotFound) {
		err = nil
	}
	s.recorder.RecordStoreOperation(s.backend, op, err, time.Since(start))
}

// Save implements workflow.Store.
func (s *Instrumented) Save(ctx context.Context, wf *workflow.Workflow) error {
	start := time.Now()
	err := s.next.Save(ctx, wf)
	s.observe("save", start, err)
	return err
}

// Get implements workflow.Store.
func (s *Instrumented) Get(ctx context.Context, id string) (*workflow.Workflow, error) {
	start := time.Now()
	wf, err := s.next.Get(ctx, id)
	s.observe("get", start, err)
	return wf, err
}

// ListByOwner implements workflow.Store.
func (s *Instrumented) ListByOwner(ctx context.Context, ownerID string) ([]*workflow.Workflow, error) {
	start := time.Now()
	wfs, err := s.next.ListByOwner(ctx, ownerID)
	s.observe("list", start, err)
	return wfs, err
}

// Delete implements workflow.Store.
func (s *Instrumented) Delete(ctx context.Context, id string) error {
	start := time.Now()
	err := s.next.Delete(ctx, id)
	s.observe("delete", start, err)
	return err
}
