package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/agentweave/types"
)

// Registry owns workflow definitions: creation with validation, lookup,
// listing, deletion and activation.
type Registry struct {
	store  Store
	lookup AgentLookup
	audit  AuditSink
	logger *zap.Logger
	now    func() time.Time

	// mu serialises read-check-write sequences against the store.
	mu sync.Mutex
}

// NewRegistry creates a registry. A nil lookup accepts every agent reference;
// a nil audit sink discards events.
func NewRegistry(store Store, lookup AgentLookup, audit AuditSink, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewMemoryStore()
	}
	if audit == nil {
		audit = NopAuditSink{}
	}
	return &Registry{
		store:  store,
		lookup: lookup,
		audit:  audit,
		logger: logger.With(zap.String("component", "workflow_registry")),
		now:    time.Now,
	}
}

// Create validates and stores a new workflow, returning its id. The first
// node becomes the start node and the workflow starts inactive.
func (r *Registry) Create(ctx context.Context, ownerID, name, description string, nodes []WorkflowNode) (string, error) {
	if len(nodes) == 0 {
		return "", types.NewValidationError("workflow must have at least one node")
	}
	if err := ValidateNodes(nodes); err != nil {
		return "", err
	}
	if r.lookup != nil {
		for _, n := range nodes {
			if err := r.lookup.Resolve(ctx, n.AgentRef, ownerID); err != nil {
				return "", types.NewNotFoundError(fmt.Sprintf("agent %s not found for node %s", n.AgentRef, n.ID)).WithCause(err)
			}
		}
	}

	r.mu.Lock()
	now := r.now()
	id, err := r.newID(ctx, ownerID, now)
	if err != nil {
		r.mu.Unlock()
		return "", err
	}
	wf := &Workflow{
		ID:          id,
		Name:        name,
		Description: description,
		OwnerID:     ownerID,
		Nodes:       cloneNodes(nodes),
		StartNodeID: nodes[0].ID,
		IsActive:    false,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = r.store.Save(ctx, wf)
	r.mu.Unlock()
	if err != nil {
		return "", types.NewInternalError("failed to save workflow").WithCause(err)
	}

	r.logger.Info("workflow created",
		zap.String("workflow_id", id),
		zap.String("owner_id", ownerID),
		zap.Int("nodes", len(nodes)),
	)

	r.recordAudit(ctx, ownerID, fmt.Sprintf("Created workflow %q", name), map[string]any{
		"workflow_id": id,
		"node_count":  len(nodes),
	})
	return id, nil
}

// newID builds "<owner>_<unixMillis>_<suffix>" and retries on the
// vanishingly rare collision with a stored id.
func (r *Registry) newID(ctx context.Context, ownerID string, at time.Time) (string, error) {
	for i := 0; i < 5; i++ {
		suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
		id := fmt.Sprintf("%s_%d_%s", ownerID, at.UnixMilli(), suffix)
		_, err := r.store.Get(ctx, id)
		if errors.Is(err, ErrWorkflowNotFound) {
			return id, nil
		}
		if err != nil {
			return "", types.NewInternalError("failed to check workflow id").WithCause(err)
		}
	}
	return "", types.NewInternalError("could not allocate a unique workflow id")
}

// recordAudit never lets an audit failure, including a panic, reach the caller.
func (r *Registry) recordAudit(ctx context.Context, ownerID, text string, metadata map[string]any) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Warn("audit sink panicked", zap.Any("panic", rec))
		}
	}()
	if err := r.audit.AppendEvent(ctx, ownerID, text, metadata); err != nil {
		r.logger.Warn("failed to record audit event",
			zap.String("owner_id", ownerID),
			zap.Error(err),
		)
	}
}

// Get returns the workflow with id, or a NOT_FOUND error.
func (r *Registry) Get(ctx context.Context, id string) (*Workflow, error) {
	wf, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrWorkflowNotFound) {
		return nil, types.NewNotFoundError(fmt.Sprintf("workflow not found: %s", id))
	}
	if err != nil {
		return nil, types.NewInternalError("failed to load workflow").WithCause(err)
	}
	return wf, nil
}

// ListByOwner returns the owner's workflows ordered by creation time.
func (r *Registry) ListByOwner(ctx context.Context, ownerID string) ([]*Workflow, error) {
	wfs, err := r.store.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, types.NewInternalError("failed to list workflows").WithCause(err)
	}
	return wfs, nil
}

// Delete removes the workflow when it exists and belongs to ownerID.
func (r *Registry) Delete(ctx context.Context, id, ownerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, err := r.store.Get(ctx, id)
	if err != nil || wf.OwnerID != ownerID {
		return false
	}
	if err := r.store.Delete(ctx, id); err != nil {
		if !errors.Is(err, ErrWorkflowNotFound) {
			r.logger.Error("failed to delete workflow", zap.String("workflow_id", id), zap.Error(err))
		}
		return false
	}
	r.logger.Info("workflow deleted", zap.String("workflow_id", id), zap.String("owner_id", ownerID))
	r.recordAudit(ctx, ownerID, fmt.Sprintf("Deleted workflow %q", wf.Name), map[string]any{"workflow_id": id})
	return true
}

// SetActive flips the IsActive flag of an owned workflow.
func (r *Registry) SetActive(ctx context.Context, id, ownerID string, active bool) (*Workflow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if wf.OwnerID != ownerID {
		return nil, types.NewAccessDeniedError("workflow belongs to another owner")
	}
	wf.IsActive = active
	wf.UpdatedAt = r.now()
	if err := r.store.Save(ctx, wf); err != nil {
		return nil, types.NewInternalError("failed to save workflow").WithCause(err)
	}
	return wf, nil
}

// RecordRun stores the summary of the latest run on the workflow. A workflow
// deleted while running is silently skipped.
func (r *Registry) RecordRun(ctx context.Context, id string, summary RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, err := r.store.Get(ctx, id)
	if errors.Is(err, ErrWorkflowNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	wf.LastRun = &summary
	return r.store.Save(ctx, wf)
}
