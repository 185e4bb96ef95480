package workflow

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrWorkflowNotFound is returned by a Store when no workflow has the given id.
var ErrWorkflowNotFound = errors.New("workflow not found")

// Store persists workflows. Implementations must return copies so callers
// cannot mutate stored state.
type Store interface {
	Save(ctx context.Context, wf *Workflow) error
	Get(ctx context.Context, id string) (*Workflow, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*Workflow, error)
	Delete(ctx context.Context, id string) error
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{workflows: make(map[string]*Workflow)}
}

// Save inserts or replaces wf.
func (s *MemoryStore) Save(_ context.Context, wf *Workflow) error {
	s.mu.Lock()
	s.workflows[wf.ID] = wf.Clone()
	s.mu.Unlock()
	return nil
}

// Get returns a copy of the workflow or ErrWorkflowNotFound.
func (s *MemoryStore) Get(_ context.Context, id string) (*Workflow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wf, ok := s.workflows[id]
	if !ok {
		return nil, ErrWorkflowNotFound
	}
	return wf.Clone(), nil
}

// ListByOwner returns the owner's workflows ordered by creation time.
func (s *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*Workflow, error) {
	s.mu.RLock()
	out := make([]*Workflow, 0)
	for _, wf := range s.workflows {
		if wf.OwnerID == ownerID {
			out = append(out, wf.Clone())
		}
	}
	s.mu.RUnlock()
	SortWorkflows(out)
	return out, nil
}

// Delete removes the workflow or returns ErrWorkflowNotFound.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workflows[id]; !ok {
		return ErrWorkflowNotFound
	}
	delete(s.workflows, id)
	return nil
}

// Len returns the number of stored workflows.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.workflows)
}

// SortWorkflows orders workflows by creation time then id, the order every
// Store implementation returns from ListByOwner.
func SortWorkflows(wfs []*Workflow) {
	sort.SliceStable(wfs, func(i, j int) bool {
		if wfs[i].CreatedAt.Equal(wfs[j].CreatedAt) {
			return wfs[i].ID < wfs[j].ID
		}
		return wfs[i].CreatedAt.Before(wfs[j].CreatedAt)
	})
}
