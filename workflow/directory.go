package workflow

import (
	"context"
	"fmt"
	"sync"

	"github.com/BaSui01/agentweave/types"
)

// SharedOwner registers an agent visible to every owner.
const SharedOwner = "*"

// StaticAgentDirectory is an in-memory AgentLookup.
type StaticAgentDirectory struct {
	mu     sync.RWMutex
	agents map[string]map[string]struct{}
}

// NewStaticAgentDirectory creates an empty directory.
func NewStaticAgentDirectory() *StaticAgentDirectory {
	return &StaticAgentDirectory{agents: make(map[string]map[string]struct{})}
}

// Register makes agentRefs resolvable for ownerID (or SharedOwner).
func (d *StaticAgentDirectory) Register(ownerID string, agentRefs ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.agents[ownerID] == nil {
		d.agents[ownerID] = make(map[string]struct{})
	}
	for _, ref := range agentRefs {
		d.agents[ownerID][ref] = struct{}{}
	}
}

// Resolve implements AgentLookup.
func (d *StaticAgentDirectory) Resolve(_ context.Context, agentRef, ownerID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if _, ok := d.agents[ownerID][agentRef]; ok {
		return nil
	}
	if _, ok := d.agents[SharedOwner][agentRef]; ok {
		return nil
	}
	return types.NewNotFoundError(fmt.Sprintf("agent not found: %s", agentRef))
}
