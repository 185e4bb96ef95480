package workflow

import "sync"

// ResultLog is the append-only record of node results for one run. Parallel
// branches append concurrently; order reflects completion order.
type ResultLog struct {
	mu      sync.Mutex
	entries []NodeResult
}

// NewResultLog creates an empty log.
func NewResultLog() *ResultLog {
	return &ResultLog{entries: make([]NodeResult, 0)}
}

// Append adds a result to the end of the log.
func (l *ResultLog) Append(r NodeResult) {
	l.mu.Lock()
	l.entries = append(l.entries, r)
	l.mu.Unlock()
}

// Snapshot returns a copy of the entries in log order.
func (l *ResultLog) Snapshot() []NodeResult {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]NodeResult, len(l.entries))
	copy(out, l.entries)
	return out
}

// OutputsOf returns, in log order, the outputs of entries whose node id is in ids.
func (l *ResultLog) OutputsOf(ids []string) []any {
	members := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		members[id] = struct{}{}
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]any, 0, len(ids))
	for _, r := range l.entries {
		if _, ok := members[r.NodeID]; ok {
			out = append(out, r.Output)
		}
	}
	return out
}

// Len returns the number of entries.
func (l *ResultLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
