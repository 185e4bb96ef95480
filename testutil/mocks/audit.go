package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentweave/workflow"
)

// AuditEvent 记录的审计事件
type AuditEvent struct {
	OwnerID  string
	Text     string
	Metadata map[string]any
}

// MockAuditSink 是 workflow.AuditSink 的模拟实现
type MockAuditSink struct {
	mu     sync.Mutex
	events []AuditEvent
	err    error
}

var _ workflow.AuditSink = (*MockAuditSink)(nil)

// NewMockAuditSink 创建新的 MockAuditSink
func NewMockAuditSink() *MockAuditSink {
	return &MockAuditSink{}
}

// WithError 设置 AppendEvent 的返回错误；事件仍会被记录
func (m *MockAuditSink) WithError(err error) *MockAuditSink {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// AppendEvent 记录事件
func (m *MockAuditSink) AppendEvent(_ context.Context, ownerID, text string, metadata map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, AuditEvent{OwnerID: ownerID, Text: text, Metadata: metadata})
	return m.err
}

// Events 返回已记录事件的副本
func (m *MockAuditSink) Events() []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]AuditEvent, len(m.events))
	copy(out, m.events)
	return out
}

// EventsFor 返回某个用户的事件
func (m *MockAuditSink) EventsFor(ownerID string) []AuditEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []AuditEvent
	for _, ev := range m.events {
		if ev.OwnerID == ownerID {
			out = append(out, ev)
		}
	}
	return out
}
