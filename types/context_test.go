package types

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestContextValues(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		with func(context.Context, string) context.Context
		get  func(context.Context) (string, bool)
	}{
		{"trace", WithTraceID, TraceID},
		{"owner", WithOwnerID, OwnerID},
		{"run", WithRunID, RunID},
		{"workflow", WithWorkflowID, WorkflowID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()

			_, ok := tt.get(ctx)
			assert.False(t, ok, "unset")

			got, ok := tt.get(tt.with(ctx, "alice_1_abc"))
			assert.True(t, ok)
			assert.Equal(t, "alice_1_abc", got)

			_, ok = tt.get(tt.with(ctx, ""))
			assert.False(t, ok, "empty counts as unset")
		})
	}
}

func TestContextValues_Independent(t *testing.T) {
	ctx := WithOwnerID(WithRunID(context.Background(), "run-1"), "alice")

	_, ok := WorkflowID(ctx)
	assert.False(t, ok)
	run, _ := RunID(ctx)
	owner, _ := OwnerID(ctx)
	assert.Equal(t, "run-1", run)
	assert.Equal(t, "alice", owner)
}
