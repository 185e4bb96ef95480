package workflow

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/agentweave/types"
)

func TestExecutionGuard_EnterExit(t *testing.T) {
	t.Parallel()

	g := NewExecutionGuard()
	require.NoError(t, g.Enter("wf-1"))
	assert.True(t, g.IsRunning("wf-1"))

	err := g.Enter("wf-1")
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrAlreadyRunning))

	require.NoError(t, g.Enter("wf-2"), "different ids never collide")
	assert.Equal(t, []string{"wf-1", "wf-2"}, g.InFlight())

	g.Exit("wf-1")
	assert.False(t, g.IsRunning("wf-1"))
	require.NoError(t, g.Enter("wf-1"))

	g.Exit("unknown")
	assert.Equal(t, 2, g.Len())
}

func TestExecutionGuard_ConcurrentEnterAdmitsOne(t *testing.T) {
	t.Parallel()

	g := NewExecutionGuard()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Enter("shared") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}

// The guard behaves like a set: Enter succeeds iff the id is absent.
func TestProperty_GuardMatchesSetModel(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		g := NewExecutionGuard()
		model := make(map[string]bool)
		ids := []string{"a", "b", "c"}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			id := rapid.SampledFrom(ids).Draw(rt, "id")
			if rapid.Bool().Draw(rt, "enter") {
				err := g.Enter(id)
				if model[id] {
					if !types.IsErrorCode(err, types.ErrAlreadyRunning) {
						rt.Fatalf("expected ALREADY_RUNNING for %s, got %v", id, err)
					}
				} else {
					if err != nil {
						rt.Fatalf("unexpected error entering %s: %v", id, err)
					}
					model[id] = true
				}
			} else {
				g.Exit(id)
				delete(model, id)
			}
			if g.Len() != len(model) {
				rt.Fatalf("guard holds %d ids, model %d", g.Len(), len(model))
			}
		}
	})
}
