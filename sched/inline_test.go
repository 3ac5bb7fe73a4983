package sched

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baxromumarov/flux"
)

func TestInline_CompletesSynchronouslyOnCaller(t *testing.T) {
	completed := false
	op := Inline{}.Schedule().Connect(flux.FuncReceiver[flux.Unit]{
		OnValue: func(flux.Unit) { completed = true },
	})
	require.False(t, completed, "connect must not start")
	op.Start()
	assert.True(t, completed, "inline completion is synchronous")
}

func TestInline_ProgramOrder(t *testing.T) {
	var order []int
	for i := 0; i < 5; i++ {
		i := i
		op := Inline{}.Schedule().Connect(flux.FuncReceiver[flux.Unit]{
			OnValue: func(flux.Unit) { order = append(order, i) },
		})
		op.Start()
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestInline_HandlesCompareEqual(t *testing.T) {
	assert.Equal(t, Inline{}, Inline{})
	assert.Equal(t, flux.ProgressWeaklyParallel, flux.GetForwardProgress(Inline{}))
}

func TestInline_PipelineRoundTrip(t *testing.T) {
	v, ok, err := flux.SyncWait(flux.Then(flux.Schedule(Inline{}), func(flux.Unit) (int, error) {
		return 17, nil
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 17, v)
}
