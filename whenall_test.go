package flux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhenAll_AggregatesInDeclarationOrder(t *testing.T) {
	v, ok, err := SyncWait(WhenAll(Just(1), Just(2), Just(3)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2, 3}, v)
}

func TestWhenAll_OrderIndependentOfCompletionOrder(t *testing.T) {
	// Children run on separate goroutines; declaration order still
	// governs the aggregate.
	child := func(n int) Sender[int] {
		return Then(Schedule(goScheduler{}), func(Unit) (int, error) {
			return n, nil
		})
	}
	for i := 0; i < 20; i++ {
		v, ok, err := SyncWait(WhenAll(child(1), child(2), child(3), child(4)))
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, []int{1, 2, 3, 4}, v)
	}
}

func TestWhenAll_ZeroChildrenCompletesImmediately(t *testing.T) {
	v, ok, err := SyncWait(WhenAll[int]())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Empty(t, v)
}

func TestWhenAll_FirstErrorWins(t *testing.T) {
	boom := errors.New("child failed")
	_, ok, err := SyncWait(WhenAll(Just(1), JustErr[int](boom), Just(3)))
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestWhenAll_StoppedChildStopsAggregate(t *testing.T) {
	_, ok, err := SyncWait(WhenAll(Just(1), JustStopped[int]()))
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestWhenAll_RemainingChildrenStillComplete(t *testing.T) {
	boom := errors.New("early")
	completed := make(chan struct{}, 1)
	slow := Then(Schedule(goScheduler{}), func(Unit) (int, error) {
		completed <- struct{}{}
		return 2, nil
	})
	_, _, err := SyncWait(WhenAll(JustErr[int](boom), slow))
	assert.ErrorIs(t, err, boom)
	<-completed // the losing child ran to completion
}

func TestWhenAll2_HeterogeneousPair(t *testing.T) {
	v, ok, err := SyncWait(WhenAll2(Just(1), Just("two")))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Pair[int, string]{First: 1, Second: "two"}, v)
}

func TestWhenAll3_HeterogeneousTriple(t *testing.T) {
	v, ok, err := SyncWait(WhenAll3(Just(1), Just("two"), Just(3.0)))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Triple[int, string, float64]{First: 1, Second: "two", Third: 3.0}, v)
}
