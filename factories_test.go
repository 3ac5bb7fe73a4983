package flux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJust_DeliversValue(t *testing.T) {
	v, ok, err := SyncWait(Just(42))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 42, v)
}

func TestJust_Reconnectable(t *testing.T) {
	s := Just("x")
	for i := 0; i < 3; i++ {
		v, ok, err := SyncWait(s)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "x", v)
	}
}

func TestJustErr_DeliversError(t *testing.T) {
	boom := errors.New("boom")
	_, ok, err := SyncWait(JustErr[int](boom))
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
}

func TestJustErr_PanicsOnNilError(t *testing.T) {
	assert.Panics(t, func() { JustErr[int](nil) })
}

func TestJustStopped_DeliversStopped(t *testing.T) {
	_, ok, err := SyncWait(JustStopped[int]())
	assert.False(t, ok)
	assert.NoError(t, err)
}

func TestJustFunc_DefersComputationToStart(t *testing.T) {
	calls := 0
	s := JustFunc(func() (int, error) {
		calls++
		return calls, nil
	})
	assert.Zero(t, calls, "connect must not run the function")

	v, ok, err := SyncWait(s)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestJustFunc_PanicBecomesError(t *testing.T) {
	s := JustFunc(func() (int, error) { panic("bang") })
	_, ok, err := SyncWait(s)
	assert.False(t, ok)
	require.Error(t, err)
	assert.True(t, IsPanicError(err))
}

func TestConnect_DoesNotStart(t *testing.T) {
	started := false
	s := JustFunc(func() (int, error) {
		started = true
		return 0, nil
	})
	r := newCaptureReceiver[int](nil)
	op := s.Connect(r)
	assert.False(t, started, "connect must not start the operation")

	op.Start()
	assert.True(t, started)
	assert.Equal(t, int32(1), r.completed.Load())
}

func TestCompletion_ExactlyOnce(t *testing.T) {
	r := newCaptureReceiver[int](nil)
	op := Just(7).Connect(r)
	op.Start()
	c := r.wait()
	assert.Equal(t, ChannelValue, c.Kind)
	assert.Equal(t, int32(1), r.completed.Load())
}

func TestSignatures_Factories(t *testing.T) {
	assert.Equal(t, Signatures{Value: true}, SignaturesOf(Just(1), EmptyEnv{}))
	assert.Equal(t, Signatures{Error: true}, SignaturesOf(JustErr[int](errors.New("x")), EmptyEnv{}))
	assert.Equal(t, Signatures{Stopped: true}, SignaturesOf(JustStopped[int](), EmptyEnv{}))

	// Unknown senders report the full set.
	assert.Equal(t, Signatures{Value: true, Error: true, Stopped: true}, SignaturesOf(struct{}{}, EmptyEnv{}))
}
