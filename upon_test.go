package flux

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUponError_ConvertsErrorToValue(t *testing.T) {
	v, ok, err := SyncWait(UponError(
		Then(Just(1), func(int) (int, error) { return 0, errors.New("x") }),
		func(error) (int, error) { return -1, nil },
	))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, -1, v)
}

func TestUponError_ReceivesTheError(t *testing.T) {
	boom := errors.New("boom")
	var seen error
	_, _, _ = SyncWait(UponError(JustErr[int](boom), func(err error) (int, error) {
		seen = err
		return 0, nil
	}))
	assert.ErrorIs(t, seen, boom)
}

func TestUponError_UnwrapRoundTrip(t *testing.T) {
	boom := errors.New("unwrapped")
	v, ok, err := SyncWait(UponError(JustErr[error](boom), func(e error) (error, error) {
		return e, nil
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, boom, v)
}

func TestUponError_ValuePassesThrough(t *testing.T) {
	called := false
	v, ok, err := SyncWait(UponError(Just(5), func(error) (int, error) {
		called = true
		return 0, nil
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 5, v)
	assert.False(t, called)
}

func TestUponError_HandlerFailureSurfaces(t *testing.T) {
	second := errors.New("second")
	_, ok, err := SyncWait(UponError(JustErr[int](errors.New("first")), func(error) (int, error) {
		return 0, second
	}))
	assert.False(t, ok)
	assert.ErrorIs(t, err, second)
}

func TestUponError_HandlerPanicSurfaces(t *testing.T) {
	_, _, err := SyncWait(UponError(JustErr[int](errors.New("first")), func(error) (int, error) {
		panic("handler bang")
	}))
	assert.True(t, IsPanicError(err))
}

func TestUponStopped_ConvertsStoppedToValue(t *testing.T) {
	v, ok, err := SyncWait(UponStopped(JustStopped[int](), func() (int, error) {
		return 7, nil
	}))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestUponStopped_OtherChannelsPassThrough(t *testing.T) {
	v, ok, err := SyncWait(UponStopped(Just(3), func() (int, error) { return 0, nil }))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 3, v)

	boom := errors.New("boom")
	_, _, err = SyncWait(UponStopped(JustErr[int](boom), func() (int, error) { return 0, nil }))
	assert.ErrorIs(t, err, boom)
}
