package chanx_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlib/flow/chanx"
)

func TestChannelSendReceiveInOrder(t *testing.T) {
	ch := chanx.NewChannel[int](4)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		require.NoError(t, ch.Send(ctx, i))
	}
	ch.Close()

	for i := 0; i < 4; i++ {
		v, ok, err := ch.Receive(ctx)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, i, v)
	}

	_, ok, err := ch.Receive(ctx)
	assert.False(t, ok)
	assert.NoError(t, err)
	assert.Equal(t, chanx.Done, ch.State())
}

func TestChannelFailSupersedesBufferedValues(t *testing.T) {
	ch := chanx.NewChannel[int](4)
	ctx := context.Background()
	boom := errors.New("boom")

	require.NoError(t, ch.Send(ctx, 1))
	require.NoError(t, ch.Send(ctx, 2))
	ch.Fail(boom)

	_, ok, err := ch.Receive(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, chanx.Errored, ch.State())
	assert.ErrorIs(t, ch.Err(), boom)
}

func TestChannelReceiveRespectsContext(t *testing.T) {
	ch := chanx.NewChannel[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, ok, err := ch.Receive(ctx)
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelCloseTwicePanics(t *testing.T) {
	ch := chanx.NewChannel[int](1)
	ch.Close()
	assert.Panics(t, func() { ch.Close() })
}

func TestChannelFailAfterClosePanics(t *testing.T) {
	ch := chanx.NewChannel[int](1)
	ch.Close()
	assert.Panics(t, func() { ch.Fail(errors.New("too late")) })
}

func TestChannelFailNilPanics(t *testing.T) {
	ch := chanx.NewChannel[int](1)
	assert.Panics(t, func() { ch.Fail(nil) })
}

func TestChannelTrySend(t *testing.T) {
	ch := chanx.NewChannel[int](1)
	assert.True(t, ch.TrySend(1))
	assert.False(t, ch.TrySend(2))
}
