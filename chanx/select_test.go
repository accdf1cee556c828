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

func TestSelectAnyReturnsReadyValue(t *testing.T) {
	a := chanx.NewChannel[int](1)
	b := chanx.NewChannel[int](1)
	require.NoError(t, b.Send(context.Background(), 7))

	res, err := chanx.SelectAny(context.Background(), []*chanx.Channel[int]{a, b})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, 7, res.Value)
	assert.True(t, res.Ok)
}

func TestSelectAnyReportsErroredChannel(t *testing.T) {
	a := chanx.NewChannel[int](1)
	boom := errors.New("boom")
	a.Fail(boom)

	res, err := chanx.SelectAny(context.Background(), []*chanx.Channel[int]{a})
	require.NoError(t, err)
	assert.False(t, res.Ok)
	assert.ErrorIs(t, res.Err, boom)
}

func TestSelectAnyReportsDoneChannel(t *testing.T) {
	a := chanx.NewChannel[int](1)
	a.Close()

	res, err := chanx.SelectAny(context.Background(), []*chanx.Channel[int]{a})
	require.NoError(t, err)
	assert.False(t, res.Ok)
	assert.NoError(t, res.Err)
}

func TestSelectAnyRespectsContextCancellation(t *testing.T) {
	a := chanx.NewChannel[int](0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	_, err := chanx.SelectAny(ctx, []*chanx.Channel[int]{a})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
