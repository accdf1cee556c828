package scope_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowlib/flow/scope"
)

func TestRaceReturnsFirstSuccess(t *testing.T) {
	v, err := scope.Race(context.Background(),
		func(ctx context.Context) (int, error) {
			time.Sleep(30 * time.Millisecond)
			return 1, nil
		},
		func(ctx context.Context) (int, error) {
			time.Sleep(5 * time.Millisecond)
			return 2, nil
		},
	)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestRaceCancelsLosers(t *testing.T) {
	var loserCancelled bool
	_, err := scope.Race(context.Background(),
		func(ctx context.Context) (int, error) {
			return 1, nil
		},
		func(ctx context.Context) (int, error) {
			<-ctx.Done()
			loserCancelled = true
			return 0, ctx.Err()
		},
	)
	require.NoError(t, err)
	assert.Eventually(t, func() bool { return loserCancelled }, time.Second, time.Millisecond)
}

func TestRaceAllFailReturnsLastError(t *testing.T) {
	errA := errors.New("a")
	errB := errors.New("b")
	_, err := scope.Race(context.Background(),
		func(ctx context.Context) (int, error) { return 0, errA },
		func(ctx context.Context) (int, error) { return 0, errB },
	)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errA) || errors.Is(err, errB))
}

func TestRaceEmptyReturnsZero(t *testing.T) {
	v, err := scope.Race[int](context.Background())
	assert.NoError(t, err)
	assert.Zero(t, v)
}

func TestRaceNilTaskPanics(t *testing.T) {
	assert.Panics(t, func() {
		_, _ = scope.Race[int](context.Background(), nil)
	})
}
