package biz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBackoff_Delay(t *testing.T) {
	b := backoff{base: 100 * time.Millisecond, max: time.Second}

	assert.Equal(t, time.Duration(0), b.delay(0))
	assert.Equal(t, 100*time.Millisecond, b.delay(1))
	assert.Equal(t, 200*time.Millisecond, b.delay(2))
	assert.Equal(t, 400*time.Millisecond, b.delay(3))
	assert.Equal(t, 800*time.Millisecond, b.delay(4))
	assert.Equal(t, time.Second, b.delay(5))
	assert.Equal(t, time.Second, b.delay(60))
}

func TestRetry(t *testing.T) {
	errTemp := errors.New("temporary")
	errFatal := errors.New("fatal")
	retryable := func(err error) bool { return errors.Is(err, errTemp) }

	t.Run("succeeds after transient failures", func(t *testing.T) {
		var (
			calls  int
			slept  []time.Duration
			sleeps = func(_ context.Context, d time.Duration) error { slept = append(slept, d); return nil }
		)
		err := retry(context.Background(), 3, backoff{base: time.Second, max: time.Minute}, sleeps, retryable, nil, func() error {
			calls++
			if calls < 3 {
				return errTemp
			}
			return nil
		})
		assert.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
	})

	t.Run("stops on non-retryable error", func(t *testing.T) {
		calls := 0
		err := retry(context.Background(), 5, backoff{}, noSleep, retryable, nil, func() error {
			calls++
			return errFatal
		})
		assert.ErrorIs(t, err, errFatal)
		assert.Equal(t, 1, calls)
	})

	t.Run("gives up after attempts", func(t *testing.T) {
		calls, retried := 0, 0
		err := retry(context.Background(), 4, backoff{}, noSleep, retryable, func(int, error) { retried++ }, func() error {
			calls++
			return errTemp
		})
		assert.ErrorIs(t, err, errTemp)
		assert.Equal(t, 4, calls)
		assert.Equal(t, 3, retried)
	})

	t.Run("cancelled context ends the wait", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		calls := 0
		err := retry(ctx, 5, backoff{base: time.Hour}, sleepContext, retryable, nil, func() error {
			calls++
			return errTemp
		})
		assert.ErrorIs(t, err, errTemp)
		assert.Equal(t, 1, calls)
	})
}

func TestChunk(t *testing.T) {
	assert.Equal(t, [][]int{{1, 2}, {3, 4}, {5}}, chunk([]int{1, 2, 3, 4, 5}, 2))
	assert.Equal(t, [][]int{{1, 2, 3}}, chunk([]int{1, 2, 3}, 0))
	assert.Nil(t, chunk([]int{}, 3))
}
