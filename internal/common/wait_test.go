package common

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWaitForImmediateSuccess(t *testing.T) {
	calls := 0
	err := WaitFor(func() bool {
		calls++
		return true
	}, time.Millisecond, time.Second)

	require.NoError(t, err)
	assert.Equal(t, 1, calls, "predicate already true should not poll")
}

func TestWaitForEventualSuccess(t *testing.T) {
	var flips atomic.Int32
	go func() {
		time.Sleep(20 * time.Millisecond)
		flips.Store(1)
	}()

	err := WaitFor(func() bool {
		return flips.Load() == 1
	}, time.Millisecond, 2*time.Second)
	require.NoError(t, err)
}

func TestWaitForTimeout(t *testing.T) {
	start := time.Now()
	err := WaitFor(func() bool { return false }, time.Millisecond, 30*time.Millisecond)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWaitTimeout)
	assert.Less(t, time.Since(start), time.Second, "must fail promptly, not hang")
}

func TestWaitForCtxCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := WaitForCtx(ctx, func() bool { return false }, time.Millisecond)
	assert.ErrorIs(t, err, ErrWaitTimeout)
}
