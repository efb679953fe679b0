package simnode

import (
	"errors"
	"sync"
	"testing"
	"time"

	"fleetsim/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestDriverStateMachine(t *testing.T) {
	driver := newHeartbeatDriver(time.Hour, func() error { return nil }, zap.NewNop())
	assert.Equal(t, StateIdle, driver.State())

	driver.setState(StateRegistering)
	assert.Equal(t, StateRegistering, driver.State())

	driver.start()
	assert.Equal(t, StateActive, driver.State())

	driver.stop()
	assert.Equal(t, StateStopped, driver.State())
}

func TestDriverForceEmitsExactlyOnce(t *testing.T) {
	var mu sync.Mutex
	emitted := 0

	driver := newHeartbeatDriver(time.Hour, func() error {
		mu.Lock()
		defer mu.Unlock()
		emitted++
		return nil
	}, zap.NewNop())
	driver.start()
	defer driver.stop()

	require.NoError(t, driver.force())
	require.NoError(t, driver.force())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, emitted)
}

func TestDriverForceAfterStop(t *testing.T) {
	driver := newHeartbeatDriver(time.Hour, func() error { return nil }, zap.NewNop())
	driver.start()
	driver.stop()

	err := driver.force()
	assert.True(t, errors.Is(err, common.ErrNodeStopped))
}

func TestDriverForcePropagatesEmitError(t *testing.T) {
	boom := errors.New("transport down")
	driver := newHeartbeatDriver(time.Hour, func() error { return boom }, zap.NewNop())
	driver.start()
	defer driver.stop()

	assert.ErrorIs(t, driver.force(), boom)
}

func TestDriverReportsAreSerialized(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0

	driver := newHeartbeatDriver(time.Millisecond, func() error {
		mu.Lock()
		inFlight++
		if inFlight != 1 {
			t.Error("concurrent report emission observed")
		}
		mu.Unlock()

		time.Sleep(200 * time.Microsecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return nil
	}, zap.NewNop())
	driver.start()
	defer driver.stop()

	// Hammer force requests while the short ticker runs.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				_ = driver.force()
			}
		}()
	}
	wg.Wait()
}

func TestDriverPeriodicTicks(t *testing.T) {
	var mu sync.Mutex
	emitted := 0

	driver := newHeartbeatDriver(5*time.Millisecond, func() error {
		mu.Lock()
		defer mu.Unlock()
		emitted++
		return nil
	}, zap.NewNop())
	driver.start()
	defer driver.stop()

	err := common.WaitFor(func() bool {
		mu.Lock()
		defer mu.Unlock()
		return emitted >= 3
	}, time.Millisecond, 2*time.Second)
	require.NoError(t, err, "periodic ticks never fired")
}

func TestDriverStopIsIdempotentAndHaltsTicks(t *testing.T) {
	var mu sync.Mutex
	emitted := 0

	driver := newHeartbeatDriver(time.Millisecond, func() error {
		mu.Lock()
		defer mu.Unlock()
		emitted++
		return nil
	}, zap.NewNop())
	driver.start()

	driver.stop()
	driver.stop()

	mu.Lock()
	after := emitted
	mu.Unlock()

	time.Sleep(20 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, after, emitted, "reports emitted after stop")
}
