package simnode

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"fleetsim/internal/common"

	"go.uber.org/zap"
)

// DriverState is the lifecycle state of a node's heartbeat driver.
type DriverState int32

const (
	StateIdle DriverState = iota
	StateRegistering
	StateActive
	StateStopped
)

func (s DriverState) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRegistering:
		return "REGISTERING"
	case StateActive:
		return "ACTIVE"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// heartbeatDriver emits node status reports on a fixed interval and on
// demand. A single goroutine owns emission: ticker fires and force requests
// are both handled in its select loop, so reports are serialized per node
// and a forced beat can never interleave with a scheduled one.
type heartbeatDriver struct {
	interval time.Duration
	emit     func() error

	state   atomic.Int32
	forceCh chan chan error
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	logger  *zap.Logger
}

func newHeartbeatDriver(interval time.Duration, emit func() error, logger *zap.Logger) *heartbeatDriver {
	ctx, cancel := context.WithCancel(context.Background())
	return &heartbeatDriver{
		interval: interval,
		emit:     emit,
		forceCh:  make(chan chan error),
		ctx:      ctx,
		cancel:   cancel,
		logger:   logger,
	}
}

// State returns the driver's current lifecycle state.
func (d *heartbeatDriver) State() DriverState {
	return DriverState(d.state.Load())
}

func (d *heartbeatDriver) setState(s DriverState) {
	d.state.Store(int32(s))
}

// start moves the driver to Active and begins the heartbeat loop.
func (d *heartbeatDriver) start() {
	d.setState(StateActive)
	d.wg.Add(1)
	go d.loop()
}

// stop moves the driver to Stopped and waits for the loop to drain.
// Idempotent.
func (d *heartbeatDriver) stop() {
	d.setState(StateStopped)
	d.cancel()
	d.wg.Wait()
}

// force requests exactly one immediate report and waits for its outcome.
// The scheduled cadence is not disturbed.
func (d *heartbeatDriver) force() error {
	if d.State() != StateActive {
		return common.ErrNodeStopped
	}

	reply := make(chan error, 1)
	select {
	case d.forceCh <- reply:
	case <-d.ctx.Done():
		return common.ErrNodeStopped
	}

	select {
	case err := <-reply:
		return err
	case <-d.ctx.Done():
		return common.ErrNodeStopped
	}
}

func (d *heartbeatDriver) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := d.emit(); err != nil {
				// Transient transport failure; the next tick retries.
				d.logger.Warn("heartbeat failed", zap.Error(err))
				common.GetMetrics().IncrHeartbeatsFailed()
			} else {
				common.GetMetrics().IncrHeartbeatsSent()
			}
		case reply := <-d.forceCh:
			err := d.emit()
			if err != nil {
				common.GetMetrics().IncrHeartbeatsFailed()
			} else {
				common.GetMetrics().IncrHeartbeatsSent()
			}
			reply <- err
		case <-d.ctx.Done():
			return
		}
	}
}
