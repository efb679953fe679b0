package simnode

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fleetsim/internal/common"
	"fleetsim/internal/events"

	"go.uber.org/zap"
)

const (
	defaultRegistrationDeadline = 60 * time.Second
	registrationBackoffInitial  = 100 * time.Millisecond
	registrationBackoffMax      = 5 * time.Second
)

// SimulatedNode is one simulated fleet agent. It registers with the
// cluster resource manager in the background, heartbeats its ledger state
// on a timer, and tracks container and application lifecycles without
// running any real workload.
type SimulatedNode struct {
	id                common.NodeID
	totalCapacity     common.Resource
	rm                ResourceManager
	utilizationFactor float32

	ledger    *ContainerLedger
	driver    *heartbeatDriver
	publisher events.Publisher
	logger    *zap.Logger

	mu           sync.Mutex
	expiryTimers map[common.ContainerID]*time.Timer
	started      bool
	stopped      bool

	regDeadline time.Duration
	failures    chan error
	seq         atomic.Int64
	ctx         context.Context
	cancel      context.CancelFunc
	regWG       sync.WaitGroup
}

// Option configures a SimulatedNode before Init.
type Option func(*SimulatedNode)

// WithRegistrationDeadline bounds how long background registration keeps
// retrying before the node reports a fatal startup failure.
func WithRegistrationDeadline(deadline time.Duration) Option {
	return func(n *SimulatedNode) {
		n.regDeadline = deadline
	}
}

// WithPublisher routes the node's lifecycle events to a sink.
func WithPublisher(publisher events.Publisher) Option {
	return func(n *SimulatedNode) {
		n.publisher = publisher
	}
}

// New creates an uninitialized node. Call Init to bring it up.
func New(opts ...Option) *SimulatedNode {
	ctx, cancel := context.WithCancel(context.Background())
	n := &SimulatedNode{
		ledger:       NewContainerLedger(),
		publisher:    events.NopPublisher{},
		expiryTimers: make(map[common.ContainerID]*time.Timer),
		regDeadline:  defaultRegistrationDeadline,
		failures:     make(chan error, 1),
		ctx:          ctx,
		cancel:       cancel,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Init builds the node's identity from rackPath, records its declared
// capacity, issues a non-blocking registration to rm, and starts the
// heartbeat loop. It does not wait for registration to complete:
// completion is only observable through the manager's aggregate state.
// A utilizationFactor < 0 disables utilization perturbation in reports.
func (n *SimulatedNode) Init(rackPath string, capacity common.Resource,
	registrationDelay, heartbeatInterval time.Duration,
	rm ResourceManager, utilizationFactor float32) error {

	if err := common.ValidateResource(capacity); err != nil {
		return err
	}
	if heartbeatInterval <= 0 {
		return common.NewValidationError("heartbeat_interval", "must be greater than 0", heartbeatInterval)
	}

	n.mu.Lock()
	if n.started {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", common.ErrNodeAlreadyStarted, n.id)
	}
	n.started = true
	n.mu.Unlock()

	n.id = common.NewNodeID(rackPath)
	n.totalCapacity = capacity
	n.rm = rm
	n.utilizationFactor = utilizationFactor
	n.logger = common.ComponentLogger(fmt.Sprintf("simnode-%s", n.id.Host))

	n.driver = newHeartbeatDriver(heartbeatInterval, n.emitHeartbeat, n.logger)
	n.driver.setState(StateRegistering)

	n.regWG.Add(1)
	go n.register(registrationDelay)

	n.driver.start()

	n.logger.Info("simulated node initialized",
		zap.String("rack", n.id.Rack),
		zap.Int64("memory", capacity.Memory),
		zap.Int32("vcores", capacity.VCores),
		zap.Duration("heartbeat_interval", heartbeatInterval))
	return nil
}

// ID returns the node's identity.
func (n *SimulatedNode) ID() common.NodeID {
	return n.id
}

// TotalCapacity returns the node's declared capacity.
func (n *SimulatedNode) TotalCapacity() common.Resource {
	return n.totalCapacity
}

// State returns the heartbeat driver's lifecycle state.
func (n *SimulatedNode) State() DriverState {
	if n.driver == nil {
		return StateIdle
	}
	return n.driver.State()
}

// Failures delivers fatal startup conditions, currently only permanent
// registration failure. The harness must drain this channel; a node whose
// registration never succeeded must not pass for a registered one. The
// channel is closed on Shutdown.
func (n *SimulatedNode) Failures() <-chan error {
	return n.failures
}

// AddContainer admits a container onto the node. A negative lifetime marks
// an application-master container held until explicit cleanup; otherwise
// cleanup is scheduled automatically after the lifetime elapses. A nil
// appID skips application bookkeeping entirely: such a container never
// contributes to the running-applications set.
func (n *SimulatedNode) AddContainer(container *Container, lifetime time.Duration, appID *common.ApplicationID) error {
	container.Lifetime = lifetime
	container.AppID = appID
	container.StartTime = time.Now()

	if err := n.ledger.Add(container); err != nil {
		return err
	}
	common.GetMetrics().IncrContainersAdmitted()

	if lifetime >= 0 {
		n.scheduleExpiry(container.ID, lifetime)
	}

	n.publisher.Publish(events.Event{
		Type:   events.EventContainerAdmitted,
		NodeID: n.id,
		Detail: container.ID.String(),
	})
	n.logger.Debug("container admitted",
		zap.Stringer("container_id", container.ID),
		zap.Duration("lifetime", lifetime),
		zap.Bool("am", container.IsAM()))
	return nil
}

// CleanupContainer completes a running container, cancelling any pending
// auto-expiry and freeing its resources for the next heartbeat. Unknown or
// already-completed ids are a no-op, including under concurrent calls.
func (n *SimulatedNode) CleanupContainer(id common.ContainerID) {
	n.cancelExpiry(id)

	container, removed := n.ledger.Remove(id)
	if !removed {
		return
	}
	common.GetMetrics().IncrContainersCompleted()

	n.publisher.Publish(events.Event{
		Type:   events.EventContainerCompleted,
		NodeID: n.id,
		Detail: id.String(),
	})
	n.logger.Debug("container completed",
		zap.Stringer("container_id", id),
		zap.Bool("am", container.IsAM()))
}

// FinishApplication drops an application from the running set. Its
// containers keep running; the two lifecycles are independent. A nil or
// unknown appID is a no-op.
func (n *SimulatedNode) FinishApplication(appID *common.ApplicationID) {
	if appID == nil {
		return
	}
	if !n.ledger.FinishApplication(*appID) {
		return
	}
	common.GetMetrics().IncrApplicationsFinished()

	n.publisher.Publish(events.Event{
		Type:   events.EventApplicationFinished,
		NodeID: n.id,
		Detail: appID.String(),
	})
	n.logger.Debug("application finished", zap.Stringer("app_id", appID))
}

// ForceHeartbeat emits exactly one report immediately, serialized with the
// scheduled ticks.
func (n *SimulatedNode) ForceHeartbeat() error {
	if n.driver == nil {
		return common.ErrNodeStopped
	}
	return n.driver.force()
}

// RunningContainers returns a snapshot of the running container set.
func (n *SimulatedNode) RunningContainers() map[common.ContainerID]*Container {
	return n.ledger.RunningContainers()
}

// AMContainers returns a snapshot of the application-master container ids.
func (n *SimulatedNode) AMContainers() map[common.ContainerID]struct{} {
	return n.ledger.AMContainers()
}

// CompletedContainers returns a snapshot of the completed container ids.
func (n *SimulatedNode) CompletedContainers() map[common.ContainerID]struct{} {
	return n.ledger.CompletedContainers()
}

// RunningApplications returns a snapshot of the running application ids.
func (n *SimulatedNode) RunningApplications() map[common.ApplicationID]struct{} {
	return n.ledger.RunningApplications()
}

// Shutdown stops the heartbeat loop, the registration retrier, and every
// pending container expiry in one pass. Idempotent.
func (n *SimulatedNode) Shutdown() {
	n.mu.Lock()
	if n.stopped {
		n.mu.Unlock()
		return
	}
	n.stopped = true
	timers := n.expiryTimers
	n.expiryTimers = make(map[common.ContainerID]*time.Timer)
	n.mu.Unlock()

	n.cancel()
	for _, timer := range timers {
		timer.Stop()
	}
	if n.driver != nil {
		n.driver.stop()
	}
	n.regWG.Wait()
	close(n.failures)

	n.publisher.Publish(events.Event{
		Type:   events.EventNodeShutdown,
		NodeID: n.id,
	})
	if n.logger != nil {
		n.logger.Info("simulated node shut down")
	}
}

// register runs in the background: optional startup delay, then
// fire-and-forget registration with exponential backoff on transient
// failure. Exhausting the deadline is fatal for this node and is surfaced
// on the failures channel rather than swallowed.
func (n *SimulatedNode) register(delay time.Duration) {
	defer n.regWG.Done()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-n.ctx.Done():
			return
		}
	}

	deadline := time.Now().Add(n.regDeadline)
	backoff := registrationBackoffInitial

	for {
		err := n.rm.RegisterNode(n.id, n.totalCapacity)
		if err == nil {
			n.publisher.Publish(events.Event{
				Type:   events.EventNodeRegistered,
				NodeID: n.id,
			})
			n.logger.Info("registration issued", zap.Stringer("node_id", n.id))
			return
		}

		if time.Now().After(deadline) {
			fatal := fmt.Errorf("%w: node %s: %v", common.ErrRegistrationDeadline, n.id, err)
			common.GetMetrics().IncrFailedRegistrations()
			n.publisher.Publish(events.Event{
				Type:   events.EventRegistrationFailed,
				NodeID: n.id,
				Detail: err.Error(),
			})
			n.logger.Error("registration permanently failed", zap.Error(fatal))
			select {
			case n.failures <- fatal:
			default:
			}
			return
		}

		n.logger.Warn("registration attempt failed, retrying",
			zap.Duration("backoff", backoff),
			zap.Error(err))

		select {
		case <-time.After(backoff):
		case <-n.ctx.Done():
			return
		}
		backoff *= 2
		if backoff > registrationBackoffMax {
			backoff = registrationBackoffMax
		}
	}
}

func (n *SimulatedNode) scheduleExpiry(id common.ContainerID, lifetime time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stopped {
		return
	}
	n.expiryTimers[id] = time.AfterFunc(lifetime, func() {
		n.CleanupContainer(id)
	})
}

func (n *SimulatedNode) cancelExpiry(id common.ContainerID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if timer, exists := n.expiryTimers[id]; exists {
		timer.Stop()
		delete(n.expiryTimers, id)
	}
}

// emitHeartbeat takes one atomic ledger snapshot and reports it. Runs only
// on the heartbeat driver's goroutine.
func (n *SimulatedNode) emitHeartbeat() error {
	snapshot := n.ledger.Snapshot()

	report := common.HeartbeatReport{
		NodeID:            n.id,
		Sequence:          n.seq.Add(1),
		UsedResource:      snapshot.UsedResource,
		AvailableResource: n.totalCapacity.Subtract(snapshot.UsedResource),
		Utilization:       n.utilization(snapshot.UsedResource),
		Containers:        snapshot.Containers,
	}
	return n.rm.NodeHeartbeat(report)
}

// utilization derives the reported node utilization from memory usage,
// scaled by the perturbation factor when one is configured.
func (n *SimulatedNode) utilization(used common.Resource) float32 {
	if n.totalCapacity.Memory == 0 {
		return 0
	}
	util := float32(used.Memory) / float32(n.totalCapacity.Memory)
	if n.utilizationFactor >= 0 {
		util *= n.utilizationFactor
	}
	if util < 0 {
		util = 0
	}
	if util > 1 {
		util = 1
	}
	return util
}
