package cluster

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"fleetsim/internal/common"

	"go.uber.org/zap"
)

const registrationQueueSize = 1024

type registration struct {
	nodeID     common.NodeID
	capability common.Resource
}

// Manager is the in-memory cluster resource manager the simulation runs
// against. Registrations are applied by a background goroutine, so a node
// becomes visible in the aggregate state some time after RegisterNode
// returns; heartbeats are applied synchronously under the lock.
type Manager struct {
	mu       sync.RWMutex
	nodes    map[string]*NodeInfo
	lastSeen map[string]time.Time
	strategy Strategy

	heartbeatTimeout time.Duration
	monitorInterval  time.Duration

	registrations chan registration
	logger        *zap.Logger
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// NewManager creates and starts a cluster manager using the given strategy.
func NewManager(strategy Strategy, config common.ClusterConfig) *Manager {
	ctx, cancel := context.WithCancel(context.Background())

	heartbeatTimeout := config.HeartbeatTimeout.Std()
	if heartbeatTimeout <= 0 {
		heartbeatTimeout = 30 * time.Second
	}
	monitorInterval := config.MonitorInterval.Std()
	if monitorInterval <= 0 {
		monitorInterval = 5 * time.Second
	}

	m := &Manager{
		nodes:            make(map[string]*NodeInfo),
		lastSeen:         make(map[string]time.Time),
		strategy:         strategy,
		heartbeatTimeout: heartbeatTimeout,
		monitorInterval:  monitorInterval,
		registrations:    make(chan registration, registrationQueueSize),
		logger:           common.ComponentLogger("cluster-manager"),
		ctx:              ctx,
		cancel:           cancel,
	}

	m.wg.Add(2)
	go m.registrationLoop()
	go m.livenessLoop()

	return m
}

// RegisterNode queues a node registration. It returns an error only when
// the request cannot be accepted for delivery; admission itself is
// observable solely through the aggregate query surface.
func (m *Manager) RegisterNode(nodeID common.NodeID, capability common.Resource) error {
	if err := common.ValidateResource(capability); err != nil {
		return err
	}

	select {
	case m.registrations <- registration{nodeID: nodeID, capability: capability}:
		return nil
	case <-m.ctx.Done():
		return fmt.Errorf("cluster manager stopped: %w", m.ctx.Err())
	default:
		return fmt.Errorf("registration queue full for node %s", nodeID)
	}
}

// NodeHeartbeat applies a node status report.
func (m *Manager) NodeHeartbeat(report common.HeartbeatReport) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := report.NodeID.String()
	node, exists := m.nodes[key]
	if !exists {
		// Heartbeat raced ahead of the registration applier. The node
		// retries on its next tick.
		return fmt.Errorf("node %s not registered", key)
	}

	node.UsedResource = report.UsedResource
	node.AvailableResource = node.TotalResource.Subtract(report.UsedResource)
	node.State = common.NodeStateRunning
	m.lastSeen[key] = time.Now()
	return nil
}

// NumClusterNodes returns the number of admitted, non-lost nodes.
func (m *Manager) NumClusterNodes() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, node := range m.nodes {
		if node.State == common.NodeStateRunning {
			count++
		}
	}
	return count
}

// AvailableMemoryMB returns the aggregate unallocated memory.
func (m *Manager) AvailableMemoryMB() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int64
	for _, node := range m.nodes {
		if node.State == common.NodeStateRunning {
			total += node.AvailableResource.Memory
		}
	}
	return total
}

// AvailableVirtualCores returns the aggregate unallocated vcores.
func (m *Manager) AvailableVirtualCores() int32 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var total int32
	for _, node := range m.nodes {
		if node.State == common.NodeStateRunning {
			total += node.AvailableResource.VCores
		}
	}
	return total
}

// SelectNode asks the configured strategy to place a container ask across
// the current fleet.
func (m *Manager) SelectNode(ask common.Resource) (common.NodeID, bool) {
	nodes := m.Nodes()
	node, ok := m.strategy.SelectNode(nodes, ask)
	if !ok {
		return common.NodeID{}, false
	}
	return node.ID, true
}

// Nodes returns a stable-ordered snapshot of the fleet.
func (m *Manager) Nodes() []*NodeInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()

	nodes := make([]*NodeInfo, 0, len(m.nodes))
	for _, node := range m.nodes {
		copied := *node
		nodes = append(nodes, &copied)
	}
	sort.Slice(nodes, func(i, j int) bool {
		return nodes[i].ID.String() < nodes[j].ID.String()
	})
	return nodes
}

// Node returns a copy of one node's info.
func (m *Manager) Node(nodeID common.NodeID) (*NodeInfo, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	node, exists := m.nodes[nodeID.String()]
	if !exists {
		return nil, false
	}
	copied := *node
	return &copied, true
}

// StrategyName returns the name of the placement strategy in use.
func (m *Manager) StrategyName() string {
	return m.strategy.Name()
}

// Stop shuts down the background loops. Idempotent.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) registrationLoop() {
	defer m.wg.Done()

	for {
		select {
		case reg := <-m.registrations:
			m.admitNode(reg)
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) admitNode(reg registration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := reg.nodeID.String()
	if existing, exists := m.nodes[key]; exists {
		// Re-registration resets capability but keeps the node admitted.
		existing.TotalResource = reg.capability
		existing.AvailableResource = reg.capability.Subtract(existing.UsedResource)
		existing.State = common.NodeStateRunning
		m.lastSeen[key] = time.Now()
		m.logger.Warn("node re-registered", zap.String("node_id", key))
		return
	}

	m.nodes[key] = &NodeInfo{
		ID:                reg.nodeID,
		State:             common.NodeStateRunning,
		TotalResource:     reg.capability,
		UsedResource:      common.Resource{},
		AvailableResource: reg.capability,
	}
	m.lastSeen[key] = time.Now()
	common.GetMetrics().IncrRegistrations()

	m.logger.Info("node registered",
		zap.String("node_id", key),
		zap.Int64("memory", reg.capability.Memory),
		zap.Int32("vcores", reg.capability.VCores))
}

func (m *Manager) livenessLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.monitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepLostNodes()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) sweepLostNodes() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for key, node := range m.nodes {
		if node.State != common.NodeStateRunning {
			continue
		}
		if now.Sub(m.lastSeen[key]) > m.heartbeatTimeout {
			node.State = common.NodeStateLost
			m.logger.Warn("node lost, heartbeat timeout",
				zap.String("node_id", key),
				zap.Duration("timeout", m.heartbeatTimeout))
		}
	}
}
