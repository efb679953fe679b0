package fleet

import (
	"fmt"
	"sync"

	"fleetsim/internal/common"
	"fleetsim/internal/events"
	"fleetsim/internal/simnode"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Fleet instantiates one simulated node per topology slot against a shared
// cluster resource manager and owns their collective teardown.
type Fleet struct {
	runID     string
	config    *common.Config
	rm        simnode.ResourceManager
	publisher events.Publisher
	logger    *zap.Logger

	mu      sync.Mutex
	nodes   []*simnode.SimulatedNode
	started bool
}

// New creates a fleet for the given configuration. An empty runID gets a
// generated one.
func New(config *common.Config, rm simnode.ResourceManager, publisher events.Publisher, runID string) *Fleet {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if runID == "" {
		runID = uuid.NewString()
	}
	return &Fleet{
		runID:     runID,
		config:    config,
		rm:        rm,
		publisher: publisher,
		logger:    common.ComponentLogger("fleet"),
	}
}

// RunID returns the unique id tagged onto this simulation run.
func (f *Fleet) RunID() string {
	return f.runID
}

// Start brings up every node in the topology. Registration is
// asynchronous; use the cluster manager's aggregate state (or WaitFor) to
// observe convergence.
func (f *Fleet) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.started {
		return fmt.Errorf("fleet already started")
	}
	f.started = true

	topology := f.config.Topology
	nodeCfg := f.config.Node

	for rack := 0; rack < topology.Racks; rack++ {
		for i := 0; i < topology.NodesPerRack; i++ {
			rackPath := fmt.Sprintf("/rack%d/node%d", rack, rack*topology.NodesPerRack+i)

			node := simnode.New(
				simnode.WithPublisher(f.publisher),
				simnode.WithRegistrationDeadline(nodeCfg.RegistrationDeadline.Std()),
			)
			if err := node.Init(rackPath, nodeCfg.Capacity,
				nodeCfg.RegistrationDelay.Std(), nodeCfg.HeartbeatInterval.Std(),
				f.rm, nodeCfg.UtilizationFactor); err != nil {
				f.stopLocked()
				return fmt.Errorf("init node %s: %w", rackPath, err)
			}
			f.nodes = append(f.nodes, node)
		}
	}

	f.logger.Info("fleet started",
		zap.String("run_id", f.runID),
		zap.Int("nodes", len(f.nodes)))
	return nil
}

// Nodes returns the fleet's nodes.
func (f *Fleet) Nodes() []*simnode.SimulatedNode {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*simnode.SimulatedNode, len(f.nodes))
	copy(out, f.nodes)
	return out
}

// Size returns the number of nodes in the fleet.
func (f *Fleet) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.nodes)
}

// Failures fans in fatal node startup failures into one channel, closed
// once every node's failure stream has drained.
func (f *Fleet) Failures() <-chan error {
	out := make(chan error)
	var wg sync.WaitGroup

	for _, node := range f.Nodes() {
		wg.Add(1)
		go func(n *simnode.SimulatedNode) {
			defer wg.Done()
			for err := range n.Failures() {
				out <- err
			}
		}(node)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

// Stop tears down every node. Idempotent.
func (f *Fleet) Stop() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopLocked()
}

func (f *Fleet) stopLocked() {
	for _, node := range f.nodes {
		node.Shutdown()
	}
	if len(f.nodes) > 0 {
		f.logger.Info("fleet stopped",
			zap.String("run_id", f.runID),
			zap.Int("nodes", len(f.nodes)))
	}
	f.nodes = nil
}
