package simnode

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fleetsim/internal/cluster"
	"fleetsim/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testGB = 1024

func newTestManager(t *testing.T, strategyName string) *cluster.Manager {
	t.Helper()

	strategy, err := cluster.NewStrategy(strategyName)
	require.NoError(t, err)

	manager := cluster.NewManager(strategy, common.ClusterConfig{
		HeartbeatTimeout: common.Duration(time.Minute),
		MonitorInterval:  common.Duration(time.Minute),
	})
	t.Cleanup(manager.Stop)
	return manager
}

func newTestNode(t *testing.T, manager *cluster.Manager) *SimulatedNode {
	t.Helper()

	node := New()
	err := node.Init("/rack1/node1", common.NewResource(testGB*10, 10),
		0, 10*time.Millisecond, manager, -1)
	require.NoError(t, err)
	t.Cleanup(node.Shutdown)

	waitForRegistration(t, manager)
	return node
}

func waitForRegistration(t *testing.T, manager *cluster.Manager) {
	t.Helper()
	err := common.WaitFor(func() bool {
		return manager.NumClusterNodes() == 1 && manager.AvailableMemoryMB() > 0
	}, 10*time.Millisecond, 5*time.Second)
	require.NoError(t, err, "node registration never converged")
}

// The same lifecycle scenario must hold regardless of which scheduler
// strategy the cluster manager runs.
func forEachStrategy(t *testing.T, test func(t *testing.T, manager *cluster.Manager)) {
	for _, strategyName := range []string{"fair", "capacity"} {
		t.Run(strategyName, func(t *testing.T) {
			test(t, newTestManager(t, strategyName))
		})
	}
}

func TestNodeRegistrationConvergence(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, manager *cluster.Manager) {
		node := New()
		err := node.Init("/rack1/node1", common.NewResource(testGB*10, 10),
			0, 10*time.Millisecond, manager, -1)
		require.NoError(t, err)
		t.Cleanup(node.Shutdown)

		waitForRegistration(t, manager)

		assert.Equal(t, 1, manager.NumClusterNodes())
		assert.Equal(t, int64(testGB*10), manager.AvailableMemoryMB())
		assert.Equal(t, int32(10), manager.AvailableVirtualCores())
		assert.Equal(t, StateActive, node.State())
	})
}

func TestNodeContainerLifecycle(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, manager *cluster.Manager) {
		node := newTestNode(t, manager)

		// One ordinary container.
		cID1 := testContainerID(1, 1)
		err := node.AddContainer(NewContainer(cID1, common.NewResource(testGB, 1)),
			100000*time.Millisecond, nil)
		require.NoError(t, err)
		assert.Contains(t, node.RunningContainers(), cID1)

		// One AM container.
		cID2 := testContainerID(2, 1)
		err = node.AddContainer(NewContainer(cID2, common.NewResource(testGB, 1)),
			-1, nil)
		require.NoError(t, err)
		assert.Contains(t, node.AMContainers(), cID2)

		// Remove both.
		node.CleanupContainer(cID1)
		assert.Contains(t, node.CompletedContainers(), cID1)
		assert.NotContains(t, node.RunningContainers(), cID1)

		node.CleanupContainer(cID2)
		assert.NotContains(t, node.AMContainers(), cID2)
		assert.Contains(t, node.CompletedContainers(), cID2)
	})
}

func TestNodeAppAddedAndRemoved(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, manager *cluster.Manager) {
		node := newTestNode(t, manager)
		assert.Empty(t, node.RunningApplications())

		appID := common.NewApplicationID(1, 1)
		cID := common.NewContainerID(appID, 1, 1)
		err := node.AddContainer(NewContainer(cID, common.NewResource(testGB, 1)),
			100000*time.Millisecond, &appID)
		require.NoError(t, err)
		assert.Contains(t, node.RunningApplications(), appID)

		node.FinishApplication(&appID)
		assert.NotContains(t, node.RunningApplications(), appID)
		assert.Empty(t, node.RunningApplications())

		// The app's container keeps running.
		assert.Contains(t, node.RunningContainers(), cID)
	})
}

func TestNodeNullAppAddedAndRemoved(t *testing.T) {
	forEachStrategy(t, func(t *testing.T, manager *cluster.Manager) {
		node := newTestNode(t, manager)
		assert.Empty(t, node.RunningApplications())

		cID := testContainerID(1, 1)
		err := node.AddContainer(NewContainer(cID, common.NewResource(testGB, 1)),
			100000*time.Millisecond, nil)
		require.NoError(t, err)
		assert.Empty(t, node.RunningApplications(),
			"container without app association must not appear in running apps")

		// Finishing an app that was never tracked, or nil, is a no-op.
		appID := common.NewApplicationID(1, 1)
		node.FinishApplication(&appID)
		node.FinishApplication(nil)
		assert.Empty(t, node.RunningApplications())
	})
}

func TestNodeDuplicateAdmissionRejected(t *testing.T) {
	manager := newTestManager(t, "fair")
	node := newTestNode(t, manager)

	cID := testContainerID(1, 1)
	require.NoError(t, node.AddContainer(
		NewContainer(cID, common.NewResource(testGB, 1)), 100000*time.Millisecond, nil))

	err := node.AddContainer(NewContainer(cID, common.NewResource(testGB, 1)),
		100000*time.Millisecond, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, common.ErrDuplicateContainer))

	// The failed admission must not have mutated the ledger.
	assert.Len(t, node.RunningContainers(), 1)
}

func TestNodeContainerAutoExpiry(t *testing.T) {
	manager := newTestManager(t, "fair")
	node := newTestNode(t, manager)

	cID := testContainerID(1, 1)
	require.NoError(t, node.AddContainer(
		NewContainer(cID, common.NewResource(testGB, 1)), 20*time.Millisecond, nil))

	err := common.WaitFor(func() bool {
		_, completed := node.CompletedContainers()[cID]
		return completed
	}, 5*time.Millisecond, 2*time.Second)
	require.NoError(t, err, "container never auto-expired")
	assert.NotContains(t, node.RunningContainers(), cID)
}

func TestNodeManualCleanupCancelsExpiry(t *testing.T) {
	manager := newTestManager(t, "fair")
	node := newTestNode(t, manager)

	cID := testContainerID(1, 1)
	require.NoError(t, node.AddContainer(
		NewContainer(cID, common.NewResource(testGB, 1)), 30*time.Millisecond, nil))

	node.CleanupContainer(cID)
	assert.Contains(t, node.CompletedContainers(), cID)

	// Let the cancelled timer's deadline pass; nothing further may happen.
	time.Sleep(60 * time.Millisecond)
	assert.Len(t, node.CompletedContainers(), 1)
	assert.Empty(t, node.RunningContainers())
}

func TestNodeConcurrentCleanup(t *testing.T) {
	manager := newTestManager(t, "fair")
	node := newTestNode(t, manager)

	cID := testContainerID(1, 1)
	require.NoError(t, node.AddContainer(
		NewContainer(cID, common.NewResource(testGB, 1)), 100000*time.Millisecond, nil))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			node.CleanupContainer(cID)
		}()
	}
	wg.Wait()

	assert.Len(t, node.CompletedContainers(), 1)
	assert.Empty(t, node.RunningContainers())
}

func TestNodeHeartbeatReportsUsage(t *testing.T) {
	manager := newTestManager(t, "fair")
	node := newTestNode(t, manager)

	cID := testContainerID(1, 1)
	require.NoError(t, node.AddContainer(
		NewContainer(cID, common.NewResource(testGB, 1)), 100000*time.Millisecond, nil))

	require.NoError(t, node.ForceHeartbeat())
	assert.Equal(t, int64(testGB*9), manager.AvailableMemoryMB())
	assert.Equal(t, int32(9), manager.AvailableVirtualCores())

	node.CleanupContainer(cID)
	require.NoError(t, node.ForceHeartbeat())
	assert.Equal(t, int64(testGB*10), manager.AvailableMemoryMB())
	assert.Equal(t, int32(10), manager.AvailableVirtualCores())
}

func TestNodeShutdownIdempotent(t *testing.T) {
	manager := newTestManager(t, "fair")
	node := newTestNode(t, manager)

	cID := testContainerID(1, 1)
	require.NoError(t, node.AddContainer(
		NewContainer(cID, common.NewResource(testGB, 1)), 50*time.Millisecond, nil))

	node.Shutdown()
	node.Shutdown()

	assert.Equal(t, StateStopped, node.State())
	err := node.ForceHeartbeat()
	assert.True(t, errors.Is(err, common.ErrNodeStopped))

	// Pending expiry timers were cancelled with the node.
	time.Sleep(100 * time.Millisecond)
	assert.Contains(t, node.RunningContainers(), cID)
	assert.Empty(t, node.CompletedContainers())
}

func TestNodeInitTwiceRejected(t *testing.T) {
	manager := newTestManager(t, "fair")
	node := newTestNode(t, manager)

	err := node.Init("/rack1/node1", common.NewResource(testGB, 1),
		0, 10*time.Millisecond, manager, -1)
	assert.True(t, errors.Is(err, common.ErrNodeAlreadyStarted))
}

// flakyManager fails a fixed number of registration attempts before
// delegating to the real manager.
type flakyManager struct {
	*cluster.Manager
	mu        sync.Mutex
	remaining int
}

func (f *flakyManager) RegisterNode(nodeID common.NodeID, capability common.Resource) error {
	f.mu.Lock()
	if f.remaining > 0 {
		f.remaining--
		f.mu.Unlock()
		return fmt.Errorf("transient registration failure")
	}
	f.mu.Unlock()
	return f.Manager.RegisterNode(nodeID, capability)
}

func TestNodeRegistrationRetriesTransientFailures(t *testing.T) {
	manager := newTestManager(t, "fair")
	flaky := &flakyManager{Manager: manager, remaining: 2}

	node := New()
	err := node.Init("/rack1/node1", common.NewResource(testGB*10, 10),
		0, 10*time.Millisecond, flaky, -1)
	require.NoError(t, err)
	t.Cleanup(node.Shutdown)

	waitForRegistration(t, manager)
	assert.Equal(t, 1, manager.NumClusterNodes())
}

// deadManager refuses every registration.
type deadManager struct{}

func (deadManager) RegisterNode(common.NodeID, common.Resource) error {
	return fmt.Errorf("connection refused")
}
func (deadManager) NodeHeartbeat(common.HeartbeatReport) error {
	return fmt.Errorf("connection refused")
}
func (deadManager) NumClusterNodes() int         { return 0 }
func (deadManager) AvailableMemoryMB() int64     { return 0 }
func (deadManager) AvailableVirtualCores() int32 { return 0 }

func TestNodeRegistrationDeadlineFatal(t *testing.T) {
	node := New(WithRegistrationDeadline(50 * time.Millisecond))
	err := node.Init("/rack1/node1", common.NewResource(testGB*10, 10),
		0, 10*time.Millisecond, deadManager{}, -1)
	require.NoError(t, err, "init must not block on registration outcome")
	t.Cleanup(node.Shutdown)

	select {
	case fatal := <-node.Failures():
		assert.True(t, errors.Is(fatal, common.ErrRegistrationDeadline))
	case <-time.After(5 * time.Second):
		t.Fatal("permanent registration failure was never surfaced")
	}
}

func TestNodeIdentityFromRackPath(t *testing.T) {
	node := New()
	err := node.Init("/rack3/node42", common.NewResource(testGB, 1),
		0, time.Second, deadManager{}, -1)
	require.NoError(t, err)
	t.Cleanup(node.Shutdown)

	assert.Equal(t, "node42", node.ID().Host)
	assert.Equal(t, "/rack3", node.ID().Rack)
	assert.Equal(t, common.NewResource(testGB, 1), node.TotalCapacity())
}
