package fleet

import (
	"testing"
	"time"

	"fleetsim/internal/cluster"
	"fleetsim/internal/common"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConfig(racks, nodesPerRack int) *common.Config {
	config := common.GetDefaultConfig()
	config.Topology.Racks = racks
	config.Topology.NodesPerRack = nodesPerRack
	config.Node.HeartbeatInterval = common.Duration(10 * time.Millisecond)
	config.Node.RegistrationDelay = 0
	return config
}

func newTestManager(t *testing.T) *cluster.Manager {
	t.Helper()
	strategy, err := cluster.NewStrategy("fair")
	require.NoError(t, err)
	m := cluster.NewManager(strategy, common.ClusterConfig{
		HeartbeatTimeout: common.Duration(time.Minute),
		MonitorInterval:  common.Duration(time.Minute),
	})
	t.Cleanup(m.Stop)
	return m
}

func TestFleetStartConvergence(t *testing.T) {
	manager := newTestManager(t)
	config := newTestConfig(2, 3)

	f := New(config, manager, nil, "")
	require.NoError(t, f.Start())
	defer f.Stop()

	assert.Equal(t, 6, f.Size())
	require.NoError(t, common.WaitFor(func() bool {
		return manager.NumClusterNodes() == 6
	}, 5*time.Millisecond, 2*time.Second))

	assert.Equal(t, int64(6*10240), manager.AvailableMemoryMB())
	assert.Equal(t, int32(6*10), manager.AvailableVirtualCores())
}

func TestFleetNodeIdentities(t *testing.T) {
	manager := newTestManager(t)
	f := New(newTestConfig(2, 2), manager, nil, "")
	require.NoError(t, f.Start())
	defer f.Stop()

	seen := make(map[string]bool)
	for _, node := range f.Nodes() {
		id := node.ID()
		assert.False(t, seen[id.String()], "duplicate node identity %s", id)
		seen[id.String()] = true
	}
	assert.Len(t, seen, 4)
}

func TestFleetDoubleStart(t *testing.T) {
	manager := newTestManager(t)
	f := New(newTestConfig(1, 1), manager, nil, "")
	require.NoError(t, f.Start())
	defer f.Stop()

	assert.Error(t, f.Start())
}

func TestFleetRunID(t *testing.T) {
	manager := newTestManager(t)

	f := New(newTestConfig(1, 1), manager, nil, "run-42")
	assert.Equal(t, "run-42", f.RunID())

	g := New(newTestConfig(1, 1), manager, nil, "")
	assert.NotEmpty(t, g.RunID())
	assert.NotEqual(t, f.RunID(), g.RunID())
}

func TestFleetStopClosesFailures(t *testing.T) {
	manager := newTestManager(t)
	f := New(newTestConfig(1, 2), manager, nil, "")
	require.NoError(t, f.Start())

	failures := f.Failures()
	f.Stop()

	select {
	case err, ok := <-failures:
		assert.False(t, ok, "unexpected failure: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("failures channel not closed after Stop")
	}
}

func TestFleetStopIdempotent(t *testing.T) {
	manager := newTestManager(t)
	f := New(newTestConfig(1, 1), manager, nil, "")
	require.NoError(t, f.Start())

	f.Stop()
	f.Stop()
	assert.Equal(t, 0, f.Size())
}
