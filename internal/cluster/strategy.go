package cluster

import (
	"fmt"
	"strings"

	"fleetsim/internal/common"
)

// NodeInfo is the per-node view a strategy places against.
type NodeInfo struct {
	ID                common.NodeID    `json:"id"`
	State             common.NodeState `json:"state"`
	TotalResource     common.Resource  `json:"total_resource"`
	UsedResource      common.Resource  `json:"used_resource"`
	AvailableResource common.Resource `json:"available_resource"`
}

// Strategy is the minimal scheduler-strategy capability the simulator
// exercises: pick a node for a container ask. Aggregate cluster
// availability is strategy-independent.
type Strategy interface {
	Name() string
	SelectNode(nodes []*NodeInfo, ask common.Resource) (*NodeInfo, bool)
}

// NewStrategy creates a strategy by name.
func NewStrategy(name string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "fair":
		return &FairStrategy{}, nil
	case "capacity":
		return &CapacityStrategy{}, nil
	default:
		return nil, fmt.Errorf("%w: %s", common.ErrUnknownStrategy, name)
	}
}

// FairStrategy places each ask on the least-allocated candidate node,
// spreading load across the fleet.
type FairStrategy struct{}

func (s *FairStrategy) Name() string { return "fair" }

func (s *FairStrategy) SelectNode(nodes []*NodeInfo, ask common.Resource) (*NodeInfo, bool) {
	var best *NodeInfo
	for _, node := range nodes {
		if node.State != common.NodeStateRunning || !node.AvailableResource.Fits(ask) {
			continue
		}
		if best == nil || node.UsedResource.Memory < best.UsedResource.Memory {
			best = node
		}
	}
	return best, best != nil
}

// CapacityStrategy packs asks onto the first node with room, filling nodes
// before spilling to the next.
type CapacityStrategy struct{}

func (s *CapacityStrategy) Name() string { return "capacity" }

func (s *CapacityStrategy) SelectNode(nodes []*NodeInfo, ask common.Resource) (*NodeInfo, bool) {
	for _, node := range nodes {
		if node.State != common.NodeStateRunning {
			continue
		}
		if node.AvailableResource.Fits(ask) {
			return node, true
		}
	}
	return nil, false
}
