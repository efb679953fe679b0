package simnode

import (
	"fleetsim/internal/common"
)

// ResourceManager is the scheduler collaborator a simulated node talks to.
// Registration is asynchronous with no direct acknowledgement: RegisterNode
// returns once the request is accepted for delivery, and the only evidence
// of admission is the aggregate query surface eventually reflecting the
// node. Implementations must be safe for concurrent calls from many nodes.
type ResourceManager interface {
	// RegisterNode announces a node and its declared capacity. An error
	// means the request was not accepted for delivery; callers retry.
	RegisterNode(nodeID common.NodeID, capability common.Resource) error

	// NodeHeartbeat reports current resource usage and container status.
	NodeHeartbeat(report common.HeartbeatReport) error

	// Aggregate state, polled by observers waiting for convergence.
	NumClusterNodes() int
	AvailableMemoryMB() int64
	AvailableVirtualCores() int32
}
