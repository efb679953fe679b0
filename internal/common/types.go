package common

import (
	"fmt"
	"path"
	"strconv"
	"strings"
)

// Resource is a node or container resource amount.
type Resource struct {
	Memory int64 `json:"memory" yaml:"memory"` // MB
	VCores int32 `json:"vcores" yaml:"vcores"`
}

// Add returns the sum of the two resources.
func (r Resource) Add(other Resource) Resource {
	return Resource{
		Memory: r.Memory + other.Memory,
		VCores: r.VCores + other.VCores,
	}
}

// Subtract returns this resource minus the other.
func (r Resource) Subtract(other Resource) Resource {
	return Resource{
		Memory: r.Memory - other.Memory,
		VCores: r.VCores - other.VCores,
	}
}

// Fits reports whether required fits inside this resource.
func (r Resource) Fits(required Resource) bool {
	return r.Memory >= required.Memory && r.VCores >= required.VCores
}

// IsEmpty reports whether both dimensions are zero.
func (r Resource) IsEmpty() bool {
	return r.Memory == 0 && r.VCores == 0
}

func (r Resource) String() string {
	return fmt.Sprintf("Resource{Memory: %d MB, VCores: %d}", r.Memory, r.VCores)
}

// NewResource creates a resource.
func NewResource(memory int64, vcores int32) Resource {
	return Resource{Memory: memory, VCores: vcores}
}

// NodeID identifies one simulated node. Host and Rack are derived from a
// rack path such as "/rack1/node42".
type NodeID struct {
	Host string `json:"host" yaml:"host"`
	Rack string `json:"rack" yaml:"rack"`
}

// NewNodeID splits a rack path into rack label and host name.
func NewNodeID(rackPath string) NodeID {
	cleaned := path.Clean("/" + strings.TrimPrefix(rackPath, "/"))
	return NodeID{
		Host: path.Base(cleaned),
		Rack: path.Dir(cleaned),
	}
}

func (n NodeID) String() string {
	return path.Join(n.Rack, n.Host)
}

// ApplicationID identifies an application across the cluster.
type ApplicationID struct {
	ClusterTimestamp int64 `json:"cluster_timestamp"`
	ID               int32 `json:"id"`
}

func (a ApplicationID) String() string {
	return fmt.Sprintf("application_%d_%04d", a.ClusterTimestamp, a.ID)
}

// NewApplicationID creates an application id.
func NewApplicationID(clusterTimestamp int64, id int32) ApplicationID {
	return ApplicationID{ClusterTimestamp: clusterTimestamp, ID: id}
}

// ContainerID identifies one container of one application attempt.
type ContainerID struct {
	ApplicationID ApplicationID `json:"application_id"`
	AttemptID     int32         `json:"attempt_id"`
	ID            int64         `json:"id"`
}

func (c ContainerID) String() string {
	return fmt.Sprintf("container_%d_%04d_%02d_%06d",
		c.ApplicationID.ClusterTimestamp, c.ApplicationID.ID, c.AttemptID, c.ID)
}

// NewContainerID creates a container id.
func NewContainerID(appID ApplicationID, attemptID int32, id int64) ContainerID {
	return ContainerID{ApplicationID: appID, AttemptID: attemptID, ID: id}
}

// ParseContainerID parses the string form produced by ContainerID.String.
func ParseContainerID(s string) (ContainerID, error) {
	parts := strings.Split(s, "_")
	if len(parts) != 5 || parts[0] != "container" {
		return ContainerID{}, fmt.Errorf("%w: malformed container id %q", ErrInvalidParameter, s)
	}
	ts, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return ContainerID{}, fmt.Errorf("%w: container id timestamp %q", ErrInvalidParameter, parts[1])
	}
	appID, err := strconv.ParseInt(parts[2], 10, 32)
	if err != nil {
		return ContainerID{}, fmt.Errorf("%w: container id app %q", ErrInvalidParameter, parts[2])
	}
	attempt, err := strconv.ParseInt(parts[3], 10, 32)
	if err != nil {
		return ContainerID{}, fmt.Errorf("%w: container id attempt %q", ErrInvalidParameter, parts[3])
	}
	id, err := strconv.ParseInt(parts[4], 10, 64)
	if err != nil {
		return ContainerID{}, fmt.Errorf("%w: container id sequence %q", ErrInvalidParameter, parts[4])
	}
	return ContainerID{
		ApplicationID: ApplicationID{ClusterTimestamp: ts, ID: int32(appID)},
		AttemptID:     int32(attempt),
		ID:            id,
	}, nil
}

// ContainerState is the lifecycle state of a simulated container.
type ContainerState string

const (
	ContainerStateRunning  ContainerState = "RUNNING"
	ContainerStateComplete ContainerState = "COMPLETE"
)

// NodeState is the lifecycle state of a simulated node.
type NodeState string

const (
	NodeStateNew      NodeState = "NEW"
	NodeStateRunning  NodeState = "RUNNING"
	NodeStateLost     NodeState = "LOST"
	NodeStateShutdown NodeState = "SHUTDOWN"
)

// ContainerReport is one container's entry in a heartbeat.
type ContainerReport struct {
	ID       ContainerID    `json:"id"`
	Resource Resource       `json:"resource"`
	State    ContainerState `json:"state"`
}

// HeartbeatReport is the node status snapshot pushed to the cluster
// resource manager on every heartbeat.
type HeartbeatReport struct {
	NodeID            NodeID            `json:"node_id"`
	Sequence          int64             `json:"sequence"`
	AvailableResource Resource          `json:"available_resource"`
	UsedResource      Resource          `json:"used_resource"`
	Utilization       float32           `json:"utilization"`
	Containers        []ContainerReport `json:"containers"`
}
