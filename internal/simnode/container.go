package simnode

import (
	"time"

	"fleetsim/internal/common"
)

// Container is one simulated unit of scheduled work. No process runs; only
// the bookkeeping a real work unit would cause is modeled.
//
// A negative Lifetime marks an application-master container: it stays
// running until explicitly cleaned up. A non-negative Lifetime schedules
// automatic cleanup once that much time has elapsed.
type Container struct {
	ID       common.ContainerID
	Resource common.Resource
	Lifetime time.Duration

	// AppID is the owning application, when tracked. A nil AppID means the
	// container carries no application association at all; it never
	// contributes to the node's running-applications set.
	AppID *common.ApplicationID

	StartTime time.Time
}

// IsAM reports whether this container is an application master.
func (c *Container) IsAM() bool {
	return c.Lifetime < 0
}

// HasApplication reports whether an owning application is tracked.
func (c *Container) HasApplication() bool {
	return c.AppID != nil
}

// NewContainer creates a container description.
func NewContainer(id common.ContainerID, resource common.Resource) *Container {
	return &Container{
		ID:       id,
		Resource: resource,
	}
}
