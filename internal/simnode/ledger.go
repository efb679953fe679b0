package simnode

import (
	"fmt"
	"sync"

	"fleetsim/internal/common"
)

// ContainerLedger is the container and application bookkeeping for one
// simulated node. A container id lives in at most one of {running,
// completed}; the AM set is always a subset of running; an application id
// stays in the running set exactly while at least one of its containers is
// running. The ledger also accumulates the resources of running containers
// so heartbeat snapshots observe usage and membership atomically.
type ContainerLedger struct {
	mu           sync.RWMutex
	running      map[common.ContainerID]*Container
	amContainers map[common.ContainerID]struct{}
	completed    map[common.ContainerID]struct{}
	runningApps  map[common.ApplicationID]map[common.ContainerID]struct{}
	usedResource common.Resource
}

// NewContainerLedger creates an empty ledger.
func NewContainerLedger() *ContainerLedger {
	return &ContainerLedger{
		running:      make(map[common.ContainerID]*Container),
		amContainers: make(map[common.ContainerID]struct{}),
		completed:    make(map[common.ContainerID]struct{}),
		runningApps:  make(map[common.ApplicationID]map[common.ContainerID]struct{}),
	}
}

// Add admits a container. A container id already known as running or
// completed is rejected; silently ignoring it would mask double-allocation
// bugs in the scheduler under test.
func (l *ContainerLedger) Add(container *Container) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	id := container.ID
	if _, exists := l.running[id]; exists {
		return fmt.Errorf("%w: %s already running", common.ErrDuplicateContainer, id)
	}
	if _, exists := l.completed[id]; exists {
		return fmt.Errorf("%w: %s already completed", common.ErrDuplicateContainer, id)
	}

	l.running[id] = container
	if container.IsAM() {
		l.amContainers[id] = struct{}{}
	}
	if container.HasApplication() {
		appID := *container.AppID
		if l.runningApps[appID] == nil {
			l.runningApps[appID] = make(map[common.ContainerID]struct{})
		}
		l.runningApps[appID][id] = struct{}{}
	}
	l.usedResource = l.usedResource.Add(container.Resource)
	return nil
}

// Remove completes a running container, returning it. An unknown or
// already-completed id is a no-op and returns false: cleanup is idempotent
// so a manual cleanup racing an auto-expiry settles harmlessly.
func (l *ContainerLedger) Remove(id common.ContainerID) (*Container, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	container, exists := l.running[id]
	if !exists {
		return nil, false
	}

	delete(l.running, id)
	delete(l.amContainers, id)
	l.completed[id] = struct{}{}

	if container.HasApplication() {
		appID := *container.AppID
		if owned := l.runningApps[appID]; owned != nil {
			delete(owned, id)
			if len(owned) == 0 {
				delete(l.runningApps, appID)
			}
		}
	}
	l.usedResource = l.usedResource.Subtract(container.Resource)
	return container, true
}

// FinishApplication drops an application from the running set. Containers
// are untouched; application and container lifecycles are independent. An
// unknown id is a no-op.
func (l *ContainerLedger) FinishApplication(appID common.ApplicationID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.runningApps[appID]; !exists {
		return false
	}
	delete(l.runningApps, appID)
	return true
}

// RunningContainers returns a copy of the running set.
func (l *ContainerLedger) RunningContainers() map[common.ContainerID]*Container {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[common.ContainerID]*Container, len(l.running))
	for id, container := range l.running {
		out[id] = container
	}
	return out
}

// AMContainers returns a copy of the application-master container set.
func (l *ContainerLedger) AMContainers() map[common.ContainerID]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[common.ContainerID]struct{}, len(l.amContainers))
	for id := range l.amContainers {
		out[id] = struct{}{}
	}
	return out
}

// CompletedContainers returns a copy of the completed container set.
func (l *ContainerLedger) CompletedContainers() map[common.ContainerID]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[common.ContainerID]struct{}, len(l.completed))
	for id := range l.completed {
		out[id] = struct{}{}
	}
	return out
}

// RunningApplications returns a copy of the running application id set.
func (l *ContainerLedger) RunningApplications() map[common.ApplicationID]struct{} {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[common.ApplicationID]struct{}, len(l.runningApps))
	for appID := range l.runningApps {
		out[appID] = struct{}{}
	}
	return out
}

// UsedResource returns the resources held by running containers.
func (l *ContainerLedger) UsedResource() common.Resource {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.usedResource
}

// LedgerSnapshot is one atomic observation of ledger state, taken for a
// heartbeat report.
type LedgerSnapshot struct {
	UsedResource common.Resource
	Containers   []common.ContainerReport
}

// Snapshot captures resource usage and container status in one critical
// section, so a report never sees a half-applied mutation.
func (l *ContainerLedger) Snapshot() LedgerSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	containers := make([]common.ContainerReport, 0, len(l.running))
	for id, container := range l.running {
		containers = append(containers, common.ContainerReport{
			ID:       id,
			Resource: container.Resource,
			State:    common.ContainerStateRunning,
		})
	}
	return LedgerSnapshot{
		UsedResource: l.usedResource,
		Containers:   containers,
	}
}
