package common

import (
	"sync"
	"time"
)

// Metrics holds fleet-wide simulation counters.
type Metrics struct {
	mu sync.RWMutex

	StartTime time.Time `json:"start_time"`

	// 注册指标
	Registrations       int64 `json:"registrations"`
	FailedRegistrations int64 `json:"failed_registrations"`

	// 心跳指标
	HeartbeatsSent   int64 `json:"heartbeats_sent"`
	HeartbeatsFailed int64 `json:"heartbeats_failed"`

	// 容器指标
	ContainersAdmitted  int64 `json:"containers_admitted"`
	ContainersCompleted int64 `json:"containers_completed"`

	ApplicationsFinished int64 `json:"applications_finished"`
}

var globalMetrics = &Metrics{StartTime: time.Now()}

// GetMetrics returns the global metrics instance.
func GetMetrics() *Metrics {
	return globalMetrics
}

// IncrRegistrations increments the successful registration counter.
func (m *Metrics) IncrRegistrations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registrations++
}

// IncrFailedRegistrations increments the failed registration counter.
func (m *Metrics) IncrFailedRegistrations() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.FailedRegistrations++
}

// IncrHeartbeatsSent increments the sent heartbeat counter.
func (m *Metrics) IncrHeartbeatsSent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HeartbeatsSent++
}

// IncrHeartbeatsFailed increments the failed heartbeat counter.
func (m *Metrics) IncrHeartbeatsFailed() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.HeartbeatsFailed++
}

// IncrContainersAdmitted increments the admitted container counter.
func (m *Metrics) IncrContainersAdmitted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContainersAdmitted++
}

// IncrContainersCompleted increments the completed container counter.
func (m *Metrics) IncrContainersCompleted() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ContainersCompleted++
}

// IncrApplicationsFinished increments the finished application counter.
func (m *Metrics) IncrApplicationsFinished() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ApplicationsFinished++
}

// Snapshot returns a copy of the current counters.
func (m *Metrics) Snapshot() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Metrics{
		StartTime:            m.StartTime,
		Registrations:        m.Registrations,
		FailedRegistrations:  m.FailedRegistrations,
		HeartbeatsSent:       m.HeartbeatsSent,
		HeartbeatsFailed:     m.HeartbeatsFailed,
		ContainersAdmitted:   m.ContainersAdmitted,
		ContainersCompleted:  m.ContainersCompleted,
		ApplicationsFinished: m.ApplicationsFinished,
	}
}

// Reset clears all counters. Intended for tests.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Registrations = 0
	m.FailedRegistrations = 0
	m.HeartbeatsSent = 0
	m.HeartbeatsFailed = 0
	m.ContainersAdmitted = 0
	m.ContainersCompleted = 0
	m.ApplicationsFinished = 0
}
