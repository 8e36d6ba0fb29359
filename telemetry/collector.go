package telemetry

import (
	"sync"
	"time"
)

// RoleCount is the member population of one role as seen by a manager.
type RoleCount struct {
	Role    string
	Cluster int // members with a known owner anywhere
	Local   int // members owned by this manager
}

// MembershipStats is implemented by the manager
type MembershipStats interface {
	RoleCounts() []RoleCount
	KnownManagerCount() int
}

// MetricsCollector periodically samples membership gauges
type MetricsCollector struct {
	stats    MembershipStats
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewMetricsCollector creates a new metrics collector
func NewMetricsCollector(stats MembershipStats, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		stats:    stats,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic collection
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

// Stop stops the collector. Safe to call more than once.
func (mc *MetricsCollector) Stop() {
	mc.stopOnce.Do(func() { close(mc.stopCh) })
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.stats == nil {
		return
	}

	for _, rc := range mc.stats.RoleCounts() {
		RoleMembers.With(rc.Role, "cluster").Set(float64(rc.Cluster))
		RoleMembers.With(rc.Role, "local").Set(float64(rc.Local))
	}
	KnownManagers.Set(float64(mc.stats.KnownManagerCount()))
}
