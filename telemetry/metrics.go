package telemetry

// SnapshotBuckets for snapshot sizes in bytes
var SnapshotBuckets = []float64{256, 1024, 4096, 16384, 65536, 262144, 1048576}

// Membership metrics
var (
	// PlanningPassesTotal counts convergence planner runs
	PlanningPassesTotal Counter = NoopStat{}

	// CreationTasksTotal counts creation tasks emitted by role
	CreationTasksTotal CounterVec = noopCounterVec{}

	// MembersCreatedTotal counts members instantiated locally by role
	MembersCreatedTotal CounterVec = noopCounterVec{}

	// CreationSkippedTotal counts creation requests absorbed by reason (foreign, owned)
	CreationSkippedTotal CounterVec = noopCounterVec{}

	// CreationFailedTotal counts members dropped because attaching them failed
	CreationFailedTotal CounterVec = noopCounterVec{}

	// StatusUpdatesTotal counts status notifications recorded by role
	StatusUpdatesTotal CounterVec = noopCounterVec{}

	// UnknownRoleTotal counts operations rejected for naming an unregistered role
	UnknownRoleTotal CounterVec = noopCounterVec{}

	// SnapshotsTotal counts snapshots by outcome (sent, merged, skipped)
	SnapshotsTotal CounterVec = noopCounterVec{}

	// SnapshotBytes measures encoded snapshot size
	SnapshotBytes Histogram = NoopStat{}

	// ManagerReady is 1 once the manager has emitted its readiness signal
	ManagerReady Gauge = NoopStat{}

	// RoleMembers tracks members known per role and scope (cluster, local)
	RoleMembers GaugeVec = noopGaugeVec{}

	// KnownManagers tracks peers that have reported a manager status
	KnownManagers Gauge = NoopStat{}
)

// Transport metrics
var (
	// BusMessagesTotal counts bus messages by kind and direction (published, delivered)
	BusMessagesTotal CounterVec = noopCounterVec{}

	// BusHandlerErrorsTotal counts handler failures by kind
	BusHandlerErrorsTotal CounterVec = noopCounterVec{}

	// BusDecodeErrorsTotal counts frames that could not be decoded
	BusDecodeErrorsTotal Counter = NoopStat{}
)

// InitMetrics binds the metrics above to the Prometheus registry.
// Must be called after the registry exists.
func InitMetrics() {
	PlanningPassesTotal = NewCounter(
		"planning_passes_total",
		"Total convergence planner runs",
	)
	CreationTasksTotal = NewCounterVec(
		"creation_tasks_total",
		"Creation tasks emitted by role",
		[]string{"role"},
	)
	MembersCreatedTotal = NewCounterVec(
		"members_created_total",
		"Members instantiated by this manager by role",
		[]string{"role"},
	)
	CreationSkippedTotal = NewCounterVec(
		"creation_skipped_total",
		"Creation requests ignored by reason",
		[]string{"reason"},
	)
	CreationFailedTotal = NewCounterVec(
		"creation_failed_total",
		"Members dropped after a failed transport attach by role",
		[]string{"role"},
	)
	StatusUpdatesTotal = NewCounterVec(
		"status_updates_total",
		"Status notifications recorded by role",
		[]string{"role"},
	)
	UnknownRoleTotal = NewCounterVec(
		"unknown_role_total",
		"Operations rejected for an unregistered role",
		[]string{"op"},
	)
	SnapshotsTotal = NewCounterVec(
		"snapshots_total",
		"Snapshots by outcome",
		[]string{"outcome"},
	)
	SnapshotBytes = NewHistogramWithBuckets(
		"snapshot_bytes",
		"Encoded snapshot size in bytes",
		SnapshotBuckets,
	)
	ManagerReady = NewGauge(
		"manager_ready",
		"Whether the manager has signalled readiness (1=yes, 0=no)",
	)
	RoleMembers = NewGaugeVec(
		"role_members",
		"Members per role by scope",
		[]string{"role", "scope"},
	)
	KnownManagers = NewGauge(
		"known_managers",
		"Managers that have reported status",
	)

	BusMessagesTotal = NewCounterVec(
		"bus_messages_total",
		"Bus messages by kind and direction",
		[]string{"kind", "direction"},
	)
	BusHandlerErrorsTotal = NewCounterVec(
		"bus_handler_errors_total",
		"Bus handler failures by kind",
		[]string{"kind"},
	)
	BusDecodeErrorsTotal = NewCounter(
		"bus_decode_errors_total",
		"Bus frames that failed to decode",
	)
}
