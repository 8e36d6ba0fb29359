package membership

import (
	"context"
	"errors"
	"testing"

	"github.com/maxpert/muster/bus"
	"github.com/maxpert/muster/encoding"
	"github.com/maxpert/muster/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestManager(t *testing.T, id ManagerID, roles ...RoleDescriptor) *Manager {
	t.Helper()
	m, err := NewManager(Options{ID: id, Roles: roles, DedupCacheSize: 16})
	require.NoError(t, err)
	return m
}

func startedManager(t *testing.T, hub bus.Bus, id ManagerID, assistant bool, roles ...RoleDescriptor) *Manager {
	t.Helper()
	m := newTestManager(t, id, roles...)
	require.NoError(t, m.SetTransport(hub))
	require.NoError(t, m.Start(context.Background(), assistant))
	t.Cleanup(m.Stop)
	return m
}

func localCount(m *Manager, role RoleName) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, _ := m.registry.Entry(role)
	return len(entry.Instances)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := NewManager(Options{Roles: []RoleDescriptor{{Role: "Worker", Factory: staticFactory("w")}}})
	var cfgErr *ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))

	_, err = NewManager(Options{ID: "M"})
	assert.True(t, errors.As(err, &cfgErr))
}

func TestManager_StartRequiresTransport(t *testing.T) {
	m := newTestManager(t, "M", RoleDescriptor{Role: "Leader", Factory: staticFactory("l")})

	err := m.Start(context.Background(), false)
	var missing *MissingTransportError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, ManagerID("M"), missing.Manager)
}

func TestManager_CreateMemberIsIdempotent(t *testing.T) {
	hub := bus.NewHub()
	rec := &factoryRecorder{prefix: "worker"}
	m := startedManager(t, hub, "M", true, RoleDescriptor{Role: "Worker", Factory: rec.factory(), Local: true})

	task := CreationTask{Manager: "M", Role: "Worker"}
	require.NoError(t, m.CreateMember(task))
	require.NoError(t, m.CreateMember(task))

	assert.Len(t, rec.created, 1)
	assert.Equal(t, 1, localCount(m, "Worker"))

	created := rec.created[0].(*fakeMember)
	assert.Equal(t, RoleName("Worker"), created.role)
	assert.Same(t, hub, created.transport)
	assert.Contains(t, m.State().Roles["Worker"].Statuses, created.id, "member announced itself on attach")
}

func TestManager_CreateMemberIgnoresForeignTasks(t *testing.T) {
	hub := bus.NewHub()
	rec := &factoryRecorder{prefix: "worker"}
	m := startedManager(t, hub, "M", true, RoleDescriptor{Role: "Worker", Factory: rec.factory(), Local: true})

	require.NoError(t, m.CreateMember(CreationTask{Manager: "P", Role: "Worker"}))
	assert.Empty(t, rec.created)
}

func TestManager_CreateMemberUnknownRole(t *testing.T) {
	hub := bus.NewHub()
	m := startedManager(t, hub, "M", true, RoleDescriptor{Role: "Worker", Factory: staticFactory("w"), Local: true})

	err := m.CreateMember(CreationTask{Manager: "M", Role: "Ghost"})
	var unknown *UnknownRoleError
	require.True(t, errors.As(err, &unknown))
	assert.Equal(t, "create", unknown.Op)
}

func TestManager_StartAnnouncesAndStartsClock(t *testing.T) {
	hub := bus.NewHub()
	starts := counter(hub, KindClockStart)
	rec := &factoryRecorder{prefix: "ticker"}

	m := startedManager(t, hub, "M", false,
		RoleDescriptor{Role: ClockRole, Factory: rec.factory(), Local: true},
		RoleDescriptor{Role: "Leader", Factory: staticFactory("l")},
	)

	assert.Equal(t, int32(1), starts.Load())
	assert.Len(t, rec.created, 1)
	assert.Equal(t, 1, localCount(m, ClockRole))

	state := m.State()
	assert.Equal(t, StatusConnected, state.Roles[ManagerRole].Statuses["M"])
	assert.Equal(t, 1, m.KnownManagerCount())
	assert.Error(t, m.Start(context.Background(), false), "second start")
}

func TestManager_AssistantNeverPlans(t *testing.T) {
	hub := bus.NewHub()
	starts := counter(hub, KindClockStart)
	requests := counter(hub, KindCreationRequested)
	snapshots := counter(hub, KindSnapshot)
	rec := &factoryRecorder{prefix: "ticker"}

	m := startedManager(t, hub, "A", true,
		RoleDescriptor{Role: ClockRole, Factory: rec.factory(), Local: true},
		RoleDescriptor{Role: "Leader", Factory: staticFactory("l")},
	)

	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))

	assert.Zero(t, starts.Load())
	assert.Zero(t, requests.Load())
	assert.Empty(t, rec.created)
	assert.Equal(t, int32(2), snapshots.Load())
	assert.Equal(t, Initialized, m.Lifecycle())

	// Requests addressed to an assistant are still honoured.
	require.NoError(t, m.CreateMember(CreationTask{Manager: "A", Role: ClockRole}))
	assert.Len(t, rec.created, 1)
}

func TestManager_LeaderScenario(t *testing.T) {
	hub := bus.NewHub()
	ready := counter(hub, KindReady)
	rec := &factoryRecorder{prefix: "leader"}

	m := newTestManager(t, "M", RoleDescriptor{Role: "Leader", Factory: rec.factory()})
	require.NoError(t, m.SetTransport(hub))

	assert.Equal(t, []CreationTask{{Manager: "M", Role: "Leader"}}, m.Plan())

	require.NoError(t, m.CreateMember(CreationTask{Manager: "M", Role: "Leader"}))
	require.NoError(t, m.RecordStatus("Leader", rec.created[0].ID(), StatusConnected))

	assert.Empty(t, m.Plan())
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, Ready, m.Lifecycle())
	assert.Equal(t, int32(1), ready.Load())

	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, int32(1), ready.Load())
	assert.Len(t, rec.created, 1)
}

func TestManager_ReadySignalSurvivesCodec(t *testing.T) {
	codec, err := encoding.NewCodec("", "")
	require.NoError(t, err)
	hub := bus.NewHub(bus.WithCodec(codec))
	defer hub.Close()

	var bodies []any
	hub.Subscribe(KindReady, func(_ context.Context, msg bus.Message) error {
		bodies = append(bodies, msg.Body)
		return nil
	})

	m := startedManager(t, hub, "M", false, RoleDescriptor{Role: "Worker", Factory: staticFactory("w"), Local: true})
	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))

	assert.Equal(t, Ready, m.Lifecycle())
	assert.Equal(t, []any{ReadySignal{}}, bodies)
}

func TestManager_TickPublishesTasksUntilSatisfied(t *testing.T) {
	hub := bus.NewHub()
	ready := counter(hub, KindReady)
	rec := &factoryRecorder{prefix: "leader"}

	m := startedManager(t, hub, "M", false, RoleDescriptor{Role: "Leader", Factory: rec.factory()})

	// The request loops back to M, which creates the leader; the leader's
	// status arrives in the same drain.
	require.NoError(t, m.Tick(context.Background()))
	assert.Len(t, rec.created, 1)
	assert.Equal(t, Initialized, m.Lifecycle())
	assert.Zero(t, ready.Load())

	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, Ready, m.Lifecycle())
	assert.Equal(t, int32(1), ready.Load())
}

func TestManager_FailedAttachIsForgotten(t *testing.T) {
	hub := bus.NewHub()
	rec := &factoryRecorder{prefix: "leader", broken: 1}
	m := newTestManager(t, "M", RoleDescriptor{Role: "Leader", Factory: rec.factory()})
	require.NoError(t, m.SetTransport(hub))

	task := CreationTask{Manager: "M", Role: "Leader"}
	err := m.CreateMember(task)
	require.ErrorIs(t, err, errAttach)
	assert.Zero(t, localCount(m, "Leader"))
	assert.NotContains(t, m.State().Roles["Leader"].Managers, MemberID("leader-1"))
	assert.Equal(t, []CreationTask{task}, m.Plan(), "role is requested again")

	require.NoError(t, m.CreateMember(task))
	require.Len(t, rec.created, 2)
	assert.Equal(t, 1, localCount(m, "Leader"))
	assert.Equal(t, ManagerID("M"), m.State().Roles["Leader"].Managers["leader-2"])
}

func TestManager_TickRetriesAfterFailedAttach(t *testing.T) {
	hub := bus.NewHub()
	ready := counter(hub, KindReady)
	rec := &factoryRecorder{prefix: "leader", broken: 1}
	m := startedManager(t, hub, "M", false, RoleDescriptor{Role: "Leader", Factory: rec.factory()})

	// The first request fails inside the handler and is only logged.
	require.NoError(t, m.Tick(context.Background()))
	require.Len(t, rec.created, 1)
	assert.Zero(t, localCount(m, "Leader"))

	require.NoError(t, m.Tick(context.Background()))
	require.Len(t, rec.created, 2)
	assert.Equal(t, StatusConnected, m.State().Roles["Leader"].Statuses["leader-2"])

	require.NoError(t, m.Tick(context.Background()))
	assert.Equal(t, Ready, m.Lifecycle())
	assert.Equal(t, int32(1), ready.Load())
}

func TestManager_UnknownRoleStatusOverBus(t *testing.T) {
	hub := bus.NewHub()
	m := startedManager(t, hub, "M", true, RoleDescriptor{Role: "Leader", Factory: staticFactory("l")})

	err := hub.Publish(context.Background(), bus.Message{
		Kind: KindStatusChanged,
		Body: StatusChanged{State: StatusConnected, Role: "Ghost", MemberID: "g1"},
	})
	require.NoError(t, err, "handler errors do not reach the publisher")

	err = m.RecordStatus("Ghost", "g1", StatusConnected)
	var unknown *UnknownRoleError
	assert.True(t, errors.As(err, &unknown))
	assert.NotContains(t, m.State().Roles, RoleName("Ghost"))
}

func TestManager_ResetOnlyTouchesResettableMembers(t *testing.T) {
	hub := bus.NewHub()
	workers := &factoryRecorder{prefix: "worker", resetable: true}
	leaders := &factoryRecorder{prefix: "leader"}
	m := startedManager(t, hub, "M", true,
		RoleDescriptor{Role: "Worker", Factory: workers.factory(), Local: true},
		RoleDescriptor{Role: "Leader", Factory: leaders.factory()},
	)

	require.NoError(t, m.CreateMember(CreationTask{Manager: "M", Role: "Worker"}))
	require.NoError(t, m.CreateMember(CreationTask{Manager: "M", Role: "Leader"}))

	assert.Equal(t, 1, m.Reset())
	assert.Equal(t, 1, m.Reset())

	worker := workers.created[0].(*resettableMember)
	assert.Equal(t, 2, worker.resets)
	assert.Equal(t, StatusConnected, m.State().Roles[ManagerRole].Statuses["M"], "manager state untouched")
}

func TestSnapshotDedup(t *testing.T) {
	d, err := newSnapshotDedup(4)
	require.NoError(t, err)

	snap := Snapshot{Source: "P", Roles: map[RoleName]RoleView{
		"Worker": {Managers: map[MemberID]ManagerID{"w1": "P", "w2": "P"}},
	}}
	assert.False(t, d.repeated(snap))

	later := snap
	later.Time.WallTime = 42
	assert.True(t, d.repeated(later), "timestamp does not affect the digest")

	changed := Snapshot{Source: "P", Roles: map[RoleName]RoleView{
		"Worker": {Managers: map[MemberID]ManagerID{"w1": "P"}},
	}}
	assert.False(t, d.repeated(changed))

	other := snap
	other.Source = "Q"
	assert.False(t, d.repeated(other))

	disabled, err := newSnapshotDedup(0)
	require.NoError(t, err)
	assert.Nil(t, disabled)
	assert.False(t, disabled.repeated(snap))
}

// wideView builds a view with several roles and members, inserting them in
// the given order.
func wideView(roles []RoleName, owners []ManagerID) map[RoleName]RoleView {
	view := make(map[RoleName]RoleView, len(roles))
	for _, role := range roles {
		rv := RoleView{Managers: map[MemberID]ManagerID{}, Statuses: map[MemberID]Status{}}
		for _, owner := range owners {
			id := MemberID(string(role) + "-" + string(owner))
			rv.Managers[id] = owner
			rv.Statuses[id] = StatusConnected
		}
		view[role] = rv
	}
	return view
}

func TestRolesDigest_IgnoresInsertionOrder(t *testing.T) {
	roles := []RoleName{"Worker", "Leader", "Ticker", "Indexer", "Cache"}
	owners := []ManagerID{"M1", "M2", "M3", "M4", "M5", "M6"}

	reversedRoles := make([]RoleName, len(roles))
	for i, r := range roles {
		reversedRoles[len(roles)-1-i] = r
	}
	reversedOwners := make([]ManagerID, len(owners))
	for i, o := range owners {
		reversedOwners[len(owners)-1-i] = o
	}

	want := rolesDigest(wideView(roles, owners))
	for i := 0; i < 50; i++ {
		require.Equal(t, want, rolesDigest(wideView(roles, owners)))
		require.Equal(t, want, rolesDigest(wideView(reversedRoles, reversedOwners)))
	}

	reset := wideView(roles, owners)
	reset["Worker"].Statuses["Worker-M3"] = StatusReset
	assert.NotEqual(t, want, rolesDigest(reset))

	moved := wideView(roles, owners)
	delete(moved["Leader"].Statuses, "Leader-M1")
	moved["Leader"].Statuses["Leader-M1x"] = StatusConnected
	assert.NotEqual(t, want, rolesDigest(moved))

	assert.NotEqual(t, rolesDigest(nil), rolesDigest(map[RoleName]RoleView{"Worker": {}}))
}

func TestSnapshotDedup_RecognizesWideRepeats(t *testing.T) {
	d, err := newSnapshotDedup(4)
	require.NoError(t, err)

	roles := []RoleName{"Worker", "Leader", "Ticker", "Indexer"}
	owners := []ManagerID{"P", "Q", "R", "S", "T"}
	assert.False(t, d.repeated(Snapshot{Source: "P", Roles: wideView(roles, owners)}))
	for i := 0; i < 50; i++ {
		snap := Snapshot{Source: "P", Roles: wideView(roles, owners)}
		snap.Time.WallTime = int64(i + 1)
		require.True(t, d.repeated(snap), "repeat %d", i)
	}
}

func TestManagers_ConvergeOverSharedBus(t *testing.T) {
	codec, err := encoding.NewCodec(encoding.CompressionZstd, "")
	require.NoError(t, err)
	hub := bus.NewHub(bus.WithCodec(codec))
	defer hub.Close()
	ready := counter(hub, KindReady)

	type node struct {
		m       *Manager
		workers *factoryRecorder
		leaders *factoryRecorder
	}
	var nodes []node
	for _, id := range []ManagerID{"M1", "M2", "M3"} {
		workers := &factoryRecorder{prefix: string(id) + "-worker"}
		leaders := &factoryRecorder{prefix: string(id) + "-leader"}
		m := startedManager(t, hub, id, false,
			RoleDescriptor{Role: "Worker", Factory: workers.factory(), Local: true},
			RoleDescriptor{Role: "Leader", Factory: leaders.factory()},
		)
		nodes = append(nodes, node{m: m, workers: workers, leaders: leaders})
	}

	for round := 0; round < 4; round++ {
		for _, n := range nodes {
			require.NoError(t, n.m.Tick(context.Background()))
		}
	}

	leaders := 0
	for _, n := range nodes {
		assert.Equal(t, Ready, n.m.Lifecycle(), "manager %s", n.m.ID())
		assert.Len(t, n.workers.created, 1, "manager %s owns one worker", n.m.ID())
		leaders += len(n.leaders.created)

		workers := n.m.State().Roles["Worker"].Managers
		assert.Len(t, workers, 3, "manager %s knows every worker", n.m.ID())
	}
	assert.Equal(t, 1, leaders)
	assert.Equal(t, int32(3), ready.Load())
}

type sizeRecorder struct{ sizes []float64 }

func (r *sizeRecorder) Observe(v float64) { r.sizes = append(r.sizes, v) }

func TestManager_TickObservesSnapshotSizeWithoutDedup(t *testing.T) {
	rec := &sizeRecorder{}
	prev := telemetry.SnapshotBytes
	telemetry.SnapshotBytes = rec
	t.Cleanup(func() { telemetry.SnapshotBytes = prev })

	m, err := NewManager(Options{ID: "M", Roles: []RoleDescriptor{{Role: "Leader", Factory: staticFactory("l")}}})
	require.NoError(t, err)
	require.Nil(t, m.dedup)
	require.NoError(t, m.SetTransport(bus.NewHub()))

	require.NoError(t, m.Tick(context.Background()))
	require.NoError(t, m.Tick(context.Background()))
	require.Len(t, rec.sizes, 2)
	assert.Positive(t, rec.sizes[0])
}
