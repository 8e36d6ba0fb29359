package membership

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/maxpert/muster/bus"
	"github.com/maxpert/muster/encoding"
	"github.com/maxpert/muster/hlc"
	"github.com/maxpert/muster/telemetry"
	"github.com/rs/zerolog/log"
)

// Options configures a Manager.
type Options struct {
	ID    ManagerID
	Roles []RoleDescriptor
	// Clock stamps snapshots. Defaults to a clock for node 0.
	Clock *hlc.Clock
	// DedupCacheSize bounds how many peers' last snapshot digests are kept.
	// Zero disables dedup.
	DedupCacheSize int
}

// Manager runs the coordinator for one node. It is itself the single member
// of the Manager role.
//
// All state lives behind mu. Nothing is published while mu is held, since an
// in-process bus delivers synchronously and the manager handles its own
// messages.
type Manager struct {
	id    ManagerID
	clock *hlc.Clock
	dedup *snapshotDedup

	mu        sync.Mutex
	registry  *Registry
	readiness readiness
	transport bus.Bus
	assistant bool
	started   bool
	cancels   []func()
}

// NewManager validates the roles and builds the registry.
func NewManager(opts Options) (*Manager, error) {
	if opts.ID == "" {
		return nil, &ConfigurationError{Reason: "manager id is empty"}
	}

	m := &Manager{
		id:    opts.ID,
		clock: opts.Clock,
	}
	if m.clock == nil {
		m.clock = hlc.NewClock(0)
	}

	registry, err := NewRegistry(m, opts.Roles)
	if err != nil {
		return nil, err
	}
	m.registry = registry

	dedup, err := newSnapshotDedup(opts.DedupCacheSize)
	if err != nil {
		return nil, &ConfigurationError{Reason: fmt.Sprintf("snapshot dedup cache: %v", err)}
	}
	m.dedup = dedup

	return m, nil
}

// ID returns the manager's member id.
func (m *Manager) ID() MemberID {
	return m.id
}

// SetRole is a no-op: a manager always belongs to ManagerRole.
func (m *Manager) SetRole(RoleName) {}

// SetTransport attaches the bus shared with every locally created member.
func (m *Manager) SetTransport(b bus.Bus) error {
	if b == nil {
		return errors.New("transport is nil")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transport = b
	return nil
}

// Start subscribes to the bus and announces the manager. Unless assistant is
// set it also creates the local clock member and starts the clock. An
// assistant only listens, merges and honours creation requests.
func (m *Manager) Start(ctx context.Context, assistant bool) error {
	m.mu.Lock()
	if m.transport == nil {
		m.mu.Unlock()
		return &MissingTransportError{Manager: m.id}
	}
	if m.started {
		m.mu.Unlock()
		return fmt.Errorf("manager %s already started", m.id)
	}
	m.started = true
	m.assistant = assistant
	transport := m.transport
	_, hasClock := m.registry.Entry(ClockRole)
	m.mu.Unlock()

	cancels := []func(){
		transport.Subscribe(KindStatusChanged, m.onStatusChanged),
		transport.Subscribe(KindSnapshot, m.onSnapshot),
		transport.Subscribe(KindCreationRequested, m.onCreationRequested),
		transport.Subscribe(KindClockTick, m.onClockTick),
	}
	m.mu.Lock()
	m.cancels = cancels
	m.mu.Unlock()

	log.Info().
		Str("manager_id", string(m.id)).
		Bool("assistant", assistant).
		Int("roles", len(m.registry.order)).
		Msg("Manager starting")

	err := transport.Publish(ctx, bus.Message{
		Kind: KindStatusChanged,
		Body: StatusChanged{State: StatusConnected, Role: ManagerRole, MemberID: m.id},
	})
	if err != nil {
		return fmt.Errorf("failed to announce manager: %w", err)
	}

	if assistant {
		return nil
	}

	if hasClock {
		if err := m.CreateMember(CreationTask{Manager: m.id, Role: ClockRole}); err != nil {
			return fmt.Errorf("failed to create clock: %w", err)
		}
	}
	if err := transport.Publish(ctx, bus.Message{Kind: KindClockStart, Body: ClockStart{}}); err != nil {
		return fmt.Errorf("failed to start clock: %w", err)
	}
	return nil
}

// Stop drops the manager's subscriptions and closes local members that have
// a Close method, such as the clock.
func (m *Manager) Stop() {
	m.mu.Lock()
	cancels := m.cancels
	m.cancels = nil
	var closers []interface{ Close() }
	for _, role := range m.registry.order {
		if role == ManagerRole {
			continue
		}
		for _, member := range m.registry.roles[role].Instances {
			if c, ok := member.(interface{ Close() }); ok {
				closers = append(closers, c)
			}
		}
	}
	m.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for _, c := range closers {
		c.Close()
	}
}

// RecordStatus stores a member's self-reported status.
func (m *Manager) RecordStatus(role RoleName, member MemberID, status Status) error {
	m.mu.Lock()
	err := m.registry.RecordStatus(role, member, status)
	m.mu.Unlock()

	if err != nil {
		telemetry.UnknownRoleTotal.With("status").Inc()
		return err
	}
	telemetry.StatusUpdatesTotal.With(string(role)).Inc()
	return nil
}

// MergeSnapshot folds a peer view into local state.
func (m *Manager) MergeSnapshot(snap Snapshot) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry.MergeSnapshot(snap)
}

// Snapshot returns the manager's current view stamped with a fresh timestamp.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{Source: m.id, Time: m.clock.Now(), Roles: m.registry.Snapshot()}
}

// Plan runs the planner against current state without publishing anything.
func (m *Manager) Plan() []CreationTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Plan(m.id, m.registry)
}

// Lifecycle returns the readiness state.
func (m *Manager) Lifecycle() LifecycleState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readiness.state
}

// CreateMember instantiates a member for task if it is addressed to this
// manager and the manager owns no member of the role yet. The member is
// registered before it is attached to the transport.
func (m *Manager) CreateMember(task CreationTask) error {
	if task.Manager != m.id {
		telemetry.CreationSkippedTotal.With("foreign").Inc()
		return nil
	}

	m.mu.Lock()
	entry, ok := m.registry.Entry(task.Role)
	if !ok {
		m.mu.Unlock()
		telemetry.UnknownRoleTotal.With("create").Inc()
		return &UnknownRoleError{Role: task.Role, Op: "create"}
	}
	if entry.OwnedBy(m.id) {
		m.mu.Unlock()
		telemetry.CreationSkippedTotal.With("owned").Inc()
		return nil
	}
	if m.transport == nil {
		m.mu.Unlock()
		return &MissingTransportError{Manager: m.id}
	}

	member := entry.Factory()
	if member == nil {
		m.mu.Unlock()
		return fmt.Errorf("factory for role %q returned no member", task.Role)
	}
	member.SetRole(task.Role)
	entry.Instances[member.ID()] = member
	entry.Managers[member.ID()] = m.id
	transport := m.transport
	m.mu.Unlock()

	telemetry.MembersCreatedTotal.With(string(task.Role)).Inc()
	log.Info().
		Str("manager_id", string(m.id)).
		Str("role", string(task.Role)).
		Str("member_id", string(member.ID())).
		Msg("Member created")

	if err := member.SetTransport(transport); err != nil {
		m.forget(entry, member)
		telemetry.CreationFailedTotal.With(string(task.Role)).Inc()
		return fmt.Errorf("failed to attach %s member %s: %w", task.Role, member.ID(), err)
	}
	return nil
}

// forget drops a member whose attach failed, so the next planning pass asks
// for the role again instead of finding it owned.
func (m *Manager) forget(entry *RoleEntry, member Member) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := member.ID()
	delete(entry.Instances, id)
	delete(entry.Managers, id)
	delete(entry.Statuses, id)
}

// Reset resets every locally owned member that supports it, except the
// manager itself. Returns how many members were reset.
func (m *Manager) Reset() int {
	m.mu.Lock()
	var targets []Resettable
	for _, role := range m.registry.order {
		if role == ManagerRole {
			continue
		}
		entry := m.registry.roles[role]
		ids := make([]MemberID, 0, len(entry.Instances))
		for id := range entry.Instances {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			if r, ok := entry.Instances[id].(Resettable); ok {
				targets = append(targets, r)
			}
		}
	}
	m.mu.Unlock()

	for _, r := range targets {
		r.Reset()
	}
	log.Info().Str("manager_id", string(m.id)).Int("members", len(targets)).Msg("Local members reset")
	return len(targets)
}

// Tick broadcasts the snapshot and, outside assistant mode, plans. Tasks are
// published as creation requests; an empty first plan publishes Ready.
func (m *Manager) Tick(ctx context.Context) error {
	m.mu.Lock()
	transport := m.transport
	if transport == nil {
		m.mu.Unlock()
		return &MissingTransportError{Manager: m.id}
	}
	snap := Snapshot{Source: m.id, Time: m.clock.Now(), Roles: m.registry.Snapshot()}
	var tasks []CreationTask
	becameReady := false
	if !m.assistant {
		tasks = Plan(m.id, m.registry)
		becameReady = m.readiness.observe(len(tasks))
	}
	assistant := m.assistant
	m.mu.Unlock()

	if data, err := encoding.Marshal(snap); err == nil {
		telemetry.SnapshotBytes.Observe(float64(len(data)))
	}

	var errs []error
	if err := transport.Publish(ctx, bus.Message{Kind: KindSnapshot, Body: snap}); err != nil {
		errs = append(errs, fmt.Errorf("failed to broadcast snapshot: %w", err))
	} else {
		telemetry.SnapshotsTotal.With("sent").Inc()
	}

	if assistant {
		return errors.Join(errs...)
	}

	telemetry.PlanningPassesTotal.Inc()
	for _, task := range tasks {
		telemetry.CreationTasksTotal.With(string(task.Role)).Inc()
		if err := transport.Publish(ctx, bus.Message{Kind: KindCreationRequested, Body: task}); err != nil {
			errs = append(errs, fmt.Errorf("failed to request %s on %s: %w", task.Role, task.Manager, err))
		}
	}
	if len(tasks) > 0 {
		log.Debug().Str("manager_id", string(m.id)).Int("tasks", len(tasks)).Msg("Creation tasks requested")
	}

	if becameReady {
		telemetry.ManagerReady.Set(1)
		log.Info().Str("manager_id", string(m.id)).Msg("All roles satisfied, manager ready")
		if err := transport.Publish(ctx, bus.Message{Kind: KindReady, Body: ReadySignal{}}); err != nil {
			errs = append(errs, fmt.Errorf("failed to publish readiness: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) onStatusChanged(_ context.Context, msg bus.Message) error {
	ev, ok := msg.Body.(StatusChanged)
	if !ok {
		return fmt.Errorf("unexpected %s body %T", msg.Kind, msg.Body)
	}
	return m.RecordStatus(ev.Role, ev.MemberID, ev.State)
}

func (m *Manager) onSnapshot(_ context.Context, msg bus.Message) error {
	snap, ok := msg.Body.(Snapshot)
	if !ok {
		return fmt.Errorf("unexpected %s body %T", msg.Kind, msg.Body)
	}
	if snap.Source == m.id {
		return nil
	}
	if !snap.Time.IsZero() {
		m.clock.Update(snap.Time)
	}
	if m.dedup.repeated(snap) {
		telemetry.SnapshotsTotal.With("skipped").Inc()
		return nil
	}

	changed := m.MergeSnapshot(snap)
	telemetry.SnapshotsTotal.With("merged").Inc()
	if changed > 0 {
		log.Debug().
			Str("manager_id", string(m.id)).
			Str("source", string(snap.Source)).
			Int("changed", changed).
			Msg("Merged peer snapshot")
	}
	return nil
}

func (m *Manager) onCreationRequested(_ context.Context, msg bus.Message) error {
	task, ok := msg.Body.(CreationRequested)
	if !ok {
		return fmt.Errorf("unexpected %s body %T", msg.Kind, msg.Body)
	}
	return m.CreateMember(task)
}

func (m *Manager) onClockTick(ctx context.Context, msg bus.Message) error {
	if tick, ok := msg.Body.(ClockTick); ok && !tick.Time.IsZero() {
		m.clock.Update(tick.Time)
	}
	return m.Tick(ctx)
}
