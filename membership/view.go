package membership

import (
	"sort"

	"github.com/maxpert/muster/telemetry"
)

// MemberInfo is one row of the manager's membership view.
type MemberInfo struct {
	Role    RoleName  `json:"role"`
	ID      MemberID  `json:"id"`
	Manager ManagerID `json:"manager,omitempty"`
	Status  Status    `json:"status,omitempty"`
	Local   bool      `json:"local"`
}

// State is a point-in-time description of a manager.
type State struct {
	ID        ManagerID             `json:"id"`
	Assistant bool                  `json:"assistant"`
	Lifecycle string                `json:"lifecycle"`
	Roles     map[RoleName]RoleView `json:"roles"`
}

// State describes the manager for the admin API.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State{
		ID:        m.id,
		Assistant: m.assistant,
		Lifecycle: m.readiness.state.String(),
		Roles:     m.registry.Snapshot(),
	}
}

// Members lists every member known through ownership or status, ordered by
// role then id.
func (m *Manager) Members() []MemberInfo {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []MemberInfo
	for _, role := range m.registry.order {
		entry := m.registry.roles[role]
		ids := make(map[MemberID]struct{}, len(entry.Managers)+len(entry.Statuses))
		for id := range entry.Managers {
			ids[id] = struct{}{}
		}
		for id := range entry.Statuses {
			ids[id] = struct{}{}
		}

		rows := make([]MemberInfo, 0, len(ids))
		for id := range ids {
			_, local := entry.Instances[id]
			rows = append(rows, MemberInfo{
				Role:    role,
				ID:      id,
				Manager: entry.Managers[id],
				Status:  entry.Statuses[id],
				Local:   local,
			})
		}
		sort.Slice(rows, func(i, j int) bool { return rows[i].ID < rows[j].ID })
		out = append(out, rows...)
	}
	return out
}

// RoleCounts implements telemetry.MembershipStats.
func (m *Manager) RoleCounts() []telemetry.RoleCount {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make([]telemetry.RoleCount, 0, len(m.registry.order))
	for _, role := range m.registry.order {
		entry := m.registry.roles[role]
		counts = append(counts, telemetry.RoleCount{
			Role:    string(role),
			Cluster: len(entry.Managers),
			Local:   len(entry.Instances),
		})
	}
	return counts
}

// KnownManagerCount implements telemetry.MembershipStats.
func (m *Manager) KnownManagerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.registry.roles[ManagerRole].Statuses)
}
