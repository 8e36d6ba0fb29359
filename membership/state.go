package membership

import (
	"github.com/rs/zerolog/log"
)

// RecordStatus stores the status a member reported about itself.
func (r *Registry) RecordStatus(role RoleName, member MemberID, status Status) error {
	entry, ok := r.roles[role]
	if !ok {
		return &UnknownRoleError{Role: role, Op: "status"}
	}
	entry.Statuses[member] = status
	return nil
}

// MergeSnapshot folds a peer's ownership view into the local one. Only
// Managers maps are merged, last writer wins per member. Statuses are only
// ever learned first-hand. Returns how many entries changed.
func (r *Registry) MergeSnapshot(snap Snapshot) int {
	changed := 0
	for role, view := range snap.Roles {
		entry, ok := r.roles[role]
		if !ok {
			log.Debug().
				Str("role", string(role)).
				Str("source", string(snap.Source)).
				Msg("Ignoring snapshot entry for unregistered role")
			continue
		}

		for member, owner := range view.Managers {
			if current, exists := entry.Managers[member]; exists && current == owner {
				continue
			}
			entry.Managers[member] = owner
			changed++
		}
	}
	return changed
}

// Snapshot projects every role's ownership and status maps into fresh maps.
func (r *Registry) Snapshot() map[RoleName]RoleView {
	out := make(map[RoleName]RoleView, len(r.roles))
	for role, entry := range r.roles {
		view := RoleView{
			Managers: make(map[MemberID]ManagerID, len(entry.Managers)),
			Statuses: make(map[MemberID]Status, len(entry.Statuses)),
		}
		for k, v := range entry.Managers {
			view.Managers[k] = v
		}
		for k, v := range entry.Statuses {
			view.Statuses[k] = v
		}
		out[role] = view
	}
	return out
}
