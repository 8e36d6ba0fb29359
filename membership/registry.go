package membership

import (
	"fmt"
	"sort"
)

// Factory creates a fresh, unattached member.
type Factory func() Member

// RoleDescriptor declares one role. Local roles get one member per manager,
// the others one member per cluster.
type RoleDescriptor struct {
	Role    RoleName
	Factory Factory
	Local   bool
}

// RoleEntry is a manager's knowledge of one role.
type RoleEntry struct {
	Local   bool
	Factory Factory

	Managers  map[MemberID]ManagerID // owner of every known member
	Statuses  map[MemberID]Status    // last status heard first-hand
	Instances map[MemberID]Member    // members owned by this manager
}

func newRoleEntry(local bool, factory Factory) *RoleEntry {
	return &RoleEntry{
		Local:     local,
		Factory:   factory,
		Managers:  make(map[MemberID]ManagerID),
		Statuses:  make(map[MemberID]Status),
		Instances: make(map[MemberID]Member),
	}
}

// OwnedBy reports whether manager owns at least one member of the role.
func (e *RoleEntry) OwnedBy(manager ManagerID) bool {
	for _, owner := range e.Managers {
		if owner == manager {
			return true
		}
	}
	return false
}

// Registry is the fixed table of roles known to one manager. It is not safe
// for concurrent use; Manager serializes access.
type Registry struct {
	self  ManagerID
	roles map[RoleName]*RoleEntry
	order []RoleName
}

// NewRegistry builds the table from descriptors plus the implicit Manager role,
// whose only instance is self.
func NewRegistry(self Member, descriptors []RoleDescriptor) (*Registry, error) {
	if self == nil {
		return nil, &ConfigurationError{Reason: "manager member is nil"}
	}
	if len(descriptors) == 0 {
		return nil, &ConfigurationError{Reason: "no roles declared"}
	}

	r := &Registry{
		self:  self.ID(),
		roles: make(map[RoleName]*RoleEntry, len(descriptors)+1),
	}

	for i, d := range descriptors {
		switch {
		case d.Role == "":
			return nil, &ConfigurationError{Reason: fmt.Sprintf("role #%d has no name", i)}
		case d.Role == ManagerRole:
			return nil, &ConfigurationError{Reason: fmt.Sprintf("role name %q is reserved", ManagerRole)}
		case d.Factory == nil:
			return nil, &ConfigurationError{Reason: fmt.Sprintf("role %q has no factory", d.Role)}
		}
		if _, dup := r.roles[d.Role]; dup {
			return nil, &ConfigurationError{Reason: fmt.Sprintf("role %q declared twice", d.Role)}
		}
		r.roles[d.Role] = newRoleEntry(d.Local, d.Factory)
	}

	managers := newRoleEntry(true, nil)
	managers.Instances[r.self] = self
	managers.Managers[r.self] = r.self
	r.roles[ManagerRole] = managers

	r.order = make([]RoleName, 0, len(r.roles))
	for role := range r.roles {
		r.order = append(r.order, role)
	}
	sort.Slice(r.order, func(i, j int) bool { return r.order[i] < r.order[j] })

	return r, nil
}

// Self returns the id of the owning manager.
func (r *Registry) Self() ManagerID {
	return r.self
}

// Roles returns every registered role in sorted order.
func (r *Registry) Roles() []RoleName {
	out := make([]RoleName, len(r.order))
	copy(out, r.order)
	return out
}

// Entry returns the entry for role.
func (r *Registry) Entry(role RoleName) (*RoleEntry, bool) {
	e, ok := r.roles[role]
	return e, ok
}
