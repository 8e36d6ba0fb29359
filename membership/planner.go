package membership

import "sort"

// Plan returns the creation tasks still required by role policy.
//
// A singleton role is satisfied as soon as any member has reported a status;
// until then self volunteers. Two managers may volunteer for the same
// singleton in the same round. A local role needs an owner for every manager
// that has reported a status.
func Plan(self ManagerID, reg *Registry) []CreationTask {
	var tasks []CreationTask

	peers := knownManagers(reg)
	for _, role := range reg.order {
		if role == ManagerRole {
			continue
		}
		entry := reg.roles[role]

		if !entry.Local {
			if len(entry.Statuses) == 0 {
				tasks = append(tasks, CreationTask{Manager: self, Role: role})
			}
			continue
		}

		owners := make(map[ManagerID]struct{}, len(entry.Managers))
		for _, owner := range entry.Managers {
			owners[owner] = struct{}{}
		}
		for _, peer := range peers {
			if _, ok := owners[peer]; !ok {
				tasks = append(tasks, CreationTask{Manager: peer, Role: role})
			}
		}
	}
	return tasks
}

func knownManagers(reg *Registry) []ManagerID {
	entry := reg.roles[ManagerRole]
	peers := make([]ManagerID, 0, len(entry.Statuses))
	for id := range entry.Statuses {
		peers = append(peers, id)
	}
	sort.Slice(peers, func(i, j int) bool { return peers[i] < peers[j] })
	return peers
}
