package main

import "sort"

// OwnershipConflict is a member that hosts attribute to different managers.
type OwnershipConflict struct {
	Role   string
	Member string
	Owners map[string]string // host -> owner
}

// VerifyResult holds verification results.
type VerifyResult struct {
	Hosts        []string
	Managers     map[string]string // host -> manager id
	Lifecycle    map[string]string // host -> lifecycle
	NotReady     []string
	KnownMembers int
	Conflicts    []OwnershipConflict
}

// Consistent reports whether every planning manager is ready and no two
// hosts disagree about an owner. Assistants never become ready and are not
// counted.
func (r *VerifyResult) Consistent() bool {
	return len(r.NotReady) == 0 && len(r.Conflicts) == 0
}

// Verify compares the states reported by each host.
func Verify(states map[string]HostState) *VerifyResult {
	result := &VerifyResult{
		Managers:  make(map[string]string, len(states)),
		Lifecycle: make(map[string]string, len(states)),
	}

	for host := range states {
		result.Hosts = append(result.Hosts, host)
	}
	sort.Strings(result.Hosts)

	type key struct{ role, member string }
	owners := make(map[key]map[string]string)

	for _, host := range result.Hosts {
		state := states[host]
		result.Managers[host] = state.ID
		result.Lifecycle[host] = state.Lifecycle
		if !state.Assistant && state.Lifecycle != "ready" {
			result.NotReady = append(result.NotReady, host)
		}

		for role, view := range state.Roles {
			for member, owner := range view.Managers {
				k := key{role, member}
				if owners[k] == nil {
					owners[k] = make(map[string]string)
				}
				owners[k][host] = owner
			}
		}
	}

	result.KnownMembers = len(owners)
	for k, byHost := range owners {
		seen := ""
		for _, owner := range byHost {
			if seen == "" {
				seen = owner
				continue
			}
			if owner != seen {
				result.Conflicts = append(result.Conflicts, OwnershipConflict{Role: k.role, Member: k.member, Owners: byHost})
				break
			}
		}
	}
	sort.Slice(result.Conflicts, func(i, j int) bool {
		if result.Conflicts[i].Role != result.Conflicts[j].Role {
			return result.Conflicts[i].Role < result.Conflicts[j].Role
		}
		return result.Conflicts[i].Member < result.Conflicts[j].Member
	})

	return result
}
