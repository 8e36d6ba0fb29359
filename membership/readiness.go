package membership

// readiness moves from Initialized to Ready the first time a planning pass
// comes back empty, and never moves again.
type readiness struct {
	state LifecycleState
}

// observe records the outcome of a planning pass and reports whether this
// pass made the manager ready.
func (r *readiness) observe(pending int) bool {
	if pending > 0 || r.state == Ready {
		return false
	}
	r.state = Ready
	return true
}
