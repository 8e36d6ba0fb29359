// Package membership is the role-based membership coordinator. Every manager
// keeps a per-role view of which members exist, who owns them and what they
// last reported, gossips that view to its peers, and asks for members to be
// created wherever a role's policy is not yet satisfied.
package membership

import "github.com/maxpert/muster/bus"

// RoleName names a category of members.
type RoleName string

// MemberID identifies a member cluster-wide.
type MemberID string

// ManagerID is the MemberID of a manager.
type ManagerID = MemberID

// Status is the last state a member reported about itself.
type Status string

const (
	// ManagerRole is the implicit role every manager belongs to.
	ManagerRole RoleName = "Manager"
	// ClockRole is the role whose member drives snapshot broadcasts.
	ClockRole RoleName = "Ticker"
)

const (
	StatusConnected Status = "connected"
	StatusReset     Status = "reset"
)

// Member is a unit created under a role and owned by exactly one manager.
type Member interface {
	ID() MemberID
	SetRole(role RoleName)
	// SetTransport attaches the shared bus. Members typically announce their
	// status from here.
	SetTransport(b bus.Bus) error
}

// Resettable members return to their initial state on Manager.Reset.
type Resettable interface {
	Reset()
}

// LifecycleState of a manager. It only ever moves forward.
type LifecycleState int32

const (
	Initialized LifecycleState = iota
	Ready
)

func (s LifecycleState) String() string {
	switch s {
	case Initialized:
		return "initialized"
	case Ready:
		return "ready"
	default:
		return "unknown"
	}
}
