package membership

import (
	"github.com/maxpert/muster/bus"
	"github.com/maxpert/muster/hlc"
)

// Message kinds exchanged between managers and members.
const (
	KindStatusChanged     bus.Kind = "status.changed"
	KindSnapshot          bus.Kind = "members.snapshot"
	KindCreationRequested bus.Kind = "member.create"
	KindClockTick         bus.Kind = "clock.tick"
	KindClockStart        bus.Kind = "clock.start"
	KindReady             bus.Kind = "members.ready"
)

// StatusChanged is published by a member whenever its state changes.
type StatusChanged struct {
	State    Status   `msgpack:"state" json:"state"`
	Role     RoleName `msgpack:"role" json:"role"`
	MemberID MemberID `msgpack:"member_id" json:"member_id"`
}

// RoleView is the transmitted part of a RoleEntry.
type RoleView struct {
	Managers map[MemberID]ManagerID `msgpack:"managers" json:"managers"`
	Statuses map[MemberID]Status    `msgpack:"statuses" json:"statuses"`
}

// Snapshot is a manager's membership view, broadcast every tick.
type Snapshot struct {
	Source ManagerID             `msgpack:"source" json:"source"`
	Time   hlc.Timestamp         `msgpack:"time" json:"time"`
	Roles  map[RoleName]RoleView `msgpack:"roles" json:"roles"`
}

// CreationTask is outstanding instantiation work for one manager.
type CreationTask struct {
	Manager ManagerID `msgpack:"manager" json:"manager"`
	Role    RoleName  `msgpack:"role" json:"role"`
}

// CreationRequested carries a CreationTask over the bus.
type CreationRequested = CreationTask

// ClockTick is published by the clock member every interval.
type ClockTick struct {
	Time hlc.Timestamp `msgpack:"time" json:"time"`
}

// ClockStart tells clock members to begin ticking.
type ClockStart struct{}

// ReadySignal is published once per manager lifetime when every role is
// satisfied.
type ReadySignal struct{}

func init() {
	bus.RegisterPayload[StatusChanged](KindStatusChanged)
	bus.RegisterPayload[Snapshot](KindSnapshot)
	bus.RegisterPayload[CreationRequested](KindCreationRequested)
	bus.RegisterPayload[ClockTick](KindClockTick)
	bus.RegisterPayload[ClockStart](KindClockStart)
	bus.RegisterPayload[ReadySignal](KindReady)
}
