package membership

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/maxpert/muster/bus"
)

type fakeMember struct {
	id        MemberID
	role      RoleName
	transport bus.Bus
	resets    int
}

func (f *fakeMember) ID() MemberID          { return f.id }
func (f *fakeMember) SetRole(role RoleName) { f.role = role }

func (f *fakeMember) SetTransport(b bus.Bus) error {
	f.transport = b
	return b.Publish(context.Background(), bus.Message{
		Kind: KindStatusChanged,
		Body: StatusChanged{State: StatusConnected, Role: f.role, MemberID: f.id},
	})
}

var errAttach = errors.New("attach failed")

// brokenMember cannot be attached and announces nothing.
type brokenMember struct {
	fakeMember
}

func (*brokenMember) SetTransport(bus.Bus) error { return errAttach }

type resettableMember struct {
	fakeMember
}

func (r *resettableMember) Reset() { r.resets++ }

// factoryRecorder hands out members with predictable ids and keeps them.
type factoryRecorder struct {
	prefix    string
	seq       atomic.Int32
	resetable bool
	broken    int32 // the first broken members fail to attach
	created   []Member
}

func (f *factoryRecorder) factory() Factory {
	return func() Member {
		n := f.seq.Add(1)
		id := MemberID(fmt.Sprintf("%s-%d", f.prefix, n))
		var m Member
		switch {
		case n <= f.broken:
			m = &brokenMember{fakeMember{id: id}}
		case f.resetable:
			m = &resettableMember{fakeMember{id: id}}
		default:
			m = &fakeMember{id: id}
		}
		f.created = append(f.created, m)
		return m
	}
}

func staticFactory(id MemberID) Factory {
	return func() Member { return &fakeMember{id: id} }
}

type selfMember MemberID

func (s selfMember) ID() MemberID             { return MemberID(s) }
func (selfMember) SetRole(RoleName)           {}
func (selfMember) SetTransport(bus.Bus) error { return nil }

// counter counts messages of one kind on a bus.
func counter(b bus.Bus, kind bus.Kind) *atomic.Int32 {
	n := &atomic.Int32{}
	b.Subscribe(kind, func(context.Context, bus.Message) error {
		n.Add(1)
		return nil
	})
	return n
}
