// Package members holds the concrete member kinds a manager can create, and
// the table that binds configured roles to them.
package members

import (
	"context"
	"fmt"
	"sync"

	"github.com/maxpert/muster/bus"
	"github.com/maxpert/muster/membership"
	"github.com/rs/zerolog/log"
)

// Base is the part every member kind shares: identity, role and the attached
// transport. On its own it is the "noop" kind.
type Base struct {
	id membership.MemberID

	mu        sync.RWMutex
	role      membership.RoleName
	transport bus.Bus
}

// NewBase creates an unattached member.
func NewBase(id membership.MemberID) *Base {
	return &Base{id: id}
}

func (b *Base) ID() membership.MemberID {
	return b.id
}

func (b *Base) Role() membership.RoleName {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.role
}

func (b *Base) SetRole(role membership.RoleName) {
	b.mu.Lock()
	b.role = role
	b.mu.Unlock()
}

// Transport returns the attached bus, or nil.
func (b *Base) Transport() bus.Bus {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.transport
}

// SetTransport attaches the bus and announces the member as connected.
func (b *Base) SetTransport(t bus.Bus) error {
	if t == nil {
		return fmt.Errorf("member %s: transport is nil", b.id)
	}
	b.mu.Lock()
	b.transport = t
	b.mu.Unlock()

	return b.Announce(context.Background(), membership.StatusConnected)
}

// Announce publishes a status change for this member.
func (b *Base) Announce(ctx context.Context, status membership.Status) error {
	b.mu.RLock()
	t, role := b.transport, b.role
	b.mu.RUnlock()

	if t == nil {
		return fmt.Errorf("member %s: not attached", b.id)
	}
	return t.Publish(ctx, bus.Message{
		Kind: membership.KindStatusChanged,
		Body: membership.StatusChanged{State: status, Role: role, MemberID: b.id},
	})
}

// Reset announces the reset. Kinds with state embed Base and clear it first.
func (b *Base) Reset() {
	if err := b.Announce(context.Background(), membership.StatusReset); err != nil {
		log.Warn().Err(err).Str("member_id", string(b.id)).Msg("Failed to announce reset")
	}
}
