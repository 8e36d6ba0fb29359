// Package bus is the publish/subscribe transport shared by managers and
// members. Every implementation broadcasts: each published message reaches
// every subscriber of its kind on every node, including the publisher's own.
//
// Delivery is fire-and-forget and at-least-once. No ordering is promised
// across kinds, so handlers must tolerate stale and duplicate messages.
package bus

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/maxpert/muster/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
)

// ErrClosed is returned when publishing on a closed bus.
var ErrClosed = errors.New("bus: closed")

// Kind names a message type. It doubles as the NATS subject suffix and the
// Kafka message key.
type Kind string

// Message is one event on the bus. Body holds a value of the payload type
// registered for Kind (see RegisterPayload).
type Message struct {
	Kind Kind
	Body any
}

// Handler reacts to one message. A returned error aborts only that handler;
// the dispatcher logs it and moves on.
type Handler func(ctx context.Context, msg Message) error

// Bus is implemented by every transport.
type Bus interface {
	Publish(ctx context.Context, msg Message) error
	Subscribe(kind Kind, handler Handler) (cancel func())
	Close() error
}

type subscription struct {
	id      uint64
	handler Handler
}

// Dispatcher is the handler table keyed by message kind. Transports feed it
// every inbound message; it runs the matching handlers in subscription order
// on the caller's goroutine.
type Dispatcher struct {
	handlers *xsync.MapOf[Kind, []subscription]
	nextID   atomic.Uint64
}

// NewDispatcher creates an empty handler table.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{
		handlers: xsync.NewMapOf[Kind, []subscription](),
	}
}

// Subscribe registers handler for kind. The returned cancel func is idempotent.
func (d *Dispatcher) Subscribe(kind Kind, handler Handler) func() {
	sub := subscription{id: d.nextID.Add(1), handler: handler}

	// Copy on write so Dispatch can iterate a slice without locking.
	d.handlers.Compute(kind, func(old []subscription, _ bool) ([]subscription, bool) {
		next := make([]subscription, 0, len(old)+1)
		next = append(next, old...)
		return append(next, sub), false
	})

	return func() { d.unsubscribe(kind, sub.id) }
}

func (d *Dispatcher) unsubscribe(kind Kind, id uint64) {
	d.handlers.Compute(kind, func(old []subscription, loaded bool) ([]subscription, bool) {
		if !loaded {
			return nil, true
		}
		next := make([]subscription, 0, len(old))
		for _, sub := range old {
			if sub.id != id {
				next = append(next, sub)
			}
		}
		return next, len(next) == 0
	})
}

// Dispatch delivers msg to every handler subscribed to its kind and returns
// how many ran.
func (d *Dispatcher) Dispatch(ctx context.Context, msg Message) int {
	subs, ok := d.handlers.Load(msg.Kind)
	if !ok {
		return 0
	}

	telemetry.BusMessagesTotal.With(string(msg.Kind), "delivered").Inc()
	for _, sub := range subs {
		if err := sub.handler(ctx, msg); err != nil {
			telemetry.BusHandlerErrorsTotal.With(string(msg.Kind)).Inc()
			log.Warn().
				Err(err).
				Str("kind", string(msg.Kind)).
				Msg("Bus handler failed")
		}
	}
	return len(subs)
}
