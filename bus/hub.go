package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/maxpert/muster/cfg"
	"github.com/maxpert/muster/encoding"
	"github.com/maxpert/muster/telemetry"
)

func init() {
	RegisterTransport(cfg.TransportMemory, func(_ cfg.TransportConfiguration, _ uint64, codec *encoding.Codec) (Bus, error) {
		return NewHub(WithCodec(codec)), nil
	})
}

// Hub is the in-process bus. Published messages join a FIFO queue that is
// drained on the publishing goroutine; a handler that publishes while a drain
// is in progress only enqueues, so every handler runs to completion before the
// next message is delivered.
type Hub struct {
	dispatcher *Dispatcher
	codec      *encoding.Codec

	mu       sync.Mutex
	queue    []Message
	draining bool
	closed   atomic.Bool
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithCodec makes the hub push every message through the wire framing, the
// same way NATS and Kafka do. Payloads that cannot be encoded fail at
// Publish, and subscribers never share memory with the publisher.
func WithCodec(codec *encoding.Codec) HubOption {
	return func(h *Hub) {
		h.codec = codec
	}
}

// NewHub creates an in-process bus.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{dispatcher: NewDispatcher()}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Subscribe registers handler for kind.
func (h *Hub) Subscribe(kind Kind, handler Handler) func() {
	return h.dispatcher.Subscribe(kind, handler)
}

// Publish enqueues msg and, unless another goroutine is already draining,
// delivers the queue before returning.
func (h *Hub) Publish(ctx context.Context, msg Message) error {
	if h.closed.Load() {
		return ErrClosed
	}

	if h.codec != nil {
		copied, err := h.roundtrip(msg)
		if err != nil {
			return err
		}
		msg = copied
	}

	telemetry.BusMessagesTotal.With(string(msg.Kind), "published").Inc()

	h.mu.Lock()
	h.queue = append(h.queue, msg)
	if h.draining {
		h.mu.Unlock()
		return nil
	}
	h.draining = true
	h.mu.Unlock()

	h.drain(context.WithoutCancel(ctx))
	return nil
}

func (h *Hub) roundtrip(msg Message) (Message, error) {
	frame, err := EncodeMessage(h.codec, msg)
	if err != nil {
		return Message{}, fmt.Errorf("failed to encode %s: %w", msg.Kind, err)
	}
	return DecodeMessage(h.codec, frame)
}

func (h *Hub) drain(ctx context.Context) {
	for {
		h.mu.Lock()
		if len(h.queue) == 0 || h.closed.Load() {
			h.queue = nil
			h.draining = false
			h.mu.Unlock()
			return
		}
		msg := h.queue[0]
		h.queue[0] = Message{}
		h.queue = h.queue[1:]
		h.mu.Unlock()

		h.dispatcher.Dispatch(ctx, msg)
	}
}

// Close stops delivery. Queued messages are dropped.
func (h *Hub) Close() error {
	if h.closed.Swap(true) {
		return nil
	}
	if h.codec != nil {
		h.codec.Close()
	}
	return nil
}
