package bus

import (
	"context"
	"fmt"
	"time"

	"github.com/maxpert/muster/cfg"
	"github.com/maxpert/muster/encoding"
	"github.com/maxpert/muster/telemetry"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

func init() {
	RegisterTransport(cfg.TransportNATS, func(config cfg.TransportConfiguration, _ uint64, codec *encoding.Codec) (Bus, error) {
		if config.NatsURL == "" {
			return nil, fmt.Errorf("nats transport requires nats_url")
		}
		return NewNATSBus(config.NatsURL, config.SubjectPrefix, codec)
	})
}

// NATSBus maps each kind to the subject "<prefix>.<kind>" on core NATS.
// A single wildcard subscription receives everything, so inbound messages are
// dispatched one at a time on the subscription's goroutine.
type NATSBus struct {
	nc         *nats.Conn
	sub        *nats.Subscription
	prefix     string
	codec      *encoding.Codec
	dispatcher *Dispatcher
}

// NewNATSBus connects to url and subscribes to "<prefix>.>".
func NewNATSBus(url, prefix string, codec *encoding.Codec) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("muster"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("NATS reconnected")
		}),
		// Drain delivers in the background, the codec must outlive it.
		nats.ClosedHandler(func(*nats.Conn) {
			codec.Close()
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	b := &NATSBus{
		nc:         nc,
		prefix:     prefix,
		codec:      codec,
		dispatcher: NewDispatcher(),
	}

	sub, err := nc.Subscribe(prefix+".>", b.onMessage)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to subscribe to %s.>: %w", prefix, err)
	}
	b.sub = sub

	return b, nil
}

func (b *NATSBus) subject(kind Kind) string {
	return b.prefix + "." + string(kind)
}

func (b *NATSBus) onMessage(m *nats.Msg) {
	msg, err := DecodeMessage(b.codec, m.Data)
	if err != nil {
		telemetry.BusDecodeErrorsTotal.Inc()
		log.Warn().Err(err).Str("subject", m.Subject).Msg("Dropping undecodable NATS message")
		return
	}
	b.dispatcher.Dispatch(context.Background(), msg)
}

// Subscribe registers handler for kind.
func (b *NATSBus) Subscribe(kind Kind, handler Handler) func() {
	return b.dispatcher.Subscribe(kind, handler)
}

// Publish sends msg to its subject. Core NATS publish is fire-and-forget.
func (b *NATSBus) Publish(_ context.Context, msg Message) error {
	if b.nc.IsClosed() {
		return ErrClosed
	}

	frame, err := EncodeMessage(b.codec, msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Kind, err)
	}

	if err := b.nc.Publish(b.subject(msg.Kind), frame); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", b.subject(msg.Kind), err)
	}
	telemetry.BusMessagesTotal.With(string(msg.Kind), "published").Inc()
	return nil
}

// Close unsubscribes and drains the connection.
func (b *NATSBus) Close() error {
	if b.nc.IsClosed() {
		return nil
	}
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	return b.nc.Drain()
}
