package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/maxpert/muster/cfg"
	"github.com/maxpert/muster/encoding"
	"github.com/maxpert/muster/telemetry"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultKafkaBatchTimeout = 10 * time.Millisecond
	DefaultKafkaMaxBytes     = 10 << 20 // 10MB
	kafkaRetryBackoff        = 500 * time.Millisecond

	// DefaultKafkaReplayGrace admits messages stamped slightly before the bus
	// opened, covering clock skew between producers.
	DefaultKafkaReplayGrace = 5 * time.Second
)

func init() {
	RegisterTransport(cfg.TransportKafka, func(config cfg.TransportConfiguration, nodeID uint64, codec *encoding.Codec) (Bus, error) {
		return NewKafkaBus(KafkaConfig{
			Brokers: config.Brokers,
			Topic:   config.SubjectPrefix,
			GroupID: config.SubjectPrefix + "-" + strconv.FormatUint(nodeID, 16),
			Codec:   codec,
		})
	})
}

// KafkaConfig holds configuration for KafkaBus
type KafkaConfig struct {
	Brokers []string // Kafka broker addresses
	Topic   string   // One topic carries every kind, the kind is the message key
	GroupID string   // Must be unique per node so every node reads every message
	Codec   *encoding.Codec

	// ReplayGrace is how far before opening the bus a message may be stamped
	// and still be delivered. Defaults to DefaultKafkaReplayGrace.
	ReplayGrace time.Duration
}

// KafkaBus broadcasts through one Kafka topic. Each node consumes with its own
// consumer group, which turns the topic into a fan-out medium. A new group
// reads from the oldest offset so nothing published while it is still joining
// is lost; messages stamped before the bus opened (less the replay grace) are
// skipped.
type KafkaBus struct {
	writer     *kafka.Writer
	reader     *kafka.Reader
	codec      *encoding.Codec
	dispatcher *Dispatcher
	since      time.Time
	cancel     context.CancelFunc
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

// NewKafkaBus creates the writer and starts the read loop.
func NewKafkaBus(config KafkaConfig) (*KafkaBus, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka transport requires at least one broker address")
	}
	if config.Topic == "" || config.GroupID == "" {
		return nil, fmt.Errorf("kafka transport requires a topic and a group id")
	}
	if config.Codec == nil {
		return nil, fmt.Errorf("kafka transport requires a codec")
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(config.Brokers...),
		Topic:                  config.Topic,
		Balancer:               &kafka.Hash{}, // Same kind, same partition
		BatchTimeout:           DefaultKafkaBatchTimeout,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     config.Brokers,
		Topic:       config.Topic,
		GroupID:     config.GroupID,
		MinBytes:    1,
		MaxBytes:    DefaultKafkaMaxBytes,
		StartOffset: kafka.FirstOffset,
	})

	grace := config.ReplayGrace
	if grace <= 0 {
		grace = DefaultKafkaReplayGrace
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &KafkaBus{
		writer:     writer,
		reader:     reader,
		codec:      config.Codec,
		dispatcher: NewDispatcher(),
		since:      time.Now().Add(-grace),
		cancel:     cancel,
	}

	b.wg.Add(1)
	go b.readLoop(ctx)

	return b, nil
}

func (b *KafkaBus) readLoop(ctx context.Context) {
	defer b.wg.Done()

	for {
		m, err := b.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				return
			}
			log.Warn().Err(err).Msg("Kafka read failed, retrying")
			select {
			case <-time.After(kafkaRetryBackoff):
				continue
			case <-ctx.Done():
				return
			}
		}

		if b.stale(m) {
			continue
		}

		msg, err := DecodeMessage(b.codec, m.Value)
		if err != nil {
			telemetry.BusDecodeErrorsTotal.Inc()
			log.Warn().
				Err(err).
				Int("partition", m.Partition).
				Int64("offset", m.Offset).
				Msg("Dropping undecodable Kafka message")
			continue
		}
		b.dispatcher.Dispatch(ctx, msg)
	}
}

// stale reports whether m predates this bus. Messages without a timestamp
// are delivered.
func (b *KafkaBus) stale(m kafka.Message) bool {
	return !m.Time.IsZero() && m.Time.Before(b.since)
}

// Subscribe registers handler for kind.
func (b *KafkaBus) Subscribe(kind Kind, handler Handler) func() {
	return b.dispatcher.Subscribe(kind, handler)
}

// Publish writes msg keyed by its kind.
func (b *KafkaBus) Publish(ctx context.Context, msg Message) error {
	frame, err := EncodeMessage(b.codec, msg)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", msg.Kind, err)
	}

	err = b.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Kind),
		Value: frame,
	})
	if err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrClosed
		}
		return fmt.Errorf("failed to publish %s: %w", msg.Kind, err)
	}
	telemetry.BusMessagesTotal.With(string(msg.Kind), "published").Inc()
	return nil
}

// Close stops the read loop and flushes the writer.
func (b *KafkaBus) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.cancel()
		err = errors.Join(b.reader.Close(), b.writer.Close())
		b.wg.Wait()
		b.codec.Close()
	})
	return err
}
