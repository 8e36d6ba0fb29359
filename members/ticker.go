package members

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/muster/bus"
	"github.com/maxpert/muster/hlc"
	"github.com/maxpert/muster/membership"
	"github.com/rs/zerolog/log"
)

// DefaultTickInterval is used when a ticker is built without an interval.
const DefaultTickInterval = time.Second

// Ticker is the clock member. After a ClockStart it publishes a ClockTick,
// stamped by the hybrid logical clock, every interval. Reset stops it until
// the next ClockStart.
type Ticker struct {
	*Base
	clock    *hlc.Clock
	interval time.Duration

	lifecycleMu sync.Mutex
	running     atomic.Bool
	stopCh      chan struct{}
	doneCh      chan struct{}
	unsubscribe func()
	ticks       atomic.Uint64
}

// NewTicker creates a stopped ticker.
func NewTicker(id membership.MemberID, clock *hlc.Clock, interval time.Duration) *Ticker {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if clock == nil {
		clock = hlc.NewClock(0)
	}
	return &Ticker{
		Base:     NewBase(id),
		clock:    clock,
		interval: interval,
	}
}

// SetTransport attaches the bus, announces the ticker and waits for ClockStart.
func (t *Ticker) SetTransport(b bus.Bus) error {
	if err := t.Base.SetTransport(b); err != nil {
		return err
	}

	t.lifecycleMu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
	}
	t.unsubscribe = b.Subscribe(membership.KindClockStart, func(context.Context, bus.Message) error {
		t.Start()
		return nil
	})
	t.lifecycleMu.Unlock()
	return nil
}

// Start begins ticking. Starting a running ticker does nothing.
func (t *Ticker) Start() {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()

	if t.running.Load() {
		return
	}

	t.running.Store(true)
	t.stopCh = make(chan struct{})
	t.doneCh = make(chan struct{})

	log.Info().
		Str("member_id", string(t.ID())).
		Dur("interval", t.interval).
		Msg("Clock started")

	go t.tickLoop(t.stopCh, t.doneCh)
}

// Stop halts ticking and waits for the loop to exit. The lock is released
// before waiting, since the loop may be delivering a ClockStart to Start.
func (t *Ticker) Stop() {
	t.lifecycleMu.Lock()
	if !t.running.Load() {
		t.lifecycleMu.Unlock()
		return
	}
	stopCh, doneCh := t.stopCh, t.doneCh
	t.running.Store(false)
	close(stopCh)
	t.lifecycleMu.Unlock()

	<-doneCh
	log.Info().Str("member_id", string(t.ID())).Msg("Clock stopped")
}

// Close stops the ticker and drops its ClockStart subscription.
func (t *Ticker) Close() {
	t.Stop()

	t.lifecycleMu.Lock()
	if t.unsubscribe != nil {
		t.unsubscribe()
		t.unsubscribe = nil
	}
	t.lifecycleMu.Unlock()
}

// Reset stops the clock and announces the reset.
func (t *Ticker) Reset() {
	t.Stop()
	t.ticks.Store(0)
	t.Base.Reset()
}

// Running reports whether the clock is ticking.
func (t *Ticker) Running() bool {
	return t.running.Load()
}

// Ticks returns how many ticks were published since the last reset.
func (t *Ticker) Ticks() uint64 {
	return t.ticks.Load()
}

func (t *Ticker) tickLoop(stopCh <-chan struct{}, doneCh chan<- struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			t.tick()
		}
	}
}

func (t *Ticker) tick() {
	b := t.Transport()
	if b == nil {
		return
	}

	err := b.Publish(context.Background(), bus.Message{
		Kind: membership.KindClockTick,
		Body: membership.ClockTick{Time: t.clock.Now()},
	})
	if err != nil {
		log.Warn().Err(err).Str("member_id", string(t.ID())).Msg("Failed to publish clock tick")
		return
	}
	t.ticks.Add(1)
}
