package hlc

import (
	"sync"
	"time"
)

// Clock is a Hybrid Logical Clock. Ticks and snapshots are stamped with it so
// every manager observes a causally consistent order of gossip rounds.
type Clock struct {
	nodeID   uint64
	wallTime int64
	logical  int32
	lastMS   int64
	now      func() time.Time
	mu       sync.Mutex
}

// Timestamp is a single reading of a Clock.
type Timestamp struct {
	WallTime int64  `msgpack:"w" json:"wall_time"`
	Logical  int32  `msgpack:"l" json:"logical"`
	NodeID   uint64 `msgpack:"n" json:"node_id"`
}

// NewClock creates a clock for the given node.
func NewClock(nodeID uint64) *Clock {
	return newClockWithSource(nodeID, time.Now)
}

func newClockWithSource(nodeID uint64, now func() time.Time) *Clock {
	wall := now().UnixNano()
	return &Clock{
		nodeID:   nodeID,
		wallTime: wall,
		lastMS:   wall / int64(time.Millisecond),
		now:      now,
	}
}

// Now returns a timestamp for a local event.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance(0, 0)
	return c.stamp()
}

// Update folds a remote reading into the clock and returns a timestamp that
// is after both the remote reading and every earlier local one.
func (c *Clock) Update(remote Timestamp) Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.advance(remote.WallTime, remote.Logical)
	return c.stamp()
}

// advance moves the clock past physical time, the last local reading and the
// remote reading. Within one millisecond the logical counter strictly grows so
// ToID never repeats for a node.
func (c *Clock) advance(remoteWall int64, remoteLogical int32) {
	physical := c.now().UnixNano()
	wall := max(c.wallTime, remoteWall, physical)
	ms := wall / int64(time.Millisecond)

	next := int32(1)
	if ms == c.lastMS {
		next = c.logical + 1
	}
	if wall == remoteWall && remoteLogical >= next {
		next = remoteLogical + 1
	}

	// Logical space for this millisecond is exhausted, borrow the next one.
	if next >= MaxLogical {
		ms++
		wall = ms * int64(time.Millisecond)
		next = 1
	}

	c.wallTime = wall
	c.lastMS = ms
	c.logical = next
}

func (c *Clock) stamp() Timestamp {
	return Timestamp{
		WallTime: c.wallTime,
		Logical:  c.logical,
		NodeID:   c.nodeID,
	}
}

// Compare returns -1, 0 or 1 when a is before, equal to or after b.
// Node id breaks ties between equal wall and logical readings.
func Compare(a, b Timestamp) int {
	switch {
	case a.WallTime != b.WallTime:
		return cmpInt(a.WallTime, b.WallTime)
	case a.Logical != b.Logical:
		return cmpInt(int64(a.Logical), int64(b.Logical))
	case a.NodeID < b.NodeID:
		return -1
	case a.NodeID > b.NodeID:
		return 1
	}
	return 0
}

func cmpInt(a, b int64) int {
	if a < b {
		return -1
	}
	return 1
}

// Less reports whether a happened before b.
func Less(a, b Timestamp) bool {
	return Compare(a, b) < 0
}

// After reports whether a happened after b.
func After(a, b Timestamp) bool {
	return Compare(a, b) > 0
}

// IsZero reports whether t was never set.
func (t Timestamp) IsZero() bool {
	return t.WallTime == 0 && t.Logical == 0
}

// PhysicalTime returns the wall component as time.Time.
func (t Timestamp) PhysicalTime() time.Time {
	return time.Unix(0, t.WallTime)
}

func (t Timestamp) String() string {
	return t.PhysicalTime().Format(time.RFC3339Nano)
}

// Bit layout used by ToID:
//
//	42 bits wall time in milliseconds | 6 bits node id | 16 bits logical
const (
	LogicalBits    = 16
	LogicalMask    = (1 << LogicalBits) - 1
	NodeIDBits     = 6
	NodeIDMask     = (1 << NodeIDBits) - 1
	TotalShiftBits = NodeIDBits + LogicalBits

	// MaxLogical bounds the logical counter so it fits LogicalBits.
	MaxLogical = LogicalMask
)

// ToID packs the timestamp into a 64-bit id that is unique per node and
// roughly ordered by time.
func (t Timestamp) ToID() uint64 {
	ms := uint64(t.WallTime / int64(time.Millisecond))
	node := t.NodeID & NodeIDMask
	logical := uint64(t.Logical) & LogicalMask
	return (ms << TotalShiftBits) | (node << LogicalBits) | logical
}
