package id

import (
	"strconv"

	"github.com/maxpert/muster/hlc"
)

// Generator hands out member ids that are unique across the cluster.
type Generator interface {
	NextID() string
}

// HLCGenerator derives ids from a Hybrid Logical Clock. The full node id is
// kept as a prefix because the packed clock id only carries its low bits.
// Safe for concurrent use via the clock's mutex.
type HLCGenerator struct {
	clock  *hlc.Clock
	prefix string
}

// NewHLCGenerator creates a generator for nodeID backed by clock.
func NewHLCGenerator(nodeID uint64, clock *hlc.Clock) *HLCGenerator {
	return &HLCGenerator{
		clock:  clock,
		prefix: strconv.FormatUint(nodeID, 16) + "-",
	}
}

// NextID returns "<node hex>-<clock id hex>".
func (g *HLCGenerator) NextID() string {
	return g.prefix + strconv.FormatUint(g.clock.Now().ToID(), 16)
}
