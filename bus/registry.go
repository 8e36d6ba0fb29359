package bus

import (
	"fmt"
	"sync"

	"github.com/maxpert/muster/cfg"
	"github.com/maxpert/muster/encoding"
	"github.com/rs/zerolog/log"
)

// TransportFactory builds a Bus from configuration. The bus owns codec and
// closes it with itself.
type TransportFactory func(config cfg.TransportConfiguration, nodeID uint64, codec *encoding.Codec) (Bus, error)

var (
	transportFactories = make(map[cfg.TransportType]TransportFactory)
	factoryMu          sync.RWMutex
)

// RegisterTransport registers a transport factory for a type
func RegisterTransport(transportType cfg.TransportType, factory TransportFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transportFactories[transportType] = factory
}

// Open creates the bus described by config.
func Open(config cfg.TransportConfiguration, nodeID uint64) (Bus, error) {
	factoryMu.RLock()
	factory, exists := transportFactories[config.Type]
	factoryMu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("unknown transport type: %s", config.Type)
	}

	codec, err := encoding.NewCodec(config.Compression, config.CompressionLevel)
	if err != nil {
		return nil, err
	}

	b, err := factory(config, nodeID, codec)
	if err != nil {
		codec.Close()
		return nil, fmt.Errorf("failed to open %s transport: %w", config.Type, err)
	}

	log.Info().
		Str("type", string(config.Type)).
		Str("prefix", config.SubjectPrefix).
		Bool("compressed", codec.Compressed()).
		Msg("Transport opened")
	return b, nil
}
