package cfg

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/cespare/xxhash/v2"
	"github.com/denisbrodbeck/machineid"
	"github.com/rs/zerolog/log"
)

// TransportType selects the event bus implementation
type TransportType string

const (
	TransportMemory TransportType = "memory" // In-process hub, single binary
	TransportNATS   TransportType = "nats"   // Core NATS subjects
	TransportKafka  TransportType = "kafka"  // Single Kafka topic, per-manager consumer group
)

// ReservedRoleName is the role every manager registers itself under
const ReservedRoleName = "Manager"

// TransportConfiguration controls how managers reach each other
type TransportConfiguration struct {
	Type             TransportType `toml:"type"`
	SubjectPrefix    string        `toml:"subject_prefix"` // NATS subject prefix / Kafka topic
	NatsURL          string        `toml:"nats_url"`
	Brokers          []string      `toml:"brokers"`
	Compression      string        `toml:"compression"`       // "none" or "zstd"
	CompressionLevel string        `toml:"compression_level"` // zstd level name, e.g. "fastest"
}

// ClockConfiguration controls the ticker member
type ClockConfiguration struct {
	TickIntervalMS int `toml:"tick_interval_ms"`
}

// RoleConfiguration declares one role the manager knows about
type RoleConfiguration struct {
	Name  string `toml:"name"`
	Kind  string `toml:"kind"`  // Member implementation, see members.RegisterKind
	Local bool   `toml:"local"` // true: one per manager, false: one per cluster
}

// SnapshotConfiguration controls gossip snapshot handling
type SnapshotConfiguration struct {
	DedupCacheSize int `toml:"dedup_cache_size"` // Sources remembered for duplicate detection, 0 disables
}

// AdminConfiguration for the HTTP admin API and /metrics
type AdminConfiguration struct {
	Enabled     bool   `toml:"enabled"`
	BindAddress string `toml:"bind_address"`
	Port        int    `toml:"port"`
}

// LoggingConfiguration controls logging behavior
type LoggingConfiguration struct {
	Verbose bool   `toml:"verbose"`
	Format  string `toml:"format"` // "console" or "json"
}

// PrometheusConfiguration for metrics
type PrometheusConfiguration struct {
	Enabled bool `toml:"enabled"`
}

// Configuration is the main configuration structure
type Configuration struct {
	NodeID    uint64 `toml:"node_id"`
	Assistant bool   `toml:"assistant"`

	Transport  TransportConfiguration  `toml:"transport"`
	Clock      ClockConfiguration      `toml:"clock"`
	Roles      []RoleConfiguration     `toml:"roles"`
	Snapshot   SnapshotConfiguration   `toml:"snapshot"`
	Admin      AdminConfiguration      `toml:"admin"`
	Logging    LoggingConfiguration    `toml:"logging"`
	Prometheus PrometheusConfiguration `toml:"prometheus"`
}

// Command line flags
var (
	ConfigPathFlag = flag.String("config", "config.toml", "Path to configuration file")
	NodeIDFlag     = flag.Uint64("node-id", 0, "Node ID (overrides config, 0=auto)")
	AssistantFlag  = flag.Bool("assistant", false, "Start as a passive assistant that never plans")
	NatsURLFlag    = flag.String("nats-url", "", "NATS URL (overrides config)")
	AdminPortFlag  = flag.Int("admin-port", 0, "Admin HTTP port (overrides config)")
)

// Default configuration
var Config = DefaultConfiguration()

// DefaultConfiguration returns a single-node setup on the in-process bus
func DefaultConfiguration() *Configuration {
	return &Configuration{
		NodeID: 0, // Auto-generate

		Transport: TransportConfiguration{
			Type:          TransportMemory,
			SubjectPrefix: "muster",
			Compression:   "none",
		},

		Clock: ClockConfiguration{
			TickIntervalMS: 1000,
		},

		Roles: []RoleConfiguration{
			{Name: "Ticker", Kind: "ticker", Local: true},
		},

		Snapshot: SnapshotConfiguration{
			DedupCacheSize: 256,
		},

		Admin: AdminConfiguration{
			Enabled:     true,
			BindAddress: "0.0.0.0",
			Port:        8090,
		},

		Logging: LoggingConfiguration{
			Verbose: false,
			Format:  "console",
		},

		Prometheus: PrometheusConfiguration{
			Enabled: true,
		},
	}
}

// Load loads configuration from file and applies CLI overrides
func Load(configPath string) error {
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			log.Info().Str("path", configPath).Msg("Loading configuration")
			meta, err := toml.DecodeFile(configPath, Config)
			if err != nil {
				return fmt.Errorf("failed to decode config: %w", err)
			}
			if undecoded := meta.Undecoded(); len(undecoded) > 0 {
				log.Warn().Str("keys", fmt.Sprint(undecoded)).Msg("Unknown configuration keys ignored")
			}
		} else {
			log.Warn().Str("path", configPath).Msg("Config file not found, using defaults")
		}
	}

	if *NodeIDFlag != 0 {
		Config.NodeID = *NodeIDFlag
	}
	if *AssistantFlag {
		Config.Assistant = true
	}
	if *NatsURLFlag != "" {
		Config.Transport.Type = TransportNATS
		Config.Transport.NatsURL = *NatsURLFlag
	}
	if *AdminPortFlag != 0 {
		Config.Admin.Port = *AdminPortFlag
	}

	if Config.NodeID == 0 {
		var err error
		Config.NodeID, err = generateNodeID()
		if err != nil {
			return fmt.Errorf("failed to generate node ID: %w", err)
		}
		log.Info().Uint64("node_id", Config.NodeID).Msg("Auto-generated node ID")
	}

	return nil
}

// generateNodeID derives a stable node ID from the machine ID
func generateNodeID() (uint64, error) {
	id, err := machineid.ProtectedID("muster")
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64String(id), nil
}

// Validate checks configuration for errors
func Validate() error {
	switch Config.Transport.Type {
	case TransportMemory:
	case TransportNATS:
		if Config.Transport.NatsURL == "" {
			return fmt.Errorf("nats transport requires nats_url")
		}
	case TransportKafka:
		if len(Config.Transport.Brokers) == 0 {
			return fmt.Errorf("kafka transport requires at least one broker")
		}
	default:
		return fmt.Errorf("invalid transport type: %q", Config.Transport.Type)
	}

	if strings.TrimSpace(Config.Transport.SubjectPrefix) == "" {
		return fmt.Errorf("transport subject prefix must not be empty")
	}

	switch Config.Transport.Compression {
	case "", "none", "zstd":
	default:
		return fmt.Errorf("invalid compression: %q", Config.Transport.Compression)
	}

	if Config.Clock.TickIntervalMS < 1 {
		return fmt.Errorf("clock tick interval must be >= 1ms")
	}

	if Config.Snapshot.DedupCacheSize < 0 {
		return fmt.Errorf("snapshot dedup cache size must be >= 0")
	}

	if Config.Admin.Enabled && (Config.Admin.Port < 1 || Config.Admin.Port > 65535) {
		return fmt.Errorf("invalid admin port: %d", Config.Admin.Port)
	}

	if len(Config.Roles) == 0 {
		return fmt.Errorf("at least one role must be configured")
	}

	seen := make(map[string]bool, len(Config.Roles))
	for i, role := range Config.Roles {
		name := strings.TrimSpace(role.Name)
		if name == "" {
			return fmt.Errorf("role %d has no name", i)
		}
		if name == ReservedRoleName {
			return fmt.Errorf("role name %q is reserved", name)
		}
		if seen[name] {
			return fmt.Errorf("duplicate role %q", name)
		}
		if strings.TrimSpace(role.Kind) == "" {
			return fmt.Errorf("role %q has no kind", name)
		}
		seen[name] = true
	}

	return nil
}
