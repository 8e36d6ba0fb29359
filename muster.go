package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/maxpert/muster/admin"
	"github.com/maxpert/muster/bus"
	"github.com/maxpert/muster/cfg"
	"github.com/maxpert/muster/hlc"
	"github.com/maxpert/muster/id"
	"github.com/maxpert/muster/members"
	"github.com/maxpert/muster/membership"
	"github.com/maxpert/muster/telemetry"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const statsInterval = 10 * time.Second

func main() {
	flag.Parse()

	// Load configuration
	err := cfg.Load(*cfg.ConfigPathFlag)
	if err != nil {
		panic(err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Uint64("node_id", cfg.Config.NodeID).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("Muster - role-based membership coordinator")
	log.Debug().Msg("Initializing telemetry")
	telemetry.InitializeTelemetry()

	clock := hlc.NewClock(cfg.Config.NodeID)
	manager, err := newManager(clock)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create manager")
		return
	}

	transport, err := bus.Open(cfg.Config.Transport, cfg.Config.NodeID)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open transport")
		return
	}
	defer transport.Close()

	if err := manager.SetTransport(transport); err != nil {
		log.Fatal().Err(err).Msg("Failed to attach transport")
		return
	}

	collector := telemetry.NewMetricsCollector(manager, statsInterval)
	collector.Start()
	defer collector.Stop()

	if cfg.Config.Admin.Enabled {
		server := admin.NewServer(admin.ServerConfig{
			BindAddress:    cfg.Config.Admin.BindAddress,
			Port:           cfg.Config.Admin.Port,
			Handlers:       admin.NewAdminHandlers(manager),
			MetricsHandler: telemetry.GetMetricsHandler(),
		})
		if err := server.Start(); err != nil {
			log.Fatal().Err(err).Msg("Failed to start admin server")
			return
		}
		defer server.Stop()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx, cfg.Config.Assistant); err != nil {
		log.Fatal().Err(err).Msg("Failed to start manager")
		return
	}
	defer manager.Stop()

	log.Info().
		Str("manager_id", string(manager.ID())).
		Str("transport", string(cfg.Config.Transport.Type)).
		Bool("assistant", cfg.Config.Assistant).
		Msg("Manager is operational")

	<-ctx.Done()
	log.Info().Msg("Shutting down")
}

func newManager(clock *hlc.Clock) (*membership.Manager, error) {
	descriptors, err := members.Descriptors(cfg.Config.Roles, members.Deps{
		IDs:          id.NewHLCGenerator(cfg.Config.NodeID, clock),
		Clock:        clock,
		TickInterval: time.Duration(cfg.Config.Clock.TickIntervalMS) * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}

	return membership.NewManager(membership.Options{
		ID:             membership.ManagerID("manager-" + strconv.FormatUint(cfg.Config.NodeID, 16)),
		Roles:          descriptors,
		Clock:          clock,
		DedupCacheSize: cfg.Config.Snapshot.DedupCacheSize,
	})
}
