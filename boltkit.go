package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/neo4j-contrib/boltkit/admin"
	"github.com/neo4j-contrib/boltkit/cfg"
	"github.com/neo4j-contrib/boltkit/console"
	"github.com/neo4j-contrib/boltkit/dbclient"
	"github.com/neo4j-contrib/boltkit/docker"
	"github.com/neo4j-contrib/boltkit/telemetry"
	"github.com/neo4j-contrib/boltkit/topology"
)

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
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	runtime, err := docker.NewRuntime()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to the container runtime")
		return
	}

	// An interrupt anywhere triggers cleanup via context cancellation.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *cfg.StopFlag != "" {
		log.Info().Str("cluster", *cfg.StopFlag).Msg("Stopping cluster")
		if err := topology.FindAndStop(ctx, runtime, *cfg.StopFlag); err != nil {
			log.Fatal().Err(err).Msg("Failed to stop cluster")
		}
		return
	}

	telemetry.Initialize(cfg.Config.Admin.Enabled)

	auth := topology.Auth{User: cfg.Config.Auth.User, Password: cfg.Config.Auth.Password}
	if auth.Password == "" {
		auth = topology.GenerateAuth()
	}

	topo, err := topology.New(topology.Options{
		Name:     cfg.Config.Name,
		Image:    cfg.Config.Image,
		Auth:     auth,
		Cores:    cfg.Config.Cluster.Cores,
		Replicas: cfg.Config.Cluster.Replicas,
		BoltPort: cfg.Config.Ports.Bolt,
		HTTPPort: cfg.Config.Ports.HTTP,
		Config:   cfg.Config.Settings,
		Runtime:  runtime,
		Driver:   dbclient.NewDriver(),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid topology")
		return
	}

	timeout := time.Duration(cfg.Config.StartupTimeoutSeconds) * time.Second
	if err := topo.Start(ctx, timeout); err != nil {
		if ctx.Err() != nil {
			// Interrupted mid-startup: sweep everything away.
			_ = topo.Stop(context.Background())
			log.Fatal().Msg("Startup interrupted")
			return
		}
		// Machines are left running for inspection.
		log.Fatal().Err(err).Msg("Cluster failed to start")
		return
	}

	var adminServer *admin.Server
	if cfg.Config.Admin.Enabled {
		adminServer = admin.NewServer(topo, cfg.Config.Admin.Address, cfg.Config.Admin.Port)
		adminServer.Start()
	}

	runConsole(ctx, topo)

	if adminServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = adminServer.Stop(shutdownCtx)
		cancel()
	}
	if err := topo.Stop(context.Background()); err != nil {
		log.Error().Err(err).Msg("Failed to stop cluster cleanly")
	}
}

// runConsole reads command lines from stdin until exit or EOF.
func runConsole(ctx context.Context, topo *topology.Topology) {
	c := console.New(topo, func(line string) {
		fmt.Println(line)
	})
	c.PrintEnv()

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Printf("%s> ", topo.Name)
		if !scanner.Scan() {
			return
		}
		if c.Dispatch(ctx, scanner.Text()) {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}
