// Luna Node - desktop mining node for the Luna network
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/luna-net/luna-node/internal/api"
	"github.com/luna-net/luna-node/internal/chain"
	"github.com/luna-net/luna-node/internal/config"
	"github.com/luna-net/luna-node/internal/gpu"
	"github.com/luna-net/luna-node/internal/miner"
	"github.com/luna-net/luna-node/internal/newrelic"
	"github.com/luna-net/luna-node/internal/node"
	"github.com/luna-net/luna-node/internal/notify"
	"github.com/luna-net/luna-node/internal/profiling"
	"github.com/luna-net/luna-node/internal/storage"
	"github.com/luna-net/luna-node/internal/submit"
	"github.com/luna-net/luna-node/internal/util"
)

var (
	version   = "1.0.0"
	buildTime = "unknown"
)

func main() {
	// Command line flags
	configPath := flag.String("config", "", "Path to configuration file")
	mineNow := flag.Bool("mine", false, "Start mining immediately, regardless of the auto-mine setting")
	showVersion := flag.Bool("version", false, "Show version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("Luna Node v%s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	if err := util.InitLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.File); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	util.Infof("Luna Node v%s starting", version)

	// Crash reporting
	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:     cfg.Sentry.DSN,
			Release: "luna-node@" + version,
		}); err != nil {
			util.Warnf("Sentry init failed: %v", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Persistence backend
	store, err := openStore(cfg)
	if err != nil {
		util.Fatalf("Failed to open storage: %v", err)
	}
	defer store.Close()

	// Settings record: persisted values win, config provides first-run defaults
	settings, err := loadOrSeedSettings(cfg, store)
	if err != nil {
		util.Fatalf("Failed to load settings: %v", err)
	}

	// Chain collaborators
	manager := chain.NewManager(settings.EndpointURL, cfg.Node.EndpointTimeout)
	throttle := chain.NewThrottle(manager, cfg.Node.NetPollInterval)

	// Mining collaborators
	backend := gpu.Probe()
	if backend.Available() {
		util.Info("GPU backend available")
	} else {
		util.Info("No GPU backend, mining on CPU")
	}
	engine := miner.NewEngine(manager, backend)
	pipeline := submit.NewPipeline(manager, nil, store)

	bus := node.NewEventBus()
	orchestrator := node.New(manager, throttle, engine, pipeline, store, bus, *settings)

	// APM
	agent := newrelic.NewAgent(&cfg.NewRelic)
	if err := agent.Start(); err != nil {
		util.Warnf("New Relic agent failed to start: %v", err)
	}
	stopAgentEvents := watchAgentEvents(agent, orchestrator)

	// Webhook notifications
	notifier := notify.NewNotifier(&cfg.Notify)
	notifier.Start(bus)

	// pprof
	profiler := profiling.NewServer(&cfg.Profiling)
	if err := profiler.Start(); err != nil {
		util.Warnf("Profiling server failed to start: %v", err)
	}

	// REST/WebSocket API
	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(cfg, orchestrator, agent)
		if err := apiServer.Start(); err != nil {
			util.Fatalf("Failed to start API server: %v", err)
		}
	}

	// Warm the network view so the first status read is populated
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Node.EndpointTimeout)
	snap := throttle.Snapshot(ctx)
	cancel()
	if snap.Height > 0 {
		util.Infof("Connected to %s (height %d, %d mempool txs)",
			settings.EndpointURL, snap.Height, snap.MempoolSize)
		if behind := snap.Height - settings.LastScanHeight; settings.LastScanHeight > 0 && behind > 0 {
			util.Infof("Chain advanced %d blocks since last run", behind)
		}
		orchestrator.RecordScanHeight(snap.Height)
	} else {
		util.Warnf("Chain endpoint %s unreachable, will keep retrying", settings.EndpointURL)
	}

	if *mineNow || settings.AutoMine {
		if orchestrator.Start() {
			util.Info("Auto-mining engaged")
		}
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	util.Info("Luna Node started. Press Ctrl+C to stop.")

	<-sigChan
	util.Info("Shutting down...")

	// Graceful shutdown
	orchestrator.Stop()
	if apiServer != nil {
		apiServer.Stop()
	}
	notifier.Stop()
	profiler.Stop()
	stopAgentEvents()
	agent.Stop()

	util.Info("Luna Node stopped")
}

// watchAgentEvents forwards mining outcomes from the event bus to the
// APM agent. The subscription drops events under pressure rather than
// stalling the mining loop; the returned func releases it.
func watchAgentEvents(agent *newrelic.Agent, orchestrator *node.Node) func() {
	if !agent.IsEnabled() {
		return func() {}
	}

	events, cancel := orchestrator.Events().Subscribe(64)
	go func() {
		for event := range events {
			if event.Type != node.EventHistoryChanged || event.Record == nil {
				continue
			}
			rec := event.Record
			success := rec.Status == storage.HistorySuccess
			agent.RecordMiningAttempt(success, rec.MiningTime, rec.Method)
			if !success {
				continue
			}
			agent.RecordBlockMined(rec.BlockIndex, rec.Difficulty, rec.Reward, rec.Method)

			status := orchestrator.GetStatus(context.Background())
			agent.UpdateMiningMetrics(status.CurrentHashRate, status.BlocksMined, status.TotalReward)
			agent.UpdateNetworkMetrics(status.NetworkHeight, status.PeerCount)
		}
	}()
	return cancel
}

// openStore selects the persistence backend from config
func openStore(cfg *config.Config) (storage.Store, error) {
	switch cfg.Storage.Backend {
	case "redis":
		return storage.NewRedisStore(cfg.Storage.RedisURL, cfg.Storage.Password, cfg.Storage.DB)
	default:
		return storage.NewFileStore(cfg.Node.DataDir)
	}
}

// loadOrSeedSettings returns the persisted settings record, seeding it
// from the config's mining defaults on first run.
func loadOrSeedSettings(cfg *config.Config, store storage.Store) (*storage.Settings, error) {
	settings, err := store.LoadSettings()
	if err != nil {
		return nil, err
	}
	if settings != nil {
		if settings.EndpointURL == "" {
			settings.EndpointURL = cfg.Mining.EndpointURL
		}
		return settings, nil
	}

	defaults := cfg.DefaultSettings()
	seeded := &storage.Settings{
		PayoutAddress:    defaults.PayoutAddress,
		Difficulty:       defaults.Difficulty,
		AutoMine:         defaults.AutoMine,
		MiningInterval:   defaults.MiningInterval,
		UseGPU:           defaults.UseGPU,
		HashAlgorithm:    defaults.HashAlgorithm,
		HashWorkerCount:  defaults.HashWorkerCount,
		GPUBatchSize:     defaults.GPUBatchSize,
		PerformanceLevel: defaults.PerformanceLevel,
		EndpointURL:      defaults.EndpointURL,
	}
	if err := store.SaveSettings(seeded); err != nil {
		return nil, err
	}
	util.Info("First run: settings record created from config defaults")
	return seeded, nil
}
