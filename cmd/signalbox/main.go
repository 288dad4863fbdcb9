// Signalbox - model railway state mirror
//
// This is the main entry point for signalbox. It keeps a live, in-memory
// mirror of a layout backend: catalog resources are polled over REST, device
// state arrives over a persistent channel, and both are served to local UIs
// through a small HTTP and WebSocket API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/trackside/signalbox/internal/api"
	"github.com/trackside/signalbox/internal/catalog"
	"github.com/trackside/signalbox/internal/channel"
	"github.com/trackside/signalbox/internal/command"
	"github.com/trackside/signalbox/internal/infrastructure/config"
	"github.com/trackside/signalbox/internal/infrastructure/database"
	"github.com/trackside/signalbox/internal/infrastructure/logging"
	"github.com/trackside/signalbox/internal/infrastructure/mqtt"
	"github.com/trackside/signalbox/internal/metrics"
	"github.com/trackside/signalbox/internal/poll"
	"github.com/trackside/signalbox/internal/state"
	"github.com/trackside/signalbox/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// startupHealthTimeout bounds the health checks run once everything is wired.
const startupHealthTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on a clean shutdown.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting signalbox",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	resources, err := pollResources(cfg.Poll.Resources)
	if err != nil {
		return fmt.Errorf("poll.resources: %w", err)
	}

	// Database holds the catalog warm-start cache
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	registry := catalog.NewRegistry(catalog.NewSQLiteRepository(db.DB))
	registry.SetLogger(log.Component("catalog"))
	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading catalog cache: %w", refreshErr)
	}
	log.Info("catalog cache loaded", "resources", len(registry.Stats()))

	store := state.NewStore()
	store.SetLogger(log.Component("state"))

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		collector, err = metrics.New(nil, store)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	reconciler := channel.NewReconciler(store)
	reconciler.SetLogger(log.Component("reconciler"))

	transport, mqttClient, err := buildTransport(ctx, cfg, log)
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
	}

	session := channel.NewSession(transport, reconciler, channel.Backoff{
		Initial: time.Duration(cfg.Channel.Reconnect.InitialDelay) * time.Second,
		Max:     time.Duration(cfg.Channel.Reconnect.MaxDelay) * time.Second,
	})
	session.SetLogger(log.Component("channel"))

	dispatcher := command.NewDispatcher(session, registry, store)

	client := catalog.NewClient(cfg.Backend.BaseURL, cfg.RequestTimeout())
	pollers := poll.NewGroup(cfg.PollInterval(), poll.SystemClock{})
	pollers.SetLogger(log.Component("poll"))

	var fetchObserver poll.Observer
	var relayObserver api.RelayObserver
	if collector != nil {
		reconciler.SetObserver(collector)
		dispatcher.SetObserver(collector)
		fetchObserver = collector
		relayObserver = collector
	}
	session.OnConnectionChange(func(connected bool) {
		collector.SetChannelConnected(connected)
	})

	for _, resource := range resources {
		pollers.Add(string(resource), poll.CatalogFetch(resource, client, registry, reconciler, fetchObserver))
	}

	deps := api.Deps{
		Config:        cfg.API,
		WS:            cfg.WebSocket,
		Logger:        log,
		Store:         store,
		Catalog:       registry,
		Commands:      dispatcher,
		Channel:       session,
		RelayObserver: relayObserver,
		Version:       version,
	}
	if collector != nil {
		deps.Metrics = collector.Handler()
		deps.MetricsPath = cfg.Metrics.Path
	}
	server, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	// Workers run until runCtx is cancelled, which also happens when run
	// returns early. They are waited for before the deferred closes below.
	runCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer wg.Wait()
	defer stop()

	wg.Add(2)
	go func() {
		defer wg.Done()
		//nolint:errcheck // returns ctx.Err() on shutdown
		reconciler.Run(runCtx)
	}()
	go func() {
		defer wg.Done()
		if runErr := session.Run(runCtx); runErr != nil {
			log.Error("channel session stopped", "error", runErr)
		}
	}()

	if startErr := pollers.StartAll(runCtx); startErr != nil {
		log.Warn("some catalog pollers failed to start", "error", startErr)
	}
	defer pollers.StopAll()
	log.Info("catalog polling started", "resources", len(resources), "interval", cfg.PollInterval())

	if startErr := server.Start(runCtx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	healthCtx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()
	if healthErr := healthCheck(healthCtx, db, mqttClient, server); healthErr != nil {
		return fmt.Errorf("health check failed: %w", healthErr)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SIGNALBOX_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SIGNALBOX_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// pollResources resolves the configured resource names. An empty list
// polls every resource.
func pollResources(names []string) ([]catalog.Resource, error) {
	if len(names) == 0 {
		return catalog.AllResources(), nil
	}
	seen := make(map[catalog.Resource]bool, len(names))
	out := make([]catalog.Resource, 0, len(names))
	for _, name := range names {
		r, err := catalog.ParseResource(name)
		if err != nil {
			return nil, err
		}
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out, nil
}

// buildTransport creates the channel transport named in the config. For
// the mqtt transport it also returns the broker client, which the caller
// must close.
func buildTransport(ctx context.Context, cfg *config.Config, log *logging.Logger) (channel.Transport, *mqtt.Client, error) {
	switch cfg.Channel.Transport {
	case config.TransportMQTT:
		mqttCfg := cfg.MQTT
		if mqttCfg.Broker.ClientID == "" {
			mqttCfg.Broker.ClientID = "signalbox-" + uuid.NewString()[:8]
		}
		mqttClient, err := mqtt.Connect(ctx, mqttCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", mqttCfg.Broker.Host, mqttCfg.Broker.Port),
			"client_id", mqttCfg.Broker.ClientID,
			"inbound", cfg.Channel.InboundTopic,
			"outbound", cfg.Channel.OutboundTopic,
		)
		transport := channel.NewMQTTTransport(mqttClient, cfg.Channel.InboundTopic, cfg.Channel.OutboundTopic, byte(mqttCfg.QoS))
		return transport, mqttClient, nil

	default:
		url, err := cfg.ChannelURL()
		if err != nil {
			return nil, nil, fmt.Errorf("building channel URL: %w", err)
		}
		log.Info("using websocket channel", "url", url)
		return channel.NewWSTransport(url, int64(cfg.Channel.MaxMessageSize)), nil, nil
	}
}

// healthChecker is implemented by every component with a HealthCheck.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// healthCheck verifies the infrastructure started correctly. mqttClient may
// be nil when the websocket transport is in use. The backend channel is not
// checked: it reconnects on its own and the API reports it as degraded.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, server *api.Server) error {
	checks := []struct {
		name  string
		check healthChecker
	}{
		{"database", db},
		{"api", server},
	}
	if mqttClient != nil {
		checks = append(checks, struct {
			name  string
			check healthChecker
		}{"mqtt", mqttClient})
	}

	for _, c := range checks {
		if err := c.check.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
