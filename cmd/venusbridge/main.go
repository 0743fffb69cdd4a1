// Venus Bridge - Signal K to Venus OS D-Bus bridge
//
// This is the main entry point for the bridge. It subscribes to Signal K
// data on an MQTT broker and publishes every battery, tank, switch and
// environment sensor it sees as a virtual Victron device on the Venus OS
// D-Bus, forwarding remote writes back as Signal K PUT requests.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/venus-bridge/internal/bridge"
	"github.com/nerrad567/venus-bridge/internal/device"
	"github.com/nerrad567/venus-bridge/internal/history"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/config"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/database"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/dbus"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/influxdb"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/venus-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/venus-bridge/internal/vedbus"
	"github.com/nerrad567/venus-bridge/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting venus bridge",
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

	// Battery history
	engine := history.NewEngine(history.NewStore(cfg.History.Path), history.Options{
		SaveInterval:    cfg.History.SaveInterval,
		MinSaveInterval: cfg.History.MinSaveInterval,
	})
	engine.SetLogger(log)
	_ = engine.Load() // logged by the engine; a bad file means starting empty
	engine.Start(ctx)
	defer func() {
		log.Info("saving battery history")
		if closeErr := engine.Close(); closeErr != nil {
			log.Error("error saving battery history", "error", closeErr)
		}
	}()

	index, closeIndex, err := openIndex(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeIndex()

	// Connect to InfluxDB (optional)
	influxClient, err := influxdb.Connect(cfg.InfluxDB)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("InfluxDB disabled")
	case err != nil:
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	default:
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	opts := bridge.Options{
		Bridge:  cfg.Bridge,
		SignalK: cfg.SignalK,
		Venus:   cfg.Venus,
		QoS:     byte(cfg.MQTT.QoS), // #nosec G115 -- validated to 0..2
		Version: version,
		Index:   index,
		Dial: func(ctx context.Context) (vedbus.Bus, error) {
			client, err := dbus.Dial(ctx, cfg.Venus.Address)
			if err != nil {
				return nil, err
			}
			return client, nil
		},
		History:   engine,
		Publisher: mqttClient,
	}
	if influxClient != nil {
		opts.Telemetry = influxClient
	}
	br := bridge.New(opts)
	br.SetLogger(log)
	defer func() {
		log.Info("closing virtual devices")
		if closeErr := br.Close(); closeErr != nil {
			log.Error("error closing virtual devices", "error", closeErr)
		}
	}()

	if err := subscribe(cfg, mqttClient, br, log); err != nil {
		return err
	}

	healthCheck(ctx, mqttClient, influxClient, log)

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	br.LogStatus()

	// Deferred Close() calls run in reverse order: devices, MQTT, InfluxDB,
	// identity database, battery history.
	log.Info("venus bridge stopped")
	return nil
}

// openIndex returns the local index provider selected by the identity
// scheme, and a function releasing its resources.
func openIndex(ctx context.Context, cfg *config.Config, log *logging.Logger) (device.IndexProvider, func(), error) {
	if cfg.Identity.Scheme != config.IdentitySchemeSQLite {
		log.Info("device identities derived from base path hashes")
		return device.HashIndexProvider{}, func() {}, nil
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("opening database: %w", err)
	}
	closeDB := func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}
	log.Info("database connected", "path", cfg.Database.Path)

	applied, err := db.Migrate(ctx, migrations.FS)
	if err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database migrations complete", "applied", len(applied))

	if err := db.HealthCheck(ctx); err != nil {
		closeDB()
		return nil, nil, fmt.Errorf("database health check: %w", err)
	}

	return device.NewSQLiteIndexProvider(db.DB), closeDB, nil
}

// subscribe routes both Signal K topic shapes into the bridge.
func subscribe(cfg *config.Config, client *mqtt.Client, br *bridge.Bridge, log *logging.Logger) error {
	topics := mqtt.Topics{}
	prefix := cfg.SignalK.Prefix()
	qos := byte(cfg.MQTT.QoS) // #nosec G115 -- validated to 0..2

	handler := func(topic string, payload []byte) error {
		if err := br.HandleMessage(topic, payload); err != nil {
			log.Warn("signal k message rejected", "topic", topic, "error", err)
		}
		return nil
	}

	for _, topic := range []string{topics.SignalKSelf(prefix), topics.SignalKDelta(prefix)} {
		if err := client.Subscribe(topic, qos, handler); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		log.Info("subscribed", "topic", topic)
	}
	return nil
}

// healthCheck logs the state of the broker and telemetry connections.
// Failures are not fatal; both clients recover on their own.
func healthCheck(ctx context.Context, mqttClient *mqtt.Client, influxClient *influxdb.Client, log *logging.Logger) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := mqttClient.HealthCheck(ctx); err != nil {
		log.Warn("MQTT health check failed", "error", err)
	}
	if influxClient == nil {
		return
	}
	if err := influxClient.HealthCheck(ctx); err != nil {
		log.Warn("InfluxDB health check failed", "error", err)
	}
}

// getConfigPath returns the configuration file path.
// Uses VENUSBRIDGE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("VENUSBRIDGE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
