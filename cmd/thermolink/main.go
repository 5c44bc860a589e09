// ThermoLink Core - temperature sensor fleet service
//
// This is the main entry point for the ThermoLink Core application. It
// provisions sensors that announce themselves over MQTT, stores their
// temperature reports, and serves the account-facing HTTP and WebSocket API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/thermolink-core/internal/access"
	"github.com/nerrad567/thermolink-core/internal/account"
	"github.com/nerrad567/thermolink-core/internal/api"
	"github.com/nerrad567/thermolink-core/internal/audit"
	"github.com/nerrad567/thermolink-core/internal/auth"
	"github.com/nerrad567/thermolink-core/internal/configpush"
	"github.com/nerrad567/thermolink-core/internal/device"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/config"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/database"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/logging"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/metrics"
	"github.com/nerrad567/thermolink-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/thermolink-core/internal/management"
	"github.com/nerrad567/thermolink-core/internal/messaging"
	"github.com/nerrad567/thermolink-core/internal/provisioning"
	"github.com/nerrad567/thermolink-core/internal/secret"
	"github.com/nerrad567/thermolink-core/internal/telemetry"
	"github.com/nerrad567/thermolink-core/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	defaultConfigPath = "configs/config.yaml"
	configPathEnv     = "THERMOLINK_CONFIG"

	// subscribeRetryDelay spaces attempts to (re)subscribe after a broker
	// connection succeeded but a SUBSCRIBE was refused or timed out.
	subscribeRetryDelay = 5 * time.Second
)

func main() {
	issueToken := flag.String("issue-token", "", "print a signed API token for this account ID and exit")
	tokenTTL := flag.Duration("token-ttl", 24*time.Hour, "lifetime of the token printed by -issue-token")
	registerMAC := flag.String("register-device", "", "register a device by MAC address, print its secret code and exit")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	switch {
	case *issueToken != "":
		err = printToken(os.Stdout, *issueToken, *tokenTTL)
	case *registerMAC != "":
		err = registerDevice(ctx, os.Stdout, *registerMAC)
	default:
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown after ctx is cancelled.
//
// Components are torn down in reverse order of construction: the API stops
// accepting requests, the broker connection drains, queued messages finish,
// the time-series writer flushes, and the database closes last.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting ThermoLink Core",
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
	defer func() { _ = log.Close() }()
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

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

	if migrateErr := db.NewMigrator(migrations.FS, ".").Up(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	m := metrics.New()

	accounts := account.NewSQLiteRepository(db.DB)
	registry := device.NewRegistry(
		device.NewSQLiteRepository(db.DB),
		device.NewSQLiteReadingRepository(db.DB),
		accounts,
	)
	registry.SetLogger(log)
	links := access.NewStore(db.DB, accounts)
	secrets := secret.NewManager(db.DB)

	sinks := []telemetry.Sink{m}
	influxClient, err := connectInfluxDB(ctx, cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influxClient != nil {
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		sinks = append(sinks, telemetry.SinkFunc(influxClient.ReadingStored))
	}

	hub := api.NewHub(cfg.WebSocket, log, links)
	sinks = append(sinks, hub)

	ingest := telemetry.NewService(registry, sinks...)
	ingest.SetLogger(log)

	prov := provisioning.NewService(registry, secrets, links, secret.Hash, cfg.Provisioning.Policy)
	prov.SetLogger(log)
	prov.SetObserver(m)

	dispatcher := messaging.NewDispatcher(prov, ingest, messaging.Options{
		Workers:   cfg.Ingest.Workers,
		QueueSize: cfg.Ingest.QueueSize,
	})
	dispatcher.SetLogger(log)
	dispatcher.SetObserver(m)
	dispatcher.Start(ctx)
	defer func() {
		log.Info("draining message queue")
		dispatcher.Close()
	}()

	mqttClient := mqtt.New(cfg.MQTT)
	mqttClient.SetLogger(log)
	mqttClient.SetOnStateChange(func(state mqtt.State) {
		m.BrokerStateChanged(state)
		log.Info("MQTT state changed", "state", state.String())
	})
	mqttClient.OnMessage(dispatcher.Deliver)
	defer func() {
		log.Info("closing MQTT connection")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	go maintainSubscriptions(ctx, mqttClient, log)

	publisher := configpush.NewPublisher(mqttClient, configpush.DefaultBreakerSettings())
	publisher.SetLogger(log)
	publisher.SetObserver(m.ConfigPublished)

	manager := management.NewService(registry, links, secrets, publisher)
	manager.SetLogger(log)
	manager.SetHistory(audit.NewSQLiteRepository(db.DB))

	server, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Security: cfg.Security,
		Logger:   log,
		Manager:  manager,
		Hub:      hub,
		Database: db,
		Broker:   mqttClient,
		Metrics:  m.Handler(),
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()

	log.Info("ThermoLink Core started",
		"api", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"provisioning_policy", cfg.Provisioning.Policy,
	)

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

// connectInfluxDB returns nil without error when InfluxDB is disabled.
// A configured but unreachable server is fatal at startup.
func connectInfluxDB(ctx context.Context, cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(ctx, cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(writeErr error) {
		log.Error("InfluxDB write error", "error", writeErr)
	})
	log.Info("InfluxDB connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return client, nil
}

// maintainSubscriptions connects to the broker and subscribes to the
// announcement and report topics. The client restores subscriptions itself
// after later reconnects, so this only loops until the first full success.
func maintainSubscriptions(ctx context.Context, client *mqtt.Client, log *logging.Logger) {
	topics := []string{
		mqtt.TopicInitialConfiguration,
		mqtt.Topics{}.AllTemperature(),
	}

	for {
		if err := client.ConnectWithRetry(ctx); err != nil {
			if ctx.Err() == nil {
				log.Error("MQTT connect gave up", "error", err)
			}
			return
		}

		subscribed := true
		for _, topic := range topics {
			if err := client.Subscribe(ctx, topic); err != nil {
				log.Warn("MQTT subscribe failed", "topic", topic, "error", err)
				subscribed = false
				break
			}
			log.Info("subscribed", "topic", topic)
		}
		if subscribed {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(subscribeRetryDelay):
		}
	}
}

// printToken issues a token signed with the configured secret. Accounts are
// created outside this service; the token is only as good as the account ID.
func printToken(w io.Writer, accountID string, ttl time.Duration) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	token, err := auth.IssueToken(accountID, cfg.Security.JWT.Secret, ttl)
	if err != nil {
		return fmt.Errorf("issuing token: %w", err)
	}
	_, err = fmt.Fprintln(w, token)
	return err
}

// registerDevice creates a device ahead of first contact, as the
// preregistered provisioning policy requires, and prints the secret code
// to flash onto it.
func registerDevice(ctx context.Context, w io.Writer, mac string) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // one-shot command
	if err := db.NewMigrator(migrations.FS, ".").Up(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	code, err := secret.Generate()
	if err != nil {
		return err
	}
	hash, err := secret.Hash(code)
	if err != nil {
		return err
	}
	dev := &device.Device{MACAddress: mac}
	if err := device.NewSQLiteRepository(db.DB).Create(ctx, dev, hash); err != nil {
		return fmt.Errorf("registering device: %w", err)
	}
	_, err = fmt.Fprintf(w, "device_id=%s mac=%s secret_code=%s\n", dev.ID, dev.MACAddress, code)
	return err
}

// getConfigPath returns the configuration file path, overridable through
// THERMOLINK_CONFIG.
func getConfigPath() string {
	if path := os.Getenv(configPathEnv); path != "" {
		return path
	}
	return defaultConfigPath
}
