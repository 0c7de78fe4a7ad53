// Wellsite Core - well-control update pipeline.
//
// This is the main entry point. It consumes table-level update envelopes
// from the update exchange, persists them through the store managers,
// notifies the originating socket of each result, and accepts control
// actions over HTTP for publication to the control exchange.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/wellsite-core/migrations"

	"github.com/nerrad567/wellsite-core/internal/api"
	"github.com/nerrad567/wellsite-core/internal/audit"
	"github.com/nerrad567/wellsite-core/internal/deadletter"
	"github.com/nerrad567/wellsite-core/internal/event"
	"github.com/nerrad567/wellsite-core/internal/exchange"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/config"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/database"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/logging"
	"github.com/nerrad567/wellsite-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/wellsite-core/internal/socket"
	"github.com/nerrad567/wellsite-core/internal/store"
	"github.com/nerrad567/wellsite-core/internal/transaction"
	"github.com/nerrad567/wellsite-core/internal/update"
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

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Wellsite Core",
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

	inbound, err := exchange.NewTopology(cfg.Exchange.Topology, cfg.Exchange.Discriminator)
	if err != nil {
		return fmt.Errorf("update topology: %w", err)
	}
	outbound, err := exchange.NewTopology(cfg.Publisher.Topology, cfg.Exchange.Discriminator)
	if err != nil {
		return fmt.Errorf("control topology: %w", err)
	}

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

	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	transactions := transaction.NewSQLiteRepository(db.DB)
	events := event.NewSQLiteRepository(db.DB)
	deadLetters := deadletter.NewSQLiteRepository(db.DB)
	controlAudit := audit.NewSQLiteRepository(db.DB)

	txManager := transaction.NewManager(transactions, retryPolicy(cfg.Retry, transaction.Responsibility), log)
	eventManager := event.NewManager(events, retryPolicy(cfg.Retry, event.Responsibility), log)
	logPolicy(log, txManager.Responsibility(), txManager.Policy())
	logPolicy(log, eventManager.Responsibility(), eventManager.Policy())

	factory, err := store.NewFactory(txManager, eventManager)
	if err != nil {
		return fmt.Errorf("building persistence factory: %w", err)
	}
	log.Info("persistence factory ready", "responsibilities", factory.Responsibilities())

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	registry := socket.NewRegistry()
	opts := []update.Option{update.WithBroadcaster(registry)}
	if influxClient != nil {
		opts = append(opts, update.WithRecorder(influxClient))
	}
	processor := update.NewProcessor(factory, log, opts...)

	publisherClient, err := connectMQTT(ctx, cfg.MQTT, "publisher", log)
	if err != nil {
		return err
	}
	defer closeMQTT(publisherClient, log)
	publisher := exchange.NewPublisher(publisherClient, outbound, publisherClient.QoS(), log)

	consumers := make([]*exchange.Consumer, 0, cfg.Exchange.Consumers)
	checks := map[string]api.HealthChecker{
		"database":       db,
		"mqtt_publisher": publisherClient,
	}
	for i := 0; i < cfg.Exchange.Consumers; i++ {
		name := fmt.Sprintf("consumer-%d", i)
		client, connErr := connectMQTT(ctx, cfg.MQTT, name, log)
		if connErr != nil {
			return connErr
		}
		defer closeMQTT(client, log)

		settleClient, connErr := connectMQTT(ctx, cfg.MQTT, name+"-settle", log)
		if connErr != nil {
			return connErr
		}
		defer closeMQTT(settleClient, log)

		checks["mqtt_"+name] = client
		checks["mqtt_"+name+"_settle"] = settleClient
		consumers = append(consumers, exchange.NewConsumer(exchange.ConsumerConfig{
			Name:     name,
			Prefetch: cfg.Exchange.Prefetch,
			QoS:      client.QoS(),
		}, client, settleClient, inbound, processor.Process, log))
	}

	var archiver *deadletter.Archiver
	if cfg.Exchange.ArchiveDeadLetters {
		client, connErr := connectMQTT(ctx, cfg.MQTT, "archiver", log)
		if connErr != nil {
			return connErr
		}
		defer closeMQTT(client, log)
		checks["mqtt_archiver"] = client
		archiver = deadletter.NewArchiver(client, deadLetters, inbound, client.QoS(), log)
	}

	if influxClient != nil {
		checks["influxdb"] = influxClient
	}
	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	socketServer := socket.NewServer(registry, cfg.WebSocket, log)
	apiServer, err := api.New(api.Deps{
		Config:       cfg.API,
		Logger:       log,
		Socket:       socketServer,
		SocketPath:   cfg.WebSocket.Path,
		Sockets:      registry,
		Publisher:    publisher,
		Checks:       checks,
		Transactions: transactions,
		Events:       events,
		DeadLetters:  deadLetters,
		Audit:        controlAudit,
		DB:           db.DB,
		Version:      version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error { return c.Run(gctx) })
	}
	if archiver != nil {
		g.Go(func() error { return archiver.Run(gctx) })
	}
	g.Go(func() error { return socketServer.Start(gctx) })

	if err := apiServer.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	g.Go(func() error {
		<-gctx.Done()
		return apiServer.Close()
	})

	log.Info("initialisation complete",
		"queue", inbound.Queue,
		"consumers", len(consumers),
		"control_exchange", outbound.Exchange,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("pipeline stopped: %w", err)
	}

	log.Info("Wellsite Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses WELLSITE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("WELLSITE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

func logPolicy(log *logging.Logger, responsibility string, p store.RetryPolicy) {
	log.Info("store manager configured",
		"responsibility", responsibility,
		"retries", p.Retries,
		"interval", p.Interval.String(),
		"requeue_transient", p.RequeueTransient,
	)
}

// retryPolicy resolves the store retry policy for one responsibility.
func retryPolicy(r config.RetryConfig, responsibility string) store.RetryPolicy {
	p := r.RetryFor(responsibility)
	return store.RetryPolicy{
		Retries:          p.Retries,
		Interval:         p.Interval(),
		RequeueTransient: p.RequeueTransient,
	}
}

// connectMQTT opens a broker connection whose client id is the configured
// id suffixed with role. Each consumer owns its own connection.
func connectMQTT(ctx context.Context, cfg config.MQTTConfig, role string, log *logging.Logger) (*mqtt.Client, error) {
	cfg.Broker.ClientID = cfg.Broker.ClientID + "-" + role

	client, err := mqtt.Connect(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT as %s: %w", cfg.Broker.ClientID, err)
	}

	clientLog := log.With("client_id", cfg.Broker.ClientID)
	client.SetLogger(clientLog)
	client.SetOnConnect(func() {
		clientLog.Info("MQTT reconnected")
	})
	client.SetOnDisconnect(func(err error) {
		clientLog.Warn("MQTT disconnected", "error", err)
	})

	clientLog.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.Broker.Host, cfg.Broker.Port),
	)
	return client, nil
}

func closeMQTT(client *mqtt.Client, log *logging.Logger) {
	if err := client.Close(); err != nil {
		log.Error("error closing MQTT", "client_id", client.ClientID(), "error", err)
	}
}

// healthCheck verifies every infrastructure connection is healthy,
// returning the first failure.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
