// Health Core - family health platform authentication service
//
// This is the main entry point for the Health Core auth service. It owns
// user credentials, login lockout, refresh-token sessions and the audit
// trail, and exposes them over a small HTTP API.
//
// Usage:
//
//	healthcore                          run the service
//	healthcore migrate [up|down|status] manage the database schema
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"

	_ "github.com/familyhealth/health-core/migrations"

	"github.com/familyhealth/health-core/internal/api"
	"github.com/familyhealth/health-core/internal/audit"
	"github.com/familyhealth/health-core/internal/auth"
	"github.com/familyhealth/health-core/internal/infrastructure/config"
	"github.com/familyhealth/health-core/internal/infrastructure/database"
	"github.com/familyhealth/health-core/internal/infrastructure/influxdb"
	"github.com/familyhealth/health-core/internal/infrastructure/logging"
	"github.com/familyhealth/health-core/internal/infrastructure/mqtt"
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

// sentryFlushTimeout bounds how long shutdown waits for queued events.
const sentryFlushTimeout = 2 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var err error
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		err = runMigrate(ctx, os.Args[2:], os.Stdout)
	} else {
		err = run(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Health Core",
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
	defer log.Close() //nolint:errcheck // best-effort on shutdown
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
		"output", cfg.Logging.Output,
	)

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              cfg.Sentry.DSN,
			Environment:      cfg.Sentry.Environment,
			Release:          version,
			AttachStacktrace: true,
		}); err != nil {
			return fmt.Errorf("initialising sentry: %w", err)
		}
		defer sentry.Flush(sentryFlushTimeout)
		log.Info("sentry error reporting enabled", "environment", cfg.Sentry.Environment)
	}

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
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

	users := auth.NewUserRepository(db.DB)
	sessions := auth.NewSessionRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	checks := map[string]api.HealthChecker{"database": db}
	var sinks []audit.Sink

	// MQTT fan-out of audit events (optional)
	if cfg.MQTT.Enabled {
		mqttClient, connErr := mqtt.Connect(cfg.MQTT)
		if connErr != nil {
			return fmt.Errorf("connecting to MQTT: %w", connErr)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttSink := audit.NewMQTTSink(mqttClient, mqtt.Topics{}.AuthEvent, byte(cfg.MQTT.QoS), log.Logger) //nolint:gosec // qos validated 0-2
		defer mqttSink.Close()
		sinks = append(sinks, mqttSink)
		checks["mqtt"] = mqttClient
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB auth metrics (optional)
	if cfg.InfluxDB.Enabled {
		influxClient, connErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if connErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", connErr)
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
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		sinks = append(sinks, audit.NewMetricsSink(influxClient))
		checks["influxdb"] = influxClient
	} else {
		log.Info("InfluxDB disabled")
	}

	recorder := audit.NewRecorder(auditRepo, log.With("component", "audit").Logger, sinks...)

	authCfg := cfg.Auth()
	codec, err := auth.NewTokenCodec(authCfg.Secret)
	if err != nil {
		return fmt.Errorf("creating token codec: %w", err)
	}

	guard, err := auth.NewGuard(auth.GuardDeps{
		Users:    users,
		Sessions: sessions,
		Codec:    codec,
		Audit:    recorder,
		Config:   authCfg,
		Logger:   log.With("component", "auth").Logger,
	})
	if err != nil {
		return fmt.Errorf("creating login guard: %w", err)
	}
	gate := auth.NewGate(codec, users)

	if _, err := auth.SeedAdmin(ctx, users, cfg.Bootstrap(), log.Logger); err != nil {
		return fmt.Errorf("seeding admin account: %w", err)
	}

	server, err := api.New(api.Deps{
		Config:          cfg.API,
		RateLimit:       cfg.Security.RateLimit,
		Logger:          log.With("component", "api"),
		Guard:           guard,
		Gate:            gate,
		Sessions:        sessions,
		Audit:           auditRepo,
		CleanupInterval: cfg.SessionCleanupInterval(),
		Checks:          checks,
		Version:         version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, checks); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")
	<-ctx.Done()
	log.Info("shutdown signal received, cleaning up")

	return nil
}

// runMigrate manages the schema without starting the service.
//
//	healthcore migrate [up|down|status]
//
// up applies pending migrations, down rolls back the latest one. Every
// command finishes by printing the migration status to out.
func runMigrate(ctx context.Context, args []string, out io.Writer) error {
	command := "up"
	if len(args) > 0 {
		command = args[0]
	}
	if command != "up" && command != "down" && command != "status" {
		return fmt.Errorf("unknown migrate command %q (want up, down or status)", command)
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only after the command

	switch command {
	case "up":
		if err := db.Migrate(ctx); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
	case "down":
		if err := db.MigrateDown(ctx); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	}

	status, err := db.Status(ctx)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, v := range status.Applied {
		fmt.Fprintf(out, "applied  %s\n", v)
	}
	for _, v := range status.Pending {
		fmt.Fprintf(out, "pending  %s\n", v)
	}
	return nil
}

func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// getConfigPath returns FH_CONFIG or the default path.
func getConfigPath() string {
	if path := os.Getenv(config.EnvPrefix + "CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies every configured component once at startup.
func healthCheck(ctx context.Context, checks map[string]api.HealthChecker) error {
	for name, c := range checks {
		if err := c.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}
	return nil
}
