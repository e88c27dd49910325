// Gatehouse - Identity & Access Control Core
//
// This is the main entry point for the Gatehouse service: the identity and
// access-control core of the facility-operations platform. Every other
// service on the platform trusts Gatehouse for:
//   - Credential storage and verification
//   - Access/refresh token issuance
//   - Session lifecycle and revocation
//   - Brute-force lockout and role-based permissions
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/fmops/gatehouse/migrations"

	"github.com/fmops/gatehouse/internal/api"
	"github.com/fmops/gatehouse/internal/audit"
	"github.com/fmops/gatehouse/internal/auth"
	"github.com/fmops/gatehouse/internal/infrastructure/config"
	"github.com/fmops/gatehouse/internal/infrastructure/database"
	"github.com/fmops/gatehouse/internal/infrastructure/influxdb"
	"github.com/fmops/gatehouse/internal/infrastructure/logging"
	"github.com/fmops/gatehouse/internal/infrastructure/mqtt"
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
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error { //nolint:gocognit,gocyclo,funlen // linear startup sequence, one block per subsystem
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gatehouse",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
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

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Repositories
	accountRepo := auth.NewAccountRepository(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	// Seed the bootstrap super-admin on an empty deployment. The generated
	// password is logged once inside SeedSuperAdmin.
	if _, seedErr := auth.SeedSuperAdmin(ctx, accountRepo, log.Logger); seedErr != nil {
		return fmt.Errorf("seeding super-admin: %w", seedErr)
	}

	// Connect to MQTT broker (optional - Gatehouse runs standalone without it)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(discErr error) {
			log.Warn("MQTT disconnected", "error", discErr)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(writeErr error) {
			log.Error("InfluxDB write error", "error", writeErr)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// WebSocket hub for the security event stream. Created here (rather than
	// inside the API server) because the event fanout broadcasts through it.
	hub := api.NewHub(cfg.WebSocket, log)
	go hub.Run(ctx)

	// Event fanout: audit trail + WebSocket + MQTT + InfluxDB
	fanout := api.NewEventFanout(auditRepo, hub, mqttClient, influxClient, log)
	go fanout.Run(ctx)

	// Auth service
	authService, err := auth.NewService(accountRepo, auth.Config{
		AccessSecret:     cfg.Auth.AccessSecret,
		AccessTTL:        cfg.AccessTokenTTL(),
		RefreshSecret:    cfg.Auth.RefreshSecret,
		RefreshTTL:       cfg.RefreshTokenTTL(),
		LockoutThreshold: cfg.Auth.LockoutThreshold,
		LockoutDuration:  cfg.LockoutDuration(),
		SessionCapacity:  cfg.Auth.SessionCapacity,
		SessionTTL:       cfg.SessionTTL(),
		HashCost:         uint32(cfg.Auth.PasswordHashCost), //nolint:gosec // G115: validated small positive int
	}, log.Logger, auth.WithRecorder(fanout))
	if err != nil {
		return fmt.Errorf("creating auth service: %w", err)
	}

	// Bus-driven revocation: other services can force-logout an account by
	// publishing to the control topic.
	if mqttClient != nil {
		if subErr := subscribeControlTopics(ctx, mqttClient, authService, log); subErr != nil {
			return fmt.Errorf("subscribing to control topics: %w", subErr)
		}
	}

	// Start API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		WS:          cfg.WebSocket,
		Logger:      log,
		Auth:        authService,
		Audit:       auditRepo,
		DB:          db,
		MQTT:        mqttClient,
		Influx:      influxClient,
		ExternalHub: hub,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := server.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := server.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started",
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
		"tls", cfg.API.TLS.Enabled,
	)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, server); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("Gatehouse stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GATEHOUSE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GATEHOUSE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// revokeRequest is the control-topic payload requesting that every session
// of an account be revoked.
type revokeRequest struct {
	AccountID string `json:"account_id"`
}

// subscribeControlTopics wires inbound MQTT control topics to the auth
// service. Currently one topic: forced session revocation.
func subscribeControlTopics(ctx context.Context, client *mqtt.Client, authService *auth.Service, log *logging.Logger) error {
	topics := mqtt.Topics{}

	return client.Subscribe(topics.ControlRevoke(), 1, func(topic string, payload []byte) error {
		var req revokeRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return fmt.Errorf("parsing revoke request: %w", err)
		}
		if req.AccountID == "" {
			return fmt.Errorf("revoke request missing account_id")
		}

		log.Info("bus-driven session revocation requested",
			"topic", topic,
			"account_id", req.AccountID,
		)

		if err := authService.LogoutAll(ctx, req.AccountID, "mqtt:control"); err != nil {
			return fmt.Errorf("revoking sessions for %s: %w", req.AccountID, err)
		}
		return nil
	})
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - server: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, server *api.Server) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	if err := server.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
