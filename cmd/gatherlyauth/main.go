// Gatherly Auth - Authentication service for the Gatherly event platform
//
// This is the main entry point for the Gatherly Auth service. It owns:
//   - Local credential registration and login (Argon2id)
//   - Stateless JWT access tokens and rotating refresh sessions
//   - Google federated sign-in with account linking
//   - The authentication audit trail
//
// Other Gatherly services validate access tokens themselves and subscribe
// to auth lifecycle events over MQTT.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/gatherly-app/gatherly-auth/migrations"

	"github.com/gatherly-app/gatherly-auth/internal/api"
	"github.com/gatherly-app/gatherly-auth/internal/audit"
	"github.com/gatherly-app/gatherly-auth/internal/identity"
	"github.com/gatherly-app/gatherly-auth/internal/infrastructure/config"
	"github.com/gatherly-app/gatherly-auth/internal/infrastructure/database"
	"github.com/gatherly-app/gatherly-auth/internal/infrastructure/influxdb"
	"github.com/gatherly-app/gatherly-auth/internal/infrastructure/logging"
	"github.com/gatherly-app/gatherly-auth/internal/infrastructure/mqtt"
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
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gatherly Auth",
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
	db, err := database.Open(database.Config{
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

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	var events identity.Publisher
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
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})

		//nolint:gosec // QoS is validated to 0-2 by config.Validate
		events = mqtt.NewEventPublisher(mqttClient, byte(cfg.MQTT.QoS))
	} else {
		log.Info("MQTT disabled, auth events will not be published")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var activity identity.ActivityRecorder
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

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		activity = influxClient
	} else {
		log.Info("InfluxDB disabled, auth activity will not be recorded")
	}

	// Assemble the identity gateway
	store := identity.NewStore(db.DB)
	auditRepo := audit.NewSQLiteRepository(db.DB)

	var verifier identity.AssertionVerifier
	if cfg.Security.Google.Enabled {
		verifier = identity.NewGoogleVerifier(identity.GoogleVerifierConfig{
			ClientIDs: cfg.Security.Google.ClientIDs,
		})
		log.Info("Google sign-in enabled", "client_ids", len(cfg.Security.Google.ClientIDs))
	} else {
		log.Info("Google sign-in disabled")
	}

	identityService := identity.NewService(identity.ServiceConfig{
		Store:    store,
		Sessions: identity.NewSessionManager(store, cfg.Security.JWT.RefreshTokenTTL),
		Codec:    identity.NewCodec(cfg.Security.JWT.Secret, cfg.Security.JWT.AccessTokenTTL),
		Verifier: verifier,
		Logger:   log.Logger,
		Events:   events,
		Activity: activity,
		Audit:    auditRepo,
	})
	log.Info("identity gateway initialised",
		"access_token_ttl_minutes", cfg.Security.JWT.AccessTokenTTL,
		"refresh_token_ttl_days", cfg.Security.JWT.RefreshTokenTTL,
	)

	// Start the API server
	apiServer, err := api.New(api.Deps{
		Config:   cfg.API,
		Logger:   log,
		Identity: identityService,
		Audit:    auditRepo,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := apiServer.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port))

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient, apiServer); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls run in reverse order:
	// 1. API server
	// 2. InfluxDB (if enabled)
	// 3. MQTT (if enabled)
	// 4. Database

	log.Info("Gatherly Auth stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GATHERLY_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GATHERLY_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//   - apiServer: API server to check
//
// Returns:
//   - error: First health check failure, or nil if all healthy
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client, apiServer *api.Server) error {
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

	if err := apiServer.HealthCheck(ctx); err != nil {
		return fmt.Errorf("api: %w", err)
	}

	return nil
}
