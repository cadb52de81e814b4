// Sekolah Core - authentication and authorisation service
//
// This is the main entry point for the school site's auth subsystem.
// It owns the credential store, mints and validates session tokens,
// keeps the durable token revocation registry, and exposes the REST
// surface consumed by the site frontend.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/adityarama/sekolah-core/migrations"

	"github.com/adityarama/sekolah-core/internal/api"
	"github.com/adityarama/sekolah-core/internal/audit"
	"github.com/adityarama/sekolah-core/internal/auth"
	"github.com/adityarama/sekolah-core/internal/infrastructure/config"
	"github.com/adityarama/sekolah-core/internal/infrastructure/database"
	"github.com/adityarama/sekolah-core/internal/infrastructure/logging"
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

// revocationPruneInterval is how often expired deny-list entries are
// swept from the revocation registry.
const revocationPruneInterval = time.Hour

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for
// testability. Returning an error allows main to handle exit codes
// consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Sekolah Core",
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

	// Wire repositories and the auth service
	userRepo := auth.NewUserRepository(db.DB)
	revocationRepo := auth.NewRevocationRepository(db.DB)
	auditRepo := audit.NewRepository(db.DB)

	authService := auth.NewService(
		userRepo,
		revocationRepo,
		cfg.Security.JWT.Secret,
		cfg.GetTokenTTL(),
		log,
	)

	// First boot: create the initial admin account
	if seedErr := auth.SeedAdmin(ctx, userRepo, log); seedErr != nil {
		return fmt.Errorf("seeding admin account: %w", seedErr)
	}

	// Periodically sweep naturally-expired entries from the deny-list
	go pruneRevokedLoop(ctx, revocationRepo, log)

	// Start the API server
	server, err := api.New(api.Deps{
		Config:      cfg.API,
		Security:    cfg.Security,
		Logger:      log,
		AuthService: authService,
		UserRepo:    userRepo,
		AuditRepo:   auditRepo,
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
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	log.Info("Sekolah Core stopped")
	return nil
}

// pruneRevokedLoop sweeps expired deny-list entries periodically until
// the context is cancelled.
func pruneRevokedLoop(ctx context.Context, repo auth.RevocationRepository, log *logging.Logger) {
	ticker := time.NewTicker(revocationPruneInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pruned, err := repo.PruneExpired(ctx, time.Now())
			if err != nil {
				log.Error("revocation prune failed", "error", err)
				continue
			}
			if pruned > 0 {
				log.Info("pruned expired revocations", "count", pruned)
			}
		}
	}
}

// getConfigPath returns the configuration file path.
// Uses SEKOLAH_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SEKOLAH_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
