package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"jerosync/internal/config"
	"jerosync/internal/constants"
	"jerosync/internal/database"
	apperrors "jerosync/internal/errors"
	"jerosync/internal/identity"
	"jerosync/internal/models"
	"jerosync/internal/privacy"
	"jerosync/internal/retry"
	"jerosync/internal/service"
	"jerosync/internal/tracing"
	"jerosync/pkg/gateway"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var (
	// Version information (set at build time)
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"

	// CLI flags
	verbose    = flag.Bool("verbose", false, "Enable verbose logging (includes principal ids and message content)")
	configPath = flag.String("config", "config.json", "Path to configuration file (.json, .yaml or .yml)")
	envFile    = flag.String("env-file", ".env", "Optional dotenv file loaded before the configuration")
	version    = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("jerosync %s\nBuild Time: %s\nGit Commit: %s\n", Version, BuildTime, GitCommit)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logrus.Fatalf("Application error: %v", err)
	}
}

func run(ctx context.Context) error {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	if err := godotenv.Load(*envFile); err != nil && !os.IsNotExist(err) {
		logger.WithError(err).Warn("Failed to load env file")
	}

	logger.WithFields(logrus.Fields{
		"version": Version,
		"build":   BuildTime,
		"commit":  GitCommit,
	}).Info("Starting jerosync")

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	applyLogLevel(logger, cfg.LogLevel, *verbose)
	if *verbose {
		logger.Info("Verbose logging enabled - principal ids and message content will be logged")
	}

	tracingManager := tracing.NewTracingManager(cfg.Tracing, Version, logger)
	if err := tracingManager.Initialize(ctx); err != nil {
		logger.Warnf("Failed to initialize tracing: %v", err)
	}
	defer func() {
		if err := tracingManager.Shutdown(context.Background()); err != nil {
			logger.Warnf("Failed to shutdown tracing: %v", err)
		}
	}()

	db, err := openDatabase(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	id, err := resolveIdentity(ctx, cfg, db, logger)
	if err != nil {
		return err
	}

	gw := gateway.NewClient(gateway.Options{
		BaseURL:            cfg.Gateway.BaseURL,
		Token:              id.Token,
		Timeout:            time.Duration(cfg.Gateway.TimeoutSec) * time.Second,
		BreakerMaxFailures: uint32(cfg.Gateway.BreakerMaxFailures),
		BreakerReset:       time.Duration(cfg.Gateway.BreakerResetTimeSec) * time.Second,
		Logger:             logger,
	})

	session := service.NewSession(gw, id, db.SessionStore(id.Principal), service.SessionOptionsFromConfig(cfg), logger)
	hub := NewEventHub(logger)
	wireEvents(session, hub)

	sessionCtx := service.WithVerbose(ctx, *verbose)
	if err := session.Start(sessionCtx); err != nil {
		if apperrors.Is(err, apperrors.ErrCodeUnauthorized) {
			return fmt.Errorf("identity rejected: %w", err)
		}
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.Stop()

	session.OnExpired(func() {
		logger.WithField(service.LogFieldPrincipal, privacy.MaskPrincipal(id.Principal)).
			Warn("Identity token expired; provide a new token and restart")
	})

	watcher := config.NewWatcher(*configPath, logger)
	watcher.OnConfigChange(func(newCfg *models.Config) {
		applyLogLevel(logger, newCfg.LogLevel, *verbose)
	})
	go func() {
		if err := watcher.Start(ctx); err != nil {
			logger.WithError(err).Warn("Configuration watcher stopped")
		}
	}()

	server := NewServer(cfg.Server, session, hub, logger, *verbose)
	serverErrCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			serverErrCh <- fmt.Errorf("server error: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	case err := <-serverErrCh:
		logger.Error(err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(constants.DefaultGracefulShutdownSec)*time.Second)
	defer cancel()

	hub.CloseAll()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server gracefully: %w", err)
	}

	logger.Info("Server shutdown completed")
	return nil
}

// applyLogLevel sets the configured level; -verbose always wins with debug
func applyLogLevel(logger *logrus.Logger, configured string, verboseMode bool) {
	if verboseMode {
		logger.SetLevel(logrus.DebugLevel)
		return
	}
	level, err := logrus.ParseLevel(configured)
	if err != nil {
		logger.Warnf("Invalid log level %q, defaulting to info", configured)
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// openDatabase initializes SQLite with exponential backoff. Invalid paths
// are not retried.
func openDatabase(ctx context.Context, cfg *models.Config, logger *logrus.Logger) (*database.Database, error) {
	backoffConfig := retry.FromRetryConfig(cfg.Retry)
	backoffConfig.MaxAttempts = constants.DefaultDatabaseRetryAttempts

	backoff := retry.NewBackoff(backoffConfig).OnRetry(func(attempt int, delay time.Duration, err error) {
		logger.WithFields(logrus.Fields{
			service.LogFieldAttempt: attempt,
			"delay_ms":              delay.Milliseconds(),
		}).WithError(err).Warn("Failed to initialize database, retrying")
	})

	var db *database.Database
	err := backoff.RetryWithPredicate(ctx, func() error {
		var initErr error
		db, initErr = database.New(cfg.Database.Path)
		return initErr
	}, isRetryableInitError)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return db, nil
}

func isRetryableInitError(err error) bool {
	msg := err.Error()
	return !strings.HasPrefix(msg, "invalid database path") &&
		!strings.HasPrefix(msg, "failed to initialize encryptor")
}

// resolveIdentity prefers a token from configuration and persists it;
// otherwise it falls back to the token saved by a previous run.
func resolveIdentity(ctx context.Context, cfg *models.Config, db *database.Database, logger *logrus.Logger) (*identity.Identity, error) {
	if cfg.Gateway.IdentityToken != "" {
		id, err := identity.FromToken(cfg.Gateway.IdentityToken)
		if err != nil {
			return nil, fmt.Errorf("invalid identity token: %w", err)
		}
		if err := db.SaveIdentity(ctx, id.Principal, id.Token, id.ExpiresAt); err != nil {
			logger.WithError(err).Warn("Failed to persist identity token")
		}
		return id, nil
	}

	stored, err := db.LoadIdentity(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load stored identity: %w", err)
	}
	if stored == nil {
		return nil, fmt.Errorf("no identity token configured (set JEROSYNC_IDENTITY_TOKEN)")
	}

	id, err := identity.FromToken(stored.Token)
	if err != nil {
		return nil, fmt.Errorf("stored identity token is invalid: %w", err)
	}
	logger.WithField(service.LogFieldPrincipal, privacy.MaskPrincipal(id.Principal)).Info("Using stored identity")
	return id, nil
}
