// Package app wires the aperture components from configuration.
package app

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/afero"

	"aperture/internal/aperture"
	"aperture/internal/config"
	"aperture/internal/database"
	"aperture/internal/fs"
	"aperture/internal/media"
	"aperture/internal/model"
	"aperture/internal/server"
	"aperture/internal/storage"
)

// App is the application layer between the CLI and the sync coordinator.
// It constructs all dependencies from config and owns their lifecycle.
type App struct {
	cfg         *config.Config
	db          *database.SQLiteDatabase
	store       aperture.ContentStore
	events      *aperture.EventBus
	registry    *aperture.DeviceRegistry
	ledger      *aperture.ContentLedger
	coordinator *aperture.SyncCoordinator
	clock       aperture.Clock
	logger      aperture.Logger
	logFile     *os.File
}

// NewApp creates a fully wired App from the given config.
// The caller must call Close when done.
func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger, logFile, err := newLogger(cfg.LogDir, cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("creating logger: %w", err)
	}
	closeLog := func() {
		if logFile != nil {
			logFile.Close()
		}
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.ServerID)
	if err != nil {
		closeLog()
		return nil, fmt.Errorf("creating database: %w", err)
	}
	if err := db.CheckMigrations(); err != nil {
		db.Close()
		closeLog()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	store, err := storage.NewContentStoreFromConfig(ctx, cfg.Storage)
	if err != nil {
		db.Close()
		closeLog()
		return nil, fmt.Errorf("creating content store: %w", err)
	}

	ignore, err := loadIgnoreMatcher(afero.NewOsFs(), cfg.Storage)
	if err != nil {
		db.Close()
		closeLog()
		return nil, err
	}

	clock := aperture.NewRealClock()
	events := aperture.NewEventBus(0, logger)
	credentials := aperture.NewCredentialStore(db, hashParams(cfg.Credentials), clock)
	registry := aperture.NewDeviceRegistry(db, clock)
	ledger := aperture.NewContentLedger(db, clock, aperture.UUIDGenerator{})
	gateway := aperture.NewTransferGateway(ledger, store, media.NewInspector(), logger,
		aperture.WithIgnore(ignore),
		aperture.WithPerceptualHash(cfg.Media.PerceptualHash))
	coordinator := aperture.NewSyncCoordinator(registry, credentials, ledger, gateway, events, clock, logger)

	return &App{
		cfg:         cfg,
		db:          db,
		store:       store,
		events:      events,
		registry:    registry,
		ledger:      ledger,
		coordinator: coordinator,
		clock:       clock,
		logger:      logger,
		logFile:     logFile,
	}, nil
}

// loadIgnoreMatcher combines the configured patterns with those of the ignore file.
func loadIgnoreMatcher(fsys afero.Fs, cfg config.StorageConfig) (*fs.IgnoreMatcher, error) {
	patterns := append([]string{}, cfg.Ignore...)
	if cfg.IgnoreFile != "" {
		filePatterns, err := fs.ParseIgnoreFile(fsys, cfg.IgnoreFile)
		if err != nil {
			return nil, fmt.Errorf("loading ignore file: %w", err)
		}
		patterns = append(patterns, filePatterns...)
	}
	return fs.NewIgnoreMatcher(patterns), nil
}

func hashParams(cfg config.CredentialsConfig) aperture.HashParams {
	return aperture.HashParams{
		Algorithm: model.HashAlgorithm(cfg.Algorithm),
		MemoryKiB: cfg.Argon2MemoryKiB,
		Time:      cfg.Argon2Time,
		Threads:   cfg.Argon2Threads,
	}
}

// Coordinator returns the sync coordinator.
func (a *App) Coordinator() *aperture.SyncCoordinator {
	return a.coordinator
}

// Serve runs the HTTP server until ctx is cancelled.
func (a *App) Serve(ctx context.Context) error {
	srv := server.New(a.coordinator, a.cfg.Server, a.logger)
	a.logger.Info("serving",
		"server_id", a.cfg.ServerID,
		"database", a.db.Path(),
		"storage", a.cfg.Storage.Type)
	return srv.Run(ctx)
}

// Devices returns every paired device.
func (a *App) Devices(ctx context.Context) ([]*model.Device, error) {
	return a.registry.List(ctx)
}

// Entries returns the ledger of one device.
func (a *App) Entries(ctx context.Context, deviceID string) ([]*model.LocalEntry, error) {
	if _, err := a.registry.Lookup(ctx, deviceID); err != nil {
		return nil, err
	}
	return a.ledger.List(ctx, deviceID)
}

// Close stops event delivery and closes the database and log file.
func (a *App) Close() error {
	var firstErr error

	a.events.Close()
	if err := a.db.Close(); err != nil {
		firstErr = fmt.Errorf("closing database: %w", err)
	}
	if a.logFile != nil {
		a.logFile.Close()
	}
	return firstErr
}
