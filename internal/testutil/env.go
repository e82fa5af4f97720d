package testutil

import (
	"testing"

	"github.com/jonboulle/clockwork"

	"aperture/internal/aperture"
	"aperture/internal/database"
	"aperture/internal/fs"
	"aperture/internal/media"
	"aperture/internal/model"
	"aperture/internal/storage"
)

// Env is a fully wired core over an in-memory database and content store.
type Env struct {
	DB          *database.SQLiteDatabase
	Store       *storage.FileSystemStore
	Clock       *clockwork.FakeClock
	IDs         *StubIDGenerator
	Events      *aperture.EventBus
	Credentials *aperture.CredentialStore
	Registry    *aperture.DeviceRegistry
	Ledger      *aperture.ContentLedger
	Gateway     *aperture.TransferGateway
	Coordinator *aperture.SyncCoordinator
}

// EnvOption adjusts an Env before it is wired.
type EnvOption func(*envConfig)

type envConfig struct {
	store  *storage.FileSystemStore
	ignore []string
	hash   aperture.HashParams
}

// WithStore uses s instead of a fresh in-memory store.
func WithStore(s *storage.FileSystemStore) EnvOption {
	return func(c *envConfig) { c.store = s }
}

// WithIgnore rejects pushes matching patterns.
func WithIgnore(patterns ...string) EnvOption {
	return func(c *envConfig) { c.ignore = patterns }
}

// WithHashParams selects the credential digest. Tests default to sha256 for speed.
func WithHashParams(p aperture.HashParams) EnvOption {
	return func(c *envConfig) { c.hash = p }
}

// NewEnv wires every core component for a test.
func NewEnv(t testing.TB, opts ...EnvOption) *Env {
	t.Helper()

	cfg := envConfig{hash: aperture.HashParams{Algorithm: model.HashSHA256}}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.store == nil {
		cfg.store = storage.NewMemoryStore(8)
	}

	logger := aperture.NewNopLogger()
	env := &Env{
		DB:     NewTestDatabase(t),
		Store:  cfg.store,
		Clock:  FixedClock(),
		IDs:    NewStubIDGenerator(),
		Events: aperture.NewEventBus(16, logger),
	}
	t.Cleanup(env.Events.Close)

	env.Credentials = aperture.NewCredentialStore(env.DB, cfg.hash, env.Clock)
	env.Registry = aperture.NewDeviceRegistry(env.DB, env.Clock)
	env.Ledger = aperture.NewContentLedger(env.DB, env.Clock, env.IDs)
	env.Gateway = aperture.NewTransferGateway(env.Ledger, env.Store, media.NewInspector(), logger,
		aperture.WithIgnore(fs.NewIgnoreMatcher(cfg.ignore)))
	env.Coordinator = aperture.NewSyncCoordinator(env.Registry, env.Credentials, env.Ledger,
		env.Gateway, env.Events, env.Clock, logger)
	return env
}
