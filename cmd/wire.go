package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	statusadapter "github.com/bnema/rotor/internal/adapters/render/status"
	tomlrepo "github.com/bnema/rotor/internal/adapters/repo/toml"
	chainstore "github.com/bnema/rotor/internal/adapters/secrets/chain"
	filestore "github.com/bnema/rotor/internal/adapters/secrets/file"
	filesnapshot "github.com/bnema/rotor/internal/adapters/snapshot/file"
	sqlitesnapshot "github.com/bnema/rotor/internal/adapters/snapshot/sqlite"
	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/config"
	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

type app struct {
	cfg            config.Config
	logger         *zap.Logger
	random         ports.Random
	repos          application.PoolRepositories
	accounts       ports.ResourceRepository[domain.AccountAttributes]
	secretStore    ports.SecretStore
	pools          *application.PoolService
	credentials    *application.CredentialService
	statusRenderer func(application.FleetStatus, statusadapter.RenderOptions) (string, error)
	httpClient     *http.Client
	now            func() time.Time
}

// snapshotBackend is a ledger snapshot store that can also report the last
// snapshot written by a previous run.
type snapshotBackend interface {
	ports.SnapshotStore
	Latest(ctx context.Context) (domain.LedgerSnapshot, error)
}

func (a *app) wire(cmd *cobra.Command) error {
	v := viper.New()
	for key, flag := range map[string]string{
		config.StateDirKey: "state-dir",
		"log.level":        "log-level",
		"log.format":       "log-format",
	} {
		if f := cmd.Flags().Lookup(flag); f != nil && f.Changed {
			if err := v.BindPFlag(key, f); err != nil {
				return fmt.Errorf("bind --%s: %w", flag, err)
			}
		}
	}

	cfg, err := config.Load(v)
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		return err
	}

	accounts, err := tomlrepo.NewAccountRepository(cfg.PoolsPath())
	if err != nil {
		return fmt.Errorf("wire account repository: %w", err)
	}
	routes, err := tomlrepo.NewRouteRepository(cfg.PoolsPath())
	if err != nil {
		return fmt.Errorf("wire route repository: %w", err)
	}
	fingerprints, err := tomlrepo.NewFingerprintRepository(cfg.PoolsPath())
	if err != nil {
		return fmt.Errorf("wire fingerprint repository: %w", err)
	}

	secretStore, err := newSecretStore(cfg)
	if err != nil {
		return err
	}

	random := ports.NewSeededRandom(cfg.Pool.Seed)
	repos := application.PoolRepositories{Accounts: accounts, Routes: routes, Fingerprints: fingerprints}

	a.cfg = cfg
	a.logger = logger
	a.random = random
	a.repos = repos
	a.accounts = accounts
	a.secretStore = secretStore
	a.pools = application.NewPoolService(repos, cfg.PoolOptions(), cfg.PoolSizes(), ports.SystemClock{}, random, logger)
	a.credentials = application.NewCredentialService(accounts, secretStore)
	if a.statusRenderer == nil {
		a.statusRenderer = statusadapter.Render
	}
	if a.httpClient == nil {
		a.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if a.now == nil {
		a.now = time.Now
	}
	return nil
}

func (a *app) close() {
	if a.logger != nil {
		_ = a.logger.Sync()
	}
}

func newLogger(cfg config.LogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}

	logger, err := zapConfig.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger.Named("rotor"), nil
}

func newSecretStore(cfg config.Config) (ports.SecretStore, error) {
	if cfg.Secrets.Backend == config.SecretsBackendPass {
		store, err := chainstore.NewPassFirstWithFileFallback(cfg.SecretsDir())
		if err != nil {
			return nil, fmt.Errorf("wire secret store chain: %w", err)
		}
		return store, nil
	}
	return filestore.NewStore(cfg.SecretsDir()), nil
}

func openSnapshotStore(ctx context.Context, cfg config.Config) (snapshotBackend, error) {
	if err := os.MkdirAll(cfg.StateDir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	switch cfg.Snapshot.Backend {
	case config.SnapshotBackendSQLite:
		store, err := sqlitesnapshot.Open(ctx, cfg.SnapshotPath())
		if err != nil {
			return nil, fmt.Errorf("open sqlite snapshot store: %w", err)
		}
		return store, nil
	default:
		store, err := filesnapshot.NewStore(cfg.SnapshotPath())
		if err != nil {
			return nil, fmt.Errorf("open snapshot file: %w", err)
		}
		return store, nil
	}
}

// logPreviousSnapshot reports where the last run left the ledger. Snapshots
// are informational only; pools are reseeded from their own repository.
func logPreviousSnapshot(ctx context.Context, store snapshotBackend, logger *zap.Logger) {
	snapshot, err := store.Latest(ctx)
	switch {
	case errors.Is(err, filesnapshot.ErrNoSnapshot), errors.Is(err, sqlitesnapshot.ErrNoSnapshot):
		logger.Info("no previous ledger snapshot")
	case err != nil:
		logger.Warn("read previous ledger snapshot", zap.Error(err))
	default:
		logger.Info("previous ledger snapshot",
			zap.Time("taken_at", snapshot.TakenAt),
			zap.Int("size", snapshot.Size),
			zap.Int("suspicion_level", snapshot.SuspicionLevel),
		)
	}
}
