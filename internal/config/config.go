package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/bnema/rotor/internal/application"
	"github.com/bnema/rotor/internal/domain"
)

const (
	configName      = "config"
	configType      = "toml"
	EnvPrefix       = "ROTOR"
	StateDirKey     = "state_dir"
	defaultStateDir = ".rotor"
)

const (
	SnapshotBackendFile   = "file"
	SnapshotBackendSQLite = "sqlite"

	SecretsBackendFile = "file"
	SecretsBackendPass = "pass"
)

type Config struct {
	StateDir string         `mapstructure:"state_dir"`
	Fleet    FleetConfig    `mapstructure:"fleet"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Session  SessionConfig  `mapstructure:"session"`
	Ledger   LedgerConfig   `mapstructure:"ledger"`
	Monitor  MonitorConfig  `mapstructure:"monitor"`
	Dispatch DispatchConfig `mapstructure:"dispatch"`
	Snapshot SnapshotConfig `mapstructure:"snapshot"`
	Secrets  SecretsConfig  `mapstructure:"secrets"`
	Status   StatusConfig   `mapstructure:"status"`
	Driver   DriverConfig   `mapstructure:"driver"`
	Log      LogConfig      `mapstructure:"log"`
}

type FleetConfig struct {
	Sessions         int           `mapstructure:"sessions"`
	Roles            []string      `mapstructure:"roles"`
	Tick             time.Duration `mapstructure:"tick"`
	OpenRate         float64       `mapstructure:"open_rate"`
	OpenBurst        int           `mapstructure:"open_burst"`
	RotationInterval time.Duration `mapstructure:"rotation_interval"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	ExhaustedBase    time.Duration `mapstructure:"exhausted_base"`
	ExhaustedCap     time.Duration `mapstructure:"exhausted_cap"`
}

type PoolConfig struct {
	Alpha        float64 `mapstructure:"alpha"`
	Beta         float64 `mapstructure:"beta"`
	Floor        float64 `mapstructure:"floor"`
	ResetRate    float64 `mapstructure:"reset_rate"`
	Accounts     int     `mapstructure:"accounts"`
	Routes       int     `mapstructure:"routes"`
	Fingerprints int     `mapstructure:"fingerprints"`
	Seed         int64   `mapstructure:"seed"`
}

type SessionConfig struct {
	BaseBackoff       time.Duration `mapstructure:"base_backoff"`
	BackoffMultiplier float64       `mapstructure:"backoff_multiplier"`
	MaxBackoff        time.Duration `mapstructure:"max_backoff"`
	MaxAttempts       int           `mapstructure:"max_attempts"`
	HandshakeTimeout  time.Duration `mapstructure:"handshake_timeout"`
	StableAfter       time.Duration `mapstructure:"stable_after"`
	MinDwell          time.Duration `mapstructure:"min_dwell"`
	HealthInterval    time.Duration `mapstructure:"health_interval"`
}

type LedgerConfig struct {
	MaxEntries   int `mapstructure:"max_entries"`
	PersistEvery int `mapstructure:"persist_every"`
	SnapshotTail int `mapstructure:"snapshot_tail"`
}

type MonitorConfig struct {
	Interval         time.Duration `mapstructure:"interval"`
	Window           time.Duration `mapstructure:"window"`
	HighActivity     int           `mapstructure:"high_activity"`
	UnrealisticCount int           `mapstructure:"unrealistic_count"`
	AlertThreshold   int           `mapstructure:"alert_threshold"`
}

type DispatchConfig struct {
	RandomPicks        int           `mapstructure:"random_picks"`
	IdempotenceWindow  time.Duration `mapstructure:"idempotence_window"`
	ImperfectionRelief int           `mapstructure:"imperfection_relief"`
}

type SnapshotConfig struct {
	Backend string `mapstructure:"backend"`
}

type SecretsConfig struct {
	// Backend "pass" tries pass first and falls back to files under the state dir.
	Backend string `mapstructure:"backend"`
}

type StatusConfig struct {
	Addr string `mapstructure:"addr"`
}

type DriverConfig struct {
	FailureRate float64       `mapstructure:"failure_rate"`
	DropRate    float64       `mapstructure:"drop_rate"`
	Latency     time.Duration `mapstructure:"latency"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultStateDir is ~/.rotor.
func DefaultStateDir() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(homeDir, defaultStateDir), nil
}

// Load reads config.toml from the state directory when it exists, applies
// ROTOR_ environment overrides and defaults, and validates the result. Flags
// bound to v before Load take precedence over the file.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = viper.New()
	}

	stateDir := v.GetString(StateDirKey)
	if stateDir == "" {
		dir, err := DefaultStateDir()
		if err != nil {
			return Config{}, err
		}
		stateDir = dir
	}
	v.Set(StateDirKey, stateDir)
	setDefaults(v)

	v.SetConfigName(configName)
	v.SetConfigType(configType)
	v.AddConfigPath(stateDir)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configNotFound) {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	fleet := application.DefaultOrchestratorOptions()
	roles := make([]string, 0, len(fleet.Roles))
	for _, role := range fleet.Roles {
		roles = append(roles, string(role))
	}
	v.SetDefault("fleet.sessions", fleet.Sessions)
	v.SetDefault("fleet.roles", roles)
	v.SetDefault("fleet.tick", fleet.Tick)
	v.SetDefault("fleet.open_rate", fleet.OpenRate)
	v.SetDefault("fleet.open_burst", fleet.OpenBurst)
	v.SetDefault("fleet.rotation_interval", fleet.RotationInterval)
	v.SetDefault("fleet.snapshot_interval", fleet.SnapshotInterval)
	v.SetDefault("fleet.exhausted_base", fleet.ExhaustedBase)
	v.SetDefault("fleet.exhausted_cap", fleet.ExhaustedCap)

	pool := application.DefaultPoolOptions()
	sizes := application.DefaultPoolSizes()
	v.SetDefault("pool.alpha", pool.Alpha)
	v.SetDefault("pool.beta", pool.Beta)
	v.SetDefault("pool.floor", pool.Floor)
	v.SetDefault("pool.reset_rate", pool.ResetRate)
	v.SetDefault("pool.accounts", sizes.Accounts)
	v.SetDefault("pool.routes", sizes.Routes)
	v.SetDefault("pool.fingerprints", sizes.Fingerprints)
	v.SetDefault("pool.seed", 0)

	session := application.DefaultLifecycleOptions()
	v.SetDefault("session.base_backoff", session.BaseBackoff)
	v.SetDefault("session.backoff_multiplier", session.BackoffMultiplier)
	v.SetDefault("session.max_backoff", session.MaxBackoff)
	v.SetDefault("session.max_attempts", session.MaxAttempts)
	v.SetDefault("session.handshake_timeout", session.HandshakeTimeout)
	v.SetDefault("session.stable_after", session.StableAfter)
	v.SetDefault("session.min_dwell", session.MinDwell)
	v.SetDefault("session.health_interval", session.HealthInterval)

	ledger := application.DefaultLedgerOptions()
	v.SetDefault("ledger.max_entries", ledger.MaxEntries)
	v.SetDefault("ledger.persist_every", ledger.PersistEvery)
	v.SetDefault("ledger.snapshot_tail", ledger.SnapshotTail)

	monitor := application.DefaultMonitorOptions()
	v.SetDefault("monitor.interval", monitor.Interval)
	v.SetDefault("monitor.window", monitor.Window)
	v.SetDefault("monitor.high_activity", monitor.HighActivity)
	v.SetDefault("monitor.unrealistic_count", monitor.UnrealisticCount)
	v.SetDefault("monitor.alert_threshold", monitor.AlertThreshold)

	dispatch := application.DefaultDispatchOptions()
	v.SetDefault("dispatch.random_picks", dispatch.RandomPicks)
	v.SetDefault("dispatch.idempotence_window", dispatch.IdempotenceWindow)
	v.SetDefault("dispatch.imperfection_relief", dispatch.ImperfectionRelief)

	v.SetDefault("snapshot.backend", SnapshotBackendFile)
	v.SetDefault("secrets.backend", SecretsBackendFile)
	v.SetDefault("status.addr", "127.0.0.1:7070")
	v.SetDefault("driver.failure_rate", 0.1)
	v.SetDefault("driver.drop_rate", 0.01)
	v.SetDefault("driver.latency", 50*time.Millisecond)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}

// Validate reports every invalid value at once.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(c.StateDir != "", "state_dir is empty")

	check(c.Fleet.Sessions >= 0, "fleet.sessions must not be negative, got %d", c.Fleet.Sessions)
	check(len(c.Fleet.Roles) > 0, "fleet.roles is empty")
	if _, err := domain.ParseRoles(c.Fleet.Roles); err != nil {
		errs = append(errs, fmt.Errorf("fleet.roles: %w", err))
	}
	check(c.Fleet.Tick > 0, "fleet.tick must be positive")
	check(c.Fleet.OpenRate >= 0, "fleet.open_rate must not be negative")
	check(c.Fleet.OpenBurst >= 1, "fleet.open_burst must be at least 1")
	check(c.Fleet.ExhaustedBase > 0, "fleet.exhausted_base must be positive")
	check(c.Fleet.ExhaustedCap >= c.Fleet.ExhaustedBase, "fleet.exhausted_cap must be at least fleet.exhausted_base")

	check(c.Pool.Alpha > 0 && c.Pool.Alpha <= 1, "pool.alpha must be in (0, 1], got %v", c.Pool.Alpha)
	check(c.Pool.Beta > 0 && c.Pool.Beta <= 1, "pool.beta must be in (0, 1], got %v", c.Pool.Beta)
	check(c.Pool.Floor >= 0 && c.Pool.Floor <= 1, "pool.floor must be in [0, 1], got %v", c.Pool.Floor)
	check(c.Pool.ResetRate >= 0 && c.Pool.ResetRate <= 1, "pool.reset_rate must be in [0, 1], got %v", c.Pool.ResetRate)
	check(c.Pool.Accounts > 0, "pool.accounts must be positive")
	check(c.Pool.Routes > 0, "pool.routes must be positive")
	check(c.Pool.Fingerprints > 0, "pool.fingerprints must be positive")

	check(c.Session.BaseBackoff > 0, "session.base_backoff must be positive")
	check(c.Session.BackoffMultiplier >= 1, "session.backoff_multiplier must be at least 1, got %v", c.Session.BackoffMultiplier)
	check(c.Session.MaxBackoff >= c.Session.BaseBackoff, "session.max_backoff must be at least session.base_backoff")
	check(c.Session.MaxAttempts > 0, "session.max_attempts must be positive")
	check(c.Session.HandshakeTimeout > 0, "session.handshake_timeout must be positive")

	check(c.Ledger.MaxEntries > 0, "ledger.max_entries must be positive")
	check(c.Ledger.PersistEvery > 0, "ledger.persist_every must be positive")
	check(c.Ledger.SnapshotTail >= 0, "ledger.snapshot_tail must not be negative")

	check(c.Monitor.Interval > 0, "monitor.interval must be positive")
	check(c.Monitor.Window >= 0, "monitor.window must not be negative")
	check(c.Monitor.AlertThreshold >= 0 && c.Monitor.AlertThreshold <= 100, "monitor.alert_threshold must be in [0, 100]")

	check(c.Dispatch.RandomPicks >= 0, "dispatch.random_picks must not be negative")

	check(c.Snapshot.Backend == SnapshotBackendFile || c.Snapshot.Backend == SnapshotBackendSQLite,
		"unknown snapshot.backend %q (want %s or %s)", c.Snapshot.Backend, SnapshotBackendFile, SnapshotBackendSQLite)
	check(c.Secrets.Backend == SecretsBackendFile || c.Secrets.Backend == SecretsBackendPass,
		"unknown secrets.backend %q (want %s or %s)", c.Secrets.Backend, SecretsBackendFile, SecretsBackendPass)

	check(c.Driver.FailureRate >= 0 && c.Driver.FailureRate <= 1, "driver.failure_rate must be in [0, 1]")
	check(c.Driver.DropRate >= 0 && c.Driver.DropRate <= 1, "driver.drop_rate must be in [0, 1]")

	check(c.Log.Format == "json" || c.Log.Format == "console", "unknown log.format %q", c.Log.Format)

	return errors.Join(errs...)
}

func (c Config) PoolsPath() string {
	return filepath.Join(c.StateDir, "pools.toml")
}

func (c Config) SecretsDir() string {
	return filepath.Join(c.StateDir, "secrets")
}

func (c Config) SnapshotPath() string {
	if c.Snapshot.Backend == SnapshotBackendSQLite {
		return filepath.Join(c.StateDir, "ledger.db")
	}
	return filepath.Join(c.StateDir, "ledger.jsonl")
}

func (c Config) PoolOptions() application.PoolOptions {
	return application.PoolOptions{
		Alpha:     c.Pool.Alpha,
		Beta:      c.Pool.Beta,
		Floor:     c.Pool.Floor,
		ResetRate: c.Pool.ResetRate,
	}
}

func (c Config) PoolSizes() application.PoolSizes {
	return application.PoolSizes{
		Accounts:     c.Pool.Accounts,
		Routes:       c.Pool.Routes,
		Fingerprints: c.Pool.Fingerprints,
	}
}

func (c Config) LifecycleOptions() application.LifecycleOptions {
	return application.LifecycleOptions{
		BaseBackoff:       c.Session.BaseBackoff,
		BackoffMultiplier: c.Session.BackoffMultiplier,
		MaxBackoff:        c.Session.MaxBackoff,
		MaxAttempts:       c.Session.MaxAttempts,
		HandshakeTimeout:  c.Session.HandshakeTimeout,
		StableAfter:       c.Session.StableAfter,
		MinDwell:          c.Session.MinDwell,
		HealthInterval:    c.Session.HealthInterval,
	}
}

func (c Config) LedgerOptions() application.LedgerOptions {
	opts := application.DefaultLedgerOptions()
	opts.MaxEntries = c.Ledger.MaxEntries
	opts.PersistEvery = c.Ledger.PersistEvery
	opts.SnapshotTail = c.Ledger.SnapshotTail
	return opts
}

func (c Config) MonitorOptions() application.MonitorOptions {
	return application.MonitorOptions{
		Interval:         c.Monitor.Interval,
		Window:           c.Monitor.Window,
		HighActivity:     c.Monitor.HighActivity,
		UnrealisticCount: c.Monitor.UnrealisticCount,
		AlertThreshold:   c.Monitor.AlertThreshold,
	}
}

func (c Config) DispatchOptions() application.DispatchOptions {
	return application.DispatchOptions{
		RandomPicks:        c.Dispatch.RandomPicks,
		IdempotenceWindow:  c.Dispatch.IdempotenceWindow,
		ImperfectionRelief: c.Dispatch.ImperfectionRelief,
	}
}

// OrchestratorOptions fails only on roles, which Validate already checked.
func (c Config) OrchestratorOptions() (application.OrchestratorOptions, error) {
	roles, err := domain.ParseRoles(c.Fleet.Roles)
	if err != nil {
		return application.OrchestratorOptions{}, fmt.Errorf("parse fleet roles: %w", err)
	}

	return application.OrchestratorOptions{
		Sessions:         c.Fleet.Sessions,
		Roles:            roles,
		Tick:             c.Fleet.Tick,
		OpenRate:         c.Fleet.OpenRate,
		OpenBurst:        c.Fleet.OpenBurst,
		RotationInterval: c.Fleet.RotationInterval,
		SnapshotInterval: c.Fleet.SnapshotInterval,
		ExhaustedBase:    c.Fleet.ExhaustedBase,
		ExhaustedCap:     c.Fleet.ExhaustedCap,
	}, nil
}
