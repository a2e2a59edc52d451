package toml

import "fmt"

const currentSchemaVersion = 1

// poolsFileSchema is the on-disk layout of pools.toml. Each pool kind owns
// one array of tables; repositories for different kinds share the file.
type poolsFileSchema struct {
	Version      int                 `toml:"version"`
	Accounts     []accountSchema     `toml:"accounts"`
	Routes       []routeSchema       `toml:"routes"`
	Fingerprints []fingerprintSchema `toml:"fingerprints"`
}

func (s *poolsFileSchema) applyDefaults() {
	if s.Version == 0 {
		s.Version = currentSchemaVersion
	}
}

func (s poolsFileSchema) validateVersion() error {
	if s.Version > currentSchemaVersion {
		return fmt.Errorf("unsupported pools schema version %d (current %d)", s.Version, currentSchemaVersion)
	}

	return nil
}

type accountSchema struct {
	ID            string  `toml:"id"`
	Handle        string  `toml:"handle"`
	SecretRef     string  `toml:"secret_ref,omitempty"`
	CreatedAt     string  `toml:"created_at,omitempty"`
	Tier          string  `toml:"tier,omitempty"`
	SuccessRate   float64 `toml:"success_rate"`
	LastUsedAt    string  `toml:"last_used_at,omitempty"`
	FailureStreak int     `toml:"failure_streak,omitempty"`
}

type routeSchema struct {
	ID            string  `toml:"id"`
	Address       string  `toml:"address"`
	Port          int     `toml:"port"`
	Protocol      string  `toml:"protocol"`
	Class         string  `toml:"class"`
	Country       string  `toml:"country"`
	SuccessRate   float64 `toml:"success_rate"`
	LastUsedAt    string  `toml:"last_used_at,omitempty"`
	FailureStreak int     `toml:"failure_streak,omitempty"`
}

type fingerprintSchema struct {
	ID             string  `toml:"id"`
	ClientName     string  `toml:"client_name"`
	ClientVersion  string  `toml:"client_version"`
	Launcher       string  `toml:"launcher"`
	Locale         string  `toml:"locale"`
	ViewDistance   int     `toml:"view_distance"`
	RenderDistance int     `toml:"render_distance"`
	EntityDistance int     `toml:"entity_distance"`
	MaxFPS         int     `toml:"max_fps"`
	SuccessRate    float64 `toml:"success_rate"`
	LastUsedAt     string  `toml:"last_used_at,omitempty"`
	FailureStreak  int     `toml:"failure_streak,omitempty"`
}
