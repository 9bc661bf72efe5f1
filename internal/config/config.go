package config

import (
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	Port     int    `envconfig:"PORT" default:"5757"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Version  string `envconfig:"VERSION" default:"dev"`

	// DbName is the logical database name exposed in route paths.
	DbName  string `envconfig:"DB_NAME" default:"default"`
	DataDir string `envconfig:"DATA_DIR" default:"./data"`

	// AuthEnabled gates every data operation behind the rule engine.
	// When false, access checks allow everything.
	AuthEnabled bool `envconfig:"AUTH_ENABLED" default:"true"`

	// DefaultAccess seeds the synthesized rule tree when no rules
	// document exists: "deny", "allow" or "auth".
	DefaultAccess string `envconfig:"DEFAULT_ACCESS" default:"auth"`

	RulesFile string `envconfig:"RULES_FILE" default:""`

	SessionCacheSize int           `envconfig:"SESSION_CACHE_SIZE" default:"1000"`
	SessionCacheTTL  time.Duration `envconfig:"SESSION_CACHE_TTL" default:"1h"`

	// RedisAddr switches the session cache to a shared Redis backend
	// when set; empty means the bounded in-memory cache.
	RedisAddr     string `envconfig:"REDIS_ADDR" default:""`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`

	// AuditDatabaseURL enables the durable Postgres audit sink when set;
	// audit events always go to the structured log regardless.
	AuditDatabaseURL string `envconfig:"AUDIT_DATABASE_URL" default:""`

	TxnTimeout time.Duration `envconfig:"TXN_TIMEOUT" default:"10s"`
}

// Load reads configuration from environment variables into a Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.RulesFile == "" {
		cfg.RulesFile = filepath.Join(cfg.DataDir, "rules.json")
	}
	return &cfg, nil
}
