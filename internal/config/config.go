// Package config loads lakekeeperd settings. Precedence is defaults, then an
// optional lakekeeper.yaml, then LAKEKEEPER__* environment variables with
// double-underscore section separators (LAKEKEEPER__DEBUG__AUTO_SERVE).
// Unknown LAKEKEEPER__ keys are ignored with a warning so typos surface in
// the logs instead of silently falling back to defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend selectors.
const (
	AuthzAllowAll = "AllowAll"
	AuthzOpenFGA  = "OpenFGA"

	SecretsPostgres = "Postgres"
	SecretsKV2      = "KV2"
)

// Config is the full lakekeeperd configuration.
type Config struct {
	BindAddress string `yaml:"bind-address"`
	BaseURI     string `yaml:"base-uri"`

	PGDatabase      string `yaml:"pg-database"`
	PGMaxConns      int    `yaml:"pg-max-conns"`
	DefaultProject  string `yaml:"default-project-id"`
	LicenseToken    string `yaml:"license-token"`
	ServeOpenAPIDoc bool   `yaml:"serve-openapi-doc"`

	AuthorizationBackend string `yaml:"authorization-backend"`
	SecretBackend        string `yaml:"secret-backend"`

	Debug   DebugConfig   `yaml:"debug"`
	OpenFGA OpenFGAConfig `yaml:"openfga"`
	KV2     KV2Config     `yaml:"kv2"`
	Stats   StatsConfig   `yaml:"stats"`
	Queue   QueueConfig   `yaml:"queue"`
	Health  HealthConfig  `yaml:"health"`

	RateLimit RateLimitConfig `yaml:"rate-limit"`
}

// DebugConfig gates development conveniences.
type DebugConfig struct {
	// MigrateBeforeServe applies pending migrations at startup.
	MigrateBeforeServe bool `yaml:"migrate-before-serve"`
	// AutoServe skips the bootstrap requirement and serves immediately.
	AutoServe bool `yaml:"auto-serve"`
}

// OpenFGAConfig connects the relationship-based authorization backend.
type OpenFGAConfig struct {
	Endpoint string `yaml:"endpoint"`
	StoreID  string `yaml:"store-id"`
	APIKey   string `yaml:"api-key"`
	// CACertFile switches the client to TLS. CertFile and KeyFile add a
	// client keypair for mTLS endpoints.
	CACertFile string `yaml:"ca-cert-file"`
	CertFile   string `yaml:"cert-file"`
	KeyFile    string `yaml:"key-file"`
}

// KV2Config connects the Vault KV2 secret backend.
type KV2Config struct {
	Address    string `yaml:"address"`
	Token      string `yaml:"token"`
	Mount      string `yaml:"mount"`
	PathPrefix string `yaml:"path-prefix"`
}

// StatsConfig tunes the endpoint statistics flusher.
type StatsConfig struct {
	FlushInterval time.Duration `yaml:"flush-interval"`
	// RefreshCron schedules warehouse statistics recomputation.
	RefreshCron string `yaml:"refresh-cron"`
}

// QueueConfig tunes the task queue workers.
type QueueConfig struct {
	PollInterval  time.Duration `yaml:"poll-interval"`
	BatchSize     int           `yaml:"batch-size"`
	LeaseDuration time.Duration `yaml:"lease-duration"`
	MaxAttempts   int           `yaml:"max-attempts"`
	RetryDelay    time.Duration `yaml:"retry-delay"`
}

// RateLimitConfig tunes the per-client request throttle. Disabled unless
// turned on.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerSecond float64       `yaml:"requests-per-second"`
	Burst             int           `yaml:"burst"`
	IdleTimeout       time.Duration `yaml:"idle-timeout"`
}

// HealthConfig tunes the background prober.
type HealthConfig struct {
	ProbeInterval time.Duration `yaml:"probe-interval"`
	ProbeTimeout  time.Duration `yaml:"probe-timeout"`
}

// Default returns the configuration lakekeeperd runs with when nothing is
// set.
func Default() *Config {
	return &Config{
		BindAddress:          ":8181",
		PGMaxConns:           20,
		AuthorizationBackend: AuthzAllowAll,
		SecretBackend:        SecretsPostgres,
		KV2:                  KV2Config{Mount: "secret"},
		Stats: StatsConfig{
			FlushInterval: 30 * time.Second,
			RefreshCron:   "0 * * * *",
		},
		Queue: QueueConfig{
			PollInterval:  5 * time.Second,
			BatchSize:     10,
			LeaseDuration: time.Minute,
			MaxAttempts:   5,
			RetryDelay:    30 * time.Second,
		},
		Health: HealthConfig{
			ProbeInterval: 30 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             100,
			IdleTimeout:       5 * time.Minute,
		},
	}
}

// Load builds the configuration from defaults, the optional YAML file and
// the process environment, then validates it.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.Environ(), logger); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ResolvePath finds the optional config file. Priority: LAKEKEEPER_CONFIG
// env var, then ./lakekeeper.yaml, then none.
func ResolvePath() string {
	if p := os.Getenv("LAKEKEEPER_CONFIG"); p != "" {
		return p
	}
	if _, err := os.Stat("lakekeeper.yaml"); err == nil {
		return "lakekeeper.yaml"
	}
	return ""
}

const envPrefix = "LAKEKEEPER__"

func (c *Config) applyEnv(environ []string, logger *slog.Logger) error {
	for _, kv := range environ {
		name, value, _ := strings.Cut(kv, "=")
		key, ok := strings.CutPrefix(name, envPrefix)
		if !ok {
			continue
		}
		if err := c.applyKey(key, value, logger); err != nil {
			return fmt.Errorf("%s%s: %w", envPrefix, key, err)
		}
	}
	return nil
}

func (c *Config) applyKey(key, value string, logger *slog.Logger) error {
	var err error
	switch key {
	case "BIND_ADDRESS":
		c.BindAddress = value
	case "BASE_URI":
		c.BaseURI = value
	case "PG_DATABASE":
		c.PGDatabase = value
	case "PG_MAX_CONNS":
		c.PGMaxConns, err = strconv.Atoi(value)
	case "DEFAULT_PROJECT_ID":
		c.DefaultProject = value
	case "LICENSE_TOKEN":
		c.LicenseToken = value
	case "SERVE_OPENAPI_DOC":
		c.ServeOpenAPIDoc, err = strconv.ParseBool(value)
	case "AUTHORIZATION_BACKEND":
		c.AuthorizationBackend = value
	case "SECRET_BACKEND":
		c.SecretBackend = value
	case "DEBUG__MIGRATE_BEFORE_SERVE":
		c.Debug.MigrateBeforeServe, err = strconv.ParseBool(value)
	case "DEBUG__AUTO_SERVE":
		c.Debug.AutoServe, err = strconv.ParseBool(value)
	case "OPENFGA__ENDPOINT":
		c.OpenFGA.Endpoint = value
	case "OPENFGA__STORE_ID":
		c.OpenFGA.StoreID = value
	case "OPENFGA__API_KEY":
		c.OpenFGA.APIKey = value
	case "OPENFGA__CA_CERT_FILE":
		c.OpenFGA.CACertFile = value
	case "OPENFGA__CERT_FILE":
		c.OpenFGA.CertFile = value
	case "OPENFGA__KEY_FILE":
		c.OpenFGA.KeyFile = value
	case "KV2__ADDRESS":
		c.KV2.Address = value
	case "KV2__TOKEN":
		c.KV2.Token = value
	case "KV2__MOUNT":
		c.KV2.Mount = value
	case "KV2__PATH_PREFIX":
		c.KV2.PathPrefix = value
	case "STATS__FLUSH_INTERVAL":
		c.Stats.FlushInterval, err = time.ParseDuration(value)
	case "STATS__REFRESH_CRON":
		c.Stats.RefreshCron = value
	case "QUEUE__POLL_INTERVAL":
		c.Queue.PollInterval, err = time.ParseDuration(value)
	case "QUEUE__BATCH_SIZE":
		c.Queue.BatchSize, err = strconv.Atoi(value)
	case "QUEUE__LEASE_DURATION":
		c.Queue.LeaseDuration, err = time.ParseDuration(value)
	case "QUEUE__MAX_ATTEMPTS":
		c.Queue.MaxAttempts, err = strconv.Atoi(value)
	case "QUEUE__RETRY_DELAY":
		c.Queue.RetryDelay, err = time.ParseDuration(value)
	case "RATE_LIMIT__ENABLED":
		c.RateLimit.Enabled, err = strconv.ParseBool(value)
	case "RATE_LIMIT__REQUESTS_PER_SECOND":
		c.RateLimit.RequestsPerSecond, err = strconv.ParseFloat(value, 64)
	case "RATE_LIMIT__BURST":
		c.RateLimit.Burst, err = strconv.Atoi(value)
	case "RATE_LIMIT__IDLE_TIMEOUT":
		c.RateLimit.IdleTimeout, err = time.ParseDuration(value)
	case "HEALTH__PROBE_INTERVAL":
		c.Health.ProbeInterval, err = time.ParseDuration(value)
	case "HEALTH__PROBE_TIMEOUT":
		c.Health.ProbeTimeout, err = time.ParseDuration(value)
	default:
		logger.Warn("ignoring unknown configuration key", "key", envPrefix+key)
	}
	return err
}

// Validate rejects configurations lakekeeperd cannot start with.
func (c *Config) Validate() error {
	if c.PGDatabase == "" {
		return fmt.Errorf("PG_DATABASE is required")
	}
	switch c.AuthorizationBackend {
	case AuthzAllowAll:
	case AuthzOpenFGA:
		if c.OpenFGA.Endpoint == "" {
			return fmt.Errorf("OPENFGA__ENDPOINT is required with the OpenFGA backend")
		}
	default:
		return fmt.Errorf("unknown authorization backend %q (want %s or %s)",
			c.AuthorizationBackend, AuthzAllowAll, AuthzOpenFGA)
	}
	switch c.SecretBackend {
	case SecretsPostgres:
	case SecretsKV2:
		if c.KV2.Address == "" {
			return fmt.Errorf("KV2__ADDRESS is required with the KV2 secret backend")
		}
	default:
		return fmt.Errorf("unknown secret backend %q (want %s or %s)",
			c.SecretBackend, SecretsPostgres, SecretsKV2)
	}
	if c.PGMaxConns <= 0 {
		return fmt.Errorf("PG_MAX_CONNS must be positive")
	}
	if c.Queue.BatchSize <= 0 || c.Queue.MaxAttempts <= 0 {
		return fmt.Errorf("queue batch size and max attempts must be positive")
	}
	return nil
}
