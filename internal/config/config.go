package config

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Admission AdmissionConfig `yaml:"admission" mapstructure:"admission"`
	Geocode   GeocodeConfig   `yaml:"geocode" mapstructure:"geocode"`
	Actor     ActorConfig     `yaml:"actor" mapstructure:"actor"`
	Poller    PollerConfig    `yaml:"poller" mapstructure:"poller"`
	Industry  IndustryConfig  `yaml:"industry" mapstructure:"industry"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the database backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns    int32  `yaml:"min_conns" mapstructure:"min_conns"`
}

// AdmissionConfig bounds concurrent work.
type AdmissionConfig struct {
	MaxActiveRuns int `yaml:"max_active_runs" mapstructure:"max_active_runs"`
}

// GeocodeConfig configures the address lookup service.
type GeocodeConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	UserAgent     string `yaml:"user_agent" mapstructure:"user_agent"`
	MinIntervalMs int    `yaml:"min_interval_ms" mapstructure:"min_interval_ms"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// MinInterval returns the throttle floor as a duration.
func (g GeocodeConfig) MinInterval() time.Duration {
	return time.Duration(g.MinIntervalMs) * time.Millisecond
}

// ActorConfig identifies the external scraping worker.
type ActorConfig struct {
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	Token         string `yaml:"token" mapstructure:"token"`
	ActorID       string `yaml:"actor_id" mapstructure:"actor_id"`
	CallbackURL   string `yaml:"callback_url" mapstructure:"callback_url"`
	TimeoutSecs   int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RetryAttempts int    `yaml:"retry_attempts" mapstructure:"retry_attempts"`
}

// PollerConfig configures the queued-run poller.
type PollerConfig struct {
	BudgetSecs int    `yaml:"budget_secs" mapstructure:"budget_secs"`
	Schedule   string `yaml:"schedule" mapstructure:"schedule"`
}

// Budget returns the per-drain wall-clock budget.
func (p PollerConfig) Budget() time.Duration {
	return time.Duration(p.BudgetSecs) * time.Second
}

// IndustryConfig points at an optional catalog override.
type IndustryConfig struct {
	CatalogPath string `yaml:"catalog_path" mapstructure:"catalog_path"`
}

// ExportConfig configures lead exports and their optional upload to
// S3-compatible storage.
type ExportConfig struct {
	Endpoint       string `yaml:"endpoint" mapstructure:"endpoint"`
	Bucket         string `yaml:"bucket" mapstructure:"bucket"`
	AccessKey      string `yaml:"access_key" mapstructure:"access_key"`
	SecretKey      string `yaml:"secret_key" mapstructure:"secret_key"`
	Region         string `yaml:"region" mapstructure:"region"`
	Prefix         string `yaml:"prefix" mapstructure:"prefix"`
	UseSSL         bool   `yaml:"use_ssl" mapstructure:"use_ssl"`
	PresignTTLMins int    `yaml:"presign_ttl_mins" mapstructure:"presign_ttl_mins"`
}

// UploadEnabled reports whether exports should be pushed to object storage.
func (e ExportConfig) UploadEnabled() bool {
	return e.Bucket != ""
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Port             int      `yaml:"port" mapstructure:"port"`
	CronSecret       string   `yaml:"cron_secret" mapstructure:"cron_secret"`
	WorkerSecret     string   `yaml:"worker_secret" mapstructure:"worker_secret"`
	AllowedOrigins   []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
	CreateRatePerMin int      `yaml:"create_rate_per_min" mapstructure:"create_rate_per_min"`
	PollInProcess    bool     `yaml:"poll_in_process" mapstructure:"poll_in_process"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// minGeocodeInterval is the slowest rate the public geocoder tolerates.
const minGeocodeInterval = 1100

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("LEADGEN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.database_url", "leadgen.db")
	v.SetDefault("admission.max_active_runs", 5)
	v.SetDefault("geocode.base_url", "https://nominatim.openstreetmap.org")
	v.SetDefault("geocode.user_agent", "leadgen/1.0")
	v.SetDefault("geocode.min_interval_ms", minGeocodeInterval)
	v.SetDefault("geocode.timeout_secs", 10)
	v.SetDefault("actor.base_url", "https://api.apify.com/v2")
	v.SetDefault("actor.timeout_secs", 30)
	v.SetDefault("actor.retry_attempts", 3)
	v.SetDefault("poller.budget_secs", 240)
	v.SetDefault("poller.schedule", "@every 1m")
	v.SetDefault("export.region", "us-east-1")
	v.SetDefault("export.prefix", "exports/")
	v.SetDefault("export.use_ssl", true)
	v.SetDefault("export.presign_ttl_mins", 60)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("server.create_rate_per_min", 30)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Env-only keys are invisible to Unmarshal unless bound.
	for _, key := range []string{
		"actor.token", "actor.actor_id", "actor.callback_url",
		"server.cron_secret", "server.worker_secret", "server.poll_in_process",
		"export.endpoint", "export.bucket", "export.access_key", "export.secret_key",
		"industry.catalog_path", "store.max_conns", "store.min_conns",
	} {
		_ = v.BindEnv(key)
	}

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the settings a command needs. mode is the command name:
// serve, poll, runs or export.
func (c *Config) Validate(mode string) error {
	var errs []string

	switch c.Store.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, "store.driver must be sqlite or postgres")
	}
	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if c.Admission.MaxActiveRuns < 1 {
		errs = append(errs, "admission.max_active_runs must be >= 1")
	}
	if c.Geocode.MinIntervalMs < minGeocodeInterval {
		errs = append(errs, "geocode.min_interval_ms must be >= 1100")
	}

	switch mode {
	case "serve":
		if c.Server.Port <= 0 {
			errs = append(errs, "server.port must be > 0")
		}
		if c.Server.CreateRatePerMin < 0 {
			errs = append(errs, "server.create_rate_per_min must be >= 0")
		}
		if c.Server.PollInProcess && c.Poller.Schedule == "" {
			errs = append(errs, "poller.schedule is required when server.poll_in_process is set")
		}
	case "poll":
		if c.Actor.Token == "" {
			errs = append(errs, "actor.token is required")
		}
		if c.Actor.ActorID == "" {
			errs = append(errs, "actor.actor_id is required")
		}
		if c.Poller.BudgetSecs <= 0 {
			errs = append(errs, "poller.budget_secs must be > 0")
		}
	case "runs":
	case "export":
		if c.Export.UploadEnabled() && c.Export.Endpoint == "" {
			errs = append(errs, "export.endpoint is required when export.bucket is set")
		}
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(errs) > 0 {
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
