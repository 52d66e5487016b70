// internal/config/loader.go
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load reads configs/config.yaml (optional), then config.<APP_ENVIRONMENT>.yaml, then the environment.
// DATABASE_POSTGRES_HOST overrides database.postgres.host, and so on.
func Load() (*Config, error) {
	loadEnvFile()

	v := newViper()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath("../../configs")
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("error reading base config: %w", err)
		}
	}

	env := os.Getenv("APP_ENVIRONMENT")
	if env == "" {
		env = "development"
	}
	v.SetConfigName("config." + env)
	_ = v.MergeInConfig()

	return unmarshal(v)
}

// LoadFromFile loads configuration from a specific file path
func LoadFromFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return unmarshal(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	expandEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(&cfg)

	if err := validateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override keys absent from the yaml.
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "padaria-campaigns")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.shutdown_timeout", 30000)
	v.SetDefault("http.address", ":8080")

	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.database", "padaria")
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.max_connections", 0)
	v.SetDefault("database.postgres.max_idle", 0)
	v.SetDefault("database.postgres.sslmode", "")
	v.SetDefault("database.redis.address", "")
	v.SetDefault("database.redis.password", "")
	v.SetDefault("database.redis.db", 0)

	v.SetDefault("amqp.url", "")
	v.SetDefault("amqp.queue", "")

	v.SetDefault("gateway.base_url", "")
	v.SetDefault("gateway.api_key", "")
	v.SetDefault("gateway.instance_prefix", "")
	v.SetDefault("gateway.connection_timeout", 0)
	v.SetDefault("gateway.text_timeout", 0)
	v.SetDefault("gateway.media_timeout", 0)
	v.SetDefault("gateway.max_messages_per_minute", 0)
	v.SetDefault("gateway.verify_on_start", true)

	v.SetDefault("pacing.delay_min_seconds", 0)
	v.SetDefault("pacing.delay_max_seconds", 0)
	v.SetDefault("pacing.batch_size", 0)
	v.SetDefault("pacing.batch_pause_seconds", 0)

	v.SetDefault("media.root", "")
	v.SetDefault("scheduler.enabled", true)
	v.SetDefault("scheduler.poll_interval", 0)
	v.SetDefault("scheduler.batch_size", 0)
	v.SetDefault("lease.ttl", 0)
	v.SetDefault("lease.prefix", "")
	v.SetDefault("logging.level", "")
	v.SetDefault("logging.format", "")
}

func loadEnvFile() {
	possiblePaths := []string{".env", "../.env", "../../.env"}
	if rootDir := findProjectRoot(); rootDir != "" {
		possiblePaths = append(possiblePaths, filepath.Join(rootDir, ".env"))
	}

	for _, path := range possiblePaths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Load(path); err == nil {
				return
			}
		}
	}
}

// Find project root by looking for go.mod
func findProjectRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// expandEnvVars resolves ${VAR} placeholders left in yaml string values.
func expandEnvVars(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		strVal, ok := v.Get(key).(string)
		if !ok || !strings.Contains(strVal, "$") {
			continue
		}
		if expanded := os.ExpandEnv(strVal); expanded != strVal {
			v.Set(key, expanded)
		}
	}
}

// applyDefaults sets default values for optional configuration fields
func applyDefaults(cfg *Config) {
	if cfg.Database.Postgres.Port == 0 {
		cfg.Database.Postgres.Port = 5432
	}
	if cfg.Database.Postgres.MaxConnections == 0 {
		cfg.Database.Postgres.MaxConnections = 25
	}
	if cfg.Database.Postgres.MaxIdle == 0 {
		cfg.Database.Postgres.MaxIdle = 5
	}
	if cfg.Database.Postgres.SSLMode == "" {
		cfg.Database.Postgres.SSLMode = "disable"
	}

	if cfg.AMQP.Queue == "" {
		cfg.AMQP.Queue = "campaign_commands"
	}

	if cfg.Gateway.InstancePrefix == "" {
		cfg.Gateway.InstancePrefix = "padaria_"
	}
	if cfg.Gateway.ConnectionTimeout == 0 {
		cfg.Gateway.ConnectionTimeout = 10000
	}
	if cfg.Gateway.TextTimeout == 0 {
		cfg.Gateway.TextTimeout = 30000
	}
	if cfg.Gateway.MediaTimeout == 0 {
		cfg.Gateway.MediaTimeout = 60000
	}

	// Conservative cadence for campaigns generated from offers.
	if cfg.Pacing.DelayMinSeconds == 0 {
		cfg.Pacing.DelayMinSeconds = 15
	}
	if cfg.Pacing.DelayMaxSeconds == 0 {
		cfg.Pacing.DelayMaxSeconds = 45
	}
	if cfg.Pacing.BatchSize == 0 {
		cfg.Pacing.BatchSize = 10
	}
	if cfg.Pacing.BatchPauseSeconds == 0 {
		cfg.Pacing.BatchPauseSeconds = 120
	}

	if cfg.Media.Root == "" {
		cfg.Media.Root = "./media"
	}
	if cfg.Scheduler.PollInterval == 0 {
		cfg.Scheduler.PollInterval = 30000
	}
	if cfg.Scheduler.BatchSize == 0 {
		cfg.Scheduler.BatchSize = 20
	}
	if cfg.Lease.TTL == 0 {
		cfg.Lease.TTL = 10 * 60 * 1000
	}
	if cfg.Lease.Prefix == "" {
		cfg.Lease.Prefix = "campaign:lease"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// validateConfig validates critical configuration fields
func validateConfig(cfg *Config) error {
	if cfg.Database.Postgres.Host == "" {
		return fmt.Errorf("database.postgres.host is required")
	}
	if cfg.Database.Postgres.Database == "" {
		return fmt.Errorf("database.postgres.database is required")
	}
	if cfg.Pacing.DelayMinSeconds > cfg.Pacing.DelayMaxSeconds {
		return fmt.Errorf("pacing.delay_min_seconds must not exceed pacing.delay_max_seconds")
	}
	if cfg.Pacing.BatchSize < 1 {
		return fmt.Errorf("pacing.batch_size must be positive")
	}
	// Commands routed through the queue can land on any replica; only the Redis lease tells a
	// replica which campaigns another one is running.
	if cfg.AMQP.Enabled() && !cfg.Database.Redis.Enabled() {
		return fmt.Errorf("database.redis.address is required when amqp.url is set")
	}
	return nil
}
