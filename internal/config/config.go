// internal/config/config.go
package config

import (
	"fmt"
	"time"
)

// Config is the application configuration, shared by the server, worker and migrate binaries.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	HTTP      HTTPConfig      `mapstructure:"http"`
	Database  DatabaseConfig  `mapstructure:"database"`
	AMQP      AMQPConfig      `mapstructure:"amqp"`
	Gateway   GatewayConfig   `mapstructure:"gateway"`
	Pacing    PacingConfig    `mapstructure:"pacing"`
	Media     MediaConfig     `mapstructure:"media"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Lease     LeaseConfig     `mapstructure:"lease"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	// ShutdownTimeout bounds how long running campaigns get to stop, in milliseconds.
	ShutdownTimeout int `mapstructure:"shutdown_timeout"`
}

type HTTPConfig struct {
	Address string `mapstructure:"address"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `mapstructure:"postgres"`
	Redis    RedisConfig    `mapstructure:"redis"`
}

type PostgresConfig struct {
	Host           string `mapstructure:"host"`
	Port           int    `mapstructure:"port"`
	Database       string `mapstructure:"database"`
	User           string `mapstructure:"user"`
	Password       string `mapstructure:"password"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxIdle        int    `mapstructure:"max_idle"`
	SSLMode        string `mapstructure:"sslmode"`
}

// GetDSN returns the PostgreSQL connection string
func (p PostgresConfig) GetDSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		p.User, p.Password, p.Host, p.Port, p.Database, p.SSLMode,
	)
}

// RedisConfig is optional; an empty address disables the cross-process lease.
type RedisConfig struct {
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

func (r RedisConfig) Enabled() bool {
	return r.Address != ""
}

// AMQPConfig is optional; an empty URL disables the command queue.
type AMQPConfig struct {
	URL   string `mapstructure:"url"`
	Queue string `mapstructure:"queue"`
}

func (a AMQPConfig) Enabled() bool {
	return a.URL != ""
}

type GatewayConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	InstancePrefix string `mapstructure:"instance_prefix"`
	// Timeouts in milliseconds.
	ConnectionTimeout int `mapstructure:"connection_timeout"`
	TextTimeout       int `mapstructure:"text_timeout"`
	MediaTimeout      int `mapstructure:"media_timeout"`
	// MaxMessagesPerMinute caps sends per gateway instance; 0 disables the cap.
	MaxMessagesPerMinute int `mapstructure:"max_messages_per_minute"`
	// VerifyOnStart checks the connection state before the first send.
	VerifyOnStart bool `mapstructure:"verify_on_start"`
}

// PacingConfig holds the defaults applied to campaigns built from offers.
type PacingConfig struct {
	DelayMinSeconds   int `mapstructure:"delay_min_seconds"`
	DelayMaxSeconds   int `mapstructure:"delay_max_seconds"`
	BatchSize         int `mapstructure:"batch_size"`
	BatchPauseSeconds int `mapstructure:"batch_pause_seconds"`
}

type MediaConfig struct {
	Root string `mapstructure:"root"`
}

type SchedulerConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	PollInterval int  `mapstructure:"poll_interval"` // milliseconds
	BatchSize    int  `mapstructure:"batch_size"`
}

type LeaseConfig struct {
	TTL    int    `mapstructure:"ttl"` // milliseconds
	Prefix string `mapstructure:"prefix"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// GetDuration converts milliseconds from config to time.Duration
func GetDuration(milliseconds int) time.Duration {
	return time.Duration(milliseconds) * time.Millisecond
}
