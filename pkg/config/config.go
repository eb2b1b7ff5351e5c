// Package config loads, expands, validates, and watches the service
// configuration.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the coordination service.
type Config struct {
	Server   ServerConfig      `yaml:"server"`
	Redis    RedisConfig       `yaml:"redis"`
	Database DatabaseConfig    `yaml:"database"`
	LLM      LLMConfig         `yaml:"llm"`
	Agents   map[string]string `yaml:"agents"`
	Registry RegistryConfig    `yaml:"registry"`
	Memory   MemoryConfig      `yaml:"memory"`
	Logger   LoggerConfig      `yaml:"logger"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Address returns the listen address.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// RedisConfig configures the shared store.
type RedisConfig struct {
	// URL is a redis:// connection URL.
	URL string `yaml:"url"`
}

// DatabaseConfig holds SQL connection settings for PostgreSQL, MySQL,
// and SQLite.
type DatabaseConfig struct {
	// Driver is "postgres", "mysql", or "sqlite".
	Driver string `yaml:"driver"`

	Host string `yaml:"host,omitempty"`
	Port int    `yaml:"port,omitempty"`

	// Database is the database name, or the file path for SQLite.
	Database string `yaml:"database"`

	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`

	// SSLMode applies to PostgreSQL connections.
	SSLMode string `yaml:"ssl_mode,omitempty"`

	MaxConns int `yaml:"max_conns,omitempty"`
}

// DSN returns the connection string for sql.Open.
func (c *DatabaseConfig) DSN() string {
	switch c.Driver {
	case "postgres":
		dsn := fmt.Sprintf("host=%s port=%d dbname=%s", c.Host, c.Port, c.Database)
		if c.Username != "" {
			dsn += fmt.Sprintf(" user=%s", c.Username)
		}
		if c.Password != "" {
			dsn += fmt.Sprintf(" password=%s", c.Password)
		}
		if c.SSLMode != "" {
			dsn += fmt.Sprintf(" sslmode=%s", c.SSLMode)
		}
		return dsn
	case "mysql":
		if c.Username != "" {
			return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
				c.Username, c.Password, c.Host, c.Port, c.Database)
		}
		return fmt.Sprintf("tcp(%s:%d)/%s?parseTime=true", c.Host, c.Port, c.Database)
	case "sqlite":
		return c.Database
	default:
		return ""
	}
}

// LLMConfig configures the routing model.
type LLMConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	Host        string  `yaml:"host,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// RegistryConfig tunes agent liveness tracking.
type RegistryConfig struct {
	// LivenessTimeoutSeconds is how long after the last heartbeat an
	// agent still counts as live.
	LivenessTimeoutSeconds int `yaml:"liveness_timeout_seconds"`

	// HeartbeatIntervalSeconds is the adapter heartbeat period.
	HeartbeatIntervalSeconds int `yaml:"heartbeat_interval_seconds"`

	// SweepIntervalSeconds is the stale-record sweep period.
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
}

// LivenessTimeout returns the timeout as a duration.
func (c *RegistryConfig) LivenessTimeout() time.Duration {
	return time.Duration(c.LivenessTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c *RegistryConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSeconds) * time.Second
}

// SweepInterval returns the sweep period as a duration.
func (c *RegistryConfig) SweepInterval() time.Duration {
	return time.Duration(c.SweepIntervalSeconds) * time.Second
}

// MemoryConfig tunes conversation history.
type MemoryConfig struct {
	// HistoryTTLDays is the fast-tier retention.
	HistoryTTLDays int `yaml:"history_ttl_days"`

	// RecentTurns is how many turns feed the routing prompt.
	RecentTurns int `yaml:"recent_turns"`
}

// HistoryTTL returns the retention as a duration.
func (c *MemoryConfig) HistoryTTL() time.Duration {
	return time.Duration(c.HistoryTTLDays) * 24 * time.Hour
}

// LoggerConfig configures structured logging.
type LoggerConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is "text" or "json".
	Format string `yaml:"format"`

	// File appends logs to a file instead of stderr when set.
	File string `yaml:"file,omitempty"`
}

// SetDefaults fills unset fields with working defaults.
func (c *Config) SetDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Redis.URL == "" {
		c.Redis.URL = "redis://localhost:6379/0"
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Database == "" && c.Database.Driver == "sqlite" {
		c.Database.Database = "eyewear.db"
	}
	if c.Database.MaxConns == 0 {
		c.Database.MaxConns = 25
	}
	if c.Database.Port == 0 {
		switch c.Database.Driver {
		case "postgres":
			c.Database.Port = 5432
		case "mysql":
			c.Database.Port = 3306
		}
	}
	if c.Database.Driver == "postgres" && c.Database.SSLMode == "" {
		c.Database.SSLMode = "disable"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-4o-mini"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.Registry.LivenessTimeoutSeconds == 0 {
		c.Registry.LivenessTimeoutSeconds = 60
	}
	if c.Registry.HeartbeatIntervalSeconds == 0 {
		c.Registry.HeartbeatIntervalSeconds = 30
	}
	if c.Registry.SweepIntervalSeconds == 0 {
		c.Registry.SweepIntervalSeconds = 60
	}
	if c.Memory.HistoryTTLDays == 0 {
		c.Memory.HistoryTTLDays = 7
	}
	if c.Memory.RecentTurns == 0 {
		c.Memory.RecentTurns = 6
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Logger.Format == "" {
		c.Logger.Format = "text"
	}
}

// Validate checks the configuration for problems that would surface
// later as confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}

	switch c.Database.Driver {
	case "postgres", "mysql":
		if c.Database.Host == "" {
			return fmt.Errorf("database host is required for %s", c.Database.Driver)
		}
		if c.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if c.Database.Database == "" {
			return fmt.Errorf("database file path is required for sqlite")
		}
	default:
		return fmt.Errorf("invalid database driver %q (valid: postgres, mysql, sqlite)", c.Database.Driver)
	}

	if c.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if c.Registry.HeartbeatIntervalSeconds >= c.Registry.LivenessTimeoutSeconds {
		return fmt.Errorf("heartbeat interval (%ds) must be shorter than liveness timeout (%ds)",
			c.Registry.HeartbeatIntervalSeconds, c.Registry.LivenessTimeoutSeconds)
	}
	for name, url := range c.Agents {
		if url == "" {
			return fmt.Errorf("agent %q has an empty url", name)
		}
	}
	return nil
}
