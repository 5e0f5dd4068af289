// Package config provides configuration management for TaskFlow.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for TaskFlow.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	IdP        IdPConfig        `mapstructure:"idp"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	PubSub     PubSubConfig     `mapstructure:"pubsub"`
	NATS       NATSConfig       `mapstructure:"nats"`
	ToolServer ToolServerConfig `mapstructure:"toolServer"`
	Notifier   NotifierConfig   `mapstructure:"notifier"`
	Dev        DevConfig        `mapstructure:"dev"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	PublicURL    string `mapstructure:"publicUrl"`    // externally visible base URL
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// DatabaseConfig holds database connection configuration.
// When Driver is "sqlite3" only Path is used. When Driver is "pgx" the
// Postgres fields apply.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"` // sqlite3, pgx
	Path     string `mapstructure:"path"`   // sqlite database file
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbName"`
	SSLMode  string `mapstructure:"sslMode"`
	MaxConns int    `mapstructure:"maxConns"`
	MinConns int    `mapstructure:"minConns"`
}

// IdPConfig holds identity provider configuration.
type IdPConfig struct {
	BaseURL       string `mapstructure:"baseUrl"`       // e.g. https://auth.example.com
	Timeout       int    `mapstructure:"timeout"`       // seconds, per IdP call
	KeyCacheTTL   int    `mapstructure:"keyCacheTtl"`   // seconds, JWKS cache lifetime
	WarmOnStartup bool   `mapstructure:"warmOnStartup"` // fetch JWKS before serving
}

// SchedulerConfig holds the scheduler sidecar configuration.
type SchedulerConfig struct {
	Address string `mapstructure:"address"` // e.g. http://localhost:3500
	Timeout int    `mapstructure:"timeout"` // seconds, per registration call
}

// PubSubConfig holds the pub/sub sidecar configuration.
type PubSubConfig struct {
	Address string `mapstructure:"address"` // e.g. http://localhost:3500; empty means use the event bus directly
	Bus     string `mapstructure:"bus"`     // pub/sub component name
	Timeout int    `mapstructure:"timeout"` // seconds, per publish
}

// NATSConfig holds NATS messaging configuration.
// Empty URL means use the in-memory event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// ToolServerConfig holds the agent tool server configuration.
type ToolServerConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Port       int    `mapstructure:"port"`
	APIBaseURL string `mapstructure:"apiBaseUrl"` // REST API the tools call
	Timeout    int    `mapstructure:"timeout"`    // seconds, per outbound REST call
}

// NotifierConfig holds the notification consumer configuration.
type NotifierConfig struct {
	Port   int    `mapstructure:"port"`
	DBPath string `mapstructure:"dbPath"`
}

// DevConfig holds development-mode settings. When Enabled, credential
// verification is bypassed and X-User-ID / X-Tenant-ID headers are trusted.
type DevConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	UserID      string `mapstructure:"userId"`
	Email       string `mapstructure:"email"`
	DisplayName string `mapstructure:"displayName"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// TimeoutDuration returns the per-call IdP timeout as a time.Duration.
func (i *IdPConfig) TimeoutDuration() time.Duration {
	return time.Duration(i.Timeout) * time.Second
}

// KeyCacheTTLDuration returns the JWKS cache lifetime as a time.Duration.
func (i *IdPConfig) KeyCacheTTLDuration() time.Duration {
	return time.Duration(i.KeyCacheTTL) * time.Second
}

// TimeoutDuration returns the scheduler call timeout as a time.Duration.
func (s *SchedulerConfig) TimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// TimeoutDuration returns the publish timeout as a time.Duration.
func (p *PubSubConfig) TimeoutDuration() time.Duration {
	return time.Duration(p.Timeout) * time.Second
}

// TimeoutDuration returns the outbound REST timeout as a time.Duration.
func (t *ToolServerConfig) TimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("TASKFLOW_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.publicUrl", "http://localhost:8080")
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// Database defaults - sqlite file store unless pgx is configured
	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.path", "./taskflow.db")
	v.SetDefault("database.host", "")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "taskflow")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbName", "taskflow")
	v.SetDefault("database.sslMode", "disable")
	v.SetDefault("database.maxConns", 25)
	v.SetDefault("database.minConns", 5)

	// IdP defaults
	v.SetDefault("idp.baseUrl", "http://localhost:3000")
	v.SetDefault("idp.timeout", 10)
	v.SetDefault("idp.keyCacheTtl", 3600)
	v.SetDefault("idp.warmOnStartup", true)

	// Sidecar defaults
	v.SetDefault("scheduler.address", "http://localhost:3500")
	v.SetDefault("scheduler.timeout", 5)
	v.SetDefault("pubsub.address", "")
	v.SetDefault("pubsub.bus", "taskflow-pubsub")
	v.SetDefault("pubsub.timeout", 2)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "taskflow-api")
	v.SetDefault("nats.maxReconnects", 10)

	// Tool server defaults
	v.SetDefault("toolServer.enabled", true)
	v.SetDefault("toolServer.port", 9090)
	v.SetDefault("toolServer.apiBaseUrl", "http://localhost:8080")
	v.SetDefault("toolServer.timeout", 30)

	// Notifier defaults
	v.SetDefault("notifier.port", 8081)
	v.SetDefault("notifier.dbPath", "./taskflow-notifications.db")

	// Dev mode defaults
	v.SetDefault("dev.enabled", false)
	v.SetDefault("dev.userId", "dev-user")
	v.SetDefault("dev.email", "dev@taskflow.local")
	v.SetDefault("dev.displayName", "Dev User")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix TASKFLOW_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/taskflow/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults first
	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("TASKFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys)
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion,
	// so we explicitly bind keys where env var naming differs from config key naming.
	_ = v.BindEnv("idp.baseUrl", "TASKFLOW_IDP_BASE_URL")
	_ = v.BindEnv("server.publicUrl", "TASKFLOW_SERVER_PUBLIC_URL")
	_ = v.BindEnv("toolServer.apiBaseUrl", "TASKFLOW_TOOL_SERVER_API_BASE_URL")
	_ = v.BindEnv("toolServer.port", "TASKFLOW_TOOL_SERVER_PORT")
	_ = v.BindEnv("notifier.dbPath", "TASKFLOW_NOTIFIER_DB_PATH")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/taskflow/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
// In development mode (default), most fields are optional.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	switch cfg.Database.Driver {
	case "sqlite3":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for the sqlite3 driver")
		}
	case "pgx":
		if cfg.Database.Host == "" {
			errs = append(errs, "database.host is required for the pgx driver")
		}
		if cfg.Database.User == "" {
			errs = append(errs, "database.user is required for the pgx driver")
		}
		if cfg.Database.DBName == "" {
			errs = append(errs, "database.dbName is required for the pgx driver")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite3, pgx")
	}

	if !cfg.Dev.Enabled && cfg.IdP.BaseURL == "" {
		errs = append(errs, "idp.baseUrl is required unless dev.enabled is set")
	}
	if cfg.IdP.Timeout <= 0 {
		errs = append(errs, "idp.timeout must be positive")
	}
	if cfg.IdP.KeyCacheTTL <= 0 {
		errs = append(errs, "idp.keyCacheTtl must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}

// DSN returns the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}
