// Package config provides configuration management for the ACP runtime
// core: layered defaults, optional config file, and environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for the runtime core.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Workspace WorkspaceConfig `mapstructure:"workspace"`
	Plugin    PluginConfig    `mapstructure:"plugin"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Events    EventsConfig    `mapstructure:"events"`
}

// ServerConfig holds north-bound HTTP/WebSocket server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // seconds
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// WorkspaceConfig holds defaults for workspace management.
type WorkspaceConfig struct {
	// CacheDir is the root of the plugin/app cache directory, <appCacheDir>
	// at <CacheDir>/plugins/<pluginId>/.
	CacheDir string `mapstructure:"cacheDir"`
}

// PluginConfig holds the plugin catalog location.
type PluginConfig struct {
	// CatalogPath points to the YAML file describing known plugin ids
	// (display name, default argv). See internal/plugin/catalog.go.
	CatalogPath string `mapstructure:"catalogPath"`
}

// AgentConfig holds agent-adapter spawn policy.
type AgentConfig struct {
	// EnvOverrides lists KEY=VALUE pairs loaded from configuration. No
	// component reads this field: the overrides laid over the inherited
	// environment of an adapter subprocess are the per-request ones passed
	// to StartAgent.
	EnvOverrides []string `mapstructure:"envOverrides"`

	// ConnectTimeoutSeconds is validated to be positive. No component reads
	// it: the initialize+session/new handshake runs under the caller's
	// context only.
	ConnectTimeoutSeconds int `mapstructure:"connectTimeoutSeconds"`

	// ShutdownTimeoutSeconds bounds the graceful-stdin-close wait before
	// AcpAgent.Shutdown escalates to killing the child process.
	ShutdownTimeoutSeconds int `mapstructure:"shutdownTimeoutSeconds"`
}

// EventsConfig selects the event bus backend.
type EventsConfig struct {
	// Backend is "memory" (default) or "nats".
	Backend string `mapstructure:"backend"`
	NATSURL string `mapstructure:"natsUrl"`
}

func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("ACPCORE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("workspace.cacheDir", defaultCacheDir())

	v.SetDefault("plugin.catalogPath", "./plugins.yaml")

	v.SetDefault("agent.envOverrides", []string{})
	v.SetDefault("agent.connectTimeoutSeconds", 30)
	v.SetDefault("agent.shutdownTimeoutSeconds", 5)

	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.natsUrl", "")
}

func defaultCacheDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".acpcore"
	}
	return filepath.Join(home, ".acpcore")
}

// Load reads configuration from environment variables, config file, and
// defaults. Environment variables use the prefix ACPCORE_.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default
// locations (current directory, /etc/acpcore/).
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("ACPCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/acpcore/")

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

func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Events.Backend != "memory" && cfg.Events.Backend != "nats" {
		errs = append(errs, "events.backend must be one of: memory, nats")
	}
	if cfg.Events.Backend == "nats" && cfg.Events.NATSURL == "" {
		errs = append(errs, "events.natsUrl is required when events.backend=nats")
	}

	if cfg.Agent.ConnectTimeoutSeconds <= 0 {
		errs = append(errs, "agent.connectTimeoutSeconds must be positive")
	}
	if cfg.Agent.ShutdownTimeoutSeconds <= 0 {
		errs = append(errs, "agent.shutdownTimeoutSeconds must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
