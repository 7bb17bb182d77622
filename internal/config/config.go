package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"

	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// Config holds all configuration for the watcher
type Config struct {
	Server        ServerConfig  `mapstructure:"server"`
	ServerTesting ServerConfig  `mapstructure:"server-testing"`
	Client        ClientConfig  `mapstructure:"client"`
	Watcher       WatcherConfig `mapstructure:"watcher"`
	Queue         QueueConfig   `mapstructure:"queue"`
	Status        StatusConfig  `mapstructure:"status"`
	Logging       LoggingConfig `mapstructure:"logging"`
}

// ServerConfig contains the sd-server address to report to
type ServerConfig struct {
	Hostname string `mapstructure:"hostname"`
	Port     int    `mapstructure:"port"`
	Protocol string `mapstructure:"protocol"`
}

// ClientConfig contains client library configuration
type ClientConfig struct {
	Name           string        `mapstructure:"name"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// WatcherConfig contains the window poll loop configuration
type WatcherConfig struct {
	PollTime      time.Duration `mapstructure:"poll_time"`
	PulseMargin   time.Duration `mapstructure:"pulse_margin"`
	ExcludeTitle  bool          `mapstructure:"exclude_title"`
	StrategyMacOS string        `mapstructure:"strategy_macos"` // applescript, jxa
}

// QueueConfig contains the persistent request queue configuration
type QueueConfig struct {
	Directory         string        `mapstructure:"directory"`
	ReconnectInterval time.Duration `mapstructure:"reconnect_interval"`
	RetryDelay        time.Duration `mapstructure:"retry_delay"`
	MaxConnections    int           `mapstructure:"max_connections"`
	MaxIdleTime       time.Duration `mapstructure:"max_idle_time"`
}

// StatusConfig contains the local status HTTP server configuration
type StatusConfig struct {
	Enabled       bool          `mapstructure:"enabled"`
	Host          string        `mapstructure:"host"`
	Port          int           `mapstructure:"port"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
	EnableMetrics bool          `mapstructure:"enable_metrics"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // json, text
	Output string `mapstructure:"output"` // stdout, file
	File   string `mapstructure:"file"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		if dir, err := utils.GetConfigDir("sd-watcher-window"); err == nil {
			v.AddConfigPath(dir)
		}
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("SD_WATCHER")
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else if os.IsNotExist(err) {
			fmt.Println("Config file not found, using defaults and environment variables")
		} else {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// Override with environment variables if present
	if host := os.Getenv("SD_SERVER_HOST"); host != "" {
		config.Server.Hostname = host
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.hostname", "127.0.0.1")
	v.SetDefault("server.port", 7600)
	v.SetDefault("server.protocol", "http")
	v.SetDefault("server-testing.hostname", "127.0.0.1")
	v.SetDefault("server-testing.port", 5666)
	v.SetDefault("server-testing.protocol", "http")

	// Client defaults
	v.SetDefault("client.name", "sd-watcher-window")
	v.SetDefault("client.commit_interval", "10s")
	v.SetDefault("client.request_timeout", "30s")

	// Watcher defaults
	v.SetDefault("watcher.poll_time", "1s")
	v.SetDefault("watcher.pulse_margin", "119s")
	v.SetDefault("watcher.exclude_title", false)
	v.SetDefault("watcher.strategy_macos", "applescript")

	// Queue defaults
	v.SetDefault("queue.reconnect_interval", "10s")
	v.SetDefault("queue.retry_delay", "500ms")
	v.SetDefault("queue.max_connections", 10)
	v.SetDefault("queue.max_idle_time", "15m")

	// Status server defaults
	v.SetDefault("status.enabled", true)
	v.SetDefault("status.host", "127.0.0.1")
	v.SetDefault("status.port", 7676)
	v.SetDefault("status.read_timeout", "10s")
	v.SetDefault("status.write_timeout", "10s")
	v.SetDefault("status.enable_metrics", true)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")
}

// ServerFor returns the server section for the given mode.
func (c *Config) ServerFor(testing bool) ServerConfig {
	if testing {
		return c.ServerTesting
	}
	return c.Server
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Hostname == "" {
		return fmt.Errorf("server hostname is required")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server port must be in 1-65535")
	}
	if c.Watcher.PollTime <= 0 {
		return fmt.Errorf("watcher poll time must be positive")
	}
	if c.Client.CommitInterval <= 0 {
		return fmt.Errorf("client commit interval must be positive")
	}
	if c.Watcher.StrategyMacOS != "applescript" && c.Watcher.StrategyMacOS != "jxa" {
		return fmt.Errorf("invalid macOS strategy: %s", c.Watcher.StrategyMacOS)
	}
	return nil
}
