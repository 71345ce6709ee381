package config

import (
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config application configuration structure
type Config struct {
	Daemon   DaemonConfig   `yaml:"daemon" mapstructure:"daemon"`
	Storage  StorageConfig  `yaml:"storage" mapstructure:"storage"`
	Protocol ProtocolConfig `yaml:"protocol" mapstructure:"protocol"`
	Client   ClientConfig   `yaml:"client" mapstructure:"client"`
	Log      LogConfig      `yaml:"log" mapstructure:"log"`
	Output   OutputConfig   `yaml:"output" mapstructure:"output"`
}

// DaemonConfig locates the per-workspace state directory and control socket
type DaemonConfig struct {
	Dir        string `yaml:"dir" mapstructure:"dir"`
	SocketPath string `yaml:"socket_path" mapstructure:"socket_path"`
	// PruneInterval controls the background retention sweep (0 = only on write)
	PruneInterval time.Duration `yaml:"prune_interval" mapstructure:"prune_interval"`
}

// StorageConfig persistence parameters
type StorageConfig struct {
	Driver     string        `yaml:"driver" mapstructure:"driver"`
	Path       string        `yaml:"path" mapstructure:"path"`
	MaxRecords int           `yaml:"max_records" mapstructure:"max_records"`
	Retention  time.Duration `yaml:"retention" mapstructure:"retention"`
}

// ProtocolConfig control socket framing limits
type ProtocolConfig struct {
	MaxFrameBytes int `yaml:"max_frame_bytes" mapstructure:"max_frame_bytes"`
}

// ClientConfig settings used by CLI invocations talking to the daemon
type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout"`
}

// LogConfig log configuration
type LogConfig struct {
	Level       string        `yaml:"level" mapstructure:"level"`
	Format      string        `yaml:"format" mapstructure:"format"`
	FileLogging FileLogConfig `yaml:"file_logging" mapstructure:"file_logging"`
}

// FileLogConfig file log configuration
type FileLogConfig struct {
	Enable     bool   `yaml:"enable" mapstructure:"enable"`
	Path       string `yaml:"path" mapstructure:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `yaml:"compress" mapstructure:"compress"`
}

// OutputConfig controls CLI output style
type OutputConfig struct {
	Mode   string `yaml:"mode" mapstructure:"mode"`
	Color  bool   `yaml:"color" mapstructure:"color"`
	Pretty bool   `yaml:"pretty" mapstructure:"pretty"`
	// MaxBodyBytes limits how much of a body `show` prints (0 = unlimited)
	MaxBodyBytes int `yaml:"max_body_bytes" mapstructure:"max_body_bytes"`
}

// LoadConfig load configuration
// If v is nil, a new viper instance will be created
func LoadConfig(configPath string, v *viper.Viper) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	setDefaults(v)

	v.SetEnvPrefix("REQTRACE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath(v.GetString("daemon.dir"))
		v.AddConfigPath("$HOME/.reqtrace")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else if v.GetString("log.level") == "debug" {
		log.Printf("Config file loaded: %s", v.ConfigFileUsed())
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	applyDefaults(&config, v)

	return &config, nil
}

// applyDefaults fills zero-value fields and derives paths that depend on daemon.dir.
// Command line flags are bound to viper in main.go, so they already take priority here.
func applyDefaults(cfg *Config, v *viper.Viper) {
	if cfg.Daemon.Dir == "" {
		cfg.Daemon.Dir = v.GetString("daemon.dir")
	}
	if cfg.Daemon.SocketPath == "" {
		cfg.Daemon.SocketPath = filepath.Join(cfg.Daemon.Dir, "control.sock")
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = v.GetString("storage.driver")
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = filepath.Join(cfg.Daemon.Dir, "requests.db")
	}
	if cfg.Protocol.MaxFrameBytes == 0 {
		cfg.Protocol.MaxFrameBytes = v.GetInt("protocol.max_frame_bytes")
	}
	if cfg.Client.Timeout == 0 {
		cfg.Client.Timeout = v.GetDuration("client.timeout")
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = v.GetString("log.level")
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = v.GetString("log.format")
	}
	if cfg.Log.FileLogging.Path == "" {
		cfg.Log.FileLogging.Path = filepath.Join(cfg.Daemon.Dir, "daemon.log")
	}
	if cfg.Log.FileLogging.MaxSizeMB == 0 {
		cfg.Log.FileLogging.MaxSizeMB = v.GetInt("log.file_logging.max_size_mb")
	}
	if cfg.Log.FileLogging.MaxBackups == 0 {
		cfg.Log.FileLogging.MaxBackups = v.GetInt("log.file_logging.max_backups")
	}
	if cfg.Log.FileLogging.MaxAgeDays == 0 {
		cfg.Log.FileLogging.MaxAgeDays = v.GetInt("log.file_logging.max_age_days")
	}
	if cfg.Output.Mode == "" {
		cfg.Output.Mode = v.GetString("output.mode")
	}
}

// setDefaults set default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("daemon.dir", ".reqtrace")
	v.SetDefault("daemon.socket_path", "")
	v.SetDefault("daemon.prune_interval", "5m")

	v.SetDefault("storage.driver", "sqlite")
	v.SetDefault("storage.path", "")
	v.SetDefault("storage.max_records", 0)
	v.SetDefault("storage.retention", "0s")

	v.SetDefault("protocol.max_frame_bytes", 64*1024*1024)

	v.SetDefault("client.timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.file_logging.enable", false)
	v.SetDefault("log.file_logging.path", "")
	v.SetDefault("log.file_logging.max_size_mb", 10)
	v.SetDefault("log.file_logging.max_backups", 5)
	v.SetDefault("log.file_logging.max_age_days", 30)
	v.SetDefault("log.file_logging.compress", true)

	v.SetDefault("output.mode", "table")
	v.SetDefault("output.color", true)
	v.SetDefault("output.pretty", true)
	v.SetDefault("output.max_body_bytes", 32*1024)
}

// Validate validates configuration and normalizes enumerations
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Daemon.Dir) == "" {
		return fmt.Errorf("daemon dir cannot be empty")
	}
	if strings.TrimSpace(c.Daemon.SocketPath) == "" {
		return fmt.Errorf("daemon socket path cannot be empty")
	}
	if c.Daemon.PruneInterval < 0 {
		return fmt.Errorf("daemon prune interval cannot be negative")
	}

	switch strings.ToLower(strings.TrimSpace(c.Storage.Driver)) {
	case "", "sqlite", "sqlite3":
		c.Storage.Driver = "sqlite"
	default:
		return fmt.Errorf("storage driver must be sqlite")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage path cannot be empty")
	}
	if c.Storage.MaxRecords < 0 {
		return fmt.Errorf("storage max_records cannot be negative")
	}
	if c.Storage.Retention < 0 {
		return fmt.Errorf("storage retention cannot be negative")
	}

	if c.Protocol.MaxFrameBytes < 1024 {
		return fmt.Errorf("protocol max_frame_bytes must be at least 1024")
	}
	if c.Client.Timeout <= 0 {
		return fmt.Errorf("client timeout must be greater than zero")
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "console":
		c.Log.Format = "console"
	case "json":
		c.Log.Format = "json"
	default:
		return fmt.Errorf("log format must be 'console' or 'json'")
	}

	if c.Log.FileLogging.Enable {
		if c.Log.FileLogging.Path == "" {
			return fmt.Errorf("log file path cannot be empty when file logging is enabled")
		}
		if c.Log.FileLogging.MaxSizeMB < 1 {
			return fmt.Errorf("log file max size must be at least 1MB")
		}
		if c.Log.FileLogging.MaxBackups < 0 {
			return fmt.Errorf("log file max backups cannot be negative")
		}
		if c.Log.FileLogging.MaxAgeDays < 0 {
			return fmt.Errorf("log file max age cannot be negative")
		}
	}

	switch strings.ToLower(c.Output.Mode) {
	case "", "table":
		c.Output.Mode = "table"
	case "json", "yaml":
		c.Output.Mode = strings.ToLower(c.Output.Mode)
	default:
		return fmt.Errorf("output mode must be 'table', 'json' or 'yaml'")
	}
	if c.Output.MaxBodyBytes < 0 {
		return fmt.Errorf("output max_body_bytes cannot be negative")
	}

	return nil
}
