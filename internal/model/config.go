package model

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// TrackerConfig holds settings shared by every outbound tracker call.
type TrackerConfig struct {
	// TimeoutSec bounds each remote operation.
	TimeoutSec int `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// Timeout returns the configured per-call timeout.
func (t TrackerConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSec) * time.Second
}

// StoreConfig locates the local database.
type StoreConfig struct {
	Path string `mapstructure:"path" yaml:"path"`
}

// ServerConfig configures the HTTP action endpoint.
type ServerConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`

	// Token, when set, must be presented as a Bearer token by callers.
	Token string `mapstructure:"token" yaml:"token"`
}

// MailConfig configures the IMAP intake that turns mail into issues.
type MailConfig struct {
	Host            string `mapstructure:"host" yaml:"host"`
	Port            string `mapstructure:"port" yaml:"port"`
	Username        string `mapstructure:"username" yaml:"username"`
	Mailbox         string `mapstructure:"mailbox" yaml:"mailbox"`
	TLS             bool   `mapstructure:"tls" yaml:"tls"`
	Connection      string `mapstructure:"connection" yaml:"connection"`
	PollIntervalSec int    `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Log     LogConfig     `mapstructure:"log" yaml:"log"`
	Tracker TrackerConfig `mapstructure:"tracker" yaml:"tracker"`
	Store   StoreConfig   `mapstructure:"store" yaml:"store"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server"`
	Mail    MailConfig    `mapstructure:"mail" yaml:"mail"`
}

// DefaultConfigDir returns ~/.config/redmine-bridge.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "redmine-bridge")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/redmine-bridge/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// defaultAppConfig returns a sensible default configuration.
func defaultAppConfig() *AppConfig {
	return &AppConfig{
		Log: LogConfig{
			Level:  "info",
			Format: "auto",
		},
		Tracker: TrackerConfig{TimeoutSec: 10},
		Store: StoreConfig{
			Path: filepath.Join(DefaultConfigDir(), "bridge.db"),
		},
		Server: ServerConfig{Addr: "127.0.0.1:8087"},
		Mail: MailConfig{
			Port:            "993",
			Mailbox:         "INBOX",
			TLS:             true,
			PollIntervalSec: 60,
		},
	}
}

// setDefaults registers defaults on v so missing keys resolve to sensible values.
func setDefaults(v *viper.Viper) {
	d := defaultAppConfig()
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("tracker.timeout_sec", d.Tracker.TimeoutSec)
	v.SetDefault("store.path", d.Store.Path)
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("mail.port", d.Mail.Port)
	v.SetDefault("mail.mailbox", d.Mail.Mailbox)
	v.SetDefault("mail.tls", d.Mail.TLS)
	v.SetDefault("mail.poll_interval_sec", d.Mail.PollIntervalSec)
}

// LoadConfig reads configuration from the given YAML file path using v.
// Environment variables prefixed with REDMINE_BRIDGE override file values.
// If the file does not exist, defaults (plus environment) are returned.
func LoadConfig(v *viper.Viper, path string) (*AppConfig, error) {
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("REDMINE_BRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if _, ok := err.(*os.PathError); !ok && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := defaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if cfg.Tracker.TimeoutSec <= 0 {
		cfg.Tracker.TimeoutSec = 10
	}
	if cfg.Mail.PollIntervalSec <= 0 {
		cfg.Mail.PollIntervalSec = 60
	}

	return cfg, nil
}

// SaveConfig writes the given configuration to a YAML file at path,
// creating parent directories if needed.
func SaveConfig(path string, cfg *AppConfig) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config directory %s: %w", dir, err)
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.Set("log", cfg.Log)
	v.Set("tracker", cfg.Tracker)
	v.Set("store", cfg.Store)
	v.Set("server", cfg.Server)
	v.Set("mail", cfg.Mail)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
