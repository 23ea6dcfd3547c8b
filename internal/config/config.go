// Package config provides configuration management for extreload.
//
// Configuration is loaded from three sources with the following precedence
// (highest to lowest):
//  1. CLI flags
//  2. Environment variables (EXTRELOAD_ prefix)
//  3. Config file (.extreload.yaml)
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Supported log levels.
const (
	LogLevelDebug = "debug"
	LogLevelInfo  = "info"
	LogLevelWarn  = "warn"
	LogLevelError = "error"
)

// Supported log formats.
const (
	LogFormatText = "text"
	LogFormatJSON = "json"
)

// Live-reload defaults.
const (
	DefaultHost            = "localhost"
	DefaultPort            = 35729
	DefaultReconnectTime   = 3 * time.Second
	DefaultBackgroundEntry = "background"
	DefaultManifest        = "manifest.json"
	DefaultLocales         = "_locales"
)

// Config represents the global configuration for extreload.
type Config struct {
	// LogLevel controls the verbosity of log output.
	// Valid values: debug, info, warn, error.
	LogLevel string `mapstructure:"log-level" json:"logLevel"`

	// LogFormat controls the format of log output.
	// Valid values: text, json.
	LogFormat string `mapstructure:"log-format" json:"logFormat"`

	// NoColor disables colored output.
	NoColor bool `mapstructure:"no-color" json:"noColor"`

	// Quiet suppresses all log output below error level. The generated
	// client scripts stay silent as well.
	Quiet bool `mapstructure:"quiet" json:"quiet"`

	// Host and Port select the notification endpoint.
	Host string `mapstructure:"host" json:"host"`
	Port int    `mapstructure:"port" json:"port"`

	// ReconnectTime is the quiet period before extension clients retry a
	// lost connection.
	ReconnectTime time.Duration `mapstructure:"reconnect-time" json:"reconnectTime"`

	// BackgroundEntry names the entry that runs as the extension
	// background.
	BackgroundEntry string `mapstructure:"background-entry" json:"backgroundEntry"`

	// IgnoreEntries lists entries that never receive a client script.
	IgnoreEntries []string `mapstructure:"ignore-entries" json:"ignoreEntries"`

	// Manifest is the extension manifest path.
	Manifest string `mapstructure:"manifest" json:"manifest"`

	// Locales is the locale directory.
	Locales string `mapstructure:"locales" json:"locales"`

	// CertFile and KeyFile switch the endpoint to TLS when both are set.
	CertFile string `mapstructure:"cert-file" json:"certFile"`
	KeyFile  string `mapstructure:"key-file" json:"keyFile"`

	// ConfigFile is the resolved path to the config file used.
	// Set after Load(), never read from the config itself.
	ConfigFile string `mapstructure:"-" json:"-"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	return &Config{
		LogLevel:        LogLevelInfo,
		LogFormat:       LogFormatText,
		Host:            DefaultHost,
		Port:            DefaultPort,
		ReconnectTime:   DefaultReconnectTime,
		BackgroundEntry: DefaultBackgroundEntry,
		Manifest:        DefaultManifest,
		Locales:         DefaultLocales,
	}
}

// Validate checks that all config values are valid.
func (c *Config) Validate() error {
	switch c.LogLevel {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		// valid
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", c.LogLevel)
	}

	switch c.LogFormat {
	case LogFormatText, LogFormatJSON:
		// valid
	default:
		return fmt.Errorf("invalid log format %q: must be one of text, json", c.LogFormat)
	}

	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be between 0 and 65535", c.Port)
	}

	if c.ReconnectTime <= 0 {
		return fmt.Errorf("invalid reconnect time %s: must be positive", c.ReconnectTime)
	}

	if strings.TrimSpace(c.BackgroundEntry) == "" {
		return errors.New("background entry must not be empty")
	}

	if slices.Contains(c.IgnoreEntries, c.BackgroundEntry) {
		return fmt.Errorf("background entry %q cannot be ignored", c.BackgroundEntry)
	}

	if (c.CertFile == "") != (c.KeyFile == "") {
		return errors.New("cert-file and key-file must be set together")
	}

	return nil
}

// TLS reports whether the endpoint is served over TLS.
func (c *Config) TLS() bool {
	return c.CertFile != "" && c.KeyFile != ""
}

// EffectiveLogLevel returns the log level to use. When Quiet is true the log
// level is overridden to "error" regardless of the configured LogLevel.
func (c *Config) EffectiveLogLevel() string {
	if c.Quiet {
		return LogLevelError
	}

	return c.LogLevel
}

// Load initialises configuration from flags, environment variables, and an
// optional config file. A fresh viper instance is used on every call so that
// Load is safe for concurrent tests.
func Load(cmd *cobra.Command, configFile string) (*Config, error) {
	v := viper.New()

	setDefaults(v)
	configureEnv(v)

	if err := configureFile(v, configFile); err != nil {
		return nil, err
	}

	if err := bindFlags(v, cmd); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Store the resolved config file path so downstream code can locate it.
	cfg.ConfigFile = v.ConfigFileUsed()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// setDefaults registers default values in viper.
func setDefaults(v *viper.Viper) {
	v.SetDefault("log-level", LogLevelInfo)
	v.SetDefault("log-format", LogFormatText)
	v.SetDefault("no-color", false)
	v.SetDefault("quiet", false)
	v.SetDefault("host", DefaultHost)
	v.SetDefault("port", DefaultPort)
	v.SetDefault("reconnect-time", DefaultReconnectTime)
	v.SetDefault("background-entry", DefaultBackgroundEntry)
	v.SetDefault("ignore-entries", []string{})
	v.SetDefault("manifest", DefaultManifest)
	v.SetDefault("locales", DefaultLocales)
	v.SetDefault("cert-file", "")
	v.SetDefault("key-file", "")
}

// configureEnv sets up environment variable support.
func configureEnv(v *viper.Viper) {
	v.SetEnvPrefix("EXTRELOAD")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
}

// configureFile sets up the config file source.
func configureFile(v *viper.Viper, configFile string) error {
	if configFile != "" {
		v.SetConfigFile(configFile)

		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config file %q: %w", configFile, err)
		}

		return nil
	}

	// Auto-discovery mode.
	v.SetConfigName(".extreload")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".config", "extreload"))
	}

	if err := v.ReadInConfig(); err != nil {
		// No config file found → perfectly fine in auto-discovery.
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return nil
		}

		// Found a file but it was malformed.
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// bindFlags walks from cmd up to the root and binds all PersistentFlags.
func bindFlags(v *viper.Viper, cmd *cobra.Command) error {
	if cmd == nil {
		return nil
	}

	// Bind the current command's own flags.
	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	// Walk up to root and bind all persistent flags at each level.
	for c := cmd; c != nil; c = c.Parent() {
		if err := v.BindPFlags(c.PersistentFlags()); err != nil {
			return fmt.Errorf("binding persistent flags: %w", err)
		}
	}

	return nil
}

// ---------------------------------------------------------------------------
// Context helpers
// ---------------------------------------------------------------------------

type ctxKey struct{}
type ctxFileKey struct{}

// NewContext returns a child context carrying cfg.
func NewContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, ctxKey{}, cfg)
}

// FromContext extracts a Config from ctx, falling back to Default().
func FromContext(ctx context.Context) *Config {
	if cfg, ok := ctx.Value(ctxKey{}).(*Config); ok {
		return cfg
	}

	return Default()
}

// NewContextWithConfigFile returns a child context carrying the resolved
// config file path. This allows downstream code to locate the config file
// without re-discovering it.
func NewContextWithConfigFile(ctx context.Context, path string) context.Context {
	return context.WithValue(ctx, ctxFileKey{}, path)
}

// ConfigFileFromContext extracts the config file path from ctx.
// Returns empty string if no config file was resolved.
func ConfigFileFromContext(ctx context.Context) string {
	if p, ok := ctx.Value(ctxFileKey{}).(string); ok {
		return p
	}

	return ""
}
