package model

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// ChannelConfig holds the configuration for a single notification channel.
type ChannelConfig struct {
	// ID is the unique identifier for this channel (e.g., "email", "issues").
	ID string `mapstructure:"id" yaml:"id"`

	// Type identifies the backend kind ("email", "guerrilla", "github", "canvas").
	Type string `mapstructure:"type" yaml:"type"`

	// Name is the user-defined label for this channel.
	Name string `mapstructure:"name" yaml:"name"`

	// BaseURL is the root URL of the backing service.
	BaseURL string `mapstructure:"base_url" yaml:"base_url"`

	// Account identifies the account used for credential caching
	// (mailbox address, login).
	Account string `mapstructure:"account" yaml:"account"`

	// Token is an optional credential. When set it takes priority over
	// the secret store and is copied into it on first use.
	Token string `mapstructure:"token" yaml:"token"`

	// Enabled controls whether this channel is polled at startup.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// PollIntervalSec is how often (in seconds) to fetch pending items.
	PollIntervalSec int `mapstructure:"poll_interval_sec" yaml:"poll_interval_sec"`

	// AutoReply permits sending generated replies when not in dry-run.
	AutoReply bool `mapstructure:"auto_reply" yaml:"auto_reply"`

	// Config holds channel-specific key-value settings
	// (e.g., imap_host, smtp_port, delete_after_read).
	Config map[string]string `mapstructure:"config" yaml:"config"`
}

// Setting returns a channel-specific setting or def when unset.
func (c ChannelConfig) Setting(key, def string) string {
	if v, ok := c.Config[key]; ok && v != "" {
		return v
	}
	return def
}

// BoolSetting parses a channel-specific boolean setting.
func (c ChannelConfig) BoolSetting(key string, def bool) bool {
	v, ok := c.Config[key]
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// IdentityConfig holds the persona used when the store is empty.
type IdentityConfig struct {
	OwnerName     string `mapstructure:"owner_name" yaml:"owner_name"`
	AssistantName string `mapstructure:"assistant_name" yaml:"assistant_name"`
	Tone          string `mapstructure:"tone" yaml:"tone"`
}

// AIConfig holds settings for the inference backend.
type AIConfig struct {
	BaseURL    string `mapstructure:"base_url" yaml:"base_url"`
	Model      string `mapstructure:"model" yaml:"model"`
	TimeoutSec int    `mapstructure:"timeout_sec" yaml:"timeout_sec"`
}

// GatewayConfig holds process-wide behaviour and the control API address.
type GatewayConfig struct {
	DryRun           bool   `mapstructure:"dry_run" yaml:"dry_run"`
	Host             string `mapstructure:"host" yaml:"host"`
	Port             int    `mapstructure:"port" yaml:"port"`
	ShutdownGraceSec int    `mapstructure:"shutdown_grace_sec" yaml:"shutdown_grace_sec"`
	LogLevel         string `mapstructure:"log_level" yaml:"log_level"`
}

// Addr returns the control API bind address.
func (g GatewayConfig) Addr() string {
	return net.JoinHostPort(g.Host, strconv.Itoa(g.Port))
}

// StoreConfig holds settings for the persistent state store.
type StoreConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	MaxLogLines int    `mapstructure:"max_log_lines" yaml:"max_log_lines"`
}

// CredentialConfig selects where channel credentials are cached.
type CredentialConfig struct {
	// FileDir is used by the encrypted file keyring backend.
	FileDir string `mapstructure:"file_dir" yaml:"file_dir"`
}

// AppConfig is the top-level application configuration.
type AppConfig struct {
	Identity    IdentityConfig   `mapstructure:"identity" yaml:"identity"`
	Gateway     GatewayConfig    `mapstructure:"gateway" yaml:"gateway"`
	AI          AIConfig         `mapstructure:"ai" yaml:"ai"`
	Store       StoreConfig      `mapstructure:"store" yaml:"store"`
	Credentials CredentialConfig `mapstructure:"credentials" yaml:"credentials"`
	Channels    []ChannelConfig  `mapstructure:"channels" yaml:"channels"`
}

// configDir returns ~/.config/localclaw, or the working directory when
// the home directory cannot be determined.
func configDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "localclaw")
}

// DefaultConfigPath returns the default path for the configuration file,
// located at ~/.config/localclaw/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(configDir(), "config.yaml")
}

// DefaultAppConfig returns the configuration used when no file exists.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		Identity: IdentityConfig{
			OwnerName:     "owner",
			AssistantName: "LocalClaw",
			Tone:          "Professional, concise, warm",
		},
		Gateway: GatewayConfig{
			DryRun:           true,
			Host:             "127.0.0.1",
			Port:             5000,
			ShutdownGraceSec: 30,
			LogLevel:         "info",
		},
		AI: AIConfig{
			BaseURL:    "http://localhost:11434",
			Model:      "llama3.2:3b",
			TimeoutSec: 120,
		},
		Store: StoreConfig{
			Path:        filepath.Join(configDir(), "state.db"),
			MaxLogLines: 200,
		},
		Credentials: CredentialConfig{
			FileDir: filepath.Join(configDir(), "credentials"),
		},
		Channels: []ChannelConfig{},
	}
}

// LoadConfig reads configuration from the given YAML file path using Viper.
// LOCALCLAW_* environment variables override file values. If the file does
// not exist, it returns a default configuration.
func LoadConfig(path string) (*AppConfig, error) {
	def := DefaultAppConfig()

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")
	v.SetEnvPrefix("localclaw")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Set defaults so missing keys resolve to sensible values.
	v.SetDefault("identity.owner_name", def.Identity.OwnerName)
	v.SetDefault("identity.assistant_name", def.Identity.AssistantName)
	v.SetDefault("identity.tone", def.Identity.Tone)
	v.SetDefault("gateway.dry_run", def.Gateway.DryRun)
	v.SetDefault("gateway.host", def.Gateway.Host)
	v.SetDefault("gateway.port", def.Gateway.Port)
	v.SetDefault("gateway.shutdown_grace_sec", def.Gateway.ShutdownGraceSec)
	v.SetDefault("gateway.log_level", def.Gateway.LogLevel)
	v.SetDefault("ai.base_url", def.AI.BaseURL)
	v.SetDefault("ai.model", def.AI.Model)
	v.SetDefault("ai.timeout_sec", def.AI.TimeoutSec)
	v.SetDefault("store.path", def.Store.Path)
	v.SetDefault("store.max_log_lines", def.Store.MaxLogLines)
	v.SetDefault("credentials.file_dir", def.Credentials.FileDir)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		var pathErr *os.PathError
		if !errors.As(err, &notFound) && !errors.As(err, &pathErr) {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	cfg := DefaultAppConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	// Apply defaults for each channel entry.
	for i := range cfg.Channels {
		if cfg.Channels[i].PollIntervalSec <= 0 {
			cfg.Channels[i].PollIntervalSec = 60
		}
		if cfg.Channels[i].Name == "" {
			cfg.Channels[i].Name = cfg.Channels[i].ID
		}
		if !cfg.Channels[i].Enabled {
			// Viper unmarshals missing bools as false; treat unset as true.
			key := fmt.Sprintf("channels.%d.enabled", i)
			if !v.IsSet(key) {
				cfg.Channels[i].Enabled = true
			}
		}
	}

	return cfg, nil
}

// Validate reports configuration errors that must stop the process.
func (c *AppConfig) Validate() error {
	var errs []error

	if c.Gateway.Host == "" {
		errs = append(errs, errors.New("gateway.host is required"))
	} else if ip := net.ParseIP(c.Gateway.Host); ip == nil && c.Gateway.Host != "localhost" {
		errs = append(errs, fmt.Errorf("gateway.host %q is not a valid bind address", c.Gateway.Host))
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway.port %d out of range", c.Gateway.Port))
	}
	if c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required"))
	}

	seen := make(map[string]bool, len(c.Channels))
	enabled := 0
	for _, ch := range c.Channels {
		if ch.ID == "" {
			errs = append(errs, errors.New("channel without id"))
			continue
		}
		if seen[ch.ID] {
			errs = append(errs, fmt.Errorf("duplicate channel id %q", ch.ID))
		}
		seen[ch.ID] = true
		if ch.Enabled {
			enabled++
		}

		switch ChannelType(ch.Type) {
		case ChannelTypeEmail:
			if ch.Setting("imap_host", "") == "" {
				errs = append(errs, fmt.Errorf("channel %q: config.imap_host is required", ch.ID))
			}
			if ch.Account == "" {
				errs = append(errs, fmt.Errorf("channel %q: account is required", ch.ID))
			}
		case ChannelTypeGitHub, ChannelTypeCanvas:
			if ch.BaseURL == "" {
				errs = append(errs, fmt.Errorf("channel %q: base_url is required", ch.ID))
			}
			if ch.Account == "" {
				errs = append(errs, fmt.Errorf("channel %q: account is required", ch.ID))
			}
		case ChannelTypeGuerrilla:
		default:
			errs = append(errs, fmt.Errorf("channel %q: unknown type %q", ch.ID, ch.Type))
		}
	}
	if enabled == 0 {
		errs = append(errs, errors.New("no enabled channels configured"))
	}

	return errors.Join(errs...)
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

	v.Set("identity", cfg.Identity)
	v.Set("gateway", cfg.Gateway)
	v.Set("ai", cfg.AI)
	v.Set("store", cfg.Store)
	v.Set("credentials", cfg.Credentials)
	v.Set("channels", cfg.Channels)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}

	return nil
}
