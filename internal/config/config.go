package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Duration wraps time.Duration so TOML values like "45s" parse
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns the wrapped time.Duration
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Browser       BrowserConfig       `toml:"browser"`
	Upgrade       UpgradeConfig       `toml:"upgrade"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
}

// GeneralConfig holds general settings
type GeneralConfig struct {
	OrgFile      string `toml:"org_file"`
	SchedulePath string `toml:"schedule_path"`
	DatabasePath string `toml:"database_path"`
}

// BrowserConfig holds browser pool settings
type BrowserConfig struct {
	MaxInstances int      `toml:"max_instances"`
	Headless     bool     `toml:"headless"`
	StaleAfter   Duration `toml:"stale_after"`
}

// UpgradeConfig holds per-attempt settings
type UpgradeConfig struct {
	LoginTimeout       Duration `toml:"login_timeout"`
	InputTimeout       Duration `toml:"input_timeout"`
	MaxUpgradeDuration Duration `toml:"max_upgrade_duration"`
	MaxRetries         int      `toml:"max_retries"`
	RetryBackoff       Duration `toml:"retry_backoff"`
	ConfirmVersions    bool     `toml:"confirm_versions"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// WebConfig holds web UI settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			OrgFile:      filepath.Join(home, ".config", "orgupgrader", "orgs.yaml"),
			SchedulePath: filepath.Join(home, ".config", "orgupgrader", "schedule.toml"),
			DatabasePath: filepath.Join(home, ".orgupgrader", "history.db"),
		},
		Browser: BrowserConfig{
			MaxInstances: 4,
			Headless:     true,
			StaleAfter:   Duration(10 * time.Minute),
		},
		Upgrade: UpgradeConfig{
			LoginTimeout:       Duration(30 * time.Second),
			InputTimeout:       Duration(2 * time.Minute),
			MaxUpgradeDuration: Duration(10 * time.Minute),
			MaxRetries:         3,
			RetryBackoff:       Duration(5 * time.Second),
			ConfirmVersions:    true,
		},
		Notifications: NotificationsConfig{
			Desktop: true,
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	// Expand paths
	cfg.General.OrgFile = ExpandPath(cfg.General.OrgFile)
	cfg.General.SchedulePath = ExpandPath(cfg.General.SchedulePath)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the rest of the system cannot work with
func (c *Config) Validate() error {
	if c.Browser.MaxInstances <= 0 {
		return fmt.Errorf("browser.max_instances must be positive")
	}
	if c.Upgrade.MaxRetries <= 0 {
		return fmt.Errorf("upgrade.max_retries must be positive")
	}
	if c.Web.Port <= 0 || c.Web.Port > 65535 {
		return fmt.Errorf("web.port %d out of range", c.Web.Port)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "orgupgrader", "config.toml")
}
