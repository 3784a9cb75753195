package chocosync

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the agent's top-level configuration.
type Config struct {
	// TeamID scopes push serialization; the store derives the real team
	// from the token.
	TeamID string `yaml:"team_id"`
	// SitesFile optionally adds site profiles to the built-in table.
	SitesFile string `yaml:"sites_file"`
	// StatePath is the local agent-state database.
	StatePath string `yaml:"state_path"`

	Browser   BrowserConfig     `yaml:"browser"`
	Store     StoreConfig       `yaml:"store"`
	Sync      SyncConfig        `yaml:"sync"`
	Selectors map[string]string `yaml:"selectors"`
}

// BrowserConfig controls the Chrome connection.
type BrowserConfig struct {
	// Remote is a DevTools control URL to attach to. Empty = launch.
	Remote     string        `yaml:"remote"`
	Headless   bool          `yaml:"headless"`
	CookiePoll time.Duration `yaml:"cookie_poll"`
}

// StoreConfig points at the team snapshot store.
type StoreConfig struct {
	URL string `yaml:"url"`
	// Token is normally left empty here and supplied via
	// CHOCO_STORE_TOKEN.
	Token        string        `yaml:"token"`
	AllowPrivate bool          `yaml:"allow_private"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SyncConfig tunes the change monitor.
type SyncConfig struct {
	DebounceWindow time.Duration `yaml:"debounce_window"`
	RemovalSettle  time.Duration `yaml:"removal_settle"`
}

// LoadConfigFile reads a YAML configuration file and applies defaults.
func LoadConfigFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("chocosync: read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("chocosync: parse config: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.StatePath == "" {
		c.StatePath = "choco-state.db"
	}
	if c.Browser.CookiePoll <= 0 {
		c.Browser.CookiePoll = 2 * time.Second
	}
	if c.Store.Timeout <= 0 {
		c.Store.Timeout = 15 * time.Second
	}
	if c.Store.Token == "" {
		c.Store.Token = os.Getenv("CHOCO_STORE_TOKEN")
	}
	if c.Sync.DebounceWindow <= 0 {
		c.Sync.DebounceWindow = 500 * time.Millisecond
	}
	if c.Sync.RemovalSettle <= 0 {
		c.Sync.RemovalSettle = 100 * time.Millisecond
	}
	if c.Selectors == nil {
		// collect the credential core by default; signals stay opt-in
		c.Selectors = map[string]string{
			"cookies":        "full",
			"localStorage":   "full",
			"sessionStorage": "full",
		}
	}
}
