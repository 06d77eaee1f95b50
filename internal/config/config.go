package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"pilotdeck/internal/domain"
)

const (
	DefaultConfirmWindow = 4000 * time.Millisecond
	DefaultSyncInterval  = 30 * time.Second
	DefaultPendingLimit  = 50
)

// Config models pilotdeck.yml.
type Config struct {
	Workspace struct {
		ID   string `yaml:"id" json:"id"`
		Name string `yaml:"name" json:"name"`
	} `yaml:"workspace" json:"workspace"`
	Modules    []domain.Module  `yaml:"modules" json:"modules"`
	Automation AutomationConfig `yaml:"automation" json:"automation"`
	Server     struct {
		DevLogin bool `yaml:"dev_login" json:"dev_login"`
	} `yaml:"server" json:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks" json:"webhooks"`
}

type AutomationConfig struct {
	ConfirmWindow time.Duration `yaml:"confirm_window" json:"confirm_window"`
	SyncInterval  time.Duration `yaml:"sync_interval" json:"sync_interval"`
	PendingLimit  int           `yaml:"pending_limit" json:"pending_limit"`
}

// WebhookConfig describes one outbound receiver of workspace events.
// Approved items reach the upstream executor through a hook subscribed to
// approval.approved.
type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events" json:"events,omitempty"`
	Secret         string   `yaml:"secret" json:"-"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds,omitempty"`
	RatePerSecond  float64  `yaml:"rate_per_second" json:"rate_per_second,omitempty"`
	Enabled        *bool    `yaml:"enabled" json:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with pd config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(""), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure and fills defaults for
// zero-valued timings.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Workspace.ID) == "" {
		return fmt.Errorf("config.workspace.id is required")
	}
	if len(c.Modules) == 0 {
		return fmt.Errorf("config.modules must list at least one module")
	}
	seen := map[string]bool{}
	for i, m := range c.Modules {
		if strings.TrimSpace(m.ID) == "" {
			return fmt.Errorf("config.modules[%d].id is required", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("module %s defined twice", m.ID)
		}
		seen[m.ID] = true
	}
	if c.Automation.ConfirmWindow < 0 || c.Automation.SyncInterval < 0 {
		return fmt.Errorf("automation timings must not be negative")
	}
	if c.Automation.ConfirmWindow == 0 {
		c.Automation.ConfirmWindow = DefaultConfirmWindow
	}
	if c.Automation.SyncInterval == 0 {
		c.Automation.SyncInterval = DefaultSyncInterval
	}
	if c.Automation.PendingLimit <= 0 {
		c.Automation.PendingLimit = DefaultPendingLimit
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
		if hook.TimeoutSeconds < 0 || hook.RatePerSecond < 0 {
			return fmt.Errorf("config.webhooks[%d] has negative timeout or rate", i)
		}
	}
	return nil
}

// Module looks up a catalog entry.
func (c *Config) Module(id string) (domain.Module, bool) {
	for _, m := range c.Modules {
		if m.ID == id {
			return m, true
		}
	}
	return domain.Module{}, false
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "pilotdeck.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceID string) string {
	if workspaceID == "" {
		workspaceID = "default"
	}
	return fmt.Sprintf(defaultTemplate, workspaceID)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceID string) *Config {
	cfg, err := FromYAML([]byte(GenerateDefault(workspaceID)))
	if err != nil {
		panic(fmt.Sprintf("default config invalid: %v", err))
	}
	return cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workspace:
  id: %s
  name: "Marketing workspace"

modules:
  - id: content
    name: Content Studio
    category: create
    color: "#7c3aed"
    automatable: true
  - id: ads
    name: Ad Manager
    category: grow
    color: "#2563eb"
    automatable: true
  - id: email
    name: Email Campaigns
    category: engage
    color: "#059669"
    automatable: true
  - id: social
    name: Social Scheduler
    category: engage
    color: "#db2777"
    automatable: true
  - id: seo
    name: SEO Toolkit
    category: grow
    color: "#d97706"
    automatable: true
  - id: analytics
    name: Analytics
    category: measure
    color: "#475569"
    automatable: false

automation:
  confirm_window: 4s
  sync_interval: 30s
  pending_limit: 50

server:
  dev_login: false

webhooks: []
`
