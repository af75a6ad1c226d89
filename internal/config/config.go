package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"streetrun/internal/db"
	"streetrun/internal/domain"
)

// DefaultStartCooldown is the minimum interval between two mission starts.
const DefaultStartCooldown = 2 * time.Second

// Config models streetrun.yml.
type Config struct {
	Server struct {
		Addr     string `yaml:"addr"`
		BasePath string `yaml:"base_path"`
		DevLogin bool   `yaml:"dev_login"`
	} `yaml:"server"`
	Database struct {
		Dialect string `yaml:"dialect"`
		Path    string `yaml:"path"`
		DSN     string `yaml:"dsn"`
	} `yaml:"database"`
	Missions struct {
		StartCooldownSeconds *float64 `yaml:"start_cooldown_seconds"`
	} `yaml:"missions"`
	Webhooks []WebhookConfig            `yaml:"webhooks"`
	Catalog  []domain.MissionDefinition `yaml:"catalog"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events"`
	Secret         string   `yaml:"secret"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// StartCooldown returns the configured cooldown, or the default when unset.
func (c *Config) StartCooldown() time.Duration {
	if c == nil || c.Missions.StartCooldownSeconds == nil {
		return DefaultStartCooldown
	}
	return time.Duration(*c.Missions.StartCooldownSeconds * float64(time.Second))
}

// DBConfig converts the database section for db.Open.
func (c *Config) DBConfig(workspace string) (db.Config, error) {
	dialect, err := db.ParseDialect(c.Database.Dialect)
	if err != nil {
		return db.Config{}, err
	}
	return db.Config{
		Dialect:   dialect,
		Workspace: workspace,
		Path:      c.Database.Path,
		DSN:       c.Database.DSN,
	}, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	dialect, err := db.ParseDialect(c.Database.Dialect)
	if err != nil {
		return fmt.Errorf("config.database.dialect: %w", err)
	}
	if dialect == db.Postgres && c.Database.DSN == "" {
		return fmt.Errorf("config.database.dsn is required for postgres")
	}
	if s := c.Missions.StartCooldownSeconds; s != nil && *s < 0 {
		return fmt.Errorf("config.missions.start_cooldown_seconds must not be negative")
	}
	if err := ValidateCatalog(c.Catalog); err != nil {
		return err
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
		if hook.TimeoutSeconds < 0 {
			return fmt.Errorf("webhook %s has negative timeout", hook.URL)
		}
	}
	return nil
}

// ValidateCatalog checks mission definitions before they are imported.
func ValidateCatalog(missions []domain.MissionDefinition) error {
	seen := make(map[int64]struct{}, len(missions))
	for _, m := range missions {
		if m.ID <= 0 {
			return fmt.Errorf("mission %q has invalid id %d", m.Name, m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return fmt.Errorf("mission id %d is defined twice", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.Name == "" {
			return fmt.Errorf("mission %d has empty name", m.ID)
		}
		if m.DurationSeconds <= 0 {
			return fmt.Errorf("mission %d duration_seconds must be positive", m.ID)
		}
		if m.Rewards.Credits < 0 || m.Rewards.StreetCred < 0 {
			return fmt.Errorf("mission %d has negative rewards", m.ID)
		}
		for _, it := range m.Rewards.Items {
			if it.Kind == "" || it.ID == "" || it.Quantity <= 0 {
				return fmt.Errorf("mission %d has invalid item reward %+v", m.ID, it)
			}
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "streetrun.yml")
}

// Exists reports whether workspace has a streetrun.yml.
func Exists(workspace string) bool {
	_, err := os.Stat(Path(workspace))
	return err == nil
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; write one with streetrun config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := FromYAML([]byte(defaultTemplate))
	if err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return cfg
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
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

// CatalogFromFile reads a standalone mission catalog (a YAML list or a
// document with a top-level catalog key).
func CatalogFromFile(path string) ([]domain.MissionDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var list []domain.MissionDefinition
	if err := yaml.Unmarshal(data, &list); err != nil {
		var doc struct {
			Catalog []domain.MissionDefinition `yaml:"catalog"`
		}
		if err2 := yaml.Unmarshal(data, &doc); err2 != nil {
			return nil, fmt.Errorf("invalid catalog yaml: %w", err)
		}
		list = doc.Catalog
	}
	if err := ValidateCatalog(list); err != nil {
		return nil, err
	}
	return list, nil
}

const defaultTemplate = `server:
  addr: 127.0.0.1:8080
  base_path: /v1
  dev_login: false

database:
  dialect: sqlite

missions:
  start_cooldown_seconds: 2

catalog:
  - id: 1
    name: Corner Run
    description: Move a package across three blocks without drawing attention.
    duration_seconds: 60
    rewards:
      credits: 100
      street_cred: 5
    visible: true
  - id: 2
    name: Warehouse Sweep
    description: Clear out the rival crew's stash before the night shift.
    duration_seconds: 900
    rewards:
      credits: 750
      street_cred: 20
      items:
        - kind: gear
          id: crowbar
          quantity: 1
    visible: true
  - id: 3
    name: Dock Heist
    description: Retired after the harbor crackdown.
    duration_seconds: 3600
    rewards:
      credits: 5000
      street_cred: 80
    visible: false
`
