package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models taskbridge.yml.
type Config struct {
	Suite struct {
		BaseURL   string `yaml:"base_url"`
		AppID     string `yaml:"app_id"`
		AppSecret string `yaml:"app_secret"`
	} `yaml:"suite"`
	Sync struct {
		// BotUser is the service identity the bridge writes records as.
		// Forward-sync events attributed to it are dropped to break the
		// reverse-sync feedback loop.
		BotUser string       `yaml:"bot_user"`
		Fields  RecordFields `yaml:"fields"`
	} `yaml:"sync"`
	Server struct {
		Addr          string `yaml:"addr"`
		BasePath      string `yaml:"base_path"`
		WebhookSecret string `yaml:"webhook_secret"`
		JWTSecret     string `yaml:"jwt_secret"`
	} `yaml:"server"`
}

// RecordFields names the source-table columns the reverse synchronizer
// writes back into.
type RecordFields struct {
	Process  string `yaml:"process"`
	Start    string `yaml:"start"`
	Estimate string `yaml:"estimate"`
	Remark   string `yaml:"remark"`
	DueDate  string `yaml:"due_date"`
	Status   string `yaml:"status"`
	Owner    string `yaml:"owner"`
	Phase    string `yaml:"phase"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Suite.BaseURL) == "" {
		return fmt.Errorf("config.suite.base_url is required")
	}
	if c.Suite.AppID == "" || c.Suite.AppSecret == "" {
		return fmt.Errorf("config.suite.app_id and app_secret are required")
	}
	if strings.TrimSpace(c.Sync.BotUser) == "" {
		return fmt.Errorf("config.sync.bot_user is required")
	}
	f := c.Sync.Fields
	for name, v := range map[string]string{
		"process":  f.Process,
		"start":    f.Start,
		"estimate": f.Estimate,
		"remark":   f.Remark,
		"due_date": f.DueDate,
		"status":   f.Status,
		"owner":    f.Owner,
		"phase":    f.Phase,
	} {
		if v == "" {
			return fmt.Errorf("config.sync.fields.%s is required", name)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "taskbridge.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with taskbridge config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional reads the config file without validating, so callers can
// overlay credentials from the environment first. A missing file yields the
// defaults.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	return cfg, nil
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config with every non-credential field filled in.
func Default() *Config {
	var cfg Config
	cfg.Suite.BaseURL = "https://open.larksuite.com/open-apis"
	cfg.Sync.BotUser = "IT Bot"
	cfg.Sync.Fields = RecordFields{
		Process:  "Process",
		Start:    "Start Date",
		Estimate: "Estimate Deadline",
		Remark:   "Remark",
		DueDate:  "Due Date",
		Status:   "Status",
		Owner:    "PIC",
		Phase:    "Phase",
	}
	cfg.Server.Addr = ":8080"
	cfg.Server.BasePath = "/v0"
	return &cfg
}

// GenerateDefault returns default config YAML for config init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `suite:
  base_url: https://open.larksuite.com/open-apis
  app_id: ""
  app_secret: ""

sync:
  bot_user: "IT Bot"
  fields:
    process: Process
    start: Start Date
    estimate: Estimate Deadline
    remark: Remark
    due_date: Due Date
    status: Status
    owner: PIC
    phase: Phase

server:
  addr: ":8080"
  base_path: /v0
  webhook_secret: ""
  jwt_secret: ""
`
