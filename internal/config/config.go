package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models dialectica.yml.
type Config struct {
	Missions struct {
		// Templates receive the user query via %s.
		Thesis     string `yaml:"thesis"`
		Antithesis string `yaml:"antithesis"`
	} `yaml:"missions"`
	Checklist ChecklistConfig `yaml:"checklist"`
	Workers   struct {
		Provider    string `yaml:"provider"` // canned | claude
		Concurrency int    `yaml:"concurrency"`
		Claude      struct {
			Model     string `yaml:"model"`
			MaxTokens int    `yaml:"max_tokens"`
		} `yaml:"claude"`
	} `yaml:"workers"`
	Server struct {
		JWTSecret              string `yaml:"jwt_secret"`
		AllowLegacyActorHeader bool   `yaml:"allow_legacy_actor_header"`
	} `yaml:"server"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

// ChecklistConfig declares what a dossier must carry before a reviewer may
// approve it.
type ChecklistConfig struct {
	MinEvidence       int  `yaml:"min_evidence"`
	RequireSummary    bool `yaml:"require_summary"`
	RequireStepsDone  bool `yaml:"require_steps_done"`
	MinMeanConfidence *float64 `yaml:"min_mean_confidence,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	SigningSecret  string   `yaml:"signing_secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; run dx init or pass --config", path)
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

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if !strings.Contains(c.Missions.Thesis, "%s") {
		return fmt.Errorf("config.missions.thesis must contain %%s for the query")
	}
	if !strings.Contains(c.Missions.Antithesis, "%s") {
		return fmt.Errorf("config.missions.antithesis must contain %%s for the query")
	}
	if c.Checklist.MinEvidence < 0 {
		return fmt.Errorf("config.checklist.min_evidence must be >= 0")
	}
	if c.Checklist.MinMeanConfidence != nil {
		if v := *c.Checklist.MinMeanConfidence; v < 0 || v > 1 {
			return fmt.Errorf("config.checklist.min_mean_confidence must be in [0,1]")
		}
	}
	switch c.Workers.Provider {
	case "canned", "claude":
	default:
		return fmt.Errorf("config.workers.provider must be canned or claude, got %q", c.Workers.Provider)
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("config.workers.concurrency must be > 0")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// ThesisMission renders the thesis mission for a query.
func (c *Config) ThesisMission(query string) string {
	return fmt.Sprintf(c.Missions.Thesis, query)
}

// AntithesisMission renders the antithesis mission for a query.
func (c *Config) AntithesisMission(query string) string {
	return fmt.Sprintf(c.Missions.Antithesis, query)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dialectica.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
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

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `missions:
  thesis: "Build the strongest possible, evidence-based case FOR the following: %s"
  antithesis: "Build the strongest possible, evidence-based case AGAINST the following: %s"

checklist:
  min_evidence: 1
  require_summary: true
  require_steps_done: true

workers:
  provider: canned
  concurrency: 4
  claude:
    model: claude-sonnet-4-20250514
    max_tokens: 4096

server:
  jwt_secret: ""
  allow_legacy_actor_header: true

webhooks: []
`
