package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models veriline.yml.
type Config struct {
	Workspace struct {
		Slug  string `yaml:"slug"`
		Title string `yaml:"title"`
	} `yaml:"workspace"`
	Remote struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"remote"`
	Methodology struct {
		Slug string `yaml:"slug"`
	} `yaml:"methodology"`
	Investigation struct {
		Slug string `yaml:"slug"`
	} `yaml:"investigation"`
	Segment struct {
		Slug string `yaml:"slug"`
	} `yaml:"segment"`
	Serve struct {
		Addr      string `yaml:"addr"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"serve"`
	Export struct {
		Dir string `yaml:"dir"`
	} `yaml:"export"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Events         []string `yaml:"events,omitempty"`
	Secret         string   `yaml:"secret,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with vl init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Workspace.Slug == "" {
		return fmt.Errorf("config.workspace.slug is required")
	}
	if strings.ContainsAny(c.Workspace.Slug, " /") {
		return fmt.Errorf("config.workspace.slug must be a path-safe slug")
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("config.remote.base_url is required")
	}
	if c.Methodology.Slug == "" {
		return fmt.Errorf("config.methodology.slug is required")
	}
	if c.Investigation.Slug == "" {
		return fmt.Errorf("config.investigation.slug is required")
	}
	if c.Segment.Slug == "" {
		return fmt.Errorf("config.segment.slug is required")
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "veriline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(workspaceSlug string) string {
	return fmt.Sprintf(defaultTemplate, workspaceSlug)
}

// Default returns the default Config struct for a workspace.
func Default(workspaceSlug string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, workspaceSlug))).Decode(&cfg)
	return &cfg
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
  slug: %s
  title: ""

remote:
  base_url: http://127.0.0.1:8791
  api_key: ""

methodology:
  slug: default

investigation:
  slug: default

segment:
  slug: default

serve:
  addr: 127.0.0.1:8791
  jwt_secret: ""

export:
  dir: .
`
