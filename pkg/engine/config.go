package engine

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

// FileConfig is the YAML configuration surface (tern.yaml). ${VAR}
// references are expanded from the environment before parsing, so secrets
// stay out of the file:
//
//	provider: anthropic
//	model: claude-sonnet-4-5
//	api_key: ${ANTHROPIC_API_KEY}
type FileConfig struct {
	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`

	// Bedrock-only.
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"`

	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`

	MaxSteps        int `yaml:"max_steps"`
	ProviderRetries int `yaml:"provider_retries"`

	Compaction CompactionConfig `yaml:"compaction"`
	Tools      ToolsConfig      `yaml:"tools"`
	Policy     PolicyConfig     `yaml:"policy"`
	Logging    LoggingConfig    `yaml:"logging"`

	ProjectsDir string `yaml:"projects_dir"`
}

type CompactionConfig struct {
	Enabled    *bool `yaml:"enabled"`
	Threshold  int   `yaml:"threshold"`
	KeepRecent int   `yaml:"keep_recent"`
}

type ToolsConfig struct {
	Preset    string   `yaml:"preset"`
	Workspace string   `yaml:"workspace"`
	Plugins   []string `yaml:"plugins"`
}

type PolicyConfig struct {
	Mode           string   `yaml:"mode"`
	Deny           []string `yaml:"deny"`
	Allow          []string `yaml:"allow"`
	MaxOutputBytes int      `yaml:"max_output_bytes"`
}

type LoggingConfig struct {
	Dir   string `yaml:"dir"`
	Level string `yaml:"level"`
}

// DefaultFileConfig returns the configuration used when no file exists.
func DefaultFileConfig() *FileConfig {
	cfg := &FileConfig{}
	cfg.applyDefaults()
	return cfg
}

// LoadConfig reads path, expands ${VAR} from the environment, parses the
// YAML and applies defaults. A missing file yields the defaults.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return DefaultFileConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))
	cfg := &FileConfig{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *FileConfig) applyDefaults() {
	if c.Provider == "" {
		c.Provider = "anthropic"
	}
	if c.Model == "" {
		c.Model = "claude-sonnet-4-5"
	}
	if c.MaxSteps == 0 {
		c.MaxSteps = DefaultMaxSteps
	}
	if c.ProviderRetries == 0 {
		c.ProviderRetries = 1
	}
	if c.Compaction.Enabled == nil {
		t := true
		c.Compaction.Enabled = &t
	}
	if c.Compaction.KeepRecent == 0 {
		c.Compaction.KeepRecent = 10
	}
	if c.Tools.Preset == "" {
		c.Tools.Preset = "coding"
	}
	if c.Tools.Workspace == "" {
		c.Tools.Workspace = "."
	}
	if c.Policy.Mode == "" {
		c.Policy.Mode = "off"
	}
	if c.ProjectsDir == "" {
		c.ProjectsDir = "~/.tern"
	}
}
