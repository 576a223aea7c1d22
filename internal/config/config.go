package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the Jarvis configuration
type Config struct {
	LLM       LLMConfig       `yaml:"llm"`
	History   HistoryConfig   `yaml:"history"`
	Safety    SafetyConfig    `yaml:"safety"`
	Workspace WorkspaceConfig `yaml:"workspace"`
	Browser   BrowserConfig   `yaml:"browser"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// LLMConfig configures the model bound to each role
type LLMConfig struct {
	Roles      map[string]ModelConfig `yaml:"roles"`
	OllamaHost string                 `yaml:"ollama_host"`
}

// ModelConfig configures one provider/model pair
type ModelConfig struct {
	Provider string `yaml:"provider"` // "claude", "gemini", "openai", "ollama"
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url,omitempty"`

	// APIKey comes from the environment only, never from the file.
	APIKey string `yaml:"-"`

	TimeoutSec int `yaml:"timeout_sec,omitempty"`

	// Computed from TimeoutSec after load
	Timeout time.Duration `yaml:"-"`
}

// HistoryConfig bounds the conversation log
type HistoryConfig struct {
	MaxMessages int `yaml:"max_messages"`
}

// SafetyConfig configures the tool-call gate
type SafetyConfig struct {
	AutoApproveSafe bool `yaml:"auto_approve_safe"`
}

// WorkspaceConfig configures filesystem roots
type WorkspaceConfig struct {
	Dir     string `yaml:"dir"`
	DataDir string `yaml:"data_dir"`
}

// BrowserConfig configures browser automation
type BrowserConfig struct {
	TaskTimeoutSec int `yaml:"task_timeout_sec"`

	// Computed from TaskTimeoutSec after load
	TaskTimeout time.Duration `yaml:"-"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level string `yaml:"level"` // "debug", "info", "warn", "error"
	File  string `yaml:"file,omitempty"`
}

// ForRole returns the model configuration bound to role. Roles without
// an entry fall back to the default entry, so a minimal config only
// needs "default".
func (c LLMConfig) ForRole(role string) (ModelConfig, error) {
	if mc, ok := c.Roles[role]; ok {
		return mc, nil
	}
	if mc, ok := c.Roles["default"]; ok {
		return mc, nil
	}
	return ModelConfig{}, fmt.Errorf("no model configured for role %q and no default entry", role)
}

// RoleNames returns the configured role names, sorted.
func (c LLMConfig) RoleNames() []string {
	names := make([]string, 0, len(c.Roles))
	for name := range c.Roles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// roleEnvPrefixes maps role names to their environment variable prefix.
// Each prefix supports _PROVIDER, _MODEL, _API_KEY, _BASE_URL and
// _TIMEOUT (seconds) suffixes.
var roleEnvPrefixes = map[string]string{
	"default": "DEFAULT_LLM",
	"smart":   "SMART_LLM",
	"coder":   "CODER_LLM",
	"fast":    "FAST_LLM",
	"vision":  "VISION_LLM",
}

func defaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Roles: map[string]ModelConfig{
				"default": {Provider: "claude", Model: "claude-sonnet-4-20250514", TimeoutSec: 60},
				"coder":   {Provider: "ollama", Model: "deepseek-coder:6.7b", TimeoutSec: 180},
				"fast":    {Provider: "ollama", Model: "llama3:8b", TimeoutSec: 60},
				"vision":  {Provider: "gemini", Model: "gemini-1.5-flash", TimeoutSec: 60},
			},
			OllamaHost: "http://localhost:11434",
		},
		History: HistoryConfig{
			MaxMessages: 30,
		},
		Safety: SafetyConfig{
			AutoApproveSafe: true,
		},
		Workspace: WorkspaceConfig{
			Dir:     "./workspace",
			DataDir: "./data",
		},
		Browser: BrowserConfig{
			TaskTimeoutSec: 300,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the YAML file at path, then applies
// environment overrides. A missing file yields the defaults; an empty
// path skips the file entirely. A .env file in the working directory
// is loaded first, without clobbering variables already set.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := defaultConfig()

	if path != "" {
		expanded, err := expandHome(path)
		if err != nil {
			return nil, fmt.Errorf("expanding config path: %w", err)
		}

		data, err := os.ReadFile(expanded)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	applyEnvOverrides(cfg)
	computeDerived(cfg)

	return cfg, nil
}

// Save writes the configuration as YAML, creating parent directories.
func Save(cfg *Config, path string) error {
	expanded, err := expandHome(path)
	if err != nil {
		return fmt.Errorf("expanding config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	if err := os.WriteFile(expanded, data, 0o644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if cfg.LLM.Roles == nil {
		cfg.LLM.Roles = make(map[string]ModelConfig)
	}

	for role, prefix := range roleEnvPrefixes {
		mc, exists := cfg.LLM.Roles[role]

		if v := os.Getenv(prefix + "_PROVIDER"); v != "" {
			mc.Provider = v
			exists = true
		}
		if v := os.Getenv(prefix + "_MODEL"); v != "" {
			mc.Model = v
			exists = true
		}
		if v := os.Getenv(prefix + "_API_KEY"); v != "" {
			mc.APIKey = v
			exists = true
		}
		if v := os.Getenv(prefix + "_BASE_URL"); v != "" {
			mc.BaseURL = v
			exists = true
		}
		if v := os.Getenv(prefix + "_TIMEOUT"); v != "" {
			if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
				mc.TimeoutSec = sec
				exists = true
			}
		}

		if exists {
			cfg.LLM.Roles[role] = mc
		}
	}

	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.LLM.OllamaHost = normalizeOllamaHost(v)
	}
	if v := os.Getenv("MAX_HISTORY_MESSAGES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.History.MaxMessages = n
		}
	}
	if v := os.Getenv("BROWSER_TASK_TIMEOUT"); v != "" {
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			cfg.Browser.TaskTimeoutSec = sec
		}
	}
	if v := os.Getenv("JARVIS_WORKSPACE"); v != "" {
		cfg.Workspace.Dir = v
	}
	if v := os.Getenv("JARVIS_DATA_DIR"); v != "" {
		cfg.Workspace.DataDir = v
	}
	if v := os.Getenv("JARVIS_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("JARVIS_LOG_FILE"); v != "" {
		cfg.Logging.File = v
	}
}

func computeDerived(cfg *Config) {
	for role, mc := range cfg.LLM.Roles {
		if mc.TimeoutSec <= 0 {
			mc.TimeoutSec = 60
		}
		mc.Timeout = time.Duration(mc.TimeoutSec) * time.Second
		cfg.LLM.Roles[role] = mc
	}
	if cfg.Browser.TaskTimeoutSec <= 0 {
		cfg.Browser.TaskTimeoutSec = 300
	}
	cfg.Browser.TaskTimeout = time.Duration(cfg.Browser.TaskTimeoutSec) * time.Second
	if cfg.History.MaxMessages <= 0 {
		cfg.History.MaxMessages = 30
	}
}

// normalizeOllamaHost accepts "host:port" or a full URL and returns a
// base URL.
func normalizeOllamaHost(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimRight(host, "/")
	}
	return "http://" + strings.TrimRight(host, "/")
}

func expandHome(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return filepath.Abs(path)
}
