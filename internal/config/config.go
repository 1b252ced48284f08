package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/mcp"
	"github.com/samsaffron/storyloom/internal/session"
	"github.com/samsaffron/storyloom/internal/tools"
)

// Providers lists the accepted values of the provider key.
var Providers = []string{"backend", "openai", "anthropic", "gemini", "mock"}

type Config struct {
	Provider     string          `mapstructure:"provider" yaml:"provider"`
	ModelType    string          `mapstructure:"model_type" yaml:"model_type,omitempty"`
	SystemPrompt string          `mapstructure:"system_prompt" yaml:"system_prompt,omitempty"`
	WebSearch    bool            `mapstructure:"web_search" yaml:"web_search"`
	Backend      BackendConfig   `mapstructure:"backend" yaml:"backend"`
	OpenAI       OpenAIConfig    `mapstructure:"openai" yaml:"openai"`
	Anthropic    AnthropicConfig `mapstructure:"anthropic" yaml:"anthropic"`
	Gemini       GeminiConfig    `mapstructure:"gemini" yaml:"gemini"`
	Loop         LoopConfig      `mapstructure:"loop" yaml:"loop"`
	Tools        ToolsConfig     `mapstructure:"tools" yaml:"tools"`
	Sessions     session.Config  `mapstructure:"sessions" yaml:"sessions"`
	MCP          MCPConfig       `mapstructure:"mcp" yaml:"mcp,omitempty"`
}

// BackendConfig points at the writing-assistant app server.
type BackendConfig struct {
	URL      string `mapstructure:"url" yaml:"url"`             // streaming chat endpoint
	ToolsURL string `mapstructure:"tools_url" yaml:"tools_url"` // tool registry; empty disables remote tools
	Token    string `mapstructure:"token" yaml:"token,omitempty"`
}

type OpenAIConfig struct {
	APIKey  string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	BaseURL string `mapstructure:"base_url" yaml:"base_url,omitempty"`
	Model   string `mapstructure:"model" yaml:"model"`
}

type AnthropicConfig struct {
	APIKey    string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model     string `mapstructure:"model" yaml:"model"`
	MaxTokens int    `mapstructure:"max_tokens" yaml:"max_tokens"`
}

type GeminiConfig struct {
	APIKey string `mapstructure:"api_key" yaml:"api_key,omitempty"`
	Model  string `mapstructure:"model" yaml:"model"`
}

// LoopConfig bounds tool rounds per turn.
type LoopConfig struct {
	Limit    int `mapstructure:"limit" yaml:"limit"`
	ExtendBy int `mapstructure:"extend_by" yaml:"extend_by"`
}

// ToolsConfig holds glob patterns matched against tool names.
type ToolsConfig struct {
	Allow []string `mapstructure:"allow" yaml:"allow"`
	Deny  []string `mapstructure:"deny" yaml:"deny,omitempty"`
}

type MCPConfig struct {
	Servers map[string]mcp.ServerConfig `mapstructure:"servers" yaml:"servers,omitempty"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("provider", "backend")
	v.SetDefault("model_type", "default")
	v.SetDefault("web_search", false)
	v.SetDefault("backend.url", "http://localhost:8000/api/chat/stream")
	v.SetDefault("backend.tools_url", "http://localhost:8000/api/tools")
	v.SetDefault("openai.model", "gpt-5.2")
	v.SetDefault("anthropic.model", "claude-sonnet-4-5")
	v.SetDefault("anthropic.max_tokens", 4096)
	v.SetDefault("gemini.model", "gemini-3-flash-preview")
	v.SetDefault("loop.limit", 10)
	v.SetDefault("loop.extend_by", 5)
	v.SetDefault("tools.allow", []string{"*"})
	v.SetDefault("tools.deny", []string{})
	v.SetDefault("sessions.enabled", true)
	v.SetDefault("sessions.path", "")
}

// Load reads config.yaml from path, or from the config directory and the
// working directory when path is empty. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("STORYLOOM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		configDir, err := GetConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config dir: %w", err)
		}
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(configDir)
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.OpenAI.APIKey = resolveKey(cfg.OpenAI.APIKey, "OPENAI_API_KEY")
	cfg.Anthropic.APIKey = resolveKey(cfg.Anthropic.APIKey, "ANTHROPIC_API_KEY")
	cfg.Gemini.APIKey = resolveKey(cfg.Gemini.APIKey, "GEMINI_API_KEY")
	cfg.Backend.Token = expandEnv(cfg.Backend.Token)

	return &cfg, nil
}

// ApplyOverrides applies provider and model overrides to the config.
// If provider is non-empty, it overrides the global provider.
// If model is non-empty, it overrides the model for the active provider;
// for the backend it sets the model type sent with each request.
func (c *Config) ApplyOverrides(provider, model string) {
	if provider != "" {
		c.Provider = provider
	}
	if model == "" {
		return
	}
	switch c.Provider {
	case "openai":
		c.OpenAI.Model = model
	case "anthropic":
		c.Anthropic.Model = model
	case "gemini":
		c.Gemini.Model = model
	default:
		c.ModelType = model
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	known := false
	for _, p := range Providers {
		if c.Provider == p {
			known = true
		}
	}
	if !known {
		errs = append(errs, fmt.Errorf("unknown provider %q (want one of %s)", c.Provider, strings.Join(Providers, ", ")))
	}
	if c.Provider == "backend" && c.Backend.URL == "" {
		errs = append(errs, errors.New("backend.url is required for the backend provider"))
	}
	if c.Loop.Limit < 1 {
		errs = append(errs, fmt.Errorf("loop.limit must be positive, got %d", c.Loop.Limit))
	}
	if c.Loop.ExtendBy < 1 {
		errs = append(errs, fmt.Errorf("loop.extend_by must be positive, got %d", c.Loop.ExtendBy))
	}
	if _, err := c.ToolFilter(); err != nil {
		errs = append(errs, err)
	}
	for name, srv := range c.MCP.Servers {
		if err := errors.Join(mcp.ValidateName(name), srv.Validate()); err != nil {
			errs = append(errs, fmt.Errorf("mcp.servers.%s: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// ProviderConfig returns the transport settings of the active provider.
func (c *Config) ProviderConfig() llm.ProviderConfig {
	pc := llm.ProviderConfig{
		Provider:     c.Provider,
		BackendURL:   c.Backend.URL,
		BackendToken: c.Backend.Token,
	}
	switch c.Provider {
	case "openai":
		pc.APIKey, pc.BaseURL, pc.Model = c.OpenAI.APIKey, c.OpenAI.BaseURL, c.OpenAI.Model
	case "anthropic":
		pc.APIKey, pc.Model, pc.MaxTokens = c.Anthropic.APIKey, c.Anthropic.Model, c.Anthropic.MaxTokens
	case "gemini":
		pc.APIKey, pc.Model = c.Gemini.APIKey, c.Gemini.Model
	}
	return pc
}

// ToolFilter compiles the tools allow and deny lists.
func (c *Config) ToolFilter() (*tools.Filter, error) {
	f, err := tools.NewFilter(c.Tools.Allow, c.Tools.Deny)
	if err != nil {
		return nil, fmt.Errorf("tools: %w", err)
	}
	return f, nil
}

func resolveKey(configured, envVar string) string {
	if key := expandEnv(configured); key != "" {
		return key
	}
	return os.Getenv(envVar)
}

// expandEnv expands ${VAR} or $VAR in a string
func expandEnv(s string) string {
	if strings.HasPrefix(s, "${") && strings.HasSuffix(s, "}") {
		return os.Getenv(s[2 : len(s)-1])
	}
	if strings.HasPrefix(s, "$") {
		return os.Getenv(s[1:])
	}
	return s
}

// GetConfigDir returns the XDG config directory for storyloom.
// Uses $XDG_CONFIG_HOME if set, otherwise ~/.config
func GetConfigDir() (string, error) {
	if xdgHome := os.Getenv("XDG_CONFIG_HOME"); xdgHome != "" {
		return filepath.Join(xdgHome, "storyloom"), nil
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "storyloom"), nil
}

// GetConfigPath returns the path where the config file should be located
func GetConfigPath() (string, error) {
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, "config.yaml"), nil
}

// Exists returns true if a config file exists
func Exists() bool {
	path, err := GetConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Default returns the configuration Load produces without a file.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	// Defaults always decode.
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// Marshal renders cfg as YAML with secrets removed.
func Marshal(cfg *Config) ([]byte, error) {
	redacted := *cfg
	redacted.OpenAI.APIKey = redact(cfg.OpenAI.APIKey)
	redacted.Anthropic.APIKey = redact(cfg.Anthropic.APIKey)
	redacted.Gemini.APIKey = redact(cfg.Gemini.APIKey)
	redacted.Backend.Token = redact(cfg.Backend.Token)
	return yaml.Marshal(&redacted)
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "********"
}

// Save writes cfg to path, creating its directory. Existing files are
// only replaced when force is set.
func Save(cfg *Config, path string, force bool) error {
	if path == "" {
		var err error
		if path, err = GetConfigPath(); err != nil {
			return err
		}
	}
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	header := "# storyloom configuration\n# API keys may reference the environment, e.g. api_key: ${OPENAI_API_KEY}\n"
	return os.WriteFile(path, append([]byte(header), data...), 0600)
}
