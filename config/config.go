// Package config handles toolmesh configuration loading. Configuration comes
// from a YAML file with environment variable expansion; defaults are applied
// first and the file overrides them, so a partial file is fine. API keys fall
// back to the conventional environment variables when the file leaves them
// empty.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/toolmesh/registry"
)

// Defaults mirrored across the chat and registry layers.
const (
	DefaultModel         = "anthropic/claude-3.5-sonnet"
	OpenRouterBaseURL    = "https://openrouter.ai/api/v1"
	DefaultTemperature   = 0.7
	DefaultMaxIterations = 10
	DefaultToolTimeout   = 30 * time.Second
	DefaultRetryAttempts = 2
	DefaultRetryDelay    = 2 * time.Second
	DefaultDatabasePath  = "toolmesh.db"
)

// DefaultSystemPrompt is used when the file configures none.
const DefaultSystemPrompt = `You are a helpful AI assistant with access to MCP (Model Context Protocol) tools.

You can use these tools to:
- Access external data sources
- Execute operations on connected servers
- Retrieve information from various APIs

When using tools:
1. Explain what you're about to do
2. Call the appropriate tool
3. Interpret and explain the results

Always be helpful, accurate, and concise in your responses.`

// Config holds all toolmesh configuration.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Chat     ChatConfig     `yaml:"chat"`
	Registry RegistryConfig `yaml:"registry"`
	Database DatabaseConfig `yaml:"database"`
	LogLevel string         `yaml:"log_level"`
	Servers  []ServerConfig `yaml:"servers"`
}

// ModelConfig defines the language model endpoint.
type ModelConfig struct {
	// Provider selects the adapter: "openai", "openrouter", or "anthropic".
	// OpenRouter uses the OpenAI adapter pointed at the OpenRouter base URL.
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// ChatConfig defines conversation engine settings.
type ChatConfig struct {
	SystemPrompt   string  `yaml:"system_prompt"`
	MaxIterations  int     `yaml:"max_iterations"`
	ToolTimeoutSec float64 `yaml:"tool_timeout_sec"`
	// MaxParallel bounds concurrent tool calls within one turn; zero means
	// unbounded.
	MaxParallel int `yaml:"max_parallel"`
}

// ToolTimeout returns the per-call tool timeout as a duration.
func (c ChatConfig) ToolTimeout() time.Duration {
	return secondsToDuration(c.ToolTimeoutSec)
}

// RegistryConfig defines connection retry settings.
type RegistryConfig struct {
	RetryAttempts int     `yaml:"retry_attempts"`
	RetryDelaySec float64 `yaml:"retry_delay_sec"`
}

// RetryDelay returns the delay between connection retries as a duration.
func (c RegistryConfig) RetryDelay() time.Duration {
	return secondsToDuration(c.RetryDelaySec)
}

// DatabaseConfig defines persistence settings. An empty path disables the
// SQLite store.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig is the YAML shape of one tool server entry. Timeout is in
// seconds, matching the rest of the file.
type ServerConfig struct {
	Name       string            `yaml:"name"`
	Transport  string            `yaml:"transport"`
	Command    string            `yaml:"command"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"working_dir"`
	URL        string            `yaml:"url"`
	Headers    map[string]string `yaml:"headers"`
	TimeoutSec float64           `yaml:"timeout_sec"`
}

// ToRegistry converts the YAML entry into a registry server config.
func (c ServerConfig) ToRegistry() registry.ServerConfig {
	return registry.ServerConfig{
		Name:        c.Name,
		Transport:   NormalizeTransport(c.Transport),
		Command:     c.Command,
		Args:        c.Args,
		Env:         c.Env,
		WorkingDir:  c.WorkingDir,
		URL:         c.URL,
		Headers:     c.Headers,
		ReadTimeout: secondsToDuration(c.TimeoutSec),
	}
}

// NormalizeTransport maps accepted transport spellings onto the registry
// names. "streamable_http" and "http" are aliases for streamable HTTP.
// Unknown values pass through so validation can name them.
func NormalizeTransport(v string) registry.Transport {
	switch v {
	case "stdio":
		return registry.TransportStdio
	case "sse":
		return registry.TransportSSE
	case "streamable-http", "streamable_http", "http":
		return registry.TransportStreamableHTTP
	default:
		return registry.Transport(v)
	}
}

// RegistryServers converts all configured server entries.
func (c *Config) RegistryServers() []registry.ServerConfig {
	if len(c.Servers) == 0 {
		return nil
	}
	out := make([]registry.ServerConfig, 0, len(c.Servers))
	for _, sc := range c.Servers {
		out = append(out, sc.ToRegistry())
	}
	return out
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:    "openrouter",
			Name:        DefaultModel,
			Temperature: DefaultTemperature,
			MaxTokens:   4096,
		},
		Chat: ChatConfig{
			SystemPrompt:   DefaultSystemPrompt,
			MaxIterations:  DefaultMaxIterations,
			ToolTimeoutSec: DefaultToolTimeout.Seconds(),
		},
		Registry: RegistryConfig{
			RetryAttempts: DefaultRetryAttempts,
			RetryDelaySec: DefaultRetryDelay.Seconds(),
		},
		Database: DatabaseConfig{Path: DefaultDatabasePath},
		LogLevel: "info",
	}
}

// Load reads configuration from a YAML file, expanding ${VAR} references
// from the environment before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()

	return cfg, nil
}

// applyEnv fills the API key from the provider's conventional environment
// variable when the file leaves it empty, and points OpenRouter at its base
// URL.
func (c *Config) applyEnv() {
	if c.Model.APIKey == "" {
		switch c.Model.Provider {
		case "anthropic":
			c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "openrouter":
			c.Model.APIKey = os.Getenv("OPENROUTER_API_KEY")
		case "openai":
			c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}

	if c.Model.Provider == "openrouter" && c.Model.BaseURL == "" {
		c.Model.BaseURL = OpenRouterBaseURL
	}
}

func secondsToDuration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
