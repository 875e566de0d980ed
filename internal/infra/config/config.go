package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	LLM          LLMConfig          `yaml:"llm"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Store        StoreConfig        `yaml:"store"`
	Tools        ToolsConfig        `yaml:"tools"`
	Logger       LoggerConfig       `yaml:"logger"`
	Tracer       TracerConfig       `yaml:"tracer"`
}

// ServerConfig holds HTTP API settings.
type ServerConfig struct {
	Addr           string `yaml:"addr"`
	RequestsPerMin int    `yaml:"requests_per_min"`
	BurstSize      int    `yaml:"burst_size"`
}

// LLMConfig holds LLM provider settings.
type LLMConfig struct {
	Provider       ProviderConfig       `yaml:"provider"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// ProviderConfig holds settings for the OpenAI-compatible provider.
// Model is a logical alias resolved against the provider's model listing
// at startup; FallbackModel is used when resolution fails.
type ProviderConfig struct {
	Name          string        `yaml:"name"`
	BaseURL       string        `yaml:"base_url"`
	APIKey        string        `yaml:"api_key"`
	Model         string        `yaml:"model"`
	FallbackModel string        `yaml:"fallback_model"`
	ConnTimeout   time.Duration `yaml:"conn_timeout"`
	RespTimeout   time.Duration `yaml:"resp_timeout"`
}

// CircuitBreakerConfig holds circuit breaker settings for the LLM provider.
type CircuitBreakerConfig struct {
	Enabled     bool          `yaml:"enabled"`
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// OrchestratorConfig holds conversation orchestration settings.
type OrchestratorConfig struct {
	SystemPrompt       string        `yaml:"system_prompt"`
	MaxSteps           int           `yaml:"max_steps"`
	MaxThreadsPerOwner int           `yaml:"max_threads_per_owner"`
	MaxTokens          int           `yaml:"max_tokens"`
	GenerationTimeout  time.Duration `yaml:"generation_timeout"`
	TitleTimeout       time.Duration `yaml:"title_timeout"`
	Pricing            PricingConfig `yaml:"pricing"`
}

// PricingConfig holds per-1k-token rates used for cost accounting.
type PricingConfig struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
}

// StoreConfig holds thread store settings.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// ToolsConfig holds tool settings.
type ToolsConfig struct {
	WebSearch WebSearchConfig `yaml:"web_search"`
}

// WebSearchConfig holds web search tool settings. Disabled when BaseURL
// is empty.
type WebSearchConfig struct {
	BaseURL    string        `yaml:"base_url"`
	MaxResults int           `yaml:"max_results"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	Output string `yaml:"output"` // stdout, stderr, or a file path
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"` // stdout, noop
}

// Load reads and validates a config file, applying defaults and
// environment overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config populated with defaults suitable for local use.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:           "127.0.0.1:8080",
			RequestsPerMin: 100,
			BurstSize:      20,
		},
		LLM: LLMConfig{
			Provider: ProviderConfig{
				Name:          "openai",
				Model:         "default",
				FallbackModel: "gpt-4o-mini",
				ConnTimeout:   30 * time.Second,
				RespTimeout:   120 * time.Second,
			},
			CircuitBreaker: CircuitBreakerConfig{Enabled: true},
		},
		Orchestrator: OrchestratorConfig{
			SystemPrompt:       defaultSystemPrompt,
			MaxSteps:           25,
			MaxThreadsPerOwner: 50,
			MaxTokens:          2048,
			GenerationTimeout:  120 * time.Second,
			TitleTimeout:       10 * time.Second,
		},
		Store: StoreConfig{Path: "stackpilot.db"},
		Tools: ToolsConfig{
			WebSearch: WebSearchConfig{
				MaxResults: 5,
				Timeout:    15 * time.Second,
			},
		},
		Logger: LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
		Tracer: TracerConfig{Exporter: "noop"},
	}
}

const defaultSystemPrompt = "You are StackPilot, an assistant that recommends " +
	"technology stacks (databases, caches, frameworks, hosting) for software " +
	"projects. Give concrete, opinionated recommendations and explain trade-offs briefly."

// applyEnv overlays secrets from the environment so API keys need not
// live in the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("STACKPILOT_API_KEY"); v != "" {
		c.LLM.Provider.APIKey = v
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.LLM.Provider.BaseURL == "" {
		return fmt.Errorf("llm.provider.base_url is required")
	}
	if c.LLM.Provider.Model == "" && c.LLM.Provider.FallbackModel == "" {
		return fmt.Errorf("llm.provider.model or fallback_model is required")
	}
	if c.Orchestrator.MaxSteps <= 0 {
		return fmt.Errorf("orchestrator.max_steps must be positive")
	}
	if c.Orchestrator.MaxThreadsPerOwner <= 0 {
		return fmt.Errorf("orchestrator.max_threads_per_owner must be positive")
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	return nil
}
