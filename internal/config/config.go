// Package config handles application configuration from YAML files and environment variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server     ServerConfig    `yaml:"server"`
	Database   DatabaseConfig  `yaml:"database"`
	LLM        LLMConfig       `yaml:"llm"`
	Analyzer   AnalyzerConfig  `yaml:"analyzer"`
	Payment    PaymentConfig   `yaml:"payment"`
	RateLimits RateLimitConfig `yaml:"rate_limits"`
	Logging    LoggingConfig   `yaml:"logging"`
}

type ServerConfig struct {
	Port     int    `yaml:"port"`
	BaseURL  string `yaml:"base_url"` // public origin used for payment redirects
	EnableUI bool   `yaml:"enable_ui"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"` // sqlite file
}

type LLMConfig struct {
	Provider  string `yaml:"provider"` // openai, anthropic, gemini, ollama
	Model     string `yaml:"model"`
	APIKey    string `yaml:"api_key"`
	OllamaURL string `yaml:"ollama_url"`
}

// AnalyzerConfig controls the fine analysis behaviour.
// FabricateDefenses is a deliberate product policy: when true the analysis
// prompt instructs the model to invent plausible, doubt-based technical
// arguments when a notice has no real defects, so at least three defense
// arguments always come back.
type AnalyzerConfig struct {
	FabricateDefenses bool `yaml:"fabricate_defenses"`
}

type PaymentConfig struct {
	StripeSecretKey    string `yaml:"stripe_secret_key"`
	PriceCents         int64  `yaml:"price_cents"`
	Currency           string `yaml:"currency"`
	ProductName        string `yaml:"product_name"`
	ProductDescription string `yaml:"product_description"`
}

type RateLimitConfig struct {
	AnalysesPerDay int `yaml:"analyses_per_day"` // per forwarded IP, rolling 24h window
}

type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8080,
			BaseURL:  "http://localhost:8080",
			EnableUI: true,
		},
		Database: DatabaseConfig{
			Path: "./data/recurso.db",
		},
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o",
		},
		Analyzer: AnalyzerConfig{
			FabricateDefenses: true,
		},
		Payment: PaymentConfig{
			PriceCents:         245,
			Currency:           "eur",
			ProductName:        "Multas Zero - Desbloqueio de Defesa",
			ProductDescription: "Acesso completo: erros detalhados, carta de defesa e guia passo-a-passo",
		},
		RateLimits: RateLimitConfig{
			AnalysesPerDay: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s (run with --generate-config to create one)", path)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Interpolate environment variables
	content := interpolateEnvVars(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(content), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// GenerateSample creates a sample configuration file.
func GenerateSample(path string) error {
	sample := `# Multas Zero configuration
# See documentation for all options

server:
  port: 8080
  base_url: http://localhost:8080  # public origin, used in payment redirect URLs
  enable_ui: true

database:
  path: ./data/recurso.db

llm:
  provider: openai  # openai, anthropic, gemini, ollama
  model: gpt-4o
  api_key: ${OPENAI_API_KEY}

  # For Google Gemini:
  # provider: gemini
  # model: gemini-1.5-flash
  # api_key: ${GEMINI_API_KEY}

  # For Anthropic Claude:
  # provider: anthropic
  # model: claude-3-haiku-20240307
  # api_key: ${ANTHROPIC_API_KEY}

  # For Ollama (local):
  # provider: ollama
  # model: llava
  # ollama_url: http://localhost:11434

analyzer:
  # Product policy: when a notice looks flawless, instruct the model to raise
  # plausible doubt-based technical arguments so the user always gets at
  # least three defense angles.
  fabricate_defenses: true

payment:
  stripe_secret_key: ${STRIPE_SECRET_KEY}
  price_cents: 245
  currency: eur
  product_name: "Multas Zero - Desbloqueio de Defesa"
  product_description: "Acesso completo: erros detalhados, carta de defesa e guia passo-a-passo"

rate_limits:
  analyses_per_day: 10  # free analyses per IP per rolling 24h

logging:
  level: info  # debug, info, warn, error
  format: json # json or text
`
	return os.WriteFile(path, []byte(sample), 0644)
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database path is required")
	}

	validProviders := map[string]bool{"openai": true, "anthropic": true, "gemini": true, "ollama": true}
	if !validProviders[c.LLM.Provider] {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}

	// Validate API key requirements
	switch c.LLM.Provider {
	case "openai":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("OpenAI API key is required")
		}
	case "anthropic":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("Anthropic API key is required")
		}
	case "gemini":
		if c.LLM.APIKey == "" {
			return fmt.Errorf("Gemini API key is required")
		}
	}

	if c.RateLimits.AnalysesPerDay < 1 {
		return fmt.Errorf("analyses_per_day must be positive")
	}

	if c.Payment.PriceCents < 1 {
		return fmt.Errorf("payment price_cents must be positive")
	}

	return nil
}

// interpolateEnvVars replaces ${VAR_NAME} with environment variable values.
func interpolateEnvVars(content string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(content, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value := os.Getenv(varName); value != "" {
			return value
		}
		return match // Keep original if not set
	})
}
