package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.LLM.Provider != "openai" {
		t.Errorf("provider = %q, want openai", cfg.LLM.Provider)
	}
	if !cfg.Analyzer.FabricateDefenses {
		t.Error("fabricate_defenses must default to true")
	}
	if cfg.Payment.PriceCents != 245 || cfg.Payment.Currency != "eur" {
		t.Errorf("price = %d %s, want 245 eur", cfg.Payment.PriceCents, cfg.Payment.Currency)
	}
	if cfg.RateLimits.AnalysesPerDay != 10 {
		t.Errorf("analyses_per_day = %d, want 10", cfg.RateLimits.AnalysesPerDay)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
  enable_ui: false
llm:
  provider: ollama
  model: llava
  ollama_url: http://localhost:11434
analyzer:
  fabricate_defenses: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.EnableUI {
		t.Error("enable_ui override not applied")
	}
	if cfg.LLM.Provider != "ollama" {
		t.Errorf("provider = %q, want ollama", cfg.LLM.Provider)
	}
	if cfg.Analyzer.FabricateDefenses {
		t.Error("fabricate_defenses override not applied")
	}
	// Untouched sections keep their defaults.
	if cfg.RateLimits.AnalysesPerDay != 10 {
		t.Errorf("analyses_per_day = %d, want default 10", cfg.RateLimits.AnalysesPerDay)
	}
}

func TestLoadInterpolatesEnvVars(t *testing.T) {
	t.Setenv("RECURSO_TEST_KEY", "sk-test-123")

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm:
  provider: openai
  model: gpt-4o
  api_key: ${RECURSO_TEST_KEY}
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test-123" {
		t.Errorf("api_key = %q, want interpolated value", cfg.LLM.APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid ollama", func(c *Config) { c.LLM.Provider = "ollama" }, false},
		{"valid with key", func(c *Config) { c.LLM.APIKey = "sk-test" }, false},
		{"bad port", func(c *Config) { c.Server.Port = 0 }, true},
		{"empty db path", func(c *Config) { c.Database.Path = "" }, true},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "watson" }, true},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai"; c.LLM.APIKey = "" }, true},
		{"zero quota", func(c *Config) { c.RateLimits.AnalysesPerDay = 0 }, true},
		{"zero price", func(c *Config) { c.Payment.PriceCents = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.LLM.APIKey = "sk-test"
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGenerateSampleIsLoadable(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test-sample")

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := GenerateSample(path); err != nil {
		t.Fatalf("generate: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("a generated sample must load: %v", err)
	}
	if cfg.LLM.APIKey != "sk-test-sample" {
		t.Errorf("api_key = %q, want interpolated sample key", cfg.LLM.APIKey)
	}
}
