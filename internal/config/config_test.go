package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.ChunkSize != 1000 || cfg.ChunkOverlap != 200 || cfg.TopK != 4 {
		t.Fatalf("unexpected retrieval defaults: %d/%d/%d", cfg.ChunkSize, cfg.ChunkOverlap, cfg.TopK)
	}
	if cfg.LLMProvider != "groq" || cfg.LLMModel != "llama3-8b-8192" {
		t.Fatalf("unexpected LLM defaults: %s %s", cfg.LLMProvider, cfg.LLMModel)
	}
	if cfg.EmbeddingsProvider != "hashing" {
		t.Fatalf("unexpected embeddings provider %s", cfg.EmbeddingsProvider)
	}
	if cfg.LLMEndpoint() != "https://api.groq.com/openai/v1" {
		t.Fatalf("unexpected endpoint %s", cfg.LLMEndpoint())
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("CHUNK_SIZE", "500")
	t.Setenv("CHUNK_OVERLAP", "50")
	t.Setenv("TOP_K", "6")
	t.Setenv("LLM_TIMEOUT", "10s")
	t.Setenv("CORS_ORIGINS", "http://a.test,http://b.test")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkSize != 500 || cfg.ChunkOverlap != 50 || cfg.TopK != 6 {
		t.Fatalf("env not applied: %d/%d/%d", cfg.ChunkSize, cfg.ChunkOverlap, cfg.TopK)
	}
	if cfg.LLMTimeout != 10*time.Second {
		t.Fatalf("unexpected timeout %v", cfg.LLMTimeout)
	}
	if len(cfg.CORSOrigins) != 2 {
		t.Fatalf("unexpected origins %v", cfg.CORSOrigins)
	}
}

func TestLoadConfigYAMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	yaml := "chunk_size: 800\nchunk_overlap: 100\nllm_timeout: 45s\nllm_model: from-yaml\n"
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("GROQ_API_KEY", "gsk_test")
	t.Setenv("LLM_MODEL", "from-env")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.ChunkSize != 800 || cfg.ChunkOverlap != 100 || cfg.LLMTimeout != 45*time.Second {
		t.Fatalf("yaml not applied: %+v", cfg)
	}
	if cfg.LLMModel != "from-env" {
		t.Fatalf("env should override yaml, got %s", cfg.LLMModel)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"missing groq key", func(c *Config) {}, "GROQ_API_KEY"},
		{"overlap too large", func(c *Config) { c.GroqAPIKey = "k"; c.ChunkOverlap = c.ChunkSize }, "CHUNK_OVERLAP"},
		{"bad top k", func(c *Config) { c.GroqAPIKey = "k"; c.TopK = 0 }, "TOP_K"},
		{"unknown provider", func(c *Config) { c.LLMProvider = "mystery" }, "unknown LLM_PROVIDER"},
		{"google embeddings need key", func(c *Config) { c.GroqAPIKey = "k"; c.EmbeddingsProvider = "google" }, "GEMINI_API_KEY"},
		{"short secret", func(c *Config) { c.GroqAPIKey = "k"; c.SessionSecret = "short" }, "SESSION_SECRET"},
		{"no upload deadline", func(c *Config) { c.GroqAPIKey = "k"; c.UploadTimeout = 0 }, "UPLOAD_TIMEOUT"},
		{"tiny prompt", func(c *Config) { c.GroqAPIKey = "k"; c.MaxPromptChars = 512 }, "MAX_PROMPT_CHARS"},
		{"no question limit", func(c *Config) { c.GroqAPIKey = "k"; c.MaxQuestionChars = 0 }, "MAX_QUESTION_CHARS"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}

	ok := Default()
	ok.LLMProvider = "ollama"
	if err := ok.Validate(); err != nil {
		t.Fatalf("ollama needs no key: %v", err)
	}
}
