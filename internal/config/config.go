package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string   `yaml:"port"`
	GinMode     string   `yaml:"gin_mode"`
	CORSOrigins []string `yaml:"cors_origins"`
	MaxFileSize int64    `yaml:"max_file_size"`
	StaticUI    bool     `yaml:"static_ui"`

	// Chunking and retrieval
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`
	TopK         int `yaml:"top_k"`

	// Embeddings configuration
	EmbeddingsProvider    string        `yaml:"embeddings_provider"` // "hashing" (default), "google", "ollama", "openai"
	GoogleEmbeddingsModel string        `yaml:"google_embeddings_model"`
	OllamaHost            string        `yaml:"ollama_host"`
	OllamaEmbeddingsModel string        `yaml:"ollama_embeddings_model"`
	OpenAIBaseURL         string        `yaml:"openai_base_url"`
	OpenAIEmbeddingsModel string        `yaml:"openai_embeddings_model"`
	HashingDimensions     int           `yaml:"hashing_dimensions"`
	EmbedTimeout          time.Duration `yaml:"embed_timeout"`
	EmbedBatchSize        int           `yaml:"embed_batch_size"`

	// LLM configuration
	LLMProvider       string        `yaml:"llm_provider"` // "groq" (default), "openai", "gemini", "ollama"
	LLMModel          string        `yaml:"llm_model"`
	LLMBaseURL        string        `yaml:"llm_base_url"`
	LLMTimeout        time.Duration `yaml:"llm_timeout"`
	LLMMaxTokens      int           `yaml:"llm_max_tokens"`
	LLMTemperature    float64       `yaml:"llm_temperature"`
	LLMRequestsPerMin int           `yaml:"llm_requests_per_min"`
	MaxPromptChars    int           `yaml:"max_prompt_chars"`
	MaxQuestionChars  int           `yaml:"max_question_chars"`

	// API keys are only read from the environment.
	GroqAPIKey   string `yaml:"-"`
	OpenAIAPIKey string `yaml:"-"`
	GeminiAPIKey string `yaml:"-"`

	// Sessions
	SessionSecret     string        `yaml:"-"`
	SessionTTL        time.Duration `yaml:"session_ttl"`
	SessionSweepEvery time.Duration `yaml:"session_sweep_every"`
	HistoryLimit      int           `yaml:"history_limit"`
	MaxSessions       int           `yaml:"max_sessions"`
	UploadTimeout     time.Duration `yaml:"upload_timeout"`

	// URL loading
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	// Lets URL uploads reach loopback and private networks.
	FetchAllowPrivate bool `yaml:"fetch_allow_private"`

	// Redis Configuration (optional, enables shared rate limiting)
	RedisURL      string `yaml:"redis_url"`
	RedisPassword string `yaml:"-"`
	RedisDB       int    `yaml:"redis_db"`

	RateLimitReqs   int `yaml:"rate_limit_requests"`
	RateLimitWindow int `yaml:"rate_limit_window"`

	// Telemetry
	OTLPEndpoint     string  `yaml:"otlp_endpoint"`
	ServiceName      string  `yaml:"service_name"`
	TraceSampleRatio float64 `yaml:"trace_sample_ratio"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		Port:                  "8080",
		GinMode:               "debug",
		CORSOrigins:           []string{"http://localhost:3000", "http://localhost:8080"},
		MaxFileSize:           20 << 20,
		StaticUI:              true,
		ChunkSize:             1000,
		ChunkOverlap:          200,
		TopK:                  4,
		EmbeddingsProvider:    "hashing",
		GoogleEmbeddingsModel: "text-embedding-004",
		OllamaEmbeddingsModel: "all-minilm",
		OpenAIBaseURL:         "https://api.openai.com/v1",
		OpenAIEmbeddingsModel: "text-embedding-3-small",
		HashingDimensions:     384,
		EmbedTimeout:          30 * time.Second,
		EmbedBatchSize:        32,
		LLMProvider:           "groq",
		LLMModel:              "llama3-8b-8192",
		LLMTimeout:            30 * time.Second,
		LLMMaxTokens:          1024,
		LLMTemperature:        0.1,
		LLMRequestsPerMin:     30,
		MaxPromptChars:        24000,
		MaxQuestionChars:      2000,
		SessionTTL:            30 * time.Minute,
		SessionSweepEvery:     time.Minute,
		HistoryLimit:          50,
		MaxSessions:           1000,
		UploadTimeout:         2 * time.Minute,
		FetchTimeout:          30 * time.Second,
		RateLimitReqs:         100,
		RateLimitWindow:       60,
		ServiceName:           "query-sphere",
		TraceSampleRatio:      0.1,
	}
}

// LoadConfig builds the configuration from defaults, an optional YAML file
// (CONFIG_FILE) and the environment, in that order.
func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return nil, fmt.Errorf("error loading .env file: %v", err)
		}
	}

	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.GinMode = getEnv("GIN_MODE", c.GinMode)
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.CORSOrigins = strings.Split(origins, ",")
	}
	c.MaxFileSize = getEnvInt64("MAX_FILE_SIZE", c.MaxFileSize)
	c.StaticUI = getEnvBool("STATIC_UI", c.StaticUI)

	c.ChunkSize = getEnvInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.TopK = getEnvInt("TOP_K", c.TopK)

	c.EmbeddingsProvider = getEnv("EMBEDDINGS_PROVIDER", c.EmbeddingsProvider)
	c.GoogleEmbeddingsModel = getEnv("GOOGLE_EMBEDDINGS_MODEL", c.GoogleEmbeddingsModel)
	c.OllamaHost = getEnv("OLLAMA_HOST", c.OllamaHost)
	c.OllamaEmbeddingsModel = getEnv("OLLAMA_EMBEDDINGS_MODEL", c.OllamaEmbeddingsModel)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.OpenAIEmbeddingsModel = getEnv("OPENAI_EMBEDDINGS_MODEL", c.OpenAIEmbeddingsModel)
	c.HashingDimensions = getEnvInt("HASHING_DIMENSIONS", c.HashingDimensions)
	c.EmbedTimeout = getEnvDuration("EMBED_TIMEOUT", c.EmbedTimeout)
	c.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", c.EmbedBatchSize)

	c.LLMProvider = getEnv("LLM_PROVIDER", c.LLMProvider)
	c.LLMModel = getEnv("LLM_MODEL", c.LLMModel)
	c.LLMBaseURL = getEnv("LLM_BASE_URL", c.LLMBaseURL)
	c.LLMTimeout = getEnvDuration("LLM_TIMEOUT", c.LLMTimeout)
	c.LLMMaxTokens = getEnvInt("LLM_MAX_TOKENS", c.LLMMaxTokens)
	c.LLMTemperature = getEnvFloat64("LLM_TEMPERATURE", c.LLMTemperature)
	c.LLMRequestsPerMin = getEnvInt("LLM_REQUESTS_PER_MIN", c.LLMRequestsPerMin)
	c.MaxPromptChars = getEnvInt("MAX_PROMPT_CHARS", c.MaxPromptChars)
	c.MaxQuestionChars = getEnvInt("MAX_QUESTION_CHARS", c.MaxQuestionChars)

	c.GroqAPIKey = getEnv("GROQ_API_KEY", c.GroqAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.GeminiAPIKey = getEnv("GEMINI_API_KEY", c.GeminiAPIKey)

	c.SessionSecret = getEnv("SESSION_SECRET", c.SessionSecret)
	c.SessionTTL = getEnvDuration("SESSION_TTL", c.SessionTTL)
	c.SessionSweepEvery = getEnvDuration("SESSION_SWEEP_EVERY", c.SessionSweepEvery)
	c.HistoryLimit = getEnvInt("HISTORY_LIMIT", c.HistoryLimit)
	c.MaxSessions = getEnvInt("MAX_SESSIONS", c.MaxSessions)
	c.UploadTimeout = getEnvDuration("UPLOAD_TIMEOUT", c.UploadTimeout)

	c.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", c.FetchTimeout)
	c.FetchAllowPrivate = getEnvBool("FETCH_ALLOW_PRIVATE", c.FetchAllowPrivate)

	c.RedisURL = getEnv("REDIS_URL", c.RedisURL)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.RateLimitReqs = getEnvInt("RATE_LIMIT_REQUESTS", c.RateLimitReqs)
	c.RateLimitWindow = getEnvInt("RATE_LIMIT_WINDOW", c.RateLimitWindow)

	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.ServiceName = getEnv("OTEL_SERVICE_NAME", c.ServiceName)
	c.TraceSampleRatio = getEnvFloat64("OTEL_TRACE_SAMPLE_RATIO", c.TraceSampleRatio)
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap))
	}
	if c.TopK <= 0 {
		errs = append(errs, fmt.Errorf("TOP_K must be positive, got %d", c.TopK))
	}
	if c.LLMTimeout <= 0 || c.EmbedTimeout <= 0 || c.UploadTimeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT, EMBED_TIMEOUT and UPLOAD_TIMEOUT must be positive"))
	}
	// the fixed instructions alone take a few hundred characters
	if c.MaxPromptChars < 1024 {
		errs = append(errs, fmt.Errorf("MAX_PROMPT_CHARS too small: %d", c.MaxPromptChars))
	}
	if c.MaxQuestionChars <= 0 {
		errs = append(errs, fmt.Errorf("MAX_QUESTION_CHARS must be positive, got %d", c.MaxQuestionChars))
	}
	if c.SessionTTL <= 0 {
		errs = append(errs, errors.New("SESSION_TTL must be positive"))
	}

	switch c.LLMProvider {
	case "groq":
		if c.GroqAPIKey == "" {
			errs = append(errs, errors.New("GROQ_API_KEY is required - set it in .env file"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for LLM_PROVIDER=openai"))
		}
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for LLM_PROVIDER=gemini"))
		}
	case "ollama":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER: %s", c.LLMProvider))
	}

	switch c.EmbeddingsProvider {
	case "hashing", "ollama":
	case "google":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GEMINI_API_KEY is required for EMBEDDINGS_PROVIDER=google"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for EMBEDDINGS_PROVIDER=openai"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown EMBEDDINGS_PROVIDER: %s", c.EmbeddingsProvider))
	}

	if c.SessionSecret != "" && len(c.SessionSecret) < 32 {
		errs = append(errs, errors.New("SESSION_SECRET must be at least 32 characters"))
	}

	return errors.Join(errs...)
}

// LLMEndpoint returns the base URL for OpenAI-compatible LLM providers.
func (c *Config) LLMEndpoint() string {
	if c.LLMBaseURL != "" {
		return c.LLMBaseURL
	}
	switch c.LLMProvider {
	case "groq":
		return "https://api.groq.com/openai/v1"
	default:
		return c.OpenAIBaseURL
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go durations ("45s") or plain seconds ("45").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(value); err == nil {
		return time.Duration(secs) * time.Second
	}
	return defaultValue
}
