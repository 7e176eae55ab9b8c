package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/viper"
)

// Config holds all configuration for the training service
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Admin       AdminConfig       `mapstructure:"admin"`
	Database    DatabaseConfig    `mapstructure:"database"`
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Embedding   ProviderConfig    `mapstructure:"embedding"`
	Summarizer  ProviderConfig    `mapstructure:"summarizer"`
	Primary     ProviderConfig    `mapstructure:"primary"`
	Pipeline    PipelineConfig    `mapstructure:"pipeline"`
	Ingest      IngestConfig      `mapstructure:"ingest"`
	RateLimit   RateLimitConfig   `mapstructure:"rate_limit"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// AdminConfig holds admin authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// Vector store backends
const (
	VectorStoreSQLite   = "sqlite"
	VectorStorePGVector = "pgvector"
)

// VectorStoreConfig selects the retrieval backend
type VectorStoreConfig struct {
	Type          string `mapstructure:"type"`
	PostgresDSN   string `mapstructure:"postgres_dsn"`
	MatchFunction string `mapstructure:"match_function"`
	Dimension     int    `mapstructure:"dimension"`
}

// Provider kinds
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// ProviderConfig holds one remote model provider's settings
type ProviderConfig struct {
	Provider  string `mapstructure:"provider"`
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// Configured reports whether enough is set to build a client.
func (p ProviderConfig) Configured() bool {
	return p.Provider != "" && p.Model != ""
}

// PipelineConfig tunes the training pipeline
type PipelineConfig struct {
	MatchCount        int           `mapstructure:"match_count"`
	ExcerptLength     int           `mapstructure:"excerpt_length"`
	SummaryLength     int           `mapstructure:"summary_length"`
	SuccessStatus     string        `mapstructure:"success_status"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryInitialDelay time.Duration `mapstructure:"retry_initial_delay"`
	StaleAfter        time.Duration `mapstructure:"stale_after"`
	EmbedTimeout      time.Duration `mapstructure:"embed_timeout"`
	RetrieveTimeout   time.Duration `mapstructure:"retrieve_timeout"`
	SummarizeTimeout  time.Duration `mapstructure:"summarize_timeout"`
	SynthesizeTimeout time.Duration `mapstructure:"synthesize_timeout"`
	PersistTimeout    time.Duration `mapstructure:"persist_timeout"`
}

// IngestConfig configures corpus chunking
type IngestConfig struct {
	SentencesPerChunk int `mapstructure:"sentences_per_chunk"`
	OverlapSentences  int `mapstructure:"overlap_sentences"`
}

// RateLimitConfig holds rate limiting configuration
type RateLimitConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	RequestsPerHour int  `mapstructure:"requests_per_hour"`
	Burst           int  `mapstructure:"burst"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// RAGSESSION_PRIMARY_API_KEY -> primary.api_key
	v.SetEnvPrefix("RAGSESSION")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allow_origins", []string{"*"})

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/ragsession.db")

	v.SetDefault("vector_store.type", VectorStoreSQLite)
	v.SetDefault("vector_store.postgres_dsn", "")
	v.SetDefault("vector_store.match_function", "match_knowledge_chunks")
	v.SetDefault("vector_store.dimension", 1536)

	v.SetDefault("embedding.provider", ProviderOpenAI)
	v.SetDefault("embedding.base_url", "http://localhost:11434/v1")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "nomic-embed-text")

	v.SetDefault("summarizer.provider", ProviderOpenAI)
	v.SetDefault("summarizer.base_url", "http://localhost:11434/v1")
	v.SetDefault("summarizer.api_key", "")
	v.SetDefault("summarizer.model", "qwen2.5:7b")
	v.SetDefault("summarizer.max_tokens", 1024)

	v.SetDefault("primary.provider", ProviderOpenAI)
	v.SetDefault("primary.base_url", "http://localhost:11434/v1")
	v.SetDefault("primary.api_key", "")
	v.SetDefault("primary.model", "qwen2.5:7b")
	v.SetDefault("primary.max_tokens", 4096)

	v.SetDefault("pipeline.match_count", 6)
	v.SetDefault("pipeline.excerpt_length", 400)
	v.SetDefault("pipeline.summary_length", 400)
	v.SetDefault("pipeline.success_status", "completed")
	v.SetDefault("pipeline.max_retries", 2)
	v.SetDefault("pipeline.retry_initial_delay", "500ms")
	v.SetDefault("pipeline.stale_after", "30m")
	v.SetDefault("pipeline.embed_timeout", "30s")
	v.SetDefault("pipeline.retrieve_timeout", "15s")
	v.SetDefault("pipeline.summarize_timeout", "90s")
	v.SetDefault("pipeline.synthesize_timeout", "180s")
	v.SetDefault("pipeline.persist_timeout", "10s")

	v.SetDefault("ingest.sentences_per_chunk", 5)
	v.SetDefault("ingest.overlap_sentences", 1)

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests_per_hour", 100)
	v.SetDefault("rate_limit.burst", 10)
}

// Validate rejects settings the pipeline cannot run with
func (c *Config) Validate() error {
	switch c.VectorStore.Type {
	case VectorStoreSQLite:
	case VectorStorePGVector:
		if c.VectorStore.PostgresDSN == "" {
			return fmt.Errorf("vector_store.postgres_dsn is required for %s", VectorStorePGVector)
		}
	default:
		return fmt.Errorf("unsupported vector_store.type %q", c.VectorStore.Type)
	}

	for name, p := range map[string]ProviderConfig{"summarizer": c.Summarizer, "primary": c.Primary} {
		switch p.Provider {
		case "", ProviderOpenAI, ProviderAnthropic:
		default:
			return fmt.Errorf("unsupported %s.provider %q", name, p.Provider)
		}
	}
	switch c.Embedding.Provider {
	case "", ProviderOpenAI:
	default:
		return fmt.Errorf("unsupported embedding.provider %q", c.Embedding.Provider)
	}

	switch c.Pipeline.SuccessStatus {
	case "completed", "needs_input":
	default:
		return fmt.Errorf("pipeline.success_status must be completed or needs_input, got %q", c.Pipeline.SuccessStatus)
	}

	if c.Pipeline.MatchCount < 1 || c.Pipeline.MatchCount > 8 {
		return fmt.Errorf("pipeline.match_count must be between 1 and 8, got %d", c.Pipeline.MatchCount)
	}

	// zero disables takeover of in_progress sessions
	if c.Pipeline.StaleAfter < 0 {
		return fmt.Errorf("pipeline.stale_after must not be negative, got %s", c.Pipeline.StaleAfter)
	}
	if budget := c.Pipeline.RunBudget(); c.Pipeline.StaleAfter > 0 && c.Pipeline.StaleAfter <= budget {
		return fmt.Errorf("pipeline.stale_after (%s) must exceed the longest possible run (%s)", c.Pipeline.StaleAfter, budget)
	}
	return nil
}

// retriedStages counts the upstream calls wrapped in retries: embed, retrieve, summarize, synthesize.
const retriedStages = 4

// RunBudget is the longest a single run can take: every retried stage using all
// of its attempts and backoff waits, plus the final write and a recovery write.
func (p PipelineConfig) RunBudget() time.Duration {
	retries := max(p.MaxRetries, 0)
	attempts := time.Duration(retries + 1)
	stages := p.EmbedTimeout + p.RetrieveTimeout + p.SummarizeTimeout + p.SynthesizeTimeout
	return stages*attempts + retriedStages*p.backoffBudget(retries) + 2*p.PersistTimeout
}

// backoffBudget is the upper bound of the waits between retries of one stage.
func (p PipelineConfig) backoffBudget(retries int) time.Duration {
	interval := p.RetryInitialDelay
	if interval <= 0 {
		interval = backoff.DefaultInitialInterval
	}
	var total time.Duration
	for range retries {
		total += time.Duration(float64(interval) * (1 + backoff.DefaultRandomizationFactor))
		interval = min(time.Duration(float64(interval)*backoff.DefaultMultiplier), backoff.DefaultMaxInterval)
	}
	return total
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
