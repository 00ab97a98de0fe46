package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port            int
	LogLevel        string
	DatabaseURL     string
	RedisURL        string
	NatsURL         string
	NatsToken       string
	APIToken        string
	AnthropicAPIKey string
	AnthropicModel  string
	OTLPEndpoint    string

	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int
	EmbedTimeout        time.Duration
	EmbedWorkers        int
	EmbedRPS            float64

	QueryTimeout        time.Duration
	ChunkSize           int
	ChunkOverlap        int
	IngestWorkers       int
	RetrievalTopK       int
	SimilarityThreshold float64
	EscalateThreshold   float64
	RefuseThreshold     float64

	GapIdleAfter       time.Duration
	GapSweepInterval   time.Duration
	GapMergeSimilarity float64
	GapBatchLimit      int
	QACacheTTL         time.Duration
}

func Load() Config {
	provider := envStr("EMBEDDING_PROVIDER", "hash")
	model, dims := embeddingDefaults(provider)

	return Config{
		Port:            envInt("SAGE_PORT", 8760),
		LogLevel:        envStr("LOG_LEVEL", "info"),
		DatabaseURL:     envStr("DATABASE_URL", ""),
		RedisURL:        envStr("REDIS_URL", ""),
		NatsURL:         envStr("NATS_URL", "nats://hermes:4222"),
		NatsToken:       envStr("NATS_TOKEN", ""),
		APIToken:        envStr("SAGE_API_TOKEN", ""),
		AnthropicAPIKey: envStr("ANTHROPIC_API_KEY", ""),
		AnthropicModel:  envStr("SAGE_MODEL", "claude-sonnet-4-20250514"),
		OTLPEndpoint:    envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		EmbeddingProvider:   provider,
		EmbeddingModel:      envStr("EMBEDDING_MODEL", model),
		EmbeddingAPIKey:     envStr("EMBEDDING_API_KEY", ""),
		EmbeddingBaseURL:    envStr("EMBEDDING_BASE_URL", ""),
		EmbeddingDimensions: envInt("EMBEDDING_DIMENSIONS", dims),
		EmbedTimeout:        envDuration("EMBED_TIMEOUT", 15*time.Second),
		EmbedWorkers:        envInt("EMBED_WORKERS", 8),
		EmbedRPS:            envFloat("EMBED_RPS", 20),

		QueryTimeout:        envDuration("QUERY_TIMEOUT", 5*time.Second),
		ChunkSize:           envInt("CHUNK_SIZE", 500),
		ChunkOverlap:        envInt("CHUNK_OVERLAP", 50),
		IngestWorkers:       envInt("INGEST_WORKERS", 4),
		RetrievalTopK:       envInt("RETRIEVAL_TOP_K", 5),
		SimilarityThreshold: envFloat("SIMILARITY_THRESHOLD", 0.3),
		EscalateThreshold:   envFloat("ESCALATE_THRESHOLD", 0.6),
		RefuseThreshold:     envFloat("REFUSE_THRESHOLD", 0.3),

		GapIdleAfter:       time.Duration(envInt("GAP_IDLE_MINUTES", 30)) * time.Minute,
		GapSweepInterval:   envDuration("GAP_SWEEP_INTERVAL", 10*time.Minute),
		GapMergeSimilarity: envFloat("GAP_MERGE_SIMILARITY", 0.92),
		GapBatchLimit:      envInt("GAP_BATCH_LIMIT", 200),
		QACacheTTL:         envDuration("QA_CACHE_TTL", 168*time.Hour),
	}
}

// LoadEnvFile reads KEY=value pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	var errs []error
	if c.ChunkSize <= 0 {
		errs = append(errs, fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize))
	}
	if c.ChunkOverlap < 0 {
		errs = append(errs, fmt.Errorf("CHUNK_OVERLAP must not be negative, got %d", c.ChunkOverlap))
	}
	if c.RefuseThreshold < 0 || c.EscalateThreshold > 1 || c.RefuseThreshold >= c.EscalateThreshold {
		errs = append(errs, fmt.Errorf("thresholds must satisfy 0 <= REFUSE_THRESHOLD < ESCALATE_THRESHOLD <= 1, got %.3f and %.3f",
			c.RefuseThreshold, c.EscalateThreshold))
	}
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		errs = append(errs, fmt.Errorf("SIMILARITY_THRESHOLD must be in [0,1], got %.3f", c.SimilarityThreshold))
	}
	switch c.EmbeddingProvider {
	case "hash", "openai", "gemini":
	default:
		errs = append(errs, fmt.Errorf("EMBEDDING_PROVIDER must be openai, gemini or hash, got %q", c.EmbeddingProvider))
	}
	if c.EmbeddingProvider != "hash" && c.EmbeddingAPIKey == "" {
		errs = append(errs, fmt.Errorf("EMBEDDING_API_KEY is required for provider %s", c.EmbeddingProvider))
	}
	if c.GapSweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("GAP_SWEEP_INTERVAL must be positive, got %s", c.GapSweepInterval))
	}
	return errors.Join(errs...)
}

// embeddingDefaults returns the model and vector size used when
// EMBEDDING_MODEL and EMBEDDING_DIMENSIONS are unset.
func embeddingDefaults(provider string) (string, int) {
	if provider == "gemini" {
		return "text-embedding-004", 768
	}
	return "text-embedding-3-small", 1536
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
