package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port  string `envconfig:"PORT" default:"8080"`
	Debug bool   `envconfig:"DEBUG" default:"false"`

	DatabaseURL      string `envconfig:"DATABASE_URL" required:"true"`
	DatabaseMaxConns int32  `envconfig:"DATABASE_MAX_CONNS" default:"10"`
	DatabaseMinConns int32  `envconfig:"DATABASE_MIN_CONNS" default:"2"`

	OpenAIAPIKey        string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL       string `envconfig:"OPENAI_BASE_URL"`
	ChatModel           string `envconfig:"CHAT_MODEL" default:"gpt-4o-mini"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL" default:"text-embedding-ada-002"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS" default:"1536"`

	// Optional OpenAI-compatible local server (Ollama, vLLM, llama.cpp).
	LocalBaseURL string `envconfig:"LOCAL_BASE_URL"`
	LocalModel   string `envconfig:"LOCAL_MODEL" default:"llama3.1"`

	DefaultProvider    string        `envconfig:"DEFAULT_PROVIDER" default:"openai"`
	GenerationTimeout  time.Duration `envconfig:"GENERATION_TIMEOUT" default:"90s"`
	StreamIdleTimeout  time.Duration `envconfig:"STREAM_IDLE_TIMEOUT" default:"20s"`
	SummaryTimeout     time.Duration `envconfig:"SUMMARY_TIMEOUT" default:"15s"`
	ExpansionTimeout   time.Duration `envconfig:"EXPANSION_TIMEOUT" default:"8s"`
	MaxQueryLength     int           `envconfig:"MAX_QUERY_LENGTH" default:"2000"`
	MaxGenerationToken int           `envconfig:"MAX_GENERATION_TOKENS" default:"1500"`

	RetrievalTopK    int     `envconfig:"RETRIEVAL_TOP_K" default:"20"`
	MinSimilarity    float64 `envconfig:"MIN_SIMILARITY" default:"0.35"`
	MaxSources       int     `envconfig:"MAX_SOURCES" default:"5"`
	VectorWeight     float64 `envconfig:"VECTOR_WEIGHT" default:"0.7"`
	KeywordWeight    float64 `envconfig:"KEYWORD_WEIGHT" default:"0.3"`
	ContextCharLimit int     `envconfig:"CONTEXT_CHAR_LIMIT" default:"16000"`

	CacheTTL           time.Duration `envconfig:"CACHE_TTL" default:"24h"`
	CacheThreshold     float64       `envconfig:"CACHE_THRESHOLD" default:"0.85"`
	CacheCapacity      int           `envconfig:"CACHE_CAPACITY" default:"500"`
	CacheSweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"10m"`
	CacheSnapshotKey   string        `envconfig:"CACHE_SNAPSHOT_KEY" default:"semantic-cache/snapshot.json"`

	// Zero disables periodic snapshots; the cache is still saved on shutdown.
	CacheSnapshotInterval time.Duration `envconfig:"CACHE_SNAPSHOT_INTERVAL" default:"30m"`

	RecentTurns         int `envconfig:"MEMORY_RECENT_TURNS" default:"15"`
	LongTermMinQueryLen int `envconfig:"MEMORY_LONG_TERM_MIN_QUERY" default:"50"`
	LongTermMinTurns    int `envconfig:"MEMORY_LONG_TERM_MIN_TURNS" default:"5"`
	SummaryThreshold    int `envconfig:"MEMORY_SUMMARY_THRESHOLD" default:"20"`

	BackgroundWorkers   int `envconfig:"BACKGROUND_WORKERS" default:"4"`
	BackgroundQueueSize int `envconfig:"BACKGROUND_QUEUE_SIZE" default:"256"`

	SentryDSN         string  `envconfig:"SENTRY_DSN"`
	SentryEnvironment string  `envconfig:"SENTRY_ENVIRONMENT" default:"development"`
	SentrySampleRate  float64 `envconfig:"SENTRY_TRACES_SAMPLE_RATE" default:"0.2"`

	S3Endpoint  string `envconfig:"S3_ENDPOINT"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket    string `envconfig:"S3_BUCKET" default:"lexrag-cache"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("LEXRAG", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	if cfg.VectorWeight < 0 || cfg.KeywordWeight < 0 {
		return nil, fmt.Errorf("failed to process config: retrieval weights must be non-negative")
	}

	return &cfg, nil
}

func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	return cfg
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasLocalProvider() bool {
	return c.LocalBaseURL != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}
