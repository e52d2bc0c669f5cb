package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type StoreConfig struct {
	Backend          string // qdrant or sqlite
	QdrantHost       string
	QdrantPort       int
	QdrantAPIKey     string
	QdrantUseTLS     bool
	QdrantCollection string
	VectorSize       int
	SQLitePath       string
}

type EmbeddingConfig struct {
	Provider string // openai or ollama
	// URL and Model fall back to the provider's defaults when empty
	URL        string
	Model      string
	APIKey     string
	MinChars   int
	Attempts   int
	BackoffMin time.Duration
	BackoffMax time.Duration
	RPS        float64
}

type LLMConfig struct {
	Provider         string // openai or ollama
	URL              string
	APIKey           string
	Model            string
	LongModel        string
	MaxTokens        int
	LongMaxTokens    int
	Temperature      float64
	FrequencyPenalty float64
}

type IngestConfig struct {
	Workers       int
	TargetWords   int
	Overlap       int
	FetchAttempts int
	FetchBackoff  time.Duration
	NavTimeout    time.Duration
	WaitTimeout   time.Duration
	ArtifactDir   string
	ProfilesFile  string
	RespectRobots bool
	UserAgent     string
	Proxies       []string
}

type BrowserConfig struct {
	ExecPath string
	Headless bool
}

type RetrievalConfig struct {
	Threshold          float64
	MatchCount         int
	MaxChunksPerSource int
	TokenBudget        int
	LongTokenBudget    int
	Tokenizer          string // tiktoken or estimate
}

type CitationConfig struct {
	BaseURL string
	Mailto  string
	RPS     float64
}

type ServerConfig struct {
	Port string
}

type LogConfig struct {
	Level string
	File  string
}

type Config struct {
	Store     StoreConfig
	Embedding EmbeddingConfig
	LLM       LLMConfig
	Ingest    IngestConfig
	Browser   BrowserConfig
	Retrieval RetrievalConfig
	Citation  CitationConfig
	Server    ServerConfig
	Log       LogConfig
}

// Load reads .env (if present) and the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("can't load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv builds a Config from the current environment only
func FromEnv() (*Config, error) {
	cfg := &Config{
		Store: StoreConfig{
			Backend:          strings.ToLower(envOrDefault("VECTOR_BACKEND", "qdrant")),
			QdrantHost:       envOrDefault("QDRANT_HOST", "localhost"),
			QdrantPort:       envInt("QDRANT_PORT", 6334),
			QdrantAPIKey:     os.Getenv("QDRANT_API_KEY"),
			QdrantUseTLS:     envBool("QDRANT_TLS", false),
			QdrantCollection: envOrDefault("QDRANT_COLLECTION", "paper_chunks"),
			VectorSize:       envInt("VECTOR_SIZE", 1536),
			SQLitePath:       envOrDefault("SQLITE_PATH", "./scholarqa.db"),
		},
		Embedding: EmbeddingConfig{
			Provider:   strings.ToLower(envOrDefault("EMBEDDING_PROVIDER", "openai")),
			URL:        os.Getenv("EMBEDDING_URL"),
			Model:      os.Getenv("EMBEDDING_MODEL"),
			APIKey:     os.Getenv("OPENAI_API_KEY"),
			MinChars:   envInt("MIN_CHUNK_CHARS", 100),
			Attempts:   envInt("EMBED_ATTEMPTS", 3),
			BackoffMin: envDuration("EMBED_BACKOFF_MIN", 10*time.Second),
			BackoffMax: envDuration("EMBED_BACKOFF_MAX", 30*time.Second),
			RPS:        envFloat("EMBED_RPS", 0),
		},
		LLM: LLMConfig{
			Provider:         strings.ToLower(envOrDefault("LLM_PROVIDER", "openai")),
			URL:              os.Getenv("LLM_URL"),
			APIKey:           os.Getenv("OPENAI_API_KEY"),
			Model:            os.Getenv("LLM_MODEL"),
			LongModel:        os.Getenv("LLM_LONG_MODEL"),
			MaxTokens:        envInt("LLM_MAX_TOKENS", 1000),
			LongMaxTokens:    envInt("LLM_LONG_MAX_TOKENS", 1500),
			Temperature:      envFloat("LLM_TEMPERATURE", 0.5),
			FrequencyPenalty: envFloat("LLM_FREQUENCY_PENALTY", 0.5),
		},
		Ingest: IngestConfig{
			Workers:       envInt("INGEST_WORKERS", 5),
			TargetWords:   envInt("CHUNK_TARGET_WORDS", 150),
			Overlap:       envInt("CHUNK_OVERLAP", 1),
			FetchAttempts: envInt("FETCH_ATTEMPTS", 4),
			FetchBackoff:  envDuration("FETCH_BACKOFF", time.Second),
			NavTimeout:    envDuration("NAV_TIMEOUT", 10*time.Second),
			WaitTimeout:   envDuration("CONTENT_WAIT_TIMEOUT", 10*time.Second),
			ArtifactDir:   envOrDefault("ARTIFACT_DIR", "output"),
			ProfilesFile:  os.Getenv("PROFILES_FILE"),
			RespectRobots: envBool("RESPECT_ROBOTS", false),
			UserAgent:     envOrDefault("USER_AGENT", "ScholarQABot/1.0"),
			Proxies:       envList("PROXY_LIST"),
		},
		Browser: BrowserConfig{
			ExecPath: os.Getenv("CHROME_PATH"),
			Headless: envBool("HEADLESS", true),
		},
		Retrieval: RetrievalConfig{
			Threshold:          envFloat("SIMILARITY_THRESHOLD", 0.3),
			MatchCount:         envInt("MATCH_COUNT", 100),
			MaxChunksPerSource: envInt("MAX_CHUNKS_PER_SOURCE", 10),
			TokenBudget:        envInt("TOKEN_BUDGET", 2000),
			LongTokenBudget:    envInt("LONG_TOKEN_BUDGET", 6000),
			Tokenizer:          strings.ToLower(envOrDefault("TOKENIZER", "tiktoken")),
		},
		Citation: CitationConfig{
			BaseURL: envOrDefault("OPENALEX_URL", "https://api.openalex.org"),
			Mailto:  os.Getenv("OPENALEX_MAILTO"),
			RPS:     envFloat("OPENALEX_RPS", 5),
		},
		Server: ServerConfig{
			Port: envOrDefault("PORT", "8080"),
		},
		Log: LogConfig{
			Level: envOrDefault("LOG_LEVEL", "info"),
			File:  envOrDefault("LOG_FILE", "ingest.log"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with
func (c *Config) Validate() error {
	switch c.Store.Backend {
	case "qdrant", "sqlite":
	default:
		return fmt.Errorf("unknown VECTOR_BACKEND %q", c.Store.Backend)
	}
	switch c.Embedding.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown EMBEDDING_PROVIDER %q", c.Embedding.Provider)
	}
	switch c.LLM.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("unknown LLM_PROVIDER %q", c.LLM.Provider)
	}
	if c.Ingest.Workers < 1 {
		return fmt.Errorf("INGEST_WORKERS must be at least 1, got %d", c.Ingest.Workers)
	}
	if c.Ingest.TargetWords < 1 {
		return fmt.Errorf("CHUNK_TARGET_WORDS must be at least 1, got %d", c.Ingest.TargetWords)
	}
	if c.Ingest.Overlap < 0 {
		return fmt.Errorf("CHUNK_OVERLAP can't be negative")
	}
	if c.Ingest.FetchAttempts < 1 || c.Embedding.Attempts < 1 {
		return fmt.Errorf("attempt counts must be at least 1")
	}
	if c.Embedding.BackoffMax < c.Embedding.BackoffMin {
		return fmt.Errorf("EMBED_BACKOFF_MAX is below EMBED_BACKOFF_MIN")
	}
	if c.Retrieval.MatchCount < 1 || c.Retrieval.MaxChunksPerSource < 1 {
		return fmt.Errorf("MATCH_COUNT and MAX_CHUNKS_PER_SOURCE must be positive")
	}
	if c.Retrieval.TokenBudget < 1 || c.Retrieval.LongTokenBudget < 1 {
		return fmt.Errorf("token budgets must be positive")
	}
	if c.Store.VectorSize < 1 {
		return fmt.Errorf("VECTOR_SIZE must be positive")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v, err := strconv.Atoi(envOrDefault(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func envFloat(key string, fallback float64) float64 {
	v, err := strconv.ParseFloat(envOrDefault(key, ""), 64)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	v, err := strconv.ParseBool(envOrDefault(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func envDuration(key string, fallback time.Duration) time.Duration {
	v, err := time.ParseDuration(envOrDefault(key, ""))
	if err != nil {
		return fallback
	}
	return v
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
