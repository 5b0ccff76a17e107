package config

import (
	"fmt"
	"net/url"
	"os"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds all configuration for ontograph.
// Configuration can come from YAML file (config.yaml) or environment variables.
// Environment variables always override YAML values for fields that support both.
// Secrets (passwords, keys) must only come from environment variables.
type Config struct {
	// Server configuration
	BindAddr string `yaml:"bind_addr" env:"BIND_ADDR" env-default:"127.0.0.1"`
	Port     string `yaml:"port" env:"PORT" env-default:"3443"`
	Env      string `yaml:"env" env:"ENVIRONMENT" env-default:"local"`
	BaseURL  string `yaml:"base_url" env:"BASE_URL" env-default:""` // Auto-derived from Port if empty
	Version  string `yaml:"-"`                                      // Set at load time, not from config

	// TLS configuration (optional - if both provided, server uses HTTPS)
	TLSCertPath string `yaml:"tls_cert_path" env:"TLS_CERT_PATH" env-default:""`
	TLSKeyPath  string `yaml:"tls_key_path" env:"TLS_KEY_PATH" env-default:""`

	// Engine database configuration (PostgreSQL)
	Database DatabaseConfig `yaml:"database"`

	// Result/progress cache configuration (Redis)
	Redis RedisConfig `yaml:"redis"`

	// Knowledge graph store configuration (Neo4j)
	Graph GraphConfig `yaml:"graph"`

	// Vector store configuration (Chroma-compatible REST API)
	Vector VectorConfig `yaml:"vector"`

	// Embedding/generation service configuration
	AI AIConfig `yaml:"ai"`

	// Ontology discovery tunables
	Discovery DiscoveryConfig `yaml:"discovery"`

	// Hybrid retrieval tunables
	Retrieval RetrievalConfig `yaml:"retrieval"`
}

// DatabaseConfig holds PostgreSQL database configuration for the engine's
// own state (jobs, schema entries, review queue, checkpoints).
type DatabaseConfig struct {
	Host           string `yaml:"host" env:"PGHOST" env-default:"localhost"`
	Port           int    `yaml:"port" env:"PGPORT" env-default:"5432"`
	User           string `yaml:"user" env:"PGUSER" env-default:"ontograph"`
	Password       string `yaml:"-" env:"PGPASSWORD"` // Secret - not in YAML
	Database       string `yaml:"database" env:"PGDATABASE" env-default:"ontograph"`
	MaxConnections int32  `yaml:"max_connections" env:"PGMAX_CONNECTIONS" env-default:"25"`
	SSLMode        string `yaml:"ssl_mode" env:"PGSSLMODE" env-default:"disable"`
}

// RedisConfig holds Redis configuration for the result/progress cache.
// Redis is optional; leaving Host empty disables caching.
type RedisConfig struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:""`
	Port     int    `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"-" env:"REDIS_PASSWORD"` // Secret - not in YAML
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

// GraphConfig holds Neo4j connection configuration for the knowledge graph.
type GraphConfig struct {
	URI                   string `yaml:"uri" env:"NEO4J_URI" env-default:"bolt://localhost:7687"`
	Username              string `yaml:"username" env:"NEO4J_USERNAME" env-default:"neo4j"`
	Password              string `yaml:"-" env:"NEO4J_PASSWORD"` // Secret - not in YAML
	Database              string `yaml:"database" env:"NEO4J_DATABASE" env-default:""`
	MaxConnectionPoolSize int    `yaml:"max_connection_pool_size" env:"NEO4J_MAX_POOL_SIZE" env-default:"50"`
	ConnectTimeoutSeconds int    `yaml:"connect_timeout_seconds" env:"NEO4J_CONNECT_TIMEOUT_SECONDS" env-default:"30"`
}

// VectorConfig holds configuration for the Chroma-compatible vector store.
type VectorConfig struct {
	BaseURL        string `yaml:"base_url" env:"VECTOR_BASE_URL" env-default:"http://localhost:8000"`
	Tenant         string `yaml:"tenant" env:"VECTOR_TENANT" env-default:"default_tenant"`
	Database       string `yaml:"database" env:"VECTOR_DATABASE" env-default:"default_database"`
	Collection     string `yaml:"collection" env:"VECTOR_COLLECTION" env-default:"ontograph"`
	TimeoutSeconds int    `yaml:"timeout_seconds" env:"VECTOR_TIMEOUT_SECONDS" env-default:"30"`
}

// AIConfig holds endpoints for the embedding/generation service.
// Provider selects the chat completion client; embeddings always use an
// OpenAI-compatible endpoint (Anthropic does not serve embeddings).
type AIConfig struct {
	Provider string `yaml:"provider" env:"AI_PROVIDER" env-default:"openai"` // "openai" or "anthropic"

	LLMBaseURL string `yaml:"llm_base_url" env:"AI_LLM_BASE_URL" env-default:""`
	LLMModel   string `yaml:"llm_model" env:"AI_LLM_MODEL" env-default:"gpt-4o-mini"`
	LLMAPIKey  string `yaml:"-" env:"AI_LLM_API_KEY"` // Secret - not in YAML

	EmbeddingBaseURL string `yaml:"embedding_base_url" env:"AI_EMBEDDING_BASE_URL" env-default:""`
	EmbeddingModel   string `yaml:"embedding_model" env:"AI_EMBEDDING_MODEL" env-default:"text-embedding-3-small"`
	EmbeddingAPIKey  string `yaml:"-" env:"AI_EMBEDDING_API_KEY"` // Secret - not in YAML
}

// EffectiveEmbeddingAPIKey returns the embedding key, falling back to the LLM key.
func (c *AIConfig) EffectiveEmbeddingAPIKey() string {
	if c.EmbeddingAPIKey != "" {
		return c.EmbeddingAPIKey
	}
	return c.LLMAPIKey
}

// DiscoveryConfig holds the ontology discovery tunables. The defaults are
// reasonable starting points, not contractual values; deployments tune them.
type DiscoveryConfig struct {
	// CandidateFloor discards candidates below this heuristic score before
	// any evaluator call is made.
	CandidateFloor float64 `yaml:"candidate_floor" env:"DISCOVERY_CANDIDATE_FLOOR" env-default:"0.15"`

	// AcceptThreshold auto-accepts candidates whose combined score is >= it.
	AcceptThreshold float64 `yaml:"accept_threshold" env:"DISCOVERY_ACCEPT_THRESHOLD" env-default:"0.75"`

	// RejectThreshold auto-rejects candidates whose combined score is <= it.
	RejectThreshold float64 `yaml:"reject_threshold" env:"DISCOVERY_REJECT_THRESHOLD" env-default:"0.35"`

	// Heuristic signal weights. Normalized against their sum, so they need
	// not add up to 1.
	WeightValueOverlap float64 `yaml:"weight_value_overlap" env:"DISCOVERY_WEIGHT_VALUE_OVERLAP" env-default:"0.5"`
	WeightProvenance   float64 `yaml:"weight_provenance" env:"DISCOVERY_WEIGHT_PROVENANCE" env-default:"0.3"`
	WeightNaming       float64 `yaml:"weight_naming" env:"DISCOVERY_WEIGHT_NAMING" env-default:"0.2"`

	// SampleSize bounds how many entity instances are sampled per type
	// during a pair scan.
	SampleSize int `yaml:"sample_size" env:"DISCOVERY_SAMPLE_SIZE" env-default:"200"`

	// MaxSamplePairs bounds how many concrete entity pairs are sent to the
	// evaluator per candidate.
	MaxSamplePairs int `yaml:"max_sample_pairs" env:"DISCOVERY_MAX_SAMPLE_PAIRS" env-default:"5"`

	// ScanWorkers bounds concurrent pair scans within one job.
	ScanWorkers int `yaml:"scan_workers" env:"DISCOVERY_SCAN_WORKERS" env-default:"4"`

	// EvalWorkers bounds concurrent evaluator calls within one job.
	EvalWorkers int `yaml:"eval_workers" env:"DISCOVERY_EVAL_WORKERS" env-default:"2"`

	// EvaluatorRetries is how many times a failed evaluator call is retried
	// before the candidate is marked evaluation_failed.
	EvaluatorRetries int `yaml:"evaluator_retries" env:"DISCOVERY_EVALUATOR_RETRIES" env-default:"3"`

	// ApplyBatchSize bounds how many entity pairs are materialized per batch
	// when applying an accepted candidate.
	ApplyBatchSize int `yaml:"apply_batch_size" env:"DISCOVERY_APPLY_BATCH_SIZE" env-default:"500"`

	// SeedFile optionally points at a YAML relation-type vocabulary applied
	// at startup as manually accepted schema entries.
	SeedFile string `yaml:"seed_file" env:"DISCOVERY_SEED_FILE" env-default:""`
}

// RetrievalConfig holds the hybrid retrieval tunables.
type RetrievalConfig struct {
	// TopK is the number of vector hits fetched per query.
	TopK int `yaml:"top_k" env:"RETRIEVAL_TOP_K" env-default:"8"`

	// MaxHops bounds graph expansion from vector-hit seed nodes.
	MaxHops int `yaml:"max_hops" env:"RETRIEVAL_MAX_HOPS" env-default:"2"`

	// NeighborLimit bounds the total expanded neighborhood size per query.
	NeighborLimit int `yaml:"neighbor_limit" env:"RETRIEVAL_NEIGHBOR_LIMIT" env-default:"64"`

	// TokenBudget bounds the assembled context size.
	TokenBudget int `yaml:"token_budget" env:"RETRIEVAL_TOKEN_BUDGET" env-default:"4000"`

	// CacheTTLSeconds is how long query results are cached.
	CacheTTLSeconds int `yaml:"cache_ttl_seconds" env:"RETRIEVAL_CACHE_TTL_SECONDS" env-default:"300"`
}

// Load reads configuration from config.yaml with environment variable overrides.
// The version parameter is injected at build time and set on the returned Config.
// Environment variables override YAML values. Secrets (PGPASSWORD,
// NEO4J_PASSWORD, AI_LLM_API_KEY, ...) must come from environment variables
// (yaml:"-" fields).
func Load(version string) (*Config, error) {
	cfg := &Config{
		Version: version,
	}

	// Load config from YAML file with environment variable overrides
	if err := cleanenv.ReadConfig("config.yaml", cfg); err != nil {
		return nil, fmt.Errorf("failed to read config.yaml: %w", err)
	}

	// Validate TLS configuration
	if err := cfg.validateTLS(); err != nil {
		return nil, fmt.Errorf("invalid TLS configuration: %w", err)
	}

	// Validate discovery thresholds
	if err := cfg.Discovery.Validate(); err != nil {
		return nil, fmt.Errorf("invalid discovery configuration: %w", err)
	}

	// Auto-derive BaseURL from Port if not explicitly set
	// Use HTTPS scheme if TLS is configured
	if cfg.BaseURL == "" {
		scheme := "http"
		if cfg.TLSCertPath != "" {
			scheme = "https"
		}
		cfg.BaseURL = (&url.URL{
			Scheme: scheme,
			Host:   "localhost:" + cfg.Port,
		}).String()
	}

	return cfg, nil
}

// validateTLS ensures TLS configuration is valid if provided.
// Both cert and key must be provided together, and files must exist and be readable.
func (c *Config) validateTLS() error {
	certSet := c.TLSCertPath != ""
	keySet := c.TLSKeyPath != ""

	// Both must be provided together or both empty
	if certSet != keySet {
		return fmt.Errorf("both tls_cert_path and tls_key_path must be provided together")
	}

	// If both provided, verify files exist (actual readability checked by tls.LoadX509KeyPair at startup)
	if certSet {
		if _, err := os.Stat(c.TLSCertPath); err != nil {
			return fmt.Errorf("TLS cert file does not exist: %w", err)
		}
		if _, err := os.Stat(c.TLSKeyPath); err != nil {
			return fmt.Errorf("TLS key file does not exist: %w", err)
		}
	}

	return nil
}

// Validate checks threshold ordering and normalized ranges.
func (c *DiscoveryConfig) Validate() error {
	for name, v := range map[string]float64{
		"candidate_floor":  c.CandidateFloor,
		"accept_threshold": c.AcceptThreshold,
		"reject_threshold": c.RejectThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %f", name, v)
		}
	}
	if c.RejectThreshold > c.AcceptThreshold {
		return fmt.Errorf("reject_threshold (%f) must not exceed accept_threshold (%f)",
			c.RejectThreshold, c.AcceptThreshold)
	}
	if c.WeightValueOverlap+c.WeightProvenance+c.WeightNaming <= 0 {
		return fmt.Errorf("heuristic signal weights must sum to a positive value")
	}
	if c.MaxSamplePairs <= 0 {
		return fmt.Errorf("max_sample_pairs must be positive, got %d", c.MaxSamplePairs)
	}
	if c.ApplyBatchSize <= 0 {
		return fmt.Errorf("apply_batch_size must be positive, got %d", c.ApplyBatchSize)
	}
	return nil
}

// ConnectionString returns a PostgreSQL connection string.
func (c *DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
