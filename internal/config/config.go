package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

type Config struct {
	// Engines
	DMSEngine   string `envconfig:"DMS_ENGINE" default:"paperless"`
	EmbedEngine string `envconfig:"EMBED_ENGINE" default:"ollama"`
	RAGEngine   string `envconfig:"RAG_ENGINE" default:"qdrant"`

	// Paperless-ngx
	PaperlessURL               string  `envconfig:"PAPERLESS_URL"`
	PaperlessToken             string  `envconfig:"PAPERLESS_TOKEN"`
	PaperlessPageSize          int     `envconfig:"PAPERLESS_PAGE_SIZE" default:"300"`
	PaperlessRequestsPerSecond float64 `envconfig:"PAPERLESS_REQUESTS_PER_SECOND" default:"10"`
	PaperlessTimeoutSeconds    int     `envconfig:"PAPERLESS_TIMEOUT_SECONDS" default:"30"`

	// Embeddings
	OllamaURL           string `envconfig:"OLLAMA_URL" default:"http://localhost:11434"`
	OllamaModel         string `envconfig:"OLLAMA_MODEL" default:"nomic-embed-text"`
	OllamaBatchSize     int    `envconfig:"OLLAMA_BATCH_SIZE" default:"32"`
	EmbedTimeoutSeconds int    `envconfig:"EMBED_TIMEOUT_SECONDS" default:"60"`
	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	GeminiEmbedModel    string `envconfig:"GEMINI_EMBED_MODEL" default:"gemini-embedding-001"`

	// Vector stores
	QdrantURL            string `envconfig:"QDRANT_URL" default:"http://localhost:6333"`
	QdrantAPIKey         string `envconfig:"QDRANT_API_KEY"`
	QdrantCollection     string `envconfig:"QDRANT_COLLECTION" default:"documents"`
	QdrantTimeoutSeconds int    `envconfig:"QDRANT_TIMEOUT_SECONDS" default:"30"`
	WeaviateHost         string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme       string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateClass        string `envconfig:"WEAVIATE_CLASS" default:"DocumentChunk"`
	VectorSize           int    `envconfig:"VECTOR_SIZE" default:"0"` // 0 asks the embedder
	VectorDistance       string `envconfig:"VECTOR_DISTANCE" default:"Cosine"`

	// Sync
	ChunkSize      int           `envconfig:"SYNC_CHUNK_SIZE" default:"1000"`
	ChunkOverlap   int           `envconfig:"SYNC_CHUNK_OVERLAP" default:"100"`
	WriteBatchSize int           `envconfig:"SYNC_WRITE_BATCH_SIZE" default:"100"`
	Concurrency    int           `envconfig:"SYNC_CONCURRENCY" default:"5"`
	ScrollLimit    int           `envconfig:"SYNC_SCROLL_LIMIT" default:"1000"`
	SyncInterval   time.Duration `envconfig:"SYNC_INTERVAL" default:"0"`
	SyncOnStartup  bool          `envconfig:"SYNC_ON_STARTUP" default:"false"`

	// Failed-sync journal
	JournalEnabled bool   `envconfig:"JOURNAL_ENABLED" default:"true"`
	DBHost         string `envconfig:"DB_HOST" default:"postgres"`
	DBPort         int    `envconfig:"DB_PORT" default:"5432"`
	DBUser         string `envconfig:"DB_USER" default:"ragbridge"`
	DBPass         string `envconfig:"DB_PASS" default:"password"`
	DBName         string `envconfig:"DB_NAME" default:"ragbridge"`
	MigrationPath  string `envconfig:"MIGRATION_PATH" default:"file://migrations"`

	// Task queue
	NSQLookupd       string `envconfig:"NSQ_LOOKUPD" default:"nsqlookupd:4161"`
	NSQDHost         string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP         string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	EnableSyncWorker bool   `envconfig:"ENABLE_SYNC_WORKER" default:"true"`

	// Server
	APIKey       string `envconfig:"APP_API_KEY"`
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8000"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`
	LogFile      string `envconfig:"LOG_FILE"`
	LogLevel     string `envconfig:"LOG_LEVEL" default:"info"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, env vars might be set in the shell
	_ = godotenv.Load(".env")

	cwd, _ := os.Getwd()
	_ = godotenv.Load(filepath.Join(cwd, "../../.env"))

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks settings every command needs. Engine specific settings are
// checked by the engine registry when the engine is built.
func (c *Config) Validate() error {
	if c.DMSEngine == "" {
		return fmt.Errorf("%w: DMS_ENGINE", ErrMissingRequired)
	}
	if c.EmbedEngine == "" {
		return fmt.Errorf("%w: EMBED_ENGINE", ErrMissingRequired)
	}
	if c.RAGEngine == "" {
		return fmt.Errorf("%w: RAG_ENGINE", ErrMissingRequired)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("%w: SYNC_CHUNK_SIZE must be positive", ErrInvalid)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("%w: SYNC_CHUNK_OVERLAP must be in [0, SYNC_CHUNK_SIZE)", ErrInvalid)
	}
	if c.WriteBatchSize <= 0 {
		return fmt.Errorf("%w: SYNC_WRITE_BATCH_SIZE must be positive", ErrInvalid)
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("%w: SYNC_CONCURRENCY must be positive", ErrInvalid)
	}
	if c.SyncInterval < 0 {
		return fmt.Errorf("%w: SYNC_INTERVAL must not be negative", ErrInvalid)
	}
	switch strings.ToLower(c.VectorDistance) {
	case "cosine", "dot", "euclid":
	default:
		return fmt.Errorf("%w: VECTOR_DISTANCE %q", ErrInvalid, c.VectorDistance)
	}
	if c.JournalEnabled {
		if c.DBHost == "" {
			return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
		}
		if c.DBUser == "" {
			return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
		}
		if c.DBName == "" {
			return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
		}
	}
	return nil
}

// ValidateServer checks the settings only the HTTP server needs.
func (c *Config) ValidateServer() error {
	if c.APIKey == "" {
		return fmt.Errorf("%w: APP_API_KEY", ErrMissingRequired)
	}
	return nil
}

func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}
