package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/robfig/cron/v3"
)

var (
	ErrMissingRequired = errors.New("missing required configuration")
	ErrInvalid         = errors.New("invalid configuration")
)

const (
	IndexWeaviate = "weaviate"
	IndexMemory   = "memory"

	FeedPostgres = "postgres"
	FeedNSQ      = "nsq"
	FeedNone     = "none"
)

type Config struct {
	DBHost string `envconfig:"DB_HOST" default:"postgres"`
	DBPort int    `envconfig:"DB_PORT" default:"5432"`
	DBUser string `envconfig:"DB_USER" default:"vecsync"`
	DBPass string `envconfig:"DB_PASS" default:"password"`
	DBName string `envconfig:"DB_NAME" default:"vecsync"`

	IndexBackend       string `envconfig:"INDEX_BACKEND" default:"weaviate"`
	WeaviateHost       string `envconfig:"WEAVIATE_HOST" default:"localhost:8080"`
	WeaviateScheme     string `envconfig:"WEAVIATE_SCHEME" default:"http"`
	WeaviateCollection string `envconfig:"WEAVIATE_COLLECTION" default:"DocumentChunk"`

	FeedBackend string `envconfig:"FEED_BACKEND" default:"postgres"`
	NSQLookupd  string `envconfig:"NSQ_LOOKUPD"`
	NSQDHost    string `envconfig:"NSQD_HOST" default:"nsqd:4150"`
	NSQDHTTP    string `envconfig:"NSQD_HTTP" default:"nsqd:4151"`
	NSQTopic    string `envconfig:"NSQ_TOPIC" default:"documents.changes"`

	GeminiAPIKey        string `envconfig:"GEMINI_API_KEY"`
	EmbeddingModel      string `envconfig:"EMBEDDING_MODEL"`
	EmbeddingDimensions int    `envconfig:"EMBEDDING_DIMENSIONS"`
	MigrationPath       string `envconfig:"MIGRATION_PATH" default:"file://migrations"`
	ProfilePath         string `envconfig:"SYNC_PROFILE"`

	// Sync
	ReadOnly          bool          `envconfig:"READ_ONLY" default:"false"`
	Concurrency       int           `envconfig:"SYNC_CONCURRENCY" default:"4"`
	BatchSize         int           `envconfig:"SYNC_BATCH_SIZE" default:"100"`
	EmbedBatchSize    int           `envconfig:"EMBED_BATCH_SIZE" default:"32"`
	EmbedDelay        time.Duration `envconfig:"EMBED_DELAY" default:"100ms"`
	WatchOnStart      bool          `envconfig:"WATCH_ON_START" default:"true"`
	WatchMaxAttempts  int           `envconfig:"WATCH_MAX_ATTEMPTS" default:"10"`
	WatchInitialDelay time.Duration `envconfig:"WATCH_INITIAL_DELAY" default:"1s"`
	WatchMaxDelay     time.Duration `envconfig:"WATCH_MAX_DELAY" default:"30s"`
	ReconcileSchedule string        `envconfig:"RECONCILE_SCHEDULE"`

	// Server
	ServerPort   int    `envconfig:"SERVER_PORT" default:"8081"`
	QueryLogPath string `envconfig:"QUERY_LOG_PATH" default:"data/logs/query.log"`

	// Resilience
	BootstrapRetryAttempts     int `envconfig:"BOOTSTRAP_RETRY_ATTEMPTS" default:"10"`
	BootstrapRetryDelaySeconds int `envconfig:"BOOTSTRAP_RETRY_DELAY_SECONDS" default:"2"`
}

func Load() (*Config, error) {
	// Ignore errors, as env vars might be set in the shell
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

func (c *Config) Validate() error {
	if c.DBHost == "" {
		return fmt.Errorf("%w: DB_HOST", ErrMissingRequired)
	}
	if c.DBUser == "" {
		return fmt.Errorf("%w: DB_USER", ErrMissingRequired)
	}
	if c.DBName == "" {
		return fmt.Errorf("%w: DB_NAME", ErrMissingRequired)
	}

	switch c.IndexBackend {
	case IndexWeaviate:
		if c.WeaviateHost == "" {
			return fmt.Errorf("%w: WEAVIATE_HOST", ErrMissingRequired)
		}
	case IndexMemory:
	default:
		return fmt.Errorf("%w: INDEX_BACKEND %q", ErrInvalid, c.IndexBackend)
	}

	switch c.FeedBackend {
	case FeedNSQ:
		if c.NSQDHost == "" && c.NSQLookupd == "" {
			return fmt.Errorf("%w: NSQD_HOST or NSQ_LOOKUPD", ErrMissingRequired)
		}
		if c.NSQTopic == "" {
			return fmt.Errorf("%w: NSQ_TOPIC", ErrMissingRequired)
		}
	case FeedPostgres, FeedNone:
	default:
		return fmt.Errorf("%w: FEED_BACKEND %q", ErrInvalid, c.FeedBackend)
	}

	if c.Concurrency < 1 {
		return fmt.Errorf("%w: SYNC_CONCURRENCY must be at least 1", ErrInvalid)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("%w: SYNC_BATCH_SIZE must be at least 1", ErrInvalid)
	}
	if c.EmbedBatchSize < 1 {
		return fmt.Errorf("%w: EMBED_BATCH_SIZE must be at least 1", ErrInvalid)
	}
	if c.WatchMaxAttempts < 1 {
		return fmt.Errorf("%w: WATCH_MAX_ATTEMPTS must be at least 1", ErrInvalid)
	}
	if c.WatchMaxDelay < c.WatchInitialDelay {
		return fmt.Errorf("%w: WATCH_MAX_DELAY is below WATCH_INITIAL_DELAY", ErrInvalid)
	}
	if c.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(c.ReconcileSchedule); err != nil {
			return fmt.Errorf("%w: RECONCILE_SCHEDULE: %v", ErrInvalid, err)
		}
	}
	return nil
}

// DSN is the lib/pq connection string for the source database.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.DBHost, c.DBPort, c.DBUser, c.DBPass, c.DBName)
}

func (c *Config) BootstrapRetryDelay() time.Duration {
	return time.Duration(c.BootstrapRetryDelaySeconds) * time.Second
}
