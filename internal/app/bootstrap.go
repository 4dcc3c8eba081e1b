package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"github.com/nsqio/go-nsq"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"

	wstore "vecsync/internal/adapter/weaviate"
	"vecsync/internal/config"
	"vecsync/internal/vector"
)

type Dependencies struct {
	DB    *sql.DB
	Index vector.Index
	// NSQProducer is only set when the change feed runs over NSQ.
	NSQProducer *nsq.Producer
}

func (d *Dependencies) Close() {
	if d.NSQProducer != nil {
		d.NSQProducer.Stop()
	}
	if d.DB != nil {
		d.DB.Close()
	}
}

// Bootstrap connects to every backing service, applies migrations and makes
// sure the index collection matches the profile.
func Bootstrap(ctx context.Context, cfg *config.Config, profile config.Profile) (*Dependencies, error) {
	db, err := OpenDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	deps := &Dependencies{DB: db}

	if err := Migrate(db, cfg.MigrationPath); err != nil {
		deps.Close()
		return nil, err
	}

	switch cfg.IndexBackend {
	case config.IndexMemory:
		slog.Warn("using in-memory vector index, points are lost on restart")
		deps.Index = vector.NewMemoryIndex()
	default:
		wClient, err := weaviate.NewClient(weaviate.Config{Host: cfg.WeaviateHost, Scheme: cfg.WeaviateScheme})
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("weaviate client error: %w", err)
		}
		deps.Index = wstore.NewStore(wClient, profile.Collection(cfg.WeaviateCollection))
	}

	if err := EnsureCollectionWithRetry(ctx, deps.Index, cfg.BootstrapRetryAttempts, cfg.BootstrapRetryDelay()); err != nil {
		deps.Close()
		return nil, fmt.Errorf("vector index schema error: %w", err)
	}

	if cfg.FeedBackend == config.FeedNSQ {
		producer, err := nsq.NewProducer(cfg.NSQDHost, nsq.NewConfig())
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("nsq producer error: %w", err)
		}
		deps.NSQProducer = producer
		if err := CreateTopic(ctx, cfg.NSQDHTTP, cfg.NSQTopic); err != nil {
			// consumers on lookupd fail until the topic exists; nsqd still
			// creates it lazily on first publish
			slog.Warn("failed to create NSQ topic", "topic", cfg.NSQTopic, "error", err)
		}
	}

	return deps, nil
}

// OpenDB opens the source database and pings it until it answers or the
// retry budget is spent.
func OpenDB(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}

	attempts := max(cfg.BootstrapRetryAttempts, 1)
	for i := 0; i < attempts; i++ {
		if err = db.PingContext(ctx); err == nil {
			return db, nil
		}
		slog.Warn("failed to ping db, retrying...", "attempt", i+1, "max_attempts", attempts)
		if i < attempts-1 {
			time.Sleep(cfg.BootstrapRetryDelay())
		}
	}
	db.Close()
	return nil, fmt.Errorf("failed to ping db: %w", err)
}

func Migrate(db *sql.DB, path string) error {
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("migration driver error: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance(path, "postgres", driver)
	if err != nil {
		return fmt.Errorf("migration instance error: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up error: %w", err)
	}
	slog.Info("migrations applied")
	return nil
}

// EnsureCollectionWithRetry creates the collection if needed, retrying while
// the index is still starting.
func EnsureCollectionWithRetry(ctx context.Context, idx vector.Index, attempts int, delay time.Duration) error {
	attempts = max(attempts, 1)
	var err error
	for i := 0; i < attempts; i++ {
		if _, err = idx.EnsureCollection(ctx, true); err == nil {
			return nil
		}
		slog.Warn("failed to ensure collection, retrying...", "attempt", i+1, "error", err)
		if i < attempts-1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return err
}

// CreateTopic asks nsqd's HTTP API to create topic ahead of the first publish.
func CreateTopic(ctx context.Context, nsqdHTTP, topic string) error {
	u := fmt.Sprintf("http://%s/topic/create?topic=%s", nsqdHTTP, url.QueryEscape(topic))
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req) // #nosec G107 -- URL is built from internal NSQ config, not user input
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("nsqd returned %s", resp.Status)
	}
	slog.Info("nsq topic ready", "topic", topic)
	return nil
}
