package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"vecsync/features/failure"
	"vecsync/features/indexsync"
	"vecsync/features/search"
	"vecsync/features/stats"
	"vecsync/internal/adapter/gemini"
	nsqfeed "vecsync/internal/adapter/nsq"
	"vecsync/internal/config"
	"vecsync/internal/embedding"
	"vecsync/internal/middleware"
	"vecsync/internal/reconcile"
	"vecsync/internal/retrieval"
	"vecsync/internal/scheduler"
	"vecsync/internal/settings"
	"vecsync/internal/source"
	"vecsync/internal/vector"
)

const shutdownTimeout = 30 * time.Second

type App struct {
	Handler   http.Handler
	Engine    *reconcile.Engine
	Watcher   *reconcile.Watcher
	Scheduler *scheduler.Scheduler
	Settings  *settings.Service
	Mapping   reconcile.FieldMapping

	cfg   *config.Config
	index vector.Index
}

// New wires services and routes. A nil embedder selects the Gemini provider
// keyed from settings. ctx bounds the watcher when it is started over HTTP.
func New(ctx context.Context, cfg *config.Config, profile config.Profile, db *sql.DB, index vector.Index, embedder embedding.Provider) (*App, error) {
	settingsService := settings.NewService(settings.NewPostgresRepo(db))
	seedGeminiKey(ctx, cfg, settingsService)

	if embedder == nil {
		embedder = gemini.NewDynamicEmbedder(settingsService, gemini.Options{
			Model:      cfg.EmbeddingModel,
			Dimensions: cfg.EmbeddingDimensions,
		})
	}
	paced := embedding.NewPaced(embedder, cfg.EmbedBatchSize, cfg.EmbedDelay)

	store := source.NewPostgresStore(db)
	mapping := profile.Mapping()

	failureService := failure.NewService(failure.NewPostgresRepo(db), nil, mapping)
	engine := reconcile.NewEngine(index, paced, store, failureService, reconcile.Options{
		Chunking:       profile.Chunking,
		Concurrency:    cfg.Concurrency,
		ReadOnly:       cfg.ReadOnly,
		EmbedBatchSize: cfg.EmbedBatchSize,
		EmbedDelay:     cfg.EmbedDelay,
	})
	failureService.SetReconciler(engine)

	a := &App{
		Engine:   engine,
		Settings: settingsService,
		Mapping:  mapping,
		cfg:      cfg,
		index:    index,
	}

	if feed := newFeed(cfg, store); feed != nil {
		if cfg.ReadOnly {
			slog.Warn("read-only mode, change feed not watched")
		} else {
			a.Watcher = reconcile.NewWatcher(engine, feed, reconcile.WatcherOptions{
				Mapping:      mapping,
				MaxAttempts:  cfg.WatchMaxAttempts,
				InitialDelay: cfg.WatchInitialDelay,
				MaxDelay:     cfg.WatchMaxDelay,
			})
		}
	}

	if cfg.ReconcileSchedule != "" {
		if cfg.ReadOnly {
			slog.Warn("read-only mode, scheduled reconcile disabled")
		} else {
			sched, err := scheduler.New(cfg.ReconcileSchedule, func(ctx context.Context) error {
				_, err := engine.Bulk(ctx, reconcile.BulkRequest{BatchSize: cfg.BatchSize, Mapping: mapping})
				return err
			})
			if err != nil {
				return nil, err
			}
			a.Scheduler = sched
		}
	}

	queryLogger, err := retrieval.NewFileQueryLogger(cfg.QueryLogPath)
	if err != nil {
		slog.Warn("failed to create query logger, falling back to stdout", "error", err)
		queryLogger = retrieval.NewQueryLogger(os.Stdout)
	}
	retrievalService := retrieval.NewService(paced, index, settingsService, queryLogger)

	// nil concrete pointers must not reach the handlers as non-nil interfaces
	var watcher indexsync.Watcher
	var watcherStatus stats.WatcherStatus
	if a.Watcher != nil {
		watcher, watcherStatus = a.Watcher, a.Watcher
	}
	var sched indexsync.Scheduler
	if a.Scheduler != nil {
		sched = a.Scheduler
	}
	var points stats.PointCounter
	if c, ok := index.(vector.Counter); ok {
		points = c
	}

	settingsHandler := settings.NewHandler(settingsService)
	searchHandler := search.NewHandler(retrievalService)
	mcpHandler := search.NewMCPHandler(retrievalService)
	syncHandler := indexsync.NewHandler(ctx, engine, watcher, sched, mapping)
	failureHandler := failure.NewHandler(failureService)
	statsHandler := stats.NewHandler(store, failureService, points, watcherStatus)

	enableCORS := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
			next(w, r)
		}
	}

	mux := http.NewServeMux()

	mux.Handle("GET /settings", middleware.CorrelationID(enableCORS(settingsHandler.GetSettings)))
	mux.Handle("PUT /settings", middleware.CorrelationID(enableCORS(settingsHandler.UpdateSettings)))

	mux.Handle("POST /search", middleware.CorrelationID(enableCORS(searchHandler.Search)))
	mux.Handle("POST /mcp", middleware.CorrelationID(mcpHandler))

	mux.Handle("POST /sync", middleware.CorrelationID(enableCORS(syncHandler.Bulk)))
	mux.Handle("GET /sync/status", middleware.CorrelationID(enableCORS(syncHandler.Status)))
	mux.Handle("POST /sync/watch/start", middleware.CorrelationID(enableCORS(syncHandler.StartWatcher)))
	mux.Handle("POST /sync/watch/stop", middleware.CorrelationID(enableCORS(syncHandler.StopWatcher)))
	mux.Handle("POST /documents/{id}/reconcile", middleware.CorrelationID(enableCORS(syncHandler.Reconcile)))

	mux.Handle("GET /failures", middleware.CorrelationID(enableCORS(failureHandler.List)))
	mux.Handle("POST /failures/{id}/retry", middleware.CorrelationID(enableCORS(failureHandler.Retry)))

	mux.Handle("GET /stats", middleware.CorrelationID(enableCORS(statsHandler.GetStats)))

	mux.HandleFunc("GET /health", a.health)

	a.Handler = mux
	return a, nil
}

func newFeed(cfg *config.Config, store *source.PostgresStore) source.ChangeFeed {
	switch cfg.FeedBackend {
	case config.FeedPostgres:
		return source.NewPostgresFeed(cfg.DSN(), store)
	case config.FeedNSQ:
		return nsqfeed.NewFeed(nsqfeed.FeedOptions{
			NSQDAddr:    cfg.NSQDHost,
			LookupdAddr: cfg.NSQLookupd,
			Topic:       cfg.NSQTopic,
			Channel:     config.ChannelVecsync,
		}, store)
	default:
		return nil
	}
}

func seedGeminiKey(ctx context.Context, cfg *config.Config, svc *settings.Service) {
	if cfg.GeminiAPIKey == "" {
		return
	}
	set, err := svc.Get(ctx)
	if err != nil {
		slog.Warn("failed to fetch settings for seeding", "error", err)
		return
	}
	if set.GeminiAPIKey != "" {
		return
	}
	set.GeminiAPIKey = cfg.GeminiAPIKey
	if err := svc.Update(ctx, set); err != nil {
		slog.Warn("failed to seed gemini api key", "error", err)
		return
	}
	slog.Info("seeded gemini api key from environment")
}

type healthResponse struct {
	Status  string          `json:"status"`
	Index   bool            `json:"index"`
	Watcher reconcile.State `json:"watcher,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// health reports 503 when the index is unreachable or the watcher gave up.
func (a *App) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	ok, err := a.index.HealthCheck(ctx)
	resp.Index = ok && err == nil
	if !resp.Index {
		resp.Status = "degraded"
		if err != nil {
			resp.Error = err.Error()
		}
	}
	if a.Watcher != nil {
		st := a.Watcher.Status()
		resp.Watcher = st.State
		if st.Failed {
			resp.Status = "degraded"
			resp.Error = st.LastError
		}
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Run starts the watcher and scheduler when configured and serves HTTP until
// ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	if a.Watcher != nil && a.cfg.WatchOnStart {
		if err := a.Watcher.Start(ctx); err != nil {
			return fmt.Errorf("start watcher: %w", err)
		}
		defer a.Watcher.Stop()
	}
	if a.Scheduler != nil {
		if err := a.Scheduler.Start(ctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
		defer a.Scheduler.Stop()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.ServerPort),
		Handler:           a.Handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown failed", "error", err)
		}
	}()

	slog.Info("server starting", "port", a.cfg.ServerPort)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
