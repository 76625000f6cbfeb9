package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"legaldemo/internal/api"
	"legaldemo/internal/blob"
	"legaldemo/internal/config"
	"legaldemo/internal/demo"
	"legaldemo/internal/extract"
	"legaldemo/internal/logger"
	"legaldemo/internal/observability"
	"legaldemo/internal/redis"
	"legaldemo/internal/service/ai"
	"legaldemo/internal/session"
	"legaldemo/internal/storage"
	"legaldemo/internal/summary"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("LEGALDEMO_CONFIG"))
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	appLog, err := logger.New(cfg.BasicConfig.Mode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer appLog.Sync()
	switch strings.ToLower(cfg.BasicConfig.Mode) {
	case "prod", "production", "release":
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, appLog); err != nil {
		appLog.Fatal("server stopped", "error", err)
	}
}

func run(ctx context.Context, cfg *config.Config, appLog *logger.Logger) error {
	shutdownTracing, err := observability.InitTracing(ctx, appLog, cfg.Tracing)
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			appLog.Warn("tracing shutdown failed", "error", err)
		}
	}()

	store, closeStore, err := openSessionStore(cfg, appLog)
	if err != nil {
		return err
	}
	defer closeStore()

	blobs, closeBlobs, err := openDocumentStore(cfg)
	if err != nil {
		return err
	}
	defer closeBlobs()

	extractor, err := extract.NewDocumentExtractor(ctx)
	if err != nil {
		return fmt.Errorf("init extractor: %w", err)
	}
	generator, err := ai.NewGenerator(ctx, cfg)
	if err != nil {
		return fmt.Errorf("init answer generator: %w", err)
	}

	svc, err := demo.NewService(demo.Deps{
		Store:      store,
		Blobs:      blobs,
		Extractor:  extractor,
		Summarizer: summary.New(),
		Generator:  generator,
		Logger:     appLog,
	}, demo.Limits{
		MaxUploadBytes:    cfg.Demo.MaxUploadBytes,
		GenerationTimeout: cfg.Demo.GenerationTimeout(),
	})
	if err != nil {
		return fmt.Errorf("init demo service: %w", err)
	}

	reaper := demo.NewReaper(svc, demo.WithReapInterval(cfg.Demo.ReapInterval()))
	reaper.Start(ctx)
	defer reaper.Stop()

	handler := api.NewHandler(svc, appLog, cfg.Demo.SessionTTL())
	router := api.NewRouter(cfg, handler, appLog)

	addr := cfg.BasicConfig.ServerAddress
	if addr == "" {
		addr = ":8090"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("server listening", "addr", addr, "session_store", cfg.Demo.SessionStore,
			"document_store", cfg.Demo.DocumentStore, "answer_provider", cfg.Demo.AnswerProvider)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	appLog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown server: %w", err)
	}
	return nil
}

func openSessionStore(cfg *config.Config, appLog *logger.Logger) (session.Store, func(), error) {
	opts := []session.Option{
		session.WithTTL(cfg.Demo.SessionTTL()),
		session.WithQuestionLimit(cfg.Demo.QuestionLimit),
	}
	if cfg.Demo.SessionStore != "sql" {
		return session.NewMemoryStore(opts...), func() {}, nil
	}

	dbType := os.Getenv("LEGALDEMO_DB")
	if dbType == "" {
		dbType = "sqlite3"
	}
	appLog.Info("opening session database", "driver", dbType)
	db, err := storage.Open(dbType, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	if err := storage.Migrate(db, dbType); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return session.NewSQLStore(db, opts...), func() { db.Close() }, nil
}

func openDocumentStore(cfg *config.Config) (blob.Store, func(), error) {
	if cfg.Demo.DocumentStore != "redis" {
		fs, err := blob.NewFileStore(cfg.Demo.FileBaseDir)
		if err != nil {
			return nil, nil, fmt.Errorf("init file store: %w", err)
		}
		return fs, func() {}, nil
	}
	rdb, err := redis.NewRedisClient(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create redis client: %w", err)
	}
	// the key TTL only backs up the reaper
	ttl := cfg.Demo.SessionTTL() + cfg.Demo.ReapInterval()
	return blob.NewRedisStore(rdb, ttl), func() { rdb.Close() }, nil
}
