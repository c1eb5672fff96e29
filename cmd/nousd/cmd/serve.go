package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nousbase/nous/internal/async"
	"github.com/nousbase/nous/internal/auth"
	"github.com/nousbase/nous/internal/config"
	"github.com/nousbase/nous/internal/dedup"
	"github.com/nousbase/nous/internal/embed"
	nouserr "github.com/nousbase/nous/internal/errors"
	"github.com/nousbase/nous/internal/logging"
	"github.com/nousbase/nous/internal/querylog"
	"github.com/nousbase/nous/internal/rerank"
	"github.com/nousbase/nous/internal/server"
	"github.com/nousbase/nous/internal/service"
	"github.com/nousbase/nous/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logCfg := logging.DefaultConfig(cfg.Logging.File)
	logCfg.Level = cfg.Logging.Level
	logger, logCleanup, err := logging.Setup(logCfg)
	if err != nil {
		return err
	}
	defer logCleanup()
	slog.SetDefault(logger)

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		return err
	}
	defer func() { _ = embedder.Close() }()

	reranker := buildReranker(cfg)
	defer func() { _ = reranker.Close() }()

	st, err := store.Open(ctx, store.Config{
		DataDir:     cfg.Store.DataDir,
		BM25Backend: store.BM25Backend(cfg.Store.BM25Backend),
		Embedder:    embedder,
		Reranker:    reranker,
		Logger:      logger,
	})
	if err != nil {
		if nouserr.IsFatal(err) {
			logger.Error("store_unrecoverable", slog.String("error", err.Error()))
		}
		return err
	}
	defer func() { _ = st.Close() }()

	tracker, err := dedup.Open(cfg.Store.DataDir)
	if err != nil {
		return err
	}
	defer func() { _ = tracker.Close() }()

	dispatcher := async.NewDispatcher(async.Config{
		Workers:    cfg.Async.Workers,
		QueueSize:  cfg.Async.QueueSize,
		JobTimeout: cfg.Async.JobTimeout,
	}, logger)

	var audit *querylog.Logger
	if cfg.QueryLog.Enabled {
		path := cfg.QueryLog.Path
		if path == "" {
			path = filepath.Join(cfg.Store.DataDir, "queries.ndjson")
		}
		audit, err = querylog.Open(path, logger)
		if err != nil {
			return err
		}
		defer func() { _ = audit.Close() }()
	}

	svc := service.New(service.Options{
		Store:      st,
		Tracker:    tracker,
		Dispatcher: dispatcher,
		Audit:      audit,
		Logger:     logger,
	})

	verifier, err := buildVerifier(cfg)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           server.New(svc, verifier, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_listening", slog.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("server_stopping")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http_shutdown_failed", slog.String("error", err.Error()))
	}
	// Let queued saves finish before the store closes underneath them.
	if err := dispatcher.Shutdown(shutdownCtx); err != nil {
		logger.Error("dispatcher_shutdown_failed", slog.String("error", err.Error()))
	}
	return nil
}

func buildEmbedder(cfg *config.Config) (embed.Embedder, error) {
	var inner embed.Embedder
	switch cfg.Embed.Provider {
	case "remote":
		inner = embed.NewRemote(embed.RemoteConfig{
			Endpoint:          cfg.Embed.Endpoint,
			APIKey:            cfg.Embed.APIKey,
			Model:             cfg.Embed.Model,
			Dimensions:        cfg.Embed.Dimensions,
			Timeout:           cfg.Embed.Timeout,
			RequestsPerSecond: cfg.Embed.RequestsPerSecond,
		})
	case "static":
		inner = embed.NewStaticEmbedder()
	default:
		return nil, fmt.Errorf("unknown embed provider: %s", cfg.Embed.Provider)
	}

	if cfg.Embed.CacheSize > 0 {
		return embed.NewCachedEmbedder(inner, cfg.Embed.CacheSize), nil
	}
	return inner, nil
}

func buildReranker(cfg *config.Config) rerank.Reranker {
	if !cfg.Rerank.Enabled {
		return &rerank.NoOp{}
	}
	return rerank.NewRemote(rerank.RemoteConfig{
		Endpoint: cfg.Rerank.Endpoint,
		APIKey:   cfg.Rerank.APIKey,
		Model:    cfg.Rerank.Model,
	})
}

func buildVerifier(cfg *config.Config) (auth.Verifier, error) {
	switch cfg.Server.AuthMode {
	case "jwt":
		return auth.NewHS256Verifier([]byte(cfg.Server.JWTSecret), cfg.Server.JWTAudience), nil
	case "static":
		return auth.NewStaticVerifier(cfg.Server.StaticTokens), nil
	default:
		return nil, fmt.Errorf("unknown auth mode: %s", cfg.Server.AuthMode)
	}
}
