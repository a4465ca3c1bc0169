package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"analytics-orchestrator/internal/apiserver/auth"
	"analytics-orchestrator/internal/apiserver/server"
	"analytics-orchestrator/internal/config"
	"analytics-orchestrator/internal/contextmgr"
	"analytics-orchestrator/internal/observability"
	"analytics-orchestrator/internal/registry"
	"analytics-orchestrator/internal/resilience"
	"analytics-orchestrator/internal/router"
	"analytics-orchestrator/internal/shared/infra"
	"analytics-orchestrator/internal/snapshot"
	"analytics-orchestrator/internal/summarizer"
	"analytics-orchestrator/internal/workers"
	"analytics-orchestrator/pkg/logging"
)

const serviceName = "analytics-orchestrator"

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

// loadConfig 指定路径时只读该文件，否则按环境分层加载
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// authConfig 认证关闭时不携带密钥，中间件以默认等级放行
func authConfig(cfg *config.Config) auth.Config {
	a := auth.DefaultConfig()
	a.DefaultTier = cfg.DefaultTier()
	if cfg.Auth.Enabled {
		a.JWTSecret = cfg.Auth.JWTSecret
	}
	return a
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := logging.Default("orchestrator")
	logger.Info("[orchestrator.starting]", "env", cfg.Env, "config", cfg.String(), "loaded_from", cfg.LoadedFrom())

	shutdownTracing, err := observability.InitTracing(ctx, serviceName, cfg.Tracing)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.WithError(err).Warn("[orchestrator.tracing_shutdown_failed]")
		}
	}()

	metrics := observability.NewMetrics("")

	inf, err := infra.New(ctx, cfg, logger.Named("infra"))
	if err != nil {
		return fmt.Errorf("init infrastructure: %w", err)
	}
	defer func() {
		if err := inf.Close(); err != nil {
			logger.WithError(err).Warn("[orchestrator.infra_close_failed]")
		}
	}()

	executor := resilience.NewExecutor(&cfg.Resilience,
		resilience.WithRecorder(metrics),
		resilience.WithLogger(logger.Named("resilience")))

	sum, err := summarizer.New(&cfg.Summarizer, executor, logger.Named("summarizer"))
	if err != nil {
		return fmt.Errorf("init summarizer: %w", err)
	}

	contexts, err := contextmgr.New(&cfg.Context, inf.Backend, sum,
		contextmgr.WithRecorder(metrics),
		contextmgr.WithLogger(logger.Named("contextmgr")))
	if err != nil {
		return fmt.Errorf("init context manager: %w", err)
	}

	snapOpts := []snapshot.Option{
		snapshot.WithRecorder(metrics),
		snapshot.WithLogger(logger.Named("snapshot")),
	}
	if blobs := inf.BlobStore(); blobs != nil {
		snapOpts = append(snapOpts, snapshot.WithBlobStore(blobs))
	}
	snapshots, err := snapshot.New(&cfg.Snapshot, inf.Backend, snapOpts...)
	if err != nil {
		return fmt.Errorf("init snapshot manager: %w", err)
	}

	reg := registry.New(logger.Named("registry"))
	if err := reg.Register(workers.EchoDescriptor()); err != nil {
		return err
	}
	if err := workers.Register(reg, cfg.Workers, &http.Client{}); err != nil {
		return fmt.Errorf("register workers: %w", err)
	}

	rt, err := router.New(&cfg.Router, reg, contexts, executor,
		router.WithCheckpointer(snapshots),
		router.WithRecorder(metrics),
		router.WithLogger(logger.Named("router")))
	if err != nil {
		return fmt.Errorf("init router: %w", err)
	}

	h := server.NewHandler(server.Deps{
		Router:    rt,
		Snapshots: snapshots,
		Circuits:  executor,
		Workers:   reg,
		Metrics:   metrics,
		Auth:      authConfig(cfg),
		Logger:    logger.Named("apiserver"),
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[orchestrator.listening]", "addr", srv.Addr, "workers", reg.Len())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	logger.Info("[orchestrator.shutting_down]", "timeout", cfg.Server.ShutdownTimeout.String())
	started := time.Now()
	sctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.WithDuration(time.Since(started)).Info("[orchestrator.stopped]")
	return nil
}
