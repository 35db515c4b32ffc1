package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	cli "github.com/urfave/cli/v3"
	"go.uber.org/zap"

	"github.com/pitabwire/stepwise/internal/config"
	"github.com/pitabwire/stepwise/internal/observability"
	"github.com/pitabwire/stepwise/internal/transport"
)

func newServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the engine infrastructure: store, reaper, event bus and ops endpoints",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "port",
				Usage: "Ops HTTP port (overrides server.port)",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := config.Load(cmd.String("config"))
			if err != nil {
				return err
			}
			if port := cmd.Int("port"); port > 0 {
				cfg.Server.Port = port
			}
			return serve(ctx, cfg)
		},
	}
}

func serve(parent context.Context, cfg *config.Config) error {
	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	rt, err := newRuntime(ctx, cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return err
	}

	rt.reaper.Start(ctx)

	router := transport.NewRouter(transport.Dependencies{
		Config:      cfg,
		Logger:      logger,
		Metrics:     rt.metrics,
		Gatherer:    rt.registry,
		Readiness:   readiness(rt.defs, rt.store, rt.res.pool),
		Definitions: rt.defs,
	})
	srv := transport.NewServer(cfg.Server, router)

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", rt.defs.Len()),
		zap.String("store", cfg.Workflow.Store.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case serveErr = <-errCh:
		logger.Error("server error", zap.Error(serveErr))
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	rt.close(shutdownCtx)
	return serveErr
}
