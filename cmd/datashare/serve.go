package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"datashare/internal/server/api"
	"datashare/internal/server/config"
	"datashare/internal/server/service"
)

func newServeCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and the expiration sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), cfg)
		},
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"database_driver", cfg.DatabaseDriver,
		"storage_backend", cfg.StorageBackend,
		"max_file_size", cfg.MaxFileSize,
		"cleanup_interval", cfg.CleanupInterval,
	)

	verifier, err := newVerifier(ctx, cfg)
	if err != nil {
		return err
	}

	b, err := openBackend(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer b.close()

	store, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}

	engine := newEngine(cfg, b, store)

	// Start the sweeper
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	sweeper := service.NewSweeper(engine, cfg.CleanupInterval, cfg.OrphanGracePeriod)
	sweeper.Start(sweepCtx)

	handler := api.NewHandler(engine, b, cfg)
	e := api.SetupRouter(handler, verifier, cfg)
	e.Server.ReadHeaderTimeout = 10 * time.Second
	e.Server.IdleTimeout = 2 * time.Minute

	serveErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			return
		}
		slog.Info("server stopped")
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	var runErr error
	select {
	case sig := <-quit:
		slog.Info("shutting down", "signal", sig)
	case runErr = <-serveErr:
		slog.Error("server failed", "error", runErr)
	}

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	sweepCancel()
	sweeper.Wait()

	if runErr != nil {
		return runErr
	}
	slog.Info("server exited cleanly")
	return nil
}
