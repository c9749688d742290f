package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/sagarc03/stowfs"
	stowfshttp "github.com/sagarc03/stowfs/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the admin HTTP server",
	Long: `Start the read-only admin API: health, metrics, cache entries and
user store assignments. Incomplete cache entries are repaired in the
background every --repair-interval.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveRepairInterval time.Duration

func init() {
	serveCmd.Flags().String("addr", "", "listen address (default: 127.0.0.1:5708, env: STOWFS_SERVER_ADDR)")
	serveCmd.Flags().DurationVar(&serveRepairInterval, "repair-interval", 10*time.Minute, "background repair interval, 0 disables it")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	storage, err := a.storage(ctx)
	if err != nil {
		return err
	}

	if serveRepairInterval > 0 {
		go repairLoop(ctx, storage, serveRepairInterval)
	}

	handler := stowfshttp.NewHandler(&stowfshttp.HandlerConfig{
		Token:   a.cfg.Server.Token,
		Metrics: promhttp.HandlerFor(a.prom, promhttp.HandlerOpts{}),
		Ready:   a.db.Ping,
		Logger:  slog.Default(),
	}, storage, a.resolver)

	server := &http.Server{
		Addr:              a.cfg.Server.Addr,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("starting server", "addr", server.Addr, "storage", storage.ID())
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down server...")
	timeout := time.Duration(a.cfg.Server.ShutdownTimeout) * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

func repairLoop(ctx context.Context, s *stowfs.Storage, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		res, err := s.Scanner().BackgroundScan(ctx)
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			slog.Error("background repair failed", "err", err)
		case res.Files+res.Folders+len(res.Skipped) > 0:
			slog.Info("background repair", "files", res.Files, "folders", res.Folders, "skipped", len(res.Skipped))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
