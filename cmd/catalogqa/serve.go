package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/MikeSquared-Agency/catalogqa/internal/api"
	"github.com/MikeSquared-Agency/catalogqa/internal/hermes"
	"github.com/MikeSquared-Agency/catalogqa/internal/metrics"
	"github.com/MikeSquared-Agency/catalogqa/internal/processor"
	"github.com/MikeSquared-Agency/catalogqa/internal/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Int("port", 0, "listen port (overrides config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if port, _ := cmd.Flags().GetInt("port"); port > 0 {
		cfg.Port = port
	}
	logger := slog.Default()
	logger.Info("catalogqa starting", "port", cfg.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Events are optional; without NATS answers are simply not announced.
	var events *hermes.Client
	var opts []processor.Option
	if cfg.NatsURL != "" {
		events, err = hermes.NewClient(ctx, cfg.NatsURL, cfg.NatsToken, logger)
		if err != nil {
			return err
		}
		defer events.Close()
		opts = append(opts, processor.WithPublisher(events))
		logger.Info("NATS connected", "url", cfg.NatsURL)
	} else {
		logger.Warn("NATS not configured, answered events will not be published")
	}

	a, err := newApp(ctx, cfg, logger, opts...)
	if err != nil {
		return err
	}
	defer a.Close()

	if events != nil {
		if err := events.OnCatalogChanged(a.proc.HandleCatalogChanged); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Config{
		Port:           cfg.Port,
		RatePerSecond:  cfg.RatePerSecond,
		Burst:          cfg.RateBurst,
		AllowedOrigins: cfg.AllowedOrigins,
	}, a.proc, a.sessions, a.catalog, logger)

	reaper := session.NewReaper(a.sessions, cfg.SweepInterval, logger)
	reaper.OnSweep(func(removed int) {
		metrics.SessionsSwept.Add(float64(removed))
		metrics.SessionsActive.Set(float64(a.sessions.ActiveCount()))
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return reaper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	logger.Info("catalogqa ready", "port", cfg.Port, "provider", a.gateway.Provider())
	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("catalogqa stopped")
	return nil
}
