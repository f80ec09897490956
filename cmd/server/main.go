package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"seatkeeper/internal/api"
	"seatkeeper/internal/api/handlers"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/engine/webhooks"
	"seatkeeper/internal/pkg/logger"
	"seatkeeper/internal/pkg/metrics"
	"seatkeeper/internal/platform/config"
	"seatkeeper/internal/platform/database"
	"seatkeeper/internal/platform/payments"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logg := logger.Init(cfg.Logging, "server")

	if cfg.Stripe.WebhookSecret == "" {
		logg.Fatal().Msg("stripe.webhook_secret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logg.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)
	m.RegisterDB(db)

	dedup, redisClient, err := webhooks.NewDeduplicator(ctx, cfg.Redis)
	if err != nil {
		logg.Fatal().Err(err).Msg("Failed to set up webhook dedup store")
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	processor := payments.New(cfg.Stripe)
	syncer := billing.NewSyncer(db, processor, m, logg)
	receiver := webhooks.NewReceiver(cfg.Stripe.WebhookSecret, syncer, processor, dedup, m, logg)

	router := api.NewRouter(&api.Dependencies{
		WebhookHandler: handlers.NewWebhookHandler(receiver, logg),
		HealthHandler:  handlers.NewHealthHandler(db, redisClient),
		Metrics:        m,
		Logger:         logg,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logg.Info().Str("addr", srv.Addr).Msg("Server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		logg.Info().Msg("Shutting down server")
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logg.Fatal().Err(err).Msg("Server failed")
	}
	logg.Info().Msg("Server stopped")
}
