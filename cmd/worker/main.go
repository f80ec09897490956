package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/pkg/logger"
	"seatkeeper/internal/platform/config"
	"seatkeeper/internal/platform/database"
	"seatkeeper/internal/platform/payments"
	"seatkeeper/internal/platform/repositories"
	"seatkeeper/internal/workers"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	runOnce := flag.Bool("once", false, "Run one reconcile pass and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	logg := logger.Init(cfg.Logging, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(cfg.Database)
	if err != nil {
		logg.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer db.Close()

	teams := repositories.NewTeamRepository(db)
	syncer := billing.NewSyncer(db, payments.New(cfg.Stripe), nil, logg)

	reconcile := func() {
		if _, err := workers.ReconcileAll(ctx, teams, syncer, cfg.Worker.Concurrency, logg); err != nil {
			logg.Error().Err(err).Msg("Reconcile run finished with errors")
		}
	}

	if *runOnce {
		reconcile()
		return
	}

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := c.AddFunc(cfg.Worker.ReconcileSchedule, reconcile); err != nil {
		logg.Fatal().Err(err).Str("schedule", cfg.Worker.ReconcileSchedule).Msg("Invalid reconcile schedule")
	}

	logg.Info().Str("schedule", cfg.Worker.ReconcileSchedule).Msg("Starting seat reconcile worker")
	c.Start()

	<-ctx.Done()
	logg.Info().Msg("Stopping worker")
	<-c.Stop().Done()
}
