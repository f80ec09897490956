package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/engine/invitations"
	"seatkeeper/internal/engine/teams"
	"seatkeeper/internal/pkg/logger"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/platform/audit"
	"seatkeeper/internal/platform/config"
	"seatkeeper/internal/platform/database"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/payments"
	"seatkeeper/internal/platform/repositories"
)

type app struct {
	db          *sql.DB
	users       *repositories.UserRepository
	teamRepo    *repositories.TeamRepository
	resolver    *teams.Resolver
	teamService *teams.Service
	ledger      *invitations.Ledger
	syncer      *billing.Syncer
	activity    *audit.Logger
	concurrency int
	log         zerolog.Logger
	out         io.Writer
	closer      func() error
}

func newApp(db *sql.DB, processor payments.Processor, checkout billing.CheckoutOptions, concurrency int, log zerolog.Logger, out io.Writer) *app {
	activity := audit.NewLogger(db)
	syncer := billing.NewSyncer(db, processor, nil, log).WithCheckout(checkout)

	return &app{
		db:          db,
		users:       repositories.NewUserRepository(db),
		teamRepo:    repositories.NewTeamRepository(db),
		resolver:    teams.NewResolver(db),
		teamService: teams.NewService(db, activity, syncer, log),
		ledger:      invitations.NewLedger(db, activity, syncer, nil, log),
		syncer:      syncer,
		activity:    activity,
		concurrency: concurrency,
		log:         log,
		out:         out,
	}
}

func openApp(configPath string, out io.Writer) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.Init(cfg.Logging, "teamctl")

	db, err := database.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	checkout := billing.CheckoutOptions{BaseURL: cfg.Stripe.BaseURL, TrialDays: cfg.Stripe.TrialDays}
	a := newApp(db, payments.New(cfg.Stripe), checkout, cfg.Worker.Concurrency, log, out)
	a.closer = db.Close
	return a, nil
}

func (a *app) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer()
}

// actingUser loads the user named by --as.
func (a *app) actingUser(ctx context.Context, email string) (*models.User, error) {
	if email == "" {
		return nil, errors.New("--as is required")
	}
	user, err := a.users.GetByEmail(ctx, email)
	if errors.Is(err, repositories.ErrNotFound) {
		return nil, fmt.Errorf("no user with email %s", email)
	}
	return user, err
}

func (a *app) print(v interface{}) error {
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// report prints v and turns a non-success kind into a command error so the
// exit status reflects it.
func (a *app) report(kind outcome.Kind, v interface{}) error {
	if err := a.print(v); err != nil {
		return err
	}
	if !kind.OK() {
		return fmt.Errorf("operation finished with %s", kind)
	}
	return nil
}
