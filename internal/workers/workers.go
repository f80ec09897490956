package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/platform/models"
)

// TeamLister returns the teams that currently hold a subscription.
type TeamLister interface {
	ListSubscribed(ctx context.Context) ([]*models.Team, error)
}

type Reconciler interface {
	ReconcileSeatQuantity(ctx context.Context, teamID string) (billing.SyncResult, error)
}

type ReconcileSummary struct {
	Teams     int            `json:"teams"`
	Outcomes  map[string]int `json:"outcomes"`
	Errors    int            `json:"errors"`
	StartedAt int64          `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
}

// ReconcileAll re-pushes the seat quantity of every subscribed team, at most
// concurrency at a time. A store error for one team does not stop the rest;
// all such errors are joined into the returned error.
func ReconcileAll(ctx context.Context, teams TeamLister, syncer Reconciler, concurrency int, log zerolog.Logger) (*ReconcileSummary, error) {
	started := time.Now()
	summary := &ReconcileSummary{Outcomes: make(map[string]int), StartedAt: started.Unix()}

	subscribed, err := teams.ListSubscribed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribed teams: %w", err)
	}
	summary.Teams = len(subscribed)

	if concurrency < 1 {
		concurrency = 1
	}

	var (
		mu   sync.Mutex
		errs []error
		g    errgroup.Group
	)
	g.SetLimit(concurrency)

	for _, team := range subscribed {
		teamID := team.ID
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := syncer.ReconcileSeatQuantity(ctx, teamID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors++
				errs = append(errs, err)
				log.Error().Err(err).Str("team_id", teamID).Msg("Reconcile failed")
				return nil
			}
			summary.Outcomes[res.Kind.String()]++
			if res.Kind == outcome.ExternalServiceFailure {
				log.Warn().Str("team_id", teamID).Str("reason", res.Reason).Msg("Payment processor rejected reconcile")
			}
			return nil
		})
	}
	_ = g.Wait()

	summary.Duration = time.Since(started)
	log.Info().
		Int("teams", summary.Teams).
		Int("errors", summary.Errors).
		Interface("outcomes", summary.Outcomes).
		Dur("duration", summary.Duration).
		Msg("Reconcile run finished")

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return summary, errors.Join(errs...)
}
