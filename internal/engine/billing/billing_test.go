package billing

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seatkeeper/internal/pkg/metrics"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/platform/database/dbtest"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/payments"
	"seatkeeper/internal/platform/payments/paymentstest"
	"seatkeeper/internal/platform/repositories"
)

const periodEnd = int64(1767225600)

type fixture struct {
	db        *sql.DB
	processor *paymentstest.Processor
	metrics   *metrics.Metrics
	syncer    *Syncer
	teams     *repositories.TeamRepository
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	processor := paymentstest.New()
	processor.Products["prod_pro"] = "Pro"
	m := metrics.New(prometheus.NewRegistry())

	return &fixture{
		db:        db,
		processor: processor,
		metrics:   m,
		syncer:    NewSyncer(db, processor, m, zerolog.Nop()),
		teams:     repositories.NewTeamRepository(db),
	}
}

// subscribedTeam creates team_1 owned by cus_1 with sub_1 active at the
// processor and members users added in order.
func (f *fixture) subscribedTeam(t *testing.T, status string, members int) {
	t.Helper()
	dbtest.InsertTeam(t, f.db, "team_1", "Acme", "cus_1")
	for i := 0; i < members; i++ {
		id := []string{"usr_a", "usr_b", "usr_c", "usr_d"}[i]
		dbtest.InsertUser(t, f.db, id, id+"@x.com")
		role := models.RoleMember
		if i == 0 {
			role = models.RoleOwner
		}
		dbtest.InsertMember(t, f.db, "tm_"+id, id, "team_1", role, int64(i+1))
	}
	dbtest.Subscribe(t, f.db, "team_1", "sub_1", status)
	f.processor.AddSubscription("sub_1", "cus_1", "prod_pro", 1, periodEnd)
}

func (f *fixture) team(t *testing.T) *models.Team {
	t.Helper()
	team, err := f.teams.GetByID(context.Background(), "team_1")
	require.NoError(t, err)
	return team
}

func TestCountActiveMembers(t *testing.T) {
	f := setup(t)
	f.subscribedTeam(t, "active", 3)

	n, err := f.syncer.CountActiveMembers(context.Background(), "team_1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	n, err = f.syncer.CountActiveMembers(context.Background(), "team_missing")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestReconcileSeatQuantity(t *testing.T) {
	ctx := context.Background()

	t.Run("Pushes Member Count", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "active", 3)

		res, err := f.syncer.ReconcileSeatQuantity(ctx, "team_1")
		require.NoError(t, err)
		assert.Equal(t, outcome.Success, res.Kind)
		assert.Equal(t, int64(3), res.Quantity)
		assert.Equal(t, int64(3), f.processor.Quantity("sub_1"))

		team := f.team(t)
		require.NotNil(t, team.SeatsBilled)
		assert.Equal(t, int64(3), *team.SeatsBilled)
		require.NotNil(t, team.NextBillingDate)
		assert.Equal(t, periodEnd, *team.NextBillingDate)

		assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.ReconcileTotal.WithLabelValues("success")))
	})

	t.Run("Empty Team Bills One Seat", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "trialing", 0)

		res, err := f.syncer.ReconcileSeatQuantity(ctx, "team_1")
		require.NoError(t, err)
		assert.Equal(t, outcome.Success, res.Kind)
		assert.Equal(t, int64(1), res.Quantity)
		assert.Equal(t, int64(1), *f.team(t).SeatsBilled)
	})

	t.Run("Repeated Calls Converge", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "active", 2)

		for i := 0; i < 2; i++ {
			res, err := f.syncer.ReconcileSeatQuantity(ctx, "team_1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), res.Quantity)
		}
		assert.Equal(t, int64(2), f.processor.Quantity("sub_1"))
		assert.Equal(t, int64(2), *f.team(t).SeatsBilled)
	})

	t.Run("Processor Failure Leaves Team Untouched", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "active", 2)
		f.processor.Err = errors.New("processor unavailable")

		res, err := f.syncer.ReconcileSeatQuantity(ctx, "team_1")
		require.NoError(t, err)
		assert.Equal(t, outcome.ExternalServiceFailure, res.Kind)
		assert.Contains(t, res.Reason, "processor unavailable")
		assert.Nil(t, f.team(t).SeatsBilled)
	})

	t.Run("No Subscription", func(t *testing.T) {
		f := setup(t)
		dbtest.InsertTeam(t, f.db, "team_1", "Acme", "cus_1")

		res, err := f.syncer.ReconcileSeatQuantity(ctx, "team_1")
		require.NoError(t, err)
		assert.Equal(t, outcome.AlreadyInState, res.Kind)
		assert.Zero(t, f.processor.Calls)
	})

	t.Run("Missing Team", func(t *testing.T) {
		f := setup(t)

		res, err := f.syncer.ReconcileSeatQuantity(ctx, "team_missing")
		require.NoError(t, err)
		assert.Equal(t, outcome.NotFound, res.Kind)
	})

	t.Run("Non Billable Status Not Recorded", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "past_due", 2)

		res, err := f.syncer.ReconcileSeatQuantity(ctx, "team_1")
		require.NoError(t, err)
		assert.Equal(t, outcome.Success, res.Kind)
		assert.Equal(t, int64(2), f.processor.Quantity("sub_1"))

		team := f.team(t)
		assert.Nil(t, team.SeatsBilled)
		assert.Nil(t, team.NextBillingDate)
	})

	t.Run("Cancellation During Push Keeps Seats Clear", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "active", 2)
		f.syncer.processor = &cancelOnUpdate{
			Processor: f.processor,
			cancel: func(ctx context.Context) {
				res, err := f.syncer.ApplySubscriptionEvent(ctx, SubscriptionEvent{
					SubscriptionID: "sub_1",
					CustomerID:     "cus_1",
					Status:         "canceled",
					OccurredAt:     100,
				})
				require.NoError(t, err)
				require.Equal(t, outcome.Success, res.Kind)
			},
		}

		res, err := f.syncer.ReconcileSeatQuantity(ctx, "team_1")
		require.NoError(t, err)
		assert.Equal(t, outcome.Success, res.Kind)
		assert.Equal(t, "seat count not recorded", res.Reason)

		team := f.team(t)
		assert.Equal(t, models.SubscriptionStatusCanceled, team.SubscriptionStatus)
		assert.Nil(t, team.SeatsBilled)
		assert.Nil(t, team.NextBillingDate)
	})

	t.Run("Store Failure Returned", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "active", 1)
		f.db.Close()

		_, err := f.syncer.ReconcileSeatQuantity(ctx, "team_1")
		assert.Error(t, err)
	})
}

// cancelOnUpdate applies a cancellation between the processor update and the
// seat write that follows it.
type cancelOnUpdate struct {
	*paymentstest.Processor
	cancel func(ctx context.Context)
}

func (p *cancelOnUpdate) UpdateItemQuantity(ctx context.Context, subscriptionID, itemID string, quantity int64) (*payments.Subscription, error) {
	sub, err := p.Processor.UpdateItemQuantity(ctx, subscriptionID, itemID, quantity)
	if err == nil {
		p.cancel(ctx)
	}
	return sub, err
}

func TestApplySubscriptionEvent(t *testing.T) {
	ctx := context.Background()

	active := SubscriptionEvent{
		SubscriptionID:   "sub_1",
		CustomerID:       "cus_1",
		Status:           "active",
		ProductID:        "prod_pro",
		PlanName:         "Pro",
		Quantity:         4,
		CurrentPeriodEnd: periodEnd,
		OccurredAt:       100,
	}

	t.Run("Active Mirrors Billing Fields", func(t *testing.T) {
		f := setup(t)
		dbtest.InsertTeam(t, f.db, "team_1", "Acme", "cus_1")

		res, err := f.syncer.ApplySubscriptionEvent(ctx, active)
		require.NoError(t, err)
		assert.Equal(t, outcome.Success, res.Kind)
		assert.Equal(t, "team_1", res.TeamID)

		team := f.team(t)
		assert.Equal(t, "sub_1", team.StripeSubscriptionID)
		assert.Equal(t, "prod_pro", team.StripeProductID)
		assert.Equal(t, "Pro", team.PlanName)
		assert.Equal(t, models.SubscriptionStatusActive, team.SubscriptionStatus)
		assert.Equal(t, int64(4), *team.SeatsBilled)
		assert.Equal(t, periodEnd, *team.NextBillingDate)
	})

	t.Run("Missing Quantity Defaults To One", func(t *testing.T) {
		f := setup(t)
		dbtest.InsertTeam(t, f.db, "team_1", "Acme", "cus_1")

		ev := active
		ev.Quantity = 0
		ev.Status = "trialing"
		_, err := f.syncer.ApplySubscriptionEvent(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, int64(1), *f.team(t).SeatsBilled)
	})

	t.Run("Canceled Clears Subscription Idempotently", func(t *testing.T) {
		f := setup(t)
		dbtest.InsertTeam(t, f.db, "team_1", "Acme", "cus_1")
		_, err := f.syncer.ApplySubscriptionEvent(ctx, active)
		require.NoError(t, err)

		canceled := active
		canceled.Status = "canceled"
		canceled.CancelAtPeriodEnd = true
		canceled.OccurredAt = 200

		for i := 0; i < 2; i++ {
			res, err := f.syncer.ApplySubscriptionEvent(ctx, canceled)
			require.NoError(t, err)
			assert.Equal(t, outcome.Success, res.Kind)

			team := f.team(t)
			assert.Empty(t, team.StripeSubscriptionID)
			assert.Empty(t, team.StripeProductID)
			assert.Empty(t, team.PlanName)
			assert.Equal(t, models.SubscriptionStatusCanceled, team.SubscriptionStatus)
			assert.False(t, team.CancelAtPeriodEnd)
			assert.Nil(t, team.SeatsBilled)
			assert.Nil(t, team.NextBillingDate)
		}
	})

	t.Run("Older Event Ignored", func(t *testing.T) {
		f := setup(t)
		dbtest.InsertTeam(t, f.db, "team_1", "Acme", "cus_1")

		unpaid := active
		unpaid.Status = "unpaid"
		unpaid.OccurredAt = 300
		_, err := f.syncer.ApplySubscriptionEvent(ctx, unpaid)
		require.NoError(t, err)

		res, err := f.syncer.ApplySubscriptionEvent(ctx, active)
		require.NoError(t, err)
		assert.Equal(t, outcome.AlreadyInState, res.Kind)
		assert.Equal(t, models.SubscriptionStatusUnpaid, f.team(t).SubscriptionStatus)
	})

	t.Run("Unknown Customer Dropped", func(t *testing.T) {
		f := setup(t)

		res, err := f.syncer.ApplySubscriptionEvent(ctx, active)
		require.NoError(t, err)
		assert.Equal(t, outcome.NotFound, res.Kind)
	})

	t.Run("Unhandled Status Persists Nothing", func(t *testing.T) {
		f := setup(t)
		dbtest.InsertTeam(t, f.db, "team_1", "Acme", "cus_1")

		ev := active
		ev.Status = "past_due"
		res, err := f.syncer.ApplySubscriptionEvent(ctx, ev)
		require.NoError(t, err)
		assert.Equal(t, outcome.AlreadyInState, res.Kind)

		team := f.team(t)
		assert.Equal(t, models.SubscriptionStatusNone, team.SubscriptionStatus)
		assert.Empty(t, team.StripeSubscriptionID)
	})
}

func TestStartCheckout(t *testing.T) {
	ctx := context.Background()

	t.Run("Bills Member Count With Trial", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "active", 3)
		f.syncer.WithCheckout(CheckoutOptions{BaseURL: "https://app.test", TrialDays: 14})

		res, err := f.syncer.StartCheckout(ctx, "team_1", "price_base")
		require.NoError(t, err)
		assert.Equal(t, outcome.Success, res.Kind)
		assert.Equal(t, int64(3), res.Quantity)
		assert.NotEmpty(t, res.URL)

		require.Len(t, f.processor.Checkouts, 1)
		req := f.processor.Checkouts[0]
		assert.Equal(t, "cus_1", req.CustomerID)
		assert.Equal(t, "team_1", req.ClientReferenceID)
		assert.Equal(t, int64(14), req.TrialDays)
		assert.Equal(t, "https://app.test/pricing", req.CancelURL)
		assert.NotEmpty(t, req.IdempotencyKey)
	})

	t.Run("Empty Team Bills One Seat", func(t *testing.T) {
		f := setup(t)
		dbtest.InsertTeam(t, f.db, "team_1", "Acme", "")

		res, err := f.syncer.StartCheckout(ctx, "team_1", "price_base")
		require.NoError(t, err)
		assert.Equal(t, int64(1), res.Quantity)
		assert.Empty(t, f.processor.Checkouts[0].CustomerID)
	})

	t.Run("Missing Team", func(t *testing.T) {
		f := setup(t)

		res, err := f.syncer.StartCheckout(ctx, "team_missing", "price_base")
		require.NoError(t, err)
		assert.Equal(t, outcome.NotFound, res.Kind)
		assert.Zero(t, f.processor.Calls)
	})

	t.Run("Processor Failure", func(t *testing.T) {
		f := setup(t)
		f.subscribedTeam(t, "active", 1)
		f.processor.Err = errors.New("processor unavailable")

		res, err := f.syncer.StartCheckout(ctx, "team_1", "price_base")
		require.NoError(t, err)
		assert.Equal(t, outcome.ExternalServiceFailure, res.Kind)
	})

	t.Run("Price Required", func(t *testing.T) {
		f := setup(t)
		_, err := f.syncer.StartCheckout(ctx, "team_1", "")
		assert.Error(t, err)
	})
}

func TestOpenPortal(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	dbtest.InsertTeam(t, f.db, "team_1", "Acme", "cus_1")

	res, err := f.syncer.OpenPortal(ctx, "team_1")
	require.NoError(t, err)
	assert.Equal(t, outcome.AlreadyInState, res.Kind)

	_, err = f.syncer.ApplySubscriptionEvent(ctx, SubscriptionEvent{
		SubscriptionID: "sub_1",
		CustomerID:     "cus_1",
		Status:         "active",
		ProductID:      "prod_pro",
		PlanName:       "Pro",
		Quantity:       1,
		OccurredAt:     1,
	})
	require.NoError(t, err)

	res, err = f.syncer.OpenPortal(ctx, "team_1")
	require.NoError(t, err)
	assert.Equal(t, outcome.Success, res.Kind)
	assert.Equal(t, []string{"cus_1"}, f.processor.Portals)
}

func TestLinkCustomer(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	dbtest.InsertTeam(t, f.db, "team_1", "Acme", "")

	res, err := f.syncer.LinkCustomer(ctx, "team_1", "cus_new")
	require.NoError(t, err)
	assert.Equal(t, outcome.Success, res.Kind)
	assert.Equal(t, "cus_new", f.team(t).StripeCustomerID)

	res, err = f.syncer.LinkCustomer(ctx, "team_missing", "cus_new")
	require.NoError(t, err)
	assert.Equal(t, outcome.NotFound, res.Kind)
}
