package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/platform/database/dbtest"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/payments/paymentstest"
	"seatkeeper/internal/platform/repositories"
)

const testSecret = "whsec_test"

func subscriptionPayload(t *testing.T, eventID, eventType, status string, created int64) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"object":  "event",
		"type":    eventType,
		"created": created,
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                   "sub_1",
				"object":               "subscription",
				"customer":             "cus_1",
				"status":               status,
				"cancel_at_period_end": true,
				"current_period_end":   1767225600,
				"items": map[string]interface{}{
					"object": "list",
					"data": []map[string]interface{}{{
						"id":       "si_1",
						"object":   "subscription_item",
						"quantity": 5,
						"price":    map[string]interface{}{"id": "price_1", "object": "price", "product": "prod_pro"},
					}},
				},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

type receiverFixture struct {
	db        *sql.DB
	receiver  *Receiver
	processor *paymentstest.Processor
	teams     *repositories.TeamRepository
}

func setupReceiver(t *testing.T) *receiverFixture {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.InsertTeam(t, db, "team_1", "Acme", "cus_1")

	processor := paymentstest.New()
	processor.Products["prod_pro"] = "Pro"
	syncer := billing.NewSyncer(db, processor, nil, zerolog.Nop())

	return &receiverFixture{
		db:        db,
		receiver:  NewReceiver(testSecret, syncer, processor, NewMemoryDeduplicator(time.Hour), nil, zerolog.Nop()),
		processor: processor,
		teams:     repositories.NewTeamRepository(db),
	}
}

func TestReceiver_AppliesSubscriptionUpdate(t *testing.T) {
	f := setupReceiver(t)
	ctx := context.Background()

	payload := subscriptionPayload(t, "evt_1", EventSubscriptionUpdated, "active", time.Now().Unix())
	d, err := f.receiver.Handle(ctx, payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, d.Result)
	require.NotNil(t, d.Event)
	assert.Equal(t, outcome.Success, d.Event.Kind)

	team, err := f.teams.GetByID(ctx, "team_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", team.StripeSubscriptionID)
	assert.Equal(t, "prod_pro", team.StripeProductID)
	assert.Equal(t, "Pro", team.PlanName)
	assert.True(t, team.CancelAtPeriodEnd)
	assert.Equal(t, int64(5), *team.SeatsBilled)
	assert.Equal(t, int64(1767225600), *team.NextBillingDate)

	t.Run("Redelivery Skipped", func(t *testing.T) {
		d, err := f.receiver.Handle(ctx, payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, ResultDuplicate, d.Result)
	})

	t.Run("Deleted Clears Subscription", func(t *testing.T) {
		payload := subscriptionPayload(t, "evt_2", EventSubscriptionDeleted, "canceled", time.Now().Unix())
		d, err := f.receiver.Handle(ctx, payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
		require.NoError(t, err)
		assert.Equal(t, ResultApplied, d.Result)

		team, err := f.teams.GetByID(ctx, "team_1")
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionStatusCanceled, team.SubscriptionStatus)
		assert.Empty(t, team.StripeSubscriptionID)
		assert.False(t, team.CancelAtPeriodEnd)
		assert.Nil(t, team.SeatsBilled)
	})
}

func TestReceiver_RejectsBadSignature(t *testing.T) {
	f := setupReceiver(t)
	payload := subscriptionPayload(t, "evt_1", EventSubscriptionUpdated, "active", time.Now().Unix())

	_, err := f.receiver.Handle(context.Background(), payload, paymentstest.SignatureHeader("whsec_other", payload, time.Now()))
	assert.ErrorIs(t, err, ErrInvalidSignature)

	_, err = f.receiver.Handle(context.Background(), payload, "")
	assert.ErrorIs(t, err, ErrInvalidSignature)

	stale := time.Now().Add(-time.Hour)
	_, err = f.receiver.Handle(context.Background(), payload, paymentstest.SignatureHeader(testSecret, payload, stale))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestReceiver_IgnoresOtherEvents(t *testing.T) {
	f := setupReceiver(t)
	payload := subscriptionPayload(t, "evt_1", "invoice.paid", "active", time.Now().Unix())

	d, err := f.receiver.Handle(context.Background(), payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, ResultIgnored, d.Result)
	assert.Zero(t, f.processor.Calls)
}

type failingApplier struct {
	calls int
	err   error
	last  billing.SubscriptionEvent
}

func (a *failingApplier) ApplySubscriptionEvent(ctx context.Context, ev billing.SubscriptionEvent) (billing.EventResult, error) {
	a.calls++
	a.last = ev
	if a.err != nil {
		return billing.EventResult{}, a.err
	}
	return billing.EventResult{Kind: outcome.Success}, nil
}

func (a *failingApplier) LinkCustomer(ctx context.Context, teamID, customerID string) (billing.EventResult, error) {
	return billing.EventResult{Kind: outcome.Success, TeamID: teamID}, nil
}

func TestReceiver_FailedDeliveryReleased(t *testing.T) {
	processor := paymentstest.New()
	processor.Products["prod_pro"] = "Pro"
	applier := &failingApplier{err: errors.New("database is locked")}
	r := NewReceiver(testSecret, applier, processor, NewMemoryDeduplicator(time.Hour), nil, zerolog.Nop())
	ctx := context.Background()

	payload := subscriptionPayload(t, "evt_1", EventSubscriptionCreated, "trialing", time.Now().Unix())
	_, err := r.Handle(ctx, payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
	require.Error(t, err)

	applier.err = nil
	d, err := r.Handle(ctx, payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, d.Result)
	assert.Equal(t, 2, applier.calls)
}

func TestReceiver_ProductLookupFailure(t *testing.T) {
	processor := paymentstest.New()
	processor.Err = errors.New("processor unavailable")
	applier := &failingApplier{}
	r := NewReceiver(testSecret, applier, processor, NewMemoryDeduplicator(time.Hour), nil, zerolog.Nop())

	payload := subscriptionPayload(t, "evt_1", EventSubscriptionUpdated, "active", time.Now().Unix())
	_, err := r.Handle(context.Background(), payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
	assert.ErrorIs(t, err, ErrUpstream)
	assert.Zero(t, applier.calls)
}

func TestReceiver_DeletedProductApplied(t *testing.T) {
	processor := paymentstest.New()
	applier := &failingApplier{}
	r := NewReceiver(testSecret, applier, processor, NewMemoryDeduplicator(time.Hour), nil, zerolog.Nop())

	payload := subscriptionPayload(t, "evt_1", EventSubscriptionUpdated, "active", time.Now().Unix())
	d, err := r.Handle(context.Background(), payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, d.Result)
	assert.Equal(t, 1, applier.calls)
	assert.Equal(t, "prod_pro", applier.last.ProductID)
	assert.Empty(t, applier.last.PlanName)
}

func checkoutPayload(t *testing.T, eventID, teamID string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]interface{}{
		"id":      eventID,
		"object":  "event",
		"type":    EventCheckoutCompleted,
		"created": time.Now().Unix(),
		"data": map[string]interface{}{
			"object": map[string]interface{}{
				"id":                  "cs_1",
				"object":              "checkout.session",
				"mode":                "subscription",
				"client_reference_id": teamID,
				"customer":            "cus_new",
				"subscription":        "sub_new",
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func TestReceiver_CheckoutCompleted(t *testing.T) {
	f := setupReceiver(t)
	ctx := context.Background()
	dbtest.InsertTeam(t, f.db, "team_2", "Globex", "")
	f.processor.AddSubscription("sub_new", "cus_new", "prod_pro", 2, 1767225600)

	payload := checkoutPayload(t, "evt_co", "team_2")
	d, err := f.receiver.Handle(ctx, payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
	require.NoError(t, err)
	assert.Equal(t, ResultApplied, d.Result)
	require.NotNil(t, d.Event)
	assert.Equal(t, outcome.Success, d.Event.Kind)

	team, err := f.teams.GetByID(ctx, "team_2")
	require.NoError(t, err)
	assert.Equal(t, "cus_new", team.StripeCustomerID)
	assert.Equal(t, "sub_new", team.StripeSubscriptionID)
	assert.Equal(t, "Pro", team.PlanName)
	assert.Equal(t, models.SubscriptionStatusActive, team.SubscriptionStatus)
	assert.Equal(t, int64(2), *team.SeatsBilled)

	t.Run("Unknown Team", func(t *testing.T) {
		payload := checkoutPayload(t, "evt_co2", "team_missing")
		d, err := f.receiver.Handle(ctx, payload, paymentstest.SignatureHeader(testSecret, payload, time.Now()))
		require.NoError(t, err)
		require.NotNil(t, d.Event)
		assert.Equal(t, outcome.NotFound, d.Event.Kind)
	})
}
