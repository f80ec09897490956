// Package billing keeps the processor's per-seat subscription quantity in
// step with team membership and mirrors subscription state onto teams.
package billing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"seatkeeper/internal/pkg/metrics"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/payments"
	"seatkeeper/internal/platform/repositories"
)

// SyncResult reports a reconciliation. Quantity is the seat count pushed to
// the processor; Reason explains a non-success kind.
type SyncResult struct {
	Kind     outcome.Kind `json:"kind"`
	Quantity int64        `json:"quantity,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

// SubscriptionEvent is a processor-side subscription change, already
// verified and decoded.
type SubscriptionEvent struct {
	SubscriptionID    string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	ProductID         string
	PlanName          string
	Quantity          int64
	CurrentPeriodEnd  int64
	OccurredAt        int64
}

type EventResult struct {
	Kind   outcome.Kind `json:"kind"`
	TeamID string       `json:"team_id,omitempty"`
}

// CheckoutOptions configures hosted checkout and portal sessions. BaseURL is
// the application's public origin that the processor redirects back to.
type CheckoutOptions struct {
	BaseURL   string
	TrialDays int64
}

// SessionResult reports a checkout or portal session. URL is where the user
// continues at the processor.
type SessionResult struct {
	Kind     outcome.Kind `json:"kind"`
	URL      string       `json:"url,omitempty"`
	Quantity int64        `json:"quantity,omitempty"`
	Reason   string       `json:"reason,omitempty"`
}

type Syncer struct {
	teams     *repositories.TeamRepository
	members   *repositories.MembershipRepository
	processor payments.Processor
	checkout  CheckoutOptions
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewSyncer(db *sql.DB, processor payments.Processor, m *metrics.Metrics, log zerolog.Logger) *Syncer {
	return &Syncer{
		teams:     repositories.NewTeamRepository(db),
		members:   repositories.NewMembershipRepository(db),
		processor: processor,
		metrics:   m,
		log:       log.With().Str("component", "billing").Logger(),
	}
}

// WithCheckout sets the options used by StartCheckout and OpenPortal.
func (s *Syncer) WithCheckout(opts CheckoutOptions) *Syncer {
	s.checkout = opts
	return s
}

// CountActiveMembers returns the number of memberships in the team. It is
// read from the store on every call.
func (s *Syncer) CountActiveMembers(ctx context.Context, teamID string) (int64, error) {
	n, err := s.members.CountByTeam(ctx, teamID)
	if err != nil {
		return 0, fmt.Errorf("count members of team %s: %w", teamID, err)
	}
	return n, nil
}

// ReconcileSeatQuantity pushes max(1, member count) to the team's
// subscription item and records it while the subscription is still active or
// trialing. Processor failures are reported in the result and leave the team
// untouched; store failures are returned.
func (s *Syncer) ReconcileSeatQuantity(ctx context.Context, teamID string) (res SyncResult, err error) {
	started := time.Now()
	defer func() {
		if err == nil {
			s.metrics.ObserveReconcile(res.Kind, started)
		}
	}()

	log := s.log.With().Str("team_id", teamID).Logger()

	team, err := s.teams.GetByID(ctx, teamID)
	if errors.Is(err, repositories.ErrNotFound) {
		return SyncResult{Kind: outcome.NotFound, Reason: "team not found"}, nil
	}
	if err != nil {
		return SyncResult{}, fmt.Errorf("load team %s: %w", teamID, err)
	}
	if team.StripeSubscriptionID == "" {
		log.Debug().Msg("Team has no subscription, nothing to reconcile")
		return SyncResult{Kind: outcome.AlreadyInState, Reason: "team has no subscription"}, nil
	}

	count, err := s.CountActiveMembers(ctx, teamID)
	if err != nil {
		return SyncResult{}, err
	}
	quantity := count
	if quantity < 1 {
		quantity = 1
	}

	periodEnd, err := s.pushQuantity(ctx, team.StripeSubscriptionID, quantity)
	if err != nil {
		log.Error().Err(err).Int64("quantity", quantity).Msg("Failed to update subscription quantity")
		return SyncResult{Kind: outcome.ExternalServiceFailure, Quantity: quantity, Reason: err.Error()}, nil
	}

	var next *int64
	if periodEnd > 0 {
		next = &periodEnd
	}
	written, err := s.teams.UpdateSeats(ctx, teamID, team.StripeSubscriptionID, quantity, next)
	if err != nil {
		return SyncResult{}, fmt.Errorf("record seats for team %s: %w", teamID, err)
	}
	if !written {
		log.Warn().Int64("quantity", quantity).Msg("Subscription not billable, seat count not recorded")
		return SyncResult{Kind: outcome.Success, Quantity: quantity, Reason: "seat count not recorded"}, nil
	}

	log.Info().Int64("quantity", quantity).Msg("Seat quantity reconciled")
	return SyncResult{Kind: outcome.Success, Quantity: quantity}, nil
}

func (s *Syncer) pushQuantity(ctx context.Context, subscriptionID string, quantity int64) (int64, error) {
	sub, err := s.processor.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return 0, err
	}
	item, err := sub.BillableItem()
	if err != nil {
		return 0, err
	}
	if _, err := s.processor.UpdateItemQuantity(ctx, subscriptionID, item.ID, quantity); err != nil {
		return 0, err
	}
	return sub.CurrentPeriodEnd, nil
}

// ApplySubscriptionEvent mirrors a subscription change onto the team owning
// the customer. Every write is a full overwrite, so replays are harmless;
// events older than the last applied one are skipped.
func (s *Syncer) ApplySubscriptionEvent(ctx context.Context, ev SubscriptionEvent) (res EventResult, err error) {
	defer func() {
		if err == nil {
			s.metrics.ObserveSubscriptionEvent(ev.Status, res.Kind)
		}
	}()

	log := s.log.With().
		Str("customer_id", ev.CustomerID).
		Str("subscription_id", ev.SubscriptionID).
		Str("status", ev.Status).
		Logger()

	team, err := s.teams.GetByCustomerID(ctx, ev.CustomerID)
	if errors.Is(err, repositories.ErrNotFound) {
		log.Error().Msg("Team not found for payment customer")
		return EventResult{Kind: outcome.NotFound}, nil
	}
	if err != nil {
		return EventResult{}, fmt.Errorf("load team for customer %s: %w", ev.CustomerID, err)
	}
	log = log.With().Str("team_id", team.ID).Logger()

	status := models.SubscriptionStatus(ev.Status)
	var state repositories.BillingState

	switch {
	case status.Billable():
		quantity := ev.Quantity
		if quantity < 1 {
			quantity = 1
		}
		state = repositories.BillingState{
			SubscriptionID:    ev.SubscriptionID,
			ProductID:         ev.ProductID,
			PlanName:          ev.PlanName,
			Status:            status,
			CancelAtPeriodEnd: ev.CancelAtPeriodEnd,
			SeatsBilled:       &quantity,
			EventAt:           ev.OccurredAt,
		}
		if ev.CurrentPeriodEnd > 0 {
			next := ev.CurrentPeriodEnd
			state.NextBillingDate = &next
		}
	case status.Terminal():
		state = repositories.BillingState{Status: status, EventAt: ev.OccurredAt}
	default:
		log.Info().Msg("Subscription status has no handling rule, ignoring")
		return EventResult{Kind: outcome.AlreadyInState, TeamID: team.ID}, nil
	}

	applied, err := s.teams.ApplyBillingState(ctx, team.ID, state)
	if err != nil {
		return EventResult{}, fmt.Errorf("apply subscription state to team %s: %w", team.ID, err)
	}
	if !applied {
		log.Info().Int64("occurred_at", ev.OccurredAt).Msg("Stale subscription event skipped")
		return EventResult{Kind: outcome.AlreadyInState, TeamID: team.ID}, nil
	}

	log.Info().Bool("cancel_at_period_end", state.CancelAtPeriodEnd).Msg("Subscription state applied")
	return EventResult{Kind: outcome.Success, TeamID: team.ID}, nil
}

// LinkCustomer attaches the processor customer created by a completed
// checkout to the team that started it.
func (s *Syncer) LinkCustomer(ctx context.Context, teamID, customerID string) (EventResult, error) {
	err := s.teams.SetCustomerID(ctx, teamID, customerID)
	if errors.Is(err, repositories.ErrNotFound) {
		s.log.Error().Str("team_id", teamID).Str("customer_id", customerID).Msg("Checkout completed for unknown team")
		return EventResult{Kind: outcome.NotFound}, nil
	}
	if err != nil {
		return EventResult{}, fmt.Errorf("link customer %s to team %s: %w", customerID, teamID, err)
	}
	return EventResult{Kind: outcome.Success, TeamID: teamID}, nil
}

// StartCheckout opens a hosted subscription checkout for priceID billed at
// max(1, member count) seats, with the configured trial. The session carries
// the team id so the completion webhook can link the new customer.
func (s *Syncer) StartCheckout(ctx context.Context, teamID, priceID string) (SessionResult, error) {
	if priceID == "" {
		return SessionResult{}, errors.New("price id is required")
	}

	team, err := s.teams.GetByID(ctx, teamID)
	if errors.Is(err, repositories.ErrNotFound) {
		return SessionResult{Kind: outcome.NotFound, Reason: "team not found"}, nil
	}
	if err != nil {
		return SessionResult{}, fmt.Errorf("load team %s: %w", teamID, err)
	}

	count, err := s.CountActiveMembers(ctx, teamID)
	if err != nil {
		return SessionResult{}, err
	}
	quantity := count
	if quantity < 1 {
		quantity = 1
	}

	sess, err := s.processor.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		CustomerID:        team.StripeCustomerID,
		PriceID:           priceID,
		Quantity:          quantity,
		TrialDays:         s.checkout.TrialDays,
		ClientReferenceID: team.ID,
		SuccessURL:        s.checkout.BaseURL + "/dashboard?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:         s.checkout.BaseURL + "/pricing",
		IdempotencyKey:    "checkout_" + uuid.NewString(),
	})
	if err != nil {
		s.log.Error().Err(err).Str("team_id", teamID).Msg("Failed to create checkout session")
		return SessionResult{Kind: outcome.ExternalServiceFailure, Quantity: quantity, Reason: err.Error()}, nil
	}

	s.log.Info().Str("team_id", teamID).Str("price_id", priceID).Int64("quantity", quantity).Msg("Checkout session created")
	return SessionResult{Kind: outcome.Success, URL: sess.URL, Quantity: quantity}, nil
}

// OpenPortal opens the processor's self-service billing portal for a team
// that has paid before.
func (s *Syncer) OpenPortal(ctx context.Context, teamID string) (SessionResult, error) {
	team, err := s.teams.GetByID(ctx, teamID)
	if errors.Is(err, repositories.ErrNotFound) {
		return SessionResult{Kind: outcome.NotFound, Reason: "team not found"}, nil
	}
	if err != nil {
		return SessionResult{}, fmt.Errorf("load team %s: %w", teamID, err)
	}
	if team.StripeCustomerID == "" || team.StripeProductID == "" {
		return SessionResult{Kind: outcome.AlreadyInState, Reason: "team has no paid subscription"}, nil
	}

	sess, err := s.processor.CreatePortalSession(ctx, team.StripeCustomerID, s.checkout.BaseURL+"/dashboard")
	if err != nil {
		s.log.Error().Err(err).Str("team_id", teamID).Msg("Failed to create portal session")
		return SessionResult{Kind: outcome.ExternalServiceFailure, Reason: err.Error()}, nil
	}
	return SessionResult{Kind: outcome.Success, URL: sess.URL}, nil
}
