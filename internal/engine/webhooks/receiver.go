// Package webhooks receives subscription events from the payment processor.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
	"seatkeeper/internal/engine/billing"
	"seatkeeper/internal/pkg/metrics"
	"seatkeeper/internal/pkg/outcome"
	"seatkeeper/internal/platform/models"
	"seatkeeper/internal/platform/payments"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrMalformedEvent   = errors.New("malformed webhook event")
	// ErrUpstream means the event could not be completed because the payment
	// processor failed; the delivery should be retried.
	ErrUpstream = errors.New("payment processor unavailable")
)

const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventCheckoutCompleted   = "checkout.session.completed"
)

const (
	ResultApplied   = "applied"
	ResultIgnored   = "ignored"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

// Applier is the part of billing that consumes subscription events.
type Applier interface {
	ApplySubscriptionEvent(ctx context.Context, ev billing.SubscriptionEvent) (billing.EventResult, error)
	LinkCustomer(ctx context.Context, teamID, customerID string) (billing.EventResult, error)
}

type Delivery struct {
	EventID string               `json:"event_id"`
	Type    string               `json:"type"`
	Result  string               `json:"result"`
	Event   *billing.EventResult `json:"event,omitempty"`
}

type Receiver struct {
	secret    string
	applier   Applier
	processor payments.Processor
	dedup     Deduplicator
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

func NewReceiver(secret string, applier Applier, processor payments.Processor, dedup Deduplicator, m *metrics.Metrics, log zerolog.Logger) *Receiver {
	return &Receiver{
		secret:    secret,
		applier:   applier,
		processor: processor,
		dedup:     dedup,
		metrics:   m,
		log:       log.With().Str("component", "webhooks").Logger(),
	}
}

// Handle verifies and applies one delivery. Deliveries of event types other
// than subscription changes and completed checkouts are acknowledged without
// effect.
func (r *Receiver) Handle(ctx context.Context, payload []byte, signatureHeader string) (Delivery, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signatureHeader, r.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		r.metrics.ObserveWebhook("unknown", ResultFailed)
		return Delivery{}, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	d := Delivery{EventID: event.ID, Type: string(event.Type)}
	log := r.log.With().Str("event_id", event.ID).Str("type", d.Type).Logger()

	switch d.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated, EventSubscriptionDeleted, EventCheckoutCompleted:
	default:
		log.Debug().Msg("Unhandled event type")
		d.Result = ResultIgnored
		r.metrics.ObserveWebhook(d.Type, d.Result)
		return d, nil
	}

	fresh, err := r.dedup.Claim(ctx, event.ID)
	if err != nil {
		// Applying twice is safe; skipping an event is not.
		log.Warn().Err(err).Msg("Dedup store unavailable, processing anyway")
		fresh = true
	}
	if !fresh {
		log.Info().Msg("Duplicate delivery skipped")
		d.Result = ResultDuplicate
		r.metrics.ObserveWebhook(d.Type, d.Result)
		return d, nil
	}

	res, err := r.apply(ctx, &event)
	if err != nil {
		if releaseErr := r.dedup.Release(ctx, event.ID); releaseErr != nil {
			log.Warn().Err(releaseErr).Msg("Failed to release delivery id")
		}
		r.metrics.ObserveWebhook(d.Type, ResultFailed)
		return d, err
	}

	d.Result = ResultApplied
	d.Event = &res
	r.metrics.ObserveWebhook(d.Type, d.Result)
	return d, nil
}

func (r *Receiver) apply(ctx context.Context, event *stripe.Event) (billing.EventResult, error) {
	if event.Data == nil {
		return billing.EventResult{}, ErrMalformedEvent
	}
	if string(event.Type) == EventCheckoutCompleted {
		return r.applyCheckout(ctx, event)
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return billing.EventResult{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	ev, err := r.toSubscriptionEvent(ctx, payments.FromStripe(&sub), event.Created)
	if err != nil {
		return billing.EventResult{}, err
	}
	return r.applier.ApplySubscriptionEvent(ctx, ev)
}

// applyCheckout links the customer created by checkout to the team named in
// the session's client reference, then applies the new subscription so the
// team does not depend on the order Stripe delivers the two events in.
func (r *Receiver) applyCheckout(ctx context.Context, event *stripe.Event) (billing.EventResult, error) {
	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return billing.EventResult{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if sess.ClientReferenceID == "" || sess.Customer == nil {
		r.log.Info().Str("session_id", sess.ID).Msg("Checkout session not started by a team, ignoring")
		return billing.EventResult{Kind: outcome.NotFound}, nil
	}

	res, err := r.applier.LinkCustomer(ctx, sess.ClientReferenceID, sess.Customer.ID)
	if err != nil || !res.Kind.OK() || sess.Subscription == nil {
		return res, err
	}

	sub, err := r.processor.GetSubscription(ctx, sess.Subscription.ID)
	if err != nil {
		return billing.EventResult{}, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	ev, err := r.toSubscriptionEvent(ctx, sub, event.Created)
	if err != nil {
		return billing.EventResult{}, err
	}
	return r.applier.ApplySubscriptionEvent(ctx, ev)
}

func (r *Receiver) toSubscriptionEvent(ctx context.Context, sub *payments.Subscription, occurredAt int64) (billing.SubscriptionEvent, error) {
	ev := billing.SubscriptionEvent{
		SubscriptionID:    sub.ID,
		CustomerID:        sub.CustomerID,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		OccurredAt:        occurredAt,
	}
	if ev.CustomerID == "" {
		return ev, fmt.Errorf("%w: subscription %s has no customer", ErrMalformedEvent, sub.ID)
	}

	item, err := sub.BillableItem()
	if err != nil {
		return ev, nil
	}
	ev.Quantity = item.Quantity
	ev.ProductID = item.ProductID
	ev.PlanName = item.ProductName

	// Webhook payloads carry the product id only.
	if ev.PlanName == "" && ev.ProductID != "" && models.SubscriptionStatus(ev.Status).Billable() {
		name, err := r.processor.ProductName(ctx, ev.ProductID)
		switch {
		case errors.Is(err, payments.ErrNotFound):
			// A deleted product will never resolve; keep the rest of the state.
			r.log.Warn().Str("product_id", ev.ProductID).Str("subscription_id", sub.ID).
				Msg("Product not found, applying subscription without plan name")
		case err != nil:
			return ev, fmt.Errorf("%w: %v", ErrUpstream, err)
		default:
			ev.PlanName = name
		}
	}
	return ev, nil
}
