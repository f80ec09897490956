// Package payments talks to the subscription billing processor.
package payments

import (
	"context"
	"errors"

	"seatkeeper/internal/platform/config"
)

var (
	ErrNotFound = errors.New("not found in payment processor")
	// ErrRejected marks a request the processor refused as invalid; retrying
	// it cannot succeed.
	ErrRejected = errors.New("rejected by payment processor")
	ErrNoItems  = errors.New("subscription has no billable item")
)

type SubscriptionItem struct {
	ID          string
	Quantity    int64
	ProductID   string
	ProductName string
}

type Subscription struct {
	ID                string
	CustomerID        string
	Status            string
	CancelAtPeriodEnd bool
	CurrentPeriodEnd  int64
	Items             []SubscriptionItem
}

// BillableItem returns the subscription's single per-seat item.
func (s *Subscription) BillableItem() (*SubscriptionItem, error) {
	if len(s.Items) == 0 {
		return nil, ErrNoItems
	}
	return &s.Items[0], nil
}

// CheckoutRequest describes a hosted subscription checkout for one price.
// CustomerID may be empty for a team that has never paid. IdempotencyKey
// stays the same across retries of one request.
type CheckoutRequest struct {
	CustomerID        string
	PriceID           string
	Quantity          int64
	TrialDays         int64
	ClientReferenceID string
	SuccessURL        string
	CancelURL         string
	IdempotencyKey    string
}

type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type Processor interface {
	GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error)
	UpdateItemQuantity(ctx context.Context, subscriptionID, itemID string, quantity int64) (*Subscription, error)
	ProductName(ctx context.Context, productID string) (string, error)
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	CreatePortalSession(ctx context.Context, customerID, returnURL string) (*Session, error)
}

// New returns the Stripe processor wrapped with retries and per-call
// timeouts as configured.
func New(cfg config.StripeConfig) Processor {
	return NewStableProcessor(NewStripeProcessor(cfg.SecretKey, nil), cfg.Timeout, cfg.TotalTimeout, cfg.MaxRetries)
}
