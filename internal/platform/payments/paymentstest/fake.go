// Package paymentstest provides an in-memory payment processor for tests.
package paymentstest

import (
	"context"
	"fmt"
	"sync"

	"seatkeeper/internal/platform/payments"
)

// Processor keeps subscriptions in memory. Setting Err makes every call fail
// with it; FailTimes makes only the next n calls fail.
type Processor struct {
	mu            sync.Mutex
	Subscriptions map[string]*payments.Subscription
	Products      map[string]string
	Err           error
	FailTimes     int
	Calls         int
	Updates       []Update
	Checkouts     []payments.CheckoutRequest
	Portals       []string
}

type Update struct {
	SubscriptionID string
	ItemID         string
	Quantity       int64
}

func New() *Processor {
	return &Processor{
		Subscriptions: make(map[string]*payments.Subscription),
		Products:      make(map[string]string),
	}
}

// AddSubscription registers a one-item subscription.
func (p *Processor) AddSubscription(id, customerID, productID string, quantity, periodEnd int64) *payments.Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub := &payments.Subscription{
		ID:               id,
		CustomerID:       customerID,
		Status:           "active",
		CurrentPeriodEnd: periodEnd,
		Items: []payments.SubscriptionItem{
			{ID: "si_" + id, Quantity: quantity, ProductID: productID, ProductName: p.Products[productID]},
		},
	}
	p.Subscriptions[id] = sub
	return sub
}

func (p *Processor) fail() error {
	p.Calls++
	if p.Err != nil {
		return p.Err
	}
	if p.FailTimes > 0 {
		p.FailTimes--
		return fmt.Errorf("processor unavailable")
	}
	return nil
}

func (p *Processor) GetSubscription(ctx context.Context, subscriptionID string) (*payments.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(); err != nil {
		return nil, err
	}
	sub, ok := p.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionID, payments.ErrNotFound)
	}
	copied := *sub
	copied.Items = append([]payments.SubscriptionItem(nil), sub.Items...)
	return &copied, nil
}

func (p *Processor) UpdateItemQuantity(ctx context.Context, subscriptionID, itemID string, quantity int64) (*payments.Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(); err != nil {
		return nil, err
	}
	sub, ok := p.Subscriptions[subscriptionID]
	if !ok {
		return nil, fmt.Errorf("subscription %s: %w", subscriptionID, payments.ErrNotFound)
	}
	for i := range sub.Items {
		if sub.Items[i].ID == itemID {
			sub.Items[i].Quantity = quantity
			p.Updates = append(p.Updates, Update{SubscriptionID: subscriptionID, ItemID: itemID, Quantity: quantity})
			copied := *sub
			return &copied, nil
		}
	}
	return nil, fmt.Errorf("item %s: %w", itemID, payments.ErrRejected)
}

func (p *Processor) ProductName(ctx context.Context, productID string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(); err != nil {
		return "", err
	}
	name, ok := p.Products[productID]
	if !ok {
		return "", fmt.Errorf("product %s: %w", productID, payments.ErrNotFound)
	}
	return name, nil
}

func (p *Processor) CreateCheckoutSession(ctx context.Context, req payments.CheckoutRequest) (*payments.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(); err != nil {
		return nil, err
	}
	p.Checkouts = append(p.Checkouts, req)
	id := fmt.Sprintf("cs_test_%d", len(p.Checkouts))
	return &payments.Session{ID: id, URL: "https://checkout.stripe.test/" + id}, nil
}

func (p *Processor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (*payments.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.fail(); err != nil {
		return nil, err
	}
	p.Portals = append(p.Portals, customerID)
	id := fmt.Sprintf("bps_test_%d", len(p.Portals))
	return &payments.Session{ID: id, URL: "https://billing.stripe.test/" + id}, nil
}

// Quantity returns the current quantity of the subscription's first item.
func (p *Processor) Quantity(subscriptionID string) int64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	sub, ok := p.Subscriptions[subscriptionID]
	if !ok || len(sub.Items) == 0 {
		return 0
	}
	return sub.Items[0].Quantity
}
