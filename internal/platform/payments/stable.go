package payments

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

type stableProcessor struct {
	underlying   Processor
	callTimeout  time.Duration
	totalTimeout time.Duration
	maxRetries   int
}

// NewStableProcessor retries transient processor failures with exponential
// backoff. Each attempt gets its own callTimeout; the whole call gives up
// after totalTimeout or maxRetries retries, whichever comes first.
func NewStableProcessor(underlying Processor, callTimeout, totalTimeout time.Duration, maxRetries int) Processor {
	return &stableProcessor{
		underlying:   underlying,
		callTimeout:  callTimeout,
		totalTimeout: totalTimeout,
		maxRetries:   maxRetries,
	}
}

func (p *stableProcessor) retry(ctx context.Context, f func(ctx context.Context) error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = p.totalTimeout

	bmr := backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.maxRetries)), ctx)
	return backoff.Retry(func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		err := f(callCtx)
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrRejected) || errors.Is(err, ErrNoItems) {
			return backoff.Permanent(err)
		}
		return err
	}, bmr)
}

func (p *stableProcessor) GetSubscription(ctx context.Context, subscriptionID string) (retSub *Subscription, err error) {
	err = p.retry(ctx, func(ctx context.Context) error {
		var callErr error
		retSub, callErr = p.underlying.GetSubscription(ctx, subscriptionID)
		return callErr
	})
	return
}

func (p *stableProcessor) UpdateItemQuantity(ctx context.Context, subscriptionID, itemID string, quantity int64) (retSub *Subscription, err error) {
	err = p.retry(ctx, func(ctx context.Context) error {
		var callErr error
		retSub, callErr = p.underlying.UpdateItemQuantity(ctx, subscriptionID, itemID, quantity)
		return callErr
	})
	return
}

func (p *stableProcessor) ProductName(ctx context.Context, productID string) (name string, err error) {
	err = p.retry(ctx, func(ctx context.Context) error {
		var callErr error
		name, callErr = p.underlying.ProductName(ctx, productID)
		return callErr
	})
	return
}

func (p *stableProcessor) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (sess *Session, err error) {
	err = p.retry(ctx, func(ctx context.Context) error {
		var callErr error
		sess, callErr = p.underlying.CreateCheckoutSession(ctx, req)
		return callErr
	})
	return
}

func (p *stableProcessor) CreatePortalSession(ctx context.Context, customerID, returnURL string) (sess *Session, err error) {
	err = p.retry(ctx, func(ctx context.Context) error {
		var callErr error
		sess, callErr = p.underlying.CreatePortalSession(ctx, customerID, returnURL)
		return callErr
	})
	return
}
