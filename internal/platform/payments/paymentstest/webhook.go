package paymentstest

import (
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// SignatureHeader returns the Stripe-Signature header Stripe would send with
// payload at time ts.
func SignatureHeader(secret string, payload []byte, ts time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: ts,
	}).Header
}
