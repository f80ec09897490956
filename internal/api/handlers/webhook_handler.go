package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"seatkeeper/internal/engine/webhooks"
	apierrors "seatkeeper/internal/pkg/errors"
)

const maxWebhookBody = 256 << 10

type WebhookHandler struct {
	receiver *webhooks.Receiver
	log      zerolog.Logger
}

func NewWebhookHandler(receiver *webhooks.Receiver, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{receiver: receiver, log: log}
}

// Stripe accepts a Stripe webhook delivery. Any 2xx tells Stripe the
// delivery is done; 5xx makes it redeliver later.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			apierrors.WriteError(w, http.StatusRequestEntityTooLarge, apierrors.ErrCodePayloadTooLarge, "Payload too large", nil)
			return
		}
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, "Failed to read body", nil)
		return
	}

	delivery, err := h.receiver.Handle(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	switch {
	case errors.Is(err, webhooks.ErrInvalidSignature):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidSignature, "Invalid signature", nil)
		return
	case errors.Is(err, webhooks.ErrMalformedEvent):
		apierrors.WriteError(w, http.StatusBadRequest, apierrors.ErrCodeInvalidInput, err.Error(), nil)
		return
	case errors.Is(err, webhooks.ErrUpstream):
		h.log.Error().Err(err).Str("event_id", delivery.EventID).Msg("Webhook blocked on payment processor")
		apierrors.WriteError(w, http.StatusBadGateway, apierrors.ErrCodeBadGateway, "Payment processor unavailable", nil)
		return
	case err != nil:
		h.log.Error().Err(err).Str("event_id", delivery.EventID).Msg("Failed to apply webhook")
		apierrors.WriteError(w, http.StatusInternalServerError, apierrors.ErrCodeInternal, "Failed to apply event", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(delivery)
}
