package api

import (
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/gyaneshwarpardhi/donationledger/internal/event"
	"github.com/gyaneshwarpardhi/donationledger/internal/ledger"
	"github.com/gyaneshwarpardhi/donationledger/internal/metrics"
)

// POST /webhooks/stripe — verify, then drive the envelope to a terminal
// status. Terminal outcomes answer 200 so Stripe stops retrying; processing
// failures answer 5xx so it redelivers.
func (h *Handler) stripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.WebhookSecret == "" {
		writeError(w, http.StatusServiceUnavailable, "webhook secret is not configured")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.MaxBodyBytes)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		h.rejectSignature(w, r, errors.New("missing Stripe-Signature header"))
		return
	}
	ev, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.WebhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.rejectSignature(w, r, err)
		return
	}

	res, err := h.Engine.Process(r.Context(), envelopeFrom(&ev))
	if err != nil {
		if errors.Is(err, ledger.ErrEnvelopeInFlight) {
			writeError(w, http.StatusConflict, "event is being processed; retry later")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to process webhook")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"received": true,
		"outcome":  res.Outcome,
		"event_id": res.EventID,
	})
}

func (h *Handler) rejectSignature(w http.ResponseWriter, r *http.Request, err error) {
	metrics.SignatureFailures.Inc()
	h.logger.Warn("webhook signature rejected", "remote_addr", r.RemoteAddr, "err", err)
	writeError(w, http.StatusBadRequest, "invalid signature")
}

func envelopeFrom(ev *stripe.Event) event.Envelope {
	env := event.Envelope{
		ID:         ev.ID,
		Type:       string(ev.Type),
		Livemode:   ev.Livemode,
		ReceivedAt: time.Now().UTC(),
	}
	if ev.Created > 0 {
		env.CreatedAt = time.Unix(ev.Created, 0).UTC()
	}
	if ev.Data != nil {
		env.Raw = ev.Data.Raw
	}
	return env
}
