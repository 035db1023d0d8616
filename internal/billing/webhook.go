package billing

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/foyerhq/foyer/internal/webmetrics"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// WebhookHandler handles incoming billing provider webhook events.
// Signature verification is the authentication mechanism for this endpoint;
// it is deliberately exempt from session auth and CSRF protection since the
// caller is a server, not a browser.
type WebhookHandler struct {
	secret     string
	reconciler *Reconciler
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates the webhook HTTP handler.
func NewWebhookHandler(secret string, reconciler *Reconciler) *WebhookHandler {
	return &WebhookHandler{
		secret:     secret,
		reconciler: reconciler,
	}
}

// ServeHTTP verifies the provider signature and dispatches the event. The
// handler only ever answers 500 (secret not configured or persistence
// failed), 400 (bad signature or malformed payload) or 200 (accepted,
// including no-op cases). Method filtering is left to the router's POST-only
// pattern; served directly, a non-POST request fails signature validation.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	eventType := "unknown"
	status := http.StatusOK
	defer func() {
		webmetrics.WebhookRequestsTotal.WithLabelValues(eventType, strconv.Itoa(status)).Inc()
		webmetrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	if strings.TrimSpace(h.secret) == "" {
		// Configuration error, checked before any parsing.
		status = http.StatusInternalServerError
		writeJSON(w, status, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "failed to read request body"})
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid signature"})
		return
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		status = http.StatusBadRequest
		writeJSON(w, status, webhookErrorResponse{Error: "invalid signature"})
		return
	}
	eventType = string(event.Type)

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		ev, err := DecodeSubscriptionEvent(&event)
		if err != nil {
			log.Warn().Err(err).
				Str("event_id", event.ID).
				Str("type", string(event.Type)).
				Msg("Webhook payload failed shape validation")
			status = http.StatusBadRequest
			writeJSON(w, status, webhookErrorResponse{Error: "malformed subscription payload"})
			return
		}
		if _, err := h.reconciler.ApplyEvent(ev); err != nil {
			log.Error().Err(err).
				Str("event_id", event.ID).
				Str("type", string(event.Type)).
				Msg("Webhook processing failed")
			status = http.StatusInternalServerError
			writeJSON(w, status, webhookErrorResponse{Error: "processing failed"})
			return
		}

	default:
		// Explicit no-op policy for everything else; still acknowledged.
		log.Info().
			Str("type", string(event.Type)).
			Str("name", EventDisplayName(string(event.Type))).
			Str("event_id", event.ID).
			Msg("Webhook ignored (unhandled type)")
	}

	status = http.StatusOK
	writeJSON(w, status, webhookReceivedResponse{Received: true})
}

// DecodeSubscriptionEvent extracts the typed subscription payload from a
// verified provider event.
func DecodeSubscriptionEvent(event *stripelib.Event) (SubscriptionEvent, error) {
	var ev SubscriptionEvent
	if err := json.Unmarshal(event.Data.Raw, &ev); err != nil {
		return SubscriptionEvent{}, err
	}
	if err := ev.Validate(); err != nil {
		return SubscriptionEvent{}, err
	}
	ev.Type = string(event.Type)
	return ev, nil
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billing: encode webhook response")
	}
}
