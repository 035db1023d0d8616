package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/billing"
	"github.com/foyerhq/foyer/internal/identity"
	"github.com/foyerhq/foyer/internal/profile"
	"github.com/foyerhq/foyer/internal/store"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config   *Config
	Registry *store.Registry
	Identity *identity.Handlers
	Profile  *profile.Handlers
	Billing  *billing.Handlers
	Webhook  *billing.WebhookHandler
	Version  string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	sessionAuth := deps.Identity.RequireSession

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("GET /healthz", handleHealthz)
	mux.HandleFunc("GET /readyz", handleReadyz(deps.Registry))
	mux.HandleFunc("GET /version", handleVersion(deps.Version))
	mux.Handle("GET /metrics", promhttp.Handler())

	// Credential endpoints get a tight per-IP limit; the webhook a looser one
	// sized for provider retry bursts.
	authLimiter := NewRateLimiter(10, time.Minute)
	webhookLimiter := NewRateLimiter(120, time.Minute)

	mux.Handle("POST /register", authLimiter.Middleware(http.HandlerFunc(deps.Identity.HandleRegister)))
	mux.Handle("POST /login", authLimiter.Middleware(http.HandlerFunc(deps.Identity.HandleLogin)))
	mux.HandleFunc("POST /logout", deps.Identity.HandleLogout)
	mux.HandleFunc("GET /confirm-email", deps.Identity.HandleConfirmEmail)
	mux.Handle("POST /resend-verification", authLimiter.Middleware(http.HandlerFunc(deps.Identity.HandleResendVerification)))

	mux.Handle("GET /account", sessionAuth(http.HandlerFunc(deps.Identity.HandleCurrentAccount)))
	mux.Handle("POST /account/delete", sessionAuth(http.HandlerFunc(deps.Identity.HandleDeleteAccount)))

	mux.HandleFunc("GET /profiles/{username}", deps.Profile.HandleGetProfile)
	mux.Handle("PATCH /profile", sessionAuth(http.HandlerFunc(deps.Profile.HandleUpdateProfile)))
	mux.Handle("POST /profile/image", sessionAuth(http.HandlerFunc(deps.Profile.HandleUploadImage)))
	mux.Handle("DELETE /profile/image", sessionAuth(http.HandlerFunc(deps.Profile.HandleDeleteImage)))
	mux.HandleFunc("GET /profile-images/{name}", deps.Profile.ServeImage)

	mux.HandleFunc("GET /plans", deps.Billing.HandleListPlans)
	mux.HandleFunc("GET /billing/success", deps.Billing.HandleCheckoutSuccess)
	mux.HandleFunc("GET /billing/cancelled", deps.Billing.HandleCheckoutCancelled)
	mux.Handle("GET /billing/subscription", sessionAuth(http.HandlerFunc(deps.Billing.HandleSubscriptionDetail)))
	mux.Handle("POST /billing/checkout/{plan_id}", sessionAuth(http.HandlerFunc(deps.Billing.HandleStartCheckout)))
	mux.Handle("POST /billing/cancel", sessionAuth(http.HandlerFunc(deps.Billing.HandleCancel)))
	mux.Handle("POST /billing/cancel-now", sessionAuth(http.HandlerFunc(deps.Billing.HandleCancelNow)))
	mux.Handle("POST /billing/reactivate", sessionAuth(http.HandlerFunc(deps.Billing.HandleReactivate)))

	// Stripe webhook (signature-authenticated; exempt from session auth)
	mux.Handle("POST /webhooks/stripe", webhookLimiter.Middleware(deps.Webhook))
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func handleReadyz(reg *store.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := reg.Ping(); err != nil {
			log.Error().Err(err).Msg("Readiness check failed")
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "unavailable"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
	}
}

func handleVersion(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"version": version})
	}
}
