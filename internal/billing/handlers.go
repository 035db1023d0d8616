package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/identity"
	"github.com/foyerhq/foyer/internal/store"
)

// Handlers exposes the subscription endpoints for logged-in accounts. The
// webhook endpoint lives in WebhookHandler; everything here runs behind
// session auth.
type Handlers struct {
	registry   *store.Registry
	reconciler *Reconciler
}

// NewHandlers wires the billing endpoints.
func NewHandlers(reg *store.Registry, rc *Reconciler) *Handlers {
	return &Handlers{registry: reg, reconciler: rc}
}

type subscriptionActionResponse struct {
	Status  string `json:"subscription_status"`
	Message string `json:"message"`
}

type billingErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type checkoutResponse struct {
	URL string `json:"url"`
}

type planView struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

type plansResponse struct {
	Plans []planView `json:"plans"`
}

type checkoutReturnResponse struct {
	Checkout string `json:"checkout"`
	Message  string `json:"message"`
}

// HandleListPlans returns the purchasable plans. Public: clients need plan
// IDs before they can start a checkout.
func (h *Handlers) HandleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := h.registry.ListPlans()
	if err != nil {
		log.Error().Err(err).Msg("Failed to list plans")
		writeBillingError(w, http.StatusInternalServerError, "internal_error", "Could not load plans")
		return
	}
	resp := plansResponse{Plans: make([]planView, 0, len(plans))}
	for _, p := range plans {
		resp.Plans = append(resp.Plans, planView{ID: p.ID, Name: p.Name, Description: p.Description})
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCheckoutSuccess is the return URL the provider sends the browser to
// after payment. The subscription itself arrives over the webhook, so this
// only acknowledges the redirect.
func (h *Handlers) HandleCheckoutSuccess(w http.ResponseWriter, r *http.Request) {
	if wantsBrowserRedirect(r) {
		http.Redirect(w, r, "/account", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, checkoutReturnResponse{
		Checkout: "success",
		Message:  "Checkout complete. Your subscription will activate shortly.",
	})
}

// HandleCheckoutCancelled is the return URL for a checkout the user backed
// out of.
func (h *Handlers) HandleCheckoutCancelled(w http.ResponseWriter, r *http.Request) {
	if wantsBrowserRedirect(r) {
		http.Redirect(w, r, "/plans", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, checkoutReturnResponse{
		Checkout: "cancelled",
		Message:  "Checkout was cancelled. No charge was made.",
	})
}

// HandleSubscriptionDetail returns the account's live subscription state,
// including the upcoming invoice preview when available.
func (h *Handlers) HandleSubscriptionDetail(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFromContext(r.Context())
	if acct == nil {
		writeBillingError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	detail, err := h.reconciler.Detail(r.Context(), acct.ID)
	if err != nil {
		if errors.Is(err, ErrNoSubscription) {
			writeBillingError(w, http.StatusNotFound, "no_subscription", UserMessage(err))
			return
		}
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to load subscription detail")
		writeBillingError(w, http.StatusBadGateway, "provider_error", UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// HandleStartCheckout creates a checkout session for the plan in the URL and
// sends the browser to the provider's payment page.
func (h *Handlers) HandleStartCheckout(w http.ResponseWriter, r *http.Request) {
	acct := identity.AccountFromContext(r.Context())
	if acct == nil {
		writeBillingError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	planID := strings.TrimSpace(r.PathValue("plan_id"))
	if planID == "" {
		writeBillingError(w, http.StatusBadRequest, "missing_plan", "Plan is required")
		return
	}
	plan, err := h.registry.GetPlan(planID)
	if err != nil {
		log.Error().Err(err).Str("planId", planID).Msg("Failed to load plan")
		writeBillingError(w, http.StatusInternalServerError, "internal_error", "Checkout failed")
		return
	}
	if plan == nil {
		writeBillingError(w, http.StatusNotFound, "unknown_plan", "That plan does not exist")
		return
	}

	checkoutURL, err := h.reconciler.StartCheckout(r.Context(), acct.ID, plan.ID)
	if err != nil {
		log.Error().Err(err).Str("accountId", acct.ID).Str("planId", plan.ID).Msg("Failed to start checkout")
		writeBillingError(w, http.StatusBadGateway, "provider_error", UserMessage(err))
		return
	}

	if wantsBrowserRedirect(r) {
		http.Redirect(w, r, checkoutURL, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, checkoutResponse{URL: checkoutURL})
}

// HandleCancel schedules cancellation at the end of the billing period.
func (h *Handlers) HandleCancel(w http.ResponseWriter, r *http.Request) {
	h.subscriptionAction(w, r, "canceled at period end", h.reconciler.Cancel)
}

// HandleCancelNow cancels immediately.
func (h *Handlers) HandleCancelNow(w http.ResponseWriter, r *http.Request) {
	h.subscriptionAction(w, r, "canceled", h.reconciler.CancelNow)
}

// HandleReactivate clears a pending cancellation.
func (h *Handlers) HandleReactivate(w http.ResponseWriter, r *http.Request) {
	h.subscriptionAction(w, r, "reactivated", h.reconciler.Reactivate)
}

func (h *Handlers) subscriptionAction(w http.ResponseWriter, r *http.Request, verb string, action func(ctx context.Context, accountID string) error) {
	acct := identity.AccountFromContext(r.Context())
	if acct == nil {
		writeBillingError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	if err := action(r.Context(), acct.ID); err != nil {
		if errors.Is(err, ErrNoSubscription) {
			writeBillingError(w, http.StatusConflict, "no_subscription", UserMessage(err))
			return
		}
		log.Error().Err(err).Str("accountId", acct.ID).Str("action", verb).Msg("Subscription action failed")
		writeBillingError(w, http.StatusBadGateway, "provider_error", UserMessage(err))
		return
	}

	updated, err := h.registry.GetAccount(acct.ID)
	status := ""
	if err == nil && updated != nil {
		status = updated.SubscriptionStatus
	}

	if wantsBrowserRedirect(r) {
		http.Redirect(w, r, "/billing?message="+verb, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, subscriptionActionResponse{
		Status:  status,
		Message: "Subscription " + verb,
	})
}

func wantsBrowserRedirect(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

func writeBillingError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(billingErrorResponse{Error: code, Message: message})
}
