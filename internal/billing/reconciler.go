package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"

	"github.com/foyerhq/foyer/internal/store"
	"github.com/foyerhq/foyer/internal/webmetrics"
)

// ErrNoSubscription is returned by the user-action paths when the account has
// no subscription reference on file. No provider call is made in that case.
var ErrNoSubscription = errors.New("no subscription on file")

// Reconciler keeps an account's subscription reference and status consistent
// with the billing provider's view. It has two entry points: webhook events
// (ApplyEvent, driven by WebhookHandler) and user-initiated actions
// (Cancel/CancelNow/Reactivate). The provider API key is injected here rather
// than configured as process-global state.
type Reconciler struct {
	registry *store.Registry
	baseURL  string

	// Provider calls are function fields so tests can stub them out and count
	// invocations without network access.
	updateSubscription func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	cancelSubscription func(id string, params *stripelib.SubscriptionCancelParams) (*stripelib.Subscription, error)
	getSubscription    func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error)
	getCustomer        func(id string, params *stripelib.CustomerParams) (*stripelib.Customer, error)
	newCustomer        func(params *stripelib.CustomerParams) (*stripelib.Customer, error)
	previewInvoice     func(params *stripelib.InvoiceCreatePreviewParams) (*stripelib.Invoice, error)
	getProduct         func(id string, params *stripelib.ProductParams) (*stripelib.Product, error)
	newCheckoutSession func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error)
}

// NewReconciler creates a Reconciler backed by the real provider API.
func NewReconciler(reg *store.Registry, apiKey, baseURL string) *Reconciler {
	api := &client.API{}
	api.Init(strings.TrimSpace(apiKey), nil)

	return &Reconciler{
		registry:           reg,
		baseURL:            strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		updateSubscription: api.Subscriptions.Update,
		cancelSubscription: api.Subscriptions.Cancel,
		getSubscription:    api.Subscriptions.Get,
		getCustomer:        api.Customers.Get,
		newCustomer:        api.Customers.New,
		previewInvoice:     api.Invoices.CreatePreview,
		getProduct:         api.Products.Get,
		newCheckoutSession: api.CheckoutSessions.New,
	}
}

// SubscriptionEvent is the typed shape of a provider subscription webhook
// payload. Required fields are validated at the parse boundary instead of
// being plucked out of loosely-typed maps downstream.
type SubscriptionEvent struct {
	ID                string `json:"id"`
	Customer          string `json:"customer"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`

	// Type is the enclosing provider event type, filled in by
	// DecodeSubscriptionEvent; it is not part of the subscription object.
	Type string `json:"-"`
}

// Validate reports whether the event carries the fields reconciliation needs.
func (e *SubscriptionEvent) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("subscription event missing id")
	}
	if strings.TrimSpace(e.Customer) == "" {
		return fmt.Errorf("subscription event missing customer")
	}
	return nil
}

// ApplyEvent applies a subscription created/updated/deleted event to the
// account record matching the event's customer reference. The subscription
// reference and status are copied verbatim (no local enum translation), so
// replaying the same event is idempotent (last-write-wins). A customer with no
// matching record is accepted as a no-op: webhook delivery order relative to
// local record creation is not guaranteed. Customer references that fail ID
// validation are likewise ignored rather than used as lookup keys.
func (rc *Reconciler) ApplyEvent(ev SubscriptionEvent) (applied bool, err error) {
	if !IsSafeStripeID(ev.Customer) {
		log.Warn().
			Str("customer_id", ev.Customer).
			Str("subscription_id", ev.ID).
			Msg("Webhook customer reference failed ID validation; ignored")
		return false, nil
	}

	acct, err := rc.registry.GetAccountByStripeCustomerID(ev.Customer)
	if err != nil {
		return false, fmt.Errorf("lookup account by customer: %w", err)
	}
	if acct == nil {
		log.Info().
			Str("customer_id", ev.Customer).
			Str("subscription_id", ev.ID).
			Msg("Webhook for unknown customer ignored")
		return false, nil
	}

	// A local "canceled" status means a cancellation was already pending,
	// which lets the change label distinguish reactivations.
	pendingCancel := acct.SubscriptionStatus == "canceled"

	if err := rc.registry.SetSubscription(acct.ID, ev.ID, ev.Status); err != nil {
		return false, fmt.Errorf("persist subscription state: %w", err)
	}
	log.Info().
		Str("account_id", acct.ID).
		Str("subscription_id", ev.ID).
		Str("status", ev.Status).
		Str("change", UpdateDisplayName(ev.Type, ev.CancelAtPeriodEnd, pendingCancel)).
		Msg("Subscription state reconciled from webhook")
	return true, nil
}

// Cancel schedules cancellation at period end and marks the local status
// canceled. The provider's subscription stays nominally active until the
// period ends; local status reflects the scheduled outcome.
func (rc *Reconciler) Cancel(ctx context.Context, accountID string) error {
	return rc.mutate(ctx, accountID, "cancel", "canceled", func(ctx context.Context, subID string) error {
		params := &stripelib.SubscriptionParams{
			CancelAtPeriodEnd: stripelib.Bool(true),
		}
		params.Context = ctx
		_, err := rc.updateSubscription(subID, params)
		return err
	})
}

// CancelNow cancels the provider subscription immediately and marks the local
// status canceled.
func (rc *Reconciler) CancelNow(ctx context.Context, accountID string) error {
	return rc.mutate(ctx, accountID, "cancel_now", "canceled", func(ctx context.Context, subID string) error {
		params := &stripelib.SubscriptionCancelParams{}
		params.Context = ctx
		_, err := rc.cancelSubscription(subID, params)
		return err
	})
}

// Reactivate clears a pending cancellation and marks the local status active.
func (rc *Reconciler) Reactivate(ctx context.Context, accountID string) error {
	return rc.mutate(ctx, accountID, "reactivate", "active", func(ctx context.Context, subID string) error {
		params := &stripelib.SubscriptionParams{
			CancelAtPeriodEnd: stripelib.Bool(false),
		}
		params.Context = ctx
		_, err := rc.updateSubscription(subID, params)
		return err
	})
}

// mutate runs one user-initiated provider mutation. The local status write is
// the last action and only happens after the provider call succeeds; on any
// provider failure no state changes.
func (rc *Reconciler) mutate(ctx context.Context, accountID, action, resultStatus string, call func(ctx context.Context, subID string) error) error {
	acct, err := rc.registry.GetAccount(accountID)
	if err != nil {
		return fmt.Errorf("lookup account: %w", err)
	}
	if acct == nil {
		return fmt.Errorf("account %q not found", accountID)
	}
	if strings.TrimSpace(acct.StripeSubscriptionID) == "" {
		return ErrNoSubscription
	}

	if err := call(ctx, acct.StripeSubscriptionID); err != nil {
		webmetrics.ProviderCallsTotal.WithLabelValues(action, "error").Inc()
		log.Error().Err(err).
			Str("account_id", acct.ID).
			Str("subscription_id", acct.StripeSubscriptionID).
			Str("action", action).
			Msg("Provider subscription mutation failed")
		return err
	}
	webmetrics.ProviderCallsTotal.WithLabelValues(action, "ok").Inc()

	if err := rc.registry.SetSubscription(acct.ID, acct.StripeSubscriptionID, resultStatus); err != nil {
		return fmt.Errorf("persist subscription state: %w", err)
	}
	return nil
}

// UpcomingInvoice is a best-effort projection of the next charge.
type UpcomingInvoice struct {
	Amount  string `json:"amount"`
	DueDate string `json:"due_date,omitempty"`
}

// SubscriptionDetail is the structured context handed to the presentation
// layer: strings, timestamps and amounts only.
type SubscriptionDetail struct {
	Status            string           `json:"status"`
	CancelAtPeriodEnd bool             `json:"cancel_at_period_end"`
	PlanName          string           `json:"plan_name,omitempty"`
	Price             string           `json:"price,omitempty"`
	Interval          string           `json:"interval,omitempty"`
	CurrentPeriodEnd  string           `json:"current_period_end,omitempty"`
	CustomerEmail     string           `json:"customer_email,omitempty"`
	Upcoming          *UpcomingInvoice `json:"upcoming,omitempty"`
}

// Detail fetches subscription and customer detail from the provider. The
// upcoming-invoice projection is best-effort: any failure there is swallowed
// and reported as "no upcoming invoice". Failure of the primary fetch is
// surfaced and local state is left untouched.
func (rc *Reconciler) Detail(ctx context.Context, accountID string) (*SubscriptionDetail, error) {
	acct, err := rc.registry.GetAccount(accountID)
	if err != nil {
		return nil, fmt.Errorf("lookup account: %w", err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account %q not found", accountID)
	}
	if strings.TrimSpace(acct.StripeSubscriptionID) == "" {
		return nil, ErrNoSubscription
	}

	subParams := &stripelib.SubscriptionParams{}
	subParams.Context = ctx
	sub, err := rc.getSubscription(acct.StripeSubscriptionID, subParams)
	if err != nil {
		return nil, err
	}

	detail := &SubscriptionDetail{
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}

	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.CurrentPeriodEnd > 0 {
			detail.CurrentPeriodEnd = FormatUnixDate(item.CurrentPeriodEnd)
		}
		if item.Price != nil {
			detail.Price = FormatAmount(item.Price.UnitAmount, string(item.Price.Currency))
			if item.Price.Recurring != nil {
				detail.Interval = string(item.Price.Recurring.Interval)
			}
			if item.Price.Product != nil && item.Price.Product.ID != "" {
				prodParams := &stripelib.ProductParams{}
				prodParams.Context = ctx
				if prod, err := rc.getProduct(item.Price.Product.ID, prodParams); err == nil && prod != nil {
					detail.PlanName = prod.Name
				}
			}
		}
	}

	custParams := &stripelib.CustomerParams{}
	custParams.Context = ctx
	cust, err := rc.getCustomer(acct.StripeCustomerID, custParams)
	if err != nil {
		return nil, err
	}
	detail.CustomerEmail = cust.Email

	previewParams := &stripelib.InvoiceCreatePreviewParams{
		Customer:     stripelib.String(acct.StripeCustomerID),
		Subscription: stripelib.String(acct.StripeSubscriptionID),
	}
	previewParams.Context = ctx
	if inv, err := rc.previewInvoice(previewParams); err == nil && inv != nil {
		upcoming := &UpcomingInvoice{
			Amount: FormatAmount(inv.AmountDue, string(inv.Currency)),
		}
		if inv.PeriodEnd > 0 {
			upcoming.DueDate = FormatUnixDate(inv.PeriodEnd)
		}
		detail.Upcoming = upcoming
	} else if err != nil {
		log.Debug().Err(err).
			Str("account_id", acct.ID).
			Msg("Upcoming invoice preview unavailable")
	}

	return detail, nil
}

// StartCheckout ensures the account has a provider customer and creates a
// subscription-mode checkout session for the plan. The customer reference is
// persisted before the session is created so a webhook racing the redirect
// can already resolve the account. Returns the hosted checkout URL.
func (rc *Reconciler) StartCheckout(ctx context.Context, accountID, planID string) (string, error) {
	acct, err := rc.registry.GetAccount(accountID)
	if err != nil {
		return "", fmt.Errorf("lookup account: %w", err)
	}
	if acct == nil {
		return "", fmt.Errorf("account %q not found", accountID)
	}

	plan, err := rc.registry.GetPlan(planID)
	if err != nil {
		return "", fmt.Errorf("lookup plan: %w", err)
	}
	if plan == nil || strings.TrimSpace(plan.StripePriceID) == "" {
		return "", fmt.Errorf("plan %q not available", planID)
	}

	customerID := acct.StripeCustomerID
	if customerID == "" {
		custParams := &stripelib.CustomerParams{
			Email: stripelib.String(acct.Email),
			Metadata: map[string]string{
				"account_id": acct.ID,
			},
		}
		custParams.Context = ctx
		cust, err := rc.newCustomer(custParams)
		if err != nil {
			webmetrics.ProviderCallsTotal.WithLabelValues("customer_create", "error").Inc()
			return "", err
		}
		webmetrics.ProviderCallsTotal.WithLabelValues("customer_create", "ok").Inc()
		customerID = cust.ID
		if err := rc.registry.SetStripeCustomer(acct.ID, customerID); err != nil {
			return "", fmt.Errorf("persist customer reference: %w", err)
		}
	}

	sessionParams := &stripelib.CheckoutSessionParams{
		Mode:       stripelib.String(string(stripelib.CheckoutSessionModeSubscription)),
		Customer:   stripelib.String(customerID),
		SuccessURL: stripelib.String(rc.baseURL + "/billing/success"),
		CancelURL:  stripelib.String(rc.baseURL + "/billing/cancelled"),
		LineItems: []*stripelib.CheckoutSessionLineItemParams{
			{
				Price:    stripelib.String(plan.StripePriceID),
				Quantity: stripelib.Int64(1),
			},
		},
		Metadata: map[string]string{
			"account_id": acct.ID,
			"plan_id":    plan.ID,
		},
	}
	sessionParams.Context = ctx
	session, err := rc.newCheckoutSession(sessionParams)
	if err != nil || session == nil || strings.TrimSpace(session.URL) == "" {
		webmetrics.ProviderCallsTotal.WithLabelValues("checkout_session", "error").Inc()
		if err == nil {
			err = fmt.Errorf("checkout session has no URL")
		}
		return "", err
	}
	webmetrics.ProviderCallsTotal.WithLabelValues("checkout_session", "ok").Inc()
	return session.URL, nil
}

// UserMessage maps a reconciliation error to a user-visible message.
// Provider-reported errors surface the provider's detail; anything else gets
// a generic message (full detail is logged server side).
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoSubscription) {
		return "You do not have an active subscription."
	}
	var stripeErr *stripelib.Error
	if errors.As(err, &stripeErr) {
		msg := strings.TrimSpace(stripeErr.Msg)
		if msg == "" {
			msg = string(stripeErr.Code)
		}
		return "The billing provider reported an error: " + msg
	}
	return "Something went wrong talking to the billing provider. Please try again."
}
