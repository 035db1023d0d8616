package billing

import (
	"context"
	"errors"
	"testing"

	stripelib "github.com/stripe/stripe-go/v82"

	"github.com/foyerhq/foyer/internal/store"
)

func newTestRegistry(t *testing.T) *store.Registry {
	t.Helper()
	reg, err := store.NewRegistry(t.TempDir())
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func newTestAccount(t *testing.T, reg *store.Registry, customerID, subscriptionID, status string) *store.Account {
	t.Helper()
	acct := &store.Account{
		ID:           store.GenerateAccountID(),
		Email:        "billing@example.com",
		Username:     "billing",
		PasswordHash: "x",
	}
	if err := reg.CreateAccount(acct); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	if customerID != "" {
		if err := reg.SetStripeCustomer(acct.ID, customerID); err != nil {
			t.Fatalf("SetStripeCustomer: %v", err)
		}
	}
	if subscriptionID != "" {
		if err := reg.SetSubscription(acct.ID, subscriptionID, status); err != nil {
			t.Fatalf("SetSubscription: %v", err)
		}
	}
	got, err := reg.GetAccount(acct.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	return got
}

// callCounter tracks which provider stubs were hit.
type callCounter struct {
	update, cancel, get, getCust, newCust, preview, product, checkout int
}

func (c *callCounter) total() int {
	return c.update + c.cancel + c.get + c.getCust + c.newCust + c.preview + c.product + c.checkout
}

func newStubReconciler(reg *store.Registry, calls *callCounter) *Reconciler {
	rc := NewReconciler(reg, "sk_test_stub", "https://foyer.test")
	rc.updateSubscription = func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
		calls.update++
		return &stripelib.Subscription{ID: id}, nil
	}
	rc.cancelSubscription = func(id string, params *stripelib.SubscriptionCancelParams) (*stripelib.Subscription, error) {
		calls.cancel++
		return &stripelib.Subscription{ID: id, Status: stripelib.SubscriptionStatusCanceled}, nil
	}
	rc.getSubscription = func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
		calls.get++
		return &stripelib.Subscription{ID: id, Status: stripelib.SubscriptionStatusActive}, nil
	}
	rc.getCustomer = func(id string, params *stripelib.CustomerParams) (*stripelib.Customer, error) {
		calls.getCust++
		return &stripelib.Customer{ID: id, Email: "billing@example.com"}, nil
	}
	rc.newCustomer = func(params *stripelib.CustomerParams) (*stripelib.Customer, error) {
		calls.newCust++
		return &stripelib.Customer{ID: "cus_new"}, nil
	}
	rc.previewInvoice = func(params *stripelib.InvoiceCreatePreviewParams) (*stripelib.Invoice, error) {
		calls.preview++
		return &stripelib.Invoice{AmountDue: 1999, Currency: stripelib.CurrencyUSD}, nil
	}
	rc.getProduct = func(id string, params *stripelib.ProductParams) (*stripelib.Product, error) {
		calls.product++
		return &stripelib.Product{ID: id, Name: "Foyer Pro"}, nil
	}
	rc.newCheckoutSession = func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
		calls.checkout++
		return &stripelib.CheckoutSession{URL: "https://checkout.test/session"}, nil
	}
	return rc
}

func TestApplyEventPersistsStatusVerbatim(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "", "")
	rc := newStubReconciler(reg, &callCounter{})

	ev := SubscriptionEvent{ID: "sub_123", Customer: "cus_123", Status: "past_due"}
	applied, err := rc.ApplyEvent(ev)
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if !applied {
		t.Fatal("event for known customer was not applied")
	}

	got, err := reg.GetAccount(acct.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.StripeSubscriptionID != "sub_123" || got.SubscriptionStatus != "past_due" {
		t.Errorf("got sub=%q status=%q, want sub_123/past_due", got.StripeSubscriptionID, got.SubscriptionStatus)
	}

	// Replaying the same event converges on the same state.
	if _, err := rc.ApplyEvent(ev); err != nil {
		t.Fatalf("ApplyEvent replay: %v", err)
	}
	again, _ := reg.GetAccount(acct.ID)
	if again.StripeSubscriptionID != got.StripeSubscriptionID || again.SubscriptionStatus != got.SubscriptionStatus {
		t.Error("replay changed state")
	}
}

func TestApplyEventUnknownCustomerIsNoOp(t *testing.T) {
	reg := newTestRegistry(t)
	rc := newStubReconciler(reg, &callCounter{})

	applied, err := rc.ApplyEvent(SubscriptionEvent{ID: "sub_1", Customer: "cus_nobody", Status: "active"})
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if applied {
		t.Error("event for unknown customer reported applied")
	}
}

func TestApplyEventIgnoresMalformedCustomerID(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "sub_1", "active")
	rc := newStubReconciler(reg, &callCounter{})

	// A customer reference that fails ID validation is never used as a
	// lookup key; the event is acknowledged as a no-op.
	applied, err := rc.ApplyEvent(SubscriptionEvent{ID: "sub_1", Customer: "cus_1;drop", Status: "past_due"})
	if err != nil {
		t.Fatalf("ApplyEvent: %v", err)
	}
	if applied {
		t.Error("event with malformed customer reported applied")
	}

	got, err := reg.GetAccount(acct.ID)
	if err != nil {
		t.Fatalf("GetAccount: %v", err)
	}
	if got.SubscriptionStatus != "active" {
		t.Errorf("status = %q, want untouched \"active\"", got.SubscriptionStatus)
	}
}

func TestMutationsRequireSubscription(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "", "")
	calls := &callCounter{}
	rc := newStubReconciler(reg, calls)
	ctx := context.Background()

	for _, action := range []func(context.Context, string) error{rc.Cancel, rc.CancelNow, rc.Reactivate} {
		if err := action(ctx, acct.ID); !errors.Is(err, ErrNoSubscription) {
			t.Errorf("err = %v, want ErrNoSubscription", err)
		}
	}
	if calls.total() != 0 {
		t.Errorf("provider called %d times for accounts without a subscription", calls.total())
	}
}

func TestCancelMarksStatusCanceled(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "sub_123", "active")
	calls := &callCounter{}
	rc := newStubReconciler(reg, calls)

	var gotParams *stripelib.SubscriptionParams
	rc.updateSubscription = func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
		calls.update++
		gotParams = params
		return &stripelib.Subscription{ID: id}, nil
	}

	if err := rc.Cancel(context.Background(), acct.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if calls.update != 1 {
		t.Errorf("updateSubscription called %d times", calls.update)
	}
	if gotParams == nil || gotParams.CancelAtPeriodEnd == nil || !*gotParams.CancelAtPeriodEnd {
		t.Error("Cancel did not set CancelAtPeriodEnd")
	}

	got, _ := reg.GetAccount(acct.ID)
	if got.SubscriptionStatus != "canceled" {
		t.Errorf("status = %q, want canceled", got.SubscriptionStatus)
	}
	if got.StripeSubscriptionID != "sub_123" {
		t.Errorf("subscription reference changed to %q", got.StripeSubscriptionID)
	}
}

func TestCancelNowUsesCancelEndpoint(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "sub_123", "active")
	calls := &callCounter{}
	rc := newStubReconciler(reg, calls)

	if err := rc.CancelNow(context.Background(), acct.ID); err != nil {
		t.Fatalf("CancelNow: %v", err)
	}
	if calls.cancel != 1 || calls.update != 0 {
		t.Errorf("calls = cancel:%d update:%d, want 1/0", calls.cancel, calls.update)
	}
	got, _ := reg.GetAccount(acct.ID)
	if got.SubscriptionStatus != "canceled" {
		t.Errorf("status = %q, want canceled", got.SubscriptionStatus)
	}
}

func TestReactivateMarksStatusActive(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "sub_123", "canceled")
	calls := &callCounter{}
	rc := newStubReconciler(reg, calls)

	var gotParams *stripelib.SubscriptionParams
	rc.updateSubscription = func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
		calls.update++
		gotParams = params
		return &stripelib.Subscription{ID: id}, nil
	}

	if err := rc.Reactivate(context.Background(), acct.ID); err != nil {
		t.Fatalf("Reactivate: %v", err)
	}
	if gotParams == nil || gotParams.CancelAtPeriodEnd == nil || *gotParams.CancelAtPeriodEnd {
		t.Error("Reactivate did not clear CancelAtPeriodEnd")
	}
	got, _ := reg.GetAccount(acct.ID)
	if got.SubscriptionStatus != "active" {
		t.Errorf("status = %q, want active", got.SubscriptionStatus)
	}
}

func TestProviderFailureLeavesStateUntouched(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "sub_123", "active")
	rc := newStubReconciler(reg, &callCounter{})

	providerErr := &stripelib.Error{Msg: "subscription is in an unexpected state"}
	rc.updateSubscription = func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
		return nil, providerErr
	}

	err := rc.Cancel(context.Background(), acct.ID)
	if err == nil {
		t.Fatal("Cancel succeeded despite provider failure")
	}
	got, _ := reg.GetAccount(acct.ID)
	if got.SubscriptionStatus != "active" || got.StripeSubscriptionID != "sub_123" {
		t.Errorf("state changed after provider failure: sub=%q status=%q", got.StripeSubscriptionID, got.SubscriptionStatus)
	}
}

func TestDetail(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "sub_123", "active")
	calls := &callCounter{}
	rc := newStubReconciler(reg, calls)

	rc.getSubscription = func(id string, params *stripelib.SubscriptionParams) (*stripelib.Subscription, error) {
		calls.get++
		return &stripelib.Subscription{
			ID:     id,
			Status: stripelib.SubscriptionStatusActive,
			Items: &stripelib.SubscriptionItemList{
				Data: []*stripelib.SubscriptionItem{
					{
						CurrentPeriodEnd: 1767225600, // Jan 01, 2026
						Price: &stripelib.Price{
							UnitAmount: 1999,
							Currency:   stripelib.CurrencyUSD,
							Recurring:  &stripelib.PriceRecurring{Interval: stripelib.PriceRecurringIntervalMonth},
							Product:    &stripelib.Product{ID: "prod_1"},
						},
					},
				},
			},
		}, nil
	}

	detail, err := rc.Detail(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if detail.Status != "active" {
		t.Errorf("Status = %q", detail.Status)
	}
	if detail.Price != "$19.99" {
		t.Errorf("Price = %q", detail.Price)
	}
	if detail.Interval != "month" {
		t.Errorf("Interval = %q", detail.Interval)
	}
	if detail.PlanName != "Foyer Pro" {
		t.Errorf("PlanName = %q", detail.PlanName)
	}
	if detail.CustomerEmail != "billing@example.com" {
		t.Errorf("CustomerEmail = %q", detail.CustomerEmail)
	}
	if detail.Upcoming == nil || detail.Upcoming.Amount != "$19.99" {
		t.Errorf("Upcoming = %+v", detail.Upcoming)
	}
}

func TestDetailSurvivesPreviewFailure(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "sub_123", "active")
	rc := newStubReconciler(reg, &callCounter{})
	rc.previewInvoice = func(params *stripelib.InvoiceCreatePreviewParams) (*stripelib.Invoice, error) {
		return nil, &stripelib.Error{Msg: "no upcoming invoice"}
	}

	detail, err := rc.Detail(context.Background(), acct.ID)
	if err != nil {
		t.Fatalf("Detail: %v", err)
	}
	if detail.Upcoming != nil {
		t.Errorf("Upcoming = %+v, want nil", detail.Upcoming)
	}
}

func TestDetailWithoutSubscription(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "", "")
	calls := &callCounter{}
	rc := newStubReconciler(reg, calls)

	if _, err := rc.Detail(context.Background(), acct.ID); !errors.Is(err, ErrNoSubscription) {
		t.Errorf("err = %v, want ErrNoSubscription", err)
	}
	if calls.total() != 0 {
		t.Errorf("provider called %d times", calls.total())
	}
}

func TestStartCheckoutCreatesCustomerOnce(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "", "", "")
	plan := &store.Plan{ID: store.GeneratePlanID(), Name: "pro", StripePriceID: "price_123"}
	if err := reg.UpsertPlan(plan); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}

	calls := &callCounter{}
	rc := newStubReconciler(reg, calls)

	// The customer reference must already be persisted when the checkout
	// session is created, so a webhook racing the redirect can resolve it.
	rc.newCheckoutSession = func(params *stripelib.CheckoutSessionParams) (*stripelib.CheckoutSession, error) {
		calls.checkout++
		stored, err := reg.GetAccountByStripeCustomerID("cus_new")
		if err != nil || stored == nil {
			t.Errorf("customer reference not persisted before session creation: acct=%v err=%v", stored, err)
		}
		return &stripelib.CheckoutSession{URL: "https://checkout.test/session"}, nil
	}

	url, err := rc.StartCheckout(context.Background(), acct.ID, plan.ID)
	if err != nil {
		t.Fatalf("StartCheckout: %v", err)
	}
	if url != "https://checkout.test/session" {
		t.Errorf("url = %q", url)
	}
	if calls.newCust != 1 {
		t.Errorf("newCustomer called %d times", calls.newCust)
	}

	// Second checkout reuses the stored customer.
	if _, err := rc.StartCheckout(context.Background(), acct.ID, plan.ID); err != nil {
		t.Fatalf("StartCheckout again: %v", err)
	}
	if calls.newCust != 1 {
		t.Errorf("newCustomer called %d times after reuse", calls.newCust)
	}
}

func TestStartCheckoutRejectsPlanWithoutPrice(t *testing.T) {
	reg := newTestRegistry(t)
	acct := newTestAccount(t, reg, "cus_123", "", "")
	plan := &store.Plan{ID: store.GeneratePlanID(), Name: "free"}
	if err := reg.UpsertPlan(plan); err != nil {
		t.Fatalf("UpsertPlan: %v", err)
	}

	calls := &callCounter{}
	rc := newStubReconciler(reg, calls)
	if _, err := rc.StartCheckout(context.Background(), acct.ID, plan.ID); err == nil {
		t.Error("checkout succeeded for plan without a price")
	}
	if calls.total() != 0 {
		t.Errorf("provider called %d times", calls.total())
	}
}

func TestUserMessage(t *testing.T) {
	if got := UserMessage(nil); got != "" {
		t.Errorf("nil error message = %q", got)
	}
	if got := UserMessage(ErrNoSubscription); got != "You do not have an active subscription." {
		t.Errorf("ErrNoSubscription message = %q", got)
	}
	stripeErr := &stripelib.Error{Msg: "card declined"}
	if got := UserMessage(stripeErr); got != "The billing provider reported an error: card declined" {
		t.Errorf("provider error message = %q", got)
	}
	if got := UserMessage(errors.New("boom")); got != "Something went wrong talking to the billing provider. Please try again." {
		t.Errorf("generic error message = %q", got)
	}
}
