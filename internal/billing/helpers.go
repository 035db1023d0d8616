package billing

import (
	"fmt"
	"strings"
	"time"
)

// currencySymbols covers the currencies the app actually bills in; anything
// else falls back to the upper-cased code as a prefix.
var currencySymbols = map[string]string{
	"usd": "$",
	"eur": "€",
	"gbp": "£",
}

// FormatAmount renders a provider amount (minor units) as a display string,
// e.g. 1999 usd -> "$19.99".
func FormatAmount(minorUnits int64, currency string) string {
	currency = strings.ToLower(strings.TrimSpace(currency))
	if currency == "" {
		currency = "usd"
	}
	symbol, ok := currencySymbols[currency]
	if !ok {
		return fmt.Sprintf("%s %.2f", strings.ToUpper(currency), float64(minorUnits)/100)
	}
	return fmt.Sprintf("%s%.2f", symbol, float64(minorUnits)/100)
}

// FormatUnixDate renders a provider epoch-seconds timestamp as a short date,
// e.g. "Jan 02, 2006". Zero and negative timestamps render empty.
func FormatUnixDate(ts int64) string {
	if ts <= 0 {
		return ""
	}
	return time.Unix(ts, 0).UTC().Format("Jan 02, 2006")
}

// eventDisplayNames maps provider event types to friendly names for the
// presentation layer.
var eventDisplayNames = map[string]string{
	"customer.subscription.created": "Subscription Created",
	"customer.subscription.updated": "Subscription Updated",
	"customer.subscription.deleted": "Subscription Cancelled",
	"invoice.created":               "Invoice Created",
	"invoice.finalized":             "Invoice Finalized",
	"invoice.paid":                  "Invoice Paid",
	"invoice.payment_failed":        "Invoice Payment Failed",
	"invoice.payment_succeeded":     "Invoice Payment Succeeded",
	"invoice.upcoming":              "Invoice Upcoming",
	"invoice.voided":                "Invoice Voided",
}

// EventDisplayName returns a friendly name for a provider event type.
// Unknown types pass through unchanged.
func EventDisplayName(eventType string) string {
	if name, ok := eventDisplayNames[eventType]; ok {
		return name
	}
	return eventType
}

// UpdateDisplayName refines the name of a subscription.updated event using
// the cancel_at_period_end flag: a pending cancellation reads "Cancelled at
// End of Period", and clearing a previously set flag reads "Reactivated".
func UpdateDisplayName(eventType string, cancelAtPeriodEnd, prevCancelAtPeriodEnd bool) string {
	if eventType != "customer.subscription.updated" {
		return EventDisplayName(eventType)
	}
	if cancelAtPeriodEnd {
		return "Subscription Cancelled at End of Period"
	}
	if prevCancelAtPeriodEnd {
		return "Subscription Reactivated"
	}
	return EventDisplayName(eventType)
}

// IsSafeStripeID validates that a provider ID (cus_..., sub_...) is safe to
// use as a lookup key.
func IsSafeStripeID(id string) bool {
	if len(id) < 5 || len(id) > 128 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == '-' {
			continue
		}
		return false
	}
	return true
}
