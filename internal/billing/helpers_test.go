package billing

import "testing"

func TestFormatAmount(t *testing.T) {
	tests := []struct {
		minor    int64
		currency string
		want     string
	}{
		{1999, "usd", "$19.99"},
		{0, "usd", "$0.00"},
		{50, "usd", "$0.50"},
		{1200, "eur", "€12.00"},
		{999, "gbp", "£9.99"},
		{2500, "chf", "CHF 25.00"},
		{1000, "", "$10.00"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			got := FormatAmount(tt.minor, tt.currency)
			if got != tt.want {
				t.Errorf("FormatAmount(%d, %q) = %q, want %q", tt.minor, tt.currency, got, tt.want)
			}
		})
	}
}

func TestFormatUnixDate(t *testing.T) {
	if got := FormatUnixDate(0); got != "" {
		t.Errorf("FormatUnixDate(0) = %q, want empty", got)
	}
	if got := FormatUnixDate(-5); got != "" {
		t.Errorf("FormatUnixDate(-5) = %q, want empty", got)
	}
	// 2024-03-01T00:00:00Z
	if got := FormatUnixDate(1709251200); got != "Mar 01, 2024" {
		t.Errorf("FormatUnixDate = %q, want %q", got, "Mar 01, 2024")
	}
}

func TestEventDisplayName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"customer.subscription.created", "Subscription Created"},
		{"customer.subscription.deleted", "Subscription Cancelled"},
		{"invoice.paid", "Invoice Paid"},
		{"some.unknown.event", "some.unknown.event"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := EventDisplayName(tt.input); got != tt.want {
				t.Errorf("EventDisplayName(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestUpdateDisplayName(t *testing.T) {
	tests := []struct {
		name       string
		eventType  string
		cancel     bool
		prevCancel bool
		want       string
	}{
		{"pending cancellation", "customer.subscription.updated", true, false, "Subscription Cancelled at End of Period"},
		{"reactivation", "customer.subscription.updated", false, true, "Subscription Reactivated"},
		{"plain update", "customer.subscription.updated", false, false, "Subscription Updated"},
		{"other event unaffected", "invoice.paid", true, true, "Invoice Paid"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UpdateDisplayName(tt.eventType, tt.cancel, tt.prevCancel)
			if got != tt.want {
				t.Errorf("UpdateDisplayName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsSafeStripeID(t *testing.T) {
	tests := []struct {
		id   string
		want bool
	}{
		{"cus_NffrFeUfNV2Hib", true},
		{"sub_1MowQVLkdIwHu7ix", true},
		{"abc", false},           // too short
		{"cus_../../etc", false}, // path characters
		{"cus_abc def", false},   // whitespace
		{"", false},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			if got := IsSafeStripeID(tt.id); got != tt.want {
				t.Errorf("IsSafeStripeID(%q) = %v, want %v", tt.id, got, tt.want)
			}
		})
	}
}
