package store

import (
	"crypto/rand"
	"strings"
	"time"
)

// Account is one user identity plus its billing and confirmation state.
// subscription fields mirror the provider's view: SubscriptionStatus holds
// whatever status string the provider last reported, verbatim, except for the
// two locally written values "canceled" and "active" (user cancel/reactivate).
type Account struct {
	ID                   string     `json:"id"`
	Email                string     `json:"email"`
	Username             string     `json:"username"`
	PasswordHash         string     `json:"-"`
	Bio                  string     `json:"bio"`
	ProfileImage         string     `json:"profile_image,omitempty"`
	EmailConfirmed       bool       `json:"email_confirmed"`
	StripeCustomerID     string     `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID string     `json:"stripe_subscription_id,omitempty"`
	SubscriptionStatus   string     `json:"subscription_status,omitempty"`
	CreatedAt            time.Time  `json:"created_at"`
	UpdatedAt            time.Time  `json:"updated_at"`
	LastLoginAt          *time.Time `json:"last_login_at,omitempty"`
}

// Plan is a purchasable membership tier mapped to a provider price.
type Plan struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	StripePriceID string `json:"stripe_price_id"`
	Description   string `json:"description"`
}

// crockfordBase32 is the Crockford base32 alphabet (excludes I, L, O, U).
const crockfordBase32 = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

func randomID(prefix string) string {
	b := make([]byte, 10)
	rand.Read(b)
	var sb strings.Builder
	sb.WriteString(prefix)
	for _, v := range b {
		sb.WriteByte(crockfordBase32[int(v)%len(crockfordBase32)])
	}
	return sb.String()
}

// GenerateAccountID returns an account ID of the form "u_" followed by 10
// random Crockford base32 characters (50 bits of entropy).
func GenerateAccountID() string {
	return randomID("u_")
}

// GeneratePlanID returns a plan ID of the form "p_" followed by 10 random
// Crockford base32 characters.
func GeneratePlanID() string {
	return randomID("p_")
}
