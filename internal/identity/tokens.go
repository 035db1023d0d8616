package identity

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	confirmTokenPurpose = "email_confirm"
	confirmTokenTTL     = 48 * time.Hour
)

// ErrConfirmTokenInvalid is returned for any confirmation token that fails
// parsing, signature verification, or claims validation. Callers show one
// generic "invalid confirmation link" message for all of these.
var ErrConfirmTokenInvalid = errors.New("confirmation token is invalid")

// TokenSigner issues and verifies signed email-confirmation tokens. Tokens
// are stateless (HS256 JWTs), so re-using one after the email is confirmed is
// harmless: confirmation is idempotent at the store.
type TokenSigner struct {
	secret []byte
	now    func() time.Time
}

// NewTokenSigner creates a signer from the shared token secret.
func NewTokenSigner(secret string) (*TokenSigner, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < 32 {
		return nil, fmt.Errorf("token secret must be at least 32 characters")
	}
	return &TokenSigner{
		secret: []byte(secret),
		now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

type confirmClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

// IssueConfirmToken signs a confirmation token for the given account.
func (s *TokenSigner) IssueConfirmToken(accountID string) (string, error) {
	now := s.now()
	claims := confirmClaims{
		Purpose: confirmTokenPurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(confirmTokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign confirmation token: %w", err)
	}
	return signed, nil
}

// VerifyConfirmToken validates a confirmation token and returns the account
// ID it was issued for.
func (s *TokenSigner) VerifyConfirmToken(tokenString string) (string, error) {
	claims := &confirmClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithTimeFunc(s.now))
	if err != nil || !token.Valid {
		return "", ErrConfirmTokenInvalid
	}
	if claims.Purpose != confirmTokenPurpose || strings.TrimSpace(claims.Subject) == "" {
		return "", ErrConfirmTokenInvalid
	}
	return claims.Subject, nil
}

// BuildConfirmURL assembles the confirmation link sent by email.
func BuildConfirmURL(baseURL, token string) string {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" || token == "" {
		return ""
	}
	return baseURL + "/confirm-email?" + url.Values{"token": {token}}.Encode()
}
