package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/mail"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/email"
	"github.com/foyerhq/foyer/internal/store"
	"github.com/foyerhq/foyer/internal/webmetrics"
)

const maxBodyBytes = 64 * 1024

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_.-]{3,30}$`)

// Handlers serves registration, login, email confirmation, and account
// deletion.
type Handlers struct {
	registry  *store.Registry
	sessions  *SessionStore
	signer    *TokenSigner
	sender    email.Sender
	baseURL   string
	emailFrom string

	// secureCookies marks session cookies Secure; disabled only for plain
	// HTTP development setups.
	secureCookies bool
}

// NewHandlers wires the identity endpoints.
func NewHandlers(reg *store.Registry, sessions *SessionStore, signer *TokenSigner, sender email.Sender, baseURL, emailFrom string) *Handlers {
	return &Handlers{
		registry:      reg,
		sessions:      sessions,
		signer:        signer,
		sender:        sender,
		baseURL:       strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		emailFrom:     emailFrom,
		secureCookies: strings.HasPrefix(strings.TrimSpace(baseURL), "https://"),
	}
}

type registerRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type resendRequest struct {
	Email string `json:"email"`
}

type deleteAccountRequest struct {
	Email string `json:"email"`
}

type accountResponse struct {
	ID             string `json:"id"`
	Email          string `json:"email"`
	Username       string `json:"username"`
	EmailConfirmed bool   `json:"email_confirmed"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func accountView(acct *store.Account) accountResponse {
	return accountResponse{
		ID:             acct.ID,
		Email:          acct.Email,
		Username:       acct.Username,
		EmailConfirmed: acct.EmailConfirmed,
	}
}

// HandleRegister creates an account and sends the confirmation email.
func (h *Handlers) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeBody(w, r, &req) {
		return
	}

	emailAddr := strings.TrimSpace(req.Email)
	username := strings.TrimSpace(req.Username)
	if !isValidEmail(emailAddr) {
		writeError(w, http.StatusBadRequest, "invalid_email", "A valid email address is required")
		return
	}
	if !usernameRe.MatchString(username) {
		writeError(w, http.StatusBadRequest, "invalid_username", "Username must be 3-30 characters: letters, digits, . _ -")
		return
	}
	if err := ValidatePasswordComplexity(req.Password); err != nil {
		writeError(w, http.StatusBadRequest, "weak_password", err.Error())
		return
	}

	hash, err := HashPassword(req.Password)
	if err != nil {
		log.Error().Err(err).Msg("Failed to hash password")
		writeError(w, http.StatusInternalServerError, "internal_error", "Registration failed")
		return
	}

	acct := &store.Account{
		ID:           store.GenerateAccountID(),
		Email:        emailAddr,
		Username:     username,
		PasswordHash: hash,
	}
	if err := h.registry.CreateAccount(acct); err != nil {
		if store.IsUniqueViolation(err) {
			writeError(w, http.StatusConflict, "already_exists", "An account with that email or username already exists")
			return
		}
		log.Error().Err(err).Msg("Failed to create account")
		writeError(w, http.StatusInternalServerError, "internal_error", "Registration failed")
		return
	}

	h.sendConfirmation(r.Context(), acct)

	log.Info().Str("accountId", acct.ID).Str("username", acct.Username).Msg("Account registered")
	writeJSON(w, http.StatusCreated, accountView(acct))
}

// HandleConfirmEmail marks the token's account as confirmed. Re-confirming is
// a no-op success, so stale links after a resend still land well.
func (h *Handlers) HandleConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(r.URL.Query().Get("token"))
	if token == "" {
		writeError(w, http.StatusBadRequest, "missing_token", "Token parameter is required")
		return
	}

	accountID, err := h.signer.VerifyConfirmToken(token)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_token", "Confirmation link is invalid or expired")
		return
	}

	acct, err := h.registry.GetAccount(accountID)
	if err != nil {
		log.Error().Err(err).Str("accountId", accountID).Msg("Failed to load account for confirmation")
		writeError(w, http.StatusInternalServerError, "internal_error", "Confirmation failed")
		return
	}
	if acct == nil {
		writeError(w, http.StatusBadRequest, "invalid_token", "Confirmation link is invalid or expired")
		return
	}

	if err := h.registry.SetEmailConfirmed(acct.ID); err != nil {
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to confirm email")
		writeError(w, http.StatusInternalServerError, "internal_error", "Confirmation failed")
		return
	}

	log.Info().Str("accountId", acct.ID).Msg("Email confirmed")
	if wantsHTML(r) {
		http.Redirect(w, r, "/login?confirmed=1", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Email confirmed"})
}

// HandleResendVerification re-sends the confirmation email. The response is
// identical whether or not the address has an account.
func (h *Handlers) HandleResendVerification(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	emailAddr := strings.TrimSpace(req.Email)
	if !isValidEmail(emailAddr) {
		writeError(w, http.StatusBadRequest, "invalid_email", "A valid email address is required")
		return
	}

	acct, err := h.registry.GetAccountByEmail(emailAddr)
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up account for resend")
		writeError(w, http.StatusInternalServerError, "internal_error", "Resend failed")
		return
	}
	if acct != nil && !acct.EmailConfirmed {
		h.sendConfirmation(r.Context(), acct)
	}

	writeJSON(w, http.StatusOK, messageResponse{Message: "If that address has an unconfirmed account, a new confirmation email is on its way"})
}

// HandleLogin checks credentials and opens a session. Unconfirmed accounts
// cannot log in.
func (h *Handlers) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}

	acct, err := h.registry.GetAccountByEmail(strings.TrimSpace(req.Email))
	if err != nil {
		log.Error().Err(err).Msg("Failed to look up account for login")
		writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		return
	}
	if acct == nil || !CheckPasswordHash(req.Password, acct.PasswordHash) {
		webmetrics.LoginsTotal.WithLabelValues("bad_credentials").Inc()
		writeError(w, http.StatusUnauthorized, "bad_credentials", "Incorrect email or password")
		return
	}
	if !acct.EmailConfirmed {
		webmetrics.LoginsTotal.WithLabelValues("unconfirmed").Inc()
		writeError(w, http.StatusForbidden, "email_unconfirmed", "Please confirm your email address before logging in")
		return
	}

	_, rawToken, err := h.sessions.Create(acct.ID)
	if err != nil {
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, "internal_error", "Login failed")
		return
	}
	if err := h.registry.TouchLastLogin(acct.ID); err != nil {
		log.Warn().Err(err).Str("accountId", acct.ID).Msg("Failed to record last login")
	}

	h.setSessionCookie(w, rawToken, int(sessionTTL.Seconds()))
	webmetrics.LoginsTotal.WithLabelValues("success").Inc()
	log.Info().Str("accountId", acct.ID).Msg("Login succeeded")
	writeJSON(w, http.StatusOK, accountView(acct))
}

// HandleLogout drops the current session and clears the cookie.
func (h *Handlers) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil && cookie.Value != "" {
		if err := h.sessions.Delete(cookie.Value); err != nil {
			log.Warn().Err(err).Msg("Failed to delete session on logout")
		}
	}
	h.setSessionCookie(w, "", -1)
	if wantsHTML(r) {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: "Logged out"})
}

// HandleCurrentAccount returns the authenticated account.
func (h *Handlers) HandleCurrentAccount(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}
	writeJSON(w, http.StatusOK, accountView(acct))
}

// HandleDeleteAccount deletes the authenticated account after the caller
// retypes their email address. The comparison ignores case, matching how
// addresses are stored.
func (h *Handlers) HandleDeleteAccount(w http.ResponseWriter, r *http.Request) {
	acct := AccountFromContext(r.Context())
	if acct == nil {
		writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
		return
	}

	var req deleteAccountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if !strings.EqualFold(strings.TrimSpace(req.Email), acct.Email) {
		writeError(w, http.StatusBadRequest, "email_mismatch", "Enter your account's email address to confirm deletion")
		return
	}

	if err := h.sessions.DeleteForAccount(acct.ID); err != nil {
		log.Warn().Err(err).Str("accountId", acct.ID).Msg("Failed to revoke sessions before deletion")
	}
	if err := h.registry.DeleteAccount(acct.ID); err != nil {
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to delete account")
		writeError(w, http.StatusInternalServerError, "internal_error", "Account deletion failed")
		return
	}

	h.setSessionCookie(w, "", -1)
	log.Info().Str("accountId", acct.ID).Msg("Account deleted")
	writeJSON(w, http.StatusOK, messageResponse{Message: "Account deleted"})
}

func (h *Handlers) sendConfirmation(ctx context.Context, acct *store.Account) {
	token, err := h.signer.IssueConfirmToken(acct.ID)
	if err != nil {
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to issue confirmation token")
		return
	}
	confirmURL := BuildConfirmURL(h.baseURL, token)
	html, text, err := email.RenderConfirmEmail(email.ConfirmData{
		Username:   acct.Username,
		ConfirmURL: confirmURL,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to render confirmation email")
		return
	}
	msg := email.Message{
		From:    h.emailFrom,
		To:      acct.Email,
		Subject: "Confirm your Foyer account",
		HTML:    html,
		Text:    text,
	}
	if err := h.sender.Send(ctx, msg); err != nil {
		log.Error().Err(err).Str("accountId", acct.ID).Msg("Failed to send confirmation email")
	}
}

func (h *Handlers) setSessionCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func isValidEmail(addr string) bool {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return false
	}
	parsed, err := mail.ParseAddress(addr)
	if err != nil {
		return false
	}
	return strings.TrimSpace(parsed.Address) != ""
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "Invalid JSON body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: code, Message: message})
}
