package identity

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/foyerhq/foyer/internal/store"
)

type contextKey string

const accountContextKey contextKey = "foyer.account"

// AccountFromContext returns the authenticated account placed there by
// RequireSession, or nil for unauthenticated requests.
func AccountFromContext(ctx context.Context) *store.Account {
	acct, _ := ctx.Value(accountContextKey).(*store.Account)
	return acct
}

// ContextWithAccount attaches an account to the context. Exposed for handler
// tests that bypass the middleware.
func ContextWithAccount(ctx context.Context, acct *store.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, acct)
}

func wantsHTML(r *http.Request) bool {
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "text/html")
}

// RequireSession rejects requests without a valid session cookie. Browser
// requests are redirected to the login page; API requests get a 401.
func (h *Handlers) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		acct := h.resolveAccount(r)
		if acct == nil {
			if wantsHTML(r) {
				http.Redirect(w, r, "/login", http.StatusSeeOther)
				return
			}
			writeError(w, http.StatusUnauthorized, "unauthenticated", "Authentication required")
			return
		}
		next.ServeHTTP(w, r.WithContext(ContextWithAccount(r.Context(), acct)))
	})
}

// resolveAccount turns the session cookie into a live account, or nil.
func (h *Handlers) resolveAccount(r *http.Request) *store.Account {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	sess, err := h.sessions.Lookup(cookie.Value)
	if err != nil {
		return nil
	}
	acct, err := h.registry.GetAccount(sess.AccountID)
	if err != nil {
		log.Warn().Err(err).Str("accountId", sess.AccountID).Msg("Failed to load account for session")
		return nil
	}
	if acct == nil {
		// Account deleted out from under the session; drop the cookie row.
		if err := h.sessions.Delete(cookie.Value); err != nil {
			log.Warn().Err(err).Msg("Failed to delete orphaned session")
		}
		return nil
	}
	return acct
}
