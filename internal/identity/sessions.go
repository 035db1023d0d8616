package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// SessionCookieName is the browser cookie that carries the raw session token.
	SessionCookieName = "foyer_session"

	sessionTTL             = 30 * 24 * time.Hour
	sessionCleanupInterval = time.Hour
	sessionTokenBytes      = 32
)

var (
	ErrSessionInvalid = errors.New("session token is invalid")
	ErrSessionExpired = errors.New("session is expired")
)

// Session is a logged-in browser session. The raw token never touches disk;
// rows are keyed by its SHA-256.
type Session struct {
	ID        string
	AccountID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionStore persists login sessions in the shared accounts database.
type SessionStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSessionStore wraps the registry database. The sessions table is created
// by the registry schema, so this does no setup of its own.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{
		db:  db,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func hashSessionToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Create mints a session for the account and returns the session row along
// with the raw token to set in the cookie.
func (s *SessionStore) Create(accountID string) (*Session, string, error) {
	accountID = strings.TrimSpace(accountID)
	if accountID == "" {
		return nil, "", fmt.Errorf("accountID is required")
	}

	buf := make([]byte, sessionTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return nil, "", fmt.Errorf("generate session token: %w", err)
	}
	rawToken := base64.RawURLEncoding.EncodeToString(buf)

	now := s.now()
	sess := &Session{
		ID:        ulid.Make().String(),
		AccountID: accountID,
		ExpiresAt: now.Add(sessionTTL),
		CreatedAt: now,
	}
	_, err := s.db.Exec(
		`INSERT INTO sessions (token_hash, session_id, account_id, expires_at, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		hashSessionToken(rawToken), sess.ID, sess.AccountID, sess.ExpiresAt.Unix(), sess.CreatedAt.Unix(),
	)
	if err != nil {
		return nil, "", fmt.Errorf("insert session: %w", err)
	}
	return sess, rawToken, nil
}

// Lookup resolves a raw cookie token to its session. Expired sessions are
// deleted on sight.
func (s *SessionStore) Lookup(rawToken string) (*Session, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrSessionInvalid
	}
	key := hashSessionToken(rawToken)

	var sess Session
	var expiresAtUnix, createdAtUnix int64
	row := s.db.QueryRow(
		`SELECT session_id, account_id, expires_at, created_at FROM sessions WHERE token_hash = ?`,
		key,
	)
	if err := row.Scan(&sess.ID, &sess.AccountID, &expiresAtUnix, &createdAtUnix); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSessionInvalid
		}
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess.ExpiresAt = time.Unix(expiresAtUnix, 0).UTC()
	sess.CreatedAt = time.Unix(createdAtUnix, 0).UTC()
	if s.now().After(sess.ExpiresAt) {
		if _, err := s.db.Exec(`DELETE FROM sessions WHERE token_hash = ?`, key); err != nil {
			return nil, fmt.Errorf("delete expired session: %w", err)
		}
		return nil, ErrSessionExpired
	}
	return &sess, nil
}

// Delete removes the session for a raw token. Missing tokens are not an error.
func (s *SessionStore) Delete(rawToken string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE token_hash = ?`, hashSessionToken(rawToken)); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// DeleteForAccount revokes every session belonging to an account.
func (s *SessionStore) DeleteForAccount(accountID string) error {
	if strings.TrimSpace(accountID) == "" {
		return nil
	}
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE account_id = ?`, accountID); err != nil {
		return fmt.Errorf("delete account sessions: %w", err)
	}
	return nil
}

// DeleteExpired removes sessions that have passed their expiry time.
func (s *SessionStore) DeleteExpired(now time.Time) error {
	if _, err := s.db.Exec(`DELETE FROM sessions WHERE expires_at < ?`, now.UTC().Unix()); err != nil {
		return fmt.Errorf("delete expired sessions: %w", err)
	}
	return nil
}
