package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// IsUniqueViolation reports whether err is a SQLite unique constraint
// failure, e.g. a duplicate email or username on insert.
func IsUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Registry provides CRUD operations for account records backed by SQLite.
type Registry struct {
	db *sql.DB
}

// NewRegistry opens (or creates) the account registry database in dir.
func NewRegistry(dir string) (*Registry, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create registry dir: %w", err)
	}

	dbPath := filepath.Join(dir, "accounts.db")
	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
			"foreign_keys(1)",
		},
	}.Encode()

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open account registry db: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	r := &Registry{db: db}
	if err := r.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Registry) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS accounts (
		id                     TEXT PRIMARY KEY,
		email                  TEXT NOT NULL COLLATE NOCASE UNIQUE,
		username               TEXT NOT NULL COLLATE NOCASE UNIQUE,
		password_hash          TEXT NOT NULL DEFAULT '',
		bio                    TEXT NOT NULL DEFAULT '',
		profile_image          TEXT NOT NULL DEFAULT '',
		email_confirmed        INTEGER NOT NULL DEFAULT 0,
		stripe_customer_id     TEXT NOT NULL DEFAULT '',
		stripe_subscription_id TEXT NOT NULL DEFAULT '',
		subscription_status    TEXT NOT NULL DEFAULT '',
		created_at             INTEGER NOT NULL,
		updated_at             INTEGER NOT NULL,
		last_login_at          INTEGER
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_stripe_customer_id
		ON accounts(stripe_customer_id) WHERE stripe_customer_id != '';

	CREATE TABLE IF NOT EXISTS sessions (
		token_hash TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		account_id TEXT NOT NULL REFERENCES accounts(id) ON DELETE CASCADE,
		expires_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_account_id ON sessions(account_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);

	CREATE TABLE IF NOT EXISTS plans (
		id              TEXT PRIMARY KEY,
		name            TEXT NOT NULL UNIQUE,
		stripe_price_id TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT ''
	);
	`
	if _, err := r.db.Exec(schema); err != nil {
		return fmt.Errorf("init account registry schema: %w", err)
	}
	return nil
}

// Ping checks database connectivity (used for readiness probes).
func (r *Registry) Ping() error {
	return r.db.Ping()
}

// Close closes the underlying database connection.
func (r *Registry) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// DB exposes the underlying handle for stores that share the database file
// (session store).
func (r *Registry) DB() *sql.DB {
	return r.db
}

const accountColumns = `
	id, email, username, password_hash, bio, profile_image, email_confirmed,
	stripe_customer_id, stripe_subscription_id, subscription_status,
	created_at, updated_at, last_login_at`

// CreateAccount inserts a new account record. Registration calls this
// directly so record creation is an explicit step of identity creation.
func (r *Registry) CreateAccount(a *Account) error {
	if a == nil {
		return fmt.Errorf("account is nil")
	}
	now := time.Now().UTC()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = now
	}
	a.UpdatedAt = now

	_, err := r.db.Exec(`
		INSERT INTO accounts (
			id, email, username, password_hash, bio, profile_image, email_confirmed,
			stripe_customer_id, stripe_subscription_id, subscription_status,
			created_at, updated_at, last_login_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Email, a.Username, a.PasswordHash, a.Bio, a.ProfileImage, boolToInt(a.EmailConfirmed),
		a.StripeCustomerID, a.StripeSubscriptionID, a.SubscriptionStatus,
		a.CreatedAt.Unix(), a.UpdatedAt.Unix(), nullableTimeUnix(a.LastLoginAt),
	)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID. Returns (nil, nil) when absent.
func (r *Registry) GetAccount(id string) (*Account, error) {
	row := r.db.QueryRow(`SELECT`+accountColumns+` FROM accounts WHERE id = ?`, id)
	return scanAccount(row)
}

// GetAccountByEmail retrieves an account by email, case-insensitively.
func (r *Registry) GetAccountByEmail(email string) (*Account, error) {
	row := r.db.QueryRow(`SELECT`+accountColumns+` FROM accounts WHERE email = ? COLLATE NOCASE`, strings.TrimSpace(email))
	return scanAccount(row)
}

// GetAccountByUsername retrieves an account by username, case-insensitively.
func (r *Registry) GetAccountByUsername(username string) (*Account, error) {
	row := r.db.QueryRow(`SELECT`+accountColumns+` FROM accounts WHERE username = ? COLLATE NOCASE`, strings.TrimSpace(username))
	return scanAccount(row)
}

// GetAccountByStripeCustomerID retrieves an account by the provider-assigned
// customer reference.
func (r *Registry) GetAccountByStripeCustomerID(customerID string) (*Account, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, nil
	}
	row := r.db.QueryRow(`SELECT`+accountColumns+` FROM accounts WHERE stripe_customer_id = ?`, customerID)
	return scanAccount(row)
}

// UpdateProfile writes username, bio and profile image for an account.
func (r *Registry) UpdateProfile(id, username, bio, profileImage string) error {
	res, err := r.db.Exec(`
		UPDATE accounts SET username = ?, bio = ?, profile_image = ?, updated_at = ?
		WHERE id = ?`,
		username, bio, profileImage, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}
	return requireRow(res, id)
}

// SetEmailConfirmed marks the account's email as confirmed. The transition is
// one-way and idempotent: confirming an already-confirmed account is a no-op.
func (r *Registry) SetEmailConfirmed(id string) error {
	res, err := r.db.Exec(`
		UPDATE accounts SET email_confirmed = 1, updated_at = ?
		WHERE id = ?`,
		time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("confirm email: %w", err)
	}
	return requireRow(res, id)
}

// SetStripeCustomer records the provider customer reference. The reference is
// stable once assigned.
func (r *Registry) SetStripeCustomer(id, customerID string) error {
	res, err := r.db.Exec(`
		UPDATE accounts SET stripe_customer_id = ?, updated_at = ?
		WHERE id = ?`,
		customerID, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set stripe customer: %w", err)
	}
	return requireRow(res, id)
}

// SetSubscription overwrites the subscription reference and status in a single
// row write. This is the persist step of every reconciliation path, and it is
// always the last action of a success path (last-write-wins across concurrent
// deliveries).
func (r *Registry) SetSubscription(id, subscriptionID, status string) error {
	res, err := r.db.Exec(`
		UPDATE accounts SET stripe_subscription_id = ?, subscription_status = ?, updated_at = ?
		WHERE id = ?`,
		subscriptionID, status, time.Now().UTC().Unix(), id,
	)
	if err != nil {
		return fmt.Errorf("set subscription: %w", err)
	}
	return requireRow(res, id)
}

// TouchLastLogin records a successful login time.
func (r *Registry) TouchLastLogin(id string) error {
	now := time.Now().UTC().Unix()
	_, err := r.db.Exec(`UPDATE accounts SET last_login_at = ?, updated_at = ? WHERE id = ?`, now, now, id)
	if err != nil {
		return fmt.Errorf("touch last login: %w", err)
	}
	return nil
}

// DeleteAccount removes an account record. Sessions cascade via the foreign key.
func (r *Registry) DeleteAccount(id string) error {
	res, err := r.db.Exec(`DELETE FROM accounts WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return requireRow(res, id)
}

// CountByConfirmation returns the number of confirmed and unconfirmed accounts.
func (r *Registry) CountByConfirmation() (confirmed, unconfirmed int, err error) {
	row := r.db.QueryRow(`SELECT
		COALESCE(SUM(CASE WHEN email_confirmed = 1 THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN email_confirmed = 0 THEN 1 ELSE 0 END), 0)
		FROM accounts`)
	if err := row.Scan(&confirmed, &unconfirmed); err != nil {
		return 0, 0, fmt.Errorf("count by confirmation: %w", err)
	}
	return confirmed, unconfirmed, nil
}

// UpsertPlan inserts a plan or updates its price and description by name.
func (r *Registry) UpsertPlan(p *Plan) error {
	if p == nil {
		return fmt.Errorf("plan is nil")
	}
	if p.ID == "" {
		p.ID = GeneratePlanID()
	}
	_, err := r.db.Exec(`
		INSERT INTO plans (id, name, stripe_price_id, description)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			stripe_price_id = excluded.stripe_price_id,
			description = excluded.description`,
		p.ID, p.Name, p.StripePriceID, p.Description,
	)
	if err != nil {
		return fmt.Errorf("upsert plan: %w", err)
	}
	return nil
}

// GetPlan retrieves a plan by ID. Returns (nil, nil) when absent.
func (r *Registry) GetPlan(id string) (*Plan, error) {
	var p Plan
	err := r.db.QueryRow(`SELECT id, name, stripe_price_id, description FROM plans WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.StripePriceID, &p.Description)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get plan: %w", err)
	}
	return &p, nil
}

// ListPlans returns all plans ordered by name.
func (r *Registry) ListPlans() ([]*Plan, error) {
	rows, err := r.db.Query(`SELECT id, name, stripe_price_id, description FROM plans ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list plans: %w", err)
	}
	defer rows.Close()

	var plans []*Plan
	for rows.Next() {
		var p Plan
		if err := rows.Scan(&p.ID, &p.Name, &p.StripePriceID, &p.Description); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		plans = append(plans, &p)
	}
	return plans, rows.Err()
}

// scanner is an interface satisfied by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanAccount(s scanner) (*Account, error) {
	var a Account
	var confirmed int
	var createdAt, updatedAt int64
	var lastLogin sql.NullInt64

	err := s.Scan(
		&a.ID, &a.Email, &a.Username, &a.PasswordHash, &a.Bio, &a.ProfileImage, &confirmed,
		&a.StripeCustomerID, &a.StripeSubscriptionID, &a.SubscriptionStatus,
		&createdAt, &updatedAt, &lastLogin,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}

	a.EmailConfirmed = confirmed != 0
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	a.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	if lastLogin.Valid {
		ts := time.Unix(lastLogin.Int64, 0).UTC()
		a.LastLoginAt = &ts
	}
	return &a, nil
}

func requireRow(res sql.Result, id string) error {
	affected, _ := res.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("account %q not found", id)
	}
	return nil
}

func nullableTimeUnix(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
