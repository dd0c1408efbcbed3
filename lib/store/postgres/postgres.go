// Package postgres implements the store interface for PostgreSQL.
package postgres

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"

	"walletmon/lib/store"
)

// uniqueViolation is the PostgreSQL error code raised on unique constraint conflicts.
const uniqueViolation = "23505"

// Postgres implements a connection to a PostgreSQL database.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection'.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	return &Postgres{db: db}, nil
}

// ClosePostgres will close any database connection. Must be called at termination time.
func (p *Postgres) ClosePostgres() error {
	return p.db.Close()
}

// Init creates the tables when missing and ensures fields added after first release exist with their default
// values. Idempotent, run at every startup.
func (p *Postgres) Init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			name TEXT NOT NULL,
			addr TEXT NOT NULL UNIQUE,
			last_balance NUMERIC NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS principals (
			id TEXT PRIMARY KEY,
			label TEXT NOT NULL DEFAULT '',
			is_admin BOOLEAN NOT NULL DEFAULT FALSE,
			is_approved BOOLEAN NOT NULL DEFAULT FALSE,
			is_subscribed BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		// columns added after first release, for databases created before them
		`ALTER TABLE accounts ADD COLUMN IF NOT EXISTS last_balance NUMERIC NOT NULL DEFAULT 0`,
		`ALTER TABLE principals ADD COLUMN IF NOT EXISTS is_subscribed BOOLEAN NOT NULL DEFAULT FALSE`,
	}

	for _, s := range stmts {
		if _, err := p.db.Exec(s); err != nil {
			return fmt.Errorf("could not init schema: %w", err)
		}
	}

	return nil
}

// AddAccount saves an account if the address is not already registered for any owner.
func (p *Postgres) AddAccount(a store.Account) (string, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}

	_, err := p.db.Exec(`INSERT INTO accounts (id, owner_id, name, addr, last_balance) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.OwnerID, a.Name, a.Addr, a.LastBalance.String())
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return "", store.ErrDupAddress
		}

		return "", fmt.Errorf("could not insert account in db: %w", err)
	}

	return a.ID, nil
}

// RemoveAccount deletes an account matched by name or address. An empty ownerID matches any owner (administrator
// action). Returns false when no record matched, so callers can present a uniform "nothing to delete" outcome.
func (p *Postgres) RemoveAccount(ownerID, nameOrAddr string) (bool, error) {
	var res sql.Result

	var err error

	if ownerID == "" {
		res, err = p.db.Exec(`DELETE FROM accounts WHERE name = $1 OR addr = $1`, nameOrAddr)
	} else {
		res, err = p.db.Exec(`DELETE FROM accounts WHERE owner_id = $1 AND (name = $2 OR addr = $2)`, ownerID, nameOrAddr)
	}

	if err != nil {
		return false, fmt.Errorf("could not delete account from db: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("could not delete account from db: %w", err)
	}

	return n > 0, nil
}

// GetAccounts returns every tracked account in the registry.
func (p *Postgres) GetAccounts() ([]store.Account, error) {
	return p.queryAccounts(`SELECT id, owner_id, name, addr, last_balance FROM accounts`)
}

// GetOwnerAccounts returns the accounts tracked by the given owner.
func (p *Postgres) GetOwnerAccounts(ownerID string) ([]store.Account, error) {
	return p.queryAccounts(`SELECT id, owner_id, name, addr, last_balance FROM accounts WHERE owner_id = $1`, ownerID)
}

func (p *Postgres) queryAccounts(query string, args ...interface{}) ([]store.Account, error) {
	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error getting accounts from db: %w", err)
	}
	defer rows.Close()

	accounts := []store.Account{}

	for rows.Next() {
		var a store.Account

		var bal string

		if err = rows.Scan(&a.ID, &a.OwnerID, &a.Name, &a.Addr, &bal); err != nil {
			return nil, fmt.Errorf("error scanning account: %w", err)
		}

		if a.LastBalance, err = decimal.NewFromString(bal); err != nil {
			return nil, fmt.Errorf("bad balance %q for %s: %w", bal, a.Addr, err)
		}

		accounts = append(accounts, a)
	}

	return accounts, rows.Err()
}

// SetBalance updates the last observed balance of the account registered at addr.
func (p *Postgres) SetBalance(addr string, bal decimal.Decimal) error {
	res, err := p.db.Exec(`UPDATE accounts SET last_balance = $1 WHERE addr = $2`, bal.String(), addr)
	if err != nil {
		return fmt.Errorf("could not update balance in db: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not update balance in db: %w", err)
	}

	if n == 0 {
		return store.ErrDataNotFound
	}

	return nil
}

// AddPrincipal inserts a principal on first contact. Existing records are left untouched so repeated contacts
// never reset roles or approval.
func (p *Postgres) AddPrincipal(pr store.Principal) error {
	_, err := p.db.Exec(`INSERT INTO principals (id, label) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING`,
		pr.ID, pr.Label)
	if err != nil {
		return fmt.Errorf("could not insert principal in db: %w", err)
	}

	return nil
}

// GetPrincipal returns the principal with the given id or ErrDataNotFound.
func (p *Postgres) GetPrincipal(id string) (store.Principal, error) {
	var pr store.Principal

	err := p.db.QueryRow(`SELECT id, label, is_admin, is_approved, is_subscribed FROM principals WHERE id = $1`, id).
		Scan(&pr.ID, &pr.Label, &pr.IsAdmin, &pr.IsApproved, &pr.IsSubscribed)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Principal{}, store.ErrDataNotFound
	}

	if err != nil {
		return store.Principal{}, fmt.Errorf("error getting principal from db: %w", err)
	}

	return pr, nil
}

// EnsureSeedAdmin upserts the seed administrator, asserting the admin and approved flags. Idempotent, run at
// every startup.
func (p *Postgres) EnsureSeedAdmin(id string) error {
	_, err := p.db.Exec(`INSERT INTO principals (id, is_admin, is_approved) VALUES ($1, TRUE, TRUE)
		ON CONFLICT (id) DO UPDATE SET is_admin = TRUE, is_approved = TRUE`, id)
	if err != nil {
		return fmt.Errorf("could not ensure seed admin in db: %w", err)
	}

	return nil
}

// SetAdmin grants the administrator role. There is no revocation path: untrusted principals are rejected instead.
func (p *Postgres) SetAdmin(id string) error {
	return p.exec(`UPDATE principals SET is_admin = TRUE, is_approved = TRUE WHERE id = $1`, id)
}

// Approve marks the principal as approved, opening the gate to the rest of the functionality.
func (p *Postgres) Approve(id string) error {
	return p.exec(`UPDATE principals SET is_approved = TRUE WHERE id = $1`, id)
}

// SetSubscribed toggles the notification subscription.
func (p *Postgres) SetSubscribed(id string, sub bool) error {
	return p.exec(`UPDATE principals SET is_subscribed = $2 WHERE id = $1`, id, sub)
}

// Reject removes the principal record entirely.
func (p *Postgres) Reject(id string) error {
	return p.exec(`DELETE FROM principals WHERE id = $1`, id)
}

func (p *Postgres) exec(query string, args ...interface{}) error {
	res, err := p.db.Exec(query, args...)
	if err != nil {
		return fmt.Errorf("could not update principal in db: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("could not update principal in db: %w", err)
	}

	if n == 0 {
		return store.ErrDataNotFound
	}

	return nil
}

// PendingPrincipals returns the principals awaiting administrator approval.
func (p *Postgres) PendingPrincipals() ([]store.Principal, error) {
	return p.queryPrincipals(`SELECT id, label, is_admin, is_approved, is_subscribed FROM principals WHERE NOT is_approved`)
}

// Subscribers returns the principals subscribed to balance notifications, admin flag included so the fan-out can
// filter decrease events without further queries.
func (p *Postgres) Subscribers() ([]store.Principal, error) {
	return p.queryPrincipals(`SELECT id, label, is_admin, is_approved, is_subscribed FROM principals WHERE is_subscribed`)
}

func (p *Postgres) queryPrincipals(query string, args ...interface{}) ([]store.Principal, error) {
	rows, err := p.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("error getting principals from db: %w", err)
	}
	defer rows.Close()

	ps := []store.Principal{}

	for rows.Next() {
		var pr store.Principal
		if err = rows.Scan(&pr.ID, &pr.Label, &pr.IsAdmin, &pr.IsApproved, &pr.IsSubscribed); err != nil {
			return nil, fmt.Errorf("error scanning principal: %w", err)
		}

		ps = append(ps, pr)
	}

	return ps, rows.Err()
}
