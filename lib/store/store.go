// Package store defines the interface for database implementations to the api and reconciler microservices.
package store

import (
	"errors"

	"github.com/shopspring/decimal"
)

// DB defines required methods for the account registry and the access control records.
type DB interface {
	// Init ensures the schema exists: tables or collections, the unique address constraint and any field added
	// after first release carrying its default value. Idempotent, run at every startup.
	Init() error

	// account registry
	AddAccount(a Account) (string, error)
	RemoveAccount(ownerID, nameOrAddr string) (bool, error)
	GetAccounts() ([]Account, error)
	GetOwnerAccounts(ownerID string) ([]Account, error)
	SetBalance(addr string, bal decimal.Decimal) error

	// access control
	AddPrincipal(p Principal) error
	GetPrincipal(id string) (Principal, error)
	EnsureSeedAdmin(id string) error
	SetAdmin(id string) error
	Approve(id string) error
	Reject(id string) error
	SetSubscribed(id string, sub bool) error
	PendingPrincipals() ([]Principal, error)
	Subscribers() ([]Principal, error)
}

// Errors returned
var (
	ErrDupAddress   = errors.New("Address is already registered in store")
	ErrDataNotFound = errors.New("Data was not found in store")
)
