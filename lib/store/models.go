package store

import (
	"github.com/shopspring/decimal"
)

// Account contains the fields for a tracked account saved to DB. Addr is unique across all owners: one on-chain
// address has one true balance no matter how many users track it. LastBalance is written only by the reconciler
// after a successful fetch.
type Account struct {
	ID          string          `json:"id"`
	OwnerID     string          `json:"ownerId"`
	Name        string          `json:"name"`
	Addr        string          `json:"addr"`
	LastBalance decimal.Decimal `json:"lastBalance"`
}

// Principal contains the fields of a platform user saved to DB. Users start unapproved and without any role;
// approval and the admin flag are one-way grants, revocation of trust is a hard delete of the record.
type Principal struct {
	ID           string `json:"id"`
	Label        string `json:"label,omitempty"`
	IsAdmin      bool   `json:"isAdmin"`
	IsApproved   bool   `json:"isApproved"`
	IsSubscribed bool   `json:"isSubscribed"`
}
