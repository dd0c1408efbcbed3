// Package fetch defines the interface required for balance sources. A balance source resolves the current balance
// held at an externally-owned address; the reconciler treats every failure kind the same way, skipping the account
// for the current pass.
package fetch

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// Fetcher is the interface to a balance source.
type Fetcher interface {
	// Balance returns the current balance held at addr. On failure the returned error wraps one of ErrTimeout,
	// ErrConnection or ErrProtocol.
	Balance(ctx context.Context, addr string) (decimal.Decimal, error)
}

// Errors returned by balance sources.
var (
	ErrTimeout    = errors.New("balance source timed out")
	ErrConnection = errors.New("cannot connect to balance source")
	ErrProtocol   = errors.New("unexpected reply from balance source")
)
