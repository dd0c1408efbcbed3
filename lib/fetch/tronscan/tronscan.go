// Package tronscan implements the fetch interface for the Tronscan account API, reading the Tether USD (TRC20)
// balance held at a TRON address.
package tronscan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/shopspring/decimal"

	"walletmon/lib/fetch"
)

// usdtName is the token name reported by Tronscan for Tether USD.
const usdtName = "Tether USD"

// usdtDecimals scales the raw integer balance reported by the API into USDT units.
const usdtDecimals = 6

const reqTimeout = 5 * time.Second

// Tronscan implements a client connection to a Tronscan-compatible API server.
type Tronscan struct {
	url string // endpoint prefix, the address is appended to it
	c   *http.Client
}

// tokenBalance is one entry of the account token list returned by the API. Balance is a raw integer amount but
// the API has served it both as a number and as a string across versions.
type tokenBalance struct {
	TokenName string      `json:"tokenName"`
	Balance   json.Number `json:"balance"`
}

// accountReply is the subset of the account API reply we care about.
type accountReply struct {
	Trc20TokenBalances []tokenBalance `json:"trc20token_balances"`
}

// New returns a Tronscan client for the given endpoint prefix (ie. https://host/api/account/tokens?address=).
func New(endpoint string) *Tronscan {
	return &Tronscan{
		url: endpoint,
		c:   &http.Client{Timeout: reqTimeout},
	}
}

// Balance returns the USDT balance held at addr. An address holding no USDT has balance zero, it is not an error.
func (t *Tronscan) Balance(ctx context.Context, addr string) (decimal.Decimal, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.url+addr, nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", fetch.ErrProtocol, err)
	}

	res, err := t.c.Do(req)
	if err != nil {
		return decimal.Zero, classify(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("%w: status %s", fetch.ErrProtocol, res.Status)
	}

	var reply accountReply
	if err = json.NewDecoder(res.Body).Decode(&reply); err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s", fetch.ErrProtocol, err)
	}

	bal := decimal.Zero

	for _, tok := range reply.Trc20TokenBalances {
		if tok.TokenName != usdtName {
			continue
		}

		raw, err := decimal.NewFromString(tok.Balance.String())
		if err != nil {
			return decimal.Zero, fmt.Errorf("%w: bad balance %q: %s", fetch.ErrProtocol, tok.Balance, err)
		}

		bal = raw.Shift(-usdtDecimals)
	}

	return bal, nil
}

// classify maps transport errors onto the fetch error taxonomy.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s", fetch.ErrTimeout, err)
	}

	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %s", fetch.ErrTimeout, err)
	}

	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%w: %s", fetch.ErrConnection, err)
	}

	return fmt.Errorf("%w: %s", fetch.ErrProtocol, err)
}
