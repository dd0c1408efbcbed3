package reconciler

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"walletmon/lib/store"
)

// fetchTimeout bounds one balance fetch. The pass context is only consulted between accounts, so a triad that
// already started always runs to completion and is never cancelled between notifying and persisting.
const fetchTimeout = 10 * time.Second

// Delta is the balance change observed for one account in one pass. Ephemeral, never persisted.
type Delta struct {
	Account  store.Account
	Previous decimal.Decimal
	New      decimal.Decimal
	Diff     decimal.Decimal // New minus Previous, never zero
}

// RunPass executes one reconciliation pass over every tracked account. Only a failure to read the registry or
// the subscriber list aborts the pass; any account-scoped failure is contained to that account.
func (r *Reconciler) RunPass(ctx context.Context) error {
	seq := atomic.AddUint64(&r.seq, 1)

	passes.Inc()

	accounts, err := r.db.GetAccounts()
	if err != nil {
		passFailures.Inc()

		return fmt.Errorf("cannot load tracked accounts: %w", err)
	}

	// the subscriber set is computed once per pass so every event of the pass sees the same recipients
	subs, err := r.db.Subscribers()
	if err != nil {
		passFailures.Inc()

		return fmt.Errorf("cannot load subscribers: %w", err)
	}

	log.Printf("[pass %d] Reconciling %d accounts for %d subscribers", seq, len(accounts), len(subs))

	g := new(errgroup.Group)
	g.SetLimit(r.workers)

	for _, a := range accounts {
		if ctx.Err() != nil {
			log.Printf("[pass %d] Cancelled, leaving remaining accounts to the next pass", seq)

			break
		}

		a := a

		g.Go(func() error {
			r.reconcile(seq, a, subs)

			return nil
		})
	}

	_ = g.Wait()

	return nil
}

// reconcile runs the fetch-diff-notify-persist triad for one account. Failures are logged and contained here so
// sibling accounts of the same pass are never affected.
func (r *Reconciler) reconcile(seq uint64, a store.Account, subs []store.Principal) {
	ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
	defer cancel()

	bal, err := r.f.Balance(ctx, a.Addr)
	if err != nil {
		// skipped for this pass, the next pass re-fetches the truth
		accountsSkipped.Inc()
		log.Printf("[pass %d] Skipping %s (%s), fetch failed:%e", seq, a.Name, a.Addr, err)

		return
	}

	log.Printf("[pass %d] Account %s (%s): stored balance %s, fetched balance %s", seq, a.Name, a.Addr,
		a.LastBalance, bal)

	if bal.Equal(a.LastBalance) {
		return
	}

	d := Delta{Account: a, Previous: a.LastBalance, New: bal, Diff: bal.Sub(a.LastBalance)}

	if d.Diff.IsPositive() {
		deltas.WithLabelValues("increase").Inc()
	} else {
		deltas.WithLabelValues("decrease").Inc()
	}

	// notify first, then persist unconditionally: the authoritative observed value must not depend on
	// delivery success
	r.fanOut(seq, d, subs)

	if err := r.db.SetBalance(a.Addr, bal); err != nil {
		log.Printf("[pass %d] Error persisting balance for %s (%s):%e", seq, a.Name, a.Addr, err)

		return
	}

	log.Printf("[pass %d] Updated stored balance for %s (%s) to %s", seq, a.Name, a.Addr, bal)
}
