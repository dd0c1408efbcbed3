package reconciler

import (
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"walletmon/lib/store"
)

// recipients filters the subscriber set for one delta. Increases are broadcast to every subscriber; decreases
// are administrator-sensitive information and reach admin subscribers only.
func recipients(subs []store.Principal, diff decimal.Decimal) []store.Principal {
	rs := make([]store.Principal, 0, len(subs))

	for _, p := range subs {
		if diff.IsPositive() || p.IsAdmin {
			rs = append(rs, p)
		}
	}

	return rs
}

// message renders the notification text for a delta.
func message(d Delta) string {
	if d.Diff.IsPositive() {
		return fmt.Sprintf("USDT deposit!\nAccount: %s\nAddress: %s\nAmount: +%s USDT\nNew balance: %s USDT",
			d.Account.Name, d.Account.Addr, d.Diff.StringFixed(2), d.New.StringFixed(2))
	}

	return fmt.Sprintf("USDT withdrawal!\nAccount: %s\nAddress: %s\nAmount: -%s USDT\nNew balance: %s USDT",
		d.Account.Name, d.Account.Addr, d.Diff.Abs().StringFixed(2), d.New.StringFixed(2))
}

// fanOut attempts delivery to every eligible recipient independently. One recipient's failure is logged and does
// not prevent the attempts to the rest; a notification missed here is not resent, the balance is persisted
// regardless.
func (r *Reconciler) fanOut(seq uint64, d Delta, subs []store.Principal) {
	rs := recipients(subs, d.Diff)
	if len(rs) == 0 {
		return
	}

	text := message(d)

	log.Printf("[pass %d] Sending %s event for %s to %d recipients", seq, direction(d.Diff), d.Account.Addr, len(rs))

	g := new(errgroup.Group)
	g.SetLimit(r.senders)

	for _, p := range rs {
		p := p

		g.Go(func() error {
			if err := r.mb.Notify(p.ID, text); err != nil {
				noticesFailed.Inc()
				log.Printf("[pass %d] Error notifying %s:%e", seq, p.ID, err)

				return nil
			}

			noticesSent.Inc()

			return nil
		})
	}

	_ = g.Wait()
}

func direction(diff decimal.Decimal) string {
	if diff.IsPositive() {
		return "increase"
	}

	return "decrease"
}
