package reconciler

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"walletmon/lib/store"
)

func TestRecipients(t *testing.T) {
	subs := []store.Principal{
		{ID: "A", IsAdmin: true, IsSubscribed: true},
		{ID: "B", IsSubscribed: true},
		{ID: "C", IsSubscribed: true},
	}

	cases := []struct {
		name string
		diff string
		want []string
	}{
		{"increase_all", "5", []string{"A", "B", "C"}},
		{"decrease_admins", "-5", []string{"A"}},
		{"zero_treated_as_decrease", "0", []string{"A"}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := recipients(subs, dec(c.diff))

			ids := make([]string, 0, len(got))
			for _, p := range got {
				ids = append(ids, p.ID)
			}

			assert.Equal(t, c.want, ids)
		})
	}
}

func TestRecipientsNoSubscribers(t *testing.T) {
	assert.Empty(t, recipients(nil, dec("5")))
	assert.Empty(t, recipients([]store.Principal{}, dec("-5")))
}

func TestMessage(t *testing.T) {
	acc := store.Account{Name: "ops", Addr: "addr1"}

	up := message(Delta{Account: acc, Previous: dec("100"), New: dec("150"), Diff: dec("50")})
	assert.Contains(t, up, "deposit")
	assert.Contains(t, up, "ops")
	assert.Contains(t, up, "addr1")
	assert.Contains(t, up, "+50.00 USDT")
	assert.Contains(t, up, "150.00 USDT")

	down := message(Delta{Account: acc, Previous: dec("150"), New: dec("120"), Diff: dec("-30")})
	assert.Contains(t, down, "withdrawal")
	assert.Contains(t, down, "-30.00 USDT")
	assert.Contains(t, down, "120.00 USDT")
}
