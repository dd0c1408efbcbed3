package reconciler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walletmon/lib/fetch"
	"walletmon/lib/msg"
	"walletmon/lib/store"
)

// fakeDB implements the store methods the reconciler exercises. SetBalance mutates the account slice so chained
// passes observe the previously persisted value, as the real store would.
type fakeDB struct {
	store.DB // panic on any method the reconciler must not call

	mu          sync.Mutex
	accounts    []store.Account
	subs        []store.Principal
	writes      []string // addresses persisted, in order
	accountsErr error
	subsErr     error
	setErr      error
}

func (f *fakeDB) GetAccounts() ([]store.Account, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.accountsErr != nil {
		return nil, f.accountsErr
	}

	out := make([]store.Account, len(f.accounts))
	copy(out, f.accounts)

	return out, nil
}

func (f *fakeDB) Subscribers() ([]store.Principal, error) {
	if f.subsErr != nil {
		return nil, f.subsErr
	}

	return f.subs, nil
}

func (f *fakeDB) SetBalance(addr string, bal decimal.Decimal) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.setErr != nil {
		return f.setErr
	}

	f.writes = append(f.writes, addr)

	for i := range f.accounts {
		if f.accounts[i].Addr == addr {
			f.accounts[i].LastBalance = bal
		}
	}

	return nil
}

func (f *fakeDB) balance(addr string) decimal.Decimal {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, a := range f.accounts {
		if a.Addr == addr {
			return a.LastBalance
		}
	}

	return decimal.Zero
}

// fakeFetcher serves balances from a map; missing addresses fail the fetch.
type fakeFetcher struct {
	mu   sync.Mutex
	bals map[string]decimal.Decimal
}

func (f *fakeFetcher) Balance(_ context.Context, addr string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bal, ok := f.bals[addr]
	if !ok {
		return decimal.Zero, fetch.ErrConnection
	}

	return bal, nil
}

func (f *fakeFetcher) set(addr string, bal decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bals[addr] = bal
}

// fakeBroker records notification attempts and can fail selected recipients.
type fakeBroker struct {
	msg.Broker

	mu      sync.Mutex
	notices []msg.Notice
	failFor map[string]bool
}

func (f *fakeBroker) Notify(recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failFor[recipient] {
		return errors.New("delivery refused")
	}

	f.notices = append(f.notices, msg.Notice{Recipient: recipient, Text: text})

	return nil
}

func (f *fakeBroker) recipients() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	rs := make([]string, 0, len(f.notices))
	for _, n := range f.notices {
		rs = append(rs, n.Recipient)
	}

	return rs
}

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}

	return d
}

func newTestReconciler(db *fakeDB, f *fakeFetcher, mb *fakeBroker) *Reconciler {
	return New(db, f, mb, time.Minute, 2, 2)
}

func TestPassUnchanged(t *testing.T) {
	db := &fakeDB{
		accounts: []store.Account{{ID: "1", OwnerID: "A", Name: "ops", Addr: "addr1", LastBalance: dec("100.00")}},
		subs:     []store.Principal{{ID: "A", IsAdmin: true, IsSubscribed: true}},
	}
	f := &fakeFetcher{bals: map[string]decimal.Decimal{"addr1": dec("100.00")}}
	mb := &fakeBroker{}

	require.NoError(t, newTestReconciler(db, f, mb).RunPass(context.Background()))

	assert.Empty(t, mb.notices, "unchanged balance must not notify")
	assert.Empty(t, db.writes, "unchanged balance must not write")
}

func TestPassIncreaseNotifiesAllSubscribers(t *testing.T) {
	db := &fakeDB{
		accounts: []store.Account{{ID: "1", OwnerID: "A", Name: "ops", Addr: "addr1", LastBalance: dec("100.00")}},
		subs: []store.Principal{
			{ID: "A", IsAdmin: true, IsSubscribed: true},
			{ID: "B", IsSubscribed: true},
			{ID: "C", IsSubscribed: true},
		},
	}
	f := &fakeFetcher{bals: map[string]decimal.Decimal{"addr1": dec("150.00")}}
	mb := &fakeBroker{}

	require.NoError(t, newTestReconciler(db, f, mb).RunPass(context.Background()))

	assert.ElementsMatch(t, []string{"A", "B", "C"}, mb.recipients())
	assert.Equal(t, []string{"addr1"}, db.writes, "exactly one write per changed account")
	assert.True(t, db.balance("addr1").Equal(dec("150.00")))

	for _, n := range mb.notices {
		assert.Contains(t, n.Text, "+50.00")
		assert.Contains(t, n.Text, "150.00")
	}
}

func TestPassDecreaseNotifiesAdminsOnly(t *testing.T) {
	db := &fakeDB{
		accounts: []store.Account{{ID: "1", OwnerID: "A", Name: "ops", Addr: "addr1", LastBalance: dec("150.00")}},
		subs: []store.Principal{
			{ID: "A", IsAdmin: true, IsSubscribed: true},
			{ID: "B", IsSubscribed: true},
			{ID: "C", IsSubscribed: true},
		},
	}
	f := &fakeFetcher{bals: map[string]decimal.Decimal{"addr1": dec("120.00")}}
	mb := &fakeBroker{}

	require.NoError(t, newTestReconciler(db, f, mb).RunPass(context.Background()))

	assert.Equal(t, []string{"A"}, mb.recipients(), "decreases are admin-only")
	assert.True(t, db.balance("addr1").Equal(dec("120.00")), "persistence does not depend on the recipient set")

	require.Len(t, mb.notices, 1)
	assert.Contains(t, mb.notices[0].Text, "-30.00")
}

// TestPassSequence walks one account through three passes: no change, a deposit and a withdrawal.
func TestPassSequence(t *testing.T) {
	db := &fakeDB{
		accounts: []store.Account{{ID: "1", OwnerID: "A", Name: "ops", Addr: "addr1", LastBalance: dec("100.00")}},
		subs: []store.Principal{
			{ID: "A", IsAdmin: true, IsSubscribed: true},
			{ID: "B", IsSubscribed: true},
		},
	}
	f := &fakeFetcher{bals: map[string]decimal.Decimal{"addr1": dec("100.00")}}
	mb := &fakeBroker{}
	r := newTestReconciler(db, f, mb)

	require.NoError(t, r.RunPass(context.Background()))
	assert.Empty(t, mb.notices)
	assert.True(t, db.balance("addr1").Equal(dec("100.00")))

	f.set("addr1", dec("150.00"))
	require.NoError(t, r.RunPass(context.Background()))
	assert.ElementsMatch(t, []string{"A", "B"}, mb.recipients())
	assert.True(t, db.balance("addr1").Equal(dec("150.00")))

	mb.notices = nil

	f.set("addr1", dec("120.00"))
	require.NoError(t, r.RunPass(context.Background()))
	assert.Equal(t, []string{"A"}, mb.recipients())
	assert.True(t, db.balance("addr1").Equal(dec("120.00")))
}

func TestFetchFailureSkipsAccountOnly(t *testing.T) {
	db := &fakeDB{
		accounts: []store.Account{
			{ID: "1", OwnerID: "A", Name: "ops", Addr: "addr1", LastBalance: dec("100.00")},
			{ID: "2", OwnerID: "A", Name: "cold", Addr: "addr2", LastBalance: dec("10.00")},
		},
		subs: []store.Principal{{ID: "A", IsAdmin: true, IsSubscribed: true}},
	}
	// addr1 missing from the fetcher, its fetch fails
	f := &fakeFetcher{bals: map[string]decimal.Decimal{"addr2": dec("25.00")}}
	mb := &fakeBroker{}

	require.NoError(t, newTestReconciler(db, f, mb).RunPass(context.Background()), "a fetch failure is not pass-fatal")

	assert.Equal(t, []string{"addr2"}, db.writes, "no partial write for the skipped account")
	assert.True(t, db.balance("addr1").Equal(dec("100.00")), "stale balance stands until the next pass")
	assert.True(t, db.balance("addr2").Equal(dec("25.00")))
}

func TestDeliveryFailureDoesNotBlockSiblingsOrPersistence(t *testing.T) {
	db := &fakeDB{
		accounts: []store.Account{{ID: "1", OwnerID: "A", Name: "ops", Addr: "addr1", LastBalance: dec("100.00")}},
		subs: []store.Principal{
			{ID: "A", IsAdmin: true, IsSubscribed: true},
			{ID: "B", IsSubscribed: true},
			{ID: "C", IsSubscribed: true},
		},
	}
	f := &fakeFetcher{bals: map[string]decimal.Decimal{"addr1": dec("150.00")}}
	mb := &fakeBroker{failFor: map[string]bool{"B": true}}

	require.NoError(t, newTestReconciler(db, f, mb).RunPass(context.Background()))

	assert.ElementsMatch(t, []string{"A", "C"}, mb.recipients(), "the other recipients are still attempted")
	assert.Equal(t, []string{"addr1"}, db.writes, "persistence does not depend on delivery outcome")
}

func TestPersistenceFailureLeavesStaleBalance(t *testing.T) {
	db := &fakeDB{
		accounts: []store.Account{{ID: "1", OwnerID: "A", Name: "ops", Addr: "addr1", LastBalance: dec("100.00")}},
		subs:     []store.Principal{{ID: "A", IsAdmin: true, IsSubscribed: true}},
		setErr:   errors.New("db gone"),
	}
	f := &fakeFetcher{bals: map[string]decimal.Decimal{"addr1": dec("150.00")}}
	mb := &fakeBroker{}

	require.NoError(t, newTestReconciler(db, f, mb).RunPass(context.Background()), "a persistence failure is account-scoped")

	assert.Len(t, mb.notices, 1, "the already-sent notification is not compensated")
	assert.True(t, db.balance("addr1").Equal(dec("100.00")))
}

func TestPassFatalErrors(t *testing.T) {
	f := &fakeFetcher{bals: map[string]decimal.Decimal{}}
	mb := &fakeBroker{}

	db := &fakeDB{accountsErr: errors.New("registry unreadable")}
	require.Error(t, newTestReconciler(db, f, mb).RunPass(context.Background()))

	db = &fakeDB{
		accounts: []store.Account{{ID: "1", Addr: "addr1", LastBalance: dec("1")}},
		subsErr:  errors.New("principals unreadable"),
	}
	require.Error(t, newTestReconciler(db, f, mb).RunPass(context.Background()))
	assert.Empty(t, mb.notices)
	assert.Empty(t, db.writes)
}

func TestCancelledPassStopsAtAccountBoundary(t *testing.T) {
	db := &fakeDB{
		accounts: []store.Account{
			{ID: "1", Addr: "addr1", LastBalance: dec("1")},
			{ID: "2", Addr: "addr2", LastBalance: dec("1")},
		},
		subs: []store.Principal{},
	}
	f := &fakeFetcher{bals: map[string]decimal.Decimal{"addr1": dec("2"), "addr2": dec("2")}}
	mb := &fakeBroker{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // already cancelled: no account may start

	require.NoError(t, newTestReconciler(db, f, mb).RunPass(ctx))
	assert.Empty(t, db.writes)
}
