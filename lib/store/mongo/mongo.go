// Package mongo implements the store interface for MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"walletmon/lib/store"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c *mgo.Client
}

// mongoAccount implements a store account to MongoDB. Balances are kept as decimal strings so no precision is
// lost in the numeric codec.
type mongoAccount struct {
	ID          string `json:"_id" bson:"_id"`
	OwnerID     string `json:"owner_id" bson:"owner_id"`
	Name        string `json:"name" bson:"name"`
	Addr        string `json:"addr" bson:"addr"`
	LastBalance string `json:"last_balance" bson:"last_balance"`
}

// Account converts a mongoAccount to store.Account type.
func (a mongoAccount) Account() (store.Account, error) {
	bal, err := decimal.NewFromString(a.LastBalance)
	if err != nil {
		return store.Account{}, fmt.Errorf("bad balance %q for %s: %w", a.LastBalance, a.Addr, err)
	}
	return store.Account{ID: a.ID, OwnerID: a.OwnerID, Name: a.Name, Addr: a.Addr, LastBalance: bal}, nil
}

// mongoPrincipal implements a store principal to MongoDB.
type mongoPrincipal struct {
	ID           string `json:"_id" bson:"_id"`
	Label        string `json:"label,omitempty" bson:"label,omitempty"`
	IsAdmin      bool   `json:"is_admin" bson:"is_admin"`
	IsApproved   bool   `json:"is_approved" bson:"is_approved"`
	IsSubscribed bool   `json:"is_subscribed" bson:"is_subscribed"`
}

// Principal converts a mongoPrincipal to store.Principal type.
func (p mongoPrincipal) Principal() store.Principal {
	return store.Principal{ID: p.ID, Label: p.Label, IsAdmin: p.IsAdmin, IsApproved: p.IsApproved, IsSubscribed: p.IsSubscribed}
}

// New returns a Mongo client connection to the specified MongoDB database uri.
func New(uri string) (*Mongo, error) {
	// get a client
	c, err := mgo.NewClient(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("cannot connect to mongo DB in %s: %w", uri, err)
	}
	// connect client
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	err = c.Connect(ctx)
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	return &Mongo{c: c}, nil
}

// CloseMongo will close a database connection. Must be called at termination time.
func (m *Mongo) CloseMongo() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) accounts() *mgo.Collection {
	return m.c.Database("walletmon").Collection("accounts")
}

func (m *Mongo) principals() *mgo.Collection {
	return m.c.Database("walletmon").Collection("principals")
}

// Init ensures the unique index on the account address and backfills fields added after first release with their
// default values, so records written by older versions keep working.
func (m *Mongo) Init() error {
	_, err := m.accounts().Indexes().CreateOne(context.Background(), mgo.IndexModel{
		Keys:    bson.D{{Key: "addr", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("could not ensure unique address index: %w", err)
	}

	if _, err = m.accounts().UpdateMany(context.Background(),
		bson.M{"last_balance": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"last_balance": "0"}}); err != nil {
		return fmt.Errorf("could not backfill last_balance: %w", err)
	}

	if _, err = m.principals().UpdateMany(context.Background(),
		bson.M{"is_subscribed": bson.M{"$exists": false}},
		bson.M{"$set": bson.M{"is_subscribed": false}}); err != nil {
		return fmt.Errorf("could not backfill is_subscribed: %w", err)
	}

	return nil
}

// AddAccount saves an account if the address is not already registered for any owner.
func (m *Mongo) AddAccount(a store.Account) (string, error) {
	col := m.accounts()

	// try and find it
	var ma mongoAccount

	filter := bson.M{"addr": a.Addr}
	sr := col.FindOne(context.Background(), filter)

	err := sr.Decode(&ma)
	if errors.Is(err, mgo.ErrNoDocuments) { // if not found, do insert it!!
		if a.ID == "" {
			a.ID = uuid.NewString()
		}

		_, errIns := col.InsertOne(context.Background(), mongoAccount{
			ID:          a.ID,
			OwnerID:     a.OwnerID,
			Name:        a.Name,
			Addr:        a.Addr,
			LastBalance: a.LastBalance.String(),
		})
		if errIns != nil {
			if mgo.IsDuplicateKeyError(errIns) { // lost the race to another writer
				return "", store.ErrDupAddress
			}

			return "", fmt.Errorf("could not insert account in db: %w", errIns)
		}

		return a.ID, nil
	}

	if err != nil {
		return "", fmt.Errorf("could not insert account in db: %w", err)
	}

	return "", store.ErrDupAddress
}

// RemoveAccount deletes an account matched by name or address. An empty ownerID matches any owner (administrator
// action). Returns false when no record matched, so callers can present a uniform "nothing to delete" outcome.
func (m *Mongo) RemoveAccount(ownerID, nameOrAddr string) (bool, error) {
	filter := bson.M{"$or": bson.A{bson.M{"name": nameOrAddr}, bson.M{"addr": nameOrAddr}}}
	if ownerID != "" {
		filter = bson.M{"owner_id": ownerID, "$or": bson.A{bson.M{"name": nameOrAddr}, bson.M{"addr": nameOrAddr}}}
	}

	res, err := m.accounts().DeleteOne(context.Background(), filter)
	if err != nil {
		return false, fmt.Errorf("could not delete account from db: %w", err)
	}

	return res.DeletedCount > 0, nil
}

// GetAccounts returns every tracked account in the registry.
func (m *Mongo) GetAccounts() ([]store.Account, error) {
	return m.findAccounts(bson.M{})
}

// GetOwnerAccounts returns the accounts tracked by the given owner.
func (m *Mongo) GetOwnerAccounts(ownerID string) ([]store.Account, error) {
	return m.findAccounts(bson.M{"owner_id": ownerID})
}

func (m *Mongo) findAccounts(filter bson.M) ([]store.Account, error) {
	cur, err := m.accounts().Find(context.Background(), filter)
	if err != nil {
		return nil, fmt.Errorf("error getting accounts from db: %w", err)
	}
	defer cur.Close(context.Background())

	accounts := []store.Account{}

	for cur.Next(context.Background()) {
		var ma mongoAccount
		if err = cur.Decode(&ma); err != nil {
			return nil, fmt.Errorf("error decoding account: %w", err)
		}

		a, err := ma.Account()
		if err != nil {
			return nil, err
		}

		accounts = append(accounts, a)
	}

	return accounts, cur.Err()
}

// SetBalance updates the last observed balance of the account registered at addr.
func (m *Mongo) SetBalance(addr string, bal decimal.Decimal) error {
	res, err := m.accounts().UpdateOne(context.Background(),
		bson.M{"addr": addr},
		bson.M{"$set": bson.M{"last_balance": bal.String()}})
	if err != nil {
		return fmt.Errorf("could not update balance in db: %w", err)
	}

	if res.MatchedCount == 0 {
		return store.ErrDataNotFound
	}

	return nil
}

// AddPrincipal inserts a principal on first contact. Existing records are left untouched so repeated contacts
// never reset roles or approval.
func (m *Mongo) AddPrincipal(p store.Principal) error {
	_, err := m.principals().UpdateOne(context.Background(),
		bson.M{"_id": p.ID},
		bson.M{"$setOnInsert": mongoPrincipal{ID: p.ID, Label: p.Label}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not insert principal in db: %w", err)
	}

	return nil
}

// GetPrincipal returns the principal with the given id or ErrDataNotFound.
func (m *Mongo) GetPrincipal(id string) (store.Principal, error) {
	var mp mongoPrincipal

	err := m.principals().FindOne(context.Background(), bson.M{"_id": id}).Decode(&mp)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.Principal{}, store.ErrDataNotFound
	}

	if err != nil {
		return store.Principal{}, fmt.Errorf("error getting principal from db: %w", err)
	}

	return mp.Principal(), nil
}

// EnsureSeedAdmin upserts the seed administrator, asserting the admin and approved flags. Idempotent, run at
// every startup.
func (m *Mongo) EnsureSeedAdmin(id string) error {
	_, err := m.principals().UpdateOne(context.Background(),
		bson.M{"_id": id},
		bson.M{"$set": bson.M{"is_admin": true, "is_approved": true}},
		options.Update().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("could not ensure seed admin in db: %w", err)
	}

	return nil
}

// SetAdmin grants the administrator role. There is no revocation path: untrusted principals are rejected instead.
func (m *Mongo) SetAdmin(id string) error {
	return m.setFlag(id, bson.M{"is_admin": true, "is_approved": true})
}

// Approve marks the principal as approved, opening the gate to the rest of the functionality.
func (m *Mongo) Approve(id string) error {
	return m.setFlag(id, bson.M{"is_approved": true})
}

// SetSubscribed toggles the notification subscription.
func (m *Mongo) SetSubscribed(id string, sub bool) error {
	return m.setFlag(id, bson.M{"is_subscribed": sub})
}

func (m *Mongo) setFlag(id string, set bson.M) error {
	res, err := m.principals().UpdateOne(context.Background(), bson.M{"_id": id}, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("could not update principal in db: %w", err)
	}

	if res.MatchedCount == 0 {
		return store.ErrDataNotFound
	}

	return nil
}

// Reject removes the principal record entirely.
func (m *Mongo) Reject(id string) error {
	res, err := m.principals().DeleteOne(context.Background(), bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("could not delete principal from db: %w", err)
	}

	if res.DeletedCount == 0 {
		return store.ErrDataNotFound
	}

	return nil
}

// PendingPrincipals returns the principals awaiting administrator approval.
func (m *Mongo) PendingPrincipals() ([]store.Principal, error) {
	return m.findPrincipals(bson.M{"is_approved": false})
}

// Subscribers returns the principals subscribed to balance notifications, admin flag included so the fan-out can
// filter decrease events without further queries.
func (m *Mongo) Subscribers() ([]store.Principal, error) {
	return m.findPrincipals(bson.M{"is_subscribed": true})
}

func (m *Mongo) findPrincipals(filter bson.M) ([]store.Principal, error) {
	cur, err := m.principals().Find(context.Background(), filter)
	if err != nil {
		return nil, fmt.Errorf("error getting principals from db: %w", err)
	}
	defer cur.Close(context.Background())

	ps := []store.Principal{}

	for cur.Next(context.Background()) {
		var mp mongoPrincipal
		if err = cur.Decode(&mp); err != nil {
			return nil, fmt.Errorf("error decoding principal: %w", err)
		}

		ps = append(ps, mp.Principal())
	}

	return ps, cur.Err()
}
