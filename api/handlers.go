package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"walletmon/lib/msg"
	"walletmon/lib/store"
)

// principalHeader carries the caller identity, injected by the chat gateway fronting this API.
const principalHeader = "X-Principal-Id"

// Errors returned to client requests.
var (
	ErrBadRequest  = errors.New("bad request")
	ErrNoPrincipal = errors.New("undefined principal - missing header " + principalHeader)
	ErrNotApproved = errors.New("access not approved - wait for an administrator")
	ErrForbidden   = errors.New("administrator rights required")
)

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body  string `json:"body"`
	Error string `json:"error,omitempty"`
}

// status maps an error to the http status code replied.
func status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, store.ErrDupAddress):
		return http.StatusConflict
	case errors.Is(err, store.ErrDataNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotApproved):
		return http.StatusForbidden
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrBadRequest), errors.Is(err, ErrNoPrincipal):
		return http.StatusBadRequest
	}

	return http.StatusInternalServerError
}

// reply writes the response and logs the request outcome.
func reply(rw http.ResponseWriter, r *http.Request, res *Response, err error) {
	if err != nil {
		res.Error = fmt.Sprintf("%s", err)
	}
	// log request
	log.Printf("httpreq from %v %s err:%e\n", r.RemoteAddr, r.RequestURI, err)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status(err))
	_ = json.NewEncoder(rw).Encode(res)
}

// caller resolves the requesting principal and enforces the approval gate. Unknown principals get the same
// answer as unapproved ones so ids cannot be probed.
func (a *API) caller(r *http.Request) (store.Principal, error) {
	id := r.Header.Get(principalHeader)
	if id == "" {
		return store.Principal{}, ErrNoPrincipal
	}

	p, err := a.db.GetPrincipal(id)
	if errors.Is(err, store.ErrDataNotFound) {
		return store.Principal{}, ErrNotApproved
	}

	if err != nil {
		return store.Principal{}, err
	}

	if !p.IsApproved {
		return store.Principal{}, ErrNotApproved
	}

	return p, nil
}

// admin resolves the requesting principal and requires the administrator role.
func (a *API) admin(r *http.Request) (store.Principal, error) {
	p, err := a.caller(r)
	if err != nil {
		return p, err
	}

	if !p.IsAdmin {
		return p, ErrForbidden
	}

	return p, nil
}

// homeHandler just replies a welcome message to the client.
func (a *API) homeHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	res.Body = "Hello, this is your wallet balance monitor!"
	reply(rw, r, &res, nil)
}

// healthHandler replies a liveness probe.
func (a *API) healthHandler(rw http.ResponseWriter, r *http.Request) {
	var res Response
	res.Body = "ok"
	reply(rw, r, &res, nil)
}

// registerHandler records a user on first contact. The record starts unapproved; registering again never resets
// an already granted approval or role.
func (a *API) registerHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	var req struct {
		ID    string `json:"id"`
		Label string `json:"label"`
	}

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
		err = ErrBadRequest

		return
	}

	if err = a.db.AddPrincipal(store.Principal{ID: req.ID, Label: req.Label}); err == nil {
		res.Body = "registered, pending administrator approval"
	}
}

// pendingHandler replies the users awaiting approval. Admin only.
func (a *API) pendingHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	if _, err = a.admin(r); err != nil {
		return
	}

	var pending []store.Principal
	if pending, err = a.db.PendingPrincipals(); err != nil {
		return
	}

	tmp, _ := json.Marshal(pending)
	res.Body = string(tmp)
}

// approveHandler opens the approval gate for the user. Admin only.
func (a *API) approveHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	if _, err = a.admin(r); err != nil {
		return
	}

	id := mux.Vars(r)["id"]
	if err = a.db.Approve(id); err == nil {
		res.Body = "approved"
	}
}

// setAdminHandler grants the administrator role to the user. Admin only, and one-way: there is no revoke, an
// untrusted user is rejected instead.
func (a *API) setAdminHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	if _, err = a.admin(r); err != nil {
		return
	}

	id := mux.Vars(r)["id"]
	if err = a.db.SetAdmin(id); err == nil {
		res.Body = "administrator granted"
	}
}

// rejectHandler removes the user record entirely. Admin only.
func (a *API) rejectHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	if _, err = a.admin(r); err != nil {
		return
	}

	id := mux.Vars(r)["id"]
	if err = a.db.Reject(id); err == nil {
		res.Body = "rejected"
	}
}

// subscriptionHandler toggles the caller's notification subscription.
func (a *API) subscriptionHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	var p store.Principal
	if p, err = a.caller(r); err != nil {
		return
	}

	var req struct {
		Subscribed bool `json:"subscribed"`
	}

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil {
		err = ErrBadRequest

		return
	}

	if err = a.db.SetSubscribed(p.ID, req.Subscribed); err == nil {
		if req.Subscribed {
			res.Body = "subscribed to balance notifications"
		} else {
			res.Body = "unsubscribed from balance notifications"
		}
	}
}

// addAccountHandler registers a tracked account. Admin only; the address must not be registered for any owner.
func (a *API) addAccountHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	var p store.Principal
	if p, err = a.admin(r); err != nil {
		return
	}

	var req struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	}

	if err = json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" || req.Address == "" {
		err = ErrBadRequest

		return
	}

	var id string
	if id, err = a.db.AddAccount(store.Account{
		OwnerID:     p.ID,
		Name:        req.Name,
		Addr:        req.Address,
		LastBalance: decimal.Zero,
	}); err == nil {
		res.Body = id
	}
}

// listAccountsHandler replies the caller's tracked accounts with their last observed balance. Admins see every
// account in the registry.
func (a *API) listAccountsHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	var p store.Principal
	if p, err = a.caller(r); err != nil {
		return
	}

	var accounts []store.Account

	if p.IsAdmin {
		accounts, err = a.db.GetAccounts()
	} else {
		accounts, err = a.db.GetOwnerAccounts(p.ID)
	}

	if err != nil {
		return
	}

	tmp, _ := json.Marshal(accounts)
	res.Body = string(tmp)
}

// totalHandler replies the sum of the stored balances of every tracked account, without querying the balance
// source. Admin only.
func (a *API) totalHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	if _, err = a.admin(r); err != nil {
		return
	}

	var accounts []store.Account
	if accounts, err = a.db.GetAccounts(); err != nil {
		return
	}

	total := decimal.Zero
	for _, acc := range accounts {
		total = total.Add(acc.LastBalance)
	}

	res.Body = total.StringFixed(2)
}

// deleteResult is the body replied by deleteAccountHandler.
type deleteResult struct {
	Deleted bool `json:"deleted"`
}

// deleteAccountHandler removes a tracked account by name or address. Owners remove their own accounts, admins
// anyone's. A miss is not an error: the reply carries deleted=false.
func (a *API) deleteAccountHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	var p store.Principal
	if p, err = a.caller(r); err != nil {
		return
	}

	owner := p.ID
	if p.IsAdmin {
		owner = "" // any owner
	}

	var ok bool
	if ok, err = a.db.RemoveAccount(owner, mux.Vars(r)["nameOrAddr"]); err != nil {
		return
	}

	tmp, _ := json.Marshal(deleteResult{Deleted: ok})
	res.Body = string(tmp)
}

// refreshHandler publishes a refresh request so the reconciler runs an immediate pass.
func (a *API) refreshHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res Response

	defer func() { reply(rw, r, &res, err) }()

	var p store.Principal
	if p, err = a.caller(r); err != nil {
		return
	}

	if err = a.mb.SendRefresh(msg.Refresh{By: p.ID}); err == nil {
		res.Body = "refresh requested"
	}
}
