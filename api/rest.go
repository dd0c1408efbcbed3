package api

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// router builds the API definition.
func (a *API) router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", a.homeHandler)
	r.HandleFunc("/healthz", a.healthHandler).Methods("GET")                    // liveness probe
	r.HandleFunc("/principals", a.registerHandler).Methods("POST")              // first contact, pending approval
	r.HandleFunc("/principals/pending", a.pendingHandler).Methods("GET")        // users awaiting approval
	r.HandleFunc("/principals/{id}/approve", a.approveHandler).Methods("POST")  // open the gate for a user
	r.HandleFunc("/principals/{id}/admin", a.setAdminHandler).Methods("POST")   // grant administrator role
	r.HandleFunc("/principals/{id}", a.rejectHandler).Methods("DELETE")         // reject = hard delete
	r.HandleFunc("/subscription", a.subscriptionHandler).Methods("PUT")         // toggle own subscription
	r.HandleFunc("/accounts", a.addAccountHandler).Methods("POST")              // register a tracked account
	r.HandleFunc("/accounts", a.listAccountsHandler).Methods("GET")             // own accounts, all for admins
	r.HandleFunc("/accounts/total", a.totalHandler).Methods("GET")              // sum of stored balances
	r.HandleFunc("/accounts/{nameOrAddr}", a.deleteAccountHandler).Methods("DELETE")
	r.HandleFunc("/refresh", a.refreshHandler).Methods("POST") // ask the reconciler for an immediate pass

	return r
}

// Init sets up and starts the http/https server to service the RESTful API for an api service. If sslPort, sslCert
// and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (a *API) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	var err, errTLS error

	r := a.router()
	http.Handle("/", r)

	// setup shutdown channel
	a.sc = make(chan struct{})

	// start http server
	if port != "" {
		a.s = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + port,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = a.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		a.ss = &http.Server{
			Handler: r,
			Addr:    endpoint + ":" + sslPort,
			// Good practice: enforce timeouts for servers you create!
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = a.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-a.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
