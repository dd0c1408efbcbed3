// package api implements the api microservice.
//
// This microservice implements a RESTful API for clients to manage tracked accounts, user approval and
// notification subscriptions. Callers identify themselves with the X-Principal-Id header, injected by the chat
// gateway fronting this service; unapproved users can only register and wait for an administrator.
package api

import (
	"context"
	"log"
	"net/http"

	"walletmon/lib/msg"
	"walletmon/lib/store"
	"walletmon/lib/store/db"
)

// API contains the data necessary to deliver the service
type API struct {
	dbtype string
	db     store.DB   // db connection
	mb     msg.Broker // message broker connection
	s      *http.Server
	ss     *http.Server
	sc     chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new API service
func New(dbtype string, dbConn store.DB, mb msg.Broker) *API {
	return &API{
		dbtype: dbtype,
		db:     dbConn,
		mb:     mb,
	}
}

// Stop shuts down the http servers implementing the RESTful API and closes gracefully the connections to the
// message broker and database.
func (a *API) Stop() {
	var err error
	// shutdown http server
	if a.s != nil {
		if err = a.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}
	if a.ss != nil {
		if err = a.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}
	close(a.sc) // close server channels to indicate shutdowns have finished
	// close message broker
	if err = a.mb.Close(); err != nil {
		log.Printf("Error closing message broker:%e", err)
	}
	// close database
	if a.db != nil {
		err = db.Close(a.dbtype, a.db)
		log.Printf("Disconnecting %v database, err:%e\n", a.dbtype, err)
	}
}
