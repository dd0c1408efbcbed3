// Package msg defines the interface for different message brokers.
//
package msg

import (
	"sync"
)

// Refresh defines the message that the api service publishes to the reconciler to ask for an immediate
// reconciliation pass outside the regular schedule.
type Refresh struct {
	By string `json:"by"` // principal that asked for the refresh
}

// Notice defines the message published per recipient when a balance change must be notified. A chat gateway
// consumes the queue and delivers Text to the recipient.
type Notice struct {
	Recipient string `json:"recipient"`
	Text      string `json:"text"`
}

type Broker interface {
	Setup(interface{}) error
	Close() error

	// methods for api service
	SendRefresh(r Refresh) error

	// methods for reconciler service
	Notify(recipient, text string) error
	GetRefreshes(mut *sync.Mutex) (<-chan Refresh, <-chan error, error)
}
