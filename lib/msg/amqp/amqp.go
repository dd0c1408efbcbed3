// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/streadway/amqp"

	"walletmon/lib/msg"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

// New instantiates a new amqp broker.
func New(uri string) (msg.Broker, error) {
	r := Amqp{}
	var err error

	if r.conn, err = amqp.Dial(uri); err != nil {
		return &r, err
	}
	r.ch = nil
	log.Printf("Connected to %s", uri)

	return &r, err
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - rf ("refresh requests"): the api service publishes refresh requests to this exchange
//
// - nt ("notices"): the reconciler publishes per-recipient notification messages to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	if err = channel.ExchangeDeclare("rf", "topic", true, false, false, false, nil); err != nil {
		return err
	}
	err = channel.ExchangeDeclare("nt", "topic", true, false, false, false, nil)
	return err
}

// Close terminates gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	return r.conn.Close()
}

// Notify publishes one notification message for the recipient to the "nt" exchange. The chat gateway binds a
// queue to this exchange and delivers the text. A publish failure is the delivery failure of this recipient only.
func (r *Amqp) Notify(recipient, text string) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(msg.Notice{Recipient: recipient, Text: text}); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-notice-recipient": recipient},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish("nt", "user."+recipient, false, false, m); err != nil {
		log.Printf("Error sending notice to message broker %e", err)
	}
	return
}

// SendRefresh publishes a new refresh request to the "rf" exchange
func (r *Amqp) SendRefresh(rf msg.Refresh) (err error) {
	// marshal to JSON
	var jsonDoc []byte
	if jsonDoc, err = json.Marshal(rf); err != nil {
		return
	}
	// obtain channel if not present
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return
		}
	}
	// build body
	m := amqp.Publishing{
		Headers:     amqp.Table{"x-refresh-by": rf.By},
		Body:        jsonDoc,
		ContentType: "application/json",
	}
	// publish
	if err = r.ch.Publish("rf", "refresh."+rf.By, false, false, m); err != nil {
		log.Printf("Error sending refresh request to message broker %e", err)
	}
	return
}

// GetRefreshes consumes refresh requests from the "rf" exchange pushing them to the returned channel. The Mutex
// pointer is provided to ensure the consumed message has been fully dealt with by the management function, so the
// message consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetRefreshes(mut *sync.Mutex) (<-chan msg.Refresh, <-chan error, error) {
	var err error
	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return nil, nil, err
		}
	}
	// declare queue
	var q amqp.Queue
	if q, err = r.ch.QueueDeclare("rf.reconciler", true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	_ = q // otherwise compiler yields error, q not used

	// bind queue to exchange
	if err = r.ch.QueueBind("rf.reconciler", "refresh.*", "rf", false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving requests
	msgs, errCons := r.ch.Consume("rf.reconciler", "reconciler", false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	reqs := make(chan msg.Refresh)
	errors := make(chan error)
	// start routine to consume messages from broker
	go func() {
		for m := range msgs {
			var rf *msg.Refresh = new(msg.Refresh)
			err := json.Unmarshal(m.Body, rf)
			if err != nil {
				errors <- err
				continue
			}
			reqs <- *rf
			mut.Lock() // wait for the reconciler to finish the requested pass
			m.Ack(false)
		}
	}()
	return reqs, errors, nil
}
