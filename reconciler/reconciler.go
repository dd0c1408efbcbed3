// Package reconciler implements the balance reconciliation microservice. The reconciler periodically fetches the
// current balance of every tracked account, compares it against the last observed value and, when it changed,
// fans out notifications to the eligible subscribers before persisting the new balance.
package reconciler

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"walletmon/lib/fetch"
	"walletmon/lib/msg"
	"walletmon/lib/store"
)

// Reconciler implements a reconciler service.
type Reconciler struct {
	db       store.DB
	f        fetch.Fetcher
	mb       msg.Broker
	interval time.Duration
	workers  int // accounts reconciled concurrently within a pass
	senders  int // notification deliveries in flight per event

	cron *cron.Cron
	job  cron.Job // the scheduled pass, wrapped so runs never overlap
	seq  uint64   // pass sequence number, incremented atomically

	ctx    context.Context
	cancel context.CancelFunc
}

// New instantiates a new reconciler service.
func New(db store.DB, f fetch.Fetcher, mb msg.Broker, interval time.Duration, workers, senders int) *Reconciler {
	if workers < 1 {
		workers = 1
	}
	if senders < 1 {
		senders = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Reconciler{
		db:       db,
		f:        f,
		mb:       mb,
		interval: interval,
		workers:  workers,
		senders:  senders,
		cron:     cron.New(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start schedules the periodic reconciliation pass and begins consuming refresh requests from the broker. The
// pass job is wrapped with SkipIfStillRunning: a trigger that fires while the previous pass is still going is
// dropped, so two passes never race on the same account's stored balance.
func (r *Reconciler) Start() error {
	logger := cron.PrintfLogger(log.New(os.Stdout, "cron: ", log.LstdFlags))

	r.job = cron.NewChain(cron.SkipIfStillRunning(logger)).Then(cron.FuncJob(r.scheduled))
	r.cron.Schedule(cron.Every(r.interval), r.job)

	if err := r.manageRefreshes(); err != nil {
		return fmt.Errorf("reconciler: cannot consume refresh requests: %w", err)
	}

	r.cron.Start()
	log.Printf("Reconciling every %s with %d workers", r.interval, r.workers)

	return nil
}

// Stop asks the current pass, if any, to finish at the next account boundary and waits for it. After Stop
// returns no further passes run.
func (r *Reconciler) Stop() {
	r.cancel()
	<-r.cron.Stop().Done()
}

// scheduled runs one pass on behalf of the cron trigger. A pass-fatal error is logged and the next trigger
// tries again.
func (r *Reconciler) scheduled() {
	if err := r.RunPass(r.ctx); err != nil {
		log.Printf("Reconciliation pass aborted:%e", err)
	}
}

// manageRefreshes starts a go routine to receive refresh requests published by the api service and run an extra
// pass for each. The extra pass goes through the same non-overlapping job wrapper as the scheduled ones.
func (r *Reconciler) manageRefreshes() error {
	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	reqCh, errCh, err := r.mb.GetRefreshes(mut)
	if err != nil {
		return err
	}

	go func() {
		log.Printf("Start listening to refresh request channel")

		for {
			select {
			case req, ok := (<-reqCh):
				if !ok {
					log.Printf("Stop listening to refresh request channel")

					return
				}

				log.Printf("Received refresh request from %s", req.By)
				r.job.Run()

				mut.Unlock()
			case e, ok := (<-errCh):
				if !ok {
					log.Printf("Stop listening to refresh request channel")

					return
				}

				log.Printf("Received error %+v", e)
			case <-r.ctx.Done():
				log.Printf("Stop listening to refresh request channel")

				return
			}
		}
	}()

	return nil
}
