package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Counters exposed on the Prometheus endpoint when the service runs with the "-m" flag.
var (
	passes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletmon_passes_total",
		Help: "Reconciliation passes started.",
	})
	passFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletmon_pass_failures_total",
		Help: "Reconciliation passes aborted before reaching any account.",
	})
	accountsSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletmon_accounts_skipped_total",
		Help: "Accounts skipped for one pass because the balance fetch failed.",
	})
	deltas = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "walletmon_deltas_total",
		Help: "Balance changes detected, by direction.",
	}, []string{"direction"})
	noticesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletmon_notices_sent_total",
		Help: "Notification messages delivered to the broker.",
	})
	noticesFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "walletmon_notices_failed_total",
		Help: "Notification deliveries that failed.",
	})
)
