package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "tradeledger"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	syncsRun := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "syncs_run_total",
		Help:      "Total number of reconciliation runs started.",
	})
	syncsFailed := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "syncs_failed_total",
		Help:      "Total number of reconciliation runs that failed.",
	})
	noNewOrders := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "no_new_orders_total",
		Help:      "Total number of runs that found nothing to record.",
	})
	malformedOrders := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "malformed_orders_total",
		Help:      "Total number of upstream records dropped during normalization.",
	})
	tradesCreated := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "trades_created_total",
		Help:      "Total number of round-trip trades written to ledgers.",
	})
	persistConflicts := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: promNamespace,
		Name:      "persist_conflicts_total",
		Help:      "Total number of ledger write conflicts.",
	})

	registry.MustRegister(syncsRun, syncsFailed, noNewOrders, malformedOrders, tradesCreated, persistConflicts)

	m := &Metrics{
		SyncsRun:         promCounter{syncsRun},
		SyncsFailed:      promCounter{syncsFailed},
		NoNewOrders:      promCounter{noNewOrders},
		MalformedOrders:  promCounter{malformedOrders},
		TradesCreated:    promCounter{tradesCreated},
		PersistConflicts: promCounter{persistConflicts},
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
