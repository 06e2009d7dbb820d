package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestPrometheusCounters(t *testing.T) {
	prom := NewPrometheus()
	prom.Metrics.SyncsRun.Inc()
	prom.Metrics.SyncsRun.Inc()
	prom.Metrics.SyncsFailed.Inc()
	prom.Metrics.NoNewOrders.Inc()
	prom.Metrics.MalformedOrders.Inc()
	prom.Metrics.TradesCreated.Inc()
	prom.Metrics.PersistConflicts.Inc()

	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Result().Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}

	wants := []string{
		"tradeledger_syncs_run_total 2",
		"tradeledger_syncs_failed_total 1",
		"tradeledger_no_new_orders_total 1",
		"tradeledger_malformed_orders_total 1",
		"tradeledger_trades_created_total 1",
		"tradeledger_persist_conflicts_total 1",
	}
	for _, want := range wants {
		if !strings.Contains(string(body), want) {
			t.Fatalf("scrape missing %q in:\n%s", want, body)
		}
	}
}

func TestNoopMetricsAreSafe(t *testing.T) {
	m := NewNoop()
	m.SyncsRun.Inc()
	m.TradesCreated.Inc()
}
