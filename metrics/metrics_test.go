package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dagshield/dagshield-node/dag"
)

func TestObserveTransaction(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveTransaction(true, 5*time.Millisecond)
	m.ObserveTransaction(false, time.Millisecond)

	body := scrape(t, m)
	if !strings.Contains(body, "test_transactions_total 2") {
		t.Error("expected 2 total transactions")
	}
	if !strings.Contains(body, "test_transactions_processed_total 1") {
		t.Error("expected 1 processed transaction")
	}
	if !strings.Contains(body, "test_transactions_failed_total 1") {
		t.Error("expected 1 failed transaction")
	}
}

func TestObserveGraph(t *testing.T) {
	m := NewMetrics("test")

	m.ObserveGraph(dag.Stats{
		TotalNodes:     10,
		ProcessedNodes: 4,
		PendingNodes:   6,
		QueueSize:      2,
	})

	body := scrape(t, m)
	if !strings.Contains(body, "test_graph_nodes 10") {
		t.Error("expected graph_nodes 10")
	}
	if !strings.Contains(body, "test_graph_pending_nodes 6") {
		t.Error("expected graph_pending_nodes 6")
	}
	if !strings.Contains(body, "test_ready_queue_size 2") {
		t.Error("expected ready_queue_size 2")
	}
}

func TestIndependentRegistries(t *testing.T) {
	// Two instances must not collide on registration.
	a := NewMetrics("dagshield")
	b := NewMetrics("dagshield")

	a.ObserveBatch(3, time.Millisecond)
	if body := scrape(t, b); strings.Contains(body, "dagshield_batches_total 1") {
		t.Error("registries should be independent")
	}
}

func scrape(t *testing.T, m *Metrics) string {
	t.Helper()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("scrape failed: %d", rec.Code)
	}
	return rec.Body.String()
}
