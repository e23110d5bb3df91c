// Package metrics provides Prometheus metrics for the DAGShield node.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dagshield/dagshield-node/dag"
)

// Metrics holds all Prometheus metrics for the node.
type Metrics struct {
	registry *prometheus.Registry

	// Transaction metrics
	TransactionsTotal     prometheus.Counter
	TransactionsProcessed prometheus.Counter
	TransactionsFailed    prometheus.Counter
	TransactionLatency    prometheus.Histogram

	// Batch metrics
	BatchesTotal prometheus.Counter
	BatchSize    prometheus.Histogram
	BatchLatency prometheus.Histogram

	// Graph metrics
	GraphNodes     prometheus.Gauge
	GraphProcessed prometheus.Gauge
	GraphPending   prometheus.Gauge
	ReadyQueueSize prometheus.Gauge

	// Collaborator metrics
	ThreatsDetected     prometheus.Counter
	ChallengesCompleted prometheus.Counter
	PowerWatts          prometheus.Gauge
}

// NewMetrics creates a Metrics instance with the given namespace on a
// private registry, so multiple instances can coexist in one process.
func NewMetrics(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,

		TransactionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_total",
			Help:      "Total number of transactions dispatched",
		}),
		TransactionsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_processed_total",
			Help:      "Total number of transactions successfully processed",
		}),
		TransactionsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_failed_total",
			Help:      "Total number of failed transactions",
		}),
		TransactionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transaction_latency_seconds",
			Help:      "Transaction processing latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		BatchesTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_total",
			Help:      "Total number of dispatched batches",
		}),
		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_size",
			Help:      "Number of transactions per batch",
			Buckets:   []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		BatchLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "batch_latency_seconds",
			Help:      "Batch processing latency in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}),

		GraphNodes: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_nodes",
			Help:      "Total nodes in the transaction graph",
		}),
		GraphProcessed: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_processed_nodes",
			Help:      "Processed nodes in the transaction graph",
		}),
		GraphPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "graph_pending_nodes",
			Help:      "Pending nodes in the transaction graph",
		}),
		ReadyQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "ready_queue_size",
			Help:      "Transactions awaiting dispatch",
		}),

		ThreatsDetected: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "threats_detected_total",
			Help:      "Threats detected by the classification collaborator",
		}),
		ChallengesCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "challenges_completed_total",
			Help:      "Network challenges solved",
		}),
		PowerWatts: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "power_watts",
			Help:      "Estimated current power draw",
		}),
	}
}

// ObserveTransaction implements dag.Observer.
func (m *Metrics) ObserveTransaction(success bool, duration time.Duration) {
	m.TransactionsTotal.Inc()
	m.TransactionLatency.Observe(duration.Seconds())
	if success {
		m.TransactionsProcessed.Inc()
	} else {
		m.TransactionsFailed.Inc()
	}
}

// ObserveBatch implements dag.Observer.
func (m *Metrics) ObserveBatch(size int, duration time.Duration) {
	m.BatchesTotal.Inc()
	m.BatchSize.Observe(float64(size))
	m.BatchLatency.Observe(duration.Seconds())
}

// ObserveGraph implements dag.Observer.
func (m *Metrics) ObserveGraph(stats dag.Stats) {
	m.GraphNodes.Set(float64(stats.TotalNodes))
	m.GraphProcessed.Set(float64(stats.ProcessedNodes))
	m.GraphPending.Set(float64(stats.PendingNodes))
	m.ReadyQueueSize.Set(float64(stats.QueueSize))
}

// Handler returns an HTTP handler exposing this instance's registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Server runs an HTTP server exposing /metrics and /health.
type Server struct {
	server *http.Server
}

// NewServer creates a metrics server on the given address.
func NewServer(addr string, m *Metrics) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	return &Server{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start starts the metrics server (blocking).
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// StartAsync starts the metrics server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		_ = s.server.ListenAndServe()
	}()
}

// Stop closes the metrics server.
func (s *Server) Stop() error {
	return s.server.Close()
}
