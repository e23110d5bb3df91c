// Package node wires the DAG processor, threat detector, contract
// client, gossip layer, energy monitor and metrics into one running
// DAGShield node.
package node

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dagshield/dagshield-node/ai"
	"github.com/dagshield/dagshield-node/blockchain"
	"github.com/dagshield/dagshield-node/config"
	"github.com/dagshield/dagshield-node/dag"
	"github.com/dagshield/dagshield-node/energy"
	"github.com/dagshield/dagshield-node/metrics"
	"github.com/dagshield/dagshield-node/network"
)

// ErrAIDisabled is returned by AI operations when the node runs without
// the detector.
var ErrAIDisabled = errors.New("ai detection not enabled")

// Stats is the aggregate node view reported each heartbeat.
type Stats struct {
	NodeID              string `json:"node_id"`
	ThreatsDetected     uint64 `json:"threats_detected"`
	ChallengesCompleted uint64 `json:"challenges_completed"`
	ReputationScore     uint32 `json:"reputation_score"`
	EnergyEfficiency    uint32 `json:"energy_efficiency"`
	UptimeSeconds       uint64 `json:"uptime_seconds"`
}

// Options controls optional node behavior.
type Options struct {
	NodeID    string
	EnableAI  bool
	Backend   blockchain.Backend
	Logger    *slog.Logger
	Namespace string
}

// Node is a full DAGShield node.
type Node struct {
	id     string
	cfg    config.Config
	logger *slog.Logger

	processor *dag.Processor
	detector  *ai.Detector
	chain     *blockchain.Client
	gossip    *network.Gossip
	monitor   *energy.Monitor
	metrics   *metrics.Metrics
	metricSrv *metrics.Server

	statsMu sync.RWMutex
	stats   Stats

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// New assembles a node from configuration.
func New(cfg config.Config, opts Options) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	id := opts.NodeID
	if id == "" {
		id = uuid.NewString()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("node_id", id)

	namespace := opts.Namespace
	if namespace == "" {
		namespace = "dagshield"
	}
	m := metrics.NewMetrics(namespace)

	n := &Node{
		id:      id,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		chain:   blockchain.NewClient(cfg.Blockchain, opts.Backend, logger),
		stats:   Stats{NodeID: id},
		stopCh:  make(chan struct{}),
	}

	n.processor = dag.NewProcessor(dag.ProcessorConfig{
		MaxParallelTasks: cfg.Node.MaxConcurrentTasks,
		TickInterval:     cfg.Node.TickInterval,
		Observer:         m,
		Logger:           logger,
	})

	if opts.EnableAI {
		n.detector = ai.NewDetector(ai.DetectorConfig{
			ConfidenceThreshold: cfg.AI.ConfidenceThreshold,
			Workers:             cfg.AI.Workers,
			Logger:              logger,
		})
	}

	n.monitor = energy.NewMonitor(cfg.Energy, n.processor, logger)
	n.gossip = network.NewGossip(id, cfg.Network, n.processor, logger)

	if cfg.Metrics.Enabled {
		n.metricSrv = metrics.NewServer(cfg.Metrics.Address, m)
	}

	return n, nil
}

// ID returns the node identifier.
func (n *Node) ID() string {
	return n.id
}

// Processor exposes the DAG processor, primarily for ingest and
// benchmarks.
func (n *Node) Processor() *dag.Processor {
	return n.processor
}

// Start registers the node on-chain and launches every component plus
// the heartbeat loop.
func (n *Node) Start() error {
	n.logger.Info("starting node")

	if _, err := n.chain.RegisterNode(n.id, n.cfg.Node.StakeAmount); err != nil {
		return fmt.Errorf("failed to register on chain: %w", err)
	}

	if err := n.processor.Start(); err != nil {
		return err
	}
	if err := n.gossip.Start(); err != nil {
		n.processor.Stop()
		return err
	}
	n.monitor.Start()
	if n.metricSrv != nil {
		n.metricSrv.StartAsync()
	}

	n.wg.Add(1)
	go n.heartbeatLoop()

	n.logger.Info("node started")
	return nil
}

// Stop shuts the node down in reverse start order.
func (n *Node) Stop() {
	n.once.Do(func() { close(n.stopCh) })
	n.wg.Wait()

	if n.metricSrv != nil {
		_ = n.metricSrv.Stop()
	}
	n.monitor.Stop()
	n.gossip.Stop()
	n.processor.Stop()
	if n.detector != nil {
		n.detector.Close()
	}
	n.logger.Info("node stopped")
}

// Submit ingests a transaction locally and gossips it to peers.
func (n *Node) Submit(tx dag.Transaction) error {
	if err := n.processor.AddTransaction(tx); err != nil {
		return err
	}
	if err := n.gossip.BroadcastTransactions([]dag.Transaction{tx}); err != nil {
		n.logger.Warn("failed to gossip transaction", "tx_id", tx.ID, "error", err)
	}
	return nil
}

func (n *Node) heartbeatLoop() {
	defer n.wg.Done()

	ticker := time.NewTicker(n.cfg.Node.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
			n.heartbeat()
		}
	}
}

// heartbeat runs one maintenance pass: threat sweep, challenge check and
// stats refresh. Energy throttling runs inside the monitor's own loop.
func (n *Node) heartbeat() {
	if n.detector != nil {
		n.sweepThreats()
	}
	n.checkChallenges()
	n.updateStats()
	n.logger.Debug("heartbeat complete")
}

// sweepThreats classifies pending transactions and reports confident
// detections on-chain.
func (n *Node) sweepThreats() {
	pending := n.processor.PendingTransactions()
	if len(pending) == 0 {
		return
	}

	results := n.detector.DetectBatch(pending)
	for i, result := range results {
		if result.Confidence <= n.cfg.AI.ConfidenceThreshold {
			continue
		}
		tx := pending[i]
		n.logger.Info("threat detected",
			"threat_type", result.ThreatType,
			"confidence", result.Confidence,
			"target", tx.TargetAddress)

		if _, err := n.chain.ReportThreat(result.ThreatType, tx.TargetAddress, result.RiskScore, tx.ChainID); err != nil {
			n.logger.Warn("failed to report threat", "error", err)
			continue
		}

		n.metrics.ThreatsDetected.Inc()
		n.statsMu.Lock()
		n.stats.ThreatsDetected++
		n.statsMu.Unlock()
	}
}

// checkChallenges fetches open challenges and submits solutions for the
// ones this node can solve.
func (n *Node) checkChallenges() {
	challenges, err := n.chain.ActiveChallenges()
	if err != nil {
		n.logger.Warn("failed to fetch challenges", "error", err)
		return
	}

	for _, challenge := range challenges {
		solution, ok := n.solveChallenge(challenge)
		if !ok {
			continue
		}

		if _, err := n.chain.SubmitSolution(challenge.ID, solution); err != nil {
			n.logger.Warn("failed to submit solution", "challenge_id", challenge.ID, "error", err)
			continue
		}

		n.metrics.ChallengesCompleted.Inc()
		n.statsMu.Lock()
		n.stats.ChallengesCompleted++
		n.statsMu.Unlock()
	}
}

func (n *Node) solveChallenge(challenge blockchain.Challenge) (string, bool) {
	switch challenge.Type {
	case blockchain.ChallengeSpeed:
		return n.processor.SolveSpeedChallenge(challenge.Data)
	case blockchain.ChallengeAccuracy:
		if n.detector == nil {
			return "", false
		}
		return n.detector.SolveAccuracyChallenge(challenge.Data)
	case blockchain.ChallengeEfficiency:
		return n.monitor.SolveEfficiencyChallenge(challenge.Data)
	default:
		n.logger.Warn("unknown challenge type", "type", challenge.Type)
		return "", false
	}
}

func (n *Node) updateStats() {
	reputation, err := n.chain.NodeReputation()
	if err != nil {
		n.logger.Warn("failed to fetch reputation", "error", err)
	}
	telemetry := n.monitor.Current()
	n.metrics.PowerWatts.Set(telemetry.PowerWatts)

	n.statsMu.Lock()
	n.stats.ReputationScore = reputation
	n.stats.EnergyEfficiency = telemetry.EfficiencyScore
	n.stats.UptimeSeconds += uint64(n.cfg.Node.HeartbeatInterval / time.Second)
	n.statsMu.Unlock()
}

// Stats returns the current node statistics.
func (n *Node) Stats() Stats {
	n.statsMu.RLock()
	defer n.statsMu.RUnlock()
	return n.stats
}

// EnergyStats returns the latest telemetry sample.
func (n *Node) EnergyStats() energy.Metrics {
	return n.monitor.Current()
}

// BenchmarkDAG benchmarks transaction processing throughput.
func (n *Node) BenchmarkDAG(ctx context.Context, txCount int) (dag.BenchmarkResult, error) {
	return n.processor.Benchmark(ctx, txCount)
}

// BenchmarkAI benchmarks threat classification throughput.
func (n *Node) BenchmarkAI(sampleCount int) (dag.BenchmarkResult, error) {
	if n.detector == nil {
		return dag.BenchmarkResult{}, ErrAIDisabled
	}
	return n.detector.Benchmark(sampleCount), nil
}
