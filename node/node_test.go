package node

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/dagshield/dagshield-node/blockchain"
	"github.com/dagshield/dagshield-node/config"
	"github.com/dagshield/dagshield-node/dag"
)

func testConfig(port int) config.Config {
	cfg := config.Default()
	cfg.Node.HeartbeatInterval = 20 * time.Millisecond
	cfg.Node.TickInterval = 10 * time.Millisecond
	cfg.Network.ListenHost = "127.0.0.1"
	cfg.Network.ListenPort = port
	cfg.Metrics.Enabled = false
	cfg.Energy.MonitoringEnabled = false
	return cfg
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestNode(t *testing.T, port int, enableAI bool, backend blockchain.Backend) *Node {
	t.Helper()
	n, err := New(testConfig(port), Options{
		EnableAI: enableAI,
		Backend:  backend,
		Logger:   testLogger(),
	})
	if err != nil {
		t.Fatalf("node construction failed: %v", err)
	}
	return n
}

func TestNewGeneratesNodeID(t *testing.T) {
	n := newTestNode(t, 0, false, nil)
	if n.ID() == "" {
		t.Error("expected a generated node id")
	}

	named, err := New(testConfig(0), Options{NodeID: "node-42", Logger: testLogger()})
	if err != nil {
		t.Fatalf("construction failed: %v", err)
	}
	if named.ID() != "node-42" {
		t.Errorf("expected node-42, got %s", named.ID())
	}
}

func TestSolveChallengeRouting(t *testing.T) {
	n := newTestNode(t, 0, true, nil)
	defer n.detector.Close()

	cases := []struct {
		challenge blockchain.Challenge
		prefix    string
	}{
		{blockchain.Challenge{Type: blockchain.ChallengeSpeed, Data: "speed"}, "dag-solution-"},
		{blockchain.Challenge{Type: blockchain.ChallengeAccuracy, Data: "accuracy"}, "ai-solution-"},
		{blockchain.Challenge{Type: blockchain.ChallengeEfficiency, Data: "efficiency"}, "energy-solution-"},
	}
	for _, tc := range cases {
		solution, ok := n.solveChallenge(tc.challenge)
		if !ok {
			t.Errorf("%s challenge should be solvable", tc.challenge.Type)
			continue
		}
		if len(solution) <= len(tc.prefix) || solution[:len(tc.prefix)] != tc.prefix {
			t.Errorf("%s: unexpected solution %s", tc.challenge.Type, solution)
		}
	}

	if _, ok := n.solveChallenge(blockchain.Challenge{Type: "unknown", Data: "x"}); ok {
		t.Error("unknown challenge type should not be solvable")
	}
}

func TestSolveAccuracyChallengeWithoutAI(t *testing.T) {
	n := newTestNode(t, 0, false, nil)

	challenge := blockchain.Challenge{Type: blockchain.ChallengeAccuracy, Data: "x"}
	if _, ok := n.solveChallenge(challenge); ok {
		t.Error("accuracy challenge needs the detector")
	}
}

func TestSweepThreatsReports(t *testing.T) {
	backend := blockchain.NewSimulatedBackend(1337)
	n := newTestNode(t, 0, true, backend)
	defer n.detector.Close()

	if _, err := n.chain.RegisterNode(n.ID(), 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	txs := []dag.Transaction{
		{ID: "tx-safe", TargetAddress: "0xaaa", ChainID: 1, Data: []byte("transfer")},
		{ID: "tx-evil", TargetAddress: "0xbbb", ChainID: 1,
			Data: []byte("reentrancy_attack integer_overflow access_control_bypass")},
	}
	for _, tx := range txs {
		if err := n.processor.AddTransaction(tx); err != nil {
			t.Fatalf("add failed: %v", err)
		}
	}

	n.sweepThreats()

	if got := n.Stats().ThreatsDetected; got != 1 {
		t.Errorf("expected 1 threat, got %d", got)
	}
	stats, _ := backend.NetworkStats()
	if stats.TotalThreats != 1 {
		t.Errorf("threat not reported on chain: %+v", stats)
	}
}

func TestCheckChallengesSubmitsSolutions(t *testing.T) {
	backend := blockchain.NewSimulatedBackend(1337)
	n := newTestNode(t, 0, true, backend)
	defer n.detector.Close()

	if _, err := n.chain.RegisterNode(n.ID(), 100); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	n.checkChallenges()

	if got := n.Stats().ChallengesCompleted; got != 3 {
		t.Errorf("expected all 3 seeded challenges solved, got %d", got)
	}
	if solutions := backend.Solutions("0xabcdef1234567890"); len(solutions) != 1 {
		t.Errorf("speed solution not recorded: %v", solutions)
	}
}

func TestBenchmarkAIRequiresDetector(t *testing.T) {
	n := newTestNode(t, 0, false, nil)

	if _, err := n.BenchmarkAI(10); !errors.Is(err, ErrAIDisabled) {
		t.Errorf("expected ErrAIDisabled, got %v", err)
	}
}

func TestNodeLifecycle(t *testing.T) {
	n := newTestNode(t, 15301, true, nil)

	if err := n.Start(); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	if err := n.Submit(dag.Transaction{ID: "tx-1", ChainID: 1, Data: []byte("transfer")}); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	deadline := time.After(3 * time.Second)
	for n.processor.Stats().ProcessedNodes == 0 {
		select {
		case <-deadline:
			n.Stop()
			t.Fatal("submitted transaction never processed")
		case <-time.After(10 * time.Millisecond):
		}
	}

	n.Stop()
	if n.processor.Running() {
		t.Error("processor should be stopped")
	}
}

func TestBenchmarkDAG(t *testing.T) {
	n := newTestNode(t, 0, false, nil)

	result, err := n.BenchmarkDAG(context.Background(), 50)
	if err != nil {
		t.Fatalf("benchmark failed: %v", err)
	}
	if result.ThroughputTPS <= 0 {
		t.Errorf("expected positive throughput, got %f", result.ThroughputTPS)
	}
}
