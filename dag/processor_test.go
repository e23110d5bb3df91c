package dag

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestProcessor returns a processor with an instant processing
// function, driven by Step in tests instead of the tick loop.
func newTestProcessor(maxParallel int, process ProcessFunc) *Processor {
	if process == nil {
		process = func(tx Transaction) error { return nil }
	}
	return NewProcessor(ProcessorConfig{
		MaxParallelTasks: maxParallel,
		Process:          process,
		Logger:           testLogger(),
	})
}

func TestProcessorSingleTransaction(t *testing.T) {
	p := newTestProcessor(4, nil)

	if err := p.AddTransaction(Transaction{ID: "A"}); err != nil {
		t.Fatalf("AddTransaction failed: %v", err)
	}

	p.Step()

	stats := p.Stats()
	if stats.ProcessedNodes != 1 {
		t.Errorf("expected 1 processed node after one tick, got %d", stats.ProcessedNodes)
	}
	if stats.PendingNodes != 0 {
		t.Errorf("expected 0 pending nodes, got %d", stats.PendingNodes)
	}
}

func TestProcessorOutOfOrderDependencyStaysUnprocessed(t *testing.T) {
	p := newTestProcessor(4, nil)

	// B arrives naming A before A exists; the link is lost for good.
	if err := p.AddTransaction(Transaction{ID: "B", Dependencies: []string{"A"}}); err != nil {
		t.Fatalf("AddTransaction failed: %v", err)
	}
	if err := p.AddTransaction(Transaction{ID: "A"}); err != nil {
		t.Fatalf("AddTransaction failed: %v", err)
	}

	for i := 0; i < 10; i++ {
		p.Step()
	}

	if !p.graph.Processed("A") {
		t.Error("A should be processed")
	}
	if p.graph.Processed("B") {
		t.Error("B must remain permanently unprocessed")
	}
	stats := p.Stats()
	if stats.PendingNodes != 1 {
		t.Errorf("expected 1 pending node, got %d", stats.PendingNodes)
	}
}

func TestProcessorChain(t *testing.T) {
	p := newTestProcessor(4, nil)

	_ = p.AddTransaction(Transaction{ID: "A"})
	_ = p.AddTransaction(Transaction{ID: "B", Dependencies: []string{"A"}})
	_ = p.AddTransaction(Transaction{ID: "C", Dependencies: []string{"B"}})

	// One chain link resolves per tick.
	p.Step()
	if !p.graph.Processed("A") || p.graph.Processed("B") {
		t.Error("after tick 1 only A should be processed")
	}
	p.Step()
	if !p.graph.Processed("B") || p.graph.Processed("C") {
		t.Error("after tick 2 only A and B should be processed")
	}
	p.Step()
	if !p.graph.Processed("C") {
		t.Error("after tick 3 all three should be processed")
	}
}

func TestProcessorFanOut(t *testing.T) {
	p := newTestProcessor(6, nil)

	_ = p.AddTransaction(Transaction{ID: "D"})
	for i := 0; i < 5; i++ {
		_ = p.AddTransaction(Transaction{
			ID:           fmt.Sprintf("child-%d", i),
			Dependencies: []string{"D"},
		})
	}

	p.Step()
	if !p.graph.Processed("D") {
		t.Fatal("D should complete in tick 1")
	}
	if got := p.Stats().ProcessedNodes; got != 1 {
		t.Fatalf("expected only D processed after tick 1, got %d", got)
	}

	p.Step()
	if got := p.Stats().ProcessedNodes; got != 6 {
		t.Errorf("expected all 6 processed after tick 2, got %d", got)
	}
}

func TestProcessorBatchBoundRespected(t *testing.T) {
	var inFlight, maxInFlight int64

	p := newTestProcessor(3, func(tx Transaction) error {
		current := atomic.AddInt64(&inFlight, 1)
		for {
			max := atomic.LoadInt64(&maxInFlight)
			if current <= max || atomic.CompareAndSwapInt64(&maxInFlight, max, current) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		atomic.AddInt64(&inFlight, -1)
		return nil
	})

	for i := 0; i < 20; i++ {
		_ = p.AddTransaction(Transaction{ID: fmt.Sprintf("tx-%d", i)})
	}

	for p.Stats().ProcessedNodes < 20 {
		p.Step()
	}

	if atomic.LoadInt64(&maxInFlight) > 3 {
		t.Errorf("batch bound violated: %d transactions in flight", maxInFlight)
	}
}

func TestProcessorDependencySafety(t *testing.T) {
	var mu sync.Mutex
	processedAt := make(map[string]int)
	tick := 0

	p := newTestProcessor(8, func(tx Transaction) error {
		mu.Lock()
		processedAt[tx.ID] = tick
		mu.Unlock()
		return nil
	})

	// Diamond: A -> {B, C} -> D
	_ = p.AddTransaction(Transaction{ID: "A"})
	_ = p.AddTransaction(Transaction{ID: "B", Dependencies: []string{"A"}})
	_ = p.AddTransaction(Transaction{ID: "C", Dependencies: []string{"A"}})
	_ = p.AddTransaction(Transaction{ID: "D", Dependencies: []string{"B", "C"}})

	for i := 0; i < 5; i++ {
		tick = i
		p.Step()
	}

	if p.Stats().ProcessedNodes != 4 {
		t.Fatalf("expected 4 processed, got %d", p.Stats().ProcessedNodes)
	}
	if processedAt["B"] <= processedAt["A"] || processedAt["C"] <= processedAt["A"] {
		t.Error("B and C must be dispatched after A completed")
	}
	if processedAt["D"] <= processedAt["B"] || processedAt["D"] <= processedAt["C"] {
		t.Error("D must be dispatched after both B and C completed")
	}
}

func TestProcessorDuplicatePropagationSingleDispatch(t *testing.T) {
	var dispatches int64

	p := newTestProcessor(8, func(tx Transaction) error {
		if tx.ID == "D" {
			atomic.AddInt64(&dispatches, 1)
		}
		return nil
	})

	// Both B and C complete in the same tick; each re-evaluates D.
	_ = p.AddTransaction(Transaction{ID: "B"})
	_ = p.AddTransaction(Transaction{ID: "C"})
	_ = p.AddTransaction(Transaction{ID: "D", Dependencies: []string{"B", "C"}})

	p.Step()
	p.Step()

	if got := atomic.LoadInt64(&dispatches); got != 1 {
		t.Errorf("D dispatched %d times, expected exactly once", got)
	}
}

func TestProcessorFailureIsPermanent(t *testing.T) {
	boom := errors.New("boom")
	p := newTestProcessor(4, func(tx Transaction) error {
		if tx.ID == "A" {
			return boom
		}
		return nil
	})

	_ = p.AddTransaction(Transaction{ID: "A"})
	_ = p.AddTransaction(Transaction{ID: "B", Dependencies: []string{"A"}})
	_ = p.AddTransaction(Transaction{ID: "X"})

	for i := 0; i < 5; i++ {
		p.Step()
	}

	if p.graph.Processed("A") {
		t.Error("failed transaction must stay unprocessed")
	}
	if p.graph.Processed("B") {
		t.Error("dependent of failed transaction must never become ready")
	}
	if !p.graph.Processed("X") {
		t.Error("failure must not abort the batch for unrelated transactions")
	}

	// No retry: subsequent ticks never dispatch A again.
	before := p.Dispatched()
	p.Step()
	if p.Dispatched() != before {
		t.Error("failed transaction must not be retried")
	}
}

func TestProcessorDependencyOnAlreadyProcessed(t *testing.T) {
	p := newTestProcessor(4, nil)

	_ = p.AddTransaction(Transaction{ID: "A"})
	p.Step()
	if !p.graph.Processed("A") {
		t.Fatal("A should be processed")
	}

	// A is already processed when B arrives; B is admitted immediately.
	_ = p.AddTransaction(Transaction{ID: "B", Dependencies: []string{"A"}})
	p.Step()

	if !p.graph.Processed("B") {
		t.Error("transaction whose dependencies are already processed should be admitted at insert")
	}
}

func TestProcessorReduceIntensity(t *testing.T) {
	p := newTestProcessor(8, nil)

	p.ReduceIntensity()
	if p.Parallelism() != 4 {
		t.Errorf("expected parallelism 4, got %d", p.Parallelism())
	}

	for i := 0; i < 10; i++ {
		p.ReduceIntensity()
	}
	if p.Parallelism() != 1 {
		t.Errorf("parallelism floor is 1, got %d", p.Parallelism())
	}

	p.ResetIntensity()
	if p.Parallelism() != 8 {
		t.Errorf("expected parallelism restored to 8, got %d", p.Parallelism())
	}
}

func TestProcessorReducedBoundAppliesPerTick(t *testing.T) {
	p := newTestProcessor(8, nil)
	for i := 0; i < 8; i++ {
		_ = p.AddTransaction(Transaction{ID: fmt.Sprintf("tx-%d", i)})
	}

	p.ReduceIntensity() // bound now 4

	p.Step()
	if got := p.Stats().ProcessedNodes; got != 4 {
		t.Errorf("expected 4 processed with reduced bound, got %d", got)
	}
}

func TestProcessorPendingTransactions(t *testing.T) {
	p := newTestProcessor(4, nil)

	_ = p.AddTransaction(Transaction{ID: "A"})
	_ = p.AddTransaction(Transaction{ID: "B", Dependencies: []string{"A"}})

	pending := p.PendingTransactions()
	if len(pending) != 2 {
		t.Fatalf("expected 2 pending, got %d", len(pending))
	}

	p.Step()
	pending = p.PendingTransactions()
	if len(pending) != 1 || pending[0].ID != "B" {
		t.Errorf("expected only B pending, got %v", pending)
	}
}

func TestProcessorSolveSpeedChallenge(t *testing.T) {
	p := newTestProcessor(4, nil)

	if _, ok := p.SolveSpeedChallenge(""); ok {
		t.Error("empty challenge data should yield no solution")
	}

	solution, ok := p.SolveSpeedChallenge("challenge-42")
	if !ok {
		t.Fatal("expected a solution")
	}
	if len(solution) == 0 {
		t.Error("solution should not be empty")
	}

	// Deterministic for identical graph state and data.
	again, _ := p.SolveSpeedChallenge("challenge-42")
	if solution != again {
		t.Error("solution should be deterministic for unchanged stats")
	}
}

func TestProcessorAddInvalidTransaction(t *testing.T) {
	p := newTestProcessor(4, nil)

	if err := p.AddTransaction(Transaction{}); !errors.Is(err, ErrInvalidTx) {
		t.Errorf("expected ErrInvalidTx, got %v", err)
	}
	err := p.AddTransaction(Transaction{ID: "A", Dependencies: []string{"A"}})
	if !errors.Is(err, ErrInvalidTx) {
		t.Errorf("self-dependency should be rejected, got %v", err)
	}
}

func TestProcessorStartStop(t *testing.T) {
	p := NewProcessor(ProcessorConfig{
		MaxParallelTasks: 4,
		TickInterval:     5 * time.Millisecond,
		Process:          func(tx Transaction) error { return nil },
		Logger:           testLogger(),
	})

	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Start(); err == nil {
		t.Error("second Start should fail")
	}

	_ = p.AddTransaction(Transaction{ID: "A"})
	_ = p.AddTransaction(Transaction{ID: "B", Dependencies: []string{"A"}})

	deadline := time.After(2 * time.Second)
	for p.Stats().ProcessedNodes < 2 {
		select {
		case <-deadline:
			t.Fatal("timeout waiting for tick loop to drain the graph")
		case <-time.After(5 * time.Millisecond):
		}
	}

	p.Stop()
	p.Stop() // idempotent
	if p.Running() {
		t.Error("processor should report stopped")
	}
}
