package dag

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Defaults for the processing loop.
const (
	DefaultTickInterval     = 100 * time.Millisecond
	DefaultMaxParallelTasks = 10

	// simulatedTxCost is the per-transaction cost of the placeholder
	// processing function, also used as the serial-cost estimate in
	// benchmarks.
	simulatedTxCost = 10 * time.Millisecond
)

// ProcessFunc executes one transaction. It is treated as an opaque,
// potentially slow, potentially fallible unit of work; the processor
// only interprets success or failure.
type ProcessFunc func(tx Transaction) error

// Observer receives processing events, typically to drive metrics.
type Observer interface {
	ObserveTransaction(success bool, duration time.Duration)
	ObserveBatch(size int, duration time.Duration)
	ObserveGraph(stats Stats)
}

// ProcessorConfig configures a Processor. Zero values fall back to
// defaults.
type ProcessorConfig struct {
	MaxParallelTasks int
	TickInterval     time.Duration
	Process          ProcessFunc
	Observer         Observer
	Logger           *slog.Logger
}

// Processor maintains the transaction graph and drives dependency-aware
// parallel execution. A single tick loop pops ready transactions from
// the queue, runs them as one bulk-synchronous batch bounded by the
// effective parallelism, and propagates completion to unlock dependents.
type Processor struct {
	graph *Graph
	queue *ReadyQueue

	maxParallel  int64
	parallelism  int64 // effective per-tick bound, adjusted by ReduceIntensity
	tickInterval time.Duration
	process      ProcessFunc
	observer     Observer
	logger       *slog.Logger

	// Atomic counters for thread-safe statistics
	ticks      int64
	dispatched int64
	succeeded  int64
	failed     int64

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

// Stats describes the current state of the graph and queue.
type Stats struct {
	TotalNodes         int     `json:"total_nodes"`
	ProcessedNodes     int     `json:"processed_nodes"`
	PendingNodes       int     `json:"pending_nodes"`
	QueueSize          int     `json:"queue_size"`
	ParallelEfficiency float64 `json:"parallel_efficiency"`
}

// NewProcessor creates a Processor from the given configuration.
func NewProcessor(cfg ProcessorConfig) *Processor {
	if cfg.MaxParallelTasks <= 0 {
		cfg.MaxParallelTasks = DefaultMaxParallelTasks
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.Process == nil {
		cfg.Process = SimulateProcessing
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Processor{
		graph:        NewGraph(),
		queue:        NewReadyQueue(),
		maxParallel:  int64(cfg.MaxParallelTasks),
		parallelism:  int64(cfg.MaxParallelTasks),
		tickInterval: cfg.TickInterval,
		process:      cfg.Process,
		observer:     cfg.Observer,
		logger:       cfg.Logger,
	}
}

// SimulateProcessing is the placeholder transaction operation. A real
// implementation would validate the transaction, execute contract calls
// and update state.
func SimulateProcessing(tx Transaction) error {
	time.Sleep(simulatedTxCost)
	return nil
}

// Start launches the tick loop. It returns immediately.
func (p *Processor) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return errors.New("processor already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.mu.Unlock()

	p.logger.Info("starting DAG processor",
		"max_parallel_tasks", p.maxParallel,
		"tick_interval", p.tickInterval)

	p.wg.Add(1)
	go p.loop()
	return nil
}

// Stop halts the tick loop. In-flight batches run to completion.
func (p *Processor) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()
}

// Running reports whether the tick loop is active.
func (p *Processor) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Processor) loop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.Step()
		}
	}
}

// AddTransaction inserts a transaction into the graph. It never blocks
// on dependency resolution. A transaction with no dependencies, or whose
// dependencies are all already processed, is enqueued immediately.
// Dependencies absent from the graph at insert time are logged and left
// unlinked: such a transaction can never become ready.
func (p *Processor) AddTransaction(tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidTx, err)
	}
	tx = tx.WithTimestamp()

	p.logger.Debug("adding transaction", "tx_id", tx.ID, "dependencies", len(tx.Dependencies))

	missing := p.graph.Insert(tx)
	for _, depID := range missing {
		p.logger.Warn("dependency not present at insert, link lost",
			"tx_id", tx.ID, "dependency", depID)
	}

	if len(tx.Dependencies) == 0 || (len(missing) == 0 && p.graph.DependenciesSatisfied(tx.ID)) {
		p.queue.Enqueue(tx.ID)
	}
	return nil
}

// Step runs exactly one tick synchronously: pop a bounded batch, execute
// it in parallel, wait for every operation to return, then propagate
// completion. Tests single-step ticks through this method.
func (p *Processor) Step() {
	bound := int(atomic.LoadInt64(&p.parallelism))
	batch := p.queue.PopBatch(bound)
	if len(batch) == 0 {
		return
	}

	p.logger.Debug("dispatching batch", "size", len(batch))

	start := time.Now()
	results := make([]error, len(batch))

	var wg sync.WaitGroup
	for i, id := range batch {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			txStart := time.Now()

			node, err := p.graph.Get(id)
			if err != nil {
				results[i] = err
			} else {
				results[i] = p.process(node.Transaction)
			}

			if p.observer != nil {
				p.observer.ObserveTransaction(results[i] == nil, time.Since(txStart))
			}
		}(i, id)
	}
	wg.Wait()

	atomic.AddInt64(&p.ticks, 1)
	atomic.AddInt64(&p.dispatched, int64(len(batch)))

	for i, id := range batch {
		if results[i] != nil {
			// Failed transactions stay unprocessed permanently; their
			// dependents never become ready.
			atomic.AddInt64(&p.failed, 1)
			p.logger.Warn("transaction processing failed", "tx_id", id, "error", results[i])
			continue
		}
		p.complete(id)
	}

	if p.observer != nil {
		p.observer.ObserveBatch(len(batch), time.Since(start))
		p.observer.ObserveGraph(p.Stats())
	}
}

// complete marks a transaction processed and enqueues any dependents
// whose dependencies are now all satisfied. Duplicate enqueue attempts
// from two predecessors completing in the same tick are absorbed by the
// queue's exactly-once admission.
func (p *Processor) complete(id string) {
	if err := p.graph.MarkProcessed(id); err != nil {
		p.logger.Warn("mark processed failed", "tx_id", id, "error", err)
		return
	}
	atomic.AddInt64(&p.succeeded, 1)

	dependents, err := p.graph.Dependents(id)
	if err != nil {
		return
	}
	for _, depID := range dependents {
		if p.graph.Processed(depID) {
			continue
		}
		if p.graph.DependenciesSatisfied(depID) {
			p.queue.Enqueue(depID)
		}
	}
}

// PendingTransactions returns a snapshot of transactions that have not
// been processed yet, for the threat-detection collaborator.
func (p *Processor) PendingTransactions() []Transaction {
	var pending []Transaction
	p.graph.Range(func(node Node) bool {
		if !node.Processed {
			pending = append(pending, node.Transaction)
		}
		return true
	})
	return pending
}

// Stats returns current graph and queue statistics.
func (p *Processor) Stats() Stats {
	total := p.graph.Len()
	processed := p.graph.ProcessedCount()

	var efficiency float64
	if total > 0 {
		efficiency = float64(processed) / float64(total) * 100
	}

	return Stats{
		TotalNodes:         total,
		ProcessedNodes:     processed,
		PendingNodes:       total - processed,
		QueueSize:          p.queue.Len(),
		ParallelEfficiency: efficiency,
	}
}

// ReduceIntensity halves the effective per-tick parallelism bound, down
// to a floor of one. Called by the energy monitor when power usage
// exceeds its limit.
func (p *Processor) ReduceIntensity() {
	for {
		current := atomic.LoadInt64(&p.parallelism)
		next := current / 2
		if next < 1 {
			next = 1
		}
		if atomic.CompareAndSwapInt64(&p.parallelism, current, next) {
			p.logger.Info("reducing DAG processing intensity",
				"parallelism", next, "max_parallel_tasks", p.maxParallel)
			return
		}
	}
}

// ResetIntensity restores the configured parallelism bound.
func (p *Processor) ResetIntensity() {
	atomic.StoreInt64(&p.parallelism, p.maxParallel)
}

// Parallelism returns the effective per-tick bound.
func (p *Processor) Parallelism() int {
	return int(atomic.LoadInt64(&p.parallelism))
}

// SolveSpeedChallenge derives a solution for a processing-speed
// challenge from graph timing statistics. It has no side effects.
// Returns false when there is no challenge data to solve against.
func (p *Processor) SolveSpeedChallenge(data string) (string, bool) {
	if data == "" {
		return "", false
	}

	stats := p.Stats()
	seed := fmt.Sprintf("%s|%d|%d|%d|%.4f",
		data,
		stats.TotalNodes,
		stats.ProcessedNodes,
		atomic.LoadInt64(&p.ticks),
		stats.ParallelEfficiency)

	digest := chainhash.DoubleHashH([]byte(seed))
	return "dag-solution-" + digest.String()[:16], true
}

// Ticks returns the number of ticks that dispatched at least one
// transaction.
func (p *Processor) Ticks() int64 {
	return atomic.LoadInt64(&p.ticks)
}

// Dispatched returns the total number of dispatched transactions.
func (p *Processor) Dispatched() int64 {
	return atomic.LoadInt64(&p.dispatched)
}
