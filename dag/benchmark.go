package dag

import (
	"context"
	"fmt"
	"time"
)

// BenchmarkResult reports throughput and efficiency of a benchmark run.
type BenchmarkResult struct {
	ParallelEfficiency float64 `json:"parallel_efficiency"`
	ThroughputTPS      float64 `json:"throughput_tps"`
	Accuracy           float64 `json:"accuracy"`
	AvgLatencyMs       float64 `json:"avg_latency_ms"`
}

// benchmarkPollInterval is how often the benchmark re-checks completion.
const benchmarkPollInterval = 10 * time.Millisecond

// Benchmark submits txCount synthetic transactions, drives the graph to
// full completion and reports throughput and a parallel-efficiency
// estimate: estimated serial cost over actual elapsed wall time, capped
// at 100%. When the tick loop is not running, the benchmark steps ticks
// itself so it can be used standalone.
func (p *Processor) Benchmark(ctx context.Context, txCount int) (BenchmarkResult, error) {
	p.logger.Info("running DAG processing benchmark", "tx_count", txCount)

	start := time.Now()

	for _, tx := range GenerateTestTransactions(txCount, true) {
		if err := p.AddTransaction(tx); err != nil {
			return BenchmarkResult{}, err
		}
	}

	for !p.allProcessed() {
		select {
		case <-ctx.Done():
			return BenchmarkResult{}, ctx.Err()
		default:
		}
		if !p.Running() {
			p.Step()
			continue
		}
		time.Sleep(benchmarkPollInterval)
	}

	elapsed := time.Since(start)
	throughput := float64(txCount) / elapsed.Seconds()

	serialCost := time.Duration(txCount) * simulatedTxCost
	efficiency := serialCost.Seconds() / elapsed.Seconds() * 100
	if efficiency > 100 {
		efficiency = 100
	}

	return BenchmarkResult{
		ParallelEfficiency: efficiency,
		ThroughputTPS:      throughput,
		Accuracy:           100, // DAG processing is deterministic
		AvgLatencyMs:       float64(elapsed.Milliseconds()) / float64(txCount),
	}, nil
}

// GenerateTestTransactions synthesizes count transactions. With chained
// set, every third transaction depends on its predecessor; otherwise all
// transactions are independent.
func GenerateTestTransactions(count int, chained bool) []Transaction {
	txs := make([]Transaction, 0, count)
	now := time.Now().Unix()

	for i := 0; i < count; i++ {
		tx := Transaction{
			ID:            fmt.Sprintf("test_tx_%d", i),
			From:          fmt.Sprintf("0x%040x", i),
			To:            fmt.Sprintf("0x%040x", i+1),
			TargetAddress: fmt.Sprintf("0x%040x", i+2),
			ChainID:       1,
			Data:          testPayload(i),
			Timestamp:     now,
		}
		if chained && i > 0 && i%3 == 0 {
			tx.Dependencies = []string{fmt.Sprintf("test_tx_%d", i-1)}
		}
		txs = append(txs, tx)
	}
	return txs
}

func testPayload(i int) []byte {
	data := make([]byte, 32)
	for j := range data {
		data[j] = byte(i)
	}
	return data
}

// allProcessed reports whether the queue is drained and every node in
// the graph is processed.
func (p *Processor) allProcessed() bool {
	if p.queue.Len() > 0 {
		return false
	}
	done := true
	p.graph.Range(func(node Node) bool {
		if !node.Processed {
			done = false
			return false
		}
		return true
	})
	return done
}
