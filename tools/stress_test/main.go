// Command stress_test floods a running DAGShield node with synthetic
// transaction batches over the gossip transport and reports send
// throughput and latency.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dagshield/dagshield-node/dag"
	"github.com/dagshield/dagshield-node/data"
	"github.com/dagshield/dagshield-node/network"
)

// StressConfig holds configuration for the stress run.
type StressConfig struct {
	PeerID     string
	PeerAddr   string
	ListenPort int
	Workers    int
	BatchSize  int
	Duration   time.Duration
	ChainEvery int
	ReportFile string
}

// StressResult holds the results of a stress run.
type StressResult struct {
	TotalBatches  int64
	SentBatches   int64
	FailedBatches int64
	Transactions  int64
	TotalDuration time.Duration
	AvgLatency    time.Duration
	MinLatency    time.Duration
	MaxLatency    time.Duration
	BatchesPerSec float64
	TxPerSec      float64
}

func main() {
	config := parseFlags()

	fmt.Println("=== DAGShield Gossip Stress Test ===")
	fmt.Printf("Target: %s (%s)\n", config.PeerAddr, config.PeerID)
	fmt.Printf("Workers: %d, batch size: %d\n", config.Workers, config.BatchSize)
	fmt.Printf("Duration: %v\n", config.Duration)
	fmt.Println()

	result, err := runStress(config)
	if err != nil {
		log.Fatalf("stress run failed: %v", err)
	}

	printResults(result)

	if config.ReportFile != "" {
		saveReport(config, result)
	}
}

func parseFlags() StressConfig {
	config := StressConfig{}

	flag.StringVar(&config.PeerID, "peer-id", "node-1", "target node id")
	flag.StringVar(&config.PeerAddr, "addr", "tcp://127.0.0.1:9090", "target gossip address")
	flag.IntVar(&config.ListenPort, "listen-port", 9099, "local transport port")
	flag.IntVar(&config.Workers, "c", 10, "number of concurrent workers")
	flag.IntVar(&config.BatchSize, "batch", 50, "transactions per batch")
	flag.DurationVar(&config.Duration, "d", 30*time.Second, "duration of test")
	flag.IntVar(&config.ChainEvery, "chain-every", 3, "every Nth transaction depends on its predecessor (0 = independent)")
	flag.StringVar(&config.ReportFile, "o", "", "output report file (JSON)")

	flag.Parse()

	return config
}

func runStress(config StressConfig) (StressResult, error) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	transport := network.NewTransport("stress-client", "127.0.0.1", config.ListenPort, logger)
	if err := transport.Start(); err != nil {
		return StressResult{}, err
	}
	defer transport.Stop()

	transport.RegisterPeer(config.PeerID, config.PeerAddr)

	var (
		totalBatches  int64
		sentBatches   int64
		failedBatches int64
		totalLatency  int64
		minLatency    int64 = 1<<63 - 1
		maxLatency    int64
		wg            sync.WaitGroup
		stopChan      = make(chan struct{})
	)

	startTime := time.Now()

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			runWorker(workerID, config, transport, stopChan,
				&totalBatches, &sentBatches, &failedBatches, &totalLatency, &minLatency, &maxLatency)
		}(i)
	}

	time.Sleep(config.Duration)
	close(stopChan)
	wg.Wait()

	duration := time.Since(startTime)
	total := atomic.LoadInt64(&totalBatches)
	sent := atomic.LoadInt64(&sentBatches)
	failed := atomic.LoadInt64(&failedBatches)
	latencySum := atomic.LoadInt64(&totalLatency)

	var avgLatency time.Duration
	if sent > 0 {
		avgLatency = time.Duration(latencySum / sent)
	}

	return StressResult{
		TotalBatches:  total,
		SentBatches:   sent,
		FailedBatches: failed,
		Transactions:  sent * int64(config.BatchSize),
		TotalDuration: duration,
		AvgLatency:    avgLatency,
		MinLatency:    time.Duration(atomic.LoadInt64(&minLatency)),
		MaxLatency:    time.Duration(atomic.LoadInt64(&maxLatency)),
		BatchesPerSec: float64(total) / duration.Seconds(),
		TxPerSec:      float64(sent*int64(config.BatchSize)) / duration.Seconds(),
	}, nil
}

func runWorker(id int, config StressConfig, transport *network.Transport, stop chan struct{},
	totalBatches, sentBatches, failedBatches, totalLatency, minLatency, maxLatency *int64) {
	seq := 0
	for {
		select {
		case <-stop:
			return
		default:
			latency, err := sendBatch(id, seq, config, transport)
			seq++
			atomic.AddInt64(totalBatches, 1)

			if err != nil {
				atomic.AddInt64(failedBatches, 1)
				// Small sleep on error to avoid hammering
				time.Sleep(10 * time.Millisecond)
				continue
			}

			atomic.AddInt64(sentBatches, 1)
			atomic.AddInt64(totalLatency, int64(latency))

			lat := int64(latency)
			for {
				old := atomic.LoadInt64(minLatency)
				if lat >= old || atomic.CompareAndSwapInt64(minLatency, old, lat) {
					break
				}
			}
			for {
				old := atomic.LoadInt64(maxLatency)
				if lat <= old || atomic.CompareAndSwapInt64(maxLatency, old, lat) {
					break
				}
			}
		}
	}
}

func sendBatch(workerID, seq int, config StressConfig, transport *network.Transport) (time.Duration, error) {
	txs := make([]dag.Transaction, config.BatchSize)
	for i := range txs {
		txs[i] = dag.Transaction{
			ID:            fmt.Sprintf("stress_%d_%d_%d", workerID, seq, i),
			From:          "0xstress",
			TargetAddress: fmt.Sprintf("0x%040x", i),
			ChainID:       1337,
			Data:          []byte("transfer"),
			Timestamp:     time.Now().Unix(),
		}
		if config.ChainEvery > 0 && i > 0 && i%config.ChainEvery == 0 {
			txs[i].Dependencies = []string{txs[i-1].ID}
		}
	}

	payload, err := data.EncodeTransactions(txs)
	if err != nil {
		return 0, err
	}

	start := time.Now()
	err = transport.Send(config.PeerID, &network.Envelope{
		Type:    network.TypeTxBatch,
		Payload: payload,
	})
	return time.Since(start), err
}

func printResults(result StressResult) {
	fmt.Println("=== Results ===")
	fmt.Printf("Duration:       %v\n", result.TotalDuration.Round(time.Millisecond))
	fmt.Printf("Total Batches:  %d\n", result.TotalBatches)
	fmt.Printf("Sent:           %d (%.2f%%)\n", result.SentBatches, percent(result.SentBatches, result.TotalBatches))
	fmt.Printf("Failed:         %d (%.2f%%)\n", result.FailedBatches, percent(result.FailedBatches, result.TotalBatches))
	fmt.Printf("Batches/sec:    %.2f\n", result.BatchesPerSec)
	fmt.Printf("Tx/sec:         %.2f\n", result.TxPerSec)
	fmt.Printf("Avg Latency:    %v\n", result.AvgLatency.Round(time.Microsecond))
	fmt.Printf("Min Latency:    %v\n", result.MinLatency.Round(time.Microsecond))
	fmt.Printf("Max Latency:    %v\n", result.MaxLatency.Round(time.Microsecond))
}

func percent(part, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}

func saveReport(config StressConfig, result StressResult) {
	report := map[string]interface{}{
		"config": map[string]interface{}{
			"peer":       config.PeerAddr,
			"workers":    config.Workers,
			"batch_size": config.BatchSize,
			"duration":   config.Duration.String(),
		},
		"results": map[string]interface{}{
			"total_batches":   result.TotalBatches,
			"sent":            result.SentBatches,
			"failed":          result.FailedBatches,
			"batches_per_sec": result.BatchesPerSec,
			"tx_per_sec":      result.TxPerSec,
			"avg_latency_ms":  float64(result.AvgLatency.Microseconds()) / 1000,
			"min_latency_ms":  float64(result.MinLatency.Microseconds()) / 1000,
			"max_latency_ms":  float64(result.MaxLatency.Microseconds()) / 1000,
		},
		"timestamp": time.Now().Format(time.RFC3339),
	}

	data, _ := json.MarshalIndent(report, "", "  ")
	if err := os.WriteFile(config.ReportFile, data, 0o644); err != nil {
		log.Printf("Failed to write report: %v", err)
	} else {
		fmt.Printf("Report saved to: %s\n", config.ReportFile)
	}
}
