// Package dag implements dependency-aware parallel transaction processing.
// This package implements:
// - Sharded transaction graph with dependency/dependent links
// - FIFO ready queue with exactly-once admission
// - Tick-driven batch dispatcher with bounded parallel fan-out
// - Completion propagation and throughput benchmarking
package dag
