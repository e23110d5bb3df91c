package network

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dagshield/dagshield-node/config"
	"github.com/dagshield/dagshield-node/dag"
	"github.com/dagshield/dagshield-node/data"
)

// maxGossipHops bounds how far a transaction batch travels before the
// relay stops forwarding it.
const maxGossipHops = 3

// Ingestor receives transactions learned from peers. The DAG processor
// satisfies this.
type Ingestor interface {
	AddTransaction(tx dag.Transaction) error
}

// Gossip propagates transaction batches between peers. Batches travel as
// Arrow IPC streams inside transport envelopes; each node ingests what it
// has not seen and relays the remainder onward.
type Gossip struct {
	transport *Transport
	ingest    Ingestor
	logger    *slog.Logger

	seenMu sync.Mutex
	seen   map[string]bool

	bootstrap []string
}

// NewGossip wires a gossip service over its own transport.
func NewGossip(nodeID string, cfg config.Network, ingest Ingestor, logger *slog.Logger) *Gossip {
	if logger == nil {
		logger = slog.Default()
	}

	g := &Gossip{
		transport: NewTransport(nodeID, cfg.ListenHost, cfg.ListenPort, logger),
		ingest:    ingest,
		logger:    logger,
		seen:      make(map[string]bool),
		bootstrap: cfg.BootstrapPeers,
	}
	g.transport.SetHandler(g.handle)
	return g
}

// Start binds the transport and connects bootstrap peers. Bootstrap
// entries use the form "peerID@host:port".
func (g *Gossip) Start() error {
	if err := g.transport.Start(); err != nil {
		return err
	}

	for _, entry := range g.bootstrap {
		peerID, hostport, ok := strings.Cut(entry, "@")
		if !ok || peerID == "" || hostport == "" {
			g.logger.Warn("skipping malformed bootstrap peer", "entry", entry)
			continue
		}
		g.transport.RegisterPeer(peerID, "tcp://"+hostport)
		g.logger.Info("bootstrap peer registered", "peer", peerID, "address", hostport)
	}
	return nil
}

// Stop shuts down the transport.
func (g *Gossip) Stop() {
	g.transport.Stop()
}

// Transport exposes the underlying transport for peer management.
func (g *Gossip) Transport() *Transport {
	return g.transport
}

// BroadcastTransactions sends locally observed transactions to all
// peers. The sender marks them seen so an echo does not re-ingest them.
func (g *Gossip) BroadcastTransactions(txs []dag.Transaction) error {
	if len(txs) == 0 {
		return nil
	}

	g.seenMu.Lock()
	for _, tx := range txs {
		g.seen[tx.ID] = true
	}
	g.seenMu.Unlock()

	payload, err := data.EncodeTransactions(txs)
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	return g.transport.Broadcast(&Envelope{Type: TypeTxBatch, Payload: payload}, nil)
}

// handle ingests incoming envelopes and relays fresh batches onward.
func (g *Gossip) handle(env *Envelope) error {
	if env.Type != TypeTxBatch {
		return nil
	}

	txs, err := data.DecodeTransactions(env.Payload)
	if err != nil {
		return fmt.Errorf("failed to decode batch from %s: %w", env.From, err)
	}

	fresh := g.filterFresh(txs)
	if len(fresh) == 0 {
		return nil
	}

	for _, tx := range fresh {
		if err := g.ingest.AddTransaction(tx); err != nil {
			g.logger.Warn("rejected gossiped transaction", "tx_id", tx.ID, "error", err)
		}
	}
	g.logger.Debug("ingested gossiped batch",
		"from", env.From, "received", len(txs), "fresh", len(fresh), "hops", env.Hops)

	if env.Hops+1 >= maxGossipHops {
		return nil
	}

	payload, err := data.EncodeTransactions(fresh)
	if err != nil {
		return err
	}
	relay := &Envelope{Type: TypeTxBatch, Payload: payload, Hops: env.Hops + 1}
	return g.transport.Broadcast(relay, map[string]bool{env.From: true})
}

// filterFresh returns the transactions this node has not seen, marking
// them seen.
func (g *Gossip) filterFresh(txs []dag.Transaction) []dag.Transaction {
	g.seenMu.Lock()
	defer g.seenMu.Unlock()

	fresh := txs[:0:0]
	for _, tx := range txs {
		if g.seen[tx.ID] {
			continue
		}
		g.seen[tx.ID] = true
		fresh = append(fresh, tx)
	}
	return fresh
}
