// Package network provides ZeroMQ-based peer gossip for the DAGShield
// node. Transactions observed by one node are propagated to its peers as
// Arrow IPC batches so every node's DAG converges on the same workload.
package network

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-zeromq/zmq4"
)

var (
	ErrNotRunning   = errors.New("transport is not running")
	ErrPeerNotFound = errors.New("peer not found")
	ErrSendFailed   = errors.New("failed to send envelope")
)

// Envelope types exchanged between peers.
const (
	TypeTxBatch  = "tx_batch"
	TypePing     = "ping"
	TypeAnnounce = "peer_announce"
)

// replayTolerance bounds how old an envelope may be before it is
// discarded.
const replayTolerance = 60 * time.Second

// Envelope is the wire frame exchanged between peers. Payload carries
// type-specific bytes; for TypeTxBatch it is an Arrow IPC stream.
type Envelope struct {
	Type      string    `json:"type"`
	From      string    `json:"from"`
	To        string    `json:"to,omitempty"`
	Payload   []byte    `json:"payload,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Nonce     string    `json:"nonce,omitempty"`
	Hops      int       `json:"hops,omitempty"`
}

// Peer describes a known remote node.
type Peer struct {
	ID       string    `json:"id"`
	Address  string    `json:"address"`
	LastSeen time.Time `json:"last_seen"`
}

// Handler processes received envelopes.
type Handler func(env *Envelope) error

// Transport is a ZeroMQ ROUTER/DEALER node. The ROUTER socket receives
// from all peers; one DEALER socket per peer sends.
type Transport struct {
	nodeID  string
	address string
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	router  zmq4.Socket
	dealers map[string]zmq4.Socket

	mu      sync.RWMutex
	peers   map[string]*Peer
	handler Handler
	running bool

	envChan chan *Envelope

	replayMu    sync.Mutex
	replayCache map[string]time.Time

	wg sync.WaitGroup
}

// NewTransport creates a transport bound to host:port once started.
func NewTransport(nodeID, host string, port int, logger *slog.Logger) *Transport {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Transport{
		nodeID:      nodeID,
		address:     fmt.Sprintf("tcp://%s:%d", host, port),
		logger:      logger,
		ctx:         ctx,
		cancel:      cancel,
		dealers:     make(map[string]zmq4.Socket),
		peers:       make(map[string]*Peer),
		envChan:     make(chan *Envelope, 1000),
		replayCache: make(map[string]time.Time),
	}
}

// Start binds the ROUTER socket and launches the receive loops.
func (t *Transport) Start() error {
	t.mu.Lock()
	if t.running {
		t.mu.Unlock()
		return errors.New("transport already running")
	}

	t.router = zmq4.NewRouter(t.ctx, zmq4.WithID(zmq4.SocketIdentity(t.nodeID)))
	if err := t.router.Listen(t.address); err != nil {
		t.mu.Unlock()
		return fmt.Errorf("failed to bind router: %w", err)
	}

	t.running = true
	t.mu.Unlock()

	t.wg.Add(3)
	go t.receiveLoop()
	go t.dispatchLoop()
	go t.replayCleaner()

	t.logger.Info("transport started", "address", t.address)
	return nil
}

// Stop shuts down sockets and loops.
func (t *Transport) Stop() {
	t.mu.Lock()
	if !t.running {
		t.mu.Unlock()
		return
	}
	t.running = false
	t.mu.Unlock()

	t.cancel()

	if t.router != nil {
		_ = t.router.Close()
	}
	for _, dealer := range t.dealers {
		_ = dealer.Close()
	}

	t.wg.Wait()
	close(t.envChan)
}

// Running reports whether the transport is active.
func (t *Transport) Running() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.running
}

// RegisterPeer records a peer address for sending.
func (t *Transport) RegisterPeer(peerID, address string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.peers[peerID] = &Peer{ID: peerID, Address: address, LastSeen: time.Now()}
}

// UnregisterPeer forgets a peer and closes its dealer socket.
func (t *Transport) UnregisterPeer(peerID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.peers, peerID)
	if dealer, ok := t.dealers[peerID]; ok {
		_ = dealer.Close()
		delete(t.dealers, peerID)
	}
}

// Peers returns a snapshot of known peers.
func (t *Transport) Peers() []Peer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// SetHandler installs the envelope handler.
func (t *Transport) SetHandler(h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handler = h
}

// Send delivers an envelope to one peer.
func (t *Transport) Send(peerID string, env *Envelope) error {
	t.mu.RLock()
	if !t.running {
		t.mu.RUnlock()
		return ErrNotRunning
	}
	peer, ok := t.peers[peerID]
	if !ok {
		t.mu.RUnlock()
		return ErrPeerNotFound
	}
	t.mu.RUnlock()

	dealer, err := t.dealer(peerID, peer.Address)
	if err != nil {
		return err
	}

	env.From = t.nodeID
	env.To = peerID
	env.Timestamp = time.Now()
	if env.Nonce == "" {
		env.Nonce = fmt.Sprintf("%d-%s", time.Now().UnixNano(), t.nodeID)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	if err := dealer.Send(zmq4.NewMsg(data)); err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	return nil
}

// Broadcast delivers an envelope to every peer not in exclude. Each peer
// gets its own nonce so replay filtering stays per-delivery.
func (t *Transport) Broadcast(env *Envelope, exclude map[string]bool) error {
	t.mu.RLock()
	if !t.running {
		t.mu.RUnlock()
		return ErrNotRunning
	}
	ids := make([]string, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	var lastErr error
	for _, id := range ids {
		if exclude[id] {
			continue
		}
		send := *env
		send.Nonce = ""
		if err := t.Send(id, &send); err != nil {
			t.logger.Warn("broadcast delivery failed", "peer", id, "error", err)
			lastErr = err
		}
	}
	return lastErr
}

func (t *Transport) dealer(peerID, address string) (zmq4.Socket, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if dealer, ok := t.dealers[peerID]; ok {
		return dealer, nil
	}

	dealer := zmq4.NewDealer(t.ctx, zmq4.WithID(zmq4.SocketIdentity(t.nodeID)))
	if err := dealer.Dial(address); err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", address, err)
	}
	t.dealers[peerID] = dealer
	return dealer, nil
}

func (t *Transport) receiveLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		default:
		}

		msg, err := t.router.Recv()
		if err != nil {
			select {
			case <-t.ctx.Done():
				return
			default:
				continue
			}
		}

		var env Envelope
		if err := json.Unmarshal(msg.Bytes(), &env); err != nil {
			t.logger.Debug("dropping malformed envelope", "error", err)
			continue
		}
		if !t.acceptNonce(&env) {
			continue
		}

		t.mu.Lock()
		if peer, ok := t.peers[env.From]; ok {
			peer.LastSeen = time.Now()
		}
		t.mu.Unlock()

		select {
		case t.envChan <- &env:
		default:
			t.logger.Warn("envelope queue full, dropping", "type", env.Type, "from", env.From)
		}
	}
}

func (t *Transport) dispatchLoop() {
	defer t.wg.Done()

	for {
		select {
		case <-t.ctx.Done():
			return
		case env, ok := <-t.envChan:
			if !ok {
				return
			}

			t.mu.RLock()
			handler := t.handler
			t.mu.RUnlock()

			if handler == nil {
				continue
			}
			if err := handler(env); err != nil {
				t.logger.Warn("envelope handler failed", "type", env.Type, "error", err)
			}
		}
	}
}

// acceptNonce enforces replay protection: a nonce is accepted once, and
// envelopes older than the tolerance window are rejected.
func (t *Transport) acceptNonce(env *Envelope) bool {
	if env.Nonce == "" {
		return true
	}

	t.replayMu.Lock()
	defer t.replayMu.Unlock()

	if _, seen := t.replayCache[env.Nonce]; seen {
		return false
	}
	if time.Since(env.Timestamp) > replayTolerance {
		return false
	}
	t.replayCache[env.Nonce] = time.Now()
	return true
}

func (t *Transport) replayCleaner() {
	defer t.wg.Done()

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-t.ctx.Done():
			return
		case <-ticker.C:
			t.replayMu.Lock()
			cutoff := time.Now().Add(-replayTolerance)
			for nonce, ts := range t.replayCache {
				if ts.Before(cutoff) {
					delete(t.replayCache, nonce)
				}
			}
			t.replayMu.Unlock()
		}
	}
}

// TransportStats is a point-in-time view of the transport.
type TransportStats struct {
	NodeID    string `json:"node_id"`
	Address   string `json:"address"`
	PeerCount int    `json:"peer_count"`
	Running   bool   `json:"running"`
	QueueSize int    `json:"queue_size"`
}

// Stats returns current transport statistics.
func (t *Transport) Stats() TransportStats {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return TransportStats{
		NodeID:    t.nodeID,
		Address:   t.address,
		PeerCount: len(t.peers),
		Running:   t.running,
		QueueSize: len(t.envChan),
	}
}
