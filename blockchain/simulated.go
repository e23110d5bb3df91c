package blockchain

import (
	"fmt"
	"sync"
	"time"
)

// initialReputation is granted to every freshly registered node.
const initialReputation = 50

// SimulatedBackend is an in-process contract implementation. It mirrors
// the coordination contract's state transitions so nodes can run on a
// local network without a chain deployment.
type SimulatedBackend struct {
	chainID uint64

	mu         sync.RWMutex
	nodes      map[string]*NodeRecord
	challenges map[string]Challenge
	solutions  map[string]map[string]string
	stats      NetworkStats
}

// NewSimulatedBackend creates a simulated contract pre-seeded with one
// challenge per type.
func NewSimulatedBackend(chainID uint64) *SimulatedBackend {
	b := &SimulatedBackend{
		chainID:    chainID,
		nodes:      make(map[string]*NodeRecord),
		challenges: make(map[string]Challenge),
		solutions:  make(map[string]map[string]string),
	}
	b.seedChallenges()
	return b
}

func (b *SimulatedBackend) seedChallenges() {
	deadline := time.Now().Add(time.Hour).Unix()
	seeds := []Challenge{
		{
			ID:       "0xabcdef1234567890",
			Type:     ChallengeSpeed,
			Data:     `{"transactions":100,"target_tps":50}`,
			Reward:   500,
			Deadline: deadline,
		},
		{
			ID:       "0x1234567890abcdef",
			Type:     ChallengeAccuracy,
			Data:     `[{"id":"test_1","threat_type":"phishing","expected":true}]`,
			Reward:   1000,
			Deadline: deadline,
		},
		{
			ID:       "0x9876543210fedcba",
			Type:     ChallengeEfficiency,
			Data:     `{"target_efficiency":85}`,
			Reward:   750,
			Deadline: deadline,
		},
	}
	for _, c := range seeds {
		b.challenges[c.ID] = c
	}
}

// AddChallenge publishes a challenge. Used by tests and local network
// tooling.
func (b *SimulatedBackend) AddChallenge(c Challenge) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.challenges[c.ID] = c
}

// Solutions returns the recorded solutions for a challenge, keyed by
// node id.
func (b *SimulatedBackend) Solutions(challengeID string) map[string]string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]string, len(b.solutions[challengeID]))
	for nodeID, solution := range b.solutions[challengeID] {
		out[nodeID] = solution
	}
	return out
}

func (b *SimulatedBackend) RegisterNode(nodeID string, stake uint64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.nodes[nodeID]; exists {
		return "", fmt.Errorf("node %s already registered", nodeID)
	}

	b.nodes[nodeID] = &NodeRecord{
		NodeID:       nodeID,
		Stake:        stake,
		Reputation:   initialReputation,
		Active:       true,
		LastActivity: time.Now().Unix(),
	}
	b.stats.TotalNodes++
	b.stats.TotalStaked += stake

	return txHash("register", nodeID), nil
}

func (b *SimulatedBackend) ReportThreat(nodeID, threatType, targetAddress string, confidence uint32, chainID uint64) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node, ok := b.nodes[nodeID]
	if !ok {
		return "", ErrNotRegistered
	}

	node.TotalReports++
	node.LastActivity = time.Now().Unix()
	b.stats.TotalThreats++

	// High-confidence reports are treated as verified by the simulated
	// consensus and rewarded with reputation.
	if confidence >= 80 {
		node.AccurateReports++
		b.stats.VerifiedThreats++
		if node.Reputation < 100 {
			node.Reputation++
		}
	}

	return txHash("threat", nodeID, threatType, targetAddress), nil
}

func (b *SimulatedBackend) VoteOnThreat(nodeID, alertID string, support bool) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node, ok := b.nodes[nodeID]
	if !ok {
		return "", ErrNotRegistered
	}
	node.LastActivity = time.Now().Unix()

	return txHash("vote", nodeID, alertID), nil
}

func (b *SimulatedBackend) SubmitSolution(nodeID, challengeID, solution string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	node, ok := b.nodes[nodeID]
	if !ok {
		return "", ErrNotRegistered
	}

	challenge, ok := b.challenges[challengeID]
	if !ok {
		return "", ErrUnknownChallenge
	}
	if time.Now().Unix() > challenge.Deadline {
		return "", ErrChallengeExpired
	}

	if b.solutions[challengeID] == nil {
		b.solutions[challengeID] = make(map[string]string)
	}
	b.solutions[challengeID][nodeID] = solution
	node.LastActivity = time.Now().Unix()
	if node.Reputation < 100 {
		node.Reputation++
	}

	return txHash("solution", nodeID, challengeID), nil
}

func (b *SimulatedBackend) ActiveChallenges() ([]Challenge, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := time.Now().Unix()
	active := make([]Challenge, 0, len(b.challenges))
	for _, c := range b.challenges {
		if c.Deadline > now {
			active = append(active, c)
		}
	}
	return active, nil
}

func (b *SimulatedBackend) Node(nodeID string) (NodeRecord, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	node, ok := b.nodes[nodeID]
	if !ok {
		return NodeRecord{}, ErrNotRegistered
	}
	return *node, nil
}

func (b *SimulatedBackend) NetworkStats() (NetworkStats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stats, nil
}
