// Package blockchain provides the client for the DAGShield coordination
// contract: node registration, threat reporting, challenge retrieval and
// solution submission. The wire protocol to a live chain sits behind the
// Backend interface; the default backend is an in-process simulation
// suitable for local networks and tests.
package blockchain

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/dagshield/dagshield-node/config"
)

var (
	// ErrNotRegistered is returned when an operation requires a
	// registered node.
	ErrNotRegistered = errors.New("node not registered")
	// ErrUnknownChallenge is returned for solutions to challenges the
	// contract does not know.
	ErrUnknownChallenge = errors.New("unknown challenge")
	// ErrChallengeExpired is returned for solutions past the deadline.
	ErrChallengeExpired = errors.New("challenge deadline passed")
)

// ChallengeType identifies what capability a challenge exercises.
type ChallengeType string

const (
	ChallengeSpeed      ChallengeType = "dag_processing_speed"
	ChallengeAccuracy   ChallengeType = "threat_detection_accuracy"
	ChallengeEfficiency ChallengeType = "energy_efficiency"
)

// Challenge is a contract-issued task a node can solve for rewards.
type Challenge struct {
	ID       string        `json:"id"`
	Type     ChallengeType `json:"challenge_type"`
	Data     string        `json:"data"`
	Reward   uint64        `json:"reward"`
	Deadline int64         `json:"deadline"`
}

// NodeRecord is the on-chain state of a registered node.
type NodeRecord struct {
	NodeID          string `json:"node_id"`
	Stake           uint64 `json:"stake"`
	Reputation      uint32 `json:"reputation"`
	TotalReports    uint64 `json:"total_reports"`
	AccurateReports uint64 `json:"accurate_reports"`
	Active          bool   `json:"active"`
	LastActivity    int64  `json:"last_activity"`
}

// NetworkStats is the aggregate contract view.
type NetworkStats struct {
	TotalNodes      uint64 `json:"total_nodes"`
	TotalStaked     uint64 `json:"total_staked"`
	TotalThreats    uint64 `json:"total_threats"`
	VerifiedThreats uint64 `json:"verified_threats"`
}

// Backend is the contract transport. Implementations submit the calls
// to whatever ledger backs the deployment.
type Backend interface {
	RegisterNode(nodeID string, stake uint64) (txHash string, err error)
	ReportThreat(nodeID, threatType, targetAddress string, confidence uint32, chainID uint64) (txHash string, err error)
	VoteOnThreat(nodeID, alertID string, support bool) (txHash string, err error)
	SubmitSolution(nodeID, challengeID, solution string) (txHash string, err error)
	ActiveChallenges() ([]Challenge, error)
	Node(nodeID string) (NodeRecord, error)
	NetworkStats() (NetworkStats, error)
}

// Client wraps a Backend with logging and config-derived identity.
type Client struct {
	cfg     config.Blockchain
	backend Backend
	logger  *slog.Logger

	mu     sync.RWMutex
	nodeID string
}

// NewClient creates a contract client. A nil backend gets the in-process
// simulation.
func NewClient(cfg config.Blockchain, backend Backend, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if backend == nil {
		backend = NewSimulatedBackend(cfg.ChainID)
	}
	return &Client{cfg: cfg, backend: backend, logger: logger}
}

// RegisterNode registers this node with the contract, staking the given
// amount.
func (c *Client) RegisterNode(nodeID string, stake uint64) (string, error) {
	c.logger.Info("registering node", "node_id", nodeID, "stake", stake)

	txHash, err := c.backend.RegisterNode(nodeID, stake)
	if err != nil {
		return "", fmt.Errorf("failed to register node: %w", err)
	}

	c.mu.Lock()
	c.nodeID = nodeID
	c.mu.Unlock()

	c.logger.Info("node registered", "tx_hash", txHash)
	return txHash, nil
}

// ReportThreat submits a threat report for the target address.
func (c *Client) ReportThreat(threatType, targetAddress string, confidence uint32, chainID uint64) (string, error) {
	nodeID, err := c.registeredID()
	if err != nil {
		return "", err
	}

	txHash, err := c.backend.ReportThreat(nodeID, threatType, targetAddress, confidence, chainID)
	if err != nil {
		return "", fmt.Errorf("failed to report threat: %w", err)
	}

	c.logger.Debug("threat reported",
		"threat_type", threatType,
		"target", targetAddress,
		"confidence", confidence,
		"tx_hash", txHash)
	return txHash, nil
}

// VoteOnThreat casts this node's vote on another node's threat alert.
func (c *Client) VoteOnThreat(alertID string, support bool) (string, error) {
	nodeID, err := c.registeredID()
	if err != nil {
		return "", err
	}

	txHash, err := c.backend.VoteOnThreat(nodeID, alertID, support)
	if err != nil {
		return "", fmt.Errorf("failed to vote on threat: %w", err)
	}
	return txHash, nil
}

// ActiveChallenges fetches the challenges currently open for solutions.
func (c *Client) ActiveChallenges() ([]Challenge, error) {
	challenges, err := c.backend.ActiveChallenges()
	if err != nil {
		return nil, fmt.Errorf("failed to fetch challenges: %w", err)
	}
	return challenges, nil
}

// SubmitSolution submits a challenge solution.
func (c *Client) SubmitSolution(challengeID, solution string) (string, error) {
	nodeID, err := c.registeredID()
	if err != nil {
		return "", err
	}

	txHash, err := c.backend.SubmitSolution(nodeID, challengeID, solution)
	if err != nil {
		return "", fmt.Errorf("failed to submit solution: %w", err)
	}

	c.logger.Info("challenge solution submitted", "challenge_id", challengeID, "tx_hash", txHash)
	return txHash, nil
}

// NodeReputation returns this node's current reputation score.
func (c *Client) NodeReputation() (uint32, error) {
	nodeID, err := c.registeredID()
	if err != nil {
		return 0, err
	}

	record, err := c.backend.Node(nodeID)
	if err != nil {
		return 0, err
	}
	return record.Reputation, nil
}

// NetworkStats returns the aggregate contract state.
func (c *Client) NetworkStats() (NetworkStats, error) {
	return c.backend.NetworkStats()
}

func (c *Client) registeredID() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.nodeID == "" {
		return "", ErrNotRegistered
	}
	return c.nodeID, nil
}

// txHash derives a deterministic transaction hash for the simulated
// ledger.
func txHash(parts ...string) string {
	seed := fmt.Sprintf("%v|%d", parts, time.Now().UnixNano())
	return "0x" + chainhash.DoubleHashH([]byte(seed)).String()
}
