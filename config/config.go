// Package config provides configuration loading for the DAGShield node.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root node configuration.
type Config struct {
	Node       NodeSettings `yaml:"node"`
	Blockchain Blockchain   `yaml:"blockchain"`
	AI         AI           `yaml:"ai"`
	Network    Network      `yaml:"network"`
	Energy     Energy       `yaml:"energy"`
	Metrics    Metrics      `yaml:"metrics"`
}

// NodeSettings controls the core processing loop.
type NodeSettings struct {
	StakeAmount         uint64        `yaml:"stake_amount"`
	ReputationThreshold uint32        `yaml:"reputation_threshold"`
	MaxConcurrentTasks  int           `yaml:"max_concurrent_tasks"`
	HeartbeatInterval   time.Duration `yaml:"heartbeat_interval"`
	ChallengeTimeout    time.Duration `yaml:"challenge_timeout"`
	TickInterval        time.Duration `yaml:"tick_interval"`
}

// Blockchain configures the reporting client.
type Blockchain struct {
	RPCURL          string `yaml:"rpc_url"`
	ChainID         uint64 `yaml:"chain_id"`
	ContractAddress string `yaml:"contract_address"`
	GasLimit        uint64 `yaml:"gas_limit"`
	GasPriceGwei    uint64 `yaml:"gas_price_gwei"`
}

// AI configures the threat detector.
type AI struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	BatchSize           int     `yaml:"batch_size"`
	Workers             int     `yaml:"workers"`
}

// Network configures peer gossip.
type Network struct {
	ListenHost        string        `yaml:"listen_host"`
	ListenPort        int           `yaml:"listen_port"`
	BootstrapPeers    []string      `yaml:"bootstrap_peers"`
	MaxPeers          int           `yaml:"max_peers"`
	DiscoveryInterval time.Duration `yaml:"discovery_interval"`
}

// Energy configures the energy monitor.
type Energy struct {
	MonitoringEnabled     bool          `yaml:"monitoring_enabled"`
	TargetEfficiencyScore uint32        `yaml:"target_efficiency_score"`
	PowerLimitWatts       float64       `yaml:"power_limit_watts"`
	SampleInterval        time.Duration `yaml:"sample_interval"`
}

// Metrics configures the Prometheus endpoint.
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Node: NodeSettings{
			StakeAmount:         100,
			ReputationThreshold: 70,
			MaxConcurrentTasks:  10,
			HeartbeatInterval:   30 * time.Second,
			ChallengeTimeout:    time.Hour,
			TickInterval:        100 * time.Millisecond,
		},
		Blockchain: Blockchain{
			RPCURL:          "http://localhost:8545",
			ChainID:         1337,
			ContractAddress: "0x0000000000000000000000000000000000000000",
			GasLimit:        500_000,
			GasPriceGwei:    20,
		},
		AI: AI{
			ConfidenceThreshold: 0.7,
			BatchSize:           32,
			Workers:             4,
		},
		Network: Network{
			ListenHost:        "0.0.0.0",
			ListenPort:        9090,
			MaxPeers:          50,
			DiscoveryInterval: 60 * time.Second,
		},
		Energy: Energy{
			MonitoringEnabled:     true,
			TargetEfficiencyScore: 85,
			PowerLimitWatts:       50,
			SampleInterval:        10 * time.Second,
		},
		Metrics: Metrics{
			Enabled: true,
			Address: ":9100",
		},
	}
}

// Load reads a YAML config file, applying defaults for absent fields.
// A missing file yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Node.MaxConcurrentTasks <= 0 {
		return errors.New("node.max_concurrent_tasks must be positive")
	}
	if c.Node.TickInterval <= 0 {
		return errors.New("node.tick_interval must be positive")
	}
	if c.AI.ConfidenceThreshold < 0 || c.AI.ConfidenceThreshold > 1 {
		return errors.New("ai.confidence_threshold must be in [0, 1]")
	}
	if c.Network.ListenPort < 0 || c.Network.ListenPort > 65535 {
		return errors.New("network.listen_port out of range")
	}
	if c.Energy.PowerLimitWatts <= 0 {
		return errors.New("energy.power_limit_watts must be positive")
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
