// Package energy provides host telemetry and power-aware throttling for
// the node. It samples CPU and memory usage, estimates power draw, and
// asks the DAG processor to reduce intensity when the configured power
// limit is exceeded.
package energy

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/prometheus/procfs"

	"github.com/dagshield/dagshield-node/config"
)

// Throttle is the control surface the monitor drives on the DAG
// processor.
type Throttle interface {
	ReduceIntensity()
	ResetIntensity()
}

// Metrics is one telemetry sample.
type Metrics struct {
	CPUPercent      float64 `json:"cpu_percent"`
	MemoryPercent   float64 `json:"memory_percent"`
	PowerWatts      float64 `json:"power_watts"`
	EfficiencyScore uint32  `json:"efficiency_score"`
	CarbonKgPerHour float64 `json:"carbon_kg_per_hour"`
	Timestamp       int64   `json:"timestamp"`
}

// Profile is a named power envelope.
type Profile struct {
	Name             string
	MaxCPUPercent    float64
	MaxPowerWatts    float64
	TargetEfficiency uint32
}

// idlePowerWatts is the assumed baseline draw of an idle node.
const idlePowerWatts = 10.0

// gridCarbonKgPerKWh is the average grid carbon intensity used for the
// footprint estimate.
const gridCarbonKgPerKWh = 0.4

// sampler reads cpu and memory utilization percentages.
type sampler interface {
	sample() (cpuPercent, memPercent float64, err error)
}

// Monitor samples host telemetry on a fixed interval.
type Monitor struct {
	cfg      config.Energy
	logger   *slog.Logger
	throttle Throttle
	src      sampler

	mu       sync.RWMutex
	current  Metrics
	profiles []Profile
	reduced  bool

	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// NewMonitor creates an energy monitor. When /proc is unavailable the
// monitor falls back to a synthetic sampler so the node still runs on
// non-Linux hosts.
func NewMonitor(cfg config.Energy, throttle Throttle, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleInterval <= 0 {
		cfg.SampleInterval = 10 * time.Second
	}

	var src sampler
	if fs, err := procfs.NewDefaultFS(); err == nil {
		src = &procSampler{fs: fs}
	} else {
		logger.Warn("procfs unavailable, using synthetic telemetry", "error", err)
		src = &syntheticSampler{}
	}

	m := &Monitor{
		cfg:      cfg,
		logger:   logger,
		throttle: throttle,
		src:      src,
		profiles: []Profile{
			{Name: "High Performance", MaxCPUPercent: 100, MaxPowerWatts: cfg.PowerLimitWatts, TargetEfficiency: 60},
			{Name: "Balanced", MaxCPUPercent: 80, MaxPowerWatts: cfg.PowerLimitWatts * 0.8, TargetEfficiency: 75},
			{Name: "Power Saver", MaxCPUPercent: 50, MaxPowerWatts: cfg.PowerLimitWatts * 0.6, TargetEfficiency: 90},
		},
		stopCh: make(chan struct{}),
	}
	return m
}

// Start launches the sampling loop.
func (m *Monitor) Start() {
	if !m.cfg.MonitoringEnabled {
		m.logger.Info("energy monitoring disabled")
		return
	}

	m.wg.Add(1)
	go m.loop()
}

// Stop halts the sampling loop.
func (m *Monitor) Stop() {
	m.once.Do(func() { close(m.stopCh) })
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if _, err := m.Sample(); err != nil {
				m.logger.Warn("telemetry sample failed", "error", err)
			}
		}
	}
}

// Sample takes one telemetry reading, updates the current metrics and
// applies the throttling policy.
func (m *Monitor) Sample() (Metrics, error) {
	cpu, mem, err := m.src.sample()
	if err != nil {
		return Metrics{}, err
	}

	power := idlePowerWatts + cpu/100*(m.cfg.PowerLimitWatts*1.5-idlePowerWatts)
	sample := Metrics{
		CPUPercent:      cpu,
		MemoryPercent:   mem,
		PowerWatts:      power,
		EfficiencyScore: efficiencyScore(cpu, mem),
		CarbonKgPerHour: power / 1000 * gridCarbonKgPerKWh,
		Timestamp:       time.Now().Unix(),
	}

	m.mu.Lock()
	m.current = sample
	m.mu.Unlock()

	m.applyPolicy(sample)
	return sample, nil
}

// applyPolicy reduces processing intensity when the power estimate
// exceeds the limit, and restores it once usage drops well below.
func (m *Monitor) applyPolicy(sample Metrics) {
	if m.throttle == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if sample.PowerWatts > m.cfg.PowerLimitWatts {
		m.logger.Warn("power usage exceeds limit, reducing intensity",
			"power_watts", sample.PowerWatts,
			"limit_watts", m.cfg.PowerLimitWatts)
		m.throttle.ReduceIntensity()
		m.reduced = true
		return
	}

	if m.reduced && sample.PowerWatts < m.cfg.PowerLimitWatts*0.7 {
		m.logger.Info("power usage back under limit, restoring intensity",
			"power_watts", sample.PowerWatts)
		m.throttle.ResetIntensity()
		m.reduced = false
	}
}

// efficiencyScore maps utilization to a 0-100 score; an idle node wastes
// its baseline draw, a saturated node runs hot, the sweet spot is
// moderate utilization.
func efficiencyScore(cpu, mem float64) uint32 {
	load := (cpu + mem) / 2
	switch {
	case load < 10:
		return 50
	case load < 70:
		return uint32(50 + (load-10)*50/60)
	default:
		score := 100 - (load-70)*2
		if score < 0 {
			score = 0
		}
		return uint32(score)
	}
}

// Current returns the most recent sample.
func (m *Monitor) Current() Metrics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ActiveProfile returns the power profile matching the current draw.
func (m *Monitor) ActiveProfile() Profile {
	current := m.Current()

	// Profiles are ordered from widest to narrowest envelope; pick the
	// narrowest one the current draw fits in.
	active := m.profiles[0]
	for _, p := range m.profiles[1:] {
		if current.PowerWatts <= p.MaxPowerWatts {
			active = p
		}
	}
	return active
}

// SolveEfficiencyChallenge derives a solution for an energy-efficiency
// challenge from the current telemetry.
func (m *Monitor) SolveEfficiencyChallenge(challengeData string) (string, bool) {
	if challengeData == "" {
		return "", false
	}

	current := m.Current()
	seed := fmt.Sprintf("%s|%d|%.2f", challengeData, current.EfficiencyScore, current.PowerWatts)
	digest := chainhash.HashH([]byte(seed))
	return "energy-solution-" + digest.String()[:16], true
}

// procSampler reads utilization from /proc.
type procSampler struct {
	fs procfs.FS

	mu       sync.Mutex
	prevIdle float64
	prevBusy float64
}

func (s *procSampler) sample() (float64, float64, error) {
	stat, err := s.fs.Stat()
	if err != nil {
		return 0, 0, fmt.Errorf("failed to read /proc/stat: %w", err)
	}

	cpu := stat.CPUTotal
	idle := cpu.Idle + cpu.Iowait
	busy := cpu.User + cpu.Nice + cpu.System + cpu.IRQ + cpu.SoftIRQ + cpu.Steal

	s.mu.Lock()
	deltaIdle := idle - s.prevIdle
	deltaBusy := busy - s.prevBusy
	s.prevIdle = idle
	s.prevBusy = busy
	s.mu.Unlock()

	cpuPercent := 0.0
	if total := deltaIdle + deltaBusy; total > 0 {
		cpuPercent = deltaBusy / total * 100
	}

	meminfo, err := s.fs.Meminfo()
	if err != nil {
		return cpuPercent, 0, fmt.Errorf("failed to read /proc/meminfo: %w", err)
	}

	memPercent := 0.0
	if meminfo.MemTotal != nil && meminfo.MemAvailable != nil && *meminfo.MemTotal > 0 {
		used := *meminfo.MemTotal - *meminfo.MemAvailable
		memPercent = float64(used) / float64(*meminfo.MemTotal) * 100
	}

	return cpuPercent, memPercent, nil
}

// syntheticSampler provides plausible readings where /proc is absent.
type syntheticSampler struct{}

func (s *syntheticSampler) sample() (float64, float64, error) {
	return 25, 40, nil
}
