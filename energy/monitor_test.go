package energy

import (
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dagshield/dagshield-node/config"
)

type fakeSampler struct {
	cpu float64
	mem float64
}

func (f *fakeSampler) sample() (float64, float64, error) {
	return f.cpu, f.mem, nil
}

type fakeThrottle struct {
	reduced  int64
	restored int64
}

func (f *fakeThrottle) ReduceIntensity() { atomic.AddInt64(&f.reduced, 1) }
func (f *fakeThrottle) ResetIntensity()  { atomic.AddInt64(&f.restored, 1) }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestMonitor(throttle Throttle) (*Monitor, *fakeSampler) {
	cfg := config.Energy{
		MonitoringEnabled:     true,
		TargetEfficiencyScore: 85,
		PowerLimitWatts:       50,
		SampleInterval:        10 * time.Millisecond,
	}
	m := NewMonitor(cfg, throttle, testLogger())
	src := &fakeSampler{cpu: 20, mem: 30}
	m.src = src
	return m, src
}

func TestSampleUpdatesCurrent(t *testing.T) {
	m, _ := newTestMonitor(nil)

	sample, err := m.Sample()
	if err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if sample.CPUPercent != 20 || sample.MemoryPercent != 30 {
		t.Errorf("unexpected utilization: %+v", sample)
	}
	if sample.PowerWatts <= idlePowerWatts {
		t.Errorf("busy node should draw more than idle: %f", sample.PowerWatts)
	}
	if sample.CarbonKgPerHour <= 0 {
		t.Errorf("expected positive carbon estimate, got %f", sample.CarbonKgPerHour)
	}

	if got := m.Current(); got != sample {
		t.Errorf("Current should return the last sample: %+v vs %+v", got, sample)
	}
}

func TestOverLimitReducesIntensity(t *testing.T) {
	throttle := &fakeThrottle{}
	m, src := newTestMonitor(throttle)

	src.cpu = 100
	if _, err := m.Sample(); err != nil {
		t.Fatalf("sample failed: %v", err)
	}
	if atomic.LoadInt64(&throttle.reduced) != 1 {
		t.Errorf("expected one ReduceIntensity call, got %d", throttle.reduced)
	}
	if atomic.LoadInt64(&throttle.restored) != 0 {
		t.Errorf("intensity should not be restored yet")
	}
}

func TestIntensityRestoredAfterCooldown(t *testing.T) {
	throttle := &fakeThrottle{}
	m, src := newTestMonitor(throttle)

	src.cpu = 100
	m.Sample()

	// Just under the limit is not enough; restore needs headroom.
	src.cpu = 60
	m.Sample()
	if atomic.LoadInt64(&throttle.restored) != 0 {
		t.Fatalf("restore should wait for usage to drop well below the limit")
	}

	src.cpu = 10
	m.Sample()
	if atomic.LoadInt64(&throttle.restored) != 1 {
		t.Errorf("expected one ResetIntensity call, got %d", throttle.restored)
	}
}

func TestEfficiencyScore(t *testing.T) {
	cases := []struct {
		cpu, mem float64
		want     uint32
	}{
		{0, 0, 50},
		{40, 40, 75},
		{100, 100, 40},
	}
	for _, tc := range cases {
		if got := efficiencyScore(tc.cpu, tc.mem); got != tc.want {
			t.Errorf("efficiencyScore(%f, %f) = %d, want %d", tc.cpu, tc.mem, got, tc.want)
		}
	}
}

func TestActiveProfile(t *testing.T) {
	m, src := newTestMonitor(nil)

	src.cpu = 5
	m.Sample()
	if p := m.ActiveProfile(); p.Name != "Power Saver" {
		t.Errorf("idle node should run the power saver profile, got %s", p.Name)
	}

	src.cpu = 100
	m.Sample()
	if p := m.ActiveProfile(); p.Name != "High Performance" {
		t.Errorf("saturated node should run the high performance profile, got %s", p.Name)
	}
}

func TestSolveEfficiencyChallenge(t *testing.T) {
	m, _ := newTestMonitor(nil)
	m.Sample()

	if _, ok := m.SolveEfficiencyChallenge(""); ok {
		t.Error("empty challenge should yield no solution")
	}

	solution, ok := m.SolveEfficiencyChallenge("challenge-1")
	if !ok || solution == "" {
		t.Fatal("expected a solution")
	}
	again, _ := m.SolveEfficiencyChallenge("challenge-1")
	if solution != again {
		t.Error("solution should be stable for unchanged telemetry")
	}
}

func TestMonitorLoop(t *testing.T) {
	throttle := &fakeThrottle{}
	m, src := newTestMonitor(throttle)
	src.cpu = 100

	m.Start()
	defer m.Stop()

	deadline := time.After(time.Second)
	for atomic.LoadInt64(&throttle.reduced) == 0 {
		select {
		case <-deadline:
			t.Fatal("sampling loop never applied the throttle")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
