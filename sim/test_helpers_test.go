package sim

import (
	"sync"
	"testing"
	"time"

	"github.com/asic-sim/asic-sim/sim/trace"
)

// fakeClock is a manually advanced Clock for virtual-time tests. Reads and
// advances are mutex-guarded because fleet goroutines read it concurrently.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// newTestFleet builds a fleet on a fake clock with a fixed master seed.
func newTestFleet(t *testing.T, seed int64) (*FleetRuntime, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	rt := NewFleetRuntime(FleetOptions{
		Clock:      clk,
		MasterSeed: seed,
	})
	return rt, clk
}

// newTracedFleet is newTestFleet with tick recording enabled.
func newTracedFleet(t *testing.T, seed int64) (*FleetRuntime, *fakeClock) {
	t.Helper()
	clk := newFakeClock()
	rt := NewFleetRuntime(FleetOptions{
		Clock:      clk,
		MasterSeed: seed,
		Trace:      trace.NewFleetTrace(trace.Config{Level: trace.LevelTicks}),
	})
	return rt, clk
}

// tickSeconds advances the clock and the whole fleet n times by one second.
func tickSeconds(rt *FleetRuntime, clk *fakeClock, n int) {
	for i := 0; i < n; i++ {
		clk.Advance(time.Second)
		rt.TickAll(clk.Now())
	}
}

// mustCreate creates a miner or fails the test.
func mustCreate(t *testing.T, rt *FleetRuntime, modelID, scenarioID string) string {
	t.Helper()
	id, err := rt.Create(modelID, scenarioID)
	if err != nil {
		t.Fatalf("Create(%s, %s): %v", modelID, scenarioID, err)
	}
	return id
}

// mustSnapshot snapshots a miner or fails the test.
func mustSnapshot(t *testing.T, rt *FleetRuntime, id string) TelemetrySnapshot {
	t.Helper()
	snap, err := rt.Snapshot(id)
	if err != nil {
		t.Fatalf("Snapshot(%s): %v", id, err)
	}
	return snap
}

// stateOf reaches into the fleet for white-box assertions.
func stateOf(t *testing.T, rt *FleetRuntime, id string) *MinerState {
	t.Helper()
	slot, err := rt.resolve(id)
	if err != nil {
		t.Fatalf("resolve(%s): %v", id, err)
	}
	return slot.state
}

func intPtr(v int) *int             { return &v }
func floatPtr(v float64) *float64   { return &v }
