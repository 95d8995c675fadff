package sim

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/asic-sim/asic-sim/sim/trace"
)

// MinerRef identifies one miner in fleet listings.
type MinerRef struct {
	MinerID    string `json:"miner_id"`
	ModelID    string `json:"model_id"`
	ScenarioID string `json:"scenario_id"`
}

// minerSlot pairs a miner's state with its lock. The slot pointer is the
// ownership token: a slot removed from the fleet map is dead, even if a
// concurrent tick still holds a reference to it.
type minerSlot struct {
	mu    sync.Mutex
	state *MinerState
}

// FleetOptions configures a FleetRuntime. Zero values select production
// defaults; tests inject a fake Clock and a fixed MasterSeed.
type FleetOptions struct {
	Clock      Clock
	Catalog    *Catalog
	Engine     *Engine
	MasterSeed int64
	TickPeriod time.Duration
	// MaxMiners caps creation; 0 means unbounded.
	MaxMiners int
	Trace     *trace.FleetTrace
}

// FleetRuntime owns all miners, drives the shared tick, and serializes
// mutations. One read-write lock protects the id->miner mapping; one mutex
// per miner protects that miner's state. No lock is ever held across another
// miner's lock or across I/O.
type FleetRuntime struct {
	clock      Clock
	catalog    *Catalog
	engine     *Engine
	masterSeed int64
	tickPeriod time.Duration
	maxMiners  int

	mu     sync.RWMutex
	miners map[string]*minerSlot
	nextID int

	traceMu   sync.Mutex
	trace     *trace.FleetTrace
	tickIndex int

	runMu   sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewFleetRuntime creates an empty fleet.
func NewFleetRuntime(opts FleetOptions) *FleetRuntime {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Catalog == nil {
		opts.Catalog = NewCatalog()
	}
	if opts.Engine == nil {
		opts.Engine = NewEngine()
	}
	if opts.TickPeriod <= 0 {
		opts.TickPeriod = time.Second
	}
	return &FleetRuntime{
		clock:      opts.Clock,
		catalog:    opts.Catalog,
		engine:     opts.Engine,
		masterSeed: opts.MasterSeed,
		tickPeriod: opts.TickPeriod,
		maxMiners:  opts.MaxMiners,
		miners:     make(map[string]*minerSlot),
		nextID:     1,
		trace:      opts.Trace,
	}
}

// Catalog returns the preset catalog the fleet resolves ids against.
func (rt *FleetRuntime) Catalog() *Catalog { return rt.catalog }

// List returns a snapshot of all miners, sorted by id.
func (rt *FleetRuntime) List() []MinerRef {
	rt.mu.RLock()
	out := make([]MinerRef, 0, len(rt.miners))
	for _, slot := range rt.miners {
		st := slot.state
		out = append(out, MinerRef{
			MinerID:    st.MinerID,
			ModelID:    st.Model.ModelID,
			ScenarioID: st.Scenario.ScenarioID,
		})
	}
	rt.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].MinerID < out[j].MinerID })
	return out
}

// Len returns the current miner count.
func (rt *FleetRuntime) Len() int {
	rt.mu.RLock()
	defer rt.mu.RUnlock()
	return len(rt.miners)
}

// Create builds a miner from presets and inserts it. Ids are zero-padded,
// monotonic within the process, and never reused after delete.
func (rt *FleetRuntime) Create(modelID, scenarioID string) (string, error) {
	model, err := rt.catalog.Model(modelID)
	if err != nil {
		return "", err
	}
	scenario, err := rt.catalog.Scenario(scenarioID)
	if err != nil {
		return "", err
	}

	now := rt.clock.Now()

	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.maxMiners > 0 && len(rt.miners) >= rt.maxMiners {
		return "", NewFleetBusyError(fmt.Sprintf("fleet is at its cap of %d miners", rt.maxMiners))
	}
	id := fmt.Sprintf("m_%03d", rt.nextID)
	rt.nextID++
	rt.miners[id] = &minerSlot{
		state: newMinerState(id, model, scenario, rt.masterSeed, now),
	}
	logrus.Debugf("created miner %s (model=%s scenario=%s)", id, modelID, scenarioID)
	return id, nil
}

// Delete removes a miner. Any concurrent tick for the id completes on the
// detached slot without resurrecting the entry; subsequent operations on the
// id observe NotFound.
func (rt *FleetRuntime) Delete(minerID string) error {
	rt.mu.Lock()
	_, ok := rt.miners[minerID]
	if ok {
		delete(rt.miners, minerID)
	}
	rt.mu.Unlock()
	if !ok {
		return NewNotFoundError(fmt.Sprintf("unknown miner %q", minerID))
	}
	logrus.Debugf("deleted miner %s", minerID)
	return nil
}

// resolve fetches the live slot for an id.
func (rt *FleetRuntime) resolve(minerID string) (*minerSlot, error) {
	rt.mu.RLock()
	slot, ok := rt.miners[minerID]
	rt.mu.RUnlock()
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("unknown miner %q", minerID))
	}
	return slot, nil
}

// Snapshot returns an internally consistent telemetry projection. The
// per-miner lock is held for the whole copy, so readers never see a tick's
// intermediate values.
func (rt *FleetRuntime) Snapshot(minerID string) (TelemetrySnapshot, error) {
	slot, err := rt.resolve(minerID)
	if err != nil {
		return TelemetrySnapshot{}, err
	}
	now := rt.clock.Now()
	slot.mu.Lock()
	snap := projectSnapshot(slot.state, now)
	slot.mu.Unlock()
	return snap, nil
}

// PatchConfig validates a raw patch against the miner's model preset and
// enqueues the surviving fields. Violating fields are reported and dropped;
// the valid remainder is still applied at the next tick.
func (rt *FleetRuntime) PatchConfig(minerID string, raw map[string]any) (ConfigPatch, []Violation, error) {
	slot, err := rt.resolve(minerID)
	if err != nil {
		return ConfigPatch{}, nil, err
	}
	slot.mu.Lock()
	patch, violations := ValidatePatch(slot.state.Model, raw)
	enqueuePatch(slot.state, patch)
	slot.mu.Unlock()
	logrus.Debugf("patch for %s: %s", minerID, patch)
	if len(violations) > 0 {
		logrus.Debugf("patch for %s rejected fields: %v", minerID, violations)
	}
	return patch, violations, nil
}

// Restart puts the miner into the restarting state for the scenario's
// restart duration. Share counters survive; uptime stalls until the miner is
// back (it never resets).
func (rt *FleetRuntime) Restart(minerID string) error {
	slot, err := rt.resolve(minerID)
	if err != nil {
		return err
	}
	slot.mu.Lock()
	st := slot.state
	duration := st.Scenario.RestartDurationS
	if duration <= 0 {
		duration = 5
	}
	st.restartRemainingS = duration
	st.PoolState = PoolStateRestarting
	st.HashRateGhs = 0
	slot.mu.Unlock()
	logrus.Debugf("restarting miner %s for %.0fs", minerID, duration)
	return nil
}

// TickAll advances every miner to the given time. Miners deleted between the
// map snapshot and lock acquisition are skipped. Simulation faults are logged
// and isolated; they never stop the pass.
func (rt *FleetRuntime) TickAll(now time.Time) {
	rt.tickAll(now, nil)
}

func (rt *FleetRuntime) tickAll(now time.Time, stop <-chan struct{}) {
	type entry struct {
		id   string
		slot *minerSlot
	}
	rt.mu.RLock()
	entries := make([]entry, 0, len(rt.miners))
	for id, slot := range rt.miners {
		entries = append(entries, entry{id, slot})
	}
	rt.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })

	rt.traceMu.Lock()
	tick := rt.tickIndex
	rt.tickIndex++
	rt.traceMu.Unlock()

	for _, en := range entries {
		if stop != nil {
			select {
			case <-stop:
				return
			default:
			}
		}

		en.slot.mu.Lock()

		// Skip miners deleted after the snapshot above.
		rt.mu.RLock()
		live := rt.miners[en.id] == en.slot
		rt.mu.RUnlock()
		if !live {
			en.slot.mu.Unlock()
			continue
		}

		st := en.slot.state
		dt := now.Sub(st.LastTickAt).Seconds()
		if err := rt.engine.Advance(st, dt); err != nil {
			logrus.WithField("miner", en.id).Warnf("simulation fault repaired: %v", err)
		}
		st.LastTickAt = now

		var rec trace.TickRecord
		recording := rt.trace.Enabled()
		if recording {
			rec = trace.TickRecord{
				MinerID:         st.MinerID,
				Tick:            tick,
				Timestamp:       float64(now.UnixNano()) / 1e9,
				HashRateGhs:     st.HashRateGhs,
				ChipTempC:       st.ChipTempC,
				VRTempC:         st.VRTempC,
				PowerW:          st.PowerW,
				FanPercent:      st.FanPercent,
				PoolState:       string(st.PoolState),
				SharesAccepted:  st.SharesAccepted,
				SharesRejected:  st.SharesRejected,
				ErrorPercentage: st.ErrorPercentage,
			}
		}
		en.slot.mu.Unlock()

		if recording {
			rt.traceMu.Lock()
			rt.trace.RecordTick(rec)
			rt.traceMu.Unlock()
		}
	}
	logrus.Debugf("[tick %05d] advanced %d miners", tick, len(entries))
}

// TraceEnabled reports whether tick recording is on.
func (rt *FleetRuntime) TraceEnabled() bool {
	return rt.trace.Enabled()
}

// TraceForMiner copies the recorded trace for one miner.
func (rt *FleetRuntime) TraceForMiner(minerID string) []trace.TickRecord {
	rt.traceMu.Lock()
	defer rt.traceMu.Unlock()
	return rt.trace.ForMiner(minerID)
}

// TraceSummary summarizes the recorded trace.
func (rt *FleetRuntime) TraceSummary() *trace.TraceSummary {
	rt.traceMu.Lock()
	defer rt.traceMu.Unlock()
	return trace.Summarize(rt.trace)
}

// Start launches the tick worker at the configured cadence. If a tick pass
// overruns the cadence the next one starts immediately with a larger dt,
// which the engine clamps.
func (rt *FleetRuntime) Start() {
	rt.runMu.Lock()
	defer rt.runMu.Unlock()
	if rt.running {
		return
	}
	rt.running = true
	rt.stop = make(chan struct{})
	rt.done = make(chan struct{})
	go rt.runLoop(rt.stop, rt.done)
	logrus.Infof("fleet tick worker started (period %s)", rt.tickPeriod)
}

func (rt *FleetRuntime) runLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(rt.tickPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			rt.tickAll(rt.clock.Now(), stop)
		}
	}
}

// Stop shuts the tick worker down. The in-flight miner's advance completes
// before the worker exits.
func (rt *FleetRuntime) Stop() {
	rt.runMu.Lock()
	defer rt.runMu.Unlock()
	if !rt.running {
		return
	}
	close(rt.stop)
	<-rt.done
	rt.running = false
	logrus.Info("fleet tick worker stopped")
}
