package sim

import (
	"math/rand"
	"time"
)

// PoolState is the status of the miner's logical connection to a mining pool.
// Uses a distinct type (not a bare string) to prevent accidental mixing.
type PoolState string

const (
	PoolStateConnecting   PoolState = "connecting"
	PoolStateConnected    PoolState = "connected"
	PoolStateReconnecting PoolState = "reconnecting"
	PoolStateMining       PoolState = "mining"
	PoolStateRestarting   PoolState = "restarting"
)

// Hashing reports whether the pool state permits non-zero hashrate.
func (p PoolState) Hashing() bool {
	return p == PoolStateMining || p == PoolStateConnected
}

// MinerState is the mutable physical and operational state of one miner.
// It is owned exclusively by its slot in the fleet map; every read and write
// goes through the per-miner lock, including the engine's Advance.
type MinerState struct {
	// Identity. Never changes after creation.
	MinerID   string
	Model     *ModelPreset
	Scenario  *ScenarioPreset
	CreatedAt time.Time

	// Operational.
	PoolState      PoolState
	UptimeSeconds  float64
	SharesAccepted uint64
	SharesRejected uint64
	BestDifficulty uint64

	// Physical.
	ChipTempC       float64
	VRTempC         float64
	AmbientC        float64
	FanPercent      float64
	FanRPM          float64
	HashRateGhs     float64
	PowerW          float64
	ErrorPercentage float64

	// Live configuration.
	CoreVoltageMv    int
	FrequencyMHz     int
	AutoFanSpeed     bool
	TargetTempC      float64
	ManualFanPercent float64

	// Internals.
	RampProgress float64
	Pending      ConfigPatch
	LastTickAt   time.Time

	rng *rand.Rand

	// Seconds left in the current restart; 0 when not restarting.
	restartRemainingS float64
	// Seconds left before connecting/reconnecting resolves to mining.
	stateCountdownS float64
	// PI controller integral term, anti-windup clamped by the engine.
	fanIntegral float64
	// Count of numerical faults repaired in place.
	faultCount uint64
}

// newMinerState initializes a miner at the preset cold-start point: zero
// hashrate, zero ramp, chip at ambient, pool connecting.
func newMinerState(id string, model *ModelPreset, scenario *ScenarioPreset, masterSeed int64, now time.Time) *MinerState {
	rng := NewMinerRNG(masterSeed, id, now.UnixNano())
	ambient := scenario.AmbientC(model)
	st := &MinerState{
		MinerID:   id,
		Model:     model,
		Scenario:  scenario,
		CreatedAt: now,

		PoolState: PoolStateConnecting,

		ChipTempC:  ambient,
		VRTempC:    ambient + model.VROffsetC,
		AmbientC:   ambient,
		FanPercent: clamp(model.MinFanPct, 10, 100),

		CoreVoltageMv:    model.NominalCoreVoltageMv,
		FrequencyMHz:     model.NominalFrequencyMHz,
		AutoFanSpeed:     true,
		TargetTempC:      model.TargetTempC,
		ManualFanPercent: clamp(model.MinFanPct, 10, 100),

		LastTickAt: now,
		rng:        rng,
	}
	st.FanRPM = st.FanPercent / 100 * float64(model.FanMaxRPM)
	st.ErrorPercentage = scenario.ErrorFloorPct
	st.BestDifficulty = uint64(5_000_000 + rng.Int63n(15_000_000))
	st.stateCountdownS = SampleUniform(rng, scenario.ConnectDelayMinS, scenario.ConnectDelayMaxS)
	return st
}

// FaultCount returns how many numerical faults were repaired on this miner.
func (st *MinerState) FaultCount() uint64 { return st.faultCount }
