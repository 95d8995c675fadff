package sim

import (
	"fmt"
	"math"
	"strings"
)

// Engine advances one MinerState by a time delta. It is stateless apart from
// its tunables: everything that evolves lives on the MinerState, so a single
// Engine instance is shared by the whole fleet and by tests feeding arbitrary
// dt sequences.
type Engine struct {
	// MaxDtS bounds the per-tick delta to avoid explosive Euler jumps after
	// pauses; larger wall-clock gaps are truncated, not subdivided.
	MaxDtS float64

	// Hashrate ramp time constants (seconds).
	TauRampUpS   float64
	TauRampDownS float64

	// Fan PI controller.
	FanBaselinePct   float64
	FanKp            float64
	FanKi            float64
	FanIntegralClamp float64
	FanFloorPct      float64
	// Degrees above targettemp at which the fan is forced to 100%.
	HardCeilingDeltaC float64

	// EWMA smoothing factor for errorPercentage.
	ErrorEWMAAlpha float64
}

// NewEngine returns an engine with the calibrated defaults.
func NewEngine() *Engine {
	return &Engine{
		MaxDtS:            5,
		TauRampUpS:        25,
		TauRampDownS:      3,
		FanBaselinePct:    50,
		FanKp:             2.0,
		FanKi:             0.05,
		FanIntegralClamp:  600,
		FanFloorPct:       10,
		HardCeilingDeltaC: 15,
		ErrorEWMAAlpha:    0.05,
	}
}

// approach moves current toward target with an exponential time constant.
func approach(current, target, dt, tau float64) float64 {
	if tau <= 0 {
		return target
	}
	alpha := 1 - math.Exp(-math.Max(0, dt)/tau)
	return current + (target-current)*alpha
}

// Advance moves st forward by dt seconds. Steps run in a fixed order so that
// replays with the same state and dt sequence are bit-identical: pending
// config, restart countdown, pool state machine, hashrate ramp, power,
// thermal step, fan control, shares and errors, uptime.
//
// A NaN or Inf in any intermediate value is repaired to that field's nominal
// and reported via the returned error; the tick itself always completes.
// Caller holds the per-miner lock.
func (e *Engine) Advance(st *MinerState, dt float64) error {
	dt = clamp(dt, 0, e.MaxDtS)
	model := st.Model
	scenario := st.Scenario

	// 1. Apply pending config.
	applyPending(st)

	// 2. Restart handling.
	if st.restartRemainingS > 0 {
		st.restartRemainingS -= dt
		st.PoolState = PoolStateRestarting
		if st.restartRemainingS <= 0 {
			st.restartRemainingS = 0
			st.PoolState = PoolStateConnecting
			st.stateCountdownS = SampleUniform(st.rng, scenario.ConnectDelayMinS, scenario.ConnectDelayMaxS)
		}
	}

	// 3. Pool state machine.
	switch st.PoolState {
	case PoolStateConnecting, PoolStateReconnecting:
		st.stateCountdownS -= dt
		if st.stateCountdownS <= 0 {
			st.stateCountdownS = 0
			st.PoolState = PoolStateMining
		}
	case PoolStateMining, PoolStateConnected:
		if scenario.DisconnectRate > 0 && st.rng.Float64() < scenario.DisconnectRate*dt {
			st.PoolState = PoolStateReconnecting
			st.stateCountdownS = SampleExponential(st.rng, scenario.MTTRSeconds)
		}
	case PoolStateRestarting:
		// Only left via the countdown above.
	}

	// 4. Hashrate ramp.
	targetHash := model.NominalHashrateGhs() * model.HashrateScale(float64(st.FrequencyMHz), float64(st.CoreVoltageMv))
	if st.PoolState.Hashing() {
		st.RampProgress = approach(st.RampProgress, 1, dt, e.TauRampUpS)
	} else {
		st.RampProgress = approach(st.RampProgress, 0, dt, e.TauRampDownS)
	}
	st.RampProgress = clamp(st.RampProgress, 0, 1)

	if st.PoolState.Hashing() {
		jitter := SampleGauss(st.rng, scenario.HashrateJitterSigma)
		st.HashRateGhs = math.Max(0, targetHash*st.RampProgress*(1+jitter))
	} else {
		st.HashRateGhs = 0
	}

	// 5. Power model.
	st.PowerW = model.PowerW(float64(st.FrequencyMHz), float64(st.CoreVoltageMv), st.RampProgress)

	// 6. Thermal step (explicit Euler on the lumped model).
	heatOut := (st.ChipTempC-st.AmbientC)/math.Max(0.01, model.ThermalResistanceCPerW) +
		model.FanCoolingWPerC*(st.FanPercent/100)*(st.ChipTempC-st.AmbientC)
	st.ChipTempC += dt*(st.PowerW-heatOut)/math.Max(0.1, model.ThermalMassJPerC) +
		SampleGauss(st.rng, scenario.ThermalNoiseSigma)
	if st.ChipTempC < st.AmbientC {
		st.ChipTempC = st.AmbientC
	}
	st.VRTempC = st.ChipTempC + model.VROffsetC + math.Abs(SampleGauss(st.rng, scenario.ThermalNoiseSigma*0.5))

	// 7. Fan control.
	if st.AutoFanSpeed {
		err := st.ChipTempC - st.TargetTempC
		atMax := st.FanPercent >= 100-1e-6
		atMin := st.FanPercent <= e.FanFloorPct+1e-6
		if !((atMax && err > 0) || (atMin && err < 0)) {
			st.fanIntegral = clamp(st.fanIntegral+err*dt, -e.FanIntegralClamp, e.FanIntegralClamp)
		}
		st.FanPercent = clamp(e.FanBaselinePct+e.FanKp*err+e.FanKi*st.fanIntegral, e.FanFloorPct, 100)
		if st.ChipTempC >= st.TargetTempC+e.HardCeilingDeltaC {
			st.FanPercent = 100
		}
	} else {
		st.FanPercent = clamp(st.ManualFanPercent, 0, 100)
	}
	st.FanRPM = st.FanPercent / 100 * float64(model.FanMaxRPM)

	// 8. Shares and errors.
	if st.PoolState == PoolStateMining && model.BaseShareRateS > 0 {
		nominal := math.Max(1e-9, model.NominalHashrateGhs())
		lambda := model.BaseShareRateS * st.HashRateGhs / nominal
		accepted := SamplePoisson(st.rng, lambda*dt)
		rejected := SamplePoisson(st.rng, lambda*scenario.RejectBias*dt)
		st.SharesAccepted += uint64(accepted)
		st.SharesRejected += uint64(rejected)
		for i := 0; i < accepted; i++ {
			r := math.Max(1e-9, st.rng.Float64())
			candidate := uint64(clamp(math.Pow(r, -3)*10_000, 10_000, 50_000_000_000))
			if candidate > st.BestDifficulty {
				st.BestDifficulty = candidate
			}
		}
		// EWMA of the cumulative reject ratio; single-tick bursts must not
		// spike the reported percentage the way a per-tick ratio would.
		if total := st.SharesAccepted + st.SharesRejected; total > 0 {
			ratio := 100 * float64(st.SharesRejected) / float64(total)
			st.ErrorPercentage += e.ErrorEWMAAlpha * (ratio - st.ErrorPercentage)
		}
	}
	st.ErrorPercentage = clamp(math.Max(st.ErrorPercentage, scenario.ErrorFloorPct), 0, 100)

	// 9. Uptime stalls during restart, never resets.
	if st.PoolState != PoolStateRestarting {
		st.UptimeSeconds += dt
	}

	return e.sanitize(st)
}

// sanitize repairs NaN/Inf fields to their nominal values. A fault on one
// miner never propagates beyond the returned error; the fleet logs it and
// keeps ticking.
func (e *Engine) sanitize(st *MinerState) error {
	var repaired []string

	fix := func(name string, v *float64, nominal float64) {
		if math.IsNaN(*v) || math.IsInf(*v, 0) {
			*v = nominal
			repaired = append(repaired, name)
		}
	}

	fix("chipTempC", &st.ChipTempC, st.AmbientC)
	fix("vrTempC", &st.VRTempC, st.AmbientC+st.Model.VROffsetC)
	fix("hashRateGhs", &st.HashRateGhs, 0)
	fix("powerW", &st.PowerW, st.Model.IdlePowerW)
	fix("fanPercent", &st.FanPercent, e.FanBaselinePct)
	fix("fanRpm", &st.FanRPM, e.FanBaselinePct/100*float64(st.Model.FanMaxRPM))
	fix("errorPercentage", &st.ErrorPercentage, st.Scenario.ErrorFloorPct)
	fix("rampProgress", &st.RampProgress, 0)
	fix("fanIntegral", &st.fanIntegral, 0)

	if len(repaired) == 0 {
		return nil
	}
	st.faultCount += uint64(len(repaired))
	return &SimError{
		Code:    ErrCodeSimulationFault,
		Message: fmt.Sprintf("numerical fault on %s", st.MinerID),
		Details: strings.Join(repaired, ","),
	}
}
