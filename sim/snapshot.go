package sim

import (
	"strconv"
	"time"
)

// TelemetrySnapshot is the read-only projection of one miner handed to the
// API layer. Field names are contractual: upstream dashboards parse them
// verbatim, casing quirks included.
type TelemetrySnapshot struct {
	MinerID    string `json:"miner_id"`
	ModelID    string `json:"model_id"`
	ScenarioID string `json:"scenario_id"`

	HashRate         float64 `json:"hashRate"`
	ExpectedHashrate float64 `json:"expectedHashrate"`
	Temp             float64 `json:"temp"`
	VRTemp           float64 `json:"vrTemp"`
	Power            float64 `json:"power"`
	FanSpeed         float64 `json:"fanspeed"`
	FanRPM           float64 `json:"fanrpm"`
	CoreVoltage      int     `json:"coreVoltage"`
	Frequency        int     `json:"frequency"`
	ErrorPercentage  float64 `json:"errorPercentage"`
	SharesAccepted   uint64  `json:"sharesAccepted"`
	SharesRejected   uint64  `json:"sharesRejected"`
	BestDiff         string  `json:"bestDiff"`
	PoolState        string  `json:"poolState"`
	UptimeSeconds    float64 `json:"uptimeSeconds"`
	Voltage          float64 `json:"voltage"`
	TargetTemp       float64 `json:"targettemp"`
	AutoFanSpeed     int     `json:"autofanspeed"`
	ManualFanPercent float64 `json:"manualFanPercent"`
	ASICModel        string  `json:"ASICModel"`
	ASICCount        int     `json:"asicCount"`

	// Unix seconds, fractional.
	Timestamp float64 `json:"timestamp"`
}

// projectSnapshot builds the snapshot from a miner's state at the given time.
// Caller holds the per-miner lock, so the copy is never torn across fields.
func projectSnapshot(st *MinerState, now time.Time) TelemetrySnapshot {
	model := st.Model
	autofan := 0
	if st.AutoFanSpeed {
		autofan = 1
	}
	expected := model.NominalHashrateGhs() *
		model.HashrateScale(float64(st.FrequencyMHz), float64(st.CoreVoltageMv))
	return TelemetrySnapshot{
		MinerID:    st.MinerID,
		ModelID:    model.ModelID,
		ScenarioID: st.Scenario.ScenarioID,

		HashRate:         st.HashRateGhs,
		ExpectedHashrate: expected,
		Temp:             st.ChipTempC,
		VRTemp:           st.VRTempC,
		Power:            st.PowerW,
		FanSpeed:         st.FanPercent,
		FanRPM:           st.FanRPM,
		CoreVoltage:      st.CoreVoltageMv,
		Frequency:        st.FrequencyMHz,
		ErrorPercentage:  st.ErrorPercentage,
		SharesAccepted:   st.SharesAccepted,
		SharesRejected:   st.SharesRejected,
		BestDiff:         strconv.FormatUint(st.BestDifficulty, 10),
		PoolState:        string(st.PoolState),
		UptimeSeconds:    st.UptimeSeconds,
		Voltage:          model.InputVoltageV,
		TargetTemp:       st.TargetTempC,
		AutoFanSpeed:     autofan,
		ManualFanPercent: st.ManualFanPercent,
		ASICModel:        model.ASICModel,
		ASICCount:        model.ASICCount,

		Timestamp: float64(now.UnixNano()) / 1e9,
	}
}
