// Package trace provides telemetry trace recording for fleet-level analysis.
// This package has no dependencies on sim/ — it stores pure data types.
package trace

// TickRecord captures one miner's telemetry at one tick boundary.
type TickRecord struct {
	MinerID   string
	Tick      int
	Timestamp float64 // unix seconds

	HashRateGhs     float64
	ChipTempC       float64
	VRTempC         float64
	PowerW          float64
	FanPercent      float64
	PoolState       string
	SharesAccepted  uint64
	SharesRejected  uint64
	ErrorPercentage float64
}
