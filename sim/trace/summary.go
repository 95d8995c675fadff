package trace

// MinerSummary aggregates one miner's trace.
type MinerSummary struct {
	Ticks          int
	MinHashRate    float64
	MaxHashRate    float64
	MeanHashRate   float64
	MinChipTempC   float64
	MaxChipTempC   float64
	MeanChipTempC  float64
	FinalAccepted  uint64
	FinalRejected  uint64
	PoolStateTicks map[string]int // pool state → tick count
}

// TraceSummary aggregates statistics from a FleetTrace.
type TraceSummary struct {
	TotalRecords int
	Miners       map[string]*MinerSummary
}

// Summarize computes aggregate statistics from a FleetTrace.
// Safe for nil or empty traces (returns zero-value fields).
func Summarize(ft *FleetTrace) *TraceSummary {
	summary := &TraceSummary{
		Miners: make(map[string]*MinerSummary),
	}
	if ft == nil {
		return summary
	}
	summary.TotalRecords = len(ft.Ticks)

	for _, r := range ft.Ticks {
		ms, ok := summary.Miners[r.MinerID]
		if !ok {
			ms = &MinerSummary{
				MinHashRate:    r.HashRateGhs,
				MaxHashRate:    r.HashRateGhs,
				MinChipTempC:   r.ChipTempC,
				MaxChipTempC:   r.ChipTempC,
				PoolStateTicks: make(map[string]int),
			}
			summary.Miners[r.MinerID] = ms
		}
		ms.Ticks++
		ms.MeanHashRate += r.HashRateGhs
		ms.MeanChipTempC += r.ChipTempC
		if r.HashRateGhs < ms.MinHashRate {
			ms.MinHashRate = r.HashRateGhs
		}
		if r.HashRateGhs > ms.MaxHashRate {
			ms.MaxHashRate = r.HashRateGhs
		}
		if r.ChipTempC < ms.MinChipTempC {
			ms.MinChipTempC = r.ChipTempC
		}
		if r.ChipTempC > ms.MaxChipTempC {
			ms.MaxChipTempC = r.ChipTempC
		}
		ms.PoolStateTicks[r.PoolState]++
		ms.FinalAccepted = r.SharesAccepted
		ms.FinalRejected = r.SharesRejected
	}

	for _, ms := range summary.Miners {
		if ms.Ticks > 0 {
			ms.MeanHashRate /= float64(ms.Ticks)
			ms.MeanChipTempC /= float64(ms.Ticks)
		}
	}

	return summary
}
