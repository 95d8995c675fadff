package api

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/asic-sim/asic-sim/sim"
)

// The compat endpoints present the fleet as one physical miner: they operate
// on the first miner by id and auto-create one from the defaults when the
// fleet is empty. Upstream benchmarking tools probe these paths to detect a
// device, so field names and types follow the firmware payload exactly.

// compatPick resolves the miner the compat surface operates on.
func (s *Server) compatPick() (sim.TelemetrySnapshot, error) {
	refs := s.fleet.List()
	if len(refs) == 0 {
		if _, err := s.fleet.Create(s.defaultModelID, s.defaultScenarioID); err != nil {
			return sim.TelemetrySnapshot{}, err
		}
		refs = s.fleet.List()
	}
	return s.fleet.Snapshot(refs[0].MinerID)
}

// stableMAC derives a locally administered unicast MAC from the miner id, so
// a given miner always reports the same address.
func stableMAC(minerID string) string {
	digest := sha256.Sum256([]byte(minerID))
	b := digest[:6]
	parts := make([]string, 6)
	for i, x := range b {
		if i == 0 {
			x = (x &^ 0x01) | 0x02
		}
		parts[i] = fmt.Sprintf("%02x", x)
	}
	return strings.Join(parts, ":")
}

func (s *Server) handleCompatSystemInfo(w http.ResponseWriter, r *http.Request) {
	snap, err := s.compatPick()
	if err != nil {
		writeSimError(w, err)
		return
	}

	host := r.Host
	if h, _, splitErr := net.SplitHostPort(r.Host); splitErr == nil {
		host = h
	}
	if host == "" {
		host = "0.0.0.0"
	}

	info := map[string]any{
		"ASICModel": snap.ASICModel,
		// Some consumers look for the lowercase variant.
		"asicModel":    snap.ASICModel,
		"asicCount":    snap.ASICCount,
		"apEnabled":    0,
		"autofanspeed": snap.AutoFanSpeed,
		"axeOSVersion": "virtual",
		"bestDiff":     snap.BestDiff,
		"blockFound":   0,
		"blockHeight":  0,
		// Kept string-typed: device-detection code calls .lower() on it.
		"boardVersion":     "0",
		"coreVoltage":      snap.CoreVoltage,
		"errorPercentage":  snap.ErrorPercentage,
		"expectedHashrate": snap.ExpectedHashrate,
		"fan2rpm":          0,
		"fanrpm":           int(snap.FanRPM),
		"fanspeed":         snap.FanSpeed,
		"frequency":        snap.Frequency,
		"hashRate":         snap.HashRate,
		"hostname":         snap.MinerID,
		"ipv4":             host,
		"ipv6":             "",
		"macAddr":          stableMAC(snap.MinerID),
		"manualFanSpeed":   int(snap.ManualFanPercent),
		"nominalVoltage":   int(snap.Voltage),
		"overheat_mode":    0,
		"poolState":        snap.PoolState,
		"power":            snap.Power,
		"runningPartition": "virtual",
		"sharesAccepted":   snap.SharesAccepted,
		"sharesRejected":   snap.SharesRejected,
		"ssid":             "virtual",
		"temp":             snap.Temp,
		"temp2":            0,
		"temptarget":       snap.TargetTemp,
		"targettemp":       snap.TargetTemp,
		"uptimeSeconds":    int(snap.UptimeSeconds),
		"version":          "virtual",
		"voltage":          snap.Voltage * 1000, // firmware reports millivolts
		"vrTemp":           int(snap.VRTemp + 0.5),
		"wifiStatus":       3,
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleCompatPatchSystem(w http.ResponseWriter, r *http.Request) {
	snap, err := s.compatPick()
	if err != nil {
		writeSimError(w, err)
		return
	}
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, sim.ErrCodeInvalidConfig, "request body is not a JSON object", "")
		return
	}
	// Firmware PATCH ignores unknown keys and replies with a bare 200.
	if _, _, err := s.fleet.PatchConfig(snap.MinerID, raw); err != nil {
		writeSimError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleCompatRestart(w http.ResponseWriter, r *http.Request) {
	snap, err := s.compatPick()
	if err != nil {
		writeSimError(w, err)
		return
	}
	if err := s.fleet.Restart(snap.MinerID); err != nil {
		writeSimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "restarting",
		"uptime": int(snap.UptimeSeconds),
	})
}
