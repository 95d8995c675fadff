package sim

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// ConfigPatch is a sparse PATCH-style change to a miner's live configuration.
// Nil fields are untouched. Patches are validated against the miner's model
// preset, queued on the miner, and applied at the start of its next tick.
type ConfigPatch struct {
	CoreVoltage      *int     `mapstructure:"coreVoltage" json:"coreVoltage,omitempty"`
	Frequency        *int     `mapstructure:"frequency" json:"frequency,omitempty"`
	AutoFanSpeed     *int     `mapstructure:"autofanspeed" json:"autofanspeed,omitempty"`
	TargetTemp       *float64 `mapstructure:"targettemp" json:"targettemp,omitempty"`
	ManualFanPercent *float64 `mapstructure:"manualFanPercent" json:"manualFanPercent,omitempty"`
}

// IsZero reports whether the patch touches no fields.
func (p *ConfigPatch) IsZero() bool {
	return p.CoreVoltage == nil && p.Frequency == nil && p.AutoFanSpeed == nil &&
		p.TargetTemp == nil && p.ManualFanPercent == nil
}

// merge overlays other onto p field-by-field; later fields win.
func (p *ConfigPatch) merge(other ConfigPatch) {
	if other.CoreVoltage != nil {
		p.CoreVoltage = other.CoreVoltage
	}
	if other.Frequency != nil {
		p.Frequency = other.Frequency
	}
	if other.AutoFanSpeed != nil {
		p.AutoFanSpeed = other.AutoFanSpeed
	}
	if other.TargetTemp != nil {
		p.TargetTemp = other.TargetTemp
	}
	if other.ManualFanPercent != nil {
		p.ManualFanPercent = other.ManualFanPercent
	}
}

// Violation describes one rejected patch field.
type Violation struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

const (
	ReasonOutOfRange   = "out_of_range"
	ReasonInvalidValue = "invalid_value"
	ReasonMalformed    = "malformed"
)

// ValidatePatch decodes a raw patch body against a model preset. Every field
// is validated independently: violating fields are dropped from the returned
// patch, valid fields survive (per-field acceptance). Unknown keys are
// silently ignored. The decode step tolerates weakly-typed input (numeric
// strings, float-typed ints) since dashboards are sloppy about JSON numbers.
func ValidatePatch(model *ModelPreset, raw map[string]any) (ConfigPatch, []Violation) {
	var decoded ConfigPatch
	var violations []Violation

	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &decoded,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return ConfigPatch{}, []Violation{{Field: "patch", Reason: ReasonMalformed}}
	}
	if err := dec.Decode(raw); err != nil {
		return ConfigPatch{}, []Violation{{Field: "patch", Reason: ReasonMalformed}}
	}

	out := ConfigPatch{}

	if decoded.CoreVoltage != nil {
		lo, hi := model.VoltageBoundsMv()
		if *decoded.CoreVoltage < lo || *decoded.CoreVoltage > hi {
			violations = append(violations, Violation{Field: "coreVoltage", Reason: ReasonOutOfRange})
		} else {
			out.CoreVoltage = decoded.CoreVoltage
		}
	}
	if decoded.Frequency != nil {
		lo, hi := model.FrequencyBoundsMHz()
		if *decoded.Frequency < lo || *decoded.Frequency > hi {
			violations = append(violations, Violation{Field: "frequency", Reason: ReasonOutOfRange})
		} else {
			out.Frequency = decoded.Frequency
		}
	}
	if decoded.AutoFanSpeed != nil {
		if *decoded.AutoFanSpeed != 0 && *decoded.AutoFanSpeed != 1 {
			violations = append(violations, Violation{Field: "autofanspeed", Reason: ReasonInvalidValue})
		} else {
			out.AutoFanSpeed = decoded.AutoFanSpeed
		}
	}
	if decoded.TargetTemp != nil {
		if *decoded.TargetTemp < 30 || *decoded.TargetTemp > 90 {
			violations = append(violations, Violation{Field: "targettemp", Reason: ReasonOutOfRange})
		} else {
			out.TargetTemp = decoded.TargetTemp
		}
	}
	if decoded.ManualFanPercent != nil {
		if *decoded.ManualFanPercent < 0 || *decoded.ManualFanPercent > 100 {
			violations = append(violations, Violation{Field: "manualFanPercent", Reason: ReasonOutOfRange})
		} else {
			out.ManualFanPercent = decoded.ManualFanPercent
		}
	}

	return out, violations
}

// enqueuePatch stores a sanitized patch on the miner, overwriting any field
// already pending. No live state changes until the next tick applies it.
// Caller holds the per-miner lock.
func enqueuePatch(st *MinerState, patch ConfigPatch) {
	st.Pending.merge(patch)
}

// applyPending merges the pending patch into live fields and clears it.
// Called by the engine at the start of a tick, under the per-miner lock.
func applyPending(st *MinerState) {
	p := st.Pending
	if p.IsZero() {
		return
	}
	if p.CoreVoltage != nil {
		st.CoreVoltageMv = *p.CoreVoltage
	}
	if p.Frequency != nil {
		st.FrequencyMHz = *p.Frequency
	}
	if p.AutoFanSpeed != nil {
		st.AutoFanSpeed = *p.AutoFanSpeed == 1
	}
	if p.TargetTemp != nil {
		st.TargetTempC = *p.TargetTemp
	}
	if p.ManualFanPercent != nil {
		st.ManualFanPercent = *p.ManualFanPercent
	}
	st.Pending = ConfigPatch{}
}

// String renders the patch for debug logs.
func (p ConfigPatch) String() string {
	out := "{"
	if p.CoreVoltage != nil {
		out += fmt.Sprintf(" coreVoltage=%d", *p.CoreVoltage)
	}
	if p.Frequency != nil {
		out += fmt.Sprintf(" frequency=%d", *p.Frequency)
	}
	if p.AutoFanSpeed != nil {
		out += fmt.Sprintf(" autofanspeed=%d", *p.AutoFanSpeed)
	}
	if p.TargetTemp != nil {
		out += fmt.Sprintf(" targettemp=%.1f", *p.TargetTemp)
	}
	if p.ManualFanPercent != nil {
		out += fmt.Sprintf(" manualFanPercent=%.1f", *p.ManualFanPercent)
	}
	return out + " }"
}
