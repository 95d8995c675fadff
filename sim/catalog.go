package sim

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"
)

// Catalog holds the immutable preset lookup tables. The built-in entries cover
// the common open-hardware board families; a YAML overlay can add or replace
// entries at startup, after which the catalog is read-only.
type Catalog struct {
	models    map[string]*ModelPreset
	scenarios map[string]*ScenarioPreset
}

var (
	freqBM1397 = []int{400, 425, 450, 475, 485, 500, 525, 550, 575, 600}
	freqBM1366 = []int{400, 425, 450, 475, 485, 500, 525, 550, 575}
	freqBM1368 = []int{400, 425, 450, 475, 485, 490, 500, 525, 550, 575}
	freqBM1370 = []int{400, 490, 525, 550, 600, 625}

	voltBM1397 = []int{1100, 1150, 1200, 1250, 1300, 1350, 1400, 1450, 1500}
	voltBM1366 = []int{1100, 1150, 1200, 1250, 1300}
	voltBM1368 = []int{1100, 1150, 1166, 1200, 1250, 1300}
	voltBM1370 = []int{1000, 1060, 1100, 1150, 1200, 1250}
)

// builtinModels returns the built-in hardware archetypes. Per-chip hashrate is
// nominal frequency x small cores / 1000; thermal parameters are calibrated so
// that nominal power at roughly half fan holds the chip near 60 C over a 24 C
// ambient, with a settling time constant around 15 s.
func builtinModels() []*ModelPreset {
	return []*ModelPreset{
		{
			ModelID: "bm1397_1chip_5v", DisplayName: "Bitaxe Max (BM1397 x1, 5V)",
			ASICModel: "BM1397", ASICCount: 1, SmallCoreCount: 672,
			InputVoltageV:       5,
			FrequencyOptionsMHz: freqBM1397, VoltageOptionsMv: voltBM1397,
			NominalFrequencyMHz: 425, NominalCoreVoltageMv: 1400,
			HashratePerChipGhs: 285.6, PowerWAtNominal: 25, IdlePowerW: 2.5,
			ThermalMassJPerC: 10, ThermalResistanceCPerW: 3.6, FanCoolingWPerC: 0.83,
			VROffsetC: 2, FanMaxRPM: 8000, MinFanPct: 35,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.35, BaseShareRateS: 0.010,
		},
		{
			ModelID: "bm1366_1chip_5v", DisplayName: "Bitaxe Ultra (BM1366 x1, 5V)",
			ASICModel: "BM1366", ASICCount: 1, SmallCoreCount: 894,
			InputVoltageV:       5,
			FrequencyOptionsMHz: freqBM1366, VoltageOptionsMv: voltBM1366,
			NominalFrequencyMHz: 485, NominalCoreVoltageMv: 1200,
			HashratePerChipGhs: 433.6, PowerWAtNominal: 25, IdlePowerW: 2.5,
			ThermalMassJPerC: 10, ThermalResistanceCPerW: 3.6, FanCoolingWPerC: 0.83,
			VROffsetC: 2, FanMaxRPM: 9000, MinFanPct: 40,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.35, BaseShareRateS: 0.010,
		},
		{
			ModelID: "bm1366_6chip_12v", DisplayName: "Bitaxe Hex (BM1366 x6, 12V)",
			ASICModel: "BM1366", ASICCount: 6, SmallCoreCount: 894,
			InputVoltageV:       12,
			FrequencyOptionsMHz: freqBM1366, VoltageOptionsMv: voltBM1366,
			NominalFrequencyMHz: 485, NominalCoreVoltageMv: 1200,
			HashratePerChipGhs: 433.6, PowerWAtNominal: 90, IdlePowerW: 9,
			ThermalMassJPerC: 36, ThermalResistanceCPerW: 1.0, FanCoolingWPerC: 3.0,
			VROffsetC: 6, FanMaxRPM: 12000, MinFanPct: 55,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.35, BaseShareRateS: 0.080,
		},
		{
			ModelID: "bm1368_1chip_5v", DisplayName: "Bitaxe Supra (BM1368 x1, 5V)",
			ASICModel: "BM1368", ASICCount: 1, SmallCoreCount: 1276,
			InputVoltageV:       5,
			FrequencyOptionsMHz: freqBM1368, VoltageOptionsMv: voltBM1368,
			NominalFrequencyMHz: 490, NominalCoreVoltageMv: 1166,
			HashratePerChipGhs: 625.2, PowerWAtNominal: 40, IdlePowerW: 4,
			ThermalMassJPerC: 16, ThermalResistanceCPerW: 2.25, FanCoolingWPerC: 1.33,
			VROffsetC: 2, FanMaxRPM: 9000, MinFanPct: 35,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.35, BaseShareRateS: 0.014,
		},
		{
			ModelID: "bm1368_6chip_12v", DisplayName: "Bitaxe SupraHex (BM1368 x6, 12V)",
			ASICModel: "BM1368", ASICCount: 6, SmallCoreCount: 1276,
			InputVoltageV:       12,
			FrequencyOptionsMHz: freqBM1368, VoltageOptionsMv: voltBM1368,
			NominalFrequencyMHz: 490, NominalCoreVoltageMv: 1166,
			HashratePerChipGhs: 625.2, PowerWAtNominal: 120, IdlePowerW: 12,
			ThermalMassJPerC: 48, ThermalResistanceCPerW: 0.75, FanCoolingWPerC: 4.0,
			VROffsetC: 10, FanMaxRPM: 14000, MinFanPct: 50,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.35, BaseShareRateS: 0.090,
		},
		{
			ModelID: "bm1370_1chip_5v", DisplayName: "Bitaxe Gamma (BM1370 x1, 5V)",
			ASICModel: "BM1370", ASICCount: 1, SmallCoreCount: 2040,
			InputVoltageV:       5,
			FrequencyOptionsMHz: freqBM1370, VoltageOptionsMv: voltBM1370,
			NominalFrequencyMHz: 600, NominalCoreVoltageMv: 1175,
			HashratePerChipGhs: 1224, PowerWAtNominal: 20, IdlePowerW: 2,
			ThermalMassJPerC: 8, ThermalResistanceCPerW: 4.5, FanCoolingWPerC: 0.67,
			VROffsetC: 1, FanMaxRPM: 15500, MinFanPct: 15,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.30, BaseShareRateS: 0.024,
		},
		{
			ModelID: "bm1370_2chip", DisplayName: "Bitaxe Gamma Turbo (BM1370 x2, 12V)",
			ASICModel: "BM1370", ASICCount: 2, SmallCoreCount: 2040,
			InputVoltageV:       12,
			FrequencyOptionsMHz: freqBM1370, VoltageOptionsMv: voltBM1370,
			NominalFrequencyMHz: 600, NominalCoreVoltageMv: 1175,
			HashratePerChipGhs: 1224, PowerWAtNominal: 60, IdlePowerW: 6,
			ThermalMassJPerC: 24, ThermalResistanceCPerW: 1.5, FanCoolingWPerC: 2.0,
			VROffsetC: 6, FanMaxRPM: 12000, MinFanPct: 35,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.30, BaseShareRateS: 0.050,
		},
		{
			ModelID: "bm1366_4chip", DisplayName: "QAxe (BM1366 x4, 12V)",
			ASICModel: "BM1366", ASICCount: 4, SmallCoreCount: 894,
			InputVoltageV:       12,
			FrequencyOptionsMHz: freqBM1366, VoltageOptionsMv: voltBM1366,
			NominalFrequencyMHz: 485, NominalCoreVoltageMv: 1200,
			HashratePerChipGhs: 433.6, PowerWAtNominal: 70, IdlePowerW: 7,
			ThermalMassJPerC: 28, ThermalResistanceCPerW: 1.29, FanCoolingWPerC: 2.33,
			VROffsetC: 6, FanMaxRPM: 12000, MinFanPct: 45,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.35, BaseShareRateS: 0.060,
		},
		{
			ModelID: "bm1368_4chip", DisplayName: "QAxe+ / NerdQAxe+ (BM1368 x4, 12V)",
			ASICModel: "BM1368", ASICCount: 4, SmallCoreCount: 1276,
			InputVoltageV:       12,
			FrequencyOptionsMHz: freqBM1368, VoltageOptionsMv: voltBM1368,
			NominalFrequencyMHz: 490, NominalCoreVoltageMv: 1166,
			HashratePerChipGhs: 625.2, PowerWAtNominal: 55, IdlePowerW: 5.5,
			ThermalMassJPerC: 22, ThermalResistanceCPerW: 1.64, FanCoolingWPerC: 1.83,
			VROffsetC: 10, FanMaxRPM: 14000, MinFanPct: 45,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.35, BaseShareRateS: 0.070,
		},
		{
			ModelID: "bm1368_8chip", DisplayName: "NerdOCTAXE+ (BM1368 x8, 12V)",
			ASICModel: "BM1368", ASICCount: 8, SmallCoreCount: 1276,
			InputVoltageV:       12,
			FrequencyOptionsMHz: freqBM1368, VoltageOptionsMv: voltBM1368,
			NominalFrequencyMHz: 490, NominalCoreVoltageMv: 1166,
			HashratePerChipGhs: 625.2, PowerWAtNominal: 100, IdlePowerW: 10,
			ThermalMassJPerC: 40, ThermalResistanceCPerW: 0.9, FanCoolingWPerC: 3.33,
			VROffsetC: 14, FanMaxRPM: 16000, MinFanPct: 50,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.35, BaseShareRateS: 0.140,
		},
		{
			ModelID: "bm1370_4chip", DisplayName: "NerdQAxe++ (BM1370 x4, 12V)",
			ASICModel: "BM1370", ASICCount: 4, SmallCoreCount: 2040,
			InputVoltageV:       12,
			FrequencyOptionsMHz: freqBM1370, VoltageOptionsMv: voltBM1370,
			NominalFrequencyMHz: 600, NominalCoreVoltageMv: 1175,
			HashratePerChipGhs: 1224, PowerWAtNominal: 76, IdlePowerW: 7.6,
			ThermalMassJPerC: 30.4, ThermalResistanceCPerW: 1.18, FanCoolingWPerC: 2.53,
			VROffsetC: 10, FanMaxRPM: 16000, MinFanPct: 45,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.30, BaseShareRateS: 0.120,
		},
		{
			ModelID: "bm1370_8chip", DisplayName: "NerdOCTAXE-Gamma (BM1370 x8, 12V)",
			ASICModel: "BM1370", ASICCount: 8, SmallCoreCount: 2040,
			InputVoltageV:       12,
			FrequencyOptionsMHz: freqBM1370, VoltageOptionsMv: voltBM1370,
			NominalFrequencyMHz: 600, NominalCoreVoltageMv: 1175,
			HashratePerChipGhs: 1224, PowerWAtNominal: 155, IdlePowerW: 15.5,
			ThermalMassJPerC: 62, ThermalResistanceCPerW: 0.58, FanCoolingWPerC: 5.17,
			VROffsetC: 14, FanMaxRPM: 18000, MinFanPct: 50,
			AmbientCDefault: 24, TargetTempC: 60,
			VoltageExponent: 0.30, BaseShareRateS: 0.220,
		},
	}
}

func builtinScenarios() []*ScenarioPreset {
	hot := 38.0
	return []*ScenarioPreset{
		{
			ScenarioID: "healthy",
			RejectBias: 0.003, MTTRSeconds: 15, ErrorFloorPct: 0.15,
			HashrateJitterSigma: 0.02, ThermalNoiseSigma: 0.08,
			ConnectDelayMinS: 2, ConnectDelayMaxS: 5, RestartDurationS: 5,
		},
		{
			ScenarioID:       "hot_ambient",
			AmbientOverrideC: &hot,
			RejectBias:       0.005, MTTRSeconds: 15, ErrorFloorPct: 0.3,
			HashrateJitterSigma: 0.02, ThermalNoiseSigma: 0.12,
			ConnectDelayMinS: 2, ConnectDelayMaxS: 5, RestartDurationS: 5,
		},
		{
			ScenarioID:     "flaky_pool",
			RejectBias:     0.01,
			DisconnectRate: 0.03, MTTRSeconds: 10, ErrorFloorPct: 0.4,
			HashrateJitterSigma: 0.03, ThermalNoiseSigma: 0.08,
			ConnectDelayMinS: 2, ConnectDelayMaxS: 5, RestartDurationS: 5,
		},
		{
			ScenarioID:     "degraded",
			RejectBias:     0.05,
			DisconnectRate: 0.004, MTTRSeconds: 20, ErrorFloorPct: 2.5,
			HashrateJitterSigma: 0.08, ThermalNoiseSigma: 0.2,
			ConnectDelayMinS: 2, ConnectDelayMaxS: 8, RestartDurationS: 8,
		},
	}
}

// NewCatalog builds a catalog with the built-in presets.
func NewCatalog() *Catalog {
	c := &Catalog{
		models:    make(map[string]*ModelPreset),
		scenarios: make(map[string]*ScenarioPreset),
	}
	for _, m := range builtinModels() {
		c.models[m.ModelID] = m
	}
	for _, s := range builtinScenarios() {
		c.scenarios[s.ScenarioID] = s
	}
	return c
}

// Model resolves a model preset by id.
func (c *Catalog) Model(id string) (*ModelPreset, error) {
	m, ok := c.models[id]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("unknown model preset %q", id))
	}
	return m, nil
}

// Scenario resolves a scenario preset by id.
func (c *Catalog) Scenario(id string) (*ScenarioPreset, error) {
	s, ok := c.scenarios[id]
	if !ok {
		return nil, NewNotFoundError(fmt.Sprintf("unknown scenario preset %q", id))
	}
	return s, nil
}

// Models returns all model presets sorted by id.
func (c *Catalog) Models() []*ModelPreset {
	out := make([]*ModelPreset, 0, len(c.models))
	for _, m := range c.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModelID < out[j].ModelID })
	return out
}

// Scenarios returns all scenario presets sorted by id.
func (c *Catalog) Scenarios() []*ScenarioPreset {
	out := make([]*ScenarioPreset, 0, len(c.scenarios))
	for _, s := range c.scenarios {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScenarioID < out[j].ScenarioID })
	return out
}

// catalogOverlay is the YAML schema for preset overlay files.
type catalogOverlay struct {
	Models    []*ModelPreset    `yaml:"models"`
	Scenarios []*ScenarioPreset `yaml:"scenarios"`
}

// LoadOverlayFile merges extra presets from a YAML file into the catalog,
// replacing built-ins on id collision. Intended for startup only; the catalog
// must not be mutated once the fleet is running.
func (c *Catalog) LoadOverlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read preset overlay: %w", err)
	}
	return c.mergeOverlay(raw)
}

func (c *Catalog) mergeOverlay(raw []byte) error {
	var overlay catalogOverlay
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return fmt.Errorf("parse preset overlay: %w", err)
	}
	for _, m := range overlay.Models {
		if m.ModelID == "" {
			return fmt.Errorf("preset overlay: model entry missing model_id")
		}
		if m.ASICCount < 1 {
			return fmt.Errorf("preset overlay: model %q must have asic_count >= 1", m.ModelID)
		}
		c.models[m.ModelID] = m
	}
	for _, s := range overlay.Scenarios {
		if s.ScenarioID == "" {
			return fmt.Errorf("preset overlay: scenario entry missing scenario_id")
		}
		c.scenarios[s.ScenarioID] = s
	}
	return nil
}
