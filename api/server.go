// Package api exposes the fleet over HTTP: a reference API under /v1 for
// fleet management and a device-compat API under /api/system that mimics a
// single physical miner's firmware surface. Both dialects call only the
// fleet's public operations; no simulation state lives here.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/asic-sim/asic-sim/sim"
)

// Server wires HTTP routes to a FleetRuntime.
type Server struct {
	fleet             *sim.FleetRuntime
	defaultModelID    string
	defaultScenarioID string
	enableCompat      bool
}

// Options configures a Server.
type Options struct {
	DefaultModelID    string
	DefaultScenarioID string
	// EnableCompat mounts the single-miner /api/system endpoints.
	EnableCompat bool
}

// NewServer creates a Server for the given fleet.
func NewServer(fleet *sim.FleetRuntime, opts Options) *Server {
	if opts.DefaultModelID == "" {
		opts.DefaultModelID = "bm1370_4chip"
	}
	if opts.DefaultScenarioID == "" {
		opts.DefaultScenarioID = "healthy"
	}
	return &Server{
		fleet:             fleet,
		defaultModelID:    opts.DefaultModelID,
		defaultScenarioID: opts.DefaultScenarioID,
		enableCompat:      opts.EnableCompat,
	}
}

// Handler builds the routed handler with CORS applied to every response.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/models", s.handleListModels).Methods(http.MethodGet)
	v1.HandleFunc("/scenarios", s.handleListScenarios).Methods(http.MethodGet)
	v1.HandleFunc("/miners", s.handleListMiners).Methods(http.MethodGet)
	v1.HandleFunc("/miners", s.handleCreateMiner).Methods(http.MethodPost)
	v1.HandleFunc("/miners/{id}", s.handleDeleteMiner).Methods(http.MethodDelete)
	v1.HandleFunc("/miners/{id}/telemetry", s.handleTelemetry).Methods(http.MethodGet)
	v1.HandleFunc("/miners/{id}/config", s.handlePatchConfig).Methods(http.MethodPatch)
	v1.HandleFunc("/miners/{id}/actions/restart", s.handleRestart).Methods(http.MethodPost)
	v1.HandleFunc("/miners/{id}/trace", s.handleTrace).Methods(http.MethodGet)

	if s.enableCompat {
		r.HandleFunc("/api/system/info", s.handleCompatSystemInfo).Methods(http.MethodGet)
		r.HandleFunc("/api/system", s.handleCompatPatchSystem).Methods(http.MethodPatch)
		r.HandleFunc("/api/system/restart", s.handleCompatRestart).Methods(http.MethodPost)
	}

	// Unmatched paths answer with the same JSON error envelope as the handlers.
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		writeError(w, http.StatusNotFound, sim.ErrCodeNotFound, "no route for "+req.URL.Path, "")
	})

	return corsMiddleware(r)
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "ok",
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

// modelView is the public projection of a ModelPreset.
type modelView struct {
	ModelID        string         `json:"model_id"`
	DisplayName    string         `json:"display_name"`
	ASICModel      string         `json:"asic_model"`
	ASICCount      int            `json:"asic_count"`
	SmallCoreCount int            `json:"small_core_count"`
	InputVoltageV  float64        `json:"input_voltage_v"`
	Options        modelOptions   `json:"options"`
	Nominal        modelNominal   `json:"nominal"`
}

type modelOptions struct {
	FrequencyMHz []int `json:"frequency_mhz"`
	VoltageMv    []int `json:"voltage_mv"`
}

type modelNominal struct {
	VoltageMv    int     `json:"voltage_mv"`
	FrequencyMHz int     `json:"frequency_mhz"`
	HashrateGhs  float64 `json:"hashrate_ghs"`
	PowerW       float64 `json:"power_w"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	models := s.fleet.Catalog().Models()
	views := make([]modelView, 0, len(models))
	for _, m := range models {
		views = append(views, modelView{
			ModelID:        m.ModelID,
			DisplayName:    m.DisplayName,
			ASICModel:      m.ASICModel,
			ASICCount:      m.ASICCount,
			SmallCoreCount: m.SmallCoreCount,
			InputVoltageV:  m.InputVoltageV,
			Options: modelOptions{
				FrequencyMHz: m.FrequencyOptionsMHz,
				VoltageMv:    m.VoltageOptionsMv,
			},
			Nominal: modelNominal{
				VoltageMv:    m.NominalCoreVoltageMv,
				FrequencyMHz: m.NominalFrequencyMHz,
				HashrateGhs:  m.NominalHashrateGhs(),
				PowerW:       m.PowerWAtNominal,
			},
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"models": views})
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	scenarios := s.fleet.Catalog().Scenarios()
	items := make([]map[string]string, 0, len(scenarios))
	for _, sc := range scenarios {
		items = append(items, map[string]string{"scenario_id": sc.ScenarioID})
	}
	writeJSON(w, http.StatusOK, map[string]any{"scenarios": items})
}

func (s *Server) handleListMiners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"miners": s.fleet.List()})
}

func (s *Server) handleCreateMiner(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ModelID    string `json:"model_id"`
		ScenarioID string `json:"scenario_id"`
	}
	// An empty or malformed body falls back to the defaults, matching the
	// permissive behavior real provisioning scripts rely on.
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.ModelID == "" {
		body.ModelID = s.defaultModelID
	}
	if body.ScenarioID == "" {
		body.ScenarioID = s.defaultScenarioID
	}

	id, err := s.fleet.Create(body.ModelID, body.ScenarioID)
	if err != nil {
		writeSimError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"miner_id": id})
}

func (s *Server) handleDeleteMiner(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.fleet.Delete(id); err != nil {
		writeSimError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	snap, err := s.fleet.Snapshot(id)
	if err != nil {
		writeSimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePatchConfig(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, sim.ErrCodeInvalidConfig, "request body is not a JSON object", "")
		return
	}
	applied, violations, err := s.fleet.PatchConfig(id, raw)
	if err != nil {
		writeSimError(w, err)
		return
	}
	if violations == nil {
		violations = []sim.Violation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applied":    applied,
		"violations": violations,
	})
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.fleet.Restart(id); err != nil {
		writeSimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":       "restarting",
		"timestamp_ms": time.Now().UnixMilli(),
	})
}

func (s *Server) handleTrace(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !s.fleet.TraceEnabled() {
		writeError(w, http.StatusNotFound, sim.ErrCodeNotFound, "trace recording is disabled", "")
		return
	}
	if _, err := s.fleet.Snapshot(id); err != nil {
		writeSimError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ticks":   s.fleet.TraceForMiner(id),
		"summary": s.fleet.TraceSummary().Miners[id],
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logrus.Warnf("encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message, details string) {
	body := map[string]any{"code": code, "message": message}
	if details != "" {
		body["details"] = details
	}
	writeJSON(w, status, map[string]any{"error": body})
}

func writeSimError(w http.ResponseWriter, err error) {
	if se, ok := sim.AsSimError(err); ok {
		writeError(w, se.HTTPStatus(), se.Code, se.Message, se.Details)
		return
	}
	writeError(w, http.StatusInternalServerError, "INTERNAL", err.Error(), "")
}
