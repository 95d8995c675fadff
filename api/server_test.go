package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/phayes/freeport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asic-sim/asic-sim/sim"
	"github.com/asic-sim/asic-sim/sim/trace"
)

// fakeClock drives the fleet on virtual time in HTTP tests. Mutex-guarded:
// handler goroutines read it while the test goroutine advances it.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func newTestServer(t *testing.T, opts Options) (*httptest.Server, *sim.FleetRuntime, *fakeClock) {
	t.Helper()
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rt := sim.NewFleetRuntime(sim.FleetOptions{
		Clock:      clk,
		MasterSeed: 42,
		Trace:      trace.NewFleetTrace(trace.Config{Level: trace.LevelTicks}),
	})
	srv := httptest.NewServer(NewServer(rt, opts).Handler())
	t.Cleanup(srv.Close)
	return srv, rt, clk
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	payload := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &payload), "body: %s", raw)
	}
	return resp, payload
}

func tick(rt *sim.FleetRuntime, clk *fakeClock, n int) {
	for i := 0; i < n; i++ {
		clk.Advance(time.Second)
		rt.TickAll(clk.Now())
	}
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", payload["status"])
}

func TestListModelsAndScenarios(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/models", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	models := payload["models"].([]any)
	require.NotEmpty(t, models)
	ids := make([]string, 0, len(models))
	for _, m := range models {
		entry := m.(map[string]any)
		ids = append(ids, entry["model_id"].(string))
		assert.Contains(t, entry, "nominal")
		assert.Contains(t, entry, "options")
	}
	assert.Contains(t, ids, "bm1370_4chip")

	resp, payload = doJSON(t, http.MethodGet, srv.URL+"/v1/scenarios", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload["scenarios"].([]any), 4)
}

func TestCreateListDeleteMiner(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/miners",
		map[string]string{"model_id": "bm1370_4chip", "scenario_id": "healthy"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Equal(t, "m_001", payload["miner_id"])

	resp, payload = doJSON(t, http.MethodGet, srv.URL+"/v1/miners", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	miners := payload["miners"].([]any)
	require.Len(t, miners, 1)
	assert.Equal(t, "bm1370_4chip", miners[0].(map[string]any)["model_id"])

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/v1/miners/m_001", nil)
	require.NoError(t, err)
	delResp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	delResp.Body.Close()
	assert.Equal(t, http.StatusNoContent, delResp.StatusCode)

	resp, payload = doJSON(t, http.MethodGet, srv.URL+"/v1/miners/m_001/telemetry", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errBody := payload["error"].(map[string]any)
	assert.Equal(t, sim.ErrCodeNotFound, errBody["code"])
}

func TestCreateMiner_UnknownPreset(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/miners",
		map[string]string{"model_id": "antminer_s19"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	errBody := payload["error"].(map[string]any)
	assert.Equal(t, sim.ErrCodeNotFound, errBody["code"])
}

func TestCreateMiner_DefaultsApply(t *testing.T) {
	srv, rt, _ := newTestServer(t, Options{DefaultModelID: "bm1397_1chip_5v", DefaultScenarioID: "degraded"})
	resp, _ := doJSON(t, http.MethodPost, srv.URL+"/v1/miners", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	refs := rt.List()
	require.Len(t, refs, 1)
	assert.Equal(t, "bm1397_1chip_5v", refs[0].ModelID)
	assert.Equal(t, "degraded", refs[0].ScenarioID)
}

func TestTelemetryFieldNames(t *testing.T) {
	srv, rt, clk := newTestServer(t, Options{})
	doJSON(t, http.MethodPost, srv.URL+"/v1/miners", map[string]string{"model_id": "bm1370_4chip", "scenario_id": "healthy"})
	tick(rt, clk, 30)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/miners/m_001/telemetry", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Contractual field names, surfaced verbatim.
	for _, field := range []string{
		"miner_id", "hashRate", "temp", "vrTemp", "power", "fanspeed", "fanrpm",
		"coreVoltage", "frequency", "errorPercentage", "sharesAccepted",
		"sharesRejected", "poolState", "uptimeSeconds", "voltage", "targettemp",
		"autofanspeed", "timestamp",
	} {
		assert.Contains(t, payload, field)
	}
	assert.Equal(t, "mining", payload["poolState"])
	assert.Equal(t, 12.0, payload["voltage"])
}

func TestPatchConfig_ViolationsReported(t *testing.T) {
	srv, rt, clk := newTestServer(t, Options{})
	doJSON(t, http.MethodPost, srv.URL+"/v1/miners", map[string]string{"model_id": "bm1370_4chip", "scenario_id": "healthy"})

	resp, payload := doJSON(t, http.MethodPatch, srv.URL+"/v1/miners/m_001/config",
		map[string]any{"coreVoltage": 9999, "frequency": 550})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	violations := payload["violations"].([]any)
	require.Len(t, violations, 1)
	v := violations[0].(map[string]any)
	assert.Equal(t, "coreVoltage", v["field"])
	assert.Equal(t, "out_of_range", v["reason"])

	applied := payload["applied"].(map[string]any)
	assert.Equal(t, 550.0, applied["frequency"])

	// The surviving field reaches telemetry after a tick.
	tick(rt, clk, 1)
	_, tel := doJSON(t, http.MethodGet, srv.URL+"/v1/miners/m_001/telemetry", nil)
	assert.Equal(t, 550.0, tel["frequency"])
	assert.Equal(t, 1175.0, tel["coreVoltage"])
}

func TestPatchConfig_MalformedBody(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	doJSON(t, http.MethodPost, srv.URL+"/v1/miners", map[string]string{"model_id": "bm1370_4chip", "scenario_id": "healthy"})

	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/v1/miners/m_001/config", bytes.NewReader([]byte("not json")))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRestartEndpoint(t *testing.T) {
	srv, rt, clk := newTestServer(t, Options{})
	doJSON(t, http.MethodPost, srv.URL+"/v1/miners", map[string]string{"model_id": "bm1370_4chip", "scenario_id": "healthy"})
	tick(rt, clk, 20)

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/v1/miners/m_001/actions/restart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "restarting", payload["status"])

	_, tel := doJSON(t, http.MethodGet, srv.URL+"/v1/miners/m_001/telemetry", nil)
	assert.Equal(t, "restarting", tel["poolState"])
	assert.Equal(t, 0.0, tel["hashRate"])
}

func TestTraceEndpoint(t *testing.T) {
	srv, rt, clk := newTestServer(t, Options{})
	doJSON(t, http.MethodPost, srv.URL+"/v1/miners", map[string]string{"model_id": "bm1370_4chip", "scenario_id": "healthy"})
	tick(rt, clk, 5)

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/v1/miners/m_001/trace", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, payload["ticks"].([]any), 5)

	summary := payload["summary"].(map[string]any)
	assert.Equal(t, 5.0, summary["Ticks"])
	assert.Contains(t, summary, "MeanChipTempC")
	assert.Contains(t, summary, "PoolStateTicks")

	resp, _ = doJSON(t, http.MethodGet, srv.URL+"/v1/miners/m_999/trace", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestTraceEndpoint_DisabledRecording(t *testing.T) {
	clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
	rt := sim.NewFleetRuntime(sim.FleetOptions{Clock: clk, MasterSeed: 1})
	srv := httptest.NewServer(NewServer(rt, Options{}).Handler())
	defer srv.Close()

	doJSON(t, http.MethodPost, srv.URL+"/v1/miners", map[string]string{"model_id": "bm1370_4chip", "scenario_id": "healthy"})
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/v1/miners/m_001/trace", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{})
	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/v1/miners", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://dashboard.local")
	req.Header.Set("Access-Control-Request-Method", "PATCH")
	req.Header.Set("Access-Control-Request-Headers", "Content-Type")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Contains(t, resp.Header.Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Equal(t, "Content-Type", resp.Header.Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "true", resp.Header.Get("Access-Control-Allow-Private-Network"))
}

func TestServeOnRealPort(t *testing.T) {
	port, err := freeport.GetFreePort()
	require.NoError(t, err)

	rt := sim.NewFleetRuntime(sim.FleetOptions{MasterSeed: 1})
	server := &http.Server{
		Addr:    fmt.Sprintf("127.0.0.1:%d", port),
		Handler: NewServer(rt, Options{}).Handler(),
	}
	go func() { _ = server.ListenAndServe() }()
	defer server.Close()

	url := fmt.Sprintf("http://127.0.0.1:%d/healthz", port)
	var resp *http.Response
	for i := 0; i < 50; i++ {
		resp, err = http.Get(url)
		if err == nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
