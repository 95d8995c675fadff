package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonBody(t *testing.T, v any) io.Reader {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return bytes.NewReader(raw)
}

func TestCompatSystemInfo_AutoCreatesMiner(t *testing.T) {
	srv, rt, clk := newTestServer(t, Options{EnableCompat: true})

	resp, payload := doJSON(t, http.MethodGet, srv.URL+"/api/system/info", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, 1, rt.Len(), "compat surface auto-creates a default miner")

	assert.Equal(t, "BM1370", payload["ASICModel"])
	assert.Equal(t, "BM1370", payload["asicModel"])
	assert.Equal(t, 4.0, payload["asicCount"])
	assert.Equal(t, "m_001", payload["hostname"])
	// boardVersion must stay string-typed for device-detection code.
	assert.IsType(t, "", payload["boardVersion"])
	// The input rail is reported in millivolts on this surface.
	assert.Equal(t, 12000.0, payload["voltage"])
	assert.Equal(t, 12.0, payload["nominalVoltage"])

	mac := payload["macAddr"].(string)
	assert.Regexp(t, regexp.MustCompile(`^[0-9a-f]{2}(:[0-9a-f]{2}){5}$`), mac)

	// Stable across calls and locally administered unicast.
	tick(rt, clk, 3)
	_, payload2 := doJSON(t, http.MethodGet, srv.URL+"/api/system/info", nil)
	assert.Equal(t, mac, payload2["macAddr"])
	assert.Equal(t, byte(0x02), hexByte(t, mac[:2])&0x03)
}

func hexByte(t *testing.T, s string) byte {
	t.Helper()
	var b byte
	for _, c := range s {
		b <<= 4
		switch {
		case c >= '0' && c <= '9':
			b |= byte(c - '0')
		case c >= 'a' && c <= 'f':
			b |= byte(c-'a') + 10
		default:
			t.Fatalf("bad hex byte %q", s)
		}
	}
	return b
}

func TestCompatPatchSystem(t *testing.T) {
	srv, rt, clk := newTestServer(t, Options{EnableCompat: true})

	req, _ := http.NewRequest(http.MethodPatch, srv.URL+"/api/system", jsonBody(t, map[string]any{
		"frequency":  550,
		"stratumURL": "pool.example", // unknown keys are dropped silently
	}))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	tick(rt, clk, 1)
	_, info := doJSON(t, http.MethodGet, srv.URL+"/api/system/info", nil)
	assert.Equal(t, 550.0, info["frequency"])
}

func TestCompatRestart(t *testing.T) {
	srv, rt, clk := newTestServer(t, Options{EnableCompat: true})
	doJSON(t, http.MethodGet, srv.URL+"/api/system/info", nil)
	tick(rt, clk, 10)

	resp, payload := doJSON(t, http.MethodPost, srv.URL+"/api/system/restart", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "restarting", payload["status"])

	_, info := doJSON(t, http.MethodGet, srv.URL+"/api/system/info", nil)
	assert.Equal(t, "restarting", info["poolState"])
}

func TestCompatDisabled(t *testing.T) {
	srv, _, _ := newTestServer(t, Options{EnableCompat: false})
	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/system/info", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
