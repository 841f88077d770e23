package server

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/manifest"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
)

func bundle() *manifest.Bundle {
	return &manifest.Bundle{Apps: []*manifest.App{
		{
			Name:          "owner",
			AutoStart:     true,
			IPCSendTo:     []string{manifest.AnyApp},
			IRQs:          []int{3},
			SharedBuffers: []*manifest.SharedBuffer{{Label: "buf", Length: 64}},
		},
		{Name: "peer", AutoStart: true, IPCSendTo: []string{"owner"}},
		{Name: "child", Parent: "owner"},
	}}
}

type api struct {
	t   *testing.T
	srv *Server
}

func newAPI(t *testing.T) *api {
	t.Helper()
	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.RateLimit.Enabled = false
	s, err := New(cfg, bundle(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(s.Close)
	return &api{t: t, srv: s}
}

func (a *api) do(method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	a.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(a.t, err)
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	a.srv.Handler().ServeHTTP(w, req)

	var out map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func (a *api) pid(app string) string {
	a.t.Helper()
	w, body := a.do(http.MethodGet, "/apps/"+app+"/pid", nil)
	require.Equal(a.t, http.StatusOK, w.Code, w.Body.String())
	return body["pid"].(string)
}

func TestHealthAndApps(t *testing.T) {
	a := newAPI(t)

	w, body := a.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, 2.0, body["processes"])

	w, body = a.do(http.MethodGet, "/apps", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, body["apps"], 3)
}

func TestStatusMapping(t *testing.T) {
	a := newAPI(t)
	owner := a.pid("owner")

	w, body := a.do(http.MethodGet, "/apps/nobody/pid", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "ERR_NOT_FOUND", body["status"])
	assert.Equal(t, "ERR_NOT_FOUND", w.Header().Get("X-Kernel-Status"))

	w, _ = a.do(http.MethodGet, "/apps/child/pid", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = a.do(http.MethodPost, "/apps/owner/instantiate", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, _ = a.do(http.MethodGet, "/procs/not-a-pid/labels/buf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(http.MethodGet, "/procs/myself/labels/buf", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body = a.do(http.MethodGet, "/procs/"+owner+"/labels/buf", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotZero(t, body["region"])
}

func TestSharedBufferFlow(t *testing.T) {
	a := newAPI(t)
	owner, peer := a.pid("owner"), a.pid("peer")

	_, body := a.do(http.MethodGet, "/procs/"+owner+"/labels/buf", nil)
	rid := int(body["region"].(float64))
	_, body = a.do(http.MethodGet, "/procs/"+owner+"/regions/"+itoa(rid)+"/bundle-id", nil)
	bid := itoa(int(body["region"].(float64)))

	// The peer holds nothing yet.
	w, _ := a.do(http.MethodGet, "/procs/"+peer+"/regions/"+bid, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = a.do(http.MethodPost, "/procs/"+owner+"/buffers/"+bid+"/credentials",
		map[string]any{"holder": peer, "flags": []string{"read", "write"}})
	require.Equal(t, http.StatusOK, w.Code, body)
	assert.Equal(t, []any{"read", "write"}, body["flags"])

	w, _ = a.do(http.MethodPost, "/procs/"+owner+"/buffers/"+bid+"/transfer", map[string]any{"to": peer})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = a.do(http.MethodPut, "/procs/"+peer+"/windows/0", map[string]any{"region": mustAtoi(t, bid)})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = a.do(http.MethodPut, "/procs/"+peer+"/windows/0/data", map[string]any{"offset": 4, "data": []byte("hi")})
	require.Equal(t, http.StatusOK, w.Code)

	w, body = a.do(http.MethodGet, "/procs/"+peer+"/windows/0/data?offset=4&length=2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "aGk=", body["data"])

	// Reading past the region aborts the caller.
	w, body = a.do(http.MethodGet, "/procs/"+peer+"/windows/0/data?offset=60&length=8", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "FATAL_ILLEGAL_ACCESS", body["status"])

	w, _ = a.do(http.MethodGet, "/apps/peer/pid", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w, body = a.do(http.MethodGet, "/procs/"+owner+"/attributes/myself/auid", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner", body["value"])
}

func TestRendezvousOverHTTP(t *testing.T) {
	a := newAPI(t)
	owner, peer := a.pid("owner"), a.pid("peer")

	var wg sync.WaitGroup
	var recv map[string]any
	var code int
	wg.Add(1)
	go func() {
		defer wg.Done()
		w, body := a.do(http.MethodPost, "/procs/"+owner+"/receive",
			map[string]any{"mode": map[string]any{"receive_blocking": true, "timeout": 2000}})
		code, recv = w.Code, body
	}()

	require.Eventually(t, func() bool {
		snap := a.srv.Kernel().Snapshot()
		for _, p := range snap.Processes {
			if string(p.PID) == owner {
				return p.State == "blocked"
			}
		}
		return false
	}, time.Second, 2*time.Millisecond)

	w, _ := a.do(http.MethodPost, "/procs/"+peer+"/send/"+owner,
		map[string]any{"label": 9, "data": []byte("ping"), "mode": map[string]any{"send_blocking": true}})
	require.Equal(t, http.StatusOK, w.Code)

	wg.Wait()
	require.Equal(t, http.StatusOK, code)
	msg := recv["message"].(map[string]any)
	assert.Equal(t, "data", msg["nature"])
	assert.Equal(t, 9.0, msg["label"])
	assert.Equal(t, peer, msg["sender"])

	// Polling with nothing pending would block.
	w, body := a.do(http.MethodPost, "/procs/"+owner+"/receive", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "ERR_WOULD_BLOCK", body["status"])
}

func TestIRQAndHostControls(t *testing.T) {
	a := newAPI(t)
	owner, peer := a.pid("owner"), a.pid("peer")

	w, body := a.do(http.MethodPost, "/procs/"+owner+"/irqs", map[string]any{"source": 3, "ack_auto": true})
	require.Equal(t, http.StatusOK, w.Code, body)
	reg := itoa(int(body["registration"].(float64)))

	w, body = a.do(http.MethodPost, "/irq/3/trigger", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1.0, body["notified"])

	w, body = a.do(http.MethodGet, "/procs/"+owner+"/irqs/"+reg, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, body["info"].(map[string]any)["attributes"], "ack_auto")

	w, _ = a.do(http.MethodPost, "/procs/"+owner+"/irqs/"+reg+"/juggle", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(http.MethodPost, "/procs/"+peer+"/irqs", map[string]any{"source": 3})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, _ = a.do(http.MethodPost, "/procs/"+peer+"/interrupt", nil)
	require.Equal(t, http.StatusOK, w.Code)
	w, _ = a.do(http.MethodPost, "/procs/"+peer+"/end-interrupt", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w, body = a.do(http.MethodPost, "/procs/"+peer+"/abort", map[string]any{"reason": "mcu_fault"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "mcu_fault", body["reason"])

	w, _ = a.do(http.MethodPost, "/procs/"+peer+"/abort", map[string]any{"reason": "bored"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChildTerminationContextOverHTTP(t *testing.T) {
	a := newAPI(t)
	owner := a.pid("owner")

	w, body := a.do(http.MethodPost, "/procs/"+owner+"/instantiate/child", nil)
	require.Equal(t, http.StatusOK, w.Code, body)
	child := body["pid"].(string)

	w, _ = a.do(http.MethodPost, "/procs/"+child+"/exit", map[string]any{"in_error": true, "info": 42})
	require.Equal(t, http.StatusOK, w.Code)

	w, _ = a.do(http.MethodGet, "/procs/"+owner+"/attributes/"+child+"/termination_context_last", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w, body = a.do(http.MethodGet, "/procs/"+owner+"/apps/child/index", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, body["index"])

	for _, app := range []string{"child", "2"} {
		w, body = a.do(http.MethodGet, "/procs/"+owner+"/apps/"+app+"/attributes/termination_context_last", nil)
		require.Equal(t, http.StatusOK, w.Code, body)
		vals := body["value"].([]any)
		require.Len(t, vals, 3)
		assert.Equal(t, 1.0, vals[0])
		assert.Equal(t, 42.0, vals[1])
	}

	w, body = a.do(http.MethodGet, "/procs/"+owner+"/apps/myself/attributes/auid", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "owner", body["value"])

	w, _ = a.do(http.MethodGet, "/procs/"+owner+"/apps/ghost/attributes/auid", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestSnapshotStatsMetrics(t *testing.T) {
	a := newAPI(t)
	owner := a.pid("owner")
	a.do(http.MethodPost, "/procs/"+owner+"/yield", map[string]any{"ticks": 1})

	w, _ := a.do(http.MethodGet, "/snapshot", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap, err := kernel.DecodeSnapshot(w.Body.Bytes(), false)
	require.NoError(t, err)
	assert.Len(t, snap.Processes, 2)

	w, _ = a.do(http.MethodGet, "/snapshot?compress=zstd", nil)
	require.Equal(t, http.StatusOK, w.Code)
	snap, err = kernel.DecodeSnapshot(w.Body.Bytes(), true)
	require.NoError(t, err)
	assert.Len(t, snap.Buffers, 1)

	w, _ = a.do(http.MethodGet, "/snapshot?compress=gzip", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, body := a.do(http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2.0, body["summary"].(map[string]any)["processes"])
	assert.Equal(t, 2.0, body["blocked"].(map[string]any)["count"])

	w, _ = a.do(http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `isolation_kernel_calls_total{nature="INFO",op="yield",reason="OK"} 1`)
	assert.Contains(t, w.Body.String(), "isolation_processes_live 2")
}

func itoa(n int) string { return strconv.Itoa(n) }

func mustAtoi(t *testing.T, s string) int {
	t.Helper()
	n, err := strconv.Atoi(s)
	require.NoError(t, err)
	return n
}
