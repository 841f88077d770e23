package monitoring

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
)

func newMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewMetrics(reg), reg
}

func TestNewMetricsIsolatedRegistries(t *testing.T) {
	// Two collectors on separate registries must not collide.
	assert.NotPanics(t, func() {
		newMetrics(t)
		newMetrics(t)
	})
}

func TestKernelCalls(t *testing.T) {
	m, _ := newMetrics(t)

	m.Call("map", status.OK, time.Millisecond)
	m.Call("map", status.ErrCredentials, time.Millisecond)
	m.Call("map", status.ErrCredentials, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.KernelCalls.WithLabelValues("map", "INFO", "OK")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.KernelCalls.WithLabelValues("map", status.ErrCredentials.Nature.String(), status.ErrCredentials.Reason.String())))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.KernelCalls)
	assert.Equal(t, int64(2), snap.KernelErrors)
}

func TestProcessLifecycle(t *testing.T) {
	m, _ := newMetrics(t)

	m.ProcessStarted("owner")
	m.ProcessStarted("peer")
	m.ProcessTerminated("peer", kernel.AbortIllegalAccess)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessesLive))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Terminations.WithLabelValues("peer", "illegal_access")))
	assert.Equal(t, int64(1), m.Snapshot().LiveProcesses)
	assert.Equal(t, int64(1), m.Snapshot().Terminations)
}

func TestBlockedGaugeFollowsTransitions(t *testing.T) {
	m, _ := newMetrics(t)

	m.Transition(sched.Transition{From: sched.Ready, To: sched.Blocked, Cause: sched.CauseIPC})
	m.Transition(sched.Transition{From: sched.Ready, To: sched.Blocked, Cause: sched.CauseTimer})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProcessesBlocked))

	// Interrupt and back leaves the count unchanged.
	m.Transition(sched.Transition{From: sched.Blocked, To: sched.Interrupted})
	m.Transition(sched.Transition{From: sched.Interrupted, To: sched.Blocked})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProcessesBlocked))

	// woken while interrupted: already out of the gauge
	m.Transition(sched.Transition{From: sched.Ready, To: sched.Blocked, Cause: sched.CauseIPC})
	m.Transition(sched.Transition{From: sched.Blocked, To: sched.Interrupted, Resume: sched.Blocked})
	m.Transition(sched.Transition{From: sched.Interrupted, To: sched.Interrupted, Resume: sched.Ready, Cause: sched.CauseIPC})
	m.Transition(sched.Transition{From: sched.Interrupted, To: sched.Ready})
	assert.Equal(t, 2.0, testutil.ToFloat64(m.ProcessesBlocked))

	m.Transition(sched.Transition{From: sched.Blocked, To: sched.Ready, Cause: sched.CauseIPC})
	m.Transition(sched.Transition{From: sched.Blocked, To: sched.Halting})
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ProcessesBlocked))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.GateTransitions.WithLabelValues("ready", "ipc")))
}

func TestDeliveriesAndTimeouts(t *testing.T) {
	m, _ := newMetrics(t)

	m.Delivered(ipc.NatureData)
	m.Delivered(ipc.NatureIRQ)
	m.Delivered(ipc.NatureData)
	m.TimedOut()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.IPCDelivered.WithLabelValues("data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.IPCTimeouts))
	assert.Equal(t, int64(3), m.Snapshot().Deliveries)
	assert.Equal(t, int64(1), m.Snapshot().Timeouts)
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m, reg := newMetrics(t)

	r := gin.New()
	r.Use(Middleware(m))
	r.GET("/procs/:pid", func(c *gin.Context) { c.String(http.StatusOK, "ok") })

	for _, path := range []string{"/procs/1", "/procs/2", "/nowhere"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/procs/:pid", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "unmatched", "404")))

	snap := m.Snapshot()
	assert.Equal(t, int64(3), snap.TotalRequests)
	assert.Equal(t, int64(1), snap.TotalErrors)

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "isolation_http_requests_total"))
}

func TestWSConnections(t *testing.T) {
	m, _ := newMetrics(t)

	m.IncWSConnections()
	m.IncWSConnections()
	m.DecWSConnections()
	m.RecordWSMessage("out", "event")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections))
	assert.Equal(t, int64(1), m.Snapshot().WSConnections)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSMessages.WithLabelValues("out", "event")))
}

func TestSummarize(t *testing.T) {
	assert.Equal(t, BlockSummary{}, Summarize(nil))

	one := Summarize([]time.Duration{5 * time.Millisecond})
	assert.Equal(t, 1, one.Count)
	assert.Equal(t, 5*time.Millisecond, one.Mean)
	assert.Equal(t, time.Duration(0), one.StdDev)

	var ds []time.Duration
	for i := 100; i >= 1; i-- {
		ds = append(ds, time.Duration(i)*time.Millisecond)
	}
	s := Summarize(ds)
	assert.Equal(t, 100, s.Count)
	assert.Equal(t, 100*time.Millisecond, s.Max)
	assert.InDelta(t, float64(50500*time.Microsecond), float64(s.Mean), float64(time.Microsecond))
	assert.Equal(t, 50*time.Millisecond, s.P50)
	assert.Equal(t, 95*time.Millisecond, s.P95)
	assert.Greater(t, s.StdDev, time.Duration(0))
}
