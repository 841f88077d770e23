package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/credential"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/monitoring"
)

// MetricsAggregator combines the collector snapshot with statistics
// computed from the live kernel.
type MetricsAggregator struct {
	metrics *monitoring.Metrics
	kernel  *kernel.Kernel
}

// NewMetricsAggregator creates a metrics aggregator. metrics may be nil.
func NewMetricsAggregator(metrics *monitoring.Metrics, k *kernel.Kernel) *MetricsAggregator {
	return &MetricsAggregator{metrics: metrics, kernel: k}
}

// StatsSnapshot represents a snapshot of all system metrics
type StatsSnapshot struct {
	Timestamp time.Time                   `json:"timestamp"`
	Counters  *monitoring.MetricsSnapshot `json:"counters,omitempty"`
	Blocked   monitoring.BlockSummary     `json:"blocked"`
	Summary   StatsSummary                `json:"summary"`
}

// StatsSummary provides high-level metrics
type StatsSummary struct {
	Processes      int     `json:"processes"`
	BlockedNow     int     `json:"blocked_now"`
	SharedBuffers  int     `json:"shared_buffers"`
	Transferred    int     `json:"transferred"`
	IRQs           int     `json:"irq_registrations"`
	Terminations   int     `json:"terminations"`
	KernelErrorPct float64 `json:"kernel_error_pct"`
}

// Collect builds a StatsSnapshot.
func (ma *MetricsAggregator) Collect() StatsSnapshot {
	snap := ma.kernel.Snapshot()
	out := StatsSnapshot{
		Timestamp: snap.Taken,
		Blocked:   monitoring.Summarize(ma.kernel.BlockedDurations()),
		Summary: StatsSummary{
			Processes:     len(snap.Processes),
			SharedBuffers: len(snap.Buffers),
			IRQs:          len(snap.IRQs),
			Terminations:  len(snap.Terminations),
		},
	}
	for _, p := range snap.Processes {
		if p.State == sched.Blocked.String() {
			out.Summary.BlockedNow++
		}
	}
	for _, b := range snap.Buffers {
		if b.State == credential.Transferred.String() {
			out.Summary.Transferred++
		}
	}
	if ma.metrics != nil {
		counters := ma.metrics.Snapshot()
		out.Counters = &counters
		if counters.KernelCalls > 0 {
			out.Summary.KernelErrorPct = float64(counters.KernelErrors) / float64(counters.KernelCalls) * 100
		}
	}
	return out
}

// GetStats returns aggregated kernel statistics
func (ma *MetricsAggregator) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, ma.Collect())
}
