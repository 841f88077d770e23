package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/utils"
)

// StatusHeader carries the kernel status of every kernel call response.
const StatusHeader = "X-Kernel-Status"

// Handlers contains all HTTP handlers
type Handlers struct {
	kernel  *kernel.Kernel
	metrics *monitoring.Metrics
	logger  *logging.Logger
}

// NewHandlers creates a new handler set. metrics may be nil.
func NewHandlers(k *kernel.Kernel, metrics *monitoring.Metrics, logger *logging.Logger) *Handlers {
	return &Handlers{
		kernel:  k,
		metrics: metrics,
		logger:  logger.Named("http"),
	}
}

// Root handles health check
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "isolation kernel",
		"session": h.kernel.Session(),
	})
}

// Health handles detailed health check
func (h *Handlers) Health(c *gin.Context) {
	snap := h.kernel.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"session":   snap.Session,
		"uptime":    snap.Taken.Sub(snap.Boot).String(),
		"processes": len(snap.Processes),
		"buffers":   len(snap.Buffers),
		"irqs":      len(snap.IRQs),
	})
}

// ListApps lists the apps of the bundle
func (h *Handlers) ListApps(c *gin.Context) {
	apps := make([]gin.H, 0, len(h.kernel.Bundle().Apps))
	for _, a := range h.kernel.Bundle().Apps {
		pid, _ := h.kernel.PIDFromApp(a.Name)
		apps = append(apps, gin.H{
			"name":       a.Name,
			"parent":     a.Parent,
			"profile":    a.Profile,
			"auto_start": a.AutoStart,
			"pid":        pid,
		})
	}
	c.JSON(http.StatusOK, gin.H{"apps": apps})
}

// httpStatus maps a kernel status onto an HTTP code. Info and warning
// statuses are successes.
func httpStatus(st status.Status) int {
	if st.IsInfoOrWarning() {
		return http.StatusOK
	}
	switch st.Reason {
	case status.ReasonNotFound:
		return http.StatusNotFound
	case status.ReasonCredentials, status.ReasonIllegalAccess:
		return http.StatusForbidden
	case status.ReasonParam:
		return http.StatusBadRequest
	case status.ReasonAlready, status.ReasonInUse, status.ReasonWouldBlock, status.ReasonStateInvalid:
		return http.StatusConflict
	case status.ReasonNoResource:
		return http.StatusServiceUnavailable
	case status.ReasonTimeout:
		return http.StatusRequestTimeout
	case status.ReasonTerminated:
		return http.StatusGone
	case status.ReasonNotSupported:
		return http.StatusNotImplemented
	case status.ReasonAborted:
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// reply writes a kernel call result. body may be nil.
func (h *Handlers) reply(c *gin.Context, st status.Status, body gin.H) {
	if st.IsFatal() {
		h.logger.Warn("kernel call aborted the caller",
			append(tracing.Fields(c.Request.Context()),
				zap.String("route", c.FullPath()),
				zap.String("pid", c.Param("pid")),
				logging.Status(st),
			)...)
	}
	if body == nil {
		body = gin.H{}
	}
	body["status"] = st.String()
	c.Set(tracing.StatusKey, st.String())
	c.Header(StatusHeader, st.String())
	c.JSON(httpStatus(st), body)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

// proc resolves the acting process from the :pid parameter.
func (h *Handlers) proc(c *gin.Context) (*kernel.Proc, bool) {
	pid, ok := h.pidParam(c, "pid")
	if !ok {
		return nil, false
	}
	if pid.IsReserved() {
		badRequest(c, "pid must name a process")
		return nil, false
	}
	return h.kernel.Proc(pid), true
}

func (h *Handlers) pidParam(c *gin.Context, name string) (id.ProcessID, bool) {
	return parsePID(c, c.Param(name))
}

func parsePID(c *gin.Context, s string) (id.ProcessID, bool) {
	pid, err := id.ParseProcessID(s)
	if err != nil {
		badRequest(c, err.Error())
		return id.Invalid, false
	}
	return pid, true
}

// regionParam parses a region id given in decimal or 0x-prefixed hex.
func regionParam(c *gin.Context, name string) (region.ID, bool) {
	v, err := strconv.ParseUint(c.Param(name), 0, 32)
	if err != nil {
		badRequest(c, "invalid region id: "+c.Param(name))
		return region.Invalid, false
	}
	return region.ID(v), true
}

func intParam(c *gin.Context, name string) (int, bool) {
	v, err := strconv.Atoi(c.Param(name))
	if err != nil {
		badRequest(c, "invalid "+name+": "+c.Param(name))
		return 0, false
	}
	return v, true
}

func bind(c *gin.Context, req any) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, utils.MaxBodySize+1))
	if err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return false
	}
	if err := bodyValidator.Validate(data); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return false
	}
	if err := binding.JSON.BindBody(data, req); err != nil {
		badRequest(c, "Invalid request: "+err.Error())
		return false
	}
	return true
}

var bodyValidator = utils.DefaultBodyValidator()
