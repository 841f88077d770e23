package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/tracing"
)

// Snapshot exports the kernel state as JSON, or as zstd-compressed JSON
// with ?compress=zstd.
func (h *Handlers) Snapshot(c *gin.Context) {
	compress := false
	switch c.Query("compress") {
	case "", "none":
	case "zstd":
		compress = true
	default:
		badRequest(c, "compress must be zstd or none")
		return
	}

	data, err := h.kernel.Snapshot().Encode(compress)
	if err != nil {
		h.logger.Error("snapshot encode failed", append(tracing.Fields(c.Request.Context()), zap.Error(err))...)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if compress {
		c.Header("Content-Disposition", `attachment; filename="snapshot.json.zst"`)
		c.Data(http.StatusOK, "application/zstd", data)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}
