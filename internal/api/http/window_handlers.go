package http

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
)

type mapRequest struct {
	Region region.ID `json:"region" binding:"required"`
}

type writeRequest struct {
	Offset uint32 `json:"offset"`
	Data   []byte `json:"data" binding:"required"`
}

// Map maps a region into one of the caller's windows
func (h *Handlers) Map(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	var req mapRequest
	if !bind(c, &req) {
		return
	}
	h.reply(c, p.Map(slot, req.Region), gin.H{"slot": slot})
}

// Unmap releases one of the caller's windows
func (h *Handlers) Unmap(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	h.reply(c, p.Unmap(slot), gin.H{"slot": slot})
}

// GetMapped reports the region mapped in a window
func (h *Handlers) GetMapped(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	rid, st := p.GetMapped(slot)
	h.reply(c, st, gin.H{"slot": slot, "region": rid})
}

// Read reads bytes through a window. Query: offset, length.
func (h *Handlers) Read(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	off, err := strconv.ParseUint(c.DefaultQuery("offset", "0"), 0, 32)
	if err != nil {
		badRequest(c, "invalid offset")
		return
	}
	n, err := strconv.ParseUint(c.Query("length"), 0, 32)
	if err != nil {
		badRequest(c, "invalid length")
		return
	}
	data, st := p.Read(slot, uint32(off), uint32(n))
	h.reply(c, st, gin.H{"data": data})
}

// Write writes bytes through a window
func (h *Handlers) Write(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	slot, ok := intParam(c, "slot")
	if !ok {
		return
	}
	var req writeRequest
	if !bind(c, &req) {
		return
	}
	h.reply(c, p.Write(slot, req.Offset, req.Data), gin.H{"written": len(req.Data)})
}
