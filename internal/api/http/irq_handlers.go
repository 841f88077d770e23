package http

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/irq"
)

type registerIRQRequest struct {
	Source  int  `json:"source"`
	AckAuto bool `json:"ack_auto"`
}

// RegisterIRQ subscribes the caller to an interrupt source
func (h *Handlers) RegisterIRQ(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	var req registerIRQRequest
	if !bind(c, &req) {
		return
	}
	var flags irq.Flags
	if req.AckAuto {
		flags |= irq.AckAuto
	}
	reg, st := p.RegisterIRQ(req.Source, flags)
	h.reply(c, st, gin.H{"registration": reg})
}

// UnregisterIRQ drops a registration
func (h *Handlers) UnregisterIRQ(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	reg, ok := intParam(c, "reg")
	if !ok {
		return
	}
	h.reply(c, p.UnregisterIRQ(reg), nil)
}

// IRQInfo describes a registration
func (h *Handlers) IRQInfo(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	reg, ok := intParam(c, "reg")
	if !ok {
		return
	}
	info, st := p.IRQInfo(reg)
	if !st.IsOK() {
		h.reply(c, st, nil)
		return
	}
	h.reply(c, st, gin.H{"info": info})
}

// IRQAction acknowledges, enables or disables a registration
func (h *Handlers) IRQAction(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	reg, ok := intParam(c, "reg")
	if !ok {
		return
	}
	action, err := irq.ParseAction(c.Param("action"))
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	h.reply(c, p.IRQAction(reg, action), nil)
}

// TriggerIRQ raises an interrupt source on behalf of the host
func (h *Handlers) TriggerIRQ(c *gin.Context) {
	source, ok := intParam(c, "source")
	if !ok {
		return
	}
	n, st := h.kernel.TriggerIRQ(source)
	h.reply(c, st, gin.H{"notified": n})
}
