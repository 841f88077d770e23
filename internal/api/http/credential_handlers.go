package http

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/credential"
)

type grantRequest struct {
	Holder string   `json:"holder" binding:"required"`
	Flags  []string `json:"flags"`
}

type transferRequest struct {
	To string `json:"to" binding:"required"`
}

// ResetCredentials clears the credentials of a shared buffer
func (h *Handlers) ResetCredentials(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	rid, ok := regionParam(c, "rid")
	if !ok {
		return
	}
	h.reply(c, p.ResetCredentials(rid), nil)
}

// AddCredentials grants rights on a shared buffer
func (h *Handlers) AddCredentials(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	rid, ok := regionParam(c, "rid")
	if !ok {
		return
	}
	var req grantRequest
	if !bind(c, &req) {
		return
	}
	holder, ok := parsePID(c, req.Holder)
	if !ok {
		return
	}
	flags, valid := credential.ParseFlags(req.Flags)
	if !valid {
		badRequest(c, "unknown credential flag")
		return
	}
	h.reply(c, p.AddCredentials(rid, holder, flags), gin.H{"flags": flags.Names()})
}

// Transfer hands management of a shared buffer to another process
func (h *Handlers) Transfer(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	rid, ok := regionParam(c, "rid")
	if !ok {
		return
	}
	var req transferRequest
	if !bind(c, &req) {
		return
	}
	to, ok := parsePID(c, req.To)
	if !ok {
		return
	}
	h.reply(c, p.Transfer(rid, to), nil)
}
