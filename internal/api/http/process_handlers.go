package http

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/tlv"
)

var attributeTags = map[string]uint8{
	"auid":                     kernel.AttrAUID,
	"scheduling_state":         kernel.AttrSchedulingState,
	"scheduling_stats":         kernel.AttrSchedulingStats,
	"app_index":                kernel.AttrAppIndex,
	"termination_context_last": kernel.AttrTerminationContextLast,
}

type yieldRequest struct {
	Ticks uint32 `json:"ticks"`
}

type exitRequest struct {
	InError bool   `json:"in_error"`
	Info    uint32 `json:"info"`
}

type abortRequest struct {
	Reason string `json:"reason"`
}

// Instantiate starts a child app on behalf of the caller
func (h *Handlers) Instantiate(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	pid, st := p.Instantiate(c.Param("app"))
	h.reply(c, st, gin.H{"pid": pid})
}

// PIDFromApp returns the live process of an app
func (h *Handlers) PIDFromApp(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	pid, st := p.PIDFromApp(c.Param("app"))
	h.reply(c, st, gin.H{"pid": pid})
}

// Attribute reads one attribute of a process as a TLV record. The tag is
// given by number or by name; the target may be "myself".
func (h *Handlers) Attribute(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	target, ok := h.pidParam(c, "target")
	if !ok {
		return
	}
	tag, ok := attributeTag(c)
	if !ok {
		return
	}
	rec, st := p.Attribute(target, tag)
	h.replyAttribute(c, rec, st)
}

// AppIndex returns the declaration index of an app
func (h *Handlers) AppIndex(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	idx, st := p.AppIndexFromName(c.Param("app"))
	h.reply(c, st, gin.H{"index": idx})
}

// AppAttribute reads one attribute of an app, live or not. The app is
// given by name, by declaration index, or as "myself".
func (h *Handlers) AppAttribute(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	tag, ok := attributeTag(c)
	if !ok {
		return
	}
	idx := kernel.AppMyself
	if name := c.Param("app"); name != "myself" {
		if v, err := strconv.Atoi(name); err == nil {
			idx = v
		} else {
			var st status.Status
			if idx, st = p.AppIndexFromName(name); !st.IsOK() {
				h.reply(c, st, nil)
				return
			}
		}
	}
	rec, st := p.AppAttribute(idx, tag)
	h.replyAttribute(c, rec, st)
}

func attributeTag(c *gin.Context) (uint8, bool) {
	if tag, known := attributeTags[c.Param("tag")]; known {
		return tag, true
	}
	v, err := strconv.ParseUint(c.Param("tag"), 0, 8)
	if err != nil {
		badRequest(c, "unknown attribute tag: "+c.Param("tag"))
		return 0, false
	}
	return uint8(v), true
}

func (h *Handlers) replyAttribute(c *gin.Context, rec tlv.Record, st status.Status) {
	wire, err := rec.Encode()
	if err != nil {
		h.logger.Error("attribute encode failed", append(tracing.Fields(c.Request.Context()), zap.Error(err))...)
	}
	body := gin.H{"tag": rec.Tag, "tlv": wire}
	if st.IsOK() && len(rec.Value) > 0 {
		body["value"] = decodeAttribute(rec)
	}
	h.reply(c, st, body)
}

func decodeAttribute(rec tlv.Record) any {
	switch rec.Tag {
	case kernel.AttrAUID:
		return string(rec.Value)
	case kernel.AttrSchedulingState, kernel.AttrAppIndex:
		v, _ := rec.AsUint32()
		return v
	default:
		vs, _ := rec.AsUint64s()
		return vs
	}
}

// Yield gives up the processor for the given number of ticks
func (h *Handlers) Yield(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	var req yieldRequest
	if !bind(c, &req) {
		return
	}
	h.reply(c, p.Yield(c.Request.Context(), req.Ticks), nil)
}

// Exit terminates the caller
func (h *Handlers) Exit(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	var req exitRequest
	if !bind(c, &req) {
		return
	}
	h.reply(c, p.Exit(req.InError, req.Info), nil)
}

// HostInstantiate starts an app on behalf of the host
func (h *Handlers) HostInstantiate(c *gin.Context) {
	pid, st := h.kernel.Instantiate(c.Param("app"))
	h.reply(c, st, gin.H{"pid": pid})
}

// HostPIDFromApp returns the live process of an app
func (h *Handlers) HostPIDFromApp(c *gin.Context) {
	pid, st := h.kernel.PIDFromApp(c.Param("app"))
	h.reply(c, st, gin.H{"pid": pid})
}

// Abort terminates a process on behalf of the host. The reason defaults
// to invalid_state.
func (h *Handlers) Abort(c *gin.Context) {
	pid, ok := h.pidParam(c, "pid")
	if !ok {
		return
	}
	var req abortRequest
	if !bind(c, &req) {
		return
	}
	reason := kernel.AbortInvalidState
	if req.Reason != "" {
		var err error
		if reason, err = kernel.ParseReason(req.Reason); err != nil {
			badRequest(c, err.Error())
			return
		}
	}
	h.reply(c, h.kernel.Abort(pid, reason), gin.H{"reason": reason})
}

// Interrupt moves a process gate to Interrupted
func (h *Handlers) Interrupt(c *gin.Context) {
	pid, ok := h.pidParam(c, "pid")
	if !ok {
		return
	}
	h.reply(c, h.kernel.Interrupt(pid), nil)
}

// EndInterrupt returns a process gate to its previous state
func (h *Handlers) EndInterrupt(c *gin.Context) {
	pid, ok := h.pidParam(c, "pid")
	if !ok {
		return
	}
	h.reply(c, h.kernel.EndInterrupt(pid), nil)
}
