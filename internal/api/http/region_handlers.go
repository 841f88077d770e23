package http

import (
	"github.com/gin-gonic/gin"
)

// ResolveLabel resolves a label of the caller's app to a region id
func (h *Handlers) ResolveLabel(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	rid, st := p.ResolveLabel(c.Param("label"))
	h.reply(c, st, gin.H{"region": rid})
}

// BundleID translates an app-relative region id into its bundle id
func (h *Handlers) BundleID(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	rid, ok := regionParam(c, "rid")
	if !ok {
		return
	}
	out, st := p.BundleID(rid)
	h.reply(c, st, gin.H{"region": out})
}

// AddressBlockInfo describes a region to the caller
func (h *Handlers) AddressBlockInfo(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	rid, ok := regionParam(c, "rid")
	if !ok {
		return
	}
	info, st := p.AddressBlockInfo(rid)
	if !st.IsOK() {
		h.reply(c, st, nil)
		return
	}
	h.reply(c, st, gin.H{"info": info})
}
