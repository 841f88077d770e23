package http

import (
	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// modeRequest is the JSON form of ipc.Mode. An empty filter accepts every
// nature.
type modeRequest struct {
	SendBlocking    bool     `json:"send_blocking"`
	ReceiveBlocking bool     `json:"receive_blocking"`
	Filter          []string `json:"filter"`
	Timeout         uint32   `json:"timeout"`
}

func (m modeRequest) mode() (ipc.Mode, error) {
	f := ipc.FilterAll
	if len(m.Filter) > 0 {
		var err error
		if f, err = ipc.ParseFilter(m.Filter); err != nil {
			return ipc.Mode{}, err
		}
	}
	return ipc.Mode{
		SendBlocking:    m.SendBlocking,
		ReceiveBlocking: m.ReceiveBlocking,
		Filter:          f,
		Timeout:         m.Timeout,
	}, nil
}

type sendRequest struct {
	Label uint16      `json:"label"`
	Data  []byte      `json:"data"`
	Mode  modeRequest `json:"mode"`
}

type receiveRequest struct {
	From string      `json:"from"`
	Mode modeRequest `json:"mode"`
}

func messageBody(msg ipc.Message) gin.H {
	return gin.H{
		"nature":     msg.Nature.String(),
		"label":      msg.Label,
		"sender":     msg.Sender,
		"sent_at_us": msg.SentAt,
		"data":       msg.Data,
		"bits":       msg.Bits(),
	}
}

// SendNotification sets the caller's bit in the target's notifications
func (h *Handlers) SendNotification(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	target, ok := h.pidParam(c, "target")
	if !ok {
		return
	}
	h.reply(c, p.SendNotification(target), nil)
}

// SendData sends a data message, blocking in the request when asked to
func (h *Handlers) SendData(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	target, ok := h.pidParam(c, "target")
	if !ok {
		return
	}
	var req sendRequest
	if !bind(c, &req) {
		return
	}
	mode, err := req.Mode.mode()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	h.reply(c, p.SendData(c.Request.Context(), target, req.Label, req.Data, mode), nil)
}

// Receive takes the next message of the caller
func (h *Handlers) Receive(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	var req receiveRequest
	if !bind(c, &req) {
		return
	}
	from := id.Any
	if req.From != "" {
		if from, ok = parsePID(c, req.From); !ok {
			return
		}
	}
	mode, err := req.Mode.mode()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	msg, st := p.Receive(c.Request.Context(), from, mode)
	if !st.IsOK() {
		h.reply(c, st, nil)
		return
	}
	h.reply(c, st, gin.H{"message": messageBody(msg)})
}

// SendReceive sends data to a peer and waits for its answer
func (h *Handlers) SendReceive(c *gin.Context) {
	p, ok := h.proc(c)
	if !ok {
		return
	}
	target, ok := h.pidParam(c, "target")
	if !ok {
		return
	}
	var req sendRequest
	if !bind(c, &req) {
		return
	}
	mode, err := req.Mode.mode()
	if err != nil {
		badRequest(c, err.Error())
		return
	}
	msg, st := p.SendReceive(c.Request.Context(), target, req.Label, req.Data, mode)
	if !st.IsOK() {
		h.reply(c, st, nil)
		return
	}
	h.reply(c, st, gin.H{"message": messageBody(msg)})
}
