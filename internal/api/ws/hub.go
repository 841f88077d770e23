package ws

import (
	"context"
	"sync"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/kernel"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/monitoring"
)

const (
	// queueSize bounds events waiting for fan-out.
	queueSize = 1024
	// sendSize bounds frames waiting for one client.
	sendSize = 256
)

// Frame is one server to client message.
type Frame struct {
	Type    string        `json:"type"`
	Event   *kernel.Event `json:"event,omitempty"`
	Message string        `json:"message,omitempty"`
	Session string        `json:"session,omitempty"`
	Dropped uint64        `json:"dropped,omitempty"`
}

// Hub fans kernel events out to WebSocket clients. Publish never blocks:
// when the queue or a client buffer is full the frame is dropped and
// counted.
type Hub struct {
	events  chan kernel.Event
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	clients map[*client]struct{}
	dropped uint64
}

// NewHub creates a hub. metrics may be nil.
func NewHub(logger *logging.Logger, metrics *monitoring.Metrics) *Hub {
	return &Hub{
		events:  make(chan kernel.Event, queueSize),
		logger:  logger.Named("ws"),
		metrics: metrics,
		clients: make(map[*client]struct{}),
	}
}

// Publish queues e for every client. It is a kernel.EventSink.
func (h *Hub) Publish(e kernel.Event) {
	select {
	case h.events <- e:
	default:
		h.mu.Lock()
		h.dropped++
		h.mu.Unlock()
	}
}

// Dropped returns the number of frames dropped so far.
func (h *Hub) Dropped() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dropped
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run fans queued events out until ctx ends, then disconnects every
// client.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return nil
		case e := <-h.events:
			h.broadcast(e)
		}
	}
}

func (h *Hub) broadcast(e kernel.Event) {
	frame, err := sonic.Marshal(Frame{Type: "event", Event: &e})
	if err != nil {
		h.logger.Error("encode event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if !c.wants(e) {
			continue
		}
		select {
		case c.send <- frame:
			if h.metrics != nil {
				h.metrics.RecordWSMessage("out", string(e.Kind))
			}
		default:
			h.dropped++
		}
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.IncWSConnections()
	}
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
		close(c.send)
	}
	h.mu.Unlock()
	if ok && h.metrics != nil {
		h.metrics.DecWSConnections()
	}
}

// direct queues a frame for c alone. It reports false when c is gone or
// its buffer is full.
func (h *Hub) direct(c *client, f Frame) bool {
	frame, err := sonic.Marshal(f)
	if err != nil {
		h.logger.Error("encode frame", zap.Error(err))
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	select {
	case c.send <- frame:
		if h.metrics != nil {
			h.metrics.RecordWSMessage("out", f.Type)
		}
		return true
	default:
		h.dropped++
		return false
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	cs := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		cs = append(cs, c)
	}
	h.mu.Unlock()
	for _, c := range cs {
		h.unregister(c)
	}
}

// client is one connection. kinds is nil until the client subscribes;
// nil means every kind.
type client struct {
	send chan []byte

	mu    sync.Mutex
	kinds map[kernel.EventKind]bool
	pid   string
}

func newClient() *client {
	return &client{send: make(chan []byte, sendSize)}
}

func (c *client) subscribe(kinds []kernel.EventKind, pid string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.kinds = nil
	if len(kinds) > 0 {
		c.kinds = make(map[kernel.EventKind]bool, len(kinds))
		for _, k := range kinds {
			c.kinds[k] = true
		}
	}
	c.pid = pid
}

func (c *client) wants(e kernel.Event) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.kinds != nil && !c.kinds[e.Kind] {
		return false
	}
	return c.pid == "" || string(e.PID) == c.pid || string(e.Sender) == c.pid
}
