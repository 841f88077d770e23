// Package irq routes hardware interrupt sources to the processes that
// registered for them. A triggered source sets the registration id in the
// registrant's IRQ bitmap; sources whose registrations need an explicit
// acknowledge stay masked at the platform until every pending ack clears.
//
// The Bridge is not safe for concurrent use: the kernel serializes every
// call under its own lock.
package irq

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// Poster delivers interrupt bits to mailboxes.
type Poster interface {
	Post(to id.ProcessID, n ipc.Nature, bit int, sender id.ProcessID) status.Status
}

// Flags of a registration request.
type Flags uint8

// AckAuto registrations never wait for an acknowledge.
const AckAuto Flags = 1

// Attributes reported by Info.
type Attributes uint8

const (
	AttrAckAuto Attributes = 1 << iota
	AttrEnabled
	AttrAckPending
	AttrPlatformRegistered
	AttrPlatformEnabled
)

var attrNames = []string{"ack_auto", "enabled", "ack_pending", "platform_registered", "platform_enabled"}

func (a Attributes) String() string {
	var parts []string
	for i, n := range attrNames {
		if a&(1<<i) != 0 {
			parts = append(parts, n)
		}
	}
	return strings.Join(parts, "|")
}

// Names lists the set attributes.
func (a Attributes) Names() []string {
	if a == 0 {
		return nil
	}
	return strings.Split(a.String(), "|")
}

// Action on a registration.
type Action uint8

const (
	ActionAcknowledge Action = iota + 1
	ActionEnable
	ActionDisable
)

// ParseAction converts an action name.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(s) {
	case "acknowledge", "ack":
		return ActionAcknowledge, nil
	case "enable":
		return ActionEnable, nil
	case "disable":
		return ActionDisable, nil
	}
	return 0, fmt.Errorf("unknown irq action %q", s)
}

type registration struct {
	id         int
	pid        id.ProcessID
	source     int
	ackAuto    bool
	enabled    bool
	ackPending bool
}

// Info describes one registration.
type Info struct {
	ID         int          `json:"id"`
	PID        id.ProcessID `json:"pid"`
	Source     int          `json:"source"`
	Attributes Attributes   `json:"-"`
	Attrs      []string     `json:"attributes"`
}

// Bridge holds the registration table.
type Bridge struct {
	sourceMax int
	regs      []*registration
	// platform holds the enabled state of every source with registrations.
	platform map[int]bool
	poster   Poster
	logger   *logging.Logger
}

// NewBridge creates a bridge accepting sources up to sourceMax with room
// for capacity registrations. Registration ids are IRQ bitmap bits, so
// capacity is capped at the bitmap width.
func NewBridge(sourceMax, capacity int, poster Poster) *Bridge {
	capacity = min(capacity, ipc.BitmapBits)
	return &Bridge{
		sourceMax: sourceMax,
		regs:      make([]*registration, capacity),
		platform:  make(map[int]bool),
		poster:    poster,
		logger:    logging.NewNop(),
	}
}

// WithLogger sets the logger.
func (b *Bridge) WithLogger(logger *logging.Logger) *Bridge {
	b.logger = logger.Named("irq")
	return b
}

// Register subscribes pid to source. authorized tells whether the app of
// pid declares the source.
func (b *Bridge) Register(pid id.ProcessID, source int, authorized bool, flags Flags) (int, status.Status) {
	if source < 0 || source > b.sourceMax {
		return 0, status.ErrParam
	}
	if !authorized {
		return 0, status.ErrCredentials
	}
	free := -1
	for i, r := range b.regs {
		switch {
		case r == nil:
			if free < 0 {
				free = i
			}
		case r.pid == pid && r.source == source:
			return 0, status.ErrAlready
		}
	}
	if free < 0 {
		return 0, status.ErrNoResource
	}
	b.regs[free] = &registration{
		id:      free,
		pid:     pid,
		source:  source,
		ackAuto: flags&AckAuto != 0,
		enabled: true,
	}
	if _, ok := b.platform[source]; !ok {
		b.platform[source] = true
	}
	b.logger.Debug("irq registered", logging.PID(pid), zap.Int("source", source), zap.Int("reg", free))
	return free, status.OK
}

func (b *Bridge) owned(pid id.ProcessID, reg int) (*registration, status.Status) {
	if reg < 0 || reg >= len(b.regs) || b.regs[reg] == nil {
		return nil, status.ErrNotFound
	}
	r := b.regs[reg]
	if r.pid != pid {
		return nil, status.ErrCredentials
	}
	return r, status.OK
}

// Unregister drops a registration of pid.
func (b *Bridge) Unregister(pid id.ProcessID, reg int) status.Status {
	r, st := b.owned(pid, reg)
	if !st.IsOK() {
		return st
	}
	b.regs[reg] = nil
	b.settle(r.source)
	return status.OK
}

// Info describes a registration of pid.
func (b *Bridge) Info(pid id.ProcessID, reg int) (Info, status.Status) {
	r, st := b.owned(pid, reg)
	if !st.IsOK() {
		return Info{}, st
	}
	return b.info(r), status.OK
}

func (b *Bridge) info(r *registration) Info {
	var a Attributes
	if r.ackAuto {
		a |= AttrAckAuto
	}
	if r.enabled {
		a |= AttrEnabled
	}
	if r.ackPending {
		a |= AttrAckPending
	}
	if enabled, ok := b.platform[r.source]; ok {
		a |= AttrPlatformRegistered
		if enabled {
			a |= AttrPlatformEnabled
		}
	}
	return Info{ID: r.id, PID: r.pid, Source: r.source, Attributes: a, Attrs: a.Names()}
}

// Action acknowledges, enables or disables a registration of pid.
func (b *Bridge) Action(pid id.ProcessID, reg int, action Action) status.Status {
	r, st := b.owned(pid, reg)
	if !st.IsOK() {
		return st
	}
	switch action {
	case ActionAcknowledge:
		if !r.ackPending {
			return status.WarnAlready
		}
		r.ackPending = false
		b.settle(r.source)
	case ActionEnable:
		if r.enabled {
			return status.WarnAlready
		}
		r.enabled = true
	case ActionDisable:
		if !r.enabled {
			return status.WarnAlready
		}
		r.enabled = false
	default:
		return status.ErrParam
	}
	return status.OK
}

// settle recomputes the platform state of source after a registration
// changed.
func (b *Bridge) settle(source int) {
	registered, pending := false, false
	for _, r := range b.regs {
		if r == nil || r.source != source {
			continue
		}
		registered = true
		pending = pending || r.ackPending
	}
	if !registered {
		delete(b.platform, source)
		return
	}
	b.platform[source] = !pending
}

// Trigger raises source and returns the number of processes notified.
func (b *Bridge) Trigger(source int) (int, status.Status) {
	if source < 0 || source > b.sourceMax {
		return 0, status.ErrParam
	}
	if !b.platform[source] {
		return 0, status.OK
	}
	n, masked := 0, false
	for _, r := range b.regs {
		if r == nil || r.source != source || !r.enabled {
			continue
		}
		if st := b.poster.Post(r.pid, ipc.NatureIRQ, r.id, id.Kernel); !st.IsOK() {
			b.logger.Warn("irq delivery failed", logging.PID(r.pid), logging.Status(st))
			continue
		}
		n++
		if !r.ackAuto {
			r.ackPending = true
			masked = true
		}
	}
	if masked {
		b.platform[source] = false
	}
	return n, status.OK
}

// ProcessTerminated drops every registration of pid.
func (b *Bridge) ProcessTerminated(pid id.ProcessID) {
	sources := map[int]struct{}{}
	for i, r := range b.regs {
		if r != nil && r.pid == pid {
			sources[r.source] = struct{}{}
			b.regs[i] = nil
		}
	}
	for s := range sources {
		b.settle(s)
	}
}

// All describes every registration in id order.
func (b *Bridge) All() []Info {
	var out []Info
	for _, r := range b.regs {
		if r != nil {
			out = append(out, b.info(r))
		}
	}
	return out
}
