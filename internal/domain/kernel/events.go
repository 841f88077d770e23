package kernel

import (
	"time"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// EventKind classifies kernel events.
type EventKind string

const (
	EventStart       EventKind = "start"
	EventTermination EventKind = "termination"
	EventGate        EventKind = "gate"
	EventDelivery    EventKind = "delivery"
	EventTimeout     EventKind = "timeout"
	EventIRQ         EventKind = "irq"
)

// Event is one entry of the kernel event stream.
type Event struct {
	Kind   EventKind    `json:"kind"`
	At     time.Time    `json:"at"`
	PID    id.ProcessID `json:"pid,omitempty"`
	App    string       `json:"app,omitempty"`
	From   string       `json:"from,omitempty"`
	To     string       `json:"to,omitempty"`
	Cause  string       `json:"cause,omitempty"`
	Resume string       `json:"resume,omitempty"`
	Nature string       `json:"nature,omitempty"`
	Sender id.ProcessID `json:"sender,omitempty"`
	Reason string       `json:"reason,omitempty"`
	Source int          `json:"source,omitempty"`
	Count  int          `json:"count,omitempty"`
}

// EventSink receives kernel events. It is called with kernel locks held
// and must not block or call back into the kernel.
type EventSink func(Event)

// Recorder receives kernel measurements.
type Recorder interface {
	Call(op string, st status.Status, d time.Duration)
	ProcessStarted(app string)
	ProcessTerminated(app string, reason TerminationReason)
	Transition(t sched.Transition)
	Delivered(n ipc.Nature)
	TimedOut()
}

type nopRecorder struct{}

func (nopRecorder) Call(string, status.Status, time.Duration)   {}
func (nopRecorder) ProcessStarted(string)                       {}
func (nopRecorder) ProcessTerminated(string, TerminationReason) {}
func (nopRecorder) Transition(sched.Transition)                 {}
func (nopRecorder) Delivered(ipc.Nature)                        {}
func (nopRecorder) TimedOut()                                   {}

// channelObserver feeds channel activity to the recorder and event sink.
type channelObserver struct{ k *Kernel }

func (o channelObserver) Delivered(msg ipc.Message, to id.ProcessID) {
	o.k.rec.Delivered(msg.Nature)
	o.k.emit(Event{Kind: EventDelivery, PID: to, Nature: msg.Nature.String(), Sender: msg.Sender})
}

func (o channelObserver) TimedOut(pid id.ProcessID) {
	o.k.rec.TimedOut()
	o.k.emit(Event{Kind: EventTimeout, PID: pid})
}

func (k *Kernel) emit(e Event) {
	if k.sink == nil {
		return
	}
	if e.At.IsZero() {
		e.At = time.Now()
	}
	k.sink(e)
}

func (k *Kernel) gateObserver(pid id.ProcessID, app string) sched.Observer {
	return func(t sched.Transition) {
		k.rec.Transition(t)
		e := Event{
			Kind:  EventGate,
			At:    t.At,
			PID:   pid,
			App:   app,
			From:  t.From.String(),
			To:    t.To.String(),
			Cause: t.Cause.String(),
		}
		if t.To == sched.Interrupted {
			e.Resume = t.Resume.String()
		}
		k.emit(e)
	}
}
