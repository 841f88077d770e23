// Package sched implements the scheduling gate of a process: the state
// machine that says whether the process may run.
//
//	Ready ──Block──▶ Blocked ──Wake──▶ Ready
//	Ready ──Yield──▶ Yielded ──Resume─▶ Ready
//	Ready|Blocked ──Interrupt──▶ Interrupted ──EndInterrupt──▶ (previous)
//	Interrupted(Blocked) ──Wake──▶ Interrupted(Ready)
//	any live state ──BeginHalt──▶ Halting ──Halt──▶ Halted
//
// Halted is terminal. Every transition is reported to the observers.
package sched

import (
	"fmt"
	"sync"
	"time"
)

// State of a gate.
type State uint8

const (
	Ready State = iota
	Blocked
	Yielded
	Interrupted
	Halting
	Halted
)

var stateNames = [...]string{"ready", "blocked", "yielded", "interrupted", "halting", "halted"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Cause explains why a gate blocked or woke.
type Cause uint8

const (
	CauseNone Cause = iota
	CauseIPC
	CauseTimer
	CauseAbort
)

var causeNames = [...]string{"none", "ipc", "timer", "abort"}

func (c Cause) String() string {
	if int(c) < len(causeNames) {
		return causeNames[c]
	}
	return fmt.Sprintf("cause(%d)", uint8(c))
}

// Transition is one state change.
type Transition struct {
	From  State
	To    State
	Cause Cause
	At    time.Time
	// Resume is the state EndInterrupt returns to, set when To is
	// Interrupted.
	Resume State
	// Blocked is the time spent blocked, set on transitions out of Blocked.
	Blocked time.Duration
}

// Observer receives every transition of a gate.
type Observer func(Transition)

// TransitionError reports an illegal transition.
type TransitionError struct {
	From State
	To   State
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal gate transition %s -> %s", e.From, e.To)
}

// Stats counts what a gate went through.
type Stats struct {
	Scheduled   uint64        `json:"scheduled"`
	Blocks      uint64        `json:"blocks"`
	Yields      uint64        `json:"yields"`
	Interrupts  uint64        `json:"interrupts"`
	WakesIPC    uint64        `json:"wakes_ipc"`
	WakesTimer  uint64        `json:"wakes_timer"`
	WakesAbort  uint64        `json:"wakes_abort"`
	BlockedTime time.Duration `json:"blocked_time"`
}

// Gate is the scheduling state of one process.
type Gate struct {
	mu        sync.Mutex
	state     State
	prior     State
	cause     Cause
	blockedAt time.Time
	stats     Stats
	observers []Observer
	now       func() time.Time
}

// NewGate returns a gate in the Ready state.
func NewGate() *Gate {
	return &Gate{state: Ready, now: time.Now}
}

// WithClock replaces the time source.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// Observe registers an observer. Observers run with the gate unlocked and
// must not call back into the gate.
func (g *Gate) Observe(o Observer) {
	g.mu.Lock()
	g.observers = append(g.observers, o)
	g.mu.Unlock()
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// BlockCause returns why the gate is blocked, or CauseNone.
func (g *Gate) BlockCause() Cause {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != Blocked && !(g.state == Interrupted && g.prior == Blocked) {
		return CauseNone
	}
	return g.cause
}

// Stats returns a copy of the counters.
func (g *Gate) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()
	s := g.stats
	if g.state == Blocked {
		s.BlockedTime += g.now().Sub(g.blockedAt)
	}
	return s
}

// CanRun reports whether the process may execute.
func (g *Gate) CanRun() bool { return g.State() == Ready }

// Block moves Ready to Blocked.
func (g *Gate) Block(cause Cause) error {
	return g.transition(Blocked, cause, func(from State) bool { return from == Ready })
}

// Wake moves Blocked to Ready. A gate interrupted while blocked stays
// Interrupted and returns to Ready instead of Blocked when the interrupt
// ends; observers see Interrupted -> Interrupted with Resume set to Ready.
func (g *Gate) Wake(cause Cause) error {
	g.mu.Lock()
	if g.state == Interrupted && g.prior == Blocked {
		now := g.now()
		tr := Transition{From: Interrupted, To: Interrupted, Resume: Ready, Cause: cause, At: now, Blocked: now.Sub(g.blockedAt)}
		g.prior = Ready
		g.cause = CauseNone
		g.countWake(cause, tr.Blocked)
		observers := append([]Observer(nil), g.observers...)
		g.mu.Unlock()
		for _, o := range observers {
			o(tr)
		}
		return nil
	}
	g.mu.Unlock()
	return g.transition(Ready, cause, func(from State) bool { return from == Blocked })
}

// Yield moves Ready to Yielded.
func (g *Gate) Yield() error {
	return g.transition(Yielded, CauseNone, func(from State) bool { return from == Ready })
}

// Resume moves Yielded to Ready.
func (g *Gate) Resume() error {
	return g.transition(Ready, CauseNone, func(from State) bool { return from == Yielded })
}

// Interrupt moves Ready or Blocked to Interrupted, remembering the state to
// return to.
func (g *Gate) Interrupt() error {
	return g.transition(Interrupted, CauseNone, func(from State) bool { return from == Ready || from == Blocked })
}

// EndInterrupt returns from Interrupted to the state it interrupted.
func (g *Gate) EndInterrupt() error {
	g.mu.Lock()
	if g.state != Interrupted {
		from := g.state
		g.mu.Unlock()
		return &TransitionError{From: from, To: g.prior}
	}
	to, cause := g.prior, g.cause
	g.mu.Unlock()
	return g.transition(to, cause, func(from State) bool { return from == Interrupted })
}

// BeginHalt moves any live state to Halting.
func (g *Gate) BeginHalt() error {
	return g.transition(Halting, CauseAbort, func(from State) bool { return from != Halting && from != Halted })
}

// Halt moves Halting to Halted.
func (g *Gate) Halt() error {
	return g.transition(Halted, CauseAbort, func(from State) bool { return from == Halting })
}

func (g *Gate) transition(to State, cause Cause, allowed func(State) bool) error {
	g.mu.Lock()
	from := g.state
	if !allowed(from) {
		g.mu.Unlock()
		return &TransitionError{From: from, To: to}
	}

	now := g.now()
	tr := Transition{From: from, To: to, Cause: cause, At: now}

	switch to {
	case Blocked:
		if from == Ready {
			g.stats.Blocks++
			g.blockedAt = now
		}
		g.cause = cause
	case Ready:
		g.stats.Scheduled++
		if from == Blocked {
			tr.Blocked = now.Sub(g.blockedAt)
			g.countWake(cause, tr.Blocked)
		}
		g.cause = CauseNone
	case Yielded:
		g.stats.Yields++
	case Interrupted:
		g.stats.Interrupts++
		g.prior = from
		tr.Resume = from
	case Halting:
		if from == Blocked || (from == Interrupted && g.prior == Blocked) {
			tr.Blocked = now.Sub(g.blockedAt)
			g.stats.BlockedTime += tr.Blocked
		}
	}
	g.state = to
	observers := append([]Observer(nil), g.observers...)
	g.mu.Unlock()

	for _, o := range observers {
		o(tr)
	}
	return nil
}

func (g *Gate) countWake(cause Cause, blocked time.Duration) {
	g.stats.BlockedTime += blocked
	switch cause {
	case CauseIPC:
		g.stats.WakesIPC++
	case CauseTimer:
		g.stats.WakesTimer++
	case CauseAbort:
		g.stats.WakesAbort++
	}
}
