package kernel

import (
	"fmt"
	"time"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/manifest"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// TerminationReason says why a process ended.
type TerminationReason uint8

const (
	// End is a normal exit.
	End TerminationReason = iota
	AbortExitInError
	AbortIllegalAccess
	AbortMCUFault
	AbortInvalidState
	AbortSessionEnd
)

var reasonNames = [...]string{"end", "exit_in_error", "illegal_access", "mcu_fault", "invalid_state", "session_end"}

func (r TerminationReason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("reason(%d)", uint8(r))
}

// MarshalText encodes the reason name.
func (r TerminationReason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// UnmarshalText decodes a reason name.
func (r *TerminationReason) UnmarshalText(b []byte) error {
	v, err := ParseReason(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseReason converts a reason name.
func ParseReason(s string) (TerminationReason, error) {
	for i, n := range reasonNames {
		if n == s {
			return TerminationReason(i), nil
		}
	}
	return 0, fmt.Errorf("unknown termination reason %q", s)
}

// TerminationContext records the last termination of an app.
type TerminationContext struct {
	App    string            `json:"app"`
	PID    id.ProcessID      `json:"pid"`
	Reason TerminationReason `json:"reason"`
	Info   uint32            `json:"info"`
	At     time.Time         `json:"at"`
}

type process struct {
	pid         id.ProcessID
	app         *manifest.App
	index       int
	gate        *sched.Gate
	started     time.Time
	terminating bool
}

// table is the process table. Slots are reused, identities never are.
// It answers liveness questions for the credential manager, which calls it
// with the kernel lock held.
type table struct {
	slots []*process
	byPID map[id.ProcessID]*process
	byApp map[string]*process
}

func newTable(max int) *table {
	return &table{
		slots: make([]*process, max),
		byPID: make(map[id.ProcessID]*process),
		byApp: make(map[string]*process),
	}
}

func (t *table) freeSlot() int {
	for i, p := range t.slots {
		if p == nil {
			return i
		}
	}
	return -1
}

func (t *table) add(p *process) {
	t.slots[p.index] = p
	t.byPID[p.pid] = p
	t.byApp[p.app.Name] = p
}

func (t *table) remove(p *process) {
	t.slots[p.index] = nil
	delete(t.byPID, p.pid)
	if t.byApp[p.app.Name] == p {
		delete(t.byApp, p.app.Name)
	}
}

func (t *table) live() []*process {
	var out []*process
	for _, p := range t.slots {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// AppOf returns the app of a live process.
func (t *table) AppOf(pid id.ProcessID) (string, bool) {
	p, ok := t.byPID[pid]
	if !ok || p.terminating {
		return "", false
	}
	return p.app.Name, true
}

// PIDOf returns the live process of app.
func (t *table) PIDOf(app string) (id.ProcessID, bool) {
	p, ok := t.byApp[app]
	if !ok || p.terminating {
		return id.Invalid, false
	}
	return p.pid, true
}
