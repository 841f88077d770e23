package kernel

import (
	"fmt"
	"sort"
	"time"

	"github.com/bytedance/sonic"
	"github.com/klauspost/compress/zstd"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/credential"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/irq"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// ProcessInfo is the state of one live process.
type ProcessInfo struct {
	PID        id.ProcessID    `json:"pid"`
	App        string          `json:"app"`
	Parent     string          `json:"parent,omitempty"`
	Index      int             `json:"index"`
	Started    time.Time       `json:"started"`
	State      string          `json:"state"`
	BlockCause string          `json:"block_cause,omitempty"`
	Stats      sched.Stats     `json:"stats"`
	Windows    []region.ID     `json:"windows"`
	Mailbox    ipc.MailboxInfo `json:"mailbox"`
}

// Snapshot is a point-in-time view of the whole kernel.
type Snapshot struct {
	Session      id.SessionID         `json:"session"`
	Boot         time.Time            `json:"boot"`
	Taken        time.Time            `json:"taken"`
	Processes    []ProcessInfo        `json:"processes"`
	Buffers      []credential.Info    `json:"shared_buffers"`
	IRQs         []irq.Info           `json:"irqs"`
	Terminations []TerminationContext `json:"terminations"`
}

// Snapshot captures the kernel state.
func (k *Kernel) Snapshot() Snapshot {
	k.mu.Lock()
	defer k.mu.Unlock()

	s := Snapshot{
		Session: k.session,
		Boot:    k.boot,
		Taken:   time.Now(),
		Buffers: k.creds.All(),
		IRQs:    k.irqs.All(),
	}
	for _, p := range k.procs.live() {
		info := ProcessInfo{
			PID:     p.pid,
			App:     p.app.Name,
			Parent:  p.app.Parent,
			Index:   p.index,
			Started: p.started,
			State:   p.gate.State().String(),
			Stats:   p.gate.Stats(),
			Windows: k.windows.Slots(p.pid),
		}
		if c := p.gate.BlockCause(); c != sched.CauseNone {
			info.BlockCause = c.String()
		}
		info.Mailbox, _ = k.channel.Mailbox(p.pid)
		s.Processes = append(s.Processes, info)
	}
	for _, tc := range k.terminations {
		s.Terminations = append(s.Terminations, tc)
	}
	sort.Slice(s.Terminations, func(i, j int) bool { return s.Terminations[i].At.Before(s.Terminations[j].At) })
	return s
}

// BlockedDurations returns the total blocked time of every live process.
func (k *Kernel) BlockedDurations() []time.Duration {
	k.mu.Lock()
	defer k.mu.Unlock()
	var out []time.Duration
	for _, p := range k.procs.live() {
		out = append(out, p.gate.Stats().BlockedTime)
	}
	return out
}

// Encode renders the snapshot as JSON, zstd compressed when compress is
// set.
func (s Snapshot) Encode(compress bool) ([]byte, error) {
	data, err := sonic.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	if !compress {
		return data, nil
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil), nil
}

// DecodeSnapshot reverses Encode.
func DecodeSnapshot(data []byte, compressed bool) (Snapshot, error) {
	if compressed {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return Snapshot{}, fmt.Errorf("zstd reader: %w", err)
		}
		defer dec.Close()
		if data, err = dec.DecodeAll(data, nil); err != nil {
			return Snapshot{}, fmt.Errorf("decompress snapshot: %w", err)
		}
	}
	var s Snapshot
	if err := sonic.Unmarshal(data, &s); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}
