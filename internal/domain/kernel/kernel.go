// Package kernel ties the isolation components together: the process
// table and lifecycle, the per-process entry points and the host controls
// that model hardware and session events.
//
// One mutex serializes every entry point. Blocking IPC and yields validate
// under the lock, then release it before waiting.
package kernel

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/credential"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/irq"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/manifest"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/window"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// TerminationListener is told, with the kernel lock held, about every
// process that terminates.
type TerminationListener interface {
	ProcessTerminated(pid id.ProcessID)
}

// Kernel is the isolation kernel.
type Kernel struct {
	mu sync.Mutex

	cfg     config.KernelConfig
	bundle  *manifest.Bundle
	session id.SessionID
	boot    time.Time
	ids     *id.Generator

	reg     *region.Registry
	creds   *credential.Manager
	windows *window.Manager
	channel *ipc.Channel
	irqs    *irq.Bridge

	procs        *table
	listeners    []TerminationListener
	terminations map[string]TerminationContext
	shutdown     bool

	logger *logging.Logger
	rec    Recorder
	sink   EventSink
}

// New builds a kernel for bundle.
func New(cfg config.KernelConfig, bundle *manifest.Bundle) (*Kernel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("kernel config: %w", err)
	}
	if err := bundle.Validate(); err != nil {
		return nil, fmt.Errorf("bundle: %w", err)
	}
	reg, err := region.NewRegistry(bundle, cfg.SharedBufferBase)
	if err != nil {
		return nil, fmt.Errorf("region registry: %w", err)
	}

	k := &Kernel{
		cfg:          cfg,
		bundle:       bundle,
		session:      id.NewSessionID(),
		boot:         time.Now(),
		ids:          id.NewGenerator(),
		reg:          reg,
		procs:        newTable(cfg.ProcessMax),
		terminations: make(map[string]TerminationContext),
		logger:       logging.NewNop(),
		rec:          nopRecorder{},
	}
	k.creds = credential.NewManager(reg, k.procs, cfg.CredentialCapacity, credential.ResetPolicy(cfg.ResetPolicy))
	k.windows = window.NewManager(reg, k.creds, cfg.WindowCount).
		WithOwnerMapWhileTransferred(cfg.OwnerMapWhileTransferred)
	k.creds.WithMappings(k.windows)
	k.channel = ipc.NewChannel(cfg.Tick).WithObserver(channelObserver{k})
	k.irqs = irq.NewBridge(cfg.IRQSourceMax, cfg.IRQRegistrationMax, k.channel)

	// Mailboxes go first so no waiter outlives its windows or credentials.
	k.listeners = []TerminationListener{k.channel, k.windows, k.creds, k.irqs}
	return k, nil
}

// WithLogger sets the logger of the kernel and its components.
func (k *Kernel) WithLogger(logger *logging.Logger) *Kernel {
	k.logger = logger.Named("kernel")
	k.creds.WithLogger(logger)
	k.irqs.WithLogger(logger)
	return k
}

// WithRecorder sets the measurement recorder.
func (k *Kernel) WithRecorder(r Recorder) *Kernel {
	k.rec = r
	return k
}

// WithEvents sets the event sink.
func (k *Kernel) WithEvents(sink EventSink) *Kernel {
	k.sink = sink
	return k
}

// AddTerminationListener appends l after the built-in listeners.
func (k *Kernel) AddTerminationListener(l TerminationListener) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.listeners = append(k.listeners, l)
}

// Session returns the kernel session id.
func (k *Kernel) Session() id.SessionID { return k.session }

// Config returns the kernel configuration.
func (k *Kernel) Config() config.KernelConfig { return k.cfg }

// Bundle returns the loaded bundle.
func (k *Kernel) Bundle() *manifest.Bundle { return k.bundle }

// Boot instantiates every auto-start app in declaration order.
func (k *Kernel) Boot() error {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, app := range k.bundle.Apps {
		if !app.AutoStart {
			continue
		}
		if _, st := k.spawn(app); !st.IsOK() {
			return fmt.Errorf("boot %s: %w", app.Name, st)
		}
	}
	k.logger.Info("kernel booted",
		zap.Stringer("session", k.session),
		zap.Int("apps", len(k.bundle.Apps)),
		zap.Int("processes", len(k.procs.byPID)),
	)
	return nil
}

// spawn creates a process for app. Called with k.mu held.
func (k *Kernel) spawn(app *manifest.App) (*process, status.Status) {
	if _, ok := k.procs.byApp[app.Name]; ok {
		return nil, status.ErrAlready
	}
	slot := k.procs.freeSlot()
	if slot < 0 {
		return nil, status.ErrNoResource
	}
	pid := k.ids.NewProcessID()
	gate := sched.NewGate()
	gate.Observe(k.gateObserver(pid, app.Name))
	if st := k.channel.Open(pid, slot, gate); !st.IsOK() {
		return nil, st
	}
	p := &process{pid: pid, app: app, index: slot, gate: gate, started: time.Now()}
	k.procs.add(p)

	k.logger.Info("process started", logging.PID(pid), logging.App(app.Name), zap.Int("index", slot))
	k.rec.ProcessStarted(app.Name)
	k.emit(Event{Kind: EventStart, PID: pid, App: app.Name})
	return p, status.OK
}

// Instantiate starts app on behalf of the host.
func (k *Kernel) Instantiate(app string) (id.ProcessID, status.Status) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.shutdown {
		return id.Invalid, status.ErrStateInvalid
	}
	a, ok := k.bundle.App(app)
	if !ok {
		return id.Invalid, status.ErrNotFound
	}
	p, st := k.spawn(a)
	if !st.IsOK() {
		return id.Invalid, st
	}
	return p.pid, status.OK
}

// PIDFromApp returns the live process of app.
func (k *Kernel) PIDFromApp(app string) (id.ProcessID, status.Status) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.pidFromApp(app)
}

func (k *Kernel) pidFromApp(app string) (id.ProcessID, status.Status) {
	if _, ok := k.bundle.App(app); !ok {
		return id.Invalid, status.ErrNotFound
	}
	pid, ok := k.procs.PIDOf(app)
	if !ok {
		return id.Invalid, status.ErrStateInvalid
	}
	return pid, status.OK
}

// terminate runs the termination sequence of p. Called with k.mu held.
func (k *Kernel) terminate(p *process, reason TerminationReason, info uint32) {
	if p.terminating {
		return
	}
	p.terminating = true
	_ = p.gate.BeginHalt()
	for _, l := range k.listeners {
		l.ProcessTerminated(p.pid)
	}
	_ = p.gate.Halt()
	k.procs.remove(p)

	k.terminations[p.app.Name] = TerminationContext{
		App:    p.app.Name,
		PID:    p.pid,
		Reason: reason,
		Info:   info,
		At:     time.Now(),
	}
	k.signalRelatives(p)

	log := k.logger.Info
	if reason != End {
		log = k.logger.Warn
	}
	log("process terminated", logging.PID(p.pid), logging.App(p.app.Name), zap.Stringer("reason", reason))
	k.rec.ProcessTerminated(p.app.Name, reason)
	k.emit(Event{Kind: EventTermination, PID: p.pid, App: p.app.Name, Reason: reason.String()})

	if p.app.Restart() && reason != AbortSessionEnd && !k.shutdown {
		if _, st := k.spawn(p.app); !st.IsOK() {
			k.logger.Error("restart failed", logging.App(p.app.Name), logging.Status(st))
		}
	}
}

// signalRelatives tells the parent and the children of p that it ended.
func (k *Kernel) signalRelatives(p *process) {
	if p.app.Parent != "" {
		if parent, ok := k.procs.byApp[p.app.Parent]; ok {
			k.channel.Post(parent.pid, ipc.NatureSignal, ipc.SignalChildTerminated, id.Kernel)
		}
	}
	for _, q := range k.procs.live() {
		if q.app.Parent == p.app.Name {
			k.channel.Post(q.pid, ipc.NatureSignal, ipc.SignalParentTerminated, id.Kernel)
		}
	}
}

func abortReason(st status.Status) TerminationReason {
	switch st.Reason {
	case status.ReasonIllegalAccess:
		return AbortMCUFault
	case status.ReasonStateInvalid:
		return AbortInvalidState
	}
	return AbortIllegalAccess
}

// Abort terminates pid on behalf of the host.
func (k *Kernel) Abort(pid id.ProcessID, reason TerminationReason) status.Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.procs.byPID[pid]
	if !ok || p.terminating {
		return status.ErrNotFound
	}
	k.terminate(p, reason, 0)
	return status.OK
}

// Interrupt preempts pid, modelling an interrupt handler running on its
// behalf.
func (k *Kernel) Interrupt(pid id.ProcessID) status.Status {
	return k.hostGate(pid, (*sched.Gate).Interrupt)
}

// EndInterrupt returns pid to the state it was interrupted in.
func (k *Kernel) EndInterrupt(pid id.ProcessID) status.Status {
	return k.hostGate(pid, (*sched.Gate).EndInterrupt)
}

func (k *Kernel) hostGate(pid id.ProcessID, move func(*sched.Gate) error) status.Status {
	k.mu.Lock()
	defer k.mu.Unlock()
	p, ok := k.procs.byPID[pid]
	if !ok || p.terminating {
		return status.ErrNotFound
	}
	if err := move(p.gate); err != nil {
		return status.ErrStateInvalid
	}
	return status.OK
}

// TriggerIRQ raises an interrupt source and returns the number of
// processes notified.
func (k *Kernel) TriggerIRQ(source int) (int, status.Status) {
	k.mu.Lock()
	defer k.mu.Unlock()
	n, st := k.irqs.Trigger(source)
	if st.IsOK() {
		k.emit(Event{Kind: EventIRQ, Source: source, Count: n})
	}
	return n, st
}

// Shutdown ends the session: every live process is aborted with
// AbortSessionEnd and nothing restarts.
func (k *Kernel) Shutdown() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.shutdown {
		return
	}
	k.shutdown = true
	for _, p := range k.procs.live() {
		k.terminate(p, AbortSessionEnd, 0)
	}
	k.logger.Info("kernel shut down", zap.Stringer("session", k.session))
}

// Proc returns the handle through which pid calls the kernel.
func (k *Kernel) Proc(pid id.ProcessID) *Proc {
	return &Proc{k: k, pid: pid}
}

// running returns the live process pid if it may execute. Called with
// k.mu held.
func (k *Kernel) running(pid id.ProcessID) (*process, status.Status) {
	p, ok := k.procs.byPID[pid]
	if !ok || p.terminating {
		return nil, status.ErrNotFound
	}
	if !p.gate.CanRun() {
		return nil, status.ErrStateInvalid
	}
	return p, status.OK
}

// do runs fn for pid under the kernel lock. A Fatal result aborts pid.
func (k *Kernel) do(pid id.ProcessID, op string, fn func(p *process) status.Status) status.Status {
	start := time.Now()
	k.mu.Lock()
	p, st := k.running(pid)
	if st.IsOK() {
		st = fn(p)
		if st.IsFatal() {
			k.logger.Warn("fatal kernel call", logging.PID(pid), zap.String("op", op), logging.Status(st))
			k.terminate(p, abortReason(st), uint32(st.Reason))
		}
	}
	k.mu.Unlock()
	k.rec.Call(op, st, time.Since(start))
	return st
}

// since converts t into microseconds since boot.
func (k *Kernel) since(t time.Time) uint64 {
	if t.Before(k.boot) {
		return 0
	}
	return uint64(t.Sub(k.boot).Microseconds())
}
