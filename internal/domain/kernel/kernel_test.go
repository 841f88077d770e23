package kernel

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/credential"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/manifest"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/config"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

func testBundle() *manifest.Bundle {
	return &manifest.Bundle{Apps: []*manifest.App{
		{
			Name:        "owner",
			AutoStart:   true,
			IPCSendTo:   []string{manifest.AnyApp},
			IRQs:        []int{5},
			ExtraBlocks: []*manifest.ExtraBlock{{Label: "cfg", Start: 0x1000, Length: 64, Read: true, Write: true}},
			SharedBuffers: []*manifest.SharedBuffer{
				{Label: "buf", Length: 64},
			},
		},
		{Name: "peer", AutoStart: true, IPCSendTo: []string{manifest.AnyApp}},
		{Name: "third", AutoStart: true, IPCSendTo: []string{"owner"}},
		{Name: "audit", AutoStart: true, Profile: []string{manifest.ProfileSystemAudit}},
		{Name: "child", Parent: "owner", IPCSendTo: []string{"owner"}},
		{Name: "svc", Profile: []string{manifest.ProfileRestart}},
	}}
}

type harness struct {
	k     *Kernel
	procs map[string]*Proc
}

func newHarness(t *testing.T, mutate func(*config.KernelConfig)) *harness {
	t.Helper()
	cfg := config.DefaultKernel()
	cfg.Tick = time.Millisecond
	if mutate != nil {
		mutate(&cfg)
	}
	k, err := New(cfg, testBundle())
	require.NoError(t, err)
	require.NoError(t, k.Boot())
	t.Cleanup(k.Shutdown)

	h := &harness{k: k, procs: map[string]*Proc{}}
	for _, app := range []string{"owner", "peer", "third", "audit"} {
		h.procs[app] = h.proc(t, app)
	}
	return h
}

func (h *harness) proc(t *testing.T, app string) *Proc {
	t.Helper()
	pid, st := h.k.PIDFromApp(app)
	require.Equal(t, status.OK, st, app)
	return h.k.Proc(pid)
}

func (h *harness) gate(t *testing.T, pid id.ProcessID) *sched.Gate {
	t.Helper()
	h.k.mu.Lock()
	defer h.k.mu.Unlock()
	p, ok := h.k.procs.byPID[pid]
	require.True(t, ok)
	return p.gate
}

func (h *harness) waitState(t *testing.T, pid id.ProcessID, want sched.State) {
	t.Helper()
	g := h.gate(t, pid)
	require.Eventually(t, func() bool { return g.State() == want }, time.Second, time.Millisecond)
}

// sharedBuffer returns the bundle id of owner's buffer.
func (h *harness) sharedBuffer(t *testing.T) region.ID {
	t.Helper()
	owner := h.procs["owner"]
	local, st := owner.ResolveLabel("buf")
	require.Equal(t, status.OK, st)
	bid, st := owner.BundleID(local)
	require.Equal(t, status.OK, st)
	return bid
}

func TestNewRejectsInvalidInput(t *testing.T) {
	cfg := config.DefaultKernel()
	cfg.ProcessMax = 0
	_, err := New(cfg, testBundle())
	assert.Error(t, err)

	bad := &manifest.Bundle{Apps: []*manifest.App{{Name: "a", Parent: "ghost"}}}
	_, err = New(config.DefaultKernel(), bad)
	assert.Error(t, err)
}

func TestBootStartsAutoStartApps(t *testing.T) {
	h := newHarness(t, nil)

	pids := map[id.ProcessID]bool{}
	for _, p := range h.procs {
		pids[p.PID()] = true
	}
	assert.Len(t, pids, 4)

	_, st := h.k.PIDFromApp("child")
	assert.Equal(t, status.ErrStateInvalid, st)
	_, st = h.k.PIDFromApp("ghost")
	assert.Equal(t, status.ErrNotFound, st)
}

func TestInstantiate(t *testing.T) {
	h := newHarness(t, nil)
	owner, peer := h.procs["owner"], h.procs["peer"]

	_, st := owner.Instantiate("ghost")
	assert.Equal(t, status.ErrNotFound, st)
	_, st = peer.Instantiate("child")
	assert.Equal(t, status.ErrCredentials, st)

	pid, st := owner.Instantiate("child")
	require.Equal(t, status.OK, st)
	got, st := owner.PIDFromApp("child")
	require.Equal(t, status.OK, st)
	assert.Equal(t, pid, got)

	_, st = owner.Instantiate("child")
	assert.Equal(t, status.ErrAlready, st)
}

func TestInstantiateTableFull(t *testing.T) {
	h := newHarness(t, func(c *config.KernelConfig) { c.ProcessMax = 4 })
	_, st := h.procs["owner"].Instantiate("child")
	assert.Equal(t, status.ErrNoResource, st)
}

func TestHostInstantiateAndAbort(t *testing.T) {
	h := newHarness(t, nil)

	pid, st := h.k.Instantiate("child")
	require.Equal(t, status.OK, st)
	require.Equal(t, status.OK, h.k.Abort(pid, AbortIllegalAccess))
	assert.Equal(t, status.ErrNotFound, h.k.Abort(pid, AbortIllegalAccess))

	_, st = h.k.Proc(pid).ResolveLabel("anything")
	assert.Equal(t, status.ErrNotFound, st)
}

func TestExitRecordsTerminationContext(t *testing.T) {
	h := newHarness(t, nil)
	peer := h.procs["peer"]

	require.Equal(t, status.OK, peer.Exit(true, 42))

	snap := h.k.Snapshot()
	require.Len(t, snap.Terminations, 1)
	tc := snap.Terminations[0]
	assert.Equal(t, "peer", tc.App)
	assert.Equal(t, peer.PID(), tc.PID)
	assert.Equal(t, AbortExitInError, tc.Reason)
	assert.Equal(t, uint32(42), tc.Info)

	_, st := h.k.PIDFromApp("peer")
	assert.Equal(t, status.ErrStateInvalid, st)
}

func TestIllegalAccessAbortsCaller(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.procs["owner"]

	cfg, st := owner.ResolveLabel("cfg")
	require.Equal(t, status.OK, st)
	require.Equal(t, status.OK, owner.Map(0, cfg))
	require.Equal(t, status.OK, owner.Write(0, 0, []byte("abcd")))
	data, st := owner.Read(0, 0, 4)
	require.Equal(t, status.OK, st)
	assert.Equal(t, []byte("abcd"), data)

	_, st = owner.Read(0, 60, 8)
	assert.Equal(t, status.FatalIllegalAccess, st)

	_, st = h.k.PIDFromApp("owner")
	assert.Equal(t, status.ErrStateInvalid, st)
	snap := h.k.Snapshot()
	require.Len(t, snap.Terminations, 1)
	assert.Equal(t, AbortMCUFault, snap.Terminations[0].Reason)

	// Others keep running.
	_, st = h.procs["peer"].PIDFromApp("peer")
	assert.Equal(t, status.OK, st)
}

func TestRestartProfile(t *testing.T) {
	h := newHarness(t, nil)

	first, st := h.k.Instantiate("svc")
	require.Equal(t, status.OK, st)
	require.Equal(t, status.OK, h.k.Abort(first, AbortMCUFault))

	second, st := h.k.PIDFromApp("svc")
	require.Equal(t, status.OK, st)
	assert.NotEqual(t, first, second)

	require.Equal(t, status.OK, h.k.Abort(second, AbortSessionEnd))
	_, st = h.k.PIDFromApp("svc")
	assert.Equal(t, status.ErrStateInvalid, st)
}

func TestTerminationSignalsRelatives(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.procs["owner"]
	polling := ipc.Mode{Filter: ipc.FilterAll}

	pid, st := owner.Instantiate("child")
	require.Equal(t, status.OK, st)
	child := h.k.Proc(pid)
	require.Equal(t, status.OK, child.Exit(false, 0))

	msg, st := owner.Receive(t.Context(), id.Any, polling)
	require.Equal(t, status.OK, st)
	assert.Equal(t, ipc.NatureSignal, msg.Nature)
	assert.Equal(t, id.Kernel, msg.Sender)
	assert.Equal(t, []int{ipc.SignalChildTerminated}, msg.Bits())

	pid, st = owner.Instantiate("child")
	require.Equal(t, status.OK, st)
	child = h.k.Proc(pid)
	require.Equal(t, status.OK, h.k.Abort(owner.PID(), AbortInvalidState))

	msg, st = child.Receive(t.Context(), id.Any, polling)
	require.Equal(t, status.OK, st)
	assert.Equal(t, []int{ipc.SignalParentTerminated}, msg.Bits())
}

type orderCheck struct {
	t      *testing.T
	k      *Kernel
	bid    region.ID
	called []id.ProcessID
}

func (o *orderCheck) ProcessTerminated(pid id.ProcessID) {
	// The built-in listeners have already run.
	_, open := o.k.channel.Mailbox(pid)
	assert.False(o.t, open)
	for _, rid := range o.k.windows.Slots(pid) {
		assert.Equal(o.t, region.Invalid, rid)
	}
	mgr, _ := o.k.creds.Manager(o.bid)
	assert.Equal(o.t, id.Owner, mgr)
	o.called = append(o.called, pid)
}

func TestTerminationListenerOrder(t *testing.T) {
	h := newHarness(t, nil)
	owner, peer := h.procs["owner"], h.procs["peer"]
	bid := h.sharedBuffer(t)

	require.Equal(t, status.OK, owner.AddCredentials(bid, peer.PID(), credential.Read|credential.Write))
	require.Equal(t, status.OK, owner.Transfer(bid, peer.PID()))
	require.Equal(t, status.OK, peer.Map(2, bid))

	check := &orderCheck{t: t, k: h.k, bid: bid}
	h.k.AddTerminationListener(check)
	require.Equal(t, status.OK, peer.Exit(false, 0))
	assert.Equal(t, []id.ProcessID{peer.PID()}, check.called)
}

func TestTerminationReleasesBlockedPeer(t *testing.T) {
	h := newHarness(t, nil)
	owner, peer := h.procs["owner"], h.procs["peer"]

	done := make(chan status.Status, 1)
	go func() {
		done <- owner.SendData(t.Context(), peer.PID(), 1, nil, ipc.Mode{SendBlocking: true, Filter: ipc.FilterAll})
	}()
	h.waitState(t, owner.PID(), sched.Blocked)

	require.Equal(t, status.OK, peer.Exit(false, 0))
	assert.Equal(t, status.ErrTerminated, <-done)
	assert.Equal(t, sched.Ready, h.gate(t, owner.PID()).State())
}

func TestHostInterrupt(t *testing.T) {
	h := newHarness(t, nil)
	owner := h.procs["owner"]

	require.Equal(t, status.OK, h.k.Interrupt(owner.PID()))
	_, st := owner.ResolveLabel("cfg")
	assert.Equal(t, status.ErrStateInvalid, st)
	assert.Equal(t, status.ErrStateInvalid, h.k.Interrupt(owner.PID()))

	require.Equal(t, status.OK, h.k.EndInterrupt(owner.PID()))
	_, st = owner.ResolveLabel("cfg")
	assert.Equal(t, status.OK, st)
	assert.Equal(t, status.ErrStateInvalid, h.k.EndInterrupt(owner.PID()))
	assert.Equal(t, status.ErrNotFound, h.k.Interrupt("proc_ghost"))
}

func TestShutdown(t *testing.T) {
	h := newHarness(t, nil)
	_, st := h.k.Instantiate("svc")
	require.Equal(t, status.OK, st)

	h.k.Shutdown()
	assert.Empty(t, h.k.Snapshot().Processes)
	_, st = h.k.Instantiate("svc")
	assert.Equal(t, status.ErrStateInvalid, st)
	for _, tc := range h.k.Snapshot().Terminations {
		assert.Equal(t, AbortSessionEnd, tc.Reason)
	}
}

func TestAbortReason(t *testing.T) {
	assert.Equal(t, AbortMCUFault, abortReason(status.FatalIllegalAccess))
	assert.Equal(t, AbortInvalidState, abortReason(status.FatalStateInvalid))
	assert.Equal(t, AbortIllegalAccess, abortReason(status.FatalErr(status.ReasonParam)))
}

func TestParseReason(t *testing.T) {
	r, err := ParseReason("mcu_fault")
	require.NoError(t, err)
	assert.Equal(t, AbortMCUFault, r)
	_, err = ParseReason("nope")
	assert.Error(t, err)
}

type countingRecorder struct {
	nopRecorder
	calls   map[string]int
	started int
	ended   int
}

func (r *countingRecorder) Call(op string, _ status.Status, _ time.Duration) { r.calls[op]++ }
func (r *countingRecorder) ProcessStarted(string)                            { r.started++ }
func (r *countingRecorder) ProcessTerminated(string, TerminationReason)      { r.ended++ }

func TestRecorderAndEvents(t *testing.T) {
	cfg := config.DefaultKernel()
	k, err := New(cfg, testBundle())
	require.NoError(t, err)

	rec := &countingRecorder{calls: map[string]int{}}
	var kinds []EventKind
	k.WithRecorder(rec).WithEvents(func(e Event) { kinds = append(kinds, e.Kind) })
	require.NoError(t, k.Boot())

	pid, _ := k.PIDFromApp("owner")
	_, st := k.Proc(pid).ResolveLabel("cfg")
	require.Equal(t, status.OK, st)
	k.Shutdown()

	assert.Equal(t, 4, rec.started)
	assert.Equal(t, 4, rec.ended)
	assert.Equal(t, 1, rec.calls["resolve_label"])
	assert.Contains(t, kinds, EventStart)
	assert.Contains(t, kinds, EventGate)
	assert.Contains(t, kinds, EventTermination)
}
