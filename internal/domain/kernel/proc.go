package kernel

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/credential"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/ipc"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/irq"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/manifest"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/sched"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/tlv"
)

// Proc is the handle through which one process calls the kernel. Every
// call fails with NotFound once the process is gone and with StateInvalid
// while its gate does not let it run.
type Proc struct {
	k   *Kernel
	pid id.ProcessID
}

// PID returns the process identity.
func (p *Proc) PID() id.ProcessID { return p.pid }

// ---------------------------------------------------------------------------
// Regions

// RegionInfo describes a region to an authorized caller.
type RegionInfo struct {
	ID       region.ID    `json:"id"`
	Kind     string       `json:"kind"`
	Owner    string       `json:"owner"`
	OwnerPID id.ProcessID `json:"owner_pid,omitempty"`
	// Label is shown to the owner only.
	Label   string       `json:"label,omitempty"`
	Start   uint32       `json:"start"`
	Length  uint32       `json:"length"`
	// Manager is the managing process; the owner's pid while the owner
	// manages, or id.Owner when the owner has no live process.
	Manager        id.ProcessID `json:"manager,omitempty"`
	ManagedByOwner bool         `json:"managed_by_owner,omitempty"`
	State          string       `json:"state,omitempty"`
	// Rights are the caller's rights on the region.
	Rights []string `json:"rights"`
}

// ResolveLabel returns the id of a region declared by the caller's app.
func (p *Proc) ResolveLabel(label string) (rid region.ID, st status.Status) {
	st = p.k.do(p.pid, "resolve_label", func(pr *process) status.Status {
		rid, st = p.k.reg.Resolve(pr.app.Name, label)
		return st
	})
	return rid, st
}

// BundleID converts a shared buffer index into its bundle-wide id.
func (p *Proc) BundleID(in region.ID) (out region.ID, st status.Status) {
	st = p.k.do(p.pid, "bundle_id", func(pr *process) status.Status {
		out, st = p.k.reg.BundleID(pr.app.Name, in)
		return st
	})
	return out, st
}

// AddressBlockInfo describes a region. Shared buffers are visible to their
// owner, to processes holding credentials and to system audit apps.
func (p *Proc) AddressBlockInfo(rid region.ID) (info RegionInfo, st status.Status) {
	st = p.k.do(p.pid, "address_block_info", func(pr *process) status.Status {
		info, st = p.k.regionInfo(pr, rid)
		return st
	})
	return info, st
}

func (k *Kernel) regionInfo(pr *process, rid region.ID) (RegionInfo, status.Status) {
	app := pr.app.Name
	if rid.Nature() == region.NatureSharedBufferIndex {
		var st status.Status
		if rid, st = k.reg.BundleID(app, rid); !st.IsOK() {
			return RegionInfo{}, st
		}
	}
	r, st := k.reg.Lookup(app, rid)
	if !st.IsOK() {
		return RegionInfo{}, st
	}
	owner := r.Owner == app
	info := RegionInfo{
		ID:     r.ID,
		Kind:   r.Kind.String(),
		Owner:  r.Owner,
		Start:  r.Start,
		Length: r.Length,
	}
	if owner {
		info.Label = r.Label
	}
	if pid, ok := k.procs.PIDOf(r.Owner); ok {
		info.OwnerPID = pid
	}

	if r.Kind == region.KindPrivate {
		if r.Read {
			info.Rights = append(info.Rights, "read")
		}
		if r.Write {
			info.Rights = append(info.Rights, "write")
		}
		return info, status.OK
	}

	if !owner && !k.creds.IsHolder(pr.pid, r.ID) && !pr.app.SystemAudit() {
		return RegionInfo{}, status.ErrCredentials
	}
	info.Manager, _ = k.creds.Manager(r.ID)
	if info.Manager == id.Owner {
		info.ManagedByOwner = true
		if info.OwnerPID != id.Invalid {
			info.Manager = info.OwnerPID
		}
	}
	info.State = k.creds.State(r.ID).String()
	if flags, ok := k.creds.Rights(pr.pid, r.ID); ok {
		info.Rights = flags.Names()
	}
	return info, status.OK
}

// ---------------------------------------------------------------------------
// Windows

// Map places a region in a window slot.
func (p *Proc) Map(slot int, rid region.ID) status.Status {
	return p.k.do(p.pid, "map", func(pr *process) status.Status {
		return p.k.windows.Map(pr.pid, pr.app.Name, slot, rid)
	})
}

// Unmap empties a window slot.
func (p *Proc) Unmap(slot int) status.Status {
	return p.k.do(p.pid, "unmap", func(pr *process) status.Status {
		return p.k.windows.Unmap(pr.pid, slot)
	})
}

// GetMapped returns the region in a window slot.
func (p *Proc) GetMapped(slot int) (rid region.ID, st status.Status) {
	st = p.k.do(p.pid, "get_mapped", func(pr *process) status.Status {
		rid, st = p.k.windows.GetMapped(pr.pid, slot)
		return st
	})
	return rid, st
}

// Read loads n bytes at off through a window. An illegal access aborts the
// process.
func (p *Proc) Read(slot int, off, n uint32) (data []byte, st status.Status) {
	st = p.k.do(p.pid, "read", func(pr *process) status.Status {
		data, st = p.k.windows.Read(pr.pid, slot, off, n)
		if st.IsFatal() {
			p.k.logger.Warn("illegal read", logging.PID(pr.pid), logging.Slot(slot), zap.Uint32("offset", off), zap.Uint32("length", n))
		}
		return st
	})
	return data, st
}

// Write stores data at off through a window. An illegal access aborts the
// process.
func (p *Proc) Write(slot int, off uint32, data []byte) status.Status {
	return p.k.do(p.pid, "write", func(pr *process) status.Status {
		st := p.k.windows.Write(pr.pid, slot, off, data)
		if st.IsFatal() {
			p.k.logger.Warn("illegal write", logging.PID(pr.pid), logging.Slot(slot), zap.Uint32("offset", off), zap.Int("length", len(data)))
		}
		return st
	})
}

// ---------------------------------------------------------------------------
// Shared buffer credentials

// ResetCredentials clears the credential table of a buffer the caller owns.
func (p *Proc) ResetCredentials(rid region.ID) status.Status {
	return p.k.do(p.pid, "reset_credentials", func(pr *process) status.Status {
		return p.k.creds.Reset(pr.pid, rid)
	})
}

// AddCredentials grants flags on a buffer to holder.
func (p *Proc) AddCredentials(rid region.ID, holder id.ProcessID, flags credential.Flags) status.Status {
	return p.k.do(p.pid, "add_credentials", func(pr *process) status.Status {
		return p.k.creds.Grant(pr.pid, rid, holder, flags)
	})
}

// Transfer hands management of a buffer to another process, or back to
// its owner with id.Owner.
func (p *Proc) Transfer(rid region.ID, to id.ProcessID) status.Status {
	return p.k.do(p.pid, "transfer", func(pr *process) status.Status {
		return p.k.creds.Transfer(pr.pid, rid, to)
	})
}

// ---------------------------------------------------------------------------
// IPC

// sendable checks that the caller may send to target. Called with k.mu
// held.
func (k *Kernel) sendable(pr *process, target id.ProcessID) status.Status {
	q, ok := k.procs.byPID[target]
	if !ok || q.terminating {
		return status.ErrNotFound
	}
	if !pr.app.CanSendTo(q.app.Name) {
		return status.ErrCredentials
	}
	return status.OK
}

// SendNotification sets the caller's bit in target's notification bitmap.
func (p *Proc) SendNotification(target id.ProcessID) status.Status {
	return p.k.do(p.pid, "send_notification", func(pr *process) status.Status {
		if st := p.k.sendable(pr, target); !st.IsOK() {
			return st
		}
		return p.k.channel.SendNotification(pr.pid, target)
	})
}

// blocking validates a call under the lock, then runs wait without it.
func (k *Kernel) blocking(pid id.ProcessID, op string, check func(pr *process) status.Status, wait func() status.Status) status.Status {
	start := time.Now()
	k.mu.Lock()
	pr, st := k.running(pid)
	if st.IsOK() {
		st = check(pr)
	}
	k.mu.Unlock()
	if st.IsOK() {
		st = wait()
	}
	k.rec.Call(op, st, time.Since(start))
	return st
}

// SendData sends a raw data message to target.
func (p *Proc) SendData(ctx context.Context, target id.ProcessID, label uint16, data []byte, mode ipc.Mode) status.Status {
	return p.k.blocking(p.pid, "send_data",
		func(pr *process) status.Status { return p.k.sendable(pr, target) },
		func() status.Status { return p.k.channel.SendData(ctx, p.pid, target, label, data, mode) },
	)
}

// Receive takes the next message, restricting raw data to from unless it
// is id.Any.
func (p *Proc) Receive(ctx context.Context, from id.ProcessID, mode ipc.Mode) (msg ipc.Message, st status.Status) {
	st = p.k.blocking(p.pid, "receive",
		func(*process) status.Status { return status.OK },
		func() status.Status {
			msg, st = p.k.channel.Receive(ctx, p.pid, from, mode)
			return st
		},
	)
	return msg, st
}

// SendReceive sends raw data to peer and receives its answer.
func (p *Proc) SendReceive(ctx context.Context, peer id.ProcessID, label uint16, data []byte, mode ipc.Mode) (msg ipc.Message, st status.Status) {
	st = p.k.blocking(p.pid, "send_receive",
		func(pr *process) status.Status { return p.k.sendable(pr, peer) },
		func() status.Status {
			msg, st = p.k.channel.SendReceive(ctx, p.pid, peer, label, data, mode)
			return st
		},
	)
	return msg, st
}

// ---------------------------------------------------------------------------
// Interrupts

// RegisterIRQ subscribes the caller to an interrupt source its app
// declares.
func (p *Proc) RegisterIRQ(source int, flags irq.Flags) (reg int, st status.Status) {
	st = p.k.do(p.pid, "irq_register", func(pr *process) status.Status {
		reg, st = p.k.irqs.Register(pr.pid, source, pr.app.CanUseIRQ(source), flags)
		return st
	})
	return reg, st
}

// UnregisterIRQ drops a registration.
func (p *Proc) UnregisterIRQ(reg int) status.Status {
	return p.k.do(p.pid, "irq_unregister", func(pr *process) status.Status {
		return p.k.irqs.Unregister(pr.pid, reg)
	})
}

// IRQInfo describes a registration.
func (p *Proc) IRQInfo(reg int) (info irq.Info, st status.Status) {
	st = p.k.do(p.pid, "irq_info", func(pr *process) status.Status {
		info, st = p.k.irqs.Info(pr.pid, reg)
		return st
	})
	return info, st
}

// IRQAction acknowledges, enables or disables a registration.
func (p *Proc) IRQAction(reg int, action irq.Action) status.Status {
	return p.k.do(p.pid, "irq_action", func(pr *process) status.Status {
		return p.k.irqs.Action(pr.pid, reg, action)
	})
}

// ---------------------------------------------------------------------------
// Processes

// Instantiate starts a child app of the caller's app.
func (p *Proc) Instantiate(app string) (pid id.ProcessID, st status.Status) {
	st = p.k.do(p.pid, "instantiate", func(pr *process) status.Status {
		if p.k.shutdown {
			return status.ErrStateInvalid
		}
		a, ok := p.k.bundle.App(app)
		if !ok {
			return status.ErrNotFound
		}
		if _, live := p.k.procs.byApp[app]; live {
			return status.ErrAlready
		}
		if a.Parent != pr.app.Name {
			return status.ErrCredentials
		}
		child, st := p.k.spawn(a)
		if st.IsOK() {
			pid = child.pid
		}
		return st
	})
	return pid, st
}

// PIDFromApp returns the live process of app.
func (p *Proc) PIDFromApp(app string) (pid id.ProcessID, st status.Status) {
	st = p.k.do(p.pid, "pid_from_app", func(*process) status.Status {
		pid, st = p.k.pidFromApp(app)
		return st
	})
	return pid, st
}

// Attribute tags.
const (
	AttrAUID                   uint8 = 1
	AttrSchedulingState        uint8 = 2
	AttrSchedulingStats        uint8 = 3
	AttrAppIndex               uint8 = 4
	AttrTerminationContextLast uint8 = 5
)

// Attribute reads one attribute of target, or of the caller with
// id.Myself. The caller may query itself, its children, or anyone when its
// app has the system audit profile.
func (p *Proc) Attribute(target id.ProcessID, tag uint8) (rec tlv.Record, st status.Status) {
	st = p.k.do(p.pid, "attribute", func(pr *process) status.Status {
		rec, st = p.k.attribute(pr, target, tag)
		return st
	})
	return rec, st
}

func (k *Kernel) attribute(pr *process, target id.ProcessID, tag uint8) (tlv.Record, status.Status) {
	q := pr
	if target != id.Myself && target != pr.pid {
		var ok bool
		if q, ok = k.procs.byPID[target]; !ok || q.terminating {
			return tlv.Empty(), status.ErrNotFound
		}
	}
	if tag < AttrAUID || tag > AttrTerminationContextLast {
		return tlv.Empty(), status.ErrParam
	}
	if !mayInspect(pr, q.app) {
		return tlv.Empty(), status.ErrCredentials
	}
	if tag == AttrAppIndex {
		return tlv.Uint32(tag, uint32(q.index)), status.OK
	}
	return k.record(q.app, q, tag), status.OK
}

// AppMyself names the caller's own app in app level queries.
const AppMyself = -1

// AppIndexFromName returns the declaration index of app in the bundle.
func (p *Proc) AppIndexFromName(app string) (idx int, st status.Status) {
	st = p.k.do(p.pid, "app_index", func(*process) status.Status {
		if idx = p.k.bundle.Index(app); idx < 0 {
			return status.ErrNotFound
		}
		return status.OK
	})
	return idx, st
}

// AppAttribute reads one attribute of the app at index app, or of the
// caller's app with AppMyself. Unlike Attribute it does not need a live
// process, so a parent can read why a child ended after the child is gone.
// AttrAppIndex reports the declaration index; the scheduling tags fail
// with StateInvalid while the app has no live process.
func (p *Proc) AppAttribute(app int, tag uint8) (rec tlv.Record, st status.Status) {
	st = p.k.do(p.pid, "app_attribute", func(pr *process) status.Status {
		rec, st = p.k.appAttribute(pr, app, tag)
		return st
	})
	return rec, st
}

func (k *Kernel) appAttribute(pr *process, idx int, tag uint8) (tlv.Record, status.Status) {
	a := pr.app
	if idx != AppMyself {
		if idx < 0 || idx >= len(k.bundle.Apps) {
			return tlv.Empty(), status.ErrParam
		}
		a = k.bundle.Apps[idx]
	}
	if tag < AttrAUID || tag > AttrTerminationContextLast {
		return tlv.Empty(), status.ErrParam
	}
	if !mayInspect(pr, a) {
		return tlv.Empty(), status.ErrCredentials
	}
	q, live := k.procs.byApp[a.Name]
	if live && q.terminating {
		live = false
	}
	switch tag {
	case AttrAppIndex:
		return tlv.Uint32(tag, uint32(k.bundle.Index(a.Name))), status.OK
	case AttrSchedulingState, AttrSchedulingStats:
		if !live {
			return tlv.Empty(), status.ErrStateInvalid
		}
	}
	return k.record(a, q, tag), status.OK
}

// mayInspect reports whether pr may read the attributes of app: its own,
// its children's, or anyone's with the system audit profile.
func mayInspect(pr *process, app *manifest.App) bool {
	return app == pr.app || pr.app.SystemAudit() || app.Parent == pr.app.Name
}

// record builds the TLV for every tag but AttrAppIndex. q is nil when the
// app has no live process; callers check that first for scheduling tags.
func (k *Kernel) record(a *manifest.App, q *process, tag uint8) tlv.Record {
	switch tag {
	case AttrAUID:
		return tlv.String(tag, a.Name)
	case AttrSchedulingState:
		return tlv.Uint32(tag, uint32(q.gate.State()))
	case AttrSchedulingStats:
		s := q.gate.Stats()
		return tlv.Uint64s(tag,
			s.Scheduled, s.Blocks, s.Yields, s.Interrupts,
			s.WakesIPC, s.WakesTimer, s.WakesAbort,
			uint64(s.BlockedTime.Microseconds()),
		)
	default:
		tc, ok := k.terminations[a.Name]
		if !ok {
			return tlv.Record{Tag: tag}
		}
		return tlv.Uint64s(tag, uint64(tc.Reason), uint64(tc.Info), k.since(tc.At))
	}
}

// Yield gives up the processor. With ticks zero the caller yields for one
// tick; otherwise it sleeps for ticks ticks.
func (p *Proc) Yield(ctx context.Context, ticks uint32) status.Status {
	k := p.k
	var gate *sched.Gate
	return k.blocking(p.pid, "yield",
		func(pr *process) status.Status {
			if ticks > k.cfg.YieldMaxTicks {
				return status.ErrParam
			}
			gate = pr.gate
			var err error
			if ticks == 0 {
				err = gate.Yield()
			} else {
				err = gate.Block(sched.CauseTimer)
			}
			if err != nil {
				return status.ErrStateInvalid
			}
			return status.OK
		},
		func() status.Status {
			d := time.Duration(max(ticks, 1)) * k.cfg.Tick
			timer := time.NewTimer(d)
			defer timer.Stop()

			st, cause := status.OK, sched.CauseTimer
			select {
			case <-timer.C:
			case <-ctx.Done():
				st, cause = status.ErrAborted, sched.CauseAbort
			}
			var err error
			if ticks == 0 {
				err = gate.Resume()
			} else {
				err = gate.Wake(cause)
			}
			if err != nil {
				return status.ErrTerminated
			}
			return st
		},
	)
}

// Exit terminates the caller. info is kept in the termination context.
func (p *Proc) Exit(inError bool, info uint32) status.Status {
	return p.k.do(p.pid, "exit", func(pr *process) status.Status {
		reason := End
		if inError {
			reason = AbortExitInError
		}
		p.k.terminate(pr, reason, info)
		return status.OK
	})
}
