// Package window implements the bounded set of mapping slots through which
// a process reaches region memory.
//
// Each process owns a fixed number of slots. A slot holds at most one
// region, a process maps a region at most once, and the access rights of a
// mapping are a snapshot of the caller's rights at map time. Accessing
// memory outside a mapping, or writing through a read-only one, is an
// illegal access and yields a Fatal status.
//
// The Manager is not safe for concurrent use: the kernel serializes every
// call under its own lock.
package window

import (
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/credential"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// Access is the rights snapshot of a mapping.
type Access struct {
	Read  bool `json:"read"`
	Write bool `json:"write"`
}

// Mapping is one occupied slot.
type Mapping struct {
	Region *region.Region
	Access Access
}

// Authority answers the credential questions map needs.
type Authority interface {
	IsManager(pid id.ProcessID, rid region.ID) bool
	IsOwner(pid id.ProcessID, rid region.ID) bool
	Rights(pid id.ProcessID, rid region.ID) (credential.Flags, bool)
}

// Manager holds the window tables of every process.
type Manager struct {
	reg                      *region.Registry
	auth                     Authority
	count                    int
	ownerMapWhileTransferred bool
	tables                   map[id.ProcessID][]*Mapping
}

// NewManager creates a manager giving each process count slots.
func NewManager(reg *region.Registry, auth Authority, count int) *Manager {
	return &Manager{
		reg:    reg,
		auth:   auth,
		count:  count,
		tables: make(map[id.ProcessID][]*Mapping),
	}
}

// WithOwnerMapWhileTransferred lets the owner map a buffer it no longer
// manages.
func (m *Manager) WithOwnerMapWhileTransferred(allow bool) *Manager {
	m.ownerMapWhileTransferred = allow
	return m
}

// Count returns the number of slots per process.
func (m *Manager) Count() int { return m.count }

func (m *Manager) table(pid id.ProcessID) []*Mapping {
	t, ok := m.tables[pid]
	if !ok {
		t = make([]*Mapping, m.count)
		m.tables[pid] = t
	}
	return t
}

func (m *Manager) validSlot(slot int) bool { return slot >= 0 && slot < m.count }

// Map binds rid, as seen by app, into slot of pid.
func (m *Manager) Map(pid id.ProcessID, app string, slot int, rid region.ID) status.Status {
	if !m.validSlot(slot) {
		return status.ErrParam
	}
	reg, st := m.reg.Lookup(app, rid)
	if st.IsError() {
		return st
	}

	var access Access
	switch reg.Kind {
	case region.KindPrivate:
		if reg.Owner != app {
			return status.ErrCredentials
		}
		access = Access{Read: reg.Read, Write: reg.Write}
	case region.KindSharedBuffer:
		if !m.auth.IsManager(pid, reg.ID) {
			if !m.ownerMapWhileTransferred || !m.auth.IsOwner(pid, reg.ID) {
				return status.ErrCredentials
			}
		}
		rights, _ := m.auth.Rights(pid, reg.ID)
		access = Access{Read: rights.Has(credential.Read), Write: rights.Has(credential.Write)}
	}
	if !access.Read {
		return status.ErrNotSupported
	}

	t := m.table(pid)
	if t[slot] != nil {
		return status.ErrInUse
	}
	for _, mp := range t {
		if mp != nil && mp.Region == reg {
			return status.ErrAlready
		}
	}
	t[slot] = &Mapping{Region: reg, Access: access}
	return status.OK
}

// Unmap empties slot. Unmapping an empty slot is a warning.
func (m *Manager) Unmap(pid id.ProcessID, slot int) status.Status {
	if !m.validSlot(slot) {
		return status.ErrParam
	}
	t := m.table(pid)
	if t[slot] == nil {
		return status.WarnAlready
	}
	t[slot] = nil
	return status.OK
}

// GetMapped returns the canonical ID of the region in slot.
func (m *Manager) GetMapped(pid id.ProcessID, slot int) (region.ID, status.Status) {
	if !m.validSlot(slot) {
		return region.Invalid, status.ErrParam
	}
	mp := m.table(pid)[slot]
	if mp == nil {
		return region.Invalid, status.ErrNotFound
	}
	return mp.Region.ID, status.OK
}

// Mapping returns the mapping in slot, if any.
func (m *Manager) Mapping(pid id.ProcessID, slot int) (Mapping, bool) {
	if !m.validSlot(slot) {
		return Mapping{}, false
	}
	mp := m.table(pid)[slot]
	if mp == nil {
		return Mapping{}, false
	}
	return *mp, true
}

// Read copies n bytes at off from the region mapped in slot.
func (m *Manager) Read(pid id.ProcessID, slot int, off, n uint32) ([]byte, status.Status) {
	mp, ok := m.Mapping(pid, slot)
	if !ok || !mp.Access.Read {
		return nil, status.FatalIllegalAccess
	}
	data, ok := mp.Region.ReadAt(off, n)
	if !ok {
		return nil, status.FatalIllegalAccess
	}
	return data, status.OK
}

// Write stores data at off in the region mapped in slot.
func (m *Manager) Write(pid id.ProcessID, slot int, off uint32, data []byte) status.Status {
	mp, ok := m.Mapping(pid, slot)
	if !ok || !mp.Access.Write {
		return status.FatalIllegalAccess
	}
	if !mp.Region.WriteAt(off, data) {
		return status.FatalIllegalAccess
	}
	return status.OK
}

// IsMapped reports whether pid has rid (a canonical ID) in any slot.
func (m *Manager) IsMapped(pid id.ProcessID, rid region.ID) bool {
	for _, mp := range m.tables[pid] {
		if mp != nil && mp.Region.ID == rid && mp.Region.Kind == region.KindSharedBuffer {
			return true
		}
	}
	return false
}

// ForceUnmap drops rid from the windows of pid. It reports whether a
// mapping was removed.
func (m *Manager) ForceUnmap(pid id.ProcessID, rid region.ID) bool {
	t, ok := m.tables[pid]
	if !ok {
		return false
	}
	for i, mp := range t {
		if mp != nil && mp.Region.ID == rid && mp.Region.Kind == region.KindSharedBuffer {
			t[i] = nil
			return true
		}
	}
	return false
}

// MappedBy returns the processes mapping the shared buffer rid.
func (m *Manager) MappedBy(rid region.ID) []id.ProcessID {
	var out []id.ProcessID
	for pid := range m.tables {
		if m.IsMapped(pid, rid) {
			out = append(out, pid)
		}
	}
	return out
}

// Slots returns the canonical region ID in every slot of pid.
func (m *Manager) Slots(pid id.ProcessID) []region.ID {
	out := make([]region.ID, m.count)
	for i, mp := range m.tables[pid] {
		if mp != nil {
			out[i] = mp.Region.ID
		}
	}
	return out
}

// ProcessTerminated releases every window of pid.
func (m *Manager) ProcessTerminated(pid id.ProcessID) {
	delete(m.tables, pid)
}
