// Package credential implements the credential table of every shared buffer
// and the protocol that moves management rights between processes.
//
// Ownership is fixed to the declaring app. Management starts with the owner
// and moves by Transfer to the owner or to a process holding an entry.
// Entries are fixed-capacity, set once, and cleared only all together by
// the owner (Reset) or by the forced return that follows the termination of
// the managing process.
//
// The Manager is not safe for concurrent use: the kernel serializes every
// call under its own lock.
package credential

import (
	"go.uber.org/zap"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/infrastructure/logging"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// Processes answers liveness questions about processes.
type Processes interface {
	// AppOf returns the app of a live process.
	AppOf(pid id.ProcessID) (string, bool)
	// PIDOf returns the live process of app.
	PIDOf(app string) (id.ProcessID, bool)
}

// Mappings exposes window state to the transfer protocol.
type Mappings interface {
	IsMapped(pid id.ProcessID, rid region.ID) bool
	ForceUnmap(pid id.ProcessID, rid region.ID) bool
}

// ResetPolicy selects what Reset does to a buffer that is transferred away.
type ResetPolicy string

const (
	ResetPreserve ResetPolicy = "preserve"
	ResetRevoke   ResetPolicy = "revoke"
)

// State of a shared buffer with respect to management.
type State uint8

const (
	Owned State = iota
	Transferred
)

func (s State) String() string {
	if s == Transferred {
		return "transferred"
	}
	return "owned"
}

// Entry is one credential grant.
type Entry struct {
	Holder id.ProcessID `json:"holder"`
	Flags  Flags        `json:"flags"`
	// Inert entries belong to terminated holders: they still occupy their
	// slot but can never be used.
	Inert bool `json:"inert"`
}

type table struct {
	region  *region.Region
	manager id.ProcessID // id.Owner while owned
	entries []Entry      // Holder == id.Invalid marks a free slot
}

// Manager holds the credential tables of every shared buffer.
type Manager struct {
	procs    Processes
	maps     Mappings
	capacity int
	policy   ResetPolicy
	tables   map[region.ID]*table
	order    []region.ID
	logger   *logging.Logger
}

// NewManager creates one table of the given capacity per shared buffer of
// reg.
func NewManager(reg *region.Registry, procs Processes, capacity int, policy ResetPolicy) *Manager {
	m := &Manager{
		procs:    procs,
		capacity: capacity,
		policy:   policy,
		tables:   make(map[region.ID]*table),
		logger:   logging.NewNop(),
	}
	for _, r := range reg.SharedBuffers() {
		m.tables[r.ID] = &table{
			region:  r,
			manager: id.Owner,
			entries: make([]Entry, capacity),
		}
		m.order = append(m.order, r.ID)
	}
	return m
}

// WithMappings links the window state used by Transfer and Reset.
func (m *Manager) WithMappings(maps Mappings) *Manager {
	m.maps = maps
	return m
}

// WithLogger sets the logger.
func (m *Manager) WithLogger(logger *logging.Logger) *Manager {
	m.logger = logger.Named("credential")
	return m
}

func (m *Manager) lookup(rid region.ID) (*table, status.Status) {
	if !rid.Valid() {
		return nil, status.ErrParam
	}
	if rid.Nature() != region.NatureBundle {
		return nil, status.ErrNotSupported
	}
	t, ok := m.tables[rid]
	if !ok {
		return nil, status.ErrParam
	}
	return t, status.OK
}

func (m *Manager) isOwner(pid id.ProcessID, t *table) bool {
	app, ok := m.procs.AppOf(pid)
	return ok && app == t.region.Owner
}

func (t *table) entry(pid id.ProcessID) *Entry {
	if pid == id.Invalid {
		return nil
	}
	for i := range t.entries {
		if t.entries[i].Holder == pid {
			return &t.entries[i]
		}
	}
	return nil
}

func (t *table) liveEntry(pid id.ProcessID) *Entry {
	e := t.entry(pid)
	if e == nil || e.Inert {
		return nil
	}
	return e
}

func (t *table) clear(keep id.ProcessID) {
	for i := range t.entries {
		if keep != id.Invalid && t.entries[i].Holder == keep {
			continue
		}
		t.entries[i] = Entry{}
	}
}

// IsManager reports whether pid currently manages rid.
func (m *Manager) IsManager(pid id.ProcessID, rid region.ID) bool {
	t, ok := m.tables[rid]
	if !ok {
		return false
	}
	if t.manager == id.Owner {
		return m.isOwner(pid, t)
	}
	return t.manager == pid
}

// IsOwner reports whether pid is the live process of rid's owner app.
func (m *Manager) IsOwner(pid id.ProcessID, rid region.ID) bool {
	t, ok := m.tables[rid]
	return ok && m.isOwner(pid, t)
}

// IsHolder reports whether pid holds a live entry on rid.
func (m *Manager) IsHolder(pid id.ProcessID, rid region.ID) bool {
	t, ok := m.tables[rid]
	return ok && t.liveEntry(pid) != nil
}

// Rights returns the rights pid holds on rid. The owner holds every right.
func (m *Manager) Rights(pid id.ProcessID, rid region.ID) (Flags, bool) {
	t, ok := m.tables[rid]
	if !ok {
		return 0, false
	}
	if m.isOwner(pid, t) {
		return ownerRights, true
	}
	if e := t.liveEntry(pid); e != nil {
		return e.Flags, true
	}
	return 0, false
}

// Manager returns the raw manager of rid: id.Owner while owned.
func (m *Manager) Manager(rid region.ID) (id.ProcessID, bool) {
	t, ok := m.tables[rid]
	if !ok {
		return id.Invalid, false
	}
	return t.manager, true
}

// State returns whether rid is owned or transferred.
func (m *Manager) State(rid region.ID) State {
	if t, ok := m.tables[rid]; ok && t.manager != id.Owner {
		return Transferred
	}
	return Owned
}

// Grant adds an entry for holder on rid. The caller must be the owner, or
// the manager holding AddCredentials.
func (m *Manager) Grant(caller id.ProcessID, rid region.ID, holder id.ProcessID, flags Flags) status.Status {
	t, st := m.lookup(rid)
	if st.IsError() {
		return st
	}
	if flags == 0 || flags&^Grantable != 0 {
		return status.ErrParam
	}
	if !m.isOwner(caller, t) {
		if t.manager != caller {
			return status.ErrCredentials
		}
		if e := t.liveEntry(caller); e == nil || !e.Flags.Has(AddCredentials) {
			return status.ErrCredentials
		}
	}

	holderApp, ok := m.procs.AppOf(holder)
	if !ok {
		return status.ErrNotFound
	}
	if holderApp == t.region.Owner || holder == t.manager {
		return status.ErrNotSupported
	}
	if t.entry(holder) != nil {
		return status.ErrAlready
	}
	for i := range t.entries {
		if t.entries[i].Holder == id.Invalid {
			t.entries[i] = Entry{Holder: holder, Flags: flags}
			m.logger.Debug("credentials granted",
				logging.Region(t.region.Label),
				zap.Stringer("holder", holder),
				zap.Stringer("flags", flags),
			)
			return status.OK
		}
	}
	return status.ErrNoResource
}

// Reset clears the entries of rid. Only the owner may reset.
//
// On a transferred buffer the configured policy applies: ResetPreserve keeps
// the manager's entry, management and mapping; ResetRevoke clears every
// entry, tears down the manager's mapping and returns management to the
// owner. Either way WarnInUse tells the caller the buffer was in use by its
// manager.
func (m *Manager) Reset(caller id.ProcessID, rid region.ID) status.Status {
	t, st := m.lookup(rid)
	if st.IsError() {
		return st
	}
	if !m.isOwner(caller, t) {
		return status.ErrCredentials
	}
	if t.manager == id.Owner {
		t.clear(id.Invalid)
		return status.OK
	}

	mgr := t.manager
	mapped := m.maps != nil && m.maps.IsMapped(mgr, rid)
	switch m.policy {
	case ResetRevoke:
		if mapped {
			m.maps.ForceUnmap(mgr, rid)
		}
		t.clear(id.Invalid)
		t.manager = id.Owner
		m.logger.Info("management revoked by reset",
			logging.Region(t.region.Label),
			zap.Stringer("manager", mgr),
		)
		return status.WarnInUse
	default:
		t.clear(mgr)
		return status.WarnInUse
	}
}

// Transfer hands management of rid to dest: id.Owner, the owner's process,
// or a live holder.
func (m *Manager) Transfer(caller id.ProcessID, rid region.ID, dest id.ProcessID) status.Status {
	t, st := m.lookup(rid)
	if st.IsError() {
		return st
	}
	if !m.IsManager(caller, rid) {
		return status.ErrCredentials
	}
	callerIsOwner := t.manager == id.Owner

	target := dest
	if dest != id.Owner {
		app, ok := m.procs.AppOf(dest)
		if !ok {
			return status.ErrNotFound
		}
		if app == t.region.Owner {
			target = id.Owner
		} else if t.liveEntry(dest) == nil {
			return status.ErrNotFound
		}
	}
	if target == t.manager {
		return status.WarnAlready
	}
	if !callerIsOwner {
		if target != id.Owner {
			if e := t.liveEntry(caller); e == nil || !e.Flags.Has(Transfer) {
				return status.ErrCredentials
			}
		}
		if m.maps != nil && m.maps.IsMapped(caller, rid) {
			return status.ErrInUse
		}
	}

	t.manager = target
	m.logger.Info("shared buffer transferred",
		logging.Region(t.region.Label),
		zap.Stringer("from", caller),
		zap.Stringer("to", target),
	)
	return status.OK
}

// ProcessTerminated returns every buffer pid managed to its owner, clearing
// all entries, and marks the entries pid held as inert.
func (m *Manager) ProcessTerminated(pid id.ProcessID) {
	for _, rid := range m.order {
		t := m.tables[rid]
		if t.manager == pid {
			if m.maps != nil {
				m.maps.ForceUnmap(pid, rid)
			}
			t.manager = id.Owner
			t.clear(id.Invalid)
			m.logger.Info("shared buffer returned to owner",
				logging.Region(t.region.Label),
				zap.Stringer("manager", pid),
			)
			continue
		}
		if e := t.entry(pid); e != nil {
			e.Inert = true
		}
	}
}

// Info is a read-only view of one credential table.
type Info struct {
	Region  region.ID    `json:"region"`
	Label   string       `json:"label"`
	Owner   string       `json:"owner"`
	Manager id.ProcessID `json:"manager"`
	State   string       `json:"state"`
	Entries []Entry      `json:"entries"`
}

// Describe returns a view of rid's table.
func (m *Manager) Describe(rid region.ID) (Info, bool) {
	t, ok := m.tables[rid]
	if !ok {
		return Info{}, false
	}
	info := Info{
		Region:  rid,
		Label:   t.region.Label,
		Owner:   t.region.Owner,
		Manager: t.manager,
		State:   m.State(rid).String(),
	}
	for _, e := range t.entries {
		if e.Holder != id.Invalid {
			info.Entries = append(info.Entries, e)
		}
	}
	return info, true
}

// All returns a view of every table in BundleID order.
func (m *Manager) All() []Info {
	out := make([]Info, 0, len(m.order))
	for _, rid := range m.order {
		info, _ := m.Describe(rid)
		out = append(out, info)
	}
	return out
}
