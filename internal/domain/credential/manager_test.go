package credential

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/manifest"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/region"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

type fakeProcs struct {
	apps map[id.ProcessID]string
}

func (f *fakeProcs) AppOf(pid id.ProcessID) (string, bool) {
	app, ok := f.apps[pid]
	return app, ok
}

func (f *fakeProcs) PIDOf(app string) (id.ProcessID, bool) {
	for pid, a := range f.apps {
		if a == app {
			return pid, true
		}
	}
	return id.Invalid, false
}

func (f *fakeProcs) kill(pid id.ProcessID) { delete(f.apps, pid) }

type fakeMaps struct {
	mapped map[id.ProcessID]map[region.ID]bool
}

func (f *fakeMaps) IsMapped(pid id.ProcessID, rid region.ID) bool { return f.mapped[pid][rid] }

func (f *fakeMaps) ForceUnmap(pid id.ProcessID, rid region.ID) bool {
	was := f.mapped[pid][rid]
	delete(f.mapped[pid], rid)
	return was
}

func (f *fakeMaps) mapIn(pid id.ProcessID, rid region.ID) {
	if f.mapped[pid] == nil {
		f.mapped[pid] = make(map[region.ID]bool)
	}
	f.mapped[pid][rid] = true
}

type fixture struct {
	m     *Manager
	procs *fakeProcs
	maps  *fakeMaps
	buf   region.ID
	owner id.ProcessID
	a     id.ProcessID
	b     id.ProcessID
	c     id.ProcessID
}

func newFixture(t *testing.T, policy ResetPolicy) *fixture {
	t.Helper()
	bundle := &manifest.Bundle{Apps: []*manifest.App{
		{Name: "owner", SharedBuffers: []*manifest.SharedBuffer{{Label: "buf", Length: 64}}},
		{Name: "a"}, {Name: "b"}, {Name: "c"},
	}}
	reg, err := region.NewRegistry(bundle, 0x20000000)
	require.NoError(t, err)

	f := &fixture{
		owner: id.NewProcessID(),
		a:     id.NewProcessID(),
		b:     id.NewProcessID(),
		c:     id.NewProcessID(),
		maps:  &fakeMaps{mapped: make(map[id.ProcessID]map[region.ID]bool)},
	}
	f.procs = &fakeProcs{apps: map[id.ProcessID]string{f.owner: "owner", f.a: "a", f.b: "b", f.c: "c"}}
	f.m = NewManager(reg, f.procs, 2, policy).WithMappings(f.maps)
	f.buf = reg.SharedBuffers()[0].ID
	return f
}

func TestGrantRules(t *testing.T) {
	f := newFixture(t, ResetPreserve)

	assert.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|Write))
	// one grant per holder until reset
	assert.Equal(t, status.ErrAlready, f.m.Grant(f.owner, f.buf, f.a, Read))
	// the owner's rights cannot be changed
	assert.Equal(t, status.ErrNotSupported, f.m.Grant(f.owner, f.buf, f.owner, Read))
	// unknown holder
	assert.Equal(t, status.ErrNotFound, f.m.Grant(f.owner, f.buf, id.NewProcessID(), Read))
	// flags outside the grantable set, or none at all
	assert.Equal(t, status.ErrParam, f.m.Grant(f.owner, f.buf, f.b, Flags(0x10)))
	assert.Equal(t, status.ErrParam, f.m.Grant(f.owner, f.buf, f.b, 0))
	// non-manager
	assert.Equal(t, status.ErrCredentials, f.m.Grant(f.a, f.buf, f.b, Read))

	assert.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.b, Read))
	// capacity 2
	assert.Equal(t, status.ErrNoResource, f.m.Grant(f.owner, f.buf, f.c, Read))
}

func TestGrantRegionChecks(t *testing.T) {
	f := newFixture(t, ResetPreserve)

	assert.Equal(t, status.ErrParam, f.m.Grant(f.owner, region.Invalid, f.a, Read))
	assert.Equal(t, status.ErrNotSupported, f.m.Grant(f.owner, region.MakeID(region.NatureSharedBufferIndex, 0), f.a, Read))
	assert.Equal(t, status.ErrParam, f.m.Grant(f.owner, region.MakeID(region.NatureBundle, 99), f.a, Read))
}

func TestManagerNeedsAddCredentials(t *testing.T) {
	f := newFixture(t, ResetPreserve)

	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|Transfer))
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))

	assert.Equal(t, status.ErrCredentials, f.m.Grant(f.a, f.buf, f.b, Read))
	// the manager's own entry cannot be re-granted
	assert.Equal(t, status.ErrNotSupported, f.m.Grant(f.owner, f.buf, f.a, Read))
	// owner may still grant while transferred
	assert.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.b, Read))
}

func TestManagerWithAddCredentialsGrants(t *testing.T) {
	f := newFixture(t, ResetPreserve)

	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|AddCredentials))
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))
	assert.Equal(t, status.OK, f.m.Grant(f.a, f.buf, f.b, Read))
}

func TestTransferSucceedsOnlyToOwnerOrHolder(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|Transfer))

	assert.Equal(t, status.ErrNotFound, f.m.Transfer(f.owner, f.buf, f.b))
	assert.Equal(t, status.ErrNotFound, f.m.Transfer(f.owner, f.buf, id.NewProcessID()))
	assert.Equal(t, status.WarnAlready, f.m.Transfer(f.owner, f.buf, id.Owner))

	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))
	mgr, _ := f.m.Manager(f.buf)
	assert.Equal(t, f.a, mgr)
	assert.Equal(t, Transferred, f.m.State(f.buf))
	assert.True(t, f.m.IsManager(f.a, f.buf))
	assert.False(t, f.m.IsManager(f.owner, f.buf))

	// the owner is no longer manager
	assert.Equal(t, status.ErrCredentials, f.m.Transfer(f.owner, f.buf, id.Owner))

	// back to the owner through its pid
	require.Equal(t, status.OK, f.m.Transfer(f.a, f.buf, f.owner))
	assert.Equal(t, Owned, f.m.State(f.buf))
}

func TestTransferNeedsFlagExceptBackToOwner(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read))
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.b, Read))
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))

	assert.Equal(t, status.ErrCredentials, f.m.Transfer(f.a, f.buf, f.b))
	assert.Equal(t, status.OK, f.m.Transfer(f.a, f.buf, id.Owner))
}

func TestTransferToOwnerWhileOwnerTerminated(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read))
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))

	f.procs.kill(f.owner)
	f.m.ProcessTerminated(f.owner)

	assert.Equal(t, status.OK, f.m.Transfer(f.a, f.buf, id.Owner))
}

func TestTransferRejectedWhileMapped(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|Transfer))

	// the owner may transfer while mapping the buffer itself
	f.maps.mapIn(f.owner, f.buf)
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))

	f.maps.mapIn(f.a, f.buf)
	assert.Equal(t, status.ErrInUse, f.m.Transfer(f.a, f.buf, id.Owner))

	f.maps.ForceUnmap(f.a, f.buf)
	assert.Equal(t, status.OK, f.m.Transfer(f.a, f.buf, id.Owner))
}

func TestResetOwnerOnly(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read))

	assert.Equal(t, status.ErrCredentials, f.m.Reset(f.a, f.buf))
	assert.Equal(t, status.OK, f.m.Reset(f.owner, f.buf))
	assert.False(t, f.m.IsHolder(f.a, f.buf))

	// a new grant is possible after reset
	assert.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Write))
	rights, ok := f.m.Rights(f.a, f.buf)
	require.True(t, ok)
	assert.Equal(t, Write, rights)
}

func TestResetWhileTransferredPreserve(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|Transfer))
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.b, Read))
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))
	f.maps.mapIn(f.a, f.buf)

	assert.Equal(t, status.WarnInUse, f.m.Reset(f.owner, f.buf))

	// manager keeps management, its entry and its mapping
	assert.True(t, f.m.IsManager(f.a, f.buf))
	assert.True(t, f.m.IsHolder(f.a, f.buf))
	assert.True(t, f.maps.IsMapped(f.a, f.buf))
	assert.False(t, f.m.IsHolder(f.b, f.buf))
}

func TestResetWhileTransferredUnmappedPreserve(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|Transfer))
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))

	// transferred is enough; the manager need not have it mapped
	assert.Equal(t, status.WarnInUse, f.m.Reset(f.owner, f.buf))
	assert.True(t, f.m.IsManager(f.a, f.buf))
	assert.Equal(t, Transferred, f.m.State(f.buf))

	require.Equal(t, status.OK, f.m.Transfer(f.a, f.buf, id.Owner))
	assert.Equal(t, status.OK, f.m.Reset(f.owner, f.buf))
}

func TestResetWhileTransferredRevoke(t *testing.T) {
	f := newFixture(t, ResetRevoke)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|Transfer))
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))
	f.maps.mapIn(f.a, f.buf)

	assert.Equal(t, status.WarnInUse, f.m.Reset(f.owner, f.buf))

	assert.Equal(t, Owned, f.m.State(f.buf))
	assert.False(t, f.m.IsHolder(f.a, f.buf))
	assert.False(t, f.maps.IsMapped(f.a, f.buf))
	assert.True(t, f.m.IsManager(f.owner, f.buf))
}

func TestManagerTerminationReturnsBuffer(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read|Transfer|AddCredentials))
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.b, Read))
	require.Equal(t, status.OK, f.m.Transfer(f.owner, f.buf, f.a))

	f.procs.kill(f.a)
	f.m.ProcessTerminated(f.a)

	mgr, _ := f.m.Manager(f.buf)
	assert.Equal(t, id.Owner, mgr)
	info, ok := f.m.Describe(f.buf)
	require.True(t, ok)
	assert.Empty(t, info.Entries)
	assert.Equal(t, "owned", info.State)

	// the old manager can no longer act
	assert.Equal(t, status.ErrCredentials, f.m.Grant(f.a, f.buf, f.c, Read))
	assert.Equal(t, status.ErrCredentials, f.m.Transfer(f.a, f.buf, f.b))
}

func TestHolderTerminationLeavesInertEntry(t *testing.T) {
	f := newFixture(t, ResetPreserve)
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.a, Read))
	require.Equal(t, status.OK, f.m.Grant(f.owner, f.buf, f.b, Read))

	f.procs.kill(f.a)
	f.m.ProcessTerminated(f.a)

	info, _ := f.m.Describe(f.buf)
	require.Len(t, info.Entries, 2)
	assert.True(t, info.Entries[0].Inert)

	// the slot stays occupied and the dead holder cannot be targeted
	assert.Equal(t, status.ErrNoResource, f.m.Grant(f.owner, f.buf, f.c, Read))
	assert.Equal(t, status.ErrNotFound, f.m.Transfer(f.owner, f.buf, f.a))
}

func TestParseFlags(t *testing.T) {
	flags, ok := ParseFlags([]string{"read", "W", "transfer"})
	require.True(t, ok)
	assert.Equal(t, Read|Write|Transfer, flags)
	assert.Equal(t, "read|write|transfer", flags.String())

	_, ok = ParseFlags([]string{"execute"})
	assert.False(t, ok)
}
