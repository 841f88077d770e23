// Package region implements the region registry: every address block the
// bundle declares, its fixed placement and its backing memory.
//
// The registry is built once at boot and its layout never changes. Owners
// are apps, not processes, so a region outlives any process of its app.
package region

import (
	"fmt"
	"math/bits"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/manifest"
	"github.com/GriffinCanCode/AgentOS/isolation/internal/domain/status"
)

// Kind distinguishes private blocks from transferable buffers.
type Kind uint8

const (
	KindPrivate Kind = iota
	KindSharedBuffer
)

func (k Kind) String() string {
	if k == KindSharedBuffer {
		return "shared_buffer"
	}
	return "private"
}

// Region is one declared address block.
type Region struct {
	// ID is the canonical identifier: BundleID for shared buffers, the
	// owner-local extra ID for private blocks.
	ID     ID
	Kind   Kind
	Owner  string
	Label  string
	Start  uint32
	Length uint32
	// Read and Write are the declared rights of a private block.
	Read  bool
	Write bool

	mem []byte
}

// ReadAt copies n bytes at off. It returns false when the range falls
// outside the region.
func (r *Region) ReadAt(off, n uint32) ([]byte, bool) {
	if !r.contains(off, n) {
		return nil, false
	}
	out := make([]byte, n)
	copy(out, r.mem[off:off+n])
	return out, true
}

// WriteAt stores data at off. It returns false when the range falls outside
// the region.
func (r *Region) WriteAt(off uint32, data []byte) bool {
	if !r.contains(off, uint32(len(data))) || uint64(len(data)) > uint64(r.Length) {
		return false
	}
	copy(r.mem[off:], data)
	return true
}

func (r *Region) contains(off, n uint32) bool {
	return uint64(off)+uint64(n) <= uint64(r.Length)
}

type appRegions struct {
	extra  []*Region
	shared []*Region
	labels map[string]ID
}

// Registry holds the regions of a bundle.
type Registry struct {
	apps   map[string]*appRegions
	shared []*Region
}

// NewRegistry lays out the regions of b. Shared buffers are placed from
// base upward, each aligned to its length rounded up to a power of two.
func NewRegistry(b *manifest.Bundle, base uint32) (*Registry, error) {
	r := &Registry{apps: make(map[string]*appRegions, len(b.Apps))}
	cursor := uint64(base)

	for _, app := range b.Apps {
		ar := &appRegions{labels: make(map[string]ID)}
		for i, eb := range app.ExtraBlocks {
			reg := &Region{
				ID:     MakeID(NatureExtra, i),
				Kind:   KindPrivate,
				Owner:  app.Name,
				Label:  eb.Label,
				Start:  eb.Start,
				Length: eb.Length,
				Read:   eb.Read,
				Write:  eb.Write,
				mem:    make([]byte, eb.Length),
			}
			ar.extra = append(ar.extra, reg)
			ar.labels[eb.Label] = reg.ID
		}
		for i, sb := range app.SharedBuffers {
			align := uint64(1) << bits.Len32(sb.Length-1)
			cursor = (cursor + align - 1) &^ (align - 1)
			if cursor+uint64(sb.Length) > 1<<32 {
				return nil, fmt.Errorf("shared buffer %s/%s does not fit in the address space", app.Name, sb.Label)
			}
			reg := &Region{
				ID:     MakeID(NatureBundle, len(r.shared)+1),
				Kind:   KindSharedBuffer,
				Owner:  app.Name,
				Label:  sb.Label,
				Start:  uint32(cursor),
				Length: sb.Length,
				Read:   true,
				Write:  true,
				mem:    make([]byte, sb.Length),
			}
			cursor += uint64(sb.Length)
			r.shared = append(r.shared, reg)
			ar.shared = append(ar.shared, reg)
			ar.labels[sb.Label] = MakeID(NatureSharedBufferIndex, i)
		}
		r.apps[app.Name] = ar
	}
	return r, nil
}

// Resolve returns the app-local ID of the region declared under label by
// app.
func (r *Registry) Resolve(app, label string) (ID, status.Status) {
	ar, ok := r.apps[app]
	if !ok {
		return Invalid, status.ErrNotFound
	}
	id, ok := ar.labels[label]
	if !ok {
		return Invalid, status.ErrNotFound
	}
	return id, status.OK
}

// BundleID converts an app-local shared buffer ID into its bundle-wide ID.
// A BundleID is returned unchanged.
func (r *Registry) BundleID(app string, id ID) (ID, status.Status) {
	if !id.Valid() {
		return Invalid, status.ErrParam
	}
	switch id.Nature() {
	case NatureBundle:
		if _, ok := r.Shared(id); !ok {
			return Invalid, status.ErrParam
		}
		return id, status.OK
	case NatureSharedBufferIndex:
		ar, ok := r.apps[app]
		if !ok || id.Index() >= len(ar.shared) {
			return Invalid, status.ErrParam
		}
		return ar.shared[id.Index()].ID, status.OK
	}
	return Invalid, status.ErrNotSupported
}

// Lookup resolves id as seen by app. Extra IDs resolve against the app's
// own blocks; SharedBufferIndex IDs are not addressable and yield
// NotSupported.
func (r *Registry) Lookup(app string, id ID) (*Region, status.Status) {
	if !id.Valid() {
		return nil, status.ErrParam
	}
	switch id.Nature() {
	case NatureExtra:
		ar, ok := r.apps[app]
		if !ok || id.Index() >= len(ar.extra) {
			return nil, status.ErrParam
		}
		return ar.extra[id.Index()], status.OK
	case NatureBundle:
		reg, ok := r.Shared(id)
		if !ok {
			return nil, status.ErrParam
		}
		return reg, status.OK
	}
	return nil, status.ErrNotSupported
}

// Shared returns the shared buffer with the given BundleID.
func (r *Registry) Shared(id ID) (*Region, bool) {
	if id.Nature() != NatureBundle {
		return nil, false
	}
	i := id.Index() - 1
	if i < 0 || i >= len(r.shared) {
		return nil, false
	}
	return r.shared[i], true
}

// SharedBuffers returns every shared buffer in BundleID order.
func (r *Registry) SharedBuffers() []*Region {
	return append([]*Region(nil), r.shared...)
}

// Private returns the extra blocks declared by app.
func (r *Registry) Private(app string) []*Region {
	ar, ok := r.apps[app]
	if !ok {
		return nil
	}
	return append([]*Region(nil), ar.extra...)
}
