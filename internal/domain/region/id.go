package region

import "fmt"

// ID references an address block. The top byte carries the nature, the low
// 24 bits an index whose meaning depends on the nature. The zero ID is
// invalid.
type ID uint32

// Nature tells how an ID is to be interpreted.
type Nature uint8

const (
	NatureInvalid Nature = iota
	// NatureExtra indexes the extra blocks of the caller's app.
	NatureExtra
	// NatureSharedBufferIndex indexes the shared buffers of the caller's app.
	NatureSharedBufferIndex
	// NatureBundle indexes the shared buffers of the whole bundle.
	NatureBundle
)

const (
	Invalid ID = 0

	natureShift = 24
	indexMask   = 1<<natureShift - 1
)

var natureNames = [...]string{"invalid", "extra", "shared_buffer_index", "bundle"}

func (n Nature) String() string {
	if int(n) < len(natureNames) {
		return natureNames[n]
	}
	return fmt.Sprintf("nature(%d)", uint8(n))
}

// MakeID builds an ID from a nature and an index.
func MakeID(n Nature, index int) ID {
	return ID(uint32(n)<<natureShift | uint32(index)&indexMask)
}

// Nature returns the nature encoded in id.
func (id ID) Nature() Nature {
	n := Nature(id >> natureShift)
	if n > NatureBundle {
		return NatureInvalid
	}
	return n
}

// Index returns the index encoded in id.
func (id ID) Index() int { return int(id & indexMask) }

// Valid reports whether id carries a known nature.
func (id ID) Valid() bool { return id != Invalid && id.Nature() != NatureInvalid }

func (id ID) String() string {
	return fmt.Sprintf("%s:%d", id.Nature(), id.Index())
}
