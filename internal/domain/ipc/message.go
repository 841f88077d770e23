package ipc

import (
	"fmt"
	"math/bits"
	"strings"

	"github.com/GriffinCanCode/AgentOS/isolation/internal/shared/id"
)

// DataSize is the largest raw data payload.
const DataSize = 44

// BitmapBits is the width of coalescing bitmaps.
const BitmapBits = 256

// TimeoutMax is the largest timeout, in ticks.
const TimeoutMax = 1<<24 - 1

// Nature tags a message.
type Nature uint8

const (
	NatureData Nature = iota
	NatureIRQ
	NatureNotification
	NatureSignal
)

var natureNames = [...]string{"data", "irq", "notification", "signal"}

func (n Nature) String() string {
	if int(n) < len(natureNames) {
		return natureNames[n]
	}
	return fmt.Sprintf("nature(%d)", uint8(n))
}

// Filter selects the natures a receive accepts. Signals are always
// accepted.
type Filter uint8

const (
	FilterData Filter = 1 << iota
	FilterIRQ
	FilterNotification

	FilterAll = FilterData | FilterIRQ | FilterNotification
)

// Accepts reports whether f lets nature n through.
func (f Filter) Accepts(n Nature) bool {
	switch n {
	case NatureSignal:
		return true
	case NatureData:
		return f&FilterData != 0
	case NatureIRQ:
		return f&FilterIRQ != 0
	case NatureNotification:
		return f&FilterNotification != 0
	}
	return false
}

// ParseFilter converts nature names into a filter.
func ParseFilter(names []string) (Filter, error) {
	var f Filter
	for _, n := range names {
		switch strings.ToLower(n) {
		case "data":
			f |= FilterData
		case "irq":
			f |= FilterIRQ
		case "notification":
			f |= FilterNotification
		case "all":
			f |= FilterAll
		default:
			return 0, fmt.Errorf("unknown filter %q", n)
		}
	}
	return f, nil
}

// Kernel signals.
const (
	SignalChildTerminated  = 0
	SignalParentTerminated = 1
)

// Bitmap is a 256-bit coalescing set.
type Bitmap [BitmapBits / 64]uint64

func (b *Bitmap) Set(bit int)     { b[bit/64] |= 1 << (bit % 64) }
func (b Bitmap) Has(bit int) bool { return b[bit/64]&(1<<(bit%64)) != 0 }
func (b Bitmap) IsZero() bool     { return b == Bitmap{} }

// Bits lists the set bits in ascending order.
func (b Bitmap) Bits() []int {
	var out []int
	for w, word := range b {
		for word != 0 {
			i := bits.TrailingZeros64(word)
			out = append(out, w*64+i)
			word &^= 1 << i
		}
	}
	return out
}

// Mode controls one send or receive.
type Mode struct {
	SendBlocking    bool
	ReceiveBlocking bool
	Filter          Filter
	// Timeout in ticks; zero waits forever. Ignored when polling.
	Timeout uint32
}

func (m Mode) valid() bool {
	return m.Filter&^FilterAll == 0 && m.Timeout <= TimeoutMax
}

// Message is what a receive returns.
type Message struct {
	Nature Nature       `json:"nature"`
	Label  uint16       `json:"label"`
	Sender id.ProcessID `json:"sender"`
	// SentAt is in microseconds since the kernel booted.
	SentAt uint64 `json:"sent_at_us"`
	Data   []byte `json:"data,omitempty"`
	Bitmap Bitmap `json:"-"`
}

// Bits returns the set bits of a bitmap message.
func (m Message) Bits() []int { return m.Bitmap.Bits() }
