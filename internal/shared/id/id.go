// Package id provides centralized ID generation for the isolation kernel.
//
// This package offers type-safe ULID generation with:
//   - Lexicographic sortability: process identities sort by creation time
//   - Prefixed types: Type-specific prefixes for debugging (proc_*, req_*)
//   - Type safety: Separate types prevent ID misuse
//   - Never reused: a terminated process identity is never handed out again
//
// Reserved process identities (Owner, Any, Kernel, Myself) are plain words
// without a ULID part and therefore never collide with generated ones.
package id

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// ============================================================================
// Type-Safe ID Wrappers
// ============================================================================

// ProcessID identifies one process instance for its whole lifetime.
type ProcessID string

// RequestID identifies an API request
type RequestID string

// SessionID identifies one kernel boot (a "session")
type SessionID string

// ============================================================================
// ID Prefixes (for debugging and type identification)
// ============================================================================

const (
	ProcessPrefix = "proc"
	RequestPrefix = "req"
	SessionPrefix = "sess"
)

// ============================================================================
// Reserved Process Identities
// ============================================================================

const (
	// Invalid is the zero process identity.
	Invalid ProcessID = ""
	// Owner designates the owner of a region, whether or not it is running.
	Owner ProcessID = "owner"
	// Any matches every sender in a receive.
	Any ProcessID = "any"
	// Kernel is the sender of kernel-originated messages.
	Kernel ProcessID = "kernel"
	// Myself designates the calling process.
	Myself ProcessID = "myself"
)

// ============================================================================
// ULID Generator (Primary)
// ============================================================================

// Generator generates ULIDs with optional prefixes
type Generator struct {
	entropy   io.Reader
	entropyMu sync.Mutex // Protects entropy reader
	last      ulid.ULID
}

var (
	defaultGenerator *Generator
	once             sync.Once
)

// Default returns the singleton generator instance
func Default() *Generator {
	once.Do(func() {
		defaultGenerator = NewGenerator()
	})
	return defaultGenerator
}

// NewGenerator creates a new ULID generator
func NewGenerator() *Generator {
	return &Generator{
		entropy: rand.Reader,
	}
}

// NewGeneratorWithEntropy creates a generator with custom entropy source
// Useful for testing with deterministic entropy
func NewGeneratorWithEntropy(entropy io.Reader) *Generator {
	return &Generator{
		entropy: entropy,
	}
}

// Generate creates a new ULID, strictly greater than the previous one from
// this generator.
func (g *Generator) Generate() ulid.ULID {
	g.entropyMu.Lock()
	defer g.entropyMu.Unlock()

	next := ulid.MustNew(ulid.Timestamp(time.Now()), g.entropy)
	if next.Compare(g.last) <= 0 {
		// same millisecond with lower entropy; bump past the previous value
		next = g.last
		for i := len(next) - 1; i >= 0; i-- {
			next[i]++
			if next[i] != 0 {
				break
			}
		}
	}
	g.last = next
	return next
}

// GenerateString creates a new ULID as a string
func (g *Generator) GenerateString() string {
	return g.Generate().String()
}

// GenerateWithPrefix creates a prefixed ULID string
func (g *Generator) GenerateWithPrefix(prefix string) string {
	return fmt.Sprintf("%s_%s", prefix, g.GenerateString())
}

// NewProcessID generates a process identity from g.
func (g *Generator) NewProcessID() ProcessID {
	return ProcessID(g.GenerateWithPrefix(ProcessPrefix))
}

// ============================================================================
// Typed ID Generators
// ============================================================================

// NewProcessID generates a new process identity
func NewProcessID() ProcessID {
	return Default().NewProcessID()
}

// NewRequestID generates a new request ID
func NewRequestID() RequestID {
	return RequestID(Default().GenerateWithPrefix(RequestPrefix))
}

// NewSessionID generates a new kernel session ID
func NewSessionID() SessionID {
	return SessionID(SessionPrefix + "_" + uuid.NewString())
}

// ============================================================================
// Type Conversion and Validation
// ============================================================================

func (id ProcessID) String() string { return string(id) }
func (id RequestID) String() string { return string(id) }
func (id SessionID) String() string { return string(id) }

// IsReserved reports whether id is one of the reserved identities.
func (id ProcessID) IsReserved() bool {
	switch id {
	case Invalid, Owner, Any, Kernel, Myself:
		return true
	}
	return false
}

// ParseProcessID validates s as a generated or reserved process identity.
func ParseProcessID(s string) (ProcessID, error) {
	pid := ProcessID(s)
	if pid.IsReserved() && pid != Invalid {
		return pid, nil
	}
	rest, ok := strings.CutPrefix(s, ProcessPrefix+"_")
	if !ok || !IsValid(rest) {
		return Invalid, fmt.Errorf("invalid process id %q", s)
	}
	return pid, nil
}

// IsValid checks if an ID string is a valid ULID
func IsValid(id string) bool {
	_, err := ulid.Parse(id)
	return err == nil
}

// Parse parses a ULID string
func Parse(id string) (ulid.ULID, error) {
	return ulid.Parse(id)
}

// Timestamp extracts the timestamp from a ULID, with or without prefix
func Timestamp(id string) (time.Time, error) {
	if i := strings.LastIndexByte(id, '_'); i >= 0 {
		id = id[i+1:]
	}
	parsed, err := Parse(id)
	if err != nil {
		return time.Time{}, err
	}
	return ulid.Time(parsed.Time()), nil
}
