package credential

import "strings"

// Flags is a set of rights on a shared buffer.
type Flags uint8

const (
	Read Flags = 1 << iota
	Write
	AddCredentials
	Transfer
)

// Grantable is every flag a grant may carry.
const Grantable = Read | Write | AddCredentials | Transfer

// all rights the owner holds implicitly
const ownerRights = Grantable

func (f Flags) Has(x Flags) bool { return f&x == x }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	var parts []string
	for _, p := range []struct {
		flag Flags
		name string
	}{{Read, "read"}, {Write, "write"}, {AddCredentials, "add_credentials"}, {Transfer, "transfer"}} {
		if f.Has(p.flag) {
			parts = append(parts, p.name)
		}
	}
	return strings.Join(parts, "|")
}

// Names lists the flags in f; nil for none.
func (f Flags) Names() []string {
	if f == 0 {
		return nil
	}
	return strings.Split(f.String(), "|")
}

// ParseFlags converts flag names into a set. Unknown names yield ok=false.
func ParseFlags(names []string) (Flags, bool) {
	var f Flags
	for _, n := range names {
		switch strings.ToLower(n) {
		case "read", "r":
			f |= Read
		case "write", "w":
			f |= Write
		case "add_credentials", "add":
			f |= AddCredentials
		case "transfer", "t":
			f |= Transfer
		default:
			return 0, false
		}
	}
	return f, true
}
