// Package status defines the closed result-code taxonomy returned by every
// kernel entry point.
//
// A Status pairs a Nature (how bad) with a Reason (why). Info and Warning
// statuses mean the call succeeded; Error means it was rejected with no state
// change; Fatal means the calling process broke a rule and is terminated.
//
// Example Usage:
//
//	st := proc.Map(0, bundleID)
//	if st.IsError() {
//	    logger.Warn("map rejected", zap.Stringer("status", st))
//	}
package status

import (
	"errors"
	"fmt"
	"strings"
)

// Nature classifies the outcome of a call.
type Nature uint8

const (
	Info Nature = iota
	Warning
	Error
	Fatal
)

var natureNames = [...]string{"INFO", "WARN", "ERR", "FATAL"}

func (n Nature) String() string {
	if int(n) < len(natureNames) {
		return natureNames[n]
	}
	return fmt.Sprintf("NATURE(%d)", uint8(n))
}

// Reason names the cause of a status.
type Reason uint8

const (
	ReasonOK Reason = iota
	ReasonAlready
	ReasonInUse
	ReasonNotFound
	ReasonCredentials
	ReasonNotSupported
	ReasonParam
	ReasonNoResource
	ReasonWouldBlock
	ReasonTimeout
	ReasonTerminated
	ReasonStateInvalid
	ReasonAborted
	ReasonIllegalAccess
)

var reasonNames = [...]string{
	"OK",
	"ALREADY",
	"IN_USE",
	"NOT_FOUND",
	"CREDENTIALS",
	"NOT_SUPPORTED",
	"PARAM",
	"NO_RESOURCE",
	"WOULD_BLOCK",
	"TIMEOUT",
	"TERMINATED",
	"STATE_INVALID",
	"ABORTED",
	"ILLEGAL_ACCESS",
}

func (r Reason) String() string {
	if int(r) < len(reasonNames) {
		return reasonNames[r]
	}
	return fmt.Sprintf("REASON(%d)", uint8(r))
}

// Status is the result of a kernel call. It implements error so callers can
// propagate it through ordinary Go error paths; OK is a value, not nil.
type Status struct {
	Nature Nature
	Reason Reason
}

// OK is the plain success status.
var OK = Status{Nature: Info, Reason: ReasonOK}

// Constructors
func Warn(r Reason) Status     { return Status{Nature: Warning, Reason: r} }
func Err(r Reason) Status      { return Status{Nature: Error, Reason: r} }
func FatalErr(r Reason) Status { return Status{Nature: Fatal, Reason: r} }

// Common statuses
var (
	WarnAlready = Warn(ReasonAlready)
	WarnInUse   = Warn(ReasonInUse)

	ErrAlready      = Err(ReasonAlready)
	ErrInUse        = Err(ReasonInUse)
	ErrNotFound     = Err(ReasonNotFound)
	ErrCredentials  = Err(ReasonCredentials)
	ErrNotSupported = Err(ReasonNotSupported)
	ErrParam        = Err(ReasonParam)
	ErrNoResource   = Err(ReasonNoResource)
	ErrWouldBlock   = Err(ReasonWouldBlock)
	ErrTimeout      = Err(ReasonTimeout)
	ErrTerminated   = Err(ReasonTerminated)
	ErrStateInvalid = Err(ReasonStateInvalid)
	ErrAborted      = Err(ReasonAborted)

	FatalIllegalAccess = FatalErr(ReasonIllegalAccess)
	FatalStateInvalid  = FatalErr(ReasonStateInvalid)
)

func (s Status) Error() string  { return s.String() }
func (s Status) String() string { return s.Nature.String() + "_" + s.Reason.String() }

// IsOK reports whether s is exactly INFO_OK.
func (s Status) IsOK() bool { return s == OK }

// IsInfo reports whether s has the Info nature.
func (s Status) IsInfo() bool { return s.Nature == Info }

// IsInfoOrWarning reports whether the call succeeded.
func (s Status) IsInfoOrWarning() bool { return s.Nature <= Warning }

// IsError reports whether the call was rejected (Error or Fatal).
func (s Status) IsError() bool { return s.Nature >= Error }

// IsFatal reports whether the call terminated its caller.
func (s Status) IsFatal() bool { return s.Nature == Fatal }

// ToFatal upgrades an Error status to Fatal, keeping the reason.
func (s Status) ToFatal() Status {
	if s.Nature == Error {
		s.Nature = Fatal
	}
	return s
}

// MarshalText renders the status as NATURE_REASON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses the NATURE_REASON form.
func (s *Status) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Parse parses a status string such as "ERR_NOT_FOUND".
func Parse(str string) (Status, error) {
	natureStr, reasonStr, ok := strings.Cut(str, "_")
	if !ok {
		return Status{}, fmt.Errorf("invalid status %q", str)
	}
	var st Status
	found := false
	for i, name := range natureNames {
		if name == natureStr {
			st.Nature = Nature(i)
			found = true
			break
		}
	}
	if !found {
		return Status{}, fmt.Errorf("invalid status nature %q", natureStr)
	}
	for i, name := range reasonNames {
		if name == reasonStr {
			st.Reason = Reason(i)
			return st, nil
		}
	}
	return Status{}, fmt.Errorf("invalid status reason %q", reasonStr)
}

// From extracts a Status from err. Nil maps to OK; foreign errors map to
// ERR_ABORTED.
func From(err error) Status {
	if err == nil {
		return OK
	}
	var st Status
	if errors.As(err, &st) {
		return st
	}
	return ErrAborted
}
