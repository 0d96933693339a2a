package mstate

import "fmt"

// ErrorKind is the closed taxonomy of failures the engine can report.
// Every public entry point returns one of these, or nil.
type ErrorKind int

const (
	// HintMissing: a handler needs a hint and the FIFO is empty.
	HintMissing ErrorKind = iota
	// HintShape: the hint present does not match the handler's
	// expected shape.
	HintShape
	// UnknownVar: a hint references a variable name not yet bound.
	UnknownVar
	// KeyConflict: attempted rebind of an already-bound key to a
	// different value.
	KeyConflict
	// OptionMalformed: option length does not match any known
	// sub-layout for its subtype/flags.
	OptionMalformed
	// NoSubflow: a subflow lookup by four-tuple found nothing.
	NoSubflow
	// AddressFamilyUnsupported: packet has neither IPv4 nor IPv6.
	AddressFamilyUnsupported
	// ScriptProtocolViolation: otherwise-unreachable dispatch cases.
	ScriptProtocolViolation
)

func (k ErrorKind) String() string {
	switch k {
	case HintMissing:
		return "HintMissing"
	case HintShape:
		return "HintShape"
	case UnknownVar:
		return "UnknownVar"
	case KeyConflict:
		return "KeyConflict"
	case OptionMalformed:
		return "OptionMalformed"
	case NoSubflow:
		return "NoSubflow"
	case AddressFamilyUnsupported:
		return "AddressFamilyUnsupported"
	case ScriptProtocolViolation:
		return "ScriptProtocolViolation"
	default:
		return "Unknown"
	}
}

// Error is the concrete error type every handler returns. Op names the
// handler or stage that failed (e.g. "mpjoin", "dss", "dispatch"); Detail is a
// free-form human-readable description.
type Error struct {
	Kind   ErrorKind
	Op     string
	Detail string
}

func (e *Error) Error() string {
	return fmt.Sprintf("mptcpstate: %s: %s: %s", e.Op, e.Kind, e.Detail)
}

// Is supports errors.Is against the package-level sentinels below: two
// *Error values match if they carry the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// Sentinel values for errors.Is(err, mstate.ErrHintMissing) style
// checks against a specific kind, independent of Op/Detail.
var (
	ErrHintMissing              = &Error{Kind: HintMissing}
	ErrHintShape                = &Error{Kind: HintShape}
	ErrUnknownVar               = &Error{Kind: UnknownVar}
	ErrKeyConflict              = &Error{Kind: KeyConflict}
	ErrOptionMalformed          = &Error{Kind: OptionMalformed}
	ErrNoSubflow                = &Error{Kind: NoSubflow}
	ErrAddressFamilyUnsupported = &Error{Kind: AddressFamilyUnsupported}
	ErrScriptProtocolViolation  = &Error{Kind: ScriptProtocolViolation}
)

// newErr builds an *Error for a given op/detail.
func newErr(kind ErrorKind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}
