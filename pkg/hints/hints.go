// Package hints models the FIFO of script hints the (external) script
// parser emits: one entry per MPTCP option mention, consumed in packet
// order by the handlers in pkg/mpcapable, pkg/mpjoin and pkg/dss.
package hints

import "errors"

// ErrEmpty is returned by Pop when the queue has nothing left to give;
// this is a scripting error, not an engine bug.
var ErrEmpty = errors.New("hints: queue is empty")

// TokenSourceKind selects how an MP_JOIN hint's receiver_token is
// supplied.
type TokenSourceKind int

const (
	// TokenAuto derives the token from the kernel key (sha1_low32) and
	// the address id from the session's next_addr_id allocator.
	TokenAuto TokenSourceKind = iota
	// TokenLiteral supplies a literal 32-bit token.
	TokenLiteral
	// TokenVarName supplies the token via a previously-bound variable.
	TokenVarName
)

// KeyHint names a variable to associate with the next key field
// encountered (an MP_CAPABLE key, or a SCRIPT_DEFINED DSS DACK). MP_JOIN
// steps take an MPJoinHint instead.
type KeyHint struct {
	Name string
}

// MPJoinHint carries the per-direction fields the parser extracted for
// a forthcoming MP_JOIN SYN. Presence of AddressID/Rand is signalled by
// the accompanying bool; TokenSource selects which of Token/VarName is
// meaningful.
type MPJoinHint struct {
	AddressID      uint8
	AddressIDIsSet bool

	TokenSource TokenSourceKind
	Token       uint32 // valid when TokenSource == TokenLiteral
	VarName     string // valid when TokenSource == TokenVarName

	Rand      uint32
	RandIsSet bool
}

// Hint is a single FIFO entry: exactly one of Key/Join is non-nil.
type Hint struct {
	Key  *KeyHint
	Join *MPJoinHint
}

// Queue is a strict FIFO. It is not safe for concurrent use; a session
// is driven from a single thread.
type Queue struct {
	items []Hint
}

// New returns an empty hint queue.
func New() *Queue {
	return &Queue{}
}

// PushKeyHint enqueues a key hint naming a variable for the next key
// field encountered.
func (q *Queue) PushKeyHint(name string) {
	q.items = append(q.items, Hint{Key: &KeyHint{Name: name}})
}

// PushMPJoinHint enqueues an MP_JOIN hint for the next MP_JOIN SYN.
func (q *Queue) PushMPJoinHint(h MPJoinHint) {
	q.items = append(q.items, Hint{Join: &h})
}

// Peek returns the front hint without removing it. ok is false if the
// queue is empty.
func (q *Queue) Peek() (Hint, bool) {
	if len(q.items) == 0 {
		return Hint{}, false
	}
	return q.items[0], true
}

// Pop removes and returns the front hint, or ErrEmpty if none remain.
func (q *Queue) Pop() (Hint, error) {
	if len(q.items) == 0 {
		return Hint{}, ErrEmpty
	}
	h := q.items[0]
	q.items = q.items[1:]
	return h, nil
}

// Len reports the number of hints still queued.
func (q *Queue) Len() int {
	return len(q.items)
}
