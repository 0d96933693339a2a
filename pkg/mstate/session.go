// Package mstate is the session-global state of one MPTCP test run:
// the key pair, derived IDSNs, the address-ID allocator, running
// DSN/SSN counters, the hint FIFO, the variable table and the subflow
// registry. Every operation takes a *Session explicitly, so a harness
// process can run more than one MPTCP session concurrently simply by
// holding more than one Session.
package mstate

import (
	"math/rand"

	"github.com/runZeroInc/mptcpstate/pkg/hints"
	"github.com/runZeroInc/mptcpstate/pkg/mcrypto"
	"github.com/runZeroInc/mptcpstate/pkg/subflow"
	"github.com/runZeroInc/mptcpstate/pkg/vartable"
)

// Stats are the counters pkg/exporter publishes via Prometheus. Field
// tags are consumed by cmd/metrics-gen to generate the collector.
type Stats struct {
	HintsPopped         uint64 `prom:"mptcp_hints_popped_total,counter,total script hints consumed"`
	MPCapableHandshakes uint64 `prom:"mptcp_capable_handshakes_total,counter,completed MP_CAPABLE three-way handshakes"`
	MPJoinHandshakes    uint64 `prom:"mptcp_join_handshakes_total,counter,completed MP_JOIN subflow handshakes"`
	DSSResolutions      uint64 `prom:"mptcp_dss_resolutions_total,counter,DSS options resolved"`
	Errors              uint64 `prom:"mptcp_errors_total,counter,processing errors returned by Process"`
}

// Session is one MPTCP test run's state.
type Session struct {
	harnessKey      uint64
	harnessKeyBound bool
	kernelKey       uint64
	kernelKeyBound  bool

	HarnessIDSN uint64
	KernelIDSN  uint64
	idsnValid   bool

	LastDSNRcvd uint64
	RemoteSSN   uint32
	NextAddrID  uint8

	Hints    *hints.Queue
	Vars     *vartable.Table
	Subflows *subflow.Registry

	rng *rand.Rand

	Stats Stats
}

// New returns a fresh session whose PRNG draws are reproducible from
// the seed the harness provides.
func New(seed int64) *Session {
	return &Session{
		Hints:    hints.New(),
		Vars:     vartable.New(),
		Subflows: subflow.New(),
		rng:      rand.New(rand.NewSource(seed)),
	}
}

// NextRandom32 draws a fresh 32-bit value from the session's seeded
// PRNG, used for harness-side nonces.
func (s *Session) NextRandom32() uint32 {
	return s.rng.Uint32()
}

// NextRandom64 draws a fresh 64-bit value, used for harness-side keys.
func (s *Session) NextRandom64() uint64 {
	return s.rng.Uint64()
}

// HarnessKeyBound and KernelKeyBound report whether the respective key
// has been bound yet.
func (s *Session) HarnessKeyBound() bool { return s.harnessKeyBound }
func (s *Session) KernelKeyBound() bool  { return s.kernelKeyBound }

// HarnessKey and KernelKey return the bound key value. Callers must
// check the Bound accessor first.
func (s *Session) HarnessKey() uint64 { return s.harnessKey }
func (s *Session) KernelKey() uint64  { return s.kernelKey }

// HarnessKeyRef and KernelKeyRef expose a non-owning pointer into this
// session's key storage, for pkg/vartable's engine-generated variables,
// which reference session storage instead of owning a copy. Callers
// must never write through these pointers; mutation is only ever done
// via SetHarnessKey/SetKernelKey.
func (s *Session) HarnessKeyRef() *uint64 { return &s.harnessKey }
func (s *Session) KernelKeyRef() *uint64  { return &s.kernelKey }

// SetHarnessKey binds the harness key. A rebind to the same value is a
// no-op; a rebind to a different value is a KeyConflict.
func (s *Session) SetHarnessKey(op string, key uint64) error {
	if s.harnessKeyBound {
		if s.harnessKey != key {
			return newErr(KeyConflict, op, "harness_key already bound to a different value")
		}
		return nil
	}
	s.harnessKey = key
	s.harnessKeyBound = true
	s.maybeDeriveIDSNs()
	return nil
}

// SetKernelKey binds the kernel key, with the same idempotency rule as
// SetHarnessKey.
func (s *Session) SetKernelKey(op string, key uint64) error {
	if s.kernelKeyBound {
		if s.kernelKey != key {
			return newErr(KeyConflict, op, "kernel_key already bound to a different value")
		}
		return nil
	}
	s.kernelKey = key
	s.kernelKeyBound = true
	s.maybeDeriveIDSNs()
	return nil
}

// maybeDeriveIDSNs derives both IDSNs exactly once, the instant both
// keys become bound. Until then they stay zero and invalid.
func (s *Session) maybeDeriveIDSNs() {
	if s.idsnValid || !s.harnessKeyBound || !s.kernelKeyBound {
		return
	}
	s.HarnessIDSN = mcrypto.Sha1Low64(s.harnessKey)
	s.KernelIDSN = mcrypto.Sha1Low64(s.kernelKey)
	s.idsnValid = true
}

// IDSNsValid reports whether both IDSNs have been derived.
func (s *Session) IDSNsValid() bool { return s.idsnValid }

// AllocAddrID hands out the next harness-side address identifier,
// strictly monotonically.
func (s *Session) AllocAddrID() uint8 {
	id := s.NextAddrID
	s.NextAddrID++
	return id
}

// PopHint pops the next script hint, counting it in Stats, or returns
// a HintMissing error when the script declared fewer MPTCP options
// than the packets need.
func (s *Session) PopHint(op string) (hints.Hint, error) {
	h, err := s.Hints.Pop()
	if err != nil {
		return hints.Hint{}, newErr(HintMissing, op, "script hint queue is empty")
	}
	s.Stats.HintsPopped++
	return h, nil
}

// NewErr is exported for handler packages (pkg/mpcapable, pkg/mpjoin,
// pkg/dss) to build *Error values without duplicating the op/detail
// formatting.
func NewErr(kind ErrorKind, op, detail string) *Error {
	return newErr(kind, op, detail)
}
