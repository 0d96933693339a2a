// Package mptcpstate is the public entry point of the session-state
// engine: an Engine wraps exactly one session and exposes Process, the
// single packet-in/error-out call a harness drives its capture loop
// with.
package mptcpstate

import (
	"github.com/runZeroInc/mptcpstate/pkg/dss"
	"github.com/runZeroInc/mptcpstate/pkg/hints"
	"github.com/runZeroInc/mptcpstate/pkg/mpcapable"
	"github.com/runZeroInc/mptcpstate/pkg/mpjoin"
	"github.com/runZeroInc/mptcpstate/pkg/mptcpopt"
	"github.com/runZeroInc/mptcpstate/pkg/mstate"
	"github.com/rs/xid"
)

// Engine is one running test session. RunID identifies the session
// in log lines; it is not attached to metric labels.
type Engine struct {
	RunID   string
	Session *mstate.Session
}

// NewEngine starts a fresh session seeded for deterministic PRNG draws.
func NewEngine(seed int64) *Engine {
	return &Engine{
		RunID:   xid.New().String(),
		Session: mstate.New(seed),
	}
}

// Hints exposes the engine's hint queue, the parser-facing inbound
// API.
func (e *Engine) Hints() *hints.Queue {
	return e.Session.Hints
}

// Process dispatches every MPTCP option on toModify, in wire order,
// single-pass, never reordering or skipping options. live is the
// captured kernel packet corresponding
// to an outbound toModify, consulted only by handlers that extract
// fields off it (MP_CAPABLE OC-1, MP_JOIN's outbound steps); it may be
// nil for inbound-only dispatch. The first error aborts processing of
// the remaining options on this packet and is returned to the caller.
func (e *Engine) Process(toModify, live *mptcpopt.Packet, dir mptcpopt.Direction) error {
	if _, err := toModify.AddressFamily(); err != nil {
		e.Session.Stats.Errors++
		return mstate.NewErr(mstate.AddressFamilyUnsupported, "process", err.Error())
	}
	for _, opt := range toModify.Options() {
		if err := e.dispatchOption(opt, live, toModify, dir); err != nil {
			e.Session.Stats.Errors++
			return err
		}
	}
	return nil
}

func (e *Engine) dispatchOption(opt *mptcpopt.Option, live, pkt *mptcpopt.Packet, dir mptcpopt.Direction) error {
	subtype, err := mptcpopt.Subtype(opt.Data())
	if err != nil {
		return mstate.NewErr(mstate.OptionMalformed, "dispatch", err.Error())
	}

	switch subtype {
	case mptcpopt.SubtypeMPCapable:
		return mpcapable.Handle(e.Session, opt, live, pkt, dir)
	case mptcpopt.SubtypeMPJoin:
		return mpjoin.Handle(e.Session, opt, live, pkt, dir)
	case mptcpopt.SubtypeDSS:
		return dss.Handle(e.Session, opt, live, pkt, dir)
	case mptcpopt.SubtypeAddAddr, mptcpopt.SubtypeRemoveAddr, mptcpopt.SubtypeMPPrio:
		return mstate.NewErr(mstate.ScriptProtocolViolation, "dispatch", "subtype acknowledged, no handler")
	default:
		return mstate.NewErr(mstate.ScriptProtocolViolation, "dispatch", "unknown MPTCP option subtype")
	}
}
