// Package mpcapable implements the MP_CAPABLE handler: the three-way
// handshake that exchanges each side's 64-bit key and, once both are
// known, derives the session's IDSNs and creates the first subflow.
package mpcapable

import (
	"encoding/binary"

	"github.com/runZeroInc/mptcpstate/pkg/mptcpopt"
	"github.com/runZeroInc/mptcpstate/pkg/mstate"
	"github.com/runZeroInc/mptcpstate/pkg/vartable"
)

const (
	wireLenOneKey  = 12 // Kind+Length+Subtype/Ver+Flags+one 8-byte key
	wireLenTwoKeys = 20 // ... + a second 8-byte key
)

// Handle dispatches one MP_CAPABLE option on (direction, option
// length); the packet's SYN/ACK bits are not examined. live is only
// consulted for outbound options
// (it is the captured kernel packet); it may be nil for inbound-only
// dispatch.
func Handle(sess *mstate.Session, opt *mptcpopt.Option, live *mptcpopt.Packet, pkt *mptcpopt.Packet, dir mptcpopt.Direction) error {
	const op = "mpcapable"
	wireLen := opt.Len() + 2

	switch {
	case dir == mptcpopt.Inbound && wireLen == wireLenOneKey:
		return handleInboundOneKey(sess, opt, op)
	case dir == mptcpopt.Outbound && wireLen == wireLenOneKey:
		return handleOutboundOneKey(sess, opt, live, op)
	case wireLen == wireLenTwoKeys:
		return handleThirdStep(sess, opt, pkt, dir, op)
	default:
		return mstate.NewErr(mstate.OptionMalformed, op, "unrecognized MP_CAPABLE option length")
	}
}

// handleInboundOneKey covers the inbound SYN and inbound SYN/ACK: both
// ensure the harness key exists, then write it into the option.
func handleInboundOneKey(sess *mstate.Session, opt *mptcpopt.Option, op string) error {
	if err := ensureHarnessKey(sess, op); err != nil {
		return err
	}
	h, err := sess.PopHint(op)
	if err != nil {
		return err
	}
	if h.Key == nil {
		return mstate.NewErr(mstate.HintShape, op, "expected a key hint for the inbound MP_CAPABLE key field")
	}
	writeKey(opt.Data()[2:10], sess.HarnessKey())
	return nil
}

// handleOutboundOneKey covers the outbound SYN and SYN/ACK: extract
// the kernel's key from the live packet, bind it, write it into the
// scripted option, and count the observed segment.
func handleOutboundOneKey(sess *mstate.Session, opt *mptcpopt.Option, live *mptcpopt.Packet, op string) error {
	if err := extractAndSetKernelKey(sess, live, op); err != nil {
		return err
	}
	h, err := sess.PopHint(op)
	if err != nil {
		return err
	}
	if h.Key == nil {
		return mstate.NewErr(mstate.HintShape, op, "expected a key hint for the outbound MP_CAPABLE key field")
	}
	writeKey(opt.Data()[2:10], sess.KernelKey())
	sess.RemoteSSN++
	return nil
}

// handleThirdStep is the handshake's final packet, carrying both keys,
// after which IDSNs are derivable and the first subflow exists.
func handleThirdStep(sess *mstate.Session, opt *mptcpopt.Option, pkt *mptcpopt.Packet, dir mptcpopt.Direction, op string) error {
	harnessKey, err := popAndResolveKey(sess, op)
	if err != nil {
		return err
	}
	if err := sess.SetHarnessKey(op, harnessKey); err != nil {
		return err
	}

	kernelKey, err := popAndResolveKey(sess, op)
	if err != nil {
		return err
	}
	if err := sess.SetKernelKey(op, kernelKey); err != nil {
		return err
	}

	data := opt.Data()
	if len(data) < 18 {
		return mstate.NewErr(mstate.OptionMalformed, op, "MP_CAPABLE third-step option too short for two keys")
	}
	writeKey(data[2:10], sess.HarnessKey())
	writeKey(data[10:18], sess.KernelKey())

	sess.LastDSNRcvd = sess.KernelIDSN + uint64(sess.RemoteSSN)

	if dir == mptcpopt.Inbound {
		sess.Subflows.NewInbound(pkt, sess.AllocAddrID())
	} else {
		sess.Subflows.NewOutbound(pkt)
	}
	sess.Stats.MPCapableHandshakes++
	return nil
}

// ensureHarnessKey peeks (never pops) the front hint: adopts a
// script-defined value if the hint names one, otherwise draws from the
// PRNG and registers an engine-generated variable. The hint stays
// queued until the key field is emitted.
func ensureHarnessKey(sess *mstate.Session, op string) error {
	h, ok := sess.Hints.Peek()
	if !ok {
		return mstate.NewErr(mstate.HintMissing, op, "no hint available for harness key")
	}
	if h.Key == nil {
		return mstate.NewErr(mstate.HintShape, op, "expected a key hint")
	}
	if v, bound := sess.Vars.Lookup(h.Key.Name); bound && v.Kind == vartable.KindKey && v.ScriptDefined {
		return sess.SetHarnessKey(op, v.Key())
	}
	if !sess.HarnessKeyBound() {
		key := sess.NextRandom64()
		if err := sess.SetHarnessKey(op, key); err != nil {
			return err
		}
		sess.Vars.Bind(vartable.NewEngineGeneratedKey(h.Key.Name, sess.HarnessKeyRef()))
	}
	return nil
}

// extractAndSetKernelKey peeks the front hint: adopts a script-defined
// value if named, otherwise reads the key off the live (captured)
// option and binds it under the hinted name.
func extractAndSetKernelKey(sess *mstate.Session, live *mptcpopt.Packet, op string) error {
	h, ok := sess.Hints.Peek()
	if !ok {
		return mstate.NewErr(mstate.HintMissing, op, "no hint available for kernel key")
	}
	if h.Key == nil {
		return mstate.NewErr(mstate.HintShape, op, "expected a key hint")
	}
	if v, bound := sess.Vars.Lookup(h.Key.Name); bound && v.Kind == vartable.KindKey && v.ScriptDefined {
		return sess.SetKernelKey(op, v.Key())
	}
	liveOpt, err := findMPCapableOption(live)
	if err != nil {
		return err
	}
	data := liveOpt.Data()
	if len(data) < 10 {
		return mstate.NewErr(mstate.OptionMalformed, op, "live MP_CAPABLE option too short")
	}
	key := readKey(data[2:10])
	if err := sess.SetKernelKey(op, key); err != nil {
		return err
	}
	sess.Vars.Bind(vartable.NewEngineGeneratedKey(h.Key.Name, sess.KernelKeyRef()))
	return nil
}

func popAndResolveKey(sess *mstate.Session, op string) (uint64, error) {
	h, err := sess.PopHint(op)
	if err != nil {
		return 0, err
	}
	if h.Key == nil {
		return 0, mstate.NewErr(mstate.HintShape, op, "expected a key hint")
	}
	v, bound := sess.Vars.Lookup(h.Key.Name)
	if !bound {
		return 0, mstate.NewErr(mstate.UnknownVar, op, "key hint names an unbound variable: "+h.Key.Name)
	}
	return v.Key(), nil
}

func findMPCapableOption(live *mptcpopt.Packet) (*mptcpopt.Option, error) {
	if live == nil {
		return nil, mstate.NewErr(mstate.OptionMalformed, "mpcapable", "no live packet available for outbound extraction")
	}
	for _, o := range live.Options() {
		subtype, err := mptcpopt.Subtype(o.Data())
		if err == nil && subtype == mptcpopt.SubtypeMPCapable {
			return o, nil
		}
	}
	return nil, mstate.NewErr(mstate.OptionMalformed, "mpcapable", "live packet carries no MP_CAPABLE option")
}

func writeKey(dst []byte, key uint64) {
	binary.BigEndian.PutUint64(dst, key)
}

func readKey(src []byte) uint64 {
	return binary.BigEndian.Uint64(src)
}
