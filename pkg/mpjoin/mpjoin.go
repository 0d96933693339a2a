// Package mpjoin implements the MP_JOIN handler: the per-subflow
// handshake (SYN, SYN/ACK, ACK) that authenticates a new subflow into
// an existing MPTCP session via HMAC-SHA1.
package mpjoin

import (
	"encoding/binary"

	"github.com/runZeroInc/mptcpstate/pkg/hints"
	"github.com/runZeroInc/mptcpstate/pkg/mcrypto"
	"github.com/runZeroInc/mptcpstate/pkg/mptcpopt"
	"github.com/runZeroInc/mptcpstate/pkg/mstate"
)

const (
	wireLenSYN    = 12 // Kind+Length+Subtype+AddrID+Token(4)+Rand(4)
	wireLenSynAck = 16 // Kind+Length+Subtype+AddrID+HMAC(8)+Rand(4)
	wireLenAck    = 24 // Kind+Length+Subtype/Reserved(2)+HMAC(20)
)

// Handle dispatches one MP_JOIN option on (direction, SYN, ACK,
// option length). Each exchange consumes exactly one hint, at its SYN
// step.
func Handle(sess *mstate.Session, opt *mptcpopt.Option, live, pkt *mptcpopt.Packet, dir mptcpopt.Direction) error {
	const op = "mpjoin"
	wireLen := opt.Len() + 2
	syn, ack := pkt.SYN(), pkt.ACK()

	switch {
	case syn && !ack && wireLen == wireLenSYN:
		return handleSYN(sess, opt, live, pkt, dir, op)
	case syn && ack && wireLen == wireLenSynAck:
		return handleSynAck(sess, opt, live, pkt, dir, op)
	case !syn && ack && wireLen == wireLenAck:
		return handleAck(sess, opt, pkt, dir, op)
	default:
		return mstate.NewErr(mstate.OptionMalformed, op, "unrecognized MP_JOIN option shape")
	}
}

func handleSYN(sess *mstate.Session, opt *mptcpopt.Option, live, pkt *mptcpopt.Packet, dir mptcpopt.Direction, op string) error {
	h, err := sess.PopHint(op)
	if err != nil {
		return err
	}
	if h.Join == nil {
		return mstate.NewErr(mstate.HintShape, op, "expected an MP_JOIN hint at the SYN step")
	}

	if dir == mptcpopt.Outbound {
		// Token/rand/address-id come from the live (captured) option;
		// the hint is stashed for the rest of this exchange's steps.
		liveOpt, err := findMPJoinSYNOption(live)
		if err != nil {
			return err
		}
		liveData := liveOpt.Data()
		if len(liveData) < 10 {
			return mstate.NewErr(mstate.OptionMalformed, op, "live MP_JOIN SYN option too short")
		}
		sf := sess.Subflows.NewOutbound(pkt)
		sf.SYNHint = *h.Join
		sf.KernelAddrID = liveData[1]
		sf.KernelRand = binary.BigEndian.Uint32(liveData[6:10])
		sf.KernelRandIsSet = true

		data := opt.Data()
		if len(data) < 10 {
			return mstate.NewErr(mstate.OptionMalformed, op, "MP_JOIN SYN option too short")
		}
		data[1] = liveData[1]
		copy(data[2:10], liveData[2:10])
		return nil
	}

	addrID := sess.AllocAddrID()
	if h.Join.AddressIDIsSet {
		addrID = h.Join.AddressID
	}

	var token uint32
	switch h.Join.TokenSource {
	case hints.TokenAuto:
		if !sess.KernelKeyBound() {
			return mstate.NewErr(mstate.ScriptProtocolViolation, op, "kernel key not bound before auto MP_JOIN token derivation")
		}
		token = mcrypto.Sha1Low32(sess.KernelKey())
	case hints.TokenLiteral:
		token = h.Join.Token
	case hints.TokenVarName:
		v, bound := sess.Vars.Lookup(h.Join.VarName)
		if !bound {
			return mstate.NewErr(mstate.UnknownVar, op, "MP_JOIN token variable not bound: "+h.Join.VarName)
		}
		token = uint32(v.Key())
	default:
		return mstate.NewErr(mstate.HintShape, op, "unrecognized MP_JOIN token source")
	}

	rand := sess.NextRandom32()
	if h.Join.RandIsSet {
		rand = h.Join.Rand
	}

	sf := sess.Subflows.NewInbound(pkt, addrID)
	sf.SYNHint = *h.Join
	sf.HarnessRand = rand
	sf.HarnessRandIsSet = true

	data := opt.Data()
	if len(data) < 10 {
		return mstate.NewErr(mstate.OptionMalformed, op, "MP_JOIN SYN option too short")
	}
	data[1] = addrID
	binary.BigEndian.PutUint32(data[2:6], token)
	binary.BigEndian.PutUint32(data[6:10], rand)
	return nil
}

func handleSynAck(sess *mstate.Session, opt *mptcpopt.Option, live, pkt *mptcpopt.Packet, dir mptcpopt.Direction, op string) error {
	sf, ok := sess.Subflows.FindByFourTuple(dir, pkt)
	if !ok {
		return mstate.NewErr(mstate.NoSubflow, op, "no subflow matches this MP_JOIN SYN/ACK")
	}

	if dir == mptcpopt.Outbound {
		liveOpt, err := findMPJoinOption(live, wireLenSynAck)
		if err != nil {
			return err
		}
		data := liveOpt.Data()
		if len(data) < 14 {
			return mstate.NewErr(mstate.OptionMalformed, op, "live MP_JOIN SYN/ACK option too short")
		}
		sf.KernelAddrID = data[1]
		sf.KernelRand = binary.BigEndian.Uint32(data[10:14])
		sf.KernelRandIsSet = true

		key := mcrypto.NewHMACKey(sess.KernelKey(), sess.HarnessKey())
		msg := mcrypto.HMACMsg(sf.KernelRand, sf.HarnessRand)
		hmacTag := mcrypto.HMACSHA1Trunc64(key, msg)

		outData := opt.Data()
		if len(outData) < 14 {
			return mstate.NewErr(mstate.OptionMalformed, op, "scripted MP_JOIN SYN/ACK option too short")
		}
		outData[1] = sf.KernelAddrID
		binary.BigEndian.PutUint64(outData[2:10], hmacTag)
		binary.BigEndian.PutUint32(outData[10:14], sf.KernelRand)
		return nil
	}

	// The exchange's one hint was consumed at the SYN step and stashed
	// on the subflow; its overrides carry through to this step.
	addrID := sess.AllocAddrID()
	if sf.SYNHint.AddressIDIsSet {
		addrID = sf.SYNHint.AddressID
	}
	rand := sess.NextRandom32()
	if sf.SYNHint.RandIsSet {
		rand = sf.SYNHint.Rand
	}
	sf.HarnessRand = rand
	sf.HarnessRandIsSet = true

	key := mcrypto.NewHMACKey(sess.HarnessKey(), sess.KernelKey())
	msg := mcrypto.HMACMsg(sf.HarnessRand, sf.KernelRand)
	hmacTag := mcrypto.HMACSHA1Trunc64(key, msg)

	data := opt.Data()
	if len(data) < 14 {
		return mstate.NewErr(mstate.OptionMalformed, op, "MP_JOIN SYN/ACK option too short")
	}
	data[1] = addrID
	binary.BigEndian.PutUint64(data[2:10], hmacTag)
	binary.BigEndian.PutUint32(data[10:14], sf.HarnessRand)
	return nil
}

func handleAck(sess *mstate.Session, opt *mptcpopt.Option, pkt *mptcpopt.Packet, dir mptcpopt.Direction, op string) error {
	sf, ok := sess.Subflows.FindByFourTuple(dir, pkt)
	if !ok {
		return mstate.NewErr(mstate.NoSubflow, op, "no subflow matches this MP_JOIN ACK")
	}
	if !sf.HarnessRandIsSet || !sf.KernelRandIsSet {
		return mstate.NewErr(mstate.ScriptProtocolViolation, op, "both rands must be known before the MP_JOIN ACK HMAC can be computed")
	}

	var key mcrypto.HMACKey
	var msg []byte
	if dir == mptcpopt.Inbound {
		key = mcrypto.NewHMACKey(sess.HarnessKey(), sess.KernelKey())
		msg = mcrypto.HMACMsg(sf.HarnessRand, sf.KernelRand)
	} else {
		key = mcrypto.NewHMACKey(sess.KernelKey(), sess.HarnessKey())
		msg = mcrypto.HMACMsg(sf.KernelRand, sf.HarnessRand)
	}
	tag := mcrypto.HMACSHA1Full(key, msg)

	data := opt.Data()
	if len(data) < 22 {
		return mstate.NewErr(mstate.OptionMalformed, op, "MP_JOIN ACK option too short for a 20-byte HMAC")
	}
	copy(data[2:22], tag[:])
	sess.Stats.MPJoinHandshakes++
	return nil
}

func findMPJoinSYNOption(live *mptcpopt.Packet) (*mptcpopt.Option, error) {
	return findMPJoinOption(live, wireLenSYN)
}

func findMPJoinOption(live *mptcpopt.Packet, wireLen int) (*mptcpopt.Option, error) {
	if live == nil {
		return nil, mstate.NewErr(mstate.OptionMalformed, "mpjoin", "no live packet available for outbound extraction")
	}
	for _, o := range live.Options() {
		subtype, err := mptcpopt.Subtype(o.Data())
		if err == nil && subtype == mptcpopt.SubtypeMPJoin && o.Len()+2 == wireLen {
			return o, nil
		}
	}
	return nil, mstate.NewErr(mstate.OptionMalformed, "mpjoin", "live packet carries no matching MP_JOIN option")
}
