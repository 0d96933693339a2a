// Package dss implements the DSS handler: resolution of the Data
// Sequence Signal option's DACK/DSN/SSN/checksum fields across its
// four/eight-byte sub-layouts (RFC 6824 §3.3).
package dss

import (
	"encoding/binary"

	"github.com/runZeroInc/mptcpstate/pkg/mcrypto"
	"github.com/runZeroInc/mptcpstate/pkg/mptcpopt"
	"github.com/runZeroInc/mptcpstate/pkg/mstate"
)

const (
	flagA  byte = 1 << 0 // DACK present
	flagA8 byte = 1 << 1 // DACK is 8 octets
	flagM  byte = 1 << 2 // DSN present
	flagM8 byte = 1 << 3 // DSN is 8 octets
)

// UndefinedDACK4 and ScriptDefinedDACK4 are the two reserved 4-byte
// DACK sentinel values a script fixture pre-fills the DACK field with
// when it wants the engine to resolve the value at dispatch time.
// Any other 4-byte value is treated as already pinned
// by the script and is left untouched. This convention applies only to
// the 4-byte DACK layout; an 8-byte DACK is always taken as a literal
// or variable-resolved value chosen ahead of time.
const (
	UndefinedDACK4     uint32 = 0xFFFFFFFF
	ScriptDefinedDACK4 uint32 = 0xFFFFFFFE
)

// UndefinedDSN4 and UndefinedDSN8 are the all-ones sentinels marking an
// inbound DSN field the engine should fill; any other value is a
// script-pinned literal and is left untouched.
const (
	UndefinedDSN4 uint32 = 0xFFFFFFFF
	UndefinedDSN8 uint64 = 0xFFFFFFFFFFFFFFFF
)

// Handle dispatches one DSS option. live is unused (DSS has no
// live-packet extraction step, unlike MP_CAPABLE/MP_JOIN outbound
// steps) and is accepted only so the dispatcher can call every handler
// with the same signature.
func Handle(sess *mstate.Session, opt *mptcpopt.Option, live, pkt *mptcpopt.Packet, dir mptcpopt.Direction) error {
	const op = "dss"
	data := opt.Data()
	if len(data) < 2 {
		return mstate.NewErr(mstate.OptionMalformed, op, "DSS option too short to carry flags")
	}
	flags := data[1]
	hasA, a8 := flags&flagA != 0, flags&flagA8 != 0
	hasM, m8 := flags&flagM != 0, flags&flagM8 != 0

	pos := 2
	var dackOff, dackLen int
	if hasA {
		dackLen = 4
		if a8 {
			dackLen = 8
		}
		dackOff = pos
		pos += dackLen
	}

	var dsnOff, dsnLen, ssnOff, dllOff, checksumOff int
	hasChecksum := false
	if hasM {
		dsnLen = 4
		if m8 {
			dsnLen = 8
		}
		dsnOff = pos
		pos += dsnLen
		ssnOff = pos
		pos += 4
		dllOff = pos
		pos += 2

		remaining := len(data) - pos
		switch remaining {
		case 0:
			hasChecksum = false
		case 2:
			hasChecksum = true
			checksumOff = pos
			pos += 2
		default:
			return mstate.NewErr(mstate.OptionMalformed, op, "DSS option length does not match its M/m flags")
		}
	}
	if pos != len(data) {
		return mstate.NewErr(mstate.OptionMalformed, op, "DSS option length does not match its A/a/M/m flags")
	}

	if hasA {
		if err := resolveDACK(sess, data, dackOff, dackLen, dir, op); err != nil {
			return err
		}
	}

	if hasM {
		sf, ok := sess.Subflows.FindByFourTuple(dir, pkt)
		if !ok {
			return mstate.NewErr(mstate.NoSubflow, op, "no subflow matches this DSS option")
		}
		if dir == mptcpopt.Outbound {
			dsn := readWidth(data[dsnOff:dsnOff+dsnLen], dsnLen)
			sess.LastDSNRcvd = dsn
			sess.RemoteSSN += uint32(pkt.Length)
		} else {
			if dsnUndefined(data[dsnOff:dsnOff+dsnLen], dsnLen) {
				writeWidth(data[dsnOff:dsnOff+dsnLen], dsnLen, currentDSN(sess, dsnLen))
			}
			binary.BigEndian.PutUint32(data[ssnOff:ssnOff+4], sf.SSN)
			binary.BigEndian.PutUint16(data[dllOff:dllOff+2], uint16(pkt.Length))
			sf.SSN += uint32(pkt.Length)
			if hasChecksum {
				sum := onesComplementSum(checksumPseudoHeader(data[dsnOff:dsnOff+dsnLen], dsnLen, data[ssnOff:ssnOff+4], data[dllOff:dllOff+2], pkt.Payload))
				binary.BigEndian.PutUint16(data[checksumOff:checksumOff+2], sum)
			}
		}
	}

	sess.Stats.DSSResolutions++
	return nil
}

func resolveDACK(sess *mstate.Session, data []byte, off, width int, dir mptcpopt.Direction, op string) error {
	if dir == mptcpopt.Outbound || width != 4 {
		return nil // literal/var-resolved value, nothing to fill at dispatch time
	}
	raw := binary.BigEndian.Uint32(data[off : off+4])
	switch raw {
	case UndefinedDACK4:
		binary.BigEndian.PutUint32(data[off:off+4], uint32(sess.LastDSNRcvd))
	case ScriptDefinedDACK4:
		h, err := sess.PopHint(op)
		if err != nil {
			return err
		}
		if h.Key == nil {
			return mstate.NewErr(mstate.HintShape, op, "expected a key hint to resolve SCRIPT_DEFINED DACK4")
		}
		v, bound := sess.Vars.Lookup(h.Key.Name)
		if !bound {
			return mstate.NewErr(mstate.UnknownVar, op, "DACK4 hint names an unbound variable: "+h.Key.Name)
		}
		key := v.Key()
		low32 := mcrypto.Sha1Low32(key)
		sess.KernelIDSN = uint64(low32)
		binary.BigEndian.PutUint32(data[off:off+4], low32+sess.RemoteSSN)
	}
	return nil
}

// currentDSN returns the value to write into an inbound DSN field,
// truncated to the field's wire width. The session keeps its running
// counters at full 64-bit precision; a 4-byte field wraps modulo 2^32,
// never a saturating clamp.
func currentDSN(sess *mstate.Session, width int) uint64 {
	idsn := sess.HarnessIDSN
	if width == 4 {
		return uint64(uint32(idsn))
	}
	return idsn
}

func dsnUndefined(b []byte, width int) bool {
	if width == 8 {
		return binary.BigEndian.Uint64(b) == UndefinedDSN8
	}
	return binary.BigEndian.Uint32(b) == UndefinedDSN4
}

func readWidth(b []byte, width int) uint64 {
	if width == 8 {
		return binary.BigEndian.Uint64(b)
	}
	return uint64(binary.BigEndian.Uint32(b))
}

func writeWidth(b []byte, width int, v uint64) {
	if width == 8 {
		binary.BigEndian.PutUint64(b, v)
		return
	}
	binary.BigEndian.PutUint32(b, uint32(v))
}

// checksumPseudoHeader zero-extends a 4-byte DSN to 8 bytes so the
// pseudo-header is always the same 16-byte shape regardless of which
// DSN width is on the wire, then appends the segment's own data bytes.
// RFC 6824 §3.3's checksum covers pseudo-header {dsn, ssn, dll, 0}
// plus the data, the same way TCP's own checksum extends a
// pseudo-header over the segment payload.
func checksumPseudoHeader(dsn []byte, dsnLen int, ssn, dll, payload []byte) []byte {
	var dsn8 [8]byte
	if dsnLen == 8 {
		copy(dsn8[:], dsn)
	} else {
		copy(dsn8[4:], dsn)
	}
	buf := make([]byte, 0, 16+len(payload))
	buf = append(buf, dsn8[:]...)
	buf = append(buf, ssn...)
	buf = append(buf, dll...)
	buf = append(buf, 0, 0) // checksum placeholder
	buf = append(buf, payload...)
	return buf
}

// onesComplementSum is TCP's own checksum algorithm (RFC 793 §3.1):
// pairwise 16-bit one's-complement addition with end-around carry.
func onesComplementSum(b []byte) uint16 {
	var sum uint32
	for i := 0; i+1 < len(b); i += 2 {
		sum += uint32(b[i])<<8 | uint32(b[i+1])
	}
	if len(b)%2 == 1 {
		sum += uint32(b[len(b)-1]) << 8
	}
	for sum > 0xFFFF {
		sum = (sum & 0xFFFF) + (sum >> 16)
	}
	return ^uint16(sum)
}
