package dss

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/runZeroInc/mptcpstate/pkg/mptcpopt"
	"github.com/runZeroInc/mptcpstate/pkg/mstate"
	"github.com/runZeroInc/mptcpstate/pkg/vartable"
)

func dssOption(flags byte, dataLen int) (*layers.TCP, *mptcpopt.Option) {
	data := make([]byte, dataLen)
	data[0] = mptcpopt.SubtypeDSS << 4
	data[1] = flags
	tcp := &layers.TCP{
		SrcPort: 3000, DstPort: 4000,
		Options: []layers.TCPOption{
			{OptionType: mptcpopt.Kind, OptionData: data},
		},
	}
	return tcp, mptcpopt.NewOption(&tcp.Options[0])
}

func pkt(tcp *layers.TCP, payloadLen int) *mptcpopt.Packet {
	return mptcpopt.NewPacket(tcp, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), make([]byte, payloadLen))
}

func pktWithPayload(tcp *layers.TCP, payload []byte) *mptcpopt.Packet {
	return mptcpopt.NewPacket(tcp, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), payload)
}

func primedSession() *mstate.Session {
	sess := mstate.New(3)
	if err := sess.SetHarnessKey("setup", 0x1111111111111111); err != nil {
		panic(err)
	}
	if err := sess.SetKernelKey("setup", 0x2222222222222222); err != nil {
		panic(err)
	}
	sess.LastDSNRcvd = 0xABCDEF01
	p := pkt(&layers.TCP{SrcPort: 3000, DstPort: 4000}, 0)
	sess.Subflows.NewInbound(p, 0)
	return sess
}

// DSS inbound with an undefined DACK4 is filled with the highest
// data-level sequence seen from the kernel.
func TestDACKOnlyUndefinedFillsLastDSNRcvd(t *testing.T) {
	sess := primedSession()
	tcp, opt := dssOption(flagA, 6)
	binary.BigEndian.PutUint32(opt.Data()[2:6], UndefinedDACK4)

	if err := Handle(sess, opt, nil, pkt(tcp, 0), mptcpopt.Inbound); err != nil {
		t.Fatalf("DSS DACK-only inbound: %v", err)
	}
	got := binary.BigEndian.Uint32(opt.Data()[2:6])
	if got != uint32(sess.LastDSNRcvd) {
		t.Fatalf("DACK4 = %#x, want %#x", got, sess.LastDSNRcvd)
	}
}

func TestDACK4ScriptDefinedRebindsKernelIDSN(t *testing.T) {
	sess := primedSession()
	sess.Vars.Bind(vartable.NewScriptDefinedKey("k", 0x3333333333333333))
	sess.Hints.PushKeyHint("k")
	sess.RemoteSSN = 5

	tcp, opt := dssOption(flagA, 6)
	binary.BigEndian.PutUint32(opt.Data()[2:6], ScriptDefinedDACK4)

	if err := Handle(sess, opt, nil, pkt(tcp, 0), mptcpopt.Inbound); err != nil {
		t.Fatalf("DSS DACK-only script-defined: %v", err)
	}

	if sess.KernelIDSN == 0 {
		t.Fatal("expected kernel_idsn to be rebound")
	}
	got := binary.BigEndian.Uint32(opt.Data()[2:6])
	want := uint32(sess.KernelIDSN) + 5
	if got != want {
		t.Fatalf("DACK4 = %#x, want %#x", got, want)
	}
}

func TestDSNOnlyInboundWritesSSNAndAdvances(t *testing.T) {
	sess := primedSession()
	sf, _ := sess.Subflows.FindByPorts(3000, 4000)
	sf.SSN = 100

	tcp, opt := dssOption(flagM, 12) // dsn(4) + ssn(4) + dll(2), no checksum
	binary.BigEndian.PutUint32(opt.Data()[2:6], UndefinedDSN4)
	if err := Handle(sess, opt, nil, pkt(tcp, 40), mptcpopt.Inbound); err != nil {
		t.Fatalf("DSS DSN-only inbound: %v", err)
	}

	data := opt.Data()
	if got := binary.BigEndian.Uint32(data[2:6]); got != uint32(sess.HarnessIDSN) {
		t.Fatalf("DSN = %#x, want %#x", got, uint32(sess.HarnessIDSN))
	}
	if got := binary.BigEndian.Uint32(data[6:10]); got != 100 {
		t.Fatalf("SSN = %d, want 100", got)
	}
	if got := binary.BigEndian.Uint16(data[10:12]); got != 40 {
		t.Fatalf("DLL = %d, want 40", got)
	}
	if sf.SSN != 140 {
		t.Fatalf("subflow SSN not advanced: got %d, want 140", sf.SSN)
	}
}

func TestPinnedDSNIsLeftUntouched(t *testing.T) {
	sess := primedSession()

	tcp, opt := dssOption(flagM, 12)
	binary.BigEndian.PutUint32(opt.Data()[2:6], 0x01020304)
	if err := Handle(sess, opt, nil, pkt(tcp, 8), mptcpopt.Inbound); err != nil {
		t.Fatalf("DSS pinned-DSN inbound: %v", err)
	}
	if got := binary.BigEndian.Uint32(opt.Data()[2:6]); got != 0x01020304 {
		t.Fatalf("pinned DSN was rewritten to %#x", got)
	}
}

func TestDSNOutboundObservationUpdatesCounters(t *testing.T) {
	sess := primedSession()
	sess.RemoteSSN = 10

	tcp, opt := dssOption(flagM, 12)
	tcp.SrcPort, tcp.DstPort = tcp.DstPort, tcp.SrcPort
	binary.BigEndian.PutUint32(opt.Data()[2:6], 0x99999999)

	if err := Handle(sess, opt, nil, pkt(tcp, 20), mptcpopt.Outbound); err != nil {
		t.Fatalf("DSS DSN-only outbound: %v", err)
	}
	if sess.LastDSNRcvd != 0x99999999 {
		t.Fatalf("last_dsn_rcvd = %#x, want 0x99999999", sess.LastDSNRcvd)
	}
	if sess.RemoteSSN != 30 {
		t.Fatalf("remote_ssn = %d, want 30", sess.RemoteSSN)
	}
}

// onesComplementSumRef is a from-scratch reimplementation of RFC 793
// §3.1's pairwise 16-bit one's-complement sum, kept independent of
// dss.go's onesComplementSum so this test doesn't just check the
// implementation against itself.
func onesComplementSumRef(b []byte) uint16 {
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

func TestCombinedLayoutWithChecksum(t *testing.T) {
	sess := primedSession()
	sf, _ := sess.Subflows.FindByPorts(3000, 4000)
	sf.SSN = 7
	payload := []byte{0xDE, 0xAD, 0xBE, 0xEF, 0x01}

	// A(4) + M(4) DSN(4) + SSN(4) + DLL(2) + checksum(2) = 2 + 4+4+4+2+2 = 18
	tcp, opt := dssOption(flagA|flagM, 18)
	binary.BigEndian.PutUint32(opt.Data()[2:6], UndefinedDACK4)
	binary.BigEndian.PutUint32(opt.Data()[6:10], UndefinedDSN4)

	if err := Handle(sess, opt, nil, pktWithPayload(tcp, payload), mptcpopt.Inbound); err != nil {
		t.Fatalf("DSS combined inbound: %v", err)
	}
	data := opt.Data()

	// Recompute the expected checksum from the bytes actually written to
	// the wire (dsn, ssn, dll) plus the payload, independently of
	// checksumPseudoHeader, and confirm it matches exactly.
	var dsn8 [8]byte
	copy(dsn8[4:], data[6:10])
	pseudo := append([]byte{}, dsn8[:]...)
	pseudo = append(pseudo, data[10:14]...) // ssn
	pseudo = append(pseudo, data[14:16]...) // dll
	pseudo = append(pseudo, 0, 0)           // checksum placeholder
	pseudo = append(pseudo, payload...)
	want := onesComplementSumRef(pseudo)

	got := binary.BigEndian.Uint16(data[16:18])
	if got != want {
		t.Fatalf("checksum = %#x, want %#x (payload bytes must be folded into the sum)", got, want)
	}

	// Changing the payload must change the checksum: proves the payload
	// bytes are actually part of the sum, not silently dropped.
	sess2 := primedSession()
	sf2, _ := sess2.Subflows.FindByPorts(3000, 4000)
	sf2.SSN = 7
	tcp2, opt2 := dssOption(flagA|flagM, 18)
	binary.BigEndian.PutUint32(opt2.Data()[2:6], UndefinedDACK4)
	binary.BigEndian.PutUint32(opt2.Data()[6:10], UndefinedDSN4)
	if err := Handle(sess2, opt2, nil, pktWithPayload(tcp2, []byte{0x00, 0x00, 0x00, 0x00, 0x00}), mptcpopt.Inbound); err != nil {
		t.Fatalf("DSS combined inbound (second payload): %v", err)
	}
	if got2 := binary.BigEndian.Uint16(opt2.Data()[16:18]); got2 == got {
		t.Fatalf("checksum did not change across different payload bytes: both %#x", got)
	}
}

func TestMalformedDSSLength(t *testing.T) {
	sess := primedSession()
	tcp, opt := dssOption(flagM, 9) // three bytes short for dsn+ssn+dll
	err := Handle(sess, opt, nil, pkt(tcp, 0), mptcpopt.Inbound)
	if err == nil {
		t.Fatal("expected OptionMalformed error")
	}
}
