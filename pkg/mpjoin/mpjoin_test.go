package mpjoin

import (
	"encoding/binary"
	"net"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/runZeroInc/mptcpstate/pkg/hints"
	"github.com/runZeroInc/mptcpstate/pkg/mcrypto"
	"github.com/runZeroInc/mptcpstate/pkg/mptcpopt"
	"github.com/runZeroInc/mptcpstate/pkg/mstate"
)

func mpJoinOption(dataLen int, srcPort, dstPort layers.TCPPort, syn, ack bool) (*layers.TCP, *mptcpopt.Option) {
	data := make([]byte, dataLen)
	data[0] = mptcpopt.SubtypeMPJoin << 4
	tcp := &layers.TCP{
		SrcPort: srcPort, DstPort: dstPort, SYN: syn, ACK: ack,
		Options: []layers.TCPOption{
			{OptionType: mptcpopt.Kind, OptionData: data},
		},
	}
	return tcp, mptcpopt.NewOption(&tcp.Options[0])
}

func pktFrom(tcp *layers.TCP) *mptcpopt.Packet {
	return mptcpopt.NewPacket(tcp, net.ParseIP("10.0.0.1"), net.ParseIP("10.0.0.2"), nil)
}

func primedSession() *mstate.Session {
	sess := mstate.New(7)
	if err := sess.SetHarnessKey("setup", 0x1111111111111111); err != nil {
		panic(err)
	}
	if err := sess.SetKernelKey("setup", 0x2222222222222222); err != nil {
		panic(err)
	}
	return sess
}

// MP_JOIN SYN inbound with auto token derivation and an engine-drawn
// random nonce.
func TestSYNInboundAutoDerivedToken(t *testing.T) {
	sess := primedSession()
	sess.Hints.PushMPJoinHint(hints.MPJoinHint{TokenSource: hints.TokenAuto})

	tcp, opt := mpJoinOption(10, 3000, 4000, true, false)
	pkt := pktFrom(tcp)
	if err := Handle(sess, opt, nil, pkt, mptcpopt.Inbound); err != nil {
		t.Fatalf("SYN inbound: %v", err)
	}

	data := opt.Data()
	wantToken := mcrypto.Sha1Low32(sess.KernelKey())
	if got := binary.BigEndian.Uint32(data[2:6]); got != wantToken {
		t.Fatalf("token = %#x, want %#x", got, wantToken)
	}
	if data[1] != 0 {
		t.Fatalf("expected address id 0, got %d", data[1])
	}
	sf, ok := sess.Subflows.FindByPorts(3000, 4000)
	if !ok {
		t.Fatal("expected subflow to be registered")
	}
	if !sf.HarnessRandIsSet {
		t.Fatal("expected harness rand to be set on the subflow")
	}
	if binary.BigEndian.Uint32(data[6:10]) != sf.HarnessRand {
		t.Fatal("written rand does not match subflow's cached rand")
	}
}

// MP_JOIN SYN/ACK outbound absorbs the kernel's fields from the live
// packet and recomputes the HMAC with outbound key/message ordering.
func TestSynAckOutboundRecomputesHMAC(t *testing.T) {
	sess := primedSession()
	sess.Hints.PushMPJoinHint(hints.MPJoinHint{TokenSource: hints.TokenAuto})
	tcp1, opt1 := mpJoinOption(10, 3000, 4000, true, false)
	if err := Handle(sess, opt1, nil, pktFrom(tcp1), mptcpopt.Inbound); err != nil {
		t.Fatalf("SYN inbound: %v", err)
	}
	sf, _ := sess.Subflows.FindByPorts(3000, 4000)

	liveTCP, liveOpt := mpJoinOption(14, 4000, 3000, true, true)
	liveData := liveOpt.Data()
	liveData[1] = 9
	binary.BigEndian.PutUint32(liveData[10:14], 0xCAFEBABE)
	livePkt := pktFrom(liveTCP)

	tcp2, opt2 := mpJoinOption(14, 4000, 3000, true, true)
	pkt2 := pktFrom(tcp2)
	if err := Handle(sess, opt2, livePkt, pkt2, mptcpopt.Outbound); err != nil {
		t.Fatalf("SYN/ACK outbound: %v", err)
	}

	if sf.KernelAddrID != 9 {
		t.Fatalf("kernel addr id = %d, want 9", sf.KernelAddrID)
	}
	if sf.KernelRand != 0xCAFEBABE {
		t.Fatalf("kernel rand = %#x, want 0xCAFEBABE", sf.KernelRand)
	}

	key := mcrypto.NewHMACKey(sess.KernelKey(), sess.HarnessKey())
	msg := mcrypto.HMACMsg(sf.KernelRand, sf.HarnessRand)
	want := mcrypto.HMACSHA1Trunc64(key, msg)

	data := opt2.Data()
	if got := binary.BigEndian.Uint64(data[2:10]); got != want {
		t.Fatalf("recomputed HMAC = %#x, want %#x", got, want)
	}
	if data[1] != 9 {
		t.Fatalf("mirrored addr id = %d, want 9", data[1])
	}
}

// MP_JOIN ACK inbound produces a byte-identical full HMAC when
// computed twice with the same inputs.
func TestAckInboundHMACRoundTrip(t *testing.T) {
	sess := primedSession()
	sess.Hints.PushMPJoinHint(hints.MPJoinHint{TokenSource: hints.TokenAuto, Rand: 0x01020304, RandIsSet: true})
	tcp1, opt1 := mpJoinOption(10, 3000, 4000, true, false)
	if err := Handle(sess, opt1, nil, pktFrom(tcp1), mptcpopt.Inbound); err != nil {
		t.Fatalf("SYN inbound: %v", err)
	}
	sf, _ := sess.Subflows.FindByPorts(3000, 4000)
	sf.KernelRand = 0x0A0B0C0D
	sf.KernelRandIsSet = true

	tcp2, opt2 := mpJoinOption(22, 3000, 4000, false, true)
	if err := Handle(sess, opt2, nil, pktFrom(tcp2), mptcpopt.Inbound); err != nil {
		t.Fatalf("ACK inbound: %v", err)
	}
	tag1 := append([]byte(nil), opt2.Data()[2:22]...)

	key := mcrypto.NewHMACKey(sess.HarnessKey(), sess.KernelKey())
	msg := mcrypto.HMACMsg(sf.HarnessRand, sf.KernelRand)
	want := mcrypto.HMACSHA1Full(key, msg)
	if string(tag1) != string(want[:]) {
		t.Fatal("ACK HMAC does not match an independently recomputed tag")
	}

	tcp3, opt3 := mpJoinOption(22, 3000, 4000, false, true)
	if err := Handle(sess, opt3, nil, pktFrom(tcp3), mptcpopt.Inbound); err != nil {
		t.Fatalf("second ACK inbound: %v", err)
	}
	if string(opt3.Data()[2:22]) != string(tag1) {
		t.Fatal("recomputing the ACK HMAC with identical inputs was not byte-identical")
	}
	if sess.Stats.MPJoinHandshakes != 2 {
		t.Fatalf("expected 2 completed MP_JOIN handshakes counted, got %d", sess.Stats.MPJoinHandshakes)
	}
}

// A two-subflow, kernel-initiated script exercises the FIFO discipline
// end to end: each exchange consumes exactly one hint, at its SYN step,
// and the hint's overrides carry through to the harness's SYN/ACK reply
// via the subflow rather than a second FIFO slot. If the SYN/ACK step
// ever regresses to popping its own hint, subflow A's SYN/ACK would eat
// subflow B's SYN hint and B's rand would end up wrong.
func TestMultiSubflowOneHintPerExchange(t *testing.T) {
	sess := primedSession()
	sess.Hints.PushMPJoinHint(hints.MPJoinHint{TokenSource: hints.TokenAuto, Rand: 0xAAAA0001, RandIsSet: true})
	sess.Hints.PushMPJoinHint(hints.MPJoinHint{TokenSource: hints.TokenAuto, Rand: 0xBBBB0001, RandIsSet: true})

	// Subflow A: kernel sends MP_JOIN SYN (outbound), harness replies
	// SYN/ACK (inbound).
	liveA, liveOptA := mpJoinOption(10, 4000, 3000, true, false)
	liveOptA.Data()[1] = 5
	binary.BigEndian.PutUint32(liveOptA.Data()[6:10], 0xCAFE0001)
	tcpA1, optA1 := mpJoinOption(10, 4000, 3000, true, false)
	if err := Handle(sess, optA1, pktFrom(liveA), pktFrom(tcpA1), mptcpopt.Outbound); err != nil {
		t.Fatalf("SYN outbound A: %v", err)
	}
	sfA, ok := sess.Subflows.FindByPorts(3000, 4000)
	if !ok {
		t.Fatal("expected subflow A registered under reversed tuple")
	}
	if sfA.KernelAddrID != 5 || sfA.KernelRand != 0xCAFE0001 {
		t.Fatalf("subflow A absorbed addr_id=%d rand=%#x from live SYN", sfA.KernelAddrID, sfA.KernelRand)
	}
	if optA1.Data()[1] != 5 {
		t.Fatal("scripted outbound SYN did not mirror the live address id")
	}
	if sess.Hints.Len() != 1 {
		t.Fatalf("expected 1 hint left after A's SYN, got %d", sess.Hints.Len())
	}

	tcpA2, optA2 := mpJoinOption(14, 3000, 4000, true, true)
	if err := Handle(sess, optA2, nil, pktFrom(tcpA2), mptcpopt.Inbound); err != nil {
		t.Fatalf("SYN/ACK inbound A: %v", err)
	}
	if sfA.HarnessRand != 0xAAAA0001 {
		t.Fatalf("subflow A rand = %#x, want %#x (from A's own SYN-step hint)", sfA.HarnessRand, 0xAAAA0001)
	}
	if sess.Hints.Len() != 1 {
		t.Fatalf("SYN/ACK must not consume a hint; %d left, want 1", sess.Hints.Len())
	}

	// Subflow B: same shape on a second port pair.
	liveB, liveOptB := mpJoinOption(10, 6000, 5000, true, false)
	binary.BigEndian.PutUint32(liveOptB.Data()[6:10], 0xCAFE0002)
	tcpB1, optB1 := mpJoinOption(10, 6000, 5000, true, false)
	if err := Handle(sess, optB1, pktFrom(liveB), pktFrom(tcpB1), mptcpopt.Outbound); err != nil {
		t.Fatalf("SYN outbound B: %v", err)
	}
	sfB, _ := sess.Subflows.FindByPorts(5000, 6000)

	tcpB2, optB2 := mpJoinOption(14, 5000, 6000, true, true)
	if err := Handle(sess, optB2, nil, pktFrom(tcpB2), mptcpopt.Inbound); err != nil {
		t.Fatalf("SYN/ACK inbound B: %v", err)
	}
	if sfB.HarnessRand != 0xBBBB0001 {
		t.Fatalf("subflow B rand = %#x, want %#x (B's own hint, not A's)", sfB.HarnessRand, 0xBBBB0001)
	}
	if sess.Hints.Len() != 0 {
		t.Fatalf("expected both hints consumed, got %d left", sess.Hints.Len())
	}
}

func TestSynAckInboundWithoutSubflowIsNoSubflow(t *testing.T) {
	sess := primedSession()
	tcp, opt := mpJoinOption(14, 3000, 4000, true, true)
	err := Handle(sess, opt, nil, pktFrom(tcp), mptcpopt.Inbound)
	if err == nil {
		t.Fatal("expected NoSubflow error")
	}
}

func TestMalformedMPJoinLength(t *testing.T) {
	sess := primedSession()
	tcp, opt := mpJoinOption(5, 3000, 4000, true, false)
	err := Handle(sess, opt, nil, pktFrom(tcp), mptcpopt.Inbound)
	if err == nil {
		t.Fatal("expected OptionMalformed error")
	}
}
