// Command mptcpctl is a minimal runnable harness for the engine: it
// decodes a JSON script-hint fixture and a pcap of packets to rewrite
// (plus an optional paired pcap of live/captured packets for outbound
// extraction steps), drives Engine.Process over the sequence, and
// prints the resulting option bytes or the first error.
package main

import (
	"encoding/hex"
	"encoding/json"
	"flag"
	"io"
	"os"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/sirupsen/logrus"

	mptcpstate "github.com/runZeroInc/mptcpstate"
	"github.com/runZeroInc/mptcpstate/pkg/hints"
	"github.com/runZeroInc/mptcpstate/pkg/mptcpopt"
)

// mpJoinHintFixture is the JSON shape of one MP_JOIN hint entry.
type mpJoinHintFixture struct {
	Auto      bool    `json:"auto"`
	AddressID *uint8  `json:"address_id,omitempty"`
	Token     *uint32 `json:"token,omitempty"`
	TokenVar  *string `json:"token_var,omitempty"`
	Rand      *uint32 `json:"rand,omitempty"`
}

// hintFixture is one entry of the JSON script-hint fixture array.
// Exactly one of Key/MPJoin should be set.
type hintFixture struct {
	Key    *string            `json:"key,omitempty"`
	MPJoin *mpJoinHintFixture `json:"mpjoin,omitempty"`
}

func loadHints(e *mptcpstate.Engine, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var fixtures []hintFixture
	if err := json.Unmarshal(raw, &fixtures); err != nil {
		return err
	}
	for _, f := range fixtures {
		switch {
		case f.Key != nil:
			e.Hints().PushKeyHint(*f.Key)
		case f.MPJoin != nil:
			h := hints.MPJoinHint{}
			if f.MPJoin.AddressID != nil {
				h.AddressID, h.AddressIDIsSet = *f.MPJoin.AddressID, true
			}
			switch {
			case f.MPJoin.Auto:
				h.TokenSource = hints.TokenAuto
			case f.MPJoin.TokenVar != nil:
				h.TokenSource, h.VarName = hints.TokenVarName, *f.MPJoin.TokenVar
			case f.MPJoin.Token != nil:
				h.TokenSource, h.Token = hints.TokenLiteral, *f.MPJoin.Token
			}
			if f.MPJoin.Rand != nil {
				h.Rand, h.RandIsSet = *f.MPJoin.Rand, true
			}
			e.Hints().PushMPJoinHint(h)
		}
	}
	return nil
}

// readPackets decodes every TCP segment in a pcap file into a
// *mptcpopt.Packet, in file order.
func readPackets(path string) ([]*mptcpopt.Packet, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r, err := pcapgo.NewReader(f)
	if err != nil {
		return nil, err
	}

	var out []*mptcpopt.Packet
	for {
		data, _, err := r.ReadPacketData()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		pkt := gopacket.NewPacket(data, r.LinkType(), gopacket.Default)
		tcpLayer := pkt.Layer(layers.LayerTypeTCP)
		if tcpLayer == nil {
			continue
		}
		tcp, _ := tcpLayer.(*layers.TCP)

		var srcIP, dstIP []byte
		if ip4 := pkt.Layer(layers.LayerTypeIPv4); ip4 != nil {
			l := ip4.(*layers.IPv4)
			srcIP, dstIP = l.SrcIP, l.DstIP
		} else if ip6 := pkt.Layer(layers.LayerTypeIPv6); ip6 != nil {
			l := ip6.(*layers.IPv6)
			srcIP, dstIP = l.SrcIP, l.DstIP
		}
		out = append(out, mptcpopt.NewPacket(tcp, srcIP, dstIP, tcp.LayerPayload()))
	}
	return out, nil
}

func main() {
	scriptPath := flag.String("script", "", "path to a JSON script-hint fixture")
	pcapPath := flag.String("pcap", "", "path to a pcap of packets to rewrite")
	livePcapPath := flag.String("live-pcap", "", "optional path to a pcap of paired live/captured packets")
	direction := flag.String("direction", "inbound", "direction to apply to every packet in -pcap: inbound or outbound")
	seed := flag.Int64("seed", 1, "PRNG seed")
	flag.Parse()

	if *scriptPath == "" || *pcapPath == "" {
		logrus.Fatal("both -script and -pcap are required")
	}

	dir := mptcpopt.Inbound
	if *direction == "outbound" {
		dir = mptcpopt.Outbound
	}

	e := mptcpstate.NewEngine(*seed)
	if err := loadHints(e, *scriptPath); err != nil {
		logrus.Fatalf("loading hints: %v", err)
	}

	packets, err := readPackets(*pcapPath)
	if err != nil {
		logrus.Fatalf("reading -pcap: %v", err)
	}
	livePackets, err := readPackets(*livePcapPath)
	if err != nil {
		logrus.Fatalf("reading -live-pcap: %v", err)
	}

	logrus.Infof("run_id=%s processing %d packets (direction=%s)", e.RunID, len(packets), dir)
	for i, pkt := range packets {
		var live *mptcpopt.Packet
		if i < len(livePackets) {
			live = livePackets[i]
		}
		if err := e.Process(pkt, live, dir); err != nil {
			logrus.Errorf("packet %d: %v", i, err)
			os.Exit(1)
		}
		for _, opt := range pkt.Options() {
			logrus.Infof("packet %d: option bytes %s", i, hex.EncodeToString(opt.Data()))
		}
	}
	logrus.Infof("done: %+v", e.Session.Stats)
}
