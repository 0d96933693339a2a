// Package mptcpopt gives the session-state engine a concrete shape for
// a TCP packet with an MPTCP option to rewrite or inspect. It wraps
// gopacket's TCP layer so scripted packets and captured traffic share
// one option representation.
package mptcpopt

import (
	"fmt"
	"net"

	"github.com/google/gopacket/layers"
)

// Direction distinguishes a packet the harness injects toward the
// kernel (Inbound) from one captured from the kernel (Outbound).
type Direction int

const (
	Inbound Direction = iota
	Outbound
)

func (d Direction) String() string {
	if d == Outbound {
		return "outbound"
	}
	return "inbound"
}

// Kind is the TCP option kind byte MPTCP registers under (RFC 6824
// §3, option kind 30).
const Kind layers.TCPOptionKind = 30

// Subtype values, the high nibble of an MPTCP option's first payload
// byte (RFC 6824 §3). ADD_ADDR, REMOVE_ADDR and MP_PRIO are recognized
// so the dispatcher can name them in errors, but no handler rewrites
// them.
const (
	SubtypeMPCapable  byte = 0x0
	SubtypeMPJoin     byte = 0x1
	SubtypeDSS        byte = 0x2
	SubtypeAddAddr    byte = 0x3
	SubtypeRemoveAddr byte = 0x4
	SubtypeMPPrio     byte = 0x5
)

// Subtype extracts the subtype nibble from an MPTCP option's raw
// payload (the bytes following kind+length).
func Subtype(optionData []byte) (byte, error) {
	if len(optionData) < 1 {
		return 0, fmt.Errorf("mptcpopt: option data too short to carry a subtype")
	}
	return optionData[0] >> 4, nil
}

// Option is a single MPTCP option found on a packet, positioned so the
// dispatcher and handlers can mutate it in place.
type Option struct {
	tcpOpt *layers.TCPOption
}

// NewOption wraps a gopacket TCP option for in-place mutation. Callers
// must pass a pointer into the slice backing a layers.TCP.Options,
// never a copy, or writes will not be observed by the serializer.
func NewOption(o *layers.TCPOption) *Option {
	return &Option{tcpOpt: o}
}

// IsMPTCP reports whether this option's kind is MPTCP (30).
func (o *Option) IsMPTCP() bool {
	return o.tcpOpt.OptionType == Kind
}

// Data returns the option's payload (the bytes after kind+length),
// mutable in place.
func (o *Option) Data() []byte {
	return o.tcpOpt.OptionData
}

// Len returns the length of the option payload.
func (o *Option) Len() int {
	return len(o.tcpOpt.OptionData)
}

// Packet wraps a TCP segment plus its IP endpoints: the fields the
// handlers read are the IPv4/IPv6 addresses, the ports, the SYN/ACK
// bits and the MPTCP options.
type Packet struct {
	TCP     *layers.TCP
	SrcIP   net.IP
	DstIP   net.IP
	Length  int    // TCP payload length, used to advance DSS sequence counters
	Payload []byte // TCP payload bytes, folded into the DSS checksum
}

// NewPacket builds a Packet from a decoded TCP layer, its IP endpoints
// and its payload bytes (may be nil/empty for a pure-ACK segment).
func NewPacket(tcp *layers.TCP, srcIP, dstIP net.IP, payload []byte) *Packet {
	return &Packet{TCP: tcp, SrcIP: srcIP, DstIP: dstIP, Length: len(payload), Payload: payload}
}

// Options returns every MPTCP option on the packet as mutable handles,
// in wire order.
func (p *Packet) Options() []*Option {
	var out []*Option
	for i := range p.TCP.Options {
		if p.TCP.Options[i].OptionType == Kind {
			out = append(out, NewOption(&p.TCP.Options[i]))
		}
	}
	return out
}

// SYN and ACK expose the packet's control bits; the handshake handlers
// dispatch on them.
func (p *Packet) SYN() bool { return p.TCP.SYN }
func (p *Packet) ACK() bool { return p.TCP.ACK }

// SrcPort and DstPort are the packet's TCP ports.
func (p *Packet) SrcPort() uint16 { return uint16(p.TCP.SrcPort) }
func (p *Packet) DstPort() uint16 { return uint16(p.TCP.DstPort) }

// AddressFamily reports which IP family this packet's endpoints use,
// or an error if neither IPv4 nor IPv6.
func (p *Packet) AddressFamily() (string, error) {
	if p.SrcIP.To4() != nil && p.DstIP.To4() != nil {
		return "ip4", nil
	}
	if p.SrcIP.To16() != nil && p.DstIP.To16() != nil {
		return "ip6", nil
	}
	return "", fmt.Errorf("mptcpopt: neither IPv4 nor IPv6 address present")
}
