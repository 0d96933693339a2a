// Package subflow implements the subflow registry: the set of TCP
// connections, one per subflow, carrying a portion of an MPTCP data
// stream. Lookup is parameterized by direction and keyed on the port
// pair alone.
package subflow

import (
	"net"

	"github.com/runZeroInc/mptcpstate/pkg/hints"
	"github.com/runZeroInc/mptcpstate/pkg/mptcpopt"
)

// FourTuple identifies a subflow from the harness's perspective: its
// own (local) endpoint and the peer's (remote) endpoint. IP addresses
// are kept for diagnostics and address-ID correlation only; matching
// never uses them.
type FourTuple struct {
	LocalIP    net.IP
	RemoteIP   net.IP
	LocalPort  uint16
	RemotePort uint16
}

// Subflow is one TCP connection carrying part of the MPTCP stream.
type Subflow struct {
	Tuple FourTuple

	HarnessAddrID uint8
	KernelAddrID  uint8

	HarnessRand      uint32
	HarnessRandIsSet bool
	KernelRand       uint32
	KernelRandIsSet  bool

	// SSN is the subflow sequence number, advanced by the DSS handler
	// as data segments are written.
	SSN uint32

	// SYNHint is the script hint consumed at this subflow's MP_JOIN SYN
	// step, kept so the later steps of the same exchange can read its
	// overrides without consuming another FIFO slot.
	SYNHint hints.MPJoinHint
}

type portPair struct {
	local, remote uint16
}

// Registry holds every subflow of a session. Subflows are created
// during each subflow's handshake (at the MP_JOIN SYN, or at the
// MP_CAPABLE handshake's third step) and are never removed before
// session teardown.
type Registry struct {
	byPorts map[portPair]*Subflow
	order   []*Subflow
}

// New returns an empty subflow registry.
func New() *Registry {
	return &Registry{byPorts: make(map[portPair]*Subflow)}
}

// NewInbound creates a subflow from an inbound packet (one the harness
// injects toward the kernel): the packet's own src is the subflow's
// local endpoint.
func (r *Registry) NewInbound(pkt *mptcpopt.Packet, harnessAddrID uint8) *Subflow {
	s := &Subflow{Tuple: FourTuple{
		LocalIP:    pkt.SrcIP,
		RemoteIP:   pkt.DstIP,
		LocalPort:  pkt.SrcPort(),
		RemotePort: pkt.DstPort(),
	}, HarnessAddrID: harnessAddrID}
	r.insert(s)
	return s
}

// NewOutbound creates a subflow from an outbound packet (one captured
// from the kernel): the tuple is reversed, since the packet's src is
// the kernel's (remote, from the harness's perspective) endpoint.
func (r *Registry) NewOutbound(pkt *mptcpopt.Packet) *Subflow {
	s := &Subflow{Tuple: FourTuple{
		LocalIP:    pkt.DstIP,
		RemoteIP:   pkt.SrcIP,
		LocalPort:  pkt.DstPort(),
		RemotePort: pkt.SrcPort(),
	}}
	r.insert(s)
	return s
}

func (r *Registry) insert(s *Subflow) {
	r.byPorts[portPair{s.Tuple.LocalPort, s.Tuple.RemotePort}] = s
	r.order = append(r.order, s)
}

// FindByFourTuple locates the subflow matching pkt, from the
// perspective of direction: inbound packets match on (src port, dst
// port) as (local, remote); outbound packets match on (dst port, src
// port), since the packet's src is the remote kernel endpoint.
func (r *Registry) FindByFourTuple(dir mptcpopt.Direction, pkt *mptcpopt.Packet) (*Subflow, bool) {
	if dir == mptcpopt.Outbound {
		return r.FindByPorts(pkt.DstPort(), pkt.SrcPort())
	}
	return r.FindByPorts(pkt.SrcPort(), pkt.DstPort())
}

// FindByPorts looks up a subflow by its (local, remote) port pair.
func (r *Registry) FindByPorts(localPort, remotePort uint16) (*Subflow, bool) {
	s, ok := r.byPorts[portPair{localPort, remotePort}]
	return s, ok
}

// Len reports the number of subflows currently registered.
func (r *Registry) Len() int {
	return len(r.order)
}

// FreeAll clears the registry at session teardown.
func (r *Registry) FreeAll() {
	r.byPorts = make(map[portPair]*Subflow)
	r.order = nil
}
