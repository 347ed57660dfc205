// Package tcp implements the simplified reliable-transport engine of spec
// §4.3: a 3-way handshake, cumulative acknowledgment, AIMD congestion
// control, and a Karn/Jacobson RTT estimator driving a single retransmission
// timer per connection. It is deliberately not a full RFC 9293 stack — see
// the Non-goals in spec §1 (no SACK, no fast retransmit, no urgent data, no
// options).
package tcp

import "net/netip"

const sizeHeader = 20

// MSS is the maximum segment size used to chop outbound payloads, per
// spec §3 ("MSS = 1460, a constant").
const MSS = 1460

// Flags holds the six TCP control bits this engine understands. Only
// FIN/SYN/ACK are ever set by this implementation; RST is recognized on
// receipt for completeness but otherwise unhandled (spec §4.3 Non-goals).
type Flags uint8

const (
	FlagFIN Flags = 1 << 0
	FlagSYN Flags = 1 << 1
	FlagRST Flags = 1 << 2
	FlagPSH Flags = 1 << 3
	FlagACK Flags = 1 << 4
	FlagURG Flags = 1 << 5
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

func (f Flags) String() string {
	s := ""
	for _, b := range []struct {
		bit  Flags
		name string
	}{{FlagFIN, "FIN"}, {FlagSYN, "SYN"}, {FlagRST, "RST"}, {FlagPSH, "PSH"}, {FlagACK, "ACK"}, {FlagURG, "URG"}} {
		if f.Has(b.bit) {
			if s != "" {
				s += "|"
			}
			s += b.name
		}
	}
	if s == "" {
		return "NONE"
	}
	return s
}

// ConnectionID is the 4-tuple spec §3 keys connections by: (peer_addr,
// peer_port, local_addr, local_port), named to match the order the original
// `transport_layer/tcp.py` packs into its `connection_id` tuple — index 0/1
// is always the remote peer that dialed in, 2/3 is always this host.
type ConnectionID struct {
	PeerAddr  netip.Addr
	PeerPort  uint16
	LocalAddr netip.Addr
	LocalPort uint16
}
