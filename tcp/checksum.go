package tcp

import "github.com/pty-net/slipstack/ipv4"

// ipv4Checksum delegates to the IPv4 layer's pseudoheader-aware TCP
// checksum so the two layers share exactly one checksum implementation.
func ipv4Checksum(src, dst [4]byte, segment []byte) uint16 {
	return ipv4.TCPChecksum(src, dst, segment)
}
