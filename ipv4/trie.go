package ipv4

import "net/netip"

// Trie is the binary routing trie of spec §3 ("Routing Trie"): a binary
// tree keyed by the MSB-first bit string of an IPv4 address. Ported
// field-for-field from the original `network_layer/ip.py`'s `TRIE` class
// (`_content`/`_zero_child`/`_one_child` → `content`/`zero`/`one`), using
// [netip.Addr]/[netip.Prefix] in place of the original's ASCII bit-strings.
//
// The zero value is an empty trie ready to use. A Trie is immutable after
// configuration, per spec §3.
type Trie struct {
	content  netip.Addr
	hasValue bool
	zero     *Trie
	one      *Trie
}

// Insert places hop at the node reached by following prefix's bits from the
// root, creating intermediate nodes as needed. A prefix of length 0
// ("0.0.0.0/0") sets the root's own value, which becomes the default route.
func (t *Trie) Insert(prefix netip.Prefix, hop netip.Addr) {
	addr := prefix.Addr().As4()
	bits := prefix.Bits()
	node := t
	for i := 0; i < bits; i++ {
		if bitAt(addr, i) == 0 {
			if node.zero == nil {
				node.zero = &Trie{}
			}
			node = node.zero
		} else {
			if node.one == nil {
				node.one = &Trie{}
			}
			node = node.one
		}
	}
	node.content = hop
	node.hasValue = true
}

// Find walks the trie along addr's bits from the root, remembering the
// deepest node on the path that holds a value, and returns it: the
// longest-prefix match described in spec §4.2. The second return is false
// if no node along the path (including the root) holds a value.
func (t *Trie) Find(addr netip.Addr) (netip.Addr, bool) {
	a4 := addr.As4()
	node := t
	var found netip.Addr
	var ok bool
	for i := 0; i < 32 && node != nil; i++ {
		if node.hasValue {
			found, ok = node.content, true
		}
		if bitAt(a4, i) == 0 {
			node = node.zero
		} else {
			node = node.one
		}
	}
	if node != nil && node.hasValue {
		found, ok = node.content, true
	}
	return found, ok
}

// bitAt returns the i-th bit (MSB first, 0-indexed) of a 4-byte address.
func bitAt(addr [4]byte, i int) byte {
	byteIdx := i / 8
	bitIdx := 7 - (i % 8)
	return (addr[byteIdx] >> bitIdx) & 1
}
