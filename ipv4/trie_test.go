package ipv4

import (
	"net/netip"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func mustPrefix(t *testing.T, s string) netip.Prefix {
	t.Helper()
	p, err := netip.ParsePrefix(s)
	require.NoError(t, err)
	return p
}

func mustAddr(t *testing.T, s string) netip.Addr {
	t.Helper()
	a, err := netip.ParseAddr(s)
	require.NoError(t, err)
	return a
}

// TestTrieLongestPrefix checks property 2 from spec §8.
func TestTrieLongestPrefix(t *testing.T) {
	var trie Trie
	A := mustAddr(t, "1.1.1.1")
	B := mustAddr(t, "2.2.2.2")
	C := mustAddr(t, "3.3.3.3")

	trie.Insert(mustPrefix(t, "0.0.0.0/0"), A)
	trie.Insert(mustPrefix(t, "10.0.0.0/8"), B)

	got, ok := trie.Find(mustAddr(t, "10.1.2.3"))
	require.True(t, ok)
	require.Equal(t, B, got)

	got, ok = trie.Find(mustAddr(t, "8.8.8.8"))
	require.True(t, ok)
	require.Equal(t, A, got)

	trie.Insert(mustPrefix(t, "10.1.0.0/16"), C)

	got, ok = trie.Find(mustAddr(t, "10.1.2.3"))
	require.True(t, ok)
	require.Equal(t, C, got)

	got, ok = trie.Find(mustAddr(t, "10.2.0.0"))
	require.True(t, ok)
	require.Equal(t, B, got)
}

// TestTrieS2 checks scenario S2 from spec §8.
func TestTrieS2(t *testing.T) {
	var trie Trie
	hop1 := mustAddr(t, "10.0.0.1")
	hop2 := mustAddr(t, "10.0.0.2")
	trie.Insert(mustPrefix(t, "0.0.0.0/0"), hop1)
	trie.Insert(mustPrefix(t, "192.168.0.0/16"), hop2)

	got, ok := trie.Find(mustAddr(t, "192.168.5.5"))
	require.True(t, ok)
	require.Equal(t, hop2, got)

	got, ok = trie.Find(mustAddr(t, "8.8.8.8"))
	require.True(t, ok)
	require.Equal(t, hop1, got)
}

func TestTrieNoRoute(t *testing.T) {
	var trie Trie
	_, ok := trie.Find(mustAddr(t, "1.2.3.4"))
	require.False(t, ok)
}

// TestTrieLookupTable is a table-driven sweep of longest-prefix-match
// lookups against a trie with several overlapping routes, diffed
// structurally with cmp rather than field by field.
func TestTrieLookupTable(t *testing.T) {
	var trie Trie
	defaultHop := mustAddr(t, "10.0.0.1")
	midHop := mustAddr(t, "10.0.0.2")
	narrowHop := mustAddr(t, "10.0.0.3")
	trie.Insert(mustPrefix(t, "0.0.0.0/0"), defaultHop)
	trie.Insert(mustPrefix(t, "172.16.0.0/12"), midHop)
	trie.Insert(mustPrefix(t, "172.16.5.0/24"), narrowHop)

	cases := []struct {
		name string
		addr netip.Addr
		want netip.Addr
	}{
		{"default route", mustAddr(t, "8.8.8.8"), defaultHop},
		{"mid prefix", mustAddr(t, "172.16.9.9"), midHop},
		{"most specific prefix wins", mustAddr(t, "172.16.5.42"), narrowHop},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := trie.Find(tc.addr)
			require.True(t, ok)
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Find(%s) next hop mismatch (-want +got):\n%s", tc.addr, diff)
			}
		})
	}
}
