package ipv4

import "errors"

// errNoRoute is returned by [Engine.Send] when the routing trie has no
// matching entry, not even a default route, for the destination.
var errNoRoute = errors.New("ipv4: no route to destination")
