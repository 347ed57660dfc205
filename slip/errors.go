package slip

import "errors"

// ErrNoRoute is returned by [Framer.Send] when no link has been configured
// to reach the requested next hop.
var ErrNoRoute = errors.New("slip: no link to next hop")
