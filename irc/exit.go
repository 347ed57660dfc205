package irc

import (
	"bytes"

	"github.com/pty-net/slipstack/metrics"
)

// processExit implements spec §4.4's EOF procedure: broadcast QUIT to
// every peer sharing a channel with c, remove c from every channel, and
// free its nickname.
func (s *Server) processExit(c *conn) {
	colleagues := s.removeFromEveryChannel(c)

	quitMsg := []byte(":" + string(c.nickname) + " QUIT :Connection closed\r\n")
	for _, colleague := range colleagues {
		s.send(colleague, quitMsg)
	}
}

// removeFromEveryChannel removes c from every channel it had joined,
// collecting the union of remaining members across all of them, and frees
// c's nickname from the registry.
func (s *Server) removeFromEveryChannel(c *conn) []*conn {
	seen := make(map[*conn]struct{})
	var colleagues []*conn
	for channel := range c.joined {
		for member := range s.removeChannelMember(c, []byte(channel)) {
			if _, ok := seen[member]; !ok {
				seen[member] = struct{}{}
				colleagues = append(colleagues, member)
			}
		}
	}
	c.joined = make(map[string]struct{})

	if !bytes.Equal(c.nickname, unregisteredNick) {
		delete(s.nicks, string(bytes.ToLower(c.nickname)))
		metrics.IRCNicknamesRegistered.Set(float64(len(s.nicks)))
	}
	return colleagues
}
