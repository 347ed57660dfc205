package irc

import (
	"bytes"
	"sort"

	"github.com/pty-net/slipstack/metrics"
)

// processJoin implements spec §4.4's JOIN: membership update, JOIN
// broadcast (echoed to self), and the 353/366 NAMES reply, line-wrapped so
// no emitted line exceeds 510 bytes.
func (s *Server) processJoin(c *conn, channel []byte) {
	if len(channel) == 0 || channel[0] != '#' || !validNickname(channel[1:]) {
		s.send(c, reply403(channel))
		return
	}

	lower := bytes.ToLower(channel)
	members := s.addMemberToChannel(c, lower)
	c.joined[string(lower)] = struct{}{}

	joinMsg := []byte(":" + string(c.nickname) + " JOIN :" + string(lower) + "\r\n")
	for member := range members {
		if member != c {
			s.send(member, joinMsg)
		}
	}
	s.send(c, joinMsg)

	s.sendNamesReply(c, lower, members)
}

func (s *Server) sendNamesReply(c *conn, lowerChannel []byte, members map[*conn]struct{}) {
	names := make([][]byte, 0, len(members))
	for m := range members {
		names = append(names, bytes.ToLower(m.nickname))
	}
	sort.Slice(names, func(i, j int) bool { return bytes.Compare(names[i], names[j]) < 0 })

	prefix := ":server 353 " + string(c.nickname) + " = " + string(lowerChannel) + " :"
	buf := []byte(prefix)
	for _, name := range names {
		if len(buf)+len(name) < 510 {
			buf = append(buf, name...)
			buf = append(buf, ' ')
		} else {
			line := append(buf[:len(buf)-1], '\r', '\n')
			s.send(c, line)
			buf = []byte(prefix)
			buf = append(buf, name...)
			buf = append(buf, ' ')
		}
	}
	line := append(buf[:len(buf)-1], '\r', '\n')
	s.send(c, line)
	s.send(c, []byte(":server 366 "+string(c.nickname)+" "+string(lowerChannel)+" :End of /NAMES list.\r\n"))
}

func reply403(channel []byte) []byte {
	return []byte(":server 403 " + string(channel) + " :No such channel\r\n")
}

// processPart implements spec §4.4's PART: remove the connection, delete
// the channel entry if now empty, broadcast to the remaining members and
// echo to self.
func (s *Server) processPart(c *conn, channel []byte) {
	lower := bytes.ToLower(channel)
	if _, joined := c.joined[string(lower)]; !joined {
		return
	}

	members := s.removeChannelMember(c, lower)
	delete(c.joined, string(lower))

	partMsg := []byte(":" + string(c.nickname) + " PART " + string(lower) + "\r\n")
	for member := range members {
		s.send(member, partMsg)
	}
	s.send(c, partMsg)
}

// processPersonalPrivmsg and processChannelPrivmsg implement spec §4.4's
// PRIVMSG: payload must begin with ':'; a '#'-prefixed target fans out to
// every other channel member, otherwise it is a case-insensitive nickname
// lookup. Unknown recipients are silently dropped.
func (s *Server) processPersonalPrivmsg(c *conn, recipient, content []byte) {
	if bytes.Equal(c.nickname, unregisteredNick) || len(content) < 2 || content[0] != ':' {
		return
	}
	target, ok := s.nicks[string(bytes.ToLower(recipient))]
	if !ok {
		return
	}
	s.send(target, []byte(":"+string(c.nickname)+" PRIVMSG "+string(target.nickname)+" "+string(content)+"\r\n"))
}

func (s *Server) processChannelPrivmsg(c *conn, channel, content []byte) {
	if bytes.Equal(c.nickname, unregisteredNick) || len(content) < 2 || content[0] != ':' {
		return
	}
	lower := bytes.ToLower(channel)
	members, ok := s.channels[string(lower)]
	if !ok {
		return
	}
	msg := []byte(":" + string(c.nickname) + " PRIVMSG " + string(lower) + " " + string(content) + "\r\n")
	for member := range members {
		if member != c {
			s.send(member, msg)
		}
	}
}

// addMemberToChannel creates the channel's member set if absent and adds c,
// returning the resulting set.
func (s *Server) addMemberToChannel(c *conn, lowerChannel []byte) map[*conn]struct{} {
	key := string(lowerChannel)
	members, ok := s.channels[key]
	if !ok {
		members = make(map[*conn]struct{})
		s.channels[key] = members
		metrics.IRCChannelsActive.Set(float64(len(s.channels)))
	}
	members[c] = struct{}{}
	return members
}

// removeChannelMember removes c from the channel, deleting the channel
// entirely — and returning an empty set — once it has no members left.
func (s *Server) removeChannelMember(c *conn, lowerChannel []byte) map[*conn]struct{} {
	key := string(lowerChannel)
	members := s.channels[key]
	delete(members, c)
	if len(members) == 0 {
		delete(s.channels, key)
		metrics.IRCChannelsActive.Set(float64(len(s.channels)))
		return map[*conn]struct{}{}
	}
	return members
}
