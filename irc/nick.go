package irc

import (
	"bytes"

	"github.com/pty-net/slipstack/metrics"
)

// processNick implements spec §4.4's NICK handling: reject invalid names
// with 432, reject already-taken names (case-insensitively) with 433,
// otherwise register atomically and either welcome a fresh connection
// (001/422) or notify every colleague of the rename.
func (s *Server) processNick(c *conn, nickname []byte) {
	if !validNickname(nickname) {
		s.send(c, reply432(c.nickname, nickname))
		return
	}

	wasUnregistered := bytes.Equal(c.nickname, unregisteredNick)
	if !s.tryNewNickname(c, nickname) {
		s.send(c, reply433(c.nickname, nickname))
		return
	}

	if wasUnregistered {
		s.send(c, reply001(nickname))
		s.send(c, reply422(nickname))
	} else {
		old := append([]byte(nil), c.nickname...)
		for _, colleague := range s.findColleagues(c) {
			s.send(colleague, []byte(":"+string(old)+" NICK "+string(nickname)+"\r\n"))
		}
	}
	c.nickname = append([]byte(nil), nickname...)
}

// tryNewNickname installs nickname for c, keyed by its lowercased form,
// removing any prior binding for c. Returns false, leaving the registry
// untouched, if nickname's lowercased form is already registered, including
// when it is registered to c itself.
func (s *Server) tryNewNickname(c *conn, nickname []byte) bool {
	key := string(bytes.ToLower(nickname))
	if _, taken := s.nicks[key]; taken {
		return false
	}
	if !bytes.Equal(c.nickname, unregisteredNick) {
		delete(s.nicks, string(bytes.ToLower(c.nickname)))
	}
	s.nicks[key] = c
	metrics.IRCNicknamesRegistered.Set(float64(len(s.nicks)))
	return true
}

// findColleagues is "self plus every member of every channel c has
// joined", per spec §4.4's NICK-notification fan-out.
func (s *Server) findColleagues(c *conn) []*conn {
	seen := map[*conn]struct{}{c: {}}
	out := []*conn{c}
	for channel := range c.joined {
		for member := range s.channels[channel] {
			if _, ok := seen[member]; !ok {
				seen[member] = struct{}{}
				out = append(out, member)
			}
		}
	}
	return out
}

func reply001(nick []byte) []byte {
	return []byte(":server 001 " + string(nick) + " :Welcome\r\n")
}

func reply422(nick []byte) []byte {
	return []byte(":server 422 " + string(nick) + " :MOTD File is missing\r\n")
}

func reply432(oldNick, attempted []byte) []byte {
	return []byte(":server 432 " + string(oldNick) + " " + string(attempted) + " :Erroneous nickname\r\n")
}

func reply433(oldNick, attempted []byte) []byte {
	return []byte(":server 433 " + string(oldNick) + " " + string(attempted) + " :Nickname is already in use\r\n")
}
