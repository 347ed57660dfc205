// Package irc implements the RFC 1459 subset of spec §4.4 on top of the
// [tcp] transport: NICK/JOIN/PART/PRIVMSG/PING/QUIT, a case-insensitive
// nickname and channel registry, and the 001/353/366/403/422/432/433
// numeric replies. It is the topmost layer of the stack — nothing above it.
package irc

import (
	"bytes"
	"log/slog"
	"net/netip"
	"regexp"

	"github.com/pty-net/slipstack/internal"
	"github.com/pty-net/slipstack/metrics"
	"github.com/pty-net/slipstack/tcp"
)

// unregisteredNick is the placeholder nickname every connection starts
// with, per spec §3 ("nickname: bytes (initially *)").
var unregisteredNick = []byte("*")

var nicknamePattern = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_-]*$`)

func validNickname(name []byte) bool { return nicknamePattern.Match(name) }

// transport is the slice of *tcp.Connection this layer actually needs.
// Keeping it as a narrow interface (rather than depending on *tcp.Connection
// directly) lets tests drive the registry/fan-out logic without a real
// handshake.
type transport interface {
	PeerAddr() netip.Addr
	Send(payload []byte)
	Close()
}

// conn is the per-connection state spec §3 lists alongside the tcp
// Connection: residue buffer, display nickname, and joined-channel set.
type conn struct {
	tcpConn  transport
	residue  []byte
	nickname []byte
	joined   map[string]struct{}
}

// Server is the IRC application layer of spec §4.4. Its registries are
// touched only from reactor callbacks (the TCP accept-monitor and each
// connection's receiver), so — per spec §5 — no lock is needed even though
// the original source takes one; see DESIGN.md.
type Server struct {
	tcpServer *tcp.Server
	log       *slog.Logger

	nicks    map[string]*conn
	channels map[string]map[*conn]struct{}
}

// NewServer wires a Server on top of tcpServer, registering itself as the
// accepted-connections monitor.
func NewServer(tcpServer *tcp.Server, log *slog.Logger) *Server {
	s := &Server{
		tcpServer: tcpServer,
		log:       log,
		nicks:     make(map[string]*conn),
		channels:  make(map[string]map[*conn]struct{}),
	}
	tcpServer.RegisterAcceptedConnectionsMonitor(s.acceptedConnection)
	return s
}

func (s *Server) acceptedConnection(t *tcp.Connection) {
	c := &conn{tcpConn: t, nickname: append([]byte(nil), unregisteredNick...), joined: make(map[string]struct{})}
	internal.LogAttrs(s.log, slog.LevelInfo, "irc: new connection", internal.SlogAddr4("peer", t.PeerAddr().As4()))
	t.RegisterReceiver(func(_ *tcp.Connection, data []byte) {
		s.dataReceived(c, data)
	})
}

// dataReceived implements spec §4.4's residue accumulation: append bytes,
// repeatedly split on CRLF and interpret each complete line. An empty
// (EOF) payload runs the exit procedure and closes the connection.
func (s *Server) dataReceived(c *conn, data []byte) {
	if len(data) == 0 {
		s.connectionLeft(c)
		return
	}
	c.residue = append(c.residue, data...)
	for {
		idx := bytes.Index(c.residue, []byte("\r\n"))
		if idx < 0 {
			break
		}
		line := c.residue[:idx]
		c.residue = c.residue[idx+2:]
		s.interpretMessage(c, line)
	}
}

func (s *Server) connectionLeft(c *conn) {
	s.processExit(c)
	internal.LogAttrs(s.log, slog.LevelInfo, "irc: connection closed", internal.SlogAddr4("peer", c.tcpConn.PeerAddr().As4()))
	c.tcpConn.Close()
}

// interpretMessage dispatches one complete line, matching
// `interpret_message` in the original `application_layer/irc.py`.
func (s *Server) interpretMessage(c *conn, msg []byte) {
	fields := bytes.Split(bytes.Trim(msg, " \r\n"), []byte(" "))
	if len(fields) < 2 {
		return
	}
	verb := bytes.ToUpper(fields[0])
	metrics.IRCCommandsTotal.WithLabelValues(string(verb)).Inc()

	switch {
	case bytes.Equal(verb, []byte("PING")):
		s.processPing(c, bytes.Join(fields[1:], []byte(" ")))
	case bytes.Equal(verb, []byte("NICK")):
		s.processNick(c, fields[1])
	case bytes.Equal(verb, []byte("PRIVMSG")) && len(fields) >= 3:
		target := fields[1]
		content := bytes.Join(fields[2:], []byte(" "))
		if len(target) > 0 && target[0] == '#' {
			s.processChannelPrivmsg(c, target, content)
		} else {
			s.processPersonalPrivmsg(c, target, content)
		}
	case bytes.Equal(verb, []byte("JOIN")) && !bytes.Equal(c.nickname, unregisteredNick):
		s.processJoin(c, fields[1])
	case bytes.Equal(verb, []byte("PART")):
		s.processPart(c, fields[1])
	}
}

func (s *Server) send(c *conn, msg []byte) {
	c.tcpConn.Send(msg)
}

func (s *Server) processPing(c *conn, payload []byte) {
	s.send(c, []byte(":server PONG server :"+string(payload)+"\r\n"))
}
