// Package serial defines the physical-layer contract the rest of the stack
// is built on (spec §1: "the pseudo-terminal driver ... glue; the design
// below assumes they exist") and provides two implementations of it: a
// real Linux PTY ([PTY]) and an in-memory pair for tests ([LoopbackPair]).
package serial

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/pty-net/slipstack/internal"
	"github.com/pty-net/slipstack/reactor"
)

// ErrClosed is returned by Send once the line's peer has gone away (the
// POSIX EIO condition described in spec §7 "Serial EIO: treated as
// peer-closed").
var ErrClosed = errors.New("serial: line closed")

// Line is a byte-stream source/sink, exactly the contract spec §6 ascribes
// to the physical layer: register a receiver callback, and send raw bytes.
// Implementations must invoke the registered callback only via a
// [reactor.Loop], so that all higher layers remain single-threaded.
type Line interface {
	// RegisterReceiver arranges for cb to be called with each chunk of
	// bytes read from the line, in arrival order. Only one receiver may
	// be registered at a time; a second call replaces the first.
	RegisterReceiver(cb func(data []byte))
	// Send writes data to the line. Returns ErrClosed if the peer has
	// disconnected.
	Send(data []byte) error
}

// LoopbackPair returns two [Line] values, each of which delivers everything
// written to it to the other's registered receiver. Used in tests that
// exercise the SLIP/IPv4/TCP/IRC stack without a real PTY, and grounded on
// the same register-receiver/send contract the original Python PTY class
// exposes.
func LoopbackPair(loop *reactor.Loop) (a, b Line) {
	la := &loopbackLine{loop: loop}
	lb := &loopbackLine{loop: loop}
	la.peer, lb.peer = lb, la
	return la, lb
}

type loopbackLine struct {
	loop   *reactor.Loop
	peer   *loopbackLine
	mu     sync.Mutex
	cb     func([]byte)
	closed bool
}

func (l *loopbackLine) RegisterReceiver(cb func(data []byte)) {
	l.mu.Lock()
	l.cb = cb
	l.mu.Unlock()
}

func (l *loopbackLine) Send(data []byte) error {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return ErrClosed
	}
	buf := append([]byte(nil), data...)
	peer := l.peer
	l.loop.Post(func() {
		peer.mu.Lock()
		cb := peer.cb
		peer.mu.Unlock()
		if cb != nil {
			cb(buf)
		}
	})
	return nil
}

// Close marks the line closed; further Sends fail and the peer receives an
// empty-byte "EOF" delivery, matching the PTY's EIO-on-hangup behaviour.
func (l *loopbackLine) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	peer := l.peer
	l.loop.Post(func() {
		peer.mu.Lock()
		cb := peer.cb
		peer.mu.Unlock()
		if cb != nil {
			cb(nil)
		}
	})
	return nil
}

func logClose(log *slog.Logger, name string, err error) {
	if err == nil {
		return
	}
	internal.LogAttrs(log, slog.LevelWarn, "serial: close error", slog.String("line", name), slog.String("err", err.Error()))
}
