// Package reactor implements the single-threaded cooperative event loop that
// every layer of the stack is driven by (spec §5, §9: "Global singleton
// event loop... Expressed as an explicit cooperative scheduler passed to
// every component constructor"). All protocol state is only ever touched
// from callbacks run by a [Loop], so no layer needs to take a lock.
package reactor

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/pty-net/slipstack/internal"
)

// Loop is the single-goroutine reactor. The only two kinds of events it
// ever dispatches are: a callback posted from an asynchronous source (the
// serial endpoint's background reader) and a timer firing. Both are
// delivered as plain funcs run on the loop's own goroutine, matching the
// suspension points named in spec §5.
type Loop struct {
	clock clockwork.Clock
	tasks chan func()
	done  chan struct{}
	log   *slog.Logger
}

// New constructs a Loop. A nil clock defaults to the real wall clock.
func New(clock clockwork.Clock, log *slog.Logger) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Loop{
		clock: clock,
		tasks: make(chan func(), 256),
		done:  make(chan struct{}),
		log:   log,
	}
}

// Clock returns the loop's time source, shared by every timer-owning
// component so tests can drive a [clockwork.FakeClock] deterministically.
func (l *Loop) Clock() clockwork.Clock { return l.clock }

// Post enqueues fn to run on the loop's goroutine. Safe to call from any
// goroutine; this is how the serial endpoint's background reader and any
// other external event source hand control back to the single-threaded
// reactor.
func (l *Loop) Post(fn func()) {
	select {
	case l.tasks <- fn:
	case <-l.done:
	}
}

// Run drains posted callbacks until ctx is cancelled or Stop is called. It
// must be invoked from exactly one goroutine; every other piece of code in
// the stack must reach the protocol state exclusively through Post or
// through a timer callback.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case fn := <-l.tasks:
			l.runSafely(fn)
		}
	}
}

// Stop causes a running Loop.Run to return and further Post calls to be
// dropped silently.
func (l *Loop) Stop() {
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

// runSafely isolates the loop from a panicking callback, matching spec §4.1's
// requirement that an upper-layer fault must not corrupt lower-layer state:
// the callback itself is responsible for its own layer's invariants, but a
// single bad callback must not take down the whole reactor.
func (l *Loop) runSafely(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			internal.LogAttrs(l.log, slog.LevelError, "reactor: recovered panic in callback",
				slog.Any("panic", r))
		}
	}()
	fn()
}

// Timer is a single, cancellable, re-armable timer bound to a Loop. Every
// timer-owning component in the stack (the TCP retransmission timer) keeps
// at most one of these alive at a time, per spec §5's cancellation rule.
type Timer struct {
	loop *Loop
	t    clockwork.Timer
}

// AfterFunc arranges for fn to run on the loop's goroutine after d elapses.
// fn is never invoked directly on the clock's own goroutine, preserving the
// single-threaded invariant.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	tm := &Timer{loop: l}
	tm.t = l.clock.AfterFunc(d, func() { l.Post(fn) })
	return tm
}

// Stop cancels the timer. Returns false if the timer had already fired or
// been stopped.
func (tm *Timer) Stop() bool {
	if tm == nil || tm.t == nil {
		return false
	}
	return tm.t.Stop()
}

// Reset re-arms the timer to fire after d from now, rearming unconditionally
// as described in spec §4.3's retransmission design (the caller decides
// whether rearming is warranted, see spec §9's dead-rearm fix).
func (tm *Timer) Reset(d time.Duration) bool {
	if tm == nil || tm.t == nil {
		return false
	}
	return tm.t.Reset(d)
}
