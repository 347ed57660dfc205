//go:build linux

package serial

import (
	"fmt"
	"log/slog"
	"os"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/pty-net/slipstack/internal"
	"github.com/pty-net/slipstack/reactor"
)

// PTY is a Linux pseudo-terminal backed [Line], opened in raw mode exactly
// as the original `physical_layer/pty.py` configures its PTY (cfmakeraw
// equivalent, 115200 baud, non-blocking reads). Grounded on the teacher's
// `internal.Tap` (`/dev/net/tun` opened via raw syscalls, errors wrapped
// with `os.NewSyscallError`) for the idiom of talking to a Linux character
// device without a third-party serial library.
type PTY struct {
	loop *reactor.Loop
	log  *slog.Logger

	master *os.File
	name   string

	mu     sync.Mutex
	cb     func([]byte)
	closed bool
}

// Name returns the path of the PTY's slave end, the device the peer (e.g.
// `slattach`) should attach to.
func (p *PTY) Name() string { return p.name }

// OpenPTY allocates a new Linux pseudo-terminal, puts it in raw mode at
// 115200 baud, and starts a background reader goroutine that hands bytes to
// the reactor loop via [reactor.Loop.Post] — this is the one allowed
// asynchronous boundary described in spec §5 ("the serial-read readiness
// callback").
func OpenPTY(loop *reactor.Loop, log *slog.Logger) (*PTY, error) {
	masterFd, err := unix.Open("/dev/ptmx", unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serial: opening /dev/ptmx: %w", os.NewSyscallError("open", err))
	}
	if err := unix.IoctlSetInt(masterFd, unix.TIOCSPTLCK, 0); err != nil {
		unix.Close(masterFd)
		return nil, fmt.Errorf("serial: unlockpt: %w", os.NewSyscallError("ioctl", err))
	}
	slaveNum, err := unix.IoctlGetInt(masterFd, unix.TIOCGPTN)
	if err != nil {
		unix.Close(masterFd)
		return nil, fmt.Errorf("serial: grantpt/ptsname: %w", os.NewSyscallError("ioctl", err))
	}
	termios, err := unix.IoctlGetTermios(masterFd, unix.TCGETS)
	if err != nil {
		unix.Close(masterFd)
		return nil, fmt.Errorf("serial: tcgetattr: %w", os.NewSyscallError("ioctl", err))
	}
	makeRaw(termios)
	termios.Ispeed = unix.B115200
	termios.Ospeed = unix.B115200
	if err := unix.IoctlSetTermios(masterFd, unix.TCSETS, termios); err != nil {
		unix.Close(masterFd)
		return nil, fmt.Errorf("serial: tcsetattr: %w", os.NewSyscallError("ioctl", err))
	}

	p := &PTY{
		loop:   loop,
		log:    log,
		master: os.NewFile(uintptr(masterFd), "/dev/ptmx"),
		name:   fmt.Sprintf("/dev/pts/%d", slaveNum),
	}
	go p.readLoop()
	return p, nil
}

// makeRaw clears the flags termios(3)'s cfmakeraw clears, mirroring the
// original PTY class's manual bit-clearing of iflag/oflag/cflag/lflag.
func makeRaw(t *unix.Termios) {
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP |
		unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
}

func (p *PTY) readLoop() {
	buf := make([]byte, 2048)
	for {
		n, err := p.master.Read(buf)
		if n > 0 {
			chunk := append([]byte(nil), buf[:n]...)
			p.loop.Post(func() { p.deliver(chunk) })
		}
		if err != nil {
			// EIO (and plain EOF once the slave side hangs up) means the
			// peer closed; spec §7 treats this as peer-closed, not an error
			// to propagate.
			internal.LogAttrs(p.log, slog.LevelInfo, "serial: line closed", slog.String("name", p.name), slog.String("err", err.Error()))
			p.loop.Post(func() { p.deliver(nil) })
			return
		}
	}
}

func (p *PTY) deliver(data []byte) {
	p.mu.Lock()
	cb := p.cb
	p.mu.Unlock()
	if cb != nil {
		cb(data)
	}
}

// RegisterReceiver implements [Line].
func (p *PTY) RegisterReceiver(cb func(data []byte)) {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
}

// Send implements [Line].
func (p *PTY) Send(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	_, err := p.master.Write(data)
	if err != nil {
		logClose(p.log, p.name, err)
		return fmt.Errorf("serial: write: %w", err)
	}
	return nil
}

// Close releases the PTY's master file descriptor.
func (p *PTY) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.master.Close()
}
