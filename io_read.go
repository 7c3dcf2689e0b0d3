package ioevent

import (
	"golang.org/x/sys/unix"

	"github.com/ncarrier/ioevent/internal/ringbuf"
)

// ReadState is the duplex engine's read-path state machine (§3, Duplex I/O).
type ReadState int

const (
	ReadStopped ReadState = iota
	ReadStarted
	ReadError
)

func (s ReadState) String() string {
	switch s {
	case ReadStopped:
		return "STOPPED"
	case ReadStarted:
		return "STARTED"
	case ReadError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// ReadFunc is the duplex engine's read callback contract (§6). Returning 0
// keeps all buffered bytes for later; a positive value indicates at least
// one frame was consumed and the callback has advanced the ring buffer's
// read cursor itself.
type ReadFunc func(io *Io, ring *ringbuf.RingBuffer, newBytes int, userData any) int

type readContext struct {
	src *Source

	state ReadState
	ring  *ringbuf.RingBuffer

	cb        ReadFunc
	userData  any
	ignoreEOF bool

	eofLogged bool
}

// ReadStart installs cb and transitions the read path to STARTED. Requires
// the current state to be STOPPED or ERROR. If clear is true, the ring
// buffer is reset (read pointer = write pointer) before starting.
func (io *Io) ReadStart(cb ReadFunc, userData any, clear bool) error {
	if cb == nil {
		return NewError("read_start", ErrCodeInvalidParam, "nil callback")
	}
	if io.read.state == ReadStarted {
		return NewSourceError("read_start", io.read.fd(), ErrCodeInvalidParam, "read path already started")
	}

	if clear {
		io.read.ring.Reset()
	}

	io.read.cb = cb
	io.read.userData = userData
	io.read.state = ReadStarted
	io.read.eofLogged = false

	return nil
}

// ReadStop clears the callback and transitions to STOPPED; the
// source itself stays registered with the monitor.
func (io *Io) ReadStop() {
	io.read.cb = nil
	io.read.state = ReadStopped
}

// ReadState returns the current read-path state.
func (io *Io) ReadState() ReadState {
	return io.read.state
}

func (r *readContext) fd() int {
	if r.src == nil {
		return -1
	}
	return r.src.FD()
}

// onReadable implements §4.6's IN-readiness steps for the read path.
func (io *Io) onReadable(src *Source) {
	r := &io.read
	if r.state != ReadStarted {
		return
	}

	dst := r.ring.Writable()
	if len(dst) == 0 {
		return
	}

	n, err := unix.Read(src.FD(), dst)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK) {
			return
		}
		io.logger.Errorf("%s: read error on fd %d: %v", io.name, src.FD(), err)
		r.state = ReadError
		return
	}

	if n == 0 {
		if r.ignoreEOF {
			return
		}
		if !r.eofLogged {
			io.logger.Infof("%s: EOF on fd %d", io.name, src.FD())
			r.eofLogged = true
		}
		r.state = ReadStopped
		return
	}

	r.ring.Commit(n)
	io.metrics.recordRx(n)

	if io.logRx {
		io.logger.Debugf("%s: rx %d bytes on fd %d", io.name, n, src.FD())
	}

	r.cb(io, r.ring, n, r.userData)
}
