package ioevent

import (
	"golang.org/x/sys/unix"

	"github.com/ncarrier/ioevent/internal/logging"
)

// MessageFunc is called by a Monitor when a Message source has finished an
// IN transfer (perform_io) or needs the caller to populate the next OUT
// payload.
type MessageFunc func(m *Message)

// MessageCleanFunc mirrors the user clean hook named in §4.5, invoked from
// the source's own cleanup after the descriptor is closed.
type MessageCleanFunc func(m *Message)

// Message is a fixed-length message-framing source (§4.5, C7): every IN
// readiness yields exactly L bytes into RecvBuf (or fails the source), and
// every OUT readiness asks the caller to fill SendBuf before writing L
// bytes.
type Message struct {
	src *Source

	length int
	typ    Direction

	performIO bool

	recvBuf []byte
	sendBuf []byte

	cb      MessageFunc
	cleanCB MessageCleanFunc

	logger *logging.Logger
}

// NewMessage creates a message source over fd with the given direction
// type. length is the fixed frame size L. When performIO is true the
// source itself reads/writes L bytes around each callback invocation (per
// §4.5); when false, the callback alone is responsible for the transfer
// and this source only signals readiness.
func NewMessage(fd int, typ Direction, length int, performIO bool, cb MessageFunc, clean MessageCleanFunc) (*Message, error) {
	if length <= 0 {
		return nil, NewError("message_init", ErrCodeInvalidParam, "non-positive length")
	}
	if cb == nil {
		return nil, NewError("message_init", ErrCodeInvalidParam, "nil callback")
	}

	m := &Message{
		length:    length,
		typ:       typ,
		performIO: performIO,
		recvBuf:   make([]byte, length),
		cb:        cb,
		cleanCB:   clean,
		logger:    logging.Default(),
	}

	src, err := NewSource(fd, typ, m.dispatch, m.onClean)
	if err != nil {
		return nil, err
	}
	m.src = src

	return m, nil
}

// Source returns the underlying source, for registration with a Monitor.
func (m *Message) Source() *Source {
	return m.src
}

// SetNextMessage sets the payload to be written on the next OUT readiness.
// Its length must equal L.
func (m *Message) SetNextMessage(buf []byte) error {
	if len(buf) != m.length {
		return NewSourceError("set_next_message", m.src.FD(), ErrCodeInvalidParam, "payload length does not match fixed message length")
	}
	m.sendBuf = buf
	return nil
}

// GetMessage returns the most recently received fixed-length payload.
func (m *Message) GetMessage() []byte {
	return m.recvBuf
}

func (m *Message) dispatch(src *Source) {
	if src.Events&In != 0 {
		m.dispatchIn(src)
	}
	if src.Events&Out != 0 {
		m.dispatchOut(src)
	}
}

// dispatchIn implements §4.5's IN path: a short read is a hard error (EIO),
// recovered from the original's in_msg length check.
func (m *Message) dispatchIn(src *Source) {
	if !m.performIO {
		m.cb(m)
		return
	}

	n, err := unix.Read(src.FD(), m.recvBuf)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK) {
			return
		}
		m.fail(src, "message_in")
		return
	}
	if n != m.length {
		m.logger.Warnf("message: short read on fd %d: got %d, want %d", src.FD(), n, m.length)
		m.fail(src, "message_in")
		return
	}

	m.cb(m)
}

// dispatchOut implements §4.5's OUT path. Unlike dispatchIn, a short write
// is not promoted to a hard failure (recovered original behavior, SPEC_FULL
// Features Recovered #5) — it is logged at Warn level only.
func (m *Message) dispatchOut(src *Source) {
	m.cb(m)

	if !m.performIO {
		return
	}
	if m.sendBuf == nil {
		return
	}

	n, err := unix.Write(src.FD(), m.sendBuf)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK) {
			return
		}
		m.fail(src, "message_out")
		return
	}
	if n != m.length {
		m.logger.Warnf("message: short write on fd %d: wrote %d, want %d", src.FD(), n, m.length)
	}

	m.sendBuf = nil
}

// fail forces the source's next observation to be error-removed by setting
// the ERR bit directly on Events; the monitor's dispatch loop already
// checked hasPendingEvents before calling us, so we rely on the monitor's
// post-dispatch hasError check seeing this bit.
func (m *Message) fail(src *Source, op string) {
	src.Events |= Err
	m.logger.Errorf("%s: fd %d failed, marking for removal", op, src.FD())
}

func (m *Message) onClean(*Source) {
	if m.cleanCB != nil {
		m.cleanCB(m)
	}
}
