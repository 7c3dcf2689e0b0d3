package ioevent

import (
	"golang.org/x/sys/unix"

	"github.com/ncarrier/ioevent/internal/list"
)

// Direction is the bitset of I/O readiness a Source can be interested in or
// can report. The IN/OUT bits mirror EPOLLIN/EPOLLOUT; ERR/HUP/RDHUP mirror
// the corresponding epoll error bits and are always implicitly monitored
// once a source is registered with a Monitor.
type Direction uint32

const (
	// In is readiness for reading.
	In Direction = Direction(unix.EPOLLIN)
	// Out is readiness for writing.
	Out Direction = Direction(unix.EPOLLOUT)
	// Err is an error condition on the descriptor.
	Err Direction = Direction(unix.EPOLLERR)
	// Hup is a hang-up condition.
	Hup Direction = Direction(unix.EPOLLHUP)
	// RDHup is a half-closed (shutdown-for-write on the peer) condition.
	RDHup Direction = Direction(unix.EPOLLRDHUP)

	// Duplex is a source capable of both directions, e.g. the single fd of
	// a connected socket.
	Duplex Direction = In | Out

	// errorEvents is the set of bits that, when observed on a dispatch,
	// force removal of the source after its callback runs.
	errorEvents Direction = Err | Hup | RDHup
)

// DispatchFunc is called by a Monitor when a source has pending events. The
// source's Events field has already been filled in with the reported bits.
type DispatchFunc func(src *Source)

// CleanFunc is called once, after a source's descriptor has been closed,
// to let the owner release associated resources.
type CleanFunc func(src *Source)

// Source wraps one file descriptor with an I/O intent: the subset of
// directions it may ever serve, the subset currently requested, and the
// hooks a Monitor invokes on readiness and on removal.
type Source struct {
	fd    int
	typ   Direction // direction type: the directions this source can ever serve
	active Direction // active mask: directions currently requested

	// Events holds the bitset most recently reported by the readiness
	// mechanism, valid only during Dispatch.
	Events Direction

	Dispatch DispatchFunc
	clean    CleanFunc

	node *list.Node[*Source]
}

// NewSource initializes a source over fd with the given direction
// capabilities. dispatch is required; a source with no dispatch hook
// cannot be added to a Monitor. clean may be nil.
func NewSource(fd int, typ Direction, dispatch DispatchFunc, clean CleanFunc) (*Source, error) {
	if fd < 0 {
		return nil, NewError("source_init", ErrCodeInvalidParam, "negative file descriptor")
	}
	if typ == 0 {
		return nil, NewError("source_init", ErrCodeInvalidParam, "empty direction type")
	}
	if dispatch == nil {
		return nil, NewError("source_init", ErrCodeInvalidParam, "nil dispatch hook")
	}

	return &Source{
		fd:       fd,
		typ:      typ,
		Dispatch: dispatch,
		clean:    clean,
	}, nil
}

// FD returns the underlying file descriptor, or -1 if the source has been
// cleaned.
func (s *Source) FD() int {
	if s == nil {
		return -1
	}
	return s.fd
}

// DirectionType returns the set of directions this source can ever serve.
func (s *Source) DirectionType() Direction {
	return s.typ
}

// Active returns the subset of DirectionType currently requested from the
// readiness mechanism.
func (s *Source) Active() Direction {
	return s.active
}

// hasPendingEvents reports whether Events still intersects the directions
// this source is actively registered for, or carries an error bit. Used by
// the monitor to suppress stale deliveries (§4.2, testable property 8).
func (s *Source) hasPendingEvents() bool {
	return s.Events&(s.active|errorEvents) != 0
}

// hasError reports whether Events carries any error bit.
func (s *Source) hasError() bool {
	return s.Events&errorEvents != 0
}

// cleanup closes the descriptor (if still open), invokes the clean hook, and
// zeroes the source so it is safe, if inert, to reuse the struct.
func (s *Source) cleanup() {
	if s.fd >= 0 {
		unix.Close(s.fd)
	}
	s.fd = -1
	s.active = 0
	s.Events = 0
	if s.clean != nil {
		s.clean(s)
	}
}
