package ioevent

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/ncarrier/ioevent/internal/constants"
	"github.com/ncarrier/ioevent/internal/list"
	"github.com/ncarrier/ioevent/internal/logging"
)

// Monitor owns a set of sources and exposes one readiness descriptor for an
// external event loop to wait on. It is not safe for concurrent use: the
// core is single-threaded cooperative (SPEC_FULL.md §5).
type Monitor struct {
	epfd    int
	sources list.List[*Source]
	byFD    map[int]*list.Node[*Source]

	scratch [constants.MonitorMaxEvents]unix.EpollEvent

	logger  *logging.Logger
	metrics *Metrics
}

// SetMetrics attaches a counters collector; nil detaches it. Recording is a
// no-op on a nil receiver, so this is safe to leave unset.
func (m *Monitor) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// New creates an empty monitor, ready for use in an event loop. The
// readiness descriptor is opened close-on-exec.
func New() (*Monitor, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, WrapErrno("monitor_new", -1, err.(unix.Errno))
	}

	return &Monitor{
		epfd:   epfd,
		byFD:   make(map[int]*list.Node[*Source]),
		logger: logging.Default(),
	}, nil
}

// SetLogger overrides the monitor's logger; nil restores the package
// default.
func (m *Monitor) SetLogger(l *logging.Logger) {
	if l == nil {
		l = logging.Default()
	}
	m.logger = l
}

// GetReadinessFD returns the descriptor the external loop must wait on.
func (m *Monitor) GetReadinessFD() int {
	return m.epfd
}

// AddSource registers src with the monitor. The descriptor is forced
// non-blocking; duplicate descriptors are rejected with ErrCodeDuplicateSource.
// Only the IN direction (if present in src's direction type) is activated
// by default; OUT must be enabled explicitly via ActivateDirection.
func (m *Monitor) AddSource(src *Source) error {
	if src == nil {
		return NewError("add_source", ErrCodeInvalidParam, "nil source")
	}
	if src.Dispatch == nil {
		return NewError("add_source", ErrCodeInvalidParam, "source has no dispatch hook")
	}
	if _, exists := m.byFD[src.fd]; exists {
		return NewSourceError("add_source", src.fd, ErrCodeDuplicateSource, "descriptor already registered")
	}

	if err := unix.SetNonblock(src.fd, true); err != nil {
		return WrapErrno("add_source", src.fd, err.(unix.Errno))
	}

	src.active = src.typ &^ Out

	node := m.sources.PushBack(src)
	src.node = node
	m.byFD[src.fd] = node

	if err := m.register(src); err != nil {
		m.sources.Remove(node)
		delete(m.byFD, src.fd)
		return err
	}

	m.metrics.recordSourceAdded()
	return nil
}

// AddSources registers each of srcs in order, stopping and returning the
// first error. Recovered from the original's NULL-terminated varargs
// add-many helper (SPEC_FULL.md, Features Recovered #1).
func (m *Monitor) AddSources(srcs ...*Source) error {
	for _, src := range srcs {
		if err := m.AddSource(src); err != nil {
			return err
		}
	}
	return nil
}

// ActivateDirection toggles monitoring of direction (In or Out) for src. A
// no-op, returning nil, if the mask doesn't actually change.
func (m *Monitor) ActivateDirection(src *Source, direction Direction, on bool) error {
	if src == nil {
		return NewError("activate_direction", ErrCodeInvalidParam, "nil source")
	}
	if direction != In && direction != Out {
		return NewError("activate_direction", ErrCodeInvalidParam, "direction must be exactly In or Out")
	}
	if direction&src.typ == 0 {
		return NewSourceError("activate_direction", src.fd, ErrCodeInvalidParam, "direction not in source's direction type")
	}

	before := src.active
	if on {
		src.active |= direction
	} else {
		src.active &^= direction
	}
	if before == src.active {
		return nil
	}

	return m.alter(src, unix.EPOLL_CTL_MOD)
}

// ProcessEvents performs one non-blocking drain of up to MonitorMaxEvents
// readiness entries, dispatching each in the order reported. Sources
// reporting any error bit are removed after their dispatch hook runs.
func (m *Monitor) ProcessEvents() error {
	n, err := unix.EpollWait(m.epfd, m.scratch[:], 0)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok && errno == unix.EINTR {
			return nil
		}
		return WrapErrno("process_events", m.epfd, err.(unix.Errno))
	}

	for i := 0; i < n; i++ {
		m.dispatchEvent(m.scratch[i])
	}

	return nil
}

func (m *Monitor) dispatchEvent(ev unix.EpollEvent) {
	node, ok := m.byFD[int(ev.Fd)]
	if !ok {
		return
	}
	src := node.Value()

	src.Events = Direction(ev.Events)
	if !src.hasPendingEvents() {
		m.metrics.recordStaleSuppressed()
		return
	}

	src.Dispatch(src)
	m.metrics.recordDispatch()

	if src.hasError() {
		m.removeByFD(src.fd)
	}
}

// Clean removes every registered source (closing its descriptor and
// invoking its clean hook) and closes the readiness descriptor.
func (m *Monitor) Clean() error {
	for {
		node := m.sources.Front()
		if node == nil {
			break
		}
		src := node.Value()
		isError := src.hasError()
		m.remove(src)
		m.metrics.recordSourceRemoved(isError)
	}

	err := unix.Close(m.epfd)
	m.epfd = -1
	m.byFD = nil
	if err != nil {
		return WrapErrno("monitor_clean", -1, err.(unix.Errno))
	}
	return nil
}

func (m *Monitor) register(src *Source) error {
	if err := m.alter(src, unix.EPOLL_CTL_ADD); err != nil {
		return err
	}
	return nil
}

func (m *Monitor) alter(src *Source, op int) error {
	ev := unix.EpollEvent{
		Events: uint32(src.active | errorEvents),
		Fd:     int32(src.fd),
	}

	if err := unix.EpollCtl(m.epfd, op, src.fd, &ev); err != nil {
		return WrapErrno("epoll_ctl", src.fd, err.(unix.Errno))
	}
	return nil
}

func (m *Monitor) removeByFD(fd int) {
	node, ok := m.byFD[fd]
	if !ok {
		return
	}
	src := node.Value()
	isError := src.hasError()
	m.remove(src)
	m.metrics.recordSourceRemoved(isError)
}

func (m *Monitor) remove(src *Source) {
	node, ok := m.byFD[src.fd]
	if !ok {
		return
	}

	fd := src.fd
	if src.active != 0 {
		_ = unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, &unix.EpollEvent{})
	}

	m.sources.Remove(node)
	delete(m.byFD, fd)

	src.cleanup()
}

// DumpEpollEvents renders an epoll event bitset in the exact format the
// original's diagnostic dump produces (SPEC_FULL.md, Features Recovered
// #2; spec.md §8 scenario S2).
func DumpEpollEvents(events Direction) string {
	var b strings.Builder
	b.WriteString("epoll events :\n")

	if events&In != 0 {
		b.WriteString("\tEPOLLIN\n")
	}
	if events&Out != 0 {
		b.WriteString("\tEPOLLOUT\n")
	}
	if events&RDHup != 0 {
		b.WriteString("\tEPOLLRDHUP\n")
	}
	if events&Err != 0 {
		b.WriteString("\tEPOLLERR\n")
	}
	if events&Hup != 0 {
		b.WriteString("\tEPOLLHUP\n")
	}

	return b.String()
}

func (m *Monitor) String() string {
	return fmt.Sprintf("Monitor{epfd=%d, sources=%d}", m.epfd, m.sources.Len())
}
