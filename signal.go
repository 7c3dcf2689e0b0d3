package ioevent

import (
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// SignalFunc is called by a Monitor when a Signal source's descriptor
// reports a delivered signal, with the decoded signalfd_siginfo record.
type SignalFunc func(s *Signal, info *unix.SignalfdSiginfo)

// Signal is a readable source that demultiplexes a set of blocked signals
// through a signalfd (§4.4). The monitored set is blocked process-wide for
// the lifetime of the source and the prior mask is restored on Clean.
type Signal struct {
	src     *Source
	set     unix.Sigset_t
	prior   unix.Sigset_t
	lastInfo unix.SignalfdSiginfo
	cb      SignalFunc
	metrics *Metrics
}

// SetMetrics attaches a counters collector; nil detaches it. Recording is a
// no-op on a nil receiver, so this is safe to leave unset.
func (s *Signal) SetMetrics(metrics *Metrics) {
	s.metrics = metrics
}

// NewSignal blocks sigs process-wide, recording the previous mask, and
// opens a signalfd for exactly that set. SIGKILL and SIGSTOP are rejected
// with ErrCodeInvalidParam (neither can be blocked or caught; §4.4, S5).
func NewSignal(cb SignalFunc, sigs ...unix.Signal) (*Signal, error) {
	if cb == nil {
		return nil, NewError("signal_init", ErrCodeInvalidParam, "nil callback")
	}
	if len(sigs) == 0 {
		return nil, NewError("signal_init", ErrCodeInvalidParam, "empty signal set")
	}
	for _, sig := range sigs {
		if sig == unix.SIGKILL || sig == unix.SIGSTOP {
			return nil, NewError("signal_init", ErrCodeInvalidParam, "SIGKILL/SIGSTOP cannot be monitored")
		}
	}

	var set unix.Sigset_t
	for _, sig := range sigs {
		addSignal(&set, sig)
	}

	// Mask manipulation is thread-scoped on Linux; lock to the calling OS
	// thread for the duration of the block/signalfd-open sequence so the
	// prior mask we save and later restore is the one actually observed by
	// this goroutine's carrier thread (mirrors the teacher's affinity-
	// sensitive syscalls under runtime.LockOSThread).
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	var prior unix.Sigset_t
	if err := unix.PthreadSigmask(unix.SIG_BLOCK, &set, &prior); err != nil {
		return nil, WrapErrno("signal_init", -1, err.(unix.Errno))
	}

	fd, err := unix.Signalfd(-1, &set, unix.SFD_CLOEXEC|unix.SFD_NONBLOCK)
	if err != nil {
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &prior, nil)
		return nil, WrapErrno("signal_init", -1, err.(unix.Errno))
	}

	s := &Signal{set: set, prior: prior, cb: cb}

	src, err := NewSource(fd, In, s.dispatch, s.onClean)
	if err != nil {
		unix.Close(fd)
		_ = unix.PthreadSigmask(unix.SIG_SETMASK, &prior, nil)
		return nil, err
	}
	s.src = src

	return s, nil
}

// Source returns the underlying source, for registration with a Monitor.
func (s *Signal) Source() *Source {
	return s.src
}

// LastInfo returns the most recently decoded signalfd_siginfo record.
func (s *Signal) LastInfo() unix.SignalfdSiginfo {
	return s.lastInfo
}

func (s *Signal) dispatch(src *Source) {
	var info unix.SignalfdSiginfo
	size := int(unsafe.Sizeof(info))
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&info)), size)

	n, err := unix.Read(src.FD(), buf)
	if err != nil {
		if errno, ok := err.(unix.Errno); ok && (errno == unix.EAGAIN || errno == unix.EINTR) {
			return
		}
		return
	}
	if n != size {
		return
	}

	s.lastInfo = info
	s.metrics.recordSignal()
	s.cb(s, &info)
}

// onClean restores the signal mask saved at NewSignal time (§4.4, testable
// property 10).
func (s *Signal) onClean(*Source) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	_ = unix.PthreadSigmask(unix.SIG_SETMASK, &s.prior, nil)
}

// addSignal sets sig's bit in set. unix.Sigset_t has no portable setter of
// its own (it is a raw fixed-size word array mirroring glibc's sigset_t).
func addSignal(set *unix.Sigset_t, sig unix.Signal) {
	bit := uint(sig) - 1
	word := bit / 64
	if int(word) >= len(set.Val) {
		return
	}
	set.Val[word] |= 1 << (bit % 64)
}
