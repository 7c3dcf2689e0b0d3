package ioevent

import (
	"encoding/binary"
	"time"

	"golang.org/x/sys/unix"
)

// TimerFunc is called by a Monitor when a Timer's descriptor reports an
// expiration tick.
type TimerFunc func(t *Timer)

// Timer is a readable source backed by a Linux timerfd: one-shot or
// periodic, exposing its expirations as IN readiness (§4.3).
type Timer struct {
	src      *Source
	periodMs int
	cb       TimerFunc
}

// NewTimer creates a disarmed-or-armed timer depending on periodMs (0 means
// one-shot disarmed; positive arms periodically, the first expiration one
// period from now). cb is required.
func NewTimer(periodMs int, cb TimerFunc) (*Timer, error) {
	if cb == nil {
		return nil, NewError("timer_init", ErrCodeInvalidParam, "nil callback")
	}

	fd, err := unix.TimerfdCreate(unix.CLOCK_MONOTONIC, unix.TFD_CLOEXEC|unix.TFD_NONBLOCK)
	if err != nil {
		return nil, WrapErrno("timer_init", -1, err.(unix.Errno))
	}

	t := &Timer{periodMs: periodMs, cb: cb}

	src, err := NewSource(fd, In, t.dispatch, nil)
	if err != nil {
		unix.Close(fd)
		return nil, err
	}
	t.src = src

	if periodMs > 0 {
		if err := t.arm(periodMs); err != nil {
			unix.Close(fd)
			return nil, err
		}
	}

	return t, nil
}

// Source returns the underlying source, for registration with a Monitor.
func (t *Timer) Source() *Source {
	return t.src
}

// SetPeriod re-arms (periodMs > 0) or disarms (periodMs == 0) the timer.
func (t *Timer) SetPeriod(periodMs int) error {
	t.periodMs = periodMs
	if periodMs == 0 {
		return t.disarm()
	}
	return t.arm(periodMs)
}

func (t *Timer) arm(periodMs int) error {
	d := time.Duration(periodMs) * time.Millisecond
	spec := unix.ItimerSpec{
		Interval: unix.NsecToTimespec(d.Nanoseconds()),
		Value:    unix.NsecToTimespec(d.Nanoseconds()),
	}
	if err := unix.TimerfdSettime(t.src.FD(), 0, &spec, nil); err != nil {
		return WrapErrno("timer_set_period", t.src.FD(), err.(unix.Errno))
	}
	return nil
}

func (t *Timer) disarm() error {
	var spec unix.ItimerSpec
	if err := unix.TimerfdSettime(t.src.FD(), 0, &spec, nil); err != nil {
		return WrapErrno("timer_set_period", t.src.FD(), err.(unix.Errno))
	}
	return nil
}

// dispatch reads the 8-byte expiration counter and invokes the user
// callback. EAGAIN means a spurious wakeup (already drained by a previous
// dispatch in the same batch) and is silently ignored.
func (t *Timer) dispatch(src *Source) {
	var buf [8]byte
	n, err := unix.Read(src.FD(), buf[:])
	if err != nil {
		if errno, ok := err.(unix.Errno); ok && (errno == unix.EAGAIN || errno == unix.EINTR) {
			return
		}
		return
	}
	if n != 8 {
		return
	}
	_ = binary.LittleEndian.Uint64(buf[:])

	t.cb(t)
}
