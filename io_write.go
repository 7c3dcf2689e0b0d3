package ioevent

import (
	"golang.org/x/sys/unix"

	"github.com/ncarrier/ioevent/internal/constants"
	"github.com/ncarrier/ioevent/internal/list"
)

// WriteState is the duplex engine's write-path state machine (§3, Duplex
// I/O).
type WriteState int

const (
	WriteStopped WriteState = iota
	WriteStarted
	WriteError
)

func (s WriteState) String() string {
	switch s {
	case WriteStopped:
		return "STOPPED"
	case WriteStarted:
		return "STARTED"
	case WriteError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// WriteStatus is the final status a write buffer's completion callback is
// invoked with, exactly once (§3, Write buffer; §6).
type WriteStatus int

const (
	StatusOK WriteStatus = iota
	StatusError
	StatusTimeout
	StatusAborted
)

func (s WriteStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusError:
		return "ERROR"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusAborted:
		return "ABORTED"
	default:
		return "UNKNOWN"
	}
}

// WriteBuffer is a caller-owned payload enqueued on the write path. The
// engine never copies or frees Data; OnComplete is invoked exactly once,
// after the buffer has been detached from the queue, and the caller may
// free Data inside it (§3, Write buffer).
type WriteBuffer struct {
	Data       []byte
	OnComplete func(buf *WriteBuffer, status WriteStatus)
	UserData   any

	written int
}

type writeContext struct {
	src *Source

	state     WriteState
	timeoutMs int
	timer     *Timer

	queue    list.List[*WriteBuffer]
	current  *WriteBuffer
	nbEAGAIN int
}

// WriteAdd appends buf to the tail of the write queue. If the engine was
// idle, this arms OUT monitoring and the watchdog timer (§4.6, write path).
func (io *Io) WriteAdd(buf *WriteBuffer) error {
	if buf == nil || buf.Data == nil {
		return NewError("write_add", ErrCodeInvalidParam, "nil buffer or payload")
	}
	if buf.OnComplete == nil {
		return NewError("write_add", ErrCodeInvalidParam, "nil completion callback")
	}

	w := &io.write
	wasIdle := w.current == nil && w.queue.Len() == 0

	w.queue.PushBack(buf)
	w.state = WriteStarted

	if wasIdle {
		if w.src != nil {
			if err := io.monitor.ActivateDirection(w.src, Out, true); err != nil {
				return err
			}
		}
		io.armWatchdog()
	}

	return nil
}

// WriteAbort completes current (if any) and every queued buffer with
// status ABORTED in FIFO order, deactivates OUT, disarms the watchdog, and
// transitions the write state to STOPPED (§4.6, testable property 5).
func (io *Io) WriteAbort() {
	w := &io.write

	if w.current != nil {
		cur := w.current
		w.current = nil
		io.completeBuffer(cur, StatusAborted)
	}
	io.drainQueue(StatusAborted)

	io.deactivateOut()
	w.state = WriteStopped
}

// onWritable implements §4.6's OUT-readiness steps for the write path.
func (io *Io) onWritable(src *Source) {
	w := &io.write
	if w.state != WriteStarted {
		return
	}

	if w.current == nil {
		buf, ok := w.queue.PopFront()
		if !ok {
			return
		}
		w.current = buf
		w.current.written = 0
		w.nbEAGAIN = 0
	}

	cur := w.current
	n, err := unix.Write(src.FD(), cur.Data[cur.written:])
	if err != nil {
		if errno, ok := err.(unix.Errno); ok && (errno == unix.EAGAIN || errno == unix.EWOULDBLOCK) {
			w.nbEAGAIN++
			io.metrics.recordEagain()
			if w.nbEAGAIN == constants.EagainHighWaterMark {
				io.logger.Warnf("%s: %d consecutive EAGAIN on write fd %d, watchdog governs progress", io.name, w.nbEAGAIN, src.FD())
			}
			return
		}
		io.failWrite(err)
		return
	}

	if n <= 0 {
		return
	}

	cur.written += n
	w.nbEAGAIN = 0
	io.armWatchdog()
	io.metrics.recordTx(n)

	if io.logTx {
		io.logger.Debugf("%s: tx %d bytes on fd %d", io.name, n, src.FD())
	}

	if cur.written < len(cur.Data) {
		return
	}

	w.current = nil
	io.completeBuffer(cur, StatusOK)

	if next, ok := w.queue.PopFront(); ok {
		w.current = next
		w.current.written = 0
		w.nbEAGAIN = 0
		io.armWatchdog()
		return
	}

	io.deactivateOut()
}

// onWatchdog implements §4.6's watchdog-expiry path: if OUT is still armed
// when the timer fires, every pending write completes with TIMEOUT and the
// write path moves to ERROR (§4.6, §8 testable property 6).
func (io *Io) onWatchdog(*Timer) {
	w := &io.write
	if w.src == nil || w.src.Active()&Out == 0 {
		return
	}
	io.metrics.recordTimerTick()

	if w.current != nil {
		cur := w.current
		w.current = nil
		io.completeBuffer(cur, StatusTimeout)
	}
	io.drainQueue(StatusTimeout)

	w.state = WriteError
	io.deactivateOut()
}

func (io *Io) failWrite(err error) {
	io.logger.Errorf("%s: write error: %v", io.name, err)

	w := &io.write
	if w.current != nil {
		cur := w.current
		w.current = nil
		io.completeBuffer(cur, StatusError)
	}
	io.drainQueue(StatusError)

	w.state = WriteError
	io.deactivateOut()
}

func (io *Io) drainQueue(status WriteStatus) {
	w := &io.write
	for {
		buf, ok := w.queue.PopFront()
		if !ok {
			break
		}
		io.completeBuffer(buf, status)
	}
}

func (io *Io) completeBuffer(buf *WriteBuffer, status WriteStatus) {
	buf.OnComplete(buf, status)
	io.metrics.recordWriteCompletion(status)
}

func (io *Io) armWatchdog() {
	if io.write.timer != nil {
		_ = io.write.timer.SetPeriod(io.write.timeoutMs)
	}
}

func (io *Io) deactivateOut() {
	w := &io.write
	if w.src != nil {
		_ = io.monitor.ActivateDirection(w.src, Out, false)
	}
	if w.timer != nil {
		_ = w.timer.SetPeriod(0)
	}
}

// WriteState returns the current write-path state.
func (io *Io) WriteState() WriteState {
	return io.write.state
}
