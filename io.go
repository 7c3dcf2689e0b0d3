package ioevent

import (
	"github.com/ncarrier/ioevent/internal/constants"
	"github.com/ncarrier/ioevent/internal/logging"
	"github.com/ncarrier/ioevent/internal/ringbuf"
)

// Io is a duplex I/O engine (C8): a ring-buffered non-blocking read path and
// a FIFO, timeout-guarded write path, composed on top of one or two
// descriptors registered with a Monitor (§4.6).
type Io struct {
	name string

	monitor *Monitor

	rxFD, txFD int
	sameFD     bool

	read  readContext
	write writeContext

	logger  *logging.Logger
	logRx   bool
	logTx   bool
	metrics *Metrics
}

// Option configures an Io at Create time.
type Option func(*ioOptions)

type ioOptions struct {
	ignoreEOF    bool
	writeTimeout int
	logger       *logging.Logger
	metrics      *Metrics
}

// WithIgnoreEOF makes the read path ignore zero-byte reads instead of
// transitioning to STOPPED (§4.6 read path, step 3).
func WithIgnoreEOF(ignore bool) Option {
	return func(o *ioOptions) { o.ignoreEOF = ignore }
}

// WithWriteTimeout overrides the write-ready watchdog timeout in
// milliseconds (default constants.DefaultWriteTimeout).
func WithWriteTimeout(ms int) Option {
	return func(o *ioOptions) { o.writeTimeout = ms }
}

// WithLogger overrides the engine's logger; nil restores the package
// default.
func WithLogger(l *logging.Logger) Option {
	return func(o *ioOptions) {
		if l == nil {
			l = logging.Default()
		}
		o.logger = l
	}
}

// WithMetrics attaches a counters collector to the engine's read/write
// paths; recording is a no-op if never set.
func WithMetrics(m *Metrics) Option {
	return func(o *ioOptions) { o.metrics = m }
}

// Create builds a duplex engine over fdIn/fdOut and registers its sources
// with monitor. If fdIn == fdOut, a single DUPLEX source serves both
// directions; otherwise one IN source and one OUT source are used. Both
// paths start STOPPED: no read callback installed, no queued writes, the
// watchdog disarmed, OUT masked off (§4.6, Creation).
func Create(monitor *Monitor, name string, fdIn, fdOut int, opts ...Option) (*Io, error) {
	if monitor == nil {
		return nil, NewError("io_create", ErrCodeInvalidParam, "nil monitor")
	}
	if fdIn < 0 && fdOut < 0 {
		return nil, NewError("io_create", ErrCodeInvalidParam, "no descriptor given")
	}

	o := ioOptions{
		writeTimeout: int(constants.DefaultWriteTimeout.Milliseconds()),
		logger:       logging.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}

	io := &Io{
		name:    name,
		monitor: monitor,
		rxFD:    fdIn,
		txFD:    fdOut,
		sameFD:  fdIn == fdOut,
		logger:  o.logger,
		metrics: o.metrics,
	}

	io.read.ring = ringbuf.New(constants.RingBufferSize)
	io.read.state = ReadStopped
	io.read.ignoreEOF = o.ignoreEOF

	io.write.state = WriteStopped
	io.write.timeoutMs = o.writeTimeout

	if io.sameFD {
		src, err := NewSource(fdIn, Duplex, io.dispatch, io.cleanShared)
		if err != nil {
			return nil, err
		}
		if err := monitor.AddSource(src); err != nil {
			return nil, err
		}
		io.read.src = src
		io.write.src = src
	} else {
		if fdIn >= 0 {
			rsrc, err := NewSource(fdIn, In, io.dispatch, io.cleanRead)
			if err != nil {
				return nil, err
			}
			if err := monitor.AddSource(rsrc); err != nil {
				return nil, err
			}
			io.read.src = rsrc
		}
		if fdOut >= 0 {
			wsrc, err := NewSource(fdOut, Out, io.dispatch, io.cleanWrite)
			if err != nil {
				if io.read.src != nil {
					monitor.removeByFD(io.read.src.fd)
				}
				return nil, err
			}
			if err := monitor.AddSource(wsrc); err != nil {
				if io.read.src != nil {
					monitor.removeByFD(io.read.src.fd)
				}
				return nil, err
			}
			io.write.src = wsrc
		}
	}

	timer, err := NewTimer(0, io.onWatchdog)
	if err != nil {
		io.Destroy()
		return nil, err
	}
	if err := monitor.AddSource(timer.Source()); err != nil {
		io.Destroy()
		return nil, err
	}
	io.write.timer = timer

	return io, nil
}

// Name returns the engine's diagnostic name.
func (io *Io) Name() string {
	return io.name
}

// LogRx toggles traffic logging for the read direction.
func (io *Io) LogRx(enable bool) {
	io.logRx = enable
}

// LogTx toggles traffic logging for the write direction.
func (io *Io) LogTx(enable bool) {
	io.logTx = enable
}

// dispatch is the shared source dispatch hook: it routes readiness to the
// read and/or write path depending on which bits were reported, tolerating
// a single DUPLEX source serving both.
func (io *Io) dispatch(src *Source) {
	if src.Events&In != 0 && io.read.src == src {
		io.onReadable(src)
	}
	if src.Events&Out != 0 && io.write.src == src {
		io.onWritable(src)
	}
}

// With ignoreEOF set, removal of the read source (e.g. on a peer's RDHUP)
// leaves the read state as it is, so an ignored EOF never reads as STOPPED.
func (io *Io) cleanShared(*Source) {
	if !io.read.ignoreEOF {
		io.read.state = ReadStopped
	}
	io.write.state = WriteStopped
}

func (io *Io) cleanRead(*Source) {
	if !io.read.ignoreEOF {
		io.read.state = ReadStopped
	}
}

func (io *Io) cleanWrite(*Source) {
	io.write.state = WriteStopped
}

// Destroy aborts all pending writes, stops reads, removes both sources
// (and the watchdog timer) from the monitor, and clears engine state
// (§4.6, Destruction).
func (io *Io) Destroy() error {
	io.WriteAbort()
	io.ReadStop()

	if io.write.timer != nil {
		io.monitor.removeByFD(io.write.timer.Source().fd)
		io.write.timer = nil
	}

	if io.sameFD {
		if io.read.src != nil {
			io.monitor.removeByFD(io.read.src.fd)
		}
	} else {
		if io.read.src != nil {
			io.monitor.removeByFD(io.read.src.fd)
		}
		if io.write.src != nil {
			io.monitor.removeByFD(io.write.src.fd)
		}
	}

	io.read.src = nil
	io.write.src = nil

	return nil
}
