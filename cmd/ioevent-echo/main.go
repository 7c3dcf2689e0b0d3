// Command ioevent-echo wires a Monitor, a duplex Io engine over stdin/stdout,
// a heartbeat Timer, and a Signal source into one event loop: it echoes
// every line it reads back out, logs a metrics snapshot on each heartbeat,
// and shuts down cleanly on SIGINT/SIGTERM.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ncarrier/ioevent"
	"github.com/ncarrier/ioevent/internal/logging"
	"github.com/ncarrier/ioevent/internal/ringbuf"
)

func main() {
	var (
		verbose     = flag.Bool("v", false, "verbose output")
		heartbeatMs = flag.Int("heartbeat-ms", 2000, "metrics heartbeat period, in milliseconds")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	metrics := ioevent.NewMetrics()

	monitor, err := ioevent.New()
	if err != nil {
		logger.Error("failed to create monitor", "error", err)
		os.Exit(1)
	}
	monitor.SetLogger(logger)
	monitor.SetMetrics(metrics)
	defer monitor.Clean()

	duplex, err := ioevent.Create(monitor, "stdio-echo", int(os.Stdin.Fd()), int(os.Stdout.Fd()),
		ioevent.WithLogger(logger),
		ioevent.WithMetrics(metrics),
		ioevent.WithWriteTimeout(5000),
	)
	if err != nil {
		logger.Error("failed to create duplex engine", "error", err)
		os.Exit(1)
	}
	defer duplex.Destroy()

	err = duplex.ReadStart(func(io *ioevent.Io, ring *ringbuf.RingBuffer, newBytes int, userData any) int {
		data := ring.Readable()
		ring.Advance(len(data))

		buf := &ioevent.WriteBuffer{
			Data: append([]byte(nil), data...),
			OnComplete: func(buf *ioevent.WriteBuffer, status ioevent.WriteStatus) {
				if status != ioevent.StatusOK {
					logger.Warn("echo write did not complete cleanly", "status", status)
				}
			},
		}
		if err := io.WriteAdd(buf); err != nil {
			logger.Error("failed to queue echo", "error", err)
		}
		return len(data)
	}, nil, false)
	if err != nil {
		logger.Error("failed to start read path", "error", err)
		os.Exit(1)
	}

	heartbeat, err := ioevent.NewTimer(*heartbeatMs, func(*ioevent.Timer) {
		snap := metrics.Snapshot()
		logger.Info("heartbeat",
			"dispatches", snap.Dispatches,
			"rx_bytes", snap.RxBytes,
			"tx_bytes", snap.TxBytes,
			"writes_ok", snap.WritesOK,
			"writes_timeout", snap.WritesTimeout,
		)
	})
	if err != nil {
		logger.Error("failed to create heartbeat timer", "error", err)
		os.Exit(1)
	}
	if err := monitor.AddSource(heartbeat.Source()); err != nil {
		logger.Error("failed to register heartbeat timer", "error", err)
		os.Exit(1)
	}

	done := make(chan struct{})
	shutdown, err := ioevent.NewSignal(func(s *ioevent.Signal, info *unix.SignalfdSiginfo) {
		logger.Info("received shutdown signal", "signal", info.Signo)
		close(done)
	}, unix.SIGINT, unix.SIGTERM)
	if err != nil {
		logger.Error("failed to create signal source", "error", err)
		os.Exit(1)
	}
	if err := monitor.AddSource(shutdown.Source()); err != nil {
		logger.Error("failed to register signal source", "error", err)
		os.Exit(1)
	}

	fmt.Fprintln(os.Stderr, "ioevent-echo running, send Ctrl+C to stop")

	for {
		select {
		case <-done:
			snap := metrics.Snapshot()
			logger.Info("final metrics", "dispatches", snap.Dispatches, "rx_bytes", snap.RxBytes, "tx_bytes", snap.TxBytes)
			return
		default:
		}

		if err := monitor.ProcessEvents(); err != nil {
			logger.Error("process_events failed", "error", err)
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
}
