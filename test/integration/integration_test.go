// +build integration

package integration

import (
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ncarrier/ioevent"
)

func drainUntil(t *testing.T, m *ioevent.Monitor, timeout time.Duration, done func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !done() && time.Now().Before(deadline) {
		require.NoError(t, m.ProcessEvents())
		time.Sleep(2 * time.Millisecond)
	}
	require.True(t, done(), "condition did not become true before deadline")
}

// TestPingPong reproduces scenario S1: a pipe carrying a greeting in one
// direction and a reply in the other, ending with the write end's removal
// once the read end is closed (the kernel reports EPOLLERR on it).
func TestPingPong(t *testing.T) {
	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	r, w := fds[0], fds[1]

	monitor, err := ioevent.New()
	require.NoError(t, err)
	defer monitor.Clean()

	const msg1 = "Salut !\x00"
	const msg2 = "Ça va ? !\x00"

	var (
		msg1Received bool
		msg2Sent     bool
		msg2Received bool
		outRemoved   bool
	)

	var outSrc *ioevent.Source
	outSrc, err = ioevent.NewSource(w, ioevent.Out, func(src *ioevent.Source) {
		if src.Events&ioevent.Out == 0 {
			return // error-only delivery; the monitor removes the source
		}
		n, werr := syscall.Write(w, []byte(msg2))
		require.NoError(t, werr)
		require.Equal(t, len(msg2), n)
		msg2Sent = true
		require.NoError(t, monitor.ActivateDirection(src, ioevent.Out, false))
	}, func(*ioevent.Source) {
		outRemoved = true
	})
	require.NoError(t, err)

	inSrc, err := ioevent.NewSource(r, ioevent.In, func(src *ioevent.Source) {
		buf := make([]byte, 16)
		n, rerr := syscall.Read(r, buf)
		require.NoError(t, rerr)
		got := string(buf[:n])

		if !msg1Received {
			require.Equal(t, msg1, got)
			msg1Received = true
			require.NoError(t, monitor.ActivateDirection(outSrc, ioevent.Out, true))
			return
		}

		require.Equal(t, msg2, got)
		msg2Received = true
		require.NoError(t, syscall.Close(r))
	}, nil)
	require.NoError(t, err)

	require.NoError(t, monitor.AddSources(inSrc, outSrc))

	_, err = syscall.Write(w, []byte(msg1))
	require.NoError(t, err)

	drainUntil(t, monitor, 5*time.Second, func() bool {
		return msg1Received && msg2Sent && msg2Received && outRemoved
	})
}

// TestDuplexWriteCompletionOrder reproduces scenario S3: three buffers
// complete in FIFO order, after which OUT is deactivated.
func TestDuplexWriteCompletionOrder(t *testing.T) {
	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	r, w := fds[0], fds[1]
	defer syscall.Close(r)

	monitor, err := ioevent.New()
	require.NoError(t, err)
	defer monitor.Clean()

	engine, err := ioevent.Create(monitor, "s3", -1, w)
	require.NoError(t, err)
	defer engine.Destroy()

	var order []int
	var statuses []ioevent.WriteStatus

	for i := 1; i <= 3; i++ {
		i := i
		buf := &ioevent.WriteBuffer{
			Data: make([]byte, 16),
			OnComplete: func(buf *ioevent.WriteBuffer, status ioevent.WriteStatus) {
				order = append(order, i)
				statuses = append(statuses, status)
			},
		}
		require.NoError(t, engine.WriteAdd(buf))
	}

	go func() {
		drain := make([]byte, 256)
		deadline := time.Now().Add(2 * time.Second)
		for time.Now().Before(deadline) {
			syscall.Read(r, drain)
			time.Sleep(2 * time.Millisecond)
		}
	}()

	drainUntil(t, monitor, 2*time.Second, func() bool {
		return len(order) == 3
	})

	require.Equal(t, []int{1, 2, 3}, order)
	for _, s := range statuses {
		require.Equal(t, ioevent.StatusOK, s)
	}
	require.Equal(t, ioevent.WriteStarted, engine.WriteState())
}

// TestWriteTimeout reproduces scenario S4: a stalled writer trips the
// watchdog and the pending buffer completes with TIMEOUT.
func TestWriteTimeout(t *testing.T) {
	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	r, w := fds[0], fds[1]
	defer syscall.Close(r)

	monitor, err := ioevent.New()
	require.NoError(t, err)
	defer monitor.Clean()

	engine, err := ioevent.Create(monitor, "s4", -1, w, ioevent.WithWriteTimeout(100))
	require.NoError(t, err)
	defer engine.Destroy()

	var status ioevent.WriteStatus
	var completed bool

	buf := &ioevent.WriteBuffer{
		Data: make([]byte, 1<<20), // larger than the pipe's capacity, so the write stalls
		OnComplete: func(buf *ioevent.WriteBuffer, s ioevent.WriteStatus) {
			status = s
			completed = true
		},
	}
	require.NoError(t, engine.WriteAdd(buf))

	drainUntil(t, monitor, 3*time.Second, func() bool {
		return completed
	})

	require.Equal(t, ioevent.StatusTimeout, status)
	require.Equal(t, ioevent.WriteError, engine.WriteState())
}

// TestMessageShortRead reproduces scenario S6: a 16-byte frame source seeing
// only 8 bytes on a read fails hard and is removed on the next error bit.
func TestMessageShortRead(t *testing.T) {
	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	r, w := fds[0], fds[1]
	defer syscall.Close(w)

	monitor, err := ioevent.New()
	require.NoError(t, err)
	defer monitor.Clean()

	var cleaned bool
	msg, err := ioevent.NewMessage(r, ioevent.In, 16, true, func(*ioevent.Message) {}, func(*ioevent.Message) {
		cleaned = true
	})
	require.NoError(t, err)
	require.NoError(t, monitor.AddSource(msg.Source()))

	_, err = syscall.Write(w, make([]byte, 8))
	require.NoError(t, err)

	drainUntil(t, monitor, 2*time.Second, func() bool {
		return cleaned
	})
}
