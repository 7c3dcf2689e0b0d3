package ioevent

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func pipeFDs(t *testing.T) (r, w int) {
	t.Helper()
	var fds [2]int
	require.NoError(t, syscall.Pipe(fds[:]))
	t.Cleanup(func() {
		syscall.Close(fds[0])
		syscall.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestNewMonitorHasOpenReadinessFD(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	require.GreaterOrEqual(t, m.GetReadinessFD(), 0)
	require.NoError(t, m.Clean())
}

func TestAddSourceDefaultsToInDirectionOnly(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Clean()

	r, w := pipeFDs(t)
	_ = w

	src, err := NewSource(r, Duplex, func(*Source) {}, nil)
	require.NoError(t, err)

	require.NoError(t, m.AddSource(src))
	require.Equal(t, In, src.Active())
}

func TestAddSourceRejectsDuplicateFD(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Clean()

	r, _ := pipeFDs(t)

	src1, err := NewSource(r, In, func(*Source) {}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddSource(src1))

	src2, err := NewSource(r, In, func(*Source) {}, nil)
	require.NoError(t, err)
	err = m.AddSource(src2)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeDuplicateSource))
}

func TestAddSourceRejectsNilDispatch(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Clean()

	src := &Source{fd: -1, typ: In}
	err = m.AddSource(src)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeInvalidParam))
}

func TestProcessEventsDispatchesReadableSource(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Clean()

	r, w := pipeFDs(t)

	dispatched := false
	src, err := NewSource(r, In, func(s *Source) {
		dispatched = true
		require.NotZero(t, s.Events&In)
	}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddSource(src))

	_, err = syscall.Write(w, []byte("x"))
	require.NoError(t, err)

	require.NoError(t, m.ProcessEvents())
	require.True(t, dispatched)
}

func TestProcessEventsIsNonBlockingWhenIdle(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Clean()

	r, _ := pipeFDs(t)
	src, err := NewSource(r, In, func(*Source) { t.Fatal("should not dispatch") }, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddSource(src))

	require.NoError(t, m.ProcessEvents())
}

func TestActivateDirectionRejectsUnsupportedDirection(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Clean()

	r, _ := pipeFDs(t)
	src, err := NewSource(r, In, func(*Source) {}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddSource(src))

	err = m.ActivateDirection(src, Out, true)
	require.Error(t, err)
}

func TestErrorBitRemovesSourceAfterDispatch(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Clean()

	r, w := pipeFDs(t)
	cleaned := false
	src, err := NewSource(r, In, func(s *Source) {}, func(*Source) { cleaned = true })
	require.NoError(t, err)
	require.NoError(t, m.AddSource(src))

	syscall.Close(w)

	require.NoError(t, m.ProcessEvents())
	require.True(t, cleaned)
	require.Equal(t, -1, src.FD())
}

func TestDumpEpollEventsFormat(t *testing.T) {
	out := DumpEpollEvents(In | Out)
	require.Equal(t, "epoll events :\n\tEPOLLIN\n\tEPOLLOUT\n", out)
}

func TestCleanClosesAllSourcesAndReadinessFD(t *testing.T) {
	m, err := New()
	require.NoError(t, err)

	r, _ := pipeFDs(t)
	src, err := NewSource(r, In, func(*Source) {}, nil)
	require.NoError(t, err)
	require.NoError(t, m.AddSource(src))

	require.NoError(t, m.Clean())
	require.Equal(t, -1, src.FD())
}
