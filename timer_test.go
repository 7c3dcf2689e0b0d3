package ioevent

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTimerFiresPeriodically(t *testing.T) {
	m, err := New()
	require.NoError(t, err)
	defer m.Clean()

	ticks := 0
	timer, err := NewTimer(20, func(*Timer) { ticks++ })
	require.NoError(t, err)
	require.NoError(t, m.AddSource(timer.Source()))

	deadline := time.Now().Add(2 * time.Second)
	for ticks == 0 && time.Now().Before(deadline) {
		require.NoError(t, m.ProcessEvents())
		time.Sleep(5 * time.Millisecond)
	}

	require.Greater(t, ticks, 0)
}

func TestTimerRejectsNilCallback(t *testing.T) {
	_, err := NewTimer(100, nil)
	require.Error(t, err)
	require.True(t, IsCode(err, ErrCodeInvalidParam))
}

func TestTimerSetPeriodDisarms(t *testing.T) {
	timer, err := NewTimer(0, func(*Timer) {})
	require.NoError(t, err)
	require.NoError(t, timer.SetPeriod(0))
}
