package ioevent

import (
	"sync/atomic"
	"time"
)

// Metrics tracks operational statistics for a monitor and the duplex
// engines registered with it: dispatch throughput, traffic volume, and
// write-path outcomes. All fields are safe for concurrent reads from a
// goroutine other than the one driving process_events.
type Metrics struct {
	// Dispatch counters.
	Dispatches      atomic.Uint64 // Total dispatch hook invocations
	StaleSuppressed atomic.Uint64 // Deliveries dropped by stale-event suppression (§4.2)
	SourcesAdded    atomic.Uint64
	SourcesRemoved  atomic.Uint64
	ErrorRemovals   atomic.Uint64 // Sources removed because of an observed error bit

	// Duplex engine traffic.
	RxBytes atomic.Uint64
	TxBytes atomic.Uint64

	// Write completion outcomes (§3, Write buffer; §8).
	WritesOK      atomic.Uint64
	WritesError   atomic.Uint64
	WritesTimeout atomic.Uint64
	WritesAborted atomic.Uint64

	EagainRetries   atomic.Uint64
	TimerTicks      atomic.Uint64
	SignalsDelivered atomic.Uint64

	StartTime atomic.Int64 // UnixNano
	StopTime  atomic.Int64 // UnixNano
}

// NewMetrics creates a metrics collector with its start time set to now.
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// Stop records the collector's stop time, freezing the uptime calculation
// used by Snapshot.
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

func (m *Metrics) recordDispatch() {
	if m == nil {
		return
	}
	m.Dispatches.Add(1)
}

func (m *Metrics) recordStaleSuppressed() {
	if m == nil {
		return
	}
	m.StaleSuppressed.Add(1)
}

func (m *Metrics) recordSourceAdded() {
	if m == nil {
		return
	}
	m.SourcesAdded.Add(1)
}

func (m *Metrics) recordSourceRemoved(isError bool) {
	if m == nil {
		return
	}
	m.SourcesRemoved.Add(1)
	if isError {
		m.ErrorRemovals.Add(1)
	}
}

func (m *Metrics) recordRx(n int) {
	if m == nil {
		return
	}
	m.RxBytes.Add(uint64(n))
}

func (m *Metrics) recordTx(n int) {
	if m == nil {
		return
	}
	m.TxBytes.Add(uint64(n))
}

func (m *Metrics) recordWriteCompletion(status WriteStatus) {
	if m == nil {
		return
	}
	switch status {
	case StatusOK:
		m.WritesOK.Add(1)
	case StatusError:
		m.WritesError.Add(1)
	case StatusTimeout:
		m.WritesTimeout.Add(1)
	case StatusAborted:
		m.WritesAborted.Add(1)
	}
}

func (m *Metrics) recordEagain() {
	if m == nil {
		return
	}
	m.EagainRetries.Add(1)
}

func (m *Metrics) recordTimerTick() {
	if m == nil {
		return
	}
	m.TimerTicks.Add(1)
}

func (m *Metrics) recordSignal() {
	if m == nil {
		return
	}
	m.SignalsDelivered.Add(1)
}

// MetricsSnapshot is a point-in-time, non-atomic copy of Metrics' counters
// plus derived rates.
type MetricsSnapshot struct {
	Dispatches      uint64
	StaleSuppressed uint64
	SourcesAdded    uint64
	SourcesRemoved  uint64
	ErrorRemovals   uint64

	RxBytes uint64
	TxBytes uint64

	WritesOK      uint64
	WritesError   uint64
	WritesTimeout uint64
	WritesAborted uint64

	EagainRetries    uint64
	TimerTicks       uint64
	SignalsDelivered uint64

	UptimeNs      uint64
	RxBandwidth   float64 // bytes/sec
	TxBandwidth   float64 // bytes/sec
	DispatchRate  float64 // dispatches/sec
}

// Snapshot takes a consistent-enough point-in-time copy of the counters and
// computes uptime-derived rates.
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Dispatches:       m.Dispatches.Load(),
		StaleSuppressed:  m.StaleSuppressed.Load(),
		SourcesAdded:     m.SourcesAdded.Load(),
		SourcesRemoved:   m.SourcesRemoved.Load(),
		ErrorRemovals:    m.ErrorRemovals.Load(),
		RxBytes:          m.RxBytes.Load(),
		TxBytes:          m.TxBytes.Load(),
		WritesOK:         m.WritesOK.Load(),
		WritesError:      m.WritesError.Load(),
		WritesTimeout:    m.WritesTimeout.Load(),
		WritesAborted:    m.WritesAborted.Load(),
		EagainRetries:    m.EagainRetries.Load(),
		TimerTicks:       m.TimerTicks.Load(),
		SignalsDelivered: m.SignalsDelivered.Load(),
	}

	start := m.StartTime.Load()
	stop := m.StopTime.Load()
	if stop > 0 {
		snap.UptimeNs = uint64(stop - start)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - start)
	}

	if snap.UptimeNs > 0 {
		seconds := float64(snap.UptimeNs) / 1e9
		snap.RxBandwidth = float64(snap.RxBytes) / seconds
		snap.TxBandwidth = float64(snap.TxBytes) / seconds
		snap.DispatchRate = float64(snap.Dispatches) / seconds
	}

	return snap
}

// Reset zeroes every counter and restarts the uptime clock. Useful for
// isolating measurement windows in tests.
func (m *Metrics) Reset() {
	m.Dispatches.Store(0)
	m.StaleSuppressed.Store(0)
	m.SourcesAdded.Store(0)
	m.SourcesRemoved.Store(0)
	m.ErrorRemovals.Store(0)
	m.RxBytes.Store(0)
	m.TxBytes.Store(0)
	m.WritesOK.Store(0)
	m.WritesError.Store(0)
	m.WritesTimeout.Store(0)
	m.WritesAborted.Store(0)
	m.EagainRetries.Store(0)
	m.TimerTicks.Store(0)
	m.SignalsDelivered.Store(0)
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}
