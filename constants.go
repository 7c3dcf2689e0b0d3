package ioevent

import "github.com/ncarrier/ioevent/internal/constants"

// Re-exported tunables, see SPEC_FULL.md §6.
const (
	// RingBufferSize is the duplex engine's read ring buffer capacity (C).
	RingBufferSize = constants.RingBufferSize

	// MonitorMaxEvents is the bounded drain batch size (MON_MAX).
	MonitorMaxEvents = constants.MonitorMaxEvents

	// DefaultWriteTimeout is the default write-ready watchdog timeout.
	DefaultWriteTimeout = constants.DefaultWriteTimeout

	// EagainHighWaterMark is the consecutive-EAGAIN count on the write path
	// at which a warning is logged; it does not cap retries.
	EagainHighWaterMark = constants.EagainHighWaterMark
)
