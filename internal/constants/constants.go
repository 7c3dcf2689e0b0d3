// Package constants holds the library's tunable numeric defaults, kept
// separate from the public re-export in the root package's constants.go.
package constants

import "time"

const (
	// RingBufferSize is the duplex engine's read-side ring buffer capacity
	// in bytes (C = 2048 in the spec).
	RingBufferSize = 2048

	// MonitorMaxEvents is the bounded scratch array size for one
	// Monitor.ProcessEvents drain (MON_MAX = 10 in the spec).
	MonitorMaxEvents = 10

	// DefaultWriteTimeout is the write-ready watchdog timeout used when a
	// caller doesn't override it via WithWriteTimeout.
	DefaultWriteTimeout = 5 * time.Second

	// EagainHighWaterMark is the count of consecutive EAGAIN responses on
	// the write path at which a warning is logged. It does not cap retries:
	// each EAGAIN simply returns, and only the watchdog ends a stalled write.
	EagainHighWaterMark = 16
)
