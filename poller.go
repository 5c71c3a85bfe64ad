package taskloop

// Maximum file descriptor we support with direct indexing.
const maxFDs = 65536

// maxFDLimit is the maximum FD value we support for dynamic growth.
const maxFDLimit = 100000000 // 100M, enough with ulimit -n > 1M

// IOEvents is a bitmask of I/O event types.
type IOEvents uint32

const (
	// EventRead indicates the descriptor is ready for reading.
	EventRead IOEvents = 1 << iota
	// EventWrite indicates the descriptor is ready for writing.
	EventWrite
	// EventError indicates an error condition on the descriptor.
	EventError
	// EventHangup indicates the peer closed its end.
	EventHangup
)

// ioCallback receives the ready event bits for one descriptor.
type ioCallback func(IOEvents)

// fdInfo stores per-descriptor registration state.
type fdInfo struct {
	callback ioCallback
	events   IOEvents
	active   bool
}
