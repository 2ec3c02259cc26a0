package api

import "time"

// Interest is the readiness mask a descriptor is registered with.
type Interest uint8

const (
	// Read requests notification when the descriptor is readable.
	Read Interest = 1 << iota
	// Write requests notification when the descriptor is writable.
	Write
)

// Tag is the opaque value a Poller hands back alongside readiness. The
// Listener uses the raw descriptor number as its own tag and a distinct
// tag for its ShutdownNotifier.
type Tag uint64

// Event pairs a readiness result with the tag it was registered under.
type Event struct {
	Tag       Tag
	Readiness Interest
}

// Poller is a thin readiness-notification facade over the host OS's
// level-triggered multiplexing facility (epoll, kqueue, ...).
type Poller interface {
	// Add registers fd for notification on interest, surfaced under tag.
	Add(fd uintptr, interest Interest, tag Tag) error

	// Remove deregisters fd. Removing an fd that was never added is not
	// an error.
	Remove(fd uintptr) error

	// Poll blocks up to timeout (negative means indefinite) and writes up
	// to len(out) ready events into out, returning how many were written.
	// Returns (0, nil) on timeout and a non-nil error, wrapping
	// ErrInterrupted when applicable, if the wait was interrupted.
	Poll(out []Event, timeout time.Duration) (int, error)

	// Close releases the underlying poll descriptor.
	Close() error
}

// ShutdownNotifier is a one-shot, poll-registerable wakeup used to unblock
// a blocked Poll from another goroutine.
type ShutdownNotifier interface {
	// Bind registers the notifier's descriptor with p under tag.
	Bind(p Poller, tag Tag) error

	// Notify wakes any blocked Poll registered on this notifier. Safe to
	// call more than once; only the first call after Bind has an effect
	// on causing the next Poll to observe an event, but repeated calls
	// never error.
	Notify() error

	// IsBound reports whether Bind has succeeded.
	IsBound() bool

	// Close releases the notifier's descriptor.
	Close() error
}
