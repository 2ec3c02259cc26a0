package api

// Options is a bitset of socket-level and process-level flags a Listener
// applies during bind. Each flag is independent of the others.
type Options uint32

const (
	// ReuseAddr sets SO_REUSEADDR so a recently closed socket can be
	// rebound immediately.
	ReuseAddr Options = 1 << iota
	// Linger sets a bounded SO_LINGER (1 second) on close.
	Linger
	// FastOpen enables TCP_FASTOPEN with a queue hint of 5.
	FastOpen
	// NoDelay disables Nagle's algorithm via TCP_NODELAY.
	NoDelay
	// InstallSignalHandler installs a process-wide SIGINT handler that
	// closes the listen socket and lets run() return cleanly.
	InstallSignalHandler
)

// Has reports whether every bit in flag is set in o.
func (o Options) Has(flag Options) bool {
	return o&flag == flag
}

// LingerSeconds is the fixed SO_LINGER duration Options.Linger applies.
// Whether 1 second was a deliberate choice or a leftover test value is an
// open question (see DESIGN.md); it is kept as-is either way.
const LingerSeconds = 1

// FastOpenQueueHint is the fixed TCP_FASTOPEN backlog hint Options.FastOpen
// applies. Same provenance caveat as LingerSeconds.
const FastOpenQueueHint = 5
