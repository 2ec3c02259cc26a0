package api

// HandlerKey is the opaque token a Reactor returns from AddHandler, used
// later to look up that handler kind's per-worker instances.
type HandlerKey uint32

// Reactor is a fixed-size worker pool with a pluggable handler-kind
// registry. Each worker runs its own event loop after Run; a peer handed
// to one worker's Transport is never touched by another worker.
type Reactor interface {
	// Init allocates workerCount worker contexts. Must be called before
	// Run and before any AddHandler that expects live workers to clone
	// into.
	Init(workerCount int) error

	// AddHandler registers a handler kind and returns its key. The
	// reactor clones the factory exactly workerCount times, once per
	// worker. Callable before Run.
	AddHandler(h Handler) (HandlerKey, error)

	// Handlers returns the per-worker instances of a registered kind, in
	// a stable order that never changes for the reactor's lifetime.
	Handlers(key HandlerKey) ([]Transport, error)

	// Run starts the worker goroutines.
	Run() error

	// Shutdown requests every worker to exit its loop and waits for them
	// to finish. Idempotent.
	Shutdown() error
}
