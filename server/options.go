package server

import "github.com/hioload/reactorcore/api"

// ListenerOption customizes a Listener at construction time.
type ListenerOption func(*Listener)

// WithWorkerCount overrides the worker pool size.
func WithWorkerCount(n int) ListenerOption {
	return func(l *Listener) { l.workerCount = n }
}

// WithBacklog overrides the listen backlog.
func WithBacklog(n int) ListenerOption {
	return func(l *Listener) { l.backlog = n }
}

// WithOptions overrides the socket/process option flags.
func WithOptions(o api.Options) ListenerOption {
	return func(l *Listener) { l.options = o }
}
