package server

import "runtime"

// MaxBacklog is the default kernel-side backlog depth for a bound socket.
const MaxBacklog = 128

// DefaultWorkers returns the default worker pool size: the host's
// hardware concurrency.
func DefaultWorkers() int {
	return runtime.NumCPU()
}
