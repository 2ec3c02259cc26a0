//go:build linux

package transport

import "golang.org/x/sys/unix"

// rusageWho selects RUSAGE_THREAD on Linux so a worker pinned with
// runtime.LockOSThread reports only its own CPU time.
const rusageWho = unix.RUSAGE_THREAD
