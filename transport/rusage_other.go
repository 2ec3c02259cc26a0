//go:build !linux

package transport

import "golang.org/x/sys/unix"

// rusageWho falls back to RUSAGE_SELF on platforms without a per-thread
// rusage query; load samples on these platforms reflect the whole process,
// not just one worker.
const rusageWho = unix.RUSAGE_SELF
