// Package poller implements api.Poller on top of the host OS's
// level-triggered readiness facility: epoll on Linux, kqueue on
// Darwin/BSD. Platforms with neither fall back to a stub that always
// fails at construction time.
package poller

import "fmt"

// ErrUnsupported is returned by New on platforms with no readiness
// backend wired in.
var ErrUnsupported = fmt.Errorf("poller: unsupported platform")
