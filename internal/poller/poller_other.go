//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly

package poller

import (
	"time"

	"github.com/hioload/reactorcore/api"
)

// Stub is the fallback api.Poller on platforms with neither epoll nor
// kqueue wired in. Every operation fails with ErrUnsupported.
type Stub struct{}

// New always fails on unsupported platforms.
func New() (*Stub, error) {
	return nil, ErrUnsupported
}

func (s *Stub) Add(fd uintptr, interest api.Interest, tag api.Tag) error { return ErrUnsupported }
func (s *Stub) Remove(fd uintptr) error                                 { return ErrUnsupported }
func (s *Stub) Poll(out []api.Event, timeout time.Duration) (int, error) {
	return 0, ErrUnsupported
}
func (s *Stub) Close() error { return ErrUnsupported }
