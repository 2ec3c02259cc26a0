//go:build !linux

package notify

import (
	"sync/atomic"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"

	"github.com/hioload/reactorcore/api"
)

// Pipe is the self-pipe fallback api.ShutdownNotifier for platforms
// without eventfd(2) (Darwin, the BSDs). A single byte written to the
// pipe's write end wakes any Poller registered on the read end.
type Pipe struct {
	r, w   int
	tag    api.Tag
	poller api.Poller
	bound  int32
}

// New creates an unbound Pipe notifier.
func New() (*Pipe, error) {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return nil, errors.Wrap(err, "pipe2")
	}
	return &Pipe{r: fds[0], w: fds[1]}, nil
}

// Bind implements api.ShutdownNotifier.
func (n *Pipe) Bind(p api.Poller, tag api.Tag) error {
	if err := p.Add(uintptr(n.r), api.Read, tag); err != nil {
		return errors.Wrap(err, "bind shutdown notifier")
	}
	n.poller = p
	n.tag = tag
	atomic.StoreInt32(&n.bound, 1)
	return nil
}

// Notify implements api.ShutdownNotifier.
func (n *Pipe) Notify() error {
	_, err := unix.Write(n.w, []byte{1})
	if err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "notify")
	}
	return nil
}

// IsBound implements api.ShutdownNotifier.
func (n *Pipe) IsBound() bool {
	return atomic.LoadInt32(&n.bound) == 1
}

// Close implements api.ShutdownNotifier.
func (n *Pipe) Close() error {
	if n.poller != nil {
		_ = n.poller.Remove(uintptr(n.r))
	}
	_ = unix.Close(n.w)
	return unix.Close(n.r)
}
