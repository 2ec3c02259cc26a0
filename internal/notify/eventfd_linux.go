//go:build linux

package notify

import (
	"encoding/binary"
	"sync/atomic"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"

	"github.com/hioload/reactorcore/api"
)

// EventFD is an api.ShutdownNotifier backed by a Linux eventfd(2), the
// preferred one-shot in-process wakeup descriptor: a single word write
// unblocks a Poller registered on it in one syscall, no pipe buffer to
// drain.
type EventFD struct {
	fd     int
	tag    api.Tag
	poller api.Poller
	bound  int32
}

// New creates an unbound EventFD notifier.
func New() (*EventFD, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "eventfd")
	}
	return &EventFD{fd: fd}, nil
}

// Bind implements api.ShutdownNotifier.
func (n *EventFD) Bind(p api.Poller, tag api.Tag) error {
	if err := p.Add(uintptr(n.fd), api.Read, tag); err != nil {
		return errors.Wrap(err, "bind shutdown notifier")
	}
	n.poller = p
	n.tag = tag
	atomic.StoreInt32(&n.bound, 1)
	return nil
}

// Notify implements api.ShutdownNotifier. Idempotent: eventfd counters
// saturate rather than error on repeated writes.
func (n *EventFD) Notify() error {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint64(buf, 1)
	_, err := unix.Write(n.fd, buf)
	if err != nil && err != unix.EAGAIN {
		return errors.Wrap(err, "notify")
	}
	return nil
}

// IsBound implements api.ShutdownNotifier.
func (n *EventFD) IsBound() bool {
	return atomic.LoadInt32(&n.bound) == 1
}

// Close implements api.ShutdownNotifier.
func (n *EventFD) Close() error {
	if n.poller != nil {
		_ = n.poller.Remove(uintptr(n.fd))
	}
	return unix.Close(n.fd)
}
