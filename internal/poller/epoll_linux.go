//go:build linux

package poller

import (
	"sync"
	"time"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"

	"github.com/hioload/reactorcore/api"
)

// Epoll is an epoll(7)-backed api.Poller. Registrations are tracked in a
// fd->tag map rather than packed into the kernel event's opaque data word
// via unsafe pointer arithmetic on EpollEvent.Pad (which only holds on
// little-endian 64-bit layouts); the map trades a lookup for portability.
type Epoll struct {
	fd   int
	tags sync.Map // fd (uintptr) -> api.Tag
}

// New creates an Epoll poller.
func New() (*Epoll, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, errors.Wrap(err, "epoll_create1")
	}
	return &Epoll{fd: fd}, nil
}

// Add implements api.Poller.
func (e *Epoll) Add(fd uintptr, interest api.Interest, tag api.Tag) error {
	var ev unix.EpollEvent
	ev.Events = epollMask(interest)
	ev.Fd = int32(fd)
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_ADD, int(fd), &ev); err != nil {
		return errors.Wrap(err, "epoll_ctl add fd %d", fd)
	}
	e.tags.Store(fd, tag)
	return nil
}

// Remove implements api.Poller.
func (e *Epoll) Remove(fd uintptr) error {
	if _, ok := e.tags.LoadAndDelete(fd); !ok {
		return nil
	}
	if err := unix.EpollCtl(e.fd, unix.EPOLL_CTL_DEL, int(fd), nil); err != nil {
		if err == unix.ENOENT {
			return nil
		}
		return errors.Wrap(err, "epoll_ctl del fd %d", fd)
	}
	return nil
}

// Poll implements api.Poller.
func (e *Epoll) Poll(out []api.Event, timeout time.Duration) (int, error) {
	raw := make([]unix.EpollEvent, len(out))
	msec := timeoutMillis(timeout)

	n, err := unix.EpollWait(e.fd, raw, msec)
	if err != nil {
		if err == unix.EINTR {
			return 0, api.ErrInterrupted
		}
		return 0, errors.Wrap(err, "epoll_wait")
	}

	written := 0
	for i := 0; i < n; i++ {
		fd := uintptr(raw[i].Fd)
		tagVal, ok := e.tags.Load(fd)
		if !ok {
			continue
		}
		out[written] = api.Event{
			Tag:       tagVal.(api.Tag),
			Readiness: readiness(raw[i].Events),
		}
		written++
	}
	return written, nil
}

// Close implements api.Poller.
func (e *Epoll) Close() error {
	return unix.Close(e.fd)
}

func epollMask(i api.Interest) uint32 {
	var m uint32
	if i&api.Read != 0 {
		m |= unix.EPOLLIN
	}
	if i&api.Write != 0 {
		m |= unix.EPOLLOUT
	}
	return m
}

func readiness(mask uint32) api.Interest {
	var i api.Interest
	if mask&(unix.EPOLLIN|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		i |= api.Read
	}
	if mask&unix.EPOLLOUT != 0 {
		i |= api.Write
	}
	return i
}

func timeoutMillis(d time.Duration) int {
	if d < 0 {
		return -1
	}
	return int(d / time.Millisecond)
}
