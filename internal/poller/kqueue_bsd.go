//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package poller

import (
	"sync"
	"time"

	"github.com/nikandfor/errors"
	"golang.org/x/sys/unix"

	"github.com/hioload/reactorcore/api"
)

// Kqueue is a kqueue(2)-backed api.Poller, the BSD/Darwin counterpart of
// Epoll. Each registration adds one or two kevent filters (EVFILT_READ,
// EVFILT_WRITE) depending on the requested interest.
type Kqueue struct {
	fd   int
	tags sync.Map // fd (uintptr) -> api.Tag
}

// New creates a Kqueue poller.
func New() (*Kqueue, error) {
	fd, err := unix.Kqueue()
	if err != nil {
		return nil, errors.Wrap(err, "kqueue")
	}
	return &Kqueue{fd: fd}, nil
}

// Add implements api.Poller.
func (k *Kqueue) Add(fd uintptr, interest api.Interest, tag api.Tag) error {
	changes := buildChanges(fd, interest, unix.EV_ADD)
	if _, err := unix.Kevent(k.fd, changes, nil, nil); err != nil {
		return errors.Wrap(err, "kevent add fd %d", fd)
	}
	k.tags.Store(fd, tag)
	return nil
}

// Remove implements api.Poller.
func (k *Kqueue) Remove(fd uintptr) error {
	if _, ok := k.tags.LoadAndDelete(fd); !ok {
		return nil
	}
	changes := buildChanges(fd, api.Read|api.Write, unix.EV_DELETE)
	// Deleting a filter that was never added is harmless; ignore ENOENT.
	if _, err := unix.Kevent(k.fd, changes, nil, nil); err != nil && err != unix.ENOENT {
		return errors.Wrap(err, "kevent delete fd %d", fd)
	}
	return nil
}

// Poll implements api.Poller.
func (k *Kqueue) Poll(out []api.Event, timeout time.Duration) (int, error) {
	raw := make([]unix.Kevent_t, len(out))
	var ts *unix.Timespec
	if timeout >= 0 {
		t := unix.NsecToTimespec(timeout.Nanoseconds())
		ts = &t
	}

	n, err := unix.Kevent(k.fd, nil, raw, ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, api.ErrInterrupted
		}
		return 0, errors.Wrap(err, "kevent wait")
	}

	written := 0
	for i := 0; i < n; i++ {
		fd := uintptr(raw[i].Ident)
		tagVal, ok := k.tags.Load(fd)
		if !ok {
			continue
		}
		var r api.Interest
		switch raw[i].Filter {
		case unix.EVFILT_READ:
			r = api.Read
		case unix.EVFILT_WRITE:
			r = api.Write
		}
		out[written] = api.Event{Tag: tagVal.(api.Tag), Readiness: r}
		written++
	}
	return written, nil
}

// Close implements api.Poller.
func (k *Kqueue) Close() error {
	return unix.Close(k.fd)
}

func buildChanges(fd uintptr, interest api.Interest, flags uint16) []unix.Kevent_t {
	var changes []unix.Kevent_t
	if interest&api.Read != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if interest&api.Write != 0 {
		changes = append(changes, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return changes
}
