// Package transport ships one concrete api.Transport: Echo, a minimal
// per-worker connection handler used by the example binary and by the
// core's own tests. Real protocol handling (HTTP parsing, framing, TLS)
// is out of scope; Echo exists only to give the reactor and listener
// something real to dispatch to and load-sample.
package transport

import (
	"net"
	"os"
	"sync"

	"github.com/eapache/queue"
	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"golang.org/x/sys/unix"

	"github.com/hioload/reactorcore/api"
)

// EchoFactory clones an Echo per worker. It satisfies api.Handler.
type EchoFactory struct {
	// BufferSize sizes each connection's read buffer.
	BufferSize int
}

// New implements api.Handler.
func (f EchoFactory) New() (api.Transport, error) {
	bufSize := f.BufferSize
	if bufSize <= 0 {
		bufSize = 4096
	}
	return newEcho(bufSize), nil
}

// Echo is a per-worker Transport that reads bytes from each peer handed
// to it and writes them straight back, closing on read error or EOF.
//
// Peer hand-off (HandleNewPeer) only enqueues; Run, the worker's own
// goroutine, drains the queue and spawns the actual echo I/O. Load
// answers on the same goroutine that Run executes on (via loadReq) so
// that a per-thread rusage query (see rusage_linux.go) reports this
// worker's own CPU time even though Load is invoked from the listener's
// goroutine, not the worker's.
type Echo struct {
	bufSize int

	mu    sync.Mutex
	inbox *queue.Queue
	wake  chan struct{}

	loadReq chan chan api.ResourceUsage
	stop    chan struct{}
	done    chan struct{}
}

func newEcho(bufSize int) *Echo {
	return &Echo{
		bufSize: bufSize,
		inbox:   queue.New(),
		wake:    make(chan struct{}, 1),
		loadReq: make(chan chan api.ResourceUsage),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// HandleNewPeer implements api.Transport. Non-blocking: it enqueues the
// peer and returns; the worker goroutine (Run) does the actual I/O.
func (e *Echo) HandleNewPeer(peer api.Peer) error {
	e.mu.Lock()
	e.inbox.Add(peer)
	e.mu.Unlock()

	select {
	case e.wake <- struct{}{}:
	default:
	}
	return nil
}

// Run implements reactor.Runnable: the worker's event loop.
func (e *Echo) Run() {
	defer close(e.done)
	for {
		select {
		case <-e.stop:
			return
		case <-e.wake:
			e.drainInbox()
		case reply := <-e.loadReq:
			reply <- e.readRusage()
		}
	}
}

func (e *Echo) drainInbox() {
	for {
		e.mu.Lock()
		if e.inbox.Length() == 0 {
			e.mu.Unlock()
			return
		}
		peer := e.inbox.Remove().(api.Peer)
		e.mu.Unlock()
		// The connection outlives this loop iteration on its own
		// goroutine and is never joined.
		go e.serve(peer)
	}
}

// Stop implements reactor.Runnable.
func (e *Echo) Stop() {
	close(e.stop)
	<-e.done
}

func (e *Echo) serve(peer api.Peer) {
	f := os.NewFile(peer.FD, peer.Address.String())
	conn, err := net.FileConn(f)
	f.Close()
	if err != nil {
		tlog.Printw("echo: adopt peer fd failed", "fd", peer.FD, "err", err)
		return
	}
	defer conn.Close()

	buf := make([]byte, e.bufSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			if _, werr := conn.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

// Load implements api.Transport. It round-trips through the worker's own
// goroutine so the rusage query in readRusage runs on the worker's locked
// OS thread, not the caller's.
func (e *Echo) Load() (api.ResourceUsage, error) {
	reply := make(chan api.ResourceUsage, 1)
	select {
	case e.loadReq <- reply:
	case <-e.done:
		return api.ResourceUsage{}, errors.New("transport: echo worker stopped")
	}
	select {
	case ru := <-reply:
		return ru, nil
	case <-e.done:
		return api.ResourceUsage{}, errors.New("transport: echo worker stopped")
	}
}

func (e *Echo) readRusage() api.ResourceUsage {
	var ru unix.Rusage
	if err := unix.Getrusage(rusageWho, &ru); err != nil {
		tlog.Printw("echo: getrusage failed", "err", err)
		return api.ResourceUsage{}
	}
	return api.ResourceUsage{
		UserMicros:   ru.Utime.Nano() / 1000,
		SystemMicros: ru.Stime.Nano() / 1000,
	}
}
