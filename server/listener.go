// Package server implements the Listener: the accept loop, dispatcher,
// shutdown protocol, and load sampler for a bound TCP socket. It owns
// the listening socket and the Reactor lifecycle; the Reactor and its
// Transport clones do everything downstream of hand-off.
package server

import (
	stderrors "errors"
	"net"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"
	"golang.org/x/sys/unix"

	"github.com/hioload/reactorcore/api"
	"github.com/hioload/reactorcore/internal/notify"
	"github.com/hioload/reactorcore/internal/poller"
	"github.com/hioload/reactorcore/reactor"
)

const unbound int32 = -1

// shutdownTag is the fixed api.Tag the ShutdownNotifier registers under;
// the listen socket registers under its own fd value instead, so the two
// can never collide (fd values are always non-negative small integers,
// this sentinel sits far outside that range).
const shutdownTag api.Tag = 1<<63 - 1

// Listener owns the listening socket, its configuration, and the Reactor
// it dispatches accepted peers to.
type Listener struct {
	mu      sync.Mutex
	address api.Address

	backlog     int
	options     api.Options
	workerCount int

	handler api.Handler

	listenFD int32 // atomic; unbound sentinel = -1
	listenTag api.Tag
	poller    api.Poller
	notifier  api.ShutdownNotifier

	sigCh        chan os.Signal
	sigInstalled bool

	reactor      api.Reactor
	transportKey api.HandlerKey

	acceptWG sync.WaitGroup
	runErr   atomic.Value
}

// New returns an unbound Listener with no default address (Bind requires
// an explicit address or one passed to NewWithAddress).
func New(opts ...ListenerOption) *Listener {
	l := &Listener{
		backlog:     MaxBacklog,
		workerCount: DefaultWorkers(),
	}
	l.listenFD = unbound
	for _, o := range opts {
		o(l)
	}
	return l
}

// NewWithAddress returns an unbound Listener defaulting Bind() to addr.
func NewWithAddress(addr api.Address, opts ...ListenerOption) *Listener {
	l := New(opts...)
	l.address = addr
	return l
}

// Init overwrites worker count, options, and backlog. Must be called
// before Bind.
func (l *Listener) Init(workerCount int, options api.Options, backlog int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.isBoundLocked() {
		return errors.New("server: Init called after Bind")
	}
	if workerCount <= 0 {
		return errors.New("server: workerCount must be positive, got %d", workerCount)
	}
	l.workerCount = workerCount
	l.options = options
	l.backlog = backlog
	return nil
}

// SetHandler stores the upstream Handler factory. Bind fails without one.
func (l *Listener) SetHandler(h api.Handler) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.handler = h
}

// IsBound reports whether Bind has succeeded and Shutdown has not run.
func (l *Listener) IsBound() bool {
	return atomic.LoadInt32(&l.listenFD) != unbound
}

func (l *Listener) isBoundLocked() bool { return l.IsBound() }

// Address returns the address Bind was, or will be, called with.
func (l *Listener) Address() api.Address {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.address
}

// Options returns the currently configured option flags.
func (l *Listener) Options() api.Options {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.options
}

// GetPort returns the kernel-assigned port, or 0 if unbound. Only
// meaningful from a goroutine other than the one running Run, since Run
// does not return until shutdown.
func (l *Listener) GetPort() uint16 {
	fd := atomic.LoadInt32(&l.listenFD)
	if fd == unbound {
		return 0
	}
	sa, err := unix.Getsockname(int(fd))
	if err != nil {
		return 0
	}
	return portFromSockaddr(sa)
}

// Bind binds to the address supplied at construction.
func (l *Listener) Bind() error {
	l.mu.Lock()
	addr := l.address
	l.mu.Unlock()
	return l.BindAddress(addr)
}

// BindAddress resolves addr, iterates its candidate records, and
// binds+listens on the first one that succeeds.
func (l *Listener) BindAddress(addr api.Address) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.handler == nil {
		return errors.New("server: SetHandler must be called before Bind")
	}
	if l.isBoundLocked() {
		return errors.New("server: already bound")
	}
	l.address = addr

	ips, lookupErr := candidateIPs(addr.Host, addr.Family)
	if lookupErr != nil {
		return api.NewServerError(lookupErr, "server: resolve %s", addr)
	}
	if len(ips) == 0 {
		return api.NewServerError(errors.New("server: no %s candidates for %s", addr.Family, addr), "server: resolve")
	}

	fd, boundIP, lastErr := l.tryBindCandidates(addr, ips)
	if fd < 0 {
		return api.NewServerError(lastErr, "server: bind exhausted all candidates for %s", addr)
	}
	_ = boundIP

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return api.NewServerError(err, "server: set listen socket non-blocking")
	}

	p, err := poller.New()
	if err != nil {
		unix.Close(fd)
		return api.NewServerError(err, "server: create poller")
	}
	tag := api.Tag(fd)
	if err := p.Add(uintptr(fd), api.Read, tag); err != nil {
		p.Close()
		unix.Close(fd)
		return api.NewServerError(err, "server: register listen fd")
	}

	l.poller = p
	l.listenTag = tag
	atomic.StoreInt32(&l.listenFD, int32(fd))

	l.reactor = reactor.New()
	if err := l.reactor.Init(l.workerCount); err != nil {
		return api.NewServerError(err, "server: init reactor")
	}
	key, err := l.reactor.AddHandler(l.handler)
	if err != nil {
		return api.NewServerError(err, "server: register transport kind")
	}
	l.transportKey = key

	if l.options.Has(api.InstallSignalHandler) {
		if err := l.installSignalHandlerLocked(); err != nil {
			return api.NewServerError(err, "server: install signal handler")
		}
	}

	return nil
}

func (l *Listener) tryBindCandidates(addr api.Address, ips []net.IP) (fd int, boundIP net.IP, lastErr error) {
	fd = -1
	for _, ip := range ips {
		family := unix.AF_INET
		if addr.Family == api.IPv6 {
			family = unix.AF_INET6
		}
		sfd, err := unix.Socket(family, unix.SOCK_STREAM, 0)
		if err != nil {
			lastErr = err
			continue
		}
		if err := setSocketOptions(sfd, l.options); err != nil {
			unix.Close(sfd)
			lastErr = err
			continue
		}
		if err := unix.Bind(sfd, sockaddrFor(addr.Family, ip, addr.Port)); err != nil {
			unix.Close(sfd)
			lastErr = err
			continue
		}
		if err := unix.Listen(sfd, l.backlog); err != nil {
			unix.Close(sfd)
			lastErr = err
			return -1, nil, err
		}
		return sfd, ip, nil
	}
	return -1, nil, lastErr
}

// Run drives the accept loop. ready, if non-nil, is closed once bind-time
// setup has finished and the reactor has started.
func (l *Listener) Run(ready chan<- struct{}) error {
	if !l.IsBound() {
		return errors.New("server: Run called before a successful Bind")
	}

	n, err := notify.New()
	if err != nil {
		return api.NewServerError(err, "server: create shutdown notifier")
	}
	if err := n.Bind(l.poller, shutdownTag); err != nil {
		return api.NewServerError(err, "server: bind shutdown notifier")
	}
	l.mu.Lock()
	l.notifier = n
	l.mu.Unlock()

	if err := l.reactor.Run(); err != nil {
		return api.NewServerError(err, "server: start reactor")
	}

	if ready != nil {
		close(ready)
	}

	events := make([]api.Event, 128)
	for {
		count, err := l.poller.Poll(events, -1)
		if err != nil {
			if stderrors.Is(err, api.ErrInterrupted) {
				if atomic.LoadInt32(&l.listenFD) == unbound {
					return nil
				}
				return api.NewServerError(err, "server: poll interrupted")
			}
			return api.NewServerError(err, "server: poll")
		}
		for i := 0; i < count; i++ {
			ev := events[i]
			if ev.Tag == shutdownTag {
				return nil
			}
			if ev.Tag == l.listenTag && ev.Readiness&api.Read != 0 {
				if err := l.handleNewConnection(); err != nil {
					var serverErr *api.ServerError
					if stderrors.As(err, &serverErr) {
						tlog.Printw("server: fatal accept error, stopping run", "err", err)
						return err
					}
					tlog.Printw("server: accept error, continuing", "err", err)
				}
			}
		}
	}
}

// RunThreaded spawns a dedicated goroutine that runs Run(ready); its
// error, if any, is retrievable from Close.
func (l *Listener) RunThreaded(ready chan<- struct{}) {
	l.acceptWG.Add(1)
	go func() {
		defer l.acceptWG.Done()
		if err := l.Run(ready); err != nil {
			l.runErr.Store(err)
		}
	}()
}

func (l *Listener) handleNewConnection() error {
	fd := atomic.LoadInt32(&l.listenFD)
	if fd == unbound {
		return api.NewServerError(unix.EBADF, "server: accept on a closed listen socket")
	}

	clientFD, sa, err := unix.Accept(int(fd))
	if err != nil {
		if err == unix.EBADF || err == unix.ENOTSOCK {
			return api.NewServerError(err, "server: accept")
		}
		return api.NewSocketError(err, "server: accept")
	}
	if err := unix.SetNonblock(clientFD, true); err != nil {
		unix.Close(clientFD)
		return api.NewSocketError(err, "server: set peer non-blocking")
	}

	peer := api.Peer{Address: addressFromSockaddr(sa), FD: uintptr(clientFD)}
	return l.dispatchPeer(peer)
}

func (l *Listener) dispatchPeer(peer api.Peer) error {
	handlers, err := l.reactor.Handlers(l.transportKey)
	if err != nil {
		return api.NewServerError(err, "server: lookup transport handlers")
	}
	if len(handlers) == 0 {
		return api.NewServerError(errors.New("no worker handlers registered"), "server: dispatch before bind")
	}
	idx := int(peer.FD) % len(handlers)
	if err := handlers[idx].HandleNewPeer(peer); err != nil {
		return api.NewSocketError(err, "server: dispatch to worker %d", idx)
	}
	return nil
}

// Shutdown fires the ShutdownNotifier (if bound) and stops the reactor.
// Idempotent; after Shutdown the Listener is not reusable.
func (l *Listener) Shutdown() error {
	l.closeListenFD()

	l.mu.Lock()
	n := l.notifier
	l.mu.Unlock()
	if n != nil && n.IsBound() {
		if err := n.Notify(); err != nil {
			return api.NewServerError(err, "server: notify shutdown")
		}
	}

	l.mu.Lock()
	reactorRef := l.reactor
	l.mu.Unlock()
	if reactorRef != nil {
		if err := reactorRef.Shutdown(); err != nil {
			return api.NewServerError(err, "server: reactor shutdown")
		}
	}
	return nil
}

// Close is the Go stand-in for Pistache's destructor: it shuts down (if
// still bound) and joins any RunThreaded goroutine, returning whatever
// error Run produced.
func (l *Listener) Close() error {
	if l.IsBound() {
		if err := l.Shutdown(); err != nil {
			return err
		}
	}
	l.acceptWG.Wait()
	if v := l.runErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

func (l *Listener) closeListenFD() {
	fd := atomic.SwapInt32(&l.listenFD, unbound)
	if fd == unbound {
		return
	}
	if l.poller != nil {
		_ = l.poller.Remove(uintptr(fd))
	}
	_ = unix.Close(int(fd))
	l.stopSignalHandler()
}

// installSignalHandlerLocked subscribes this Listener's own goroutine to
// SIGINT, the Go analogue of Pistache's process-wide handler — Go's
// signal.Notify safely fans a signal out to every subscriber, so each
// Listener manages its own subscription instead of sharing one C-style
// function-pointer slot. Fails if this Listener already has one
// installed.
func (l *Listener) installSignalHandlerLocked() error {
	if l.sigInstalled {
		return errors.New("server: signal handler already installed")
	}
	l.sigCh = make(chan os.Signal, 1)
	signal.Notify(l.sigCh, syscall.SIGINT)
	l.sigInstalled = true

	go func(ch chan os.Signal) {
		if _, ok := <-ch; !ok {
			return
		}
		l.closeListenFD()
		l.mu.Lock()
		n := l.notifier
		l.mu.Unlock()
		if n != nil && n.IsBound() {
			_ = n.Notify()
		}
	}(l.sigCh)
	return nil
}

func (l *Listener) stopSignalHandler() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.sigInstalled {
		return
	}
	signal.Stop(l.sigCh)
	close(l.sigCh)
	l.sigInstalled = false
}

// RequestLoad samples per-worker CPU usage and computes utilization
// percentages relative to the previous sample.
func (l *Listener) RequestLoad(previous api.Load) (api.Load, error) {
	l.mu.Lock()
	reactorRef := l.reactor
	key := l.transportKey
	l.mu.Unlock()
	if reactorRef == nil {
		return api.Load{}, errors.New("server: RequestLoad called before Bind")
	}

	handlers, err := reactorRef.Handlers(key)
	if err != nil {
		return api.Load{}, api.NewServerError(err, "server: load sample: lookup handlers")
	}

	usages := make([]api.ResourceUsage, len(handlers))
	errs := make([]error, len(handlers))
	var wg sync.WaitGroup
	for i, h := range handlers {
		wg.Add(1)
		go func(i int, h api.Transport) {
			defer wg.Done()
			ru, err := h.Load()
			usages[i] = ru
			errs[i] = err
		}(i, h)
	}
	wg.Wait()
	for _, err := range errs {
		if err != nil {
			return api.Load{}, api.NewServerError(err, "server: load sample: worker future failed")
		}
	}

	now := time.Now()
	if len(previous.Raw) == 0 {
		return api.Load{Tick: now, Raw: usages, Workers: make([]float64, len(usages)), Global: 0}, nil
	}

	deltaMicros := now.Sub(previous.Tick).Microseconds()
	workers := make([]float64, len(usages))
	var global float64
	for i, u := range usages {
		var prevTotal int64
		if i < len(previous.Raw) {
			prevTotal = previous.Raw[i].Total()
		}
		used := u.Total() - prevTotal
		pct := 0.0
		if deltaMicros > 0 {
			pct = 100 * float64(used) / float64(deltaMicros)
		}
		workers[i] = pct
		global += pct
	}
	if len(usages) > 0 {
		global /= float64(len(usages))
	}
	return api.Load{Tick: now, Raw: usages, Workers: workers, Global: global}, nil
}

// PinWorker is reserved for CPU affinity; currently a documented no-op
// (see DESIGN.md).
func (l *Listener) PinWorker(worker int, cpuSet []int) error {
	return nil
}
