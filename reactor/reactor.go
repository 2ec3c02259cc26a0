// Package reactor implements api.Reactor: a fixed-size worker pool that
// hosts one or more Transport kinds, one live instance per worker.
package reactor

import (
	"runtime"
	"sync"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"github.com/hioload/reactorcore/api"
)

// Runnable is the optional lifecycle a Transport instance can implement to
// have the reactor drive its worker loop. Transports that don't need a
// dedicated loop (e.g. ones that do all their work synchronously inside
// HandleNewPeer) may omit it.
type Runnable interface {
	// Run executes the worker's event loop; returns when Stop is called.
	Run()
	// Stop requests Run to return.
	Stop()
}

var (
	// ErrNotInitialized is a programmer error: AddHandler or Run called
	// before Init.
	ErrNotInitialized = errors.New("reactor: Init must be called first")
	// ErrAlreadyRunning is a programmer error: Init or AddHandler called
	// after Run.
	ErrAlreadyRunning = errors.New("reactor: already running")
)

type kind struct {
	key       api.HandlerKey
	instances []api.Transport
}

// Pool is the default api.Reactor implementation.
type Pool struct {
	mu          sync.Mutex
	workerCount int
	initialized bool
	running     bool
	kinds       []kind
	nextKey     api.HandlerKey
	wg          sync.WaitGroup
}

// New returns an uninitialized Pool.
func New() *Pool {
	return &Pool{}
}

// Init implements api.Reactor.
func (p *Pool) Init(workerCount int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	if workerCount <= 0 {
		return errors.New("reactor: workerCount must be positive, got %d", workerCount)
	}
	if workerCount > runtime.NumCPU() {
		tlog.Printw("reactor: more workers than available cores", "workers", workerCount, "cores", runtime.NumCPU())
	}
	p.workerCount = workerCount
	p.initialized = true
	return nil
}

// AddHandler implements api.Reactor.
func (p *Pool) AddHandler(h api.Handler) (api.HandlerKey, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.initialized {
		return 0, ErrNotInitialized
	}
	if p.running {
		return 0, ErrAlreadyRunning
	}

	instances := make([]api.Transport, p.workerCount)
	for i := 0; i < p.workerCount; i++ {
		t, err := h.New()
		if err != nil {
			return 0, errors.Wrap(err, "reactor: clone handler for worker %d", i)
		}
		instances[i] = t
	}

	p.nextKey++
	key := p.nextKey
	p.kinds = append(p.kinds, kind{key: key, instances: instances})
	return key, nil
}

// Handlers implements api.Reactor.
func (p *Pool) Handlers(key api.HandlerKey) ([]api.Transport, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range p.kinds {
		if k.key == key {
			out := make([]api.Transport, len(k.instances))
			copy(out, k.instances)
			return out, nil
		}
	}
	return nil, errors.New("reactor: unknown handler key %d", key)
}

// Run implements api.Reactor. Every registered instance that implements
// Runnable gets its own goroutine, pinned to an OS thread so a per-thread
// getrusage query (used by request_load) reflects that worker alone.
func (p *Pool) Run() error {
	p.mu.Lock()
	if !p.initialized {
		p.mu.Unlock()
		return ErrNotInitialized
	}
	if p.running {
		p.mu.Unlock()
		return ErrAlreadyRunning
	}
	p.running = true
	runnables := p.collectRunnables()
	p.mu.Unlock()

	for _, r := range runnables {
		p.wg.Add(1)
		go func(r Runnable) {
			defer p.wg.Done()
			runtime.LockOSThread()
			defer runtime.UnlockOSThread()
			r.Run()
		}(r)
	}
	return nil
}

// Shutdown implements api.Reactor. Idempotent.
func (p *Pool) Shutdown() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	runnables := p.collectRunnables()
	p.running = false
	p.mu.Unlock()

	for _, r := range runnables {
		r.Stop()
	}
	p.wg.Wait()
	return nil
}

func (p *Pool) collectRunnables() []Runnable {
	var out []Runnable
	for _, k := range p.kinds {
		for _, inst := range k.instances {
			if r, ok := inst.(Runnable); ok {
				out = append(out, r)
			}
		}
	}
	return out
}
