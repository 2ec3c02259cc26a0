package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hioload/reactorcore/api"
)

type stubTransport struct {
	mu    sync.Mutex
	peers []api.Peer

	stop chan struct{}
	done chan struct{}
}

func newStubTransport() *stubTransport {
	return &stubTransport{stop: make(chan struct{}), done: make(chan struct{})}
}

func (s *stubTransport) HandleNewPeer(p api.Peer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.peers = append(s.peers, p)
	return nil
}

func (s *stubTransport) Load() (api.ResourceUsage, error) {
	return api.ResourceUsage{UserMicros: 1}, nil
}

func (s *stubTransport) Run() {
	<-s.stop
	close(s.done)
}

func (s *stubTransport) Stop() {
	close(s.stop)
	<-s.done
}

func newStubFactory() (api.Handler, *[]*stubTransport) {
	var mu sync.Mutex
	var made []*stubTransport
	f := api.HandlerFunc(func() (api.Transport, error) {
		t := newStubTransport()
		mu.Lock()
		made = append(made, t)
		mu.Unlock()
		return t, nil
	})
	return f, &made
}

func TestPoolInitRejectsNonPositiveWorkerCount(t *testing.T) {
	p := New()
	err := p.Init(0)
	assert.Error(t, err)
}

func TestPoolAddHandlerBeforeInitFails(t *testing.T) {
	p := New()
	factory, _ := newStubFactory()
	_, err := p.AddHandler(factory)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestPoolAddHandlerClonesOncePerWorker(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(3))

	factory, made := newStubFactory()
	key, err := p.AddHandler(factory)
	require.NoError(t, err)
	assert.Len(t, *made, 3)

	handlers, err := p.Handlers(key)
	require.NoError(t, err)
	assert.Len(t, handlers, 3)
}

func TestPoolHandlersUnknownKey(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(1))
	_, err := p.Handlers(api.HandlerKey(999))
	assert.Error(t, err)
}

func TestPoolRunDrivesRunnableInstances(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(2))

	factory, made := newStubFactory()
	_, err := p.AddHandler(factory)
	require.NoError(t, err)

	require.NoError(t, p.Run())
	assert.ErrorIs(t, p.Run(), ErrAlreadyRunning)

	require.NoError(t, p.Shutdown())
	for _, tr := range *made {
		select {
		case <-tr.done:
		case <-time.After(time.Second):
			t.Fatal("worker did not stop")
		}
	}

	// Shutdown must be idempotent.
	assert.NoError(t, p.Shutdown())
}

func TestPoolHandlersReturnsIndependentSlice(t *testing.T) {
	p := New()
	require.NoError(t, p.Init(1))
	factory, _ := newStubFactory()
	key, err := p.AddHandler(factory)
	require.NoError(t, err)

	a, err := p.Handlers(key)
	require.NoError(t, err)
	a[0] = nil
	b, err := p.Handlers(key)
	require.NoError(t, err)
	assert.NotNil(t, b[0], "mutating a returned slice must not affect the stored instances")
}
