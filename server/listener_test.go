package server

import (
	"net"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hioload/reactorcore/api"
)

type recordingTransport struct {
	peers chan api.Peer
}

func newRecordingTransport() *recordingTransport {
	return &recordingTransport{peers: make(chan api.Peer, 16)}
}

func (r *recordingTransport) HandleNewPeer(p api.Peer) error {
	r.peers <- p
	return nil
}

func (r *recordingTransport) Load() (api.ResourceUsage, error) {
	return api.ResourceUsage{}, nil
}

func recordingFactory() api.Handler {
	return api.HandlerFunc(func() (api.Transport, error) {
		return newRecordingTransport(), nil
	})
}

func mustParseAddr(t *testing.T, s string) api.Address {
	t.Helper()
	addr, err := api.ParseAddress(s)
	require.NoError(t, err)
	return addr
}

func TestListenerBindPortZeroThenQuery(t *testing.T) {
	addr := mustParseAddr(t, "127.0.0.1:0")
	l := NewWithAddress(addr, WithWorkerCount(2))
	l.SetHandler(recordingFactory())

	require.NoError(t, l.Bind())
	defer l.Close()

	assert.True(t, l.IsBound())
	port := l.GetPort()
	assert.NotZero(t, port)

	ready := make(chan struct{})
	l.RunThreaded(ready)
	<-ready

	conn, err := net.Dial("tcp", (&net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: int(port)}).String())
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, l.Shutdown())
	require.NoError(t, l.Close())
}

func TestListenerRunFailsWithoutBind(t *testing.T) {
	l := New()
	err := l.Run(nil)
	assert.Error(t, err)
}

func TestListenerBindFailsWithoutReuseAddrOnBusyPort(t *testing.T) {
	first := New(WithOptions(api.ReuseAddr))
	first.SetHandler(recordingFactory())
	require.NoError(t, first.BindAddress(mustParseAddr(t, "127.0.0.1:0")))
	defer first.Close()

	port := first.GetPort()

	second := New()
	second.SetHandler(recordingFactory())
	addr := api.Address{Host: "127.0.0.1", Port: port, Family: api.IPv4}
	err := second.BindAddress(addr)
	assert.Error(t, err)
	assert.False(t, second.IsBound())
}

func TestListenerShutdownUnblocksRunThreaded(t *testing.T) {
	l := NewWithAddress(mustParseAddr(t, "127.0.0.1:0"))
	l.SetHandler(recordingFactory())
	require.NoError(t, l.Bind())

	ready := make(chan struct{})
	l.RunThreaded(ready)
	<-ready

	require.NoError(t, l.Shutdown())

	done := make(chan struct{})
	go func() {
		l.acceptWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after shutdown")
	}
}

func TestListenerSignalShutdownClearsPort(t *testing.T) {
	l := NewWithAddress(mustParseAddr(t, "127.0.0.1:0"), WithOptions(api.InstallSignalHandler))
	l.SetHandler(recordingFactory())
	require.NoError(t, l.Bind())

	ready := make(chan struct{})
	l.RunThreaded(ready)
	<-ready

	proc, err := os.FindProcess(os.Getpid())
	require.NoError(t, err)
	require.NoError(t, proc.Signal(syscall.SIGINT))

	done := make(chan struct{})
	go func() {
		l.acceptWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after signal")
	}

	assert.Zero(t, l.GetPort())
	assert.False(t, l.IsBound())
}

func TestDispatchPeerFanOutIsFDModuloWorkerCount(t *testing.T) {
	l := New(WithWorkerCount(4))
	l.SetHandler(recordingFactory())
	require.NoError(t, l.BindAddress(mustParseAddr(t, "127.0.0.1:0")))
	defer l.Close()

	handlers, err := l.reactor.Handlers(l.transportKey)
	require.NoError(t, err)
	require.Len(t, handlers, 4)

	for fd := uintptr(10); fd < 18; fd++ {
		require.NoError(t, l.dispatchPeer(api.Peer{FD: fd}))
	}

	for i, h := range handlers {
		rt := h.(*recordingTransport)
		close(rt.peers)
		var got []api.Peer
		for p := range rt.peers {
			got = append(got, p)
		}
		for _, p := range got {
			assert.Equal(t, i, int(p.FD)%4)
		}
	}
}

func TestRequestLoadEmptyPreviousIsAllZero(t *testing.T) {
	l := New(WithWorkerCount(3))
	l.SetHandler(recordingFactory())
	require.NoError(t, l.BindAddress(mustParseAddr(t, "127.0.0.1:0")))
	defer l.Close()

	load, err := l.RequestLoad(api.Load{})
	require.NoError(t, err)
	assert.Len(t, load.Workers, 3)
	assert.Equal(t, 0.0, load.Global)
	for _, w := range load.Workers {
		assert.Equal(t, 0.0, w)
	}
}

func TestRequestLoadGlobalIsMeanOfWorkers(t *testing.T) {
	l := New(WithWorkerCount(2))
	l.SetHandler(recordingFactory())
	require.NoError(t, l.BindAddress(mustParseAddr(t, "127.0.0.1:0")))
	defer l.Close()

	s0, err := l.RequestLoad(api.Load{})
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)

	s1, err := l.RequestLoad(s0)
	require.NoError(t, err)

	var sum float64
	for _, w := range s1.Workers {
		sum += w
	}
	mean := sum / float64(len(s1.Workers))
	assert.InDelta(t, mean, s1.Global, 1e-9)
}
