package transport

import (
	"net"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/hioload/reactorcore/api"
)

func TestEchoFactoryDefaultsBufferSize(t *testing.T) {
	f := EchoFactory{}
	tr, err := f.New()
	require.NoError(t, err)
	e := tr.(*Echo)
	assert.Equal(t, 4096, e.bufSize)
}

func TestEchoRoundTripsBytes(t *testing.T) {
	f := EchoFactory{BufferSize: 1024}
	tr, err := f.New()
	require.NoError(t, err)
	e := tr.(*Echo)

	go e.Run()
	defer e.Stop()

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	require.NoError(t, err)

	client, err := net.FileConn(os.NewFile(uintptr(fds[0]), "client"))
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, e.HandleNewPeer(api.Peer{FD: uintptr(fds[1])}))

	msg := []byte("hello reactorcore")
	_, err = client.Write(msg)
	require.NoError(t, err)

	buf := make([]byte, len(msg))
	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = readFull(client, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, buf)
}

func TestEchoLoadAfterStopReturnsError(t *testing.T) {
	f := EchoFactory{}
	tr, err := f.New()
	require.NoError(t, err)
	e := tr.(*Echo)

	go e.Run()
	e.Stop()

	_, err = e.Load()
	assert.Error(t, err)
}

func TestEchoLoadReportsNonNegativeUsage(t *testing.T) {
	f := EchoFactory{}
	tr, err := f.New()
	require.NoError(t, err)
	e := tr.(*Echo)

	go e.Run()
	defer e.Stop()

	ru, err := e.Load()
	require.NoError(t, err)
	assert.GreaterOrEqual(t, ru.UserMicros, int64(0))
	assert.GreaterOrEqual(t, ru.SystemMicros, int64(0))
}

func readFull(c net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := c.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
