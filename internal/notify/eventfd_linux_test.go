//go:build linux

package notify

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hioload/reactorcore/api"
	"github.com/hioload/reactorcore/internal/poller"
)

func TestEventFDIsBoundBeforeAndAfterBind(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	assert.False(t, n.IsBound())

	p, err := poller.New()
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, n.Bind(p, api.Tag(7)))
	assert.True(t, n.IsBound())
}

func TestEventFDNotifyWakesPoll(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	p, err := poller.New()
	require.NoError(t, err)
	defer p.Close()

	require.NoError(t, n.Bind(p, api.Tag(7)))
	require.NoError(t, n.Notify())

	events := make([]api.Event, 4)
	count, err := p.Poll(events, time.Second)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	assert.Equal(t, api.Tag(7), events[0].Tag)
}

func TestEventFDNotifyIsIdempotent(t *testing.T) {
	n, err := New()
	require.NoError(t, err)
	defer n.Close()

	require.NoError(t, n.Notify())
	require.NoError(t, n.Notify())
}
