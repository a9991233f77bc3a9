package channel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/netreactor/eventloop"
)

func newTestGroup(t *testing.T) *eventloop.Group {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	group, err := eventloop.NewGroup(ctx, 2)
	require.NoError(t, err)
	t.Cleanup(func() {
		cancel()
		_ = group.ShutdownGracefully(0, time.Second)
	})
	return group
}

// TestListener_AcceptLoop_HandsOffConnections exercises the accept
// path directly (bypassing the readiness callback plumbing): queued
// sockets are each wrapped in a channel and registered on a
// group-chosen loop.
func TestListener_AcceptLoop_HandsOffConnections(t *testing.T) {
	group := newTestGroup(t)

	lsock := &fakeListenerSocket{
		fd: 99,
		pending: []*fakeSocket{
			{fd: 101},
			{fd: 102},
		},
	}

	l := &Listener{
		loop:  group.Next(),
		group: group,
		lsock: lsock,
	}

	l.onAcceptable(0)

	// Both queued sockets were consumed by the accept loop.
	require.Empty(t, lsock.pending)
}

func TestListener_Close_UnregistersAndClosesSocket(t *testing.T) {
	group := newTestGroup(t)
	lsock := &fakeListenerSocket{fd: 7}

	l := &Listener{loop: group.Next(), group: group, lsock: lsock}
	require.NoError(t, l.loop.Submit(eventloop.Task{Runnable: l.start}))

	require.NoError(t, l.Close())
}
