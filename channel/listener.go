package channel

import (
	"net"
	"time"

	"github.com/joeycumines/netreactor/eventloop"
	"github.com/joeycumines/netreactor/internal/ratelimit"
)

// Listener drives a listening socket's accept loop on one dedicated
// loop, handing each accepted connection to a loop chosen from group
// (round-robin by default). An optional AcceptLimiter throttles the
// accept rate directly in the readiness callback, ahead of any
// per-connection cost.
type Listener struct {
	loop    *eventloop.Loop
	group   *eventloop.Group
	lsock   listenerSocket
	limiter *ratelimit.AcceptLimiter
	opts    []Option
	logger  eventloop.Logger

	registered bool
	pending    *eventloop.ScheduledTask
}

// Listen binds and starts listening on addr using a loop drawn from
// group, then registers the accept callback on that same loop. Each
// accepted connection is assigned its own loop via group.Next.
func Listen(group *eventloop.Group, addr *net.TCPAddr, backlog int, opts ...Option) (*Listener, error) {
	lsock, err := listenTCP(addr, backlog)
	if err != nil {
		return nil, err
	}
	cfg := resolveChannelOptions(opts)
	l := &Listener{
		loop:    group.Next(),
		group:   group,
		lsock:   lsock,
		limiter: cfg.acceptLimiter,
		opts:    opts,
		logger:  cfg.logger,
	}
	if err := l.loop.Submit(eventloop.Task{Runnable: l.start}); err != nil {
		_ = lsock.Close()
		return nil, err
	}
	return l, nil
}

func (l *Listener) Addr() net.Addr { return l.lsock.Addr() }

func (l *Listener) start() {
	l.registered = true
	_ = l.loop.RegisterFD(l.lsock.FD(), eventloop.EventRead, l.onAcceptable)
}

// Close stops the accept loop and closes the listening socket. It does
// not touch channels already handed off to member loops.
func (l *Listener) Close() error {
	errCh := make(chan error, 1)
	err := l.loop.Submit(eventloop.Task{Runnable: func() {
		if l.pending != nil {
			l.pending.Cancel()
			l.pending = nil
		}
		if l.registered {
			_ = l.loop.UnregisterFD(l.lsock.FD())
			l.registered = false
		}
		errCh <- l.lsock.Close()
	}})
	if err != nil {
		return err
	}
	return <-errCh
}

func (l *Listener) onAcceptable(eventloop.IOEvents) {
	for {
		if next, ok := l.limiter.Allow(); !ok {
			l.armDelayed(next)
			return
		}

		sock, err := l.lsock.Accept()
		if err != nil {
			if isWouldBlock(err) {
				return
			}
			if l.logger != nil && l.logger.IsEnabled(eventloop.LevelWarn) {
				l.logger.Log(eventloop.LogEntry{Level: eventloop.LevelWarn, Message: "accept failed", Err: err})
			}
			return
		}

		loop := l.group.Next()
		ch := newAcceptedChannel(loop, sock, l.opts...)
		if err := l.group.RegisterOn(loop, ch); err != nil {
			_ = sock.Close()
			return
		}
	}
}

// armDelayed schedules a retry once the limiter's window allows
// another accept, rather than busy-polling the readiness callback.
func (l *Listener) armDelayed(next time.Time) {
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}
	task, err := l.loop.Schedule(delay, func() { l.onAcceptable(0) })
	if err == nil {
		l.pending = task
	}
}
