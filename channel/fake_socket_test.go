package channel

import (
	"errors"
	"net"
)

// errWouldBlockTest stands in for EAGAIN/EWOULDBLOCK in tests that run
// on every platform; isWouldBlock only recognizes the real errno
// values, so these fakes signal "no more data/room" via io-style
// sentinels the channel treats as a short, non-blocking result instead
// (matching how a real non-blocking socket reports it without an
// error at all: n < requested, err == nil).
var errFakeClosed = errors.New("fake socket closed")

type fakeAddr string

func (a fakeAddr) Network() string { return "fake" }
func (a fakeAddr) String() string  { return string(a) }

// fakeSocket is an in-memory stand-in for a non-blocking TCP socket,
// letting Channel's state machine and read/write paths run without a
// real fd.
type fakeSocket struct {
	fd int

	// reads is consumed in order by Read.
	reads []fakeRead

	// writeLimit caps bytes accepted per Write call; 0 means
	// unlimited. writeErr, if set, is returned instead of writing.
	writeLimit int
	writeErr   error
	written    []byte

	closed bool
}

type fakeRead struct {
	data []byte
	err  error
}

func (s *fakeSocket) FD() int { return s.fd }

func (s *fakeSocket) Read(buf []byte) (int, error) {
	if len(s.reads) == 0 {
		return 0, errFakeClosed
	}
	r := s.reads[0]
	s.reads = s.reads[1:]
	if r.err != nil {
		return 0, r.err
	}
	n := copy(buf, r.data)
	return n, nil
}

func (s *fakeSocket) Write(buf []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}
	n := len(buf)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}
	s.written = append(s.written, buf[:n]...)
	return n, nil
}

func (s *fakeSocket) Close() error { s.closed = true; return nil }

func (s *fakeSocket) LocalAddr() net.Addr  { return fakeAddr("local") }
func (s *fakeSocket) RemoteAddr() net.Addr { return fakeAddr("remote") }

// fakeListenerSocket hands out a queued list of accepted sockets, then
// reports errFakeWouldBlock once exhausted (mirroring a real
// non-blocking listener with no pending connections).
var errFakeWouldBlock = errors.New("fake listener would block")

type fakeListenerSocket struct {
	fd      int
	pending []*fakeSocket
}

func (l *fakeListenerSocket) FD() int { return l.fd }

func (l *fakeListenerSocket) Accept() (socket, error) {
	if len(l.pending) == 0 {
		return nil, errFakeWouldBlock
	}
	s := l.pending[0]
	l.pending = l.pending[1:]
	return s, nil
}

func (l *fakeListenerSocket) Close() error { return nil }
func (l *fakeListenerSocket) Addr() net.Addr { return fakeAddr("listener") }
