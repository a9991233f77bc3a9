//go:build linux || darwin

package channel

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// unixSocket is the production socket implementation: a raw
// non-blocking file descriptor driven directly with unix.Read/Write,
// bypassing the Go runtime's own netpoller so the fd's readiness is
// exclusively owned by this package's eventloop.Loop registration — a
// thin wrapper over the OS multiplexer, the same posture the poller
// itself takes, extended down to the socket calls that feed it.
type unixSocket struct {
	fd         int
	localAddr  net.Addr
	remoteAddr net.Addr
}

func (s *unixSocket) FD() int             { return s.fd }
func (s *unixSocket) LocalAddr() net.Addr  { return s.localAddr }
func (s *unixSocket) RemoteAddr() net.Addr { return s.remoteAddr }

func (s *unixSocket) Read(buf []byte) (int, error) {
	n, err := unix.Read(s.fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *unixSocket) Write(buf []byte) (int, error) {
	return unix.Write(s.fd, buf)
}

func (s *unixSocket) Close() error {
	return unix.Close(s.fd)
}

// unixListener is the production listenerSocket implementation.
type unixListener struct {
	fd   int
	addr net.Addr
}

func (l *unixListener) FD() int       { return l.fd }
func (l *unixListener) Addr() net.Addr { return l.addr }

func (l *unixListener) Accept() (socket, error) {
	nfd, sa, err := unix.Accept(l.fd)
	if err != nil {
		return nil, err
	}
	if err := unix.SetNonblock(nfd, true); err != nil {
		_ = unix.Close(nfd)
		return nil, err
	}
	local, err := unix.Getsockname(nfd)
	if err != nil {
		_ = unix.Close(nfd)
		return nil, err
	}
	return &unixSocket{fd: nfd, localAddr: sockaddrToTCPAddr(local), remoteAddr: sockaddrToTCPAddr(sa)}, nil
}

func (l *unixListener) Close() error {
	return unix.Close(l.fd)
}

// listenTCP creates, binds, and listens on a TCP4/TCP6 address,
// returning a listenerSocket ready for registration with a Loop.
func listenTCP(addr *net.TCPAddr, backlog int) (listenerSocket, error) {
	family := unix.AF_INET
	if addr.IP != nil && addr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("channel: socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("channel: setsockopt(SO_REUSEADDR): %w", err)
	}
	sa, err := tcpAddrToSockaddr(addr, family)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("channel: bind: %w", err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("channel: listen: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	boundSA, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	return &unixListener{fd: fd, addr: sockaddrToTCPAddr(boundSA)}, nil
}

// dialTCP creates a non-blocking TCP socket and issues a connect,
// returning immediately with EINPROGRESS (the caller arms the fd for
// writable-readiness to detect completion); completed synchronously on
// the rare case the kernel connects inline.
func dialTCP(addr *net.TCPAddr) (socket, bool, error) {
	family := unix.AF_INET
	if addr.IP != nil && addr.IP.To4() == nil {
		family = unix.AF_INET6
	}
	fd, err := unix.Socket(family, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return nil, false, fmt.Errorf("channel: socket: %w", err)
	}
	if err := unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return nil, false, err
	}
	sa, err := tcpAddrToSockaddr(addr, family)
	if err != nil {
		_ = unix.Close(fd)
		return nil, false, err
	}
	connected := true
	if err := unix.Connect(fd, sa); err != nil {
		if err != unix.EINPROGRESS {
			_ = unix.Close(fd)
			return nil, false, fmt.Errorf("channel: connect: %w", err)
		}
		connected = false
	}
	local, _ := unix.Getsockname(fd)
	return &unixSocket{fd: fd, localAddr: sockaddrToTCPAddr(local), remoteAddr: addr}, connected, nil
}

// connectError reports a non-blocking connect's outcome once the fd
// becomes writable, via SO_ERROR.
func connectError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno != 0 {
		return unix.Errno(errno)
	}
	return nil
}

func tcpAddrToSockaddr(addr *net.TCPAddr, family int) (unix.Sockaddr, error) {
	if family == unix.AF_INET6 {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		if addr.IP != nil {
			copy(sa.Addr[:], addr.IP.To16())
		}
		return sa, nil
	}
	sa := &unix.SockaddrInet4{Port: addr.Port}
	if addr.IP != nil {
		ip4 := addr.IP.To4()
		copy(sa.Addr[:], ip4)
	}
	return sa, nil
}

func sockaddrToTCPAddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, 16)
		copy(ip, v.Addr[:])
		return &net.TCPAddr{IP: ip, Port: v.Port}
	default:
		return nil
	}
}
