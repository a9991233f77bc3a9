//go:build windows

package channel

import (
	"fmt"
	"net"

	"golang.org/x/sys/windows"
)

// windowsSocket mirrors unixSocket using golang.org/x/sys/windows'
// Winsock bindings. The reactor core's own poller (eventloop's
// poller_windows.go) emulates readiness over IOCP; this package reads
// and writes the socket handle directly once that readiness fires,
// same division of labor as the unix build.
type windowsSocket struct {
	handle     windows.Handle
	localAddr  net.Addr
	remoteAddr net.Addr
}

func (s *windowsSocket) FD() int             { return int(s.handle) }
func (s *windowsSocket) LocalAddr() net.Addr  { return s.localAddr }
func (s *windowsSocket) RemoteAddr() net.Addr { return s.remoteAddr }

func (s *windowsSocket) Read(buf []byte) (int, error) {
	return windows.Recv(s.handle, buf, 0)
}

func (s *windowsSocket) Write(buf []byte) (int, error) {
	return windows.Send(s.handle, buf, 0)
}

func (s *windowsSocket) Close() error {
	return windows.Closesocket(s.handle)
}

type windowsListener struct {
	handle windows.Handle
	addr   net.Addr
}

func (l *windowsListener) FD() int        { return int(l.handle) }
func (l *windowsListener) Addr() net.Addr { return l.addr }

func (l *windowsListener) Accept() (socket, error) {
	nh, sa, err := windows.Accept(l.handle)
	if err != nil {
		return nil, err
	}
	return &windowsSocket{handle: nh, localAddr: l.addr, remoteAddr: sockaddrToTCPAddr(sa)}, nil
}

func (l *windowsListener) Close() error {
	return windows.Closesocket(l.handle)
}

func listenTCP(addr *net.TCPAddr, backlog int) (listenerSocket, error) {
	h, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("channel: socket: %w", err)
	}
	sa := tcpAddrToSockaddr(addr)
	if err := windows.Bind(h, sa); err != nil {
		_ = windows.Closesocket(h)
		return nil, fmt.Errorf("channel: bind: %w", err)
	}
	if err := windows.Listen(h, backlog); err != nil {
		_ = windows.Closesocket(h)
		return nil, fmt.Errorf("channel: listen: %w", err)
	}
	return &windowsListener{handle: h, addr: addr}, nil
}

func dialTCP(addr *net.TCPAddr) (socket, bool, error) {
	h, err := windows.Socket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return nil, false, fmt.Errorf("channel: socket: %w", err)
	}
	if err := windows.Connect(h, tcpAddrToSockaddr(addr)); err != nil {
		_ = windows.Closesocket(h)
		return nil, false, fmt.Errorf("channel: connect: %w", err)
	}
	return &windowsSocket{handle: h, remoteAddr: addr}, true, nil
}

// connectError is a no-op on Windows: Connect above is issued
// synchronously rather than via a writable-readiness callback, since
// this build targets IOCP completion semantics at the poller layer
// rather than a self-pipe readiness emulation for connect.
func connectError(fd int) error { return nil }

func tcpAddrToSockaddr(addr *net.TCPAddr) windows.Sockaddr {
	var ip4 [4]byte
	if addr.IP != nil {
		copy(ip4[:], addr.IP.To4())
	}
	return &windows.SockaddrInet4{Port: addr.Port, Addr: ip4}
}

func sockaddrToTCPAddr(sa windows.Sockaddr) *net.TCPAddr {
	if v, ok := sa.(*windows.SockaddrInet4); ok {
		return &net.TCPAddr{IP: net.IP(v.Addr[:]), Port: v.Port}
	}
	return nil
}
