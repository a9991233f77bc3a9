//go:build windows

package channel

import "golang.org/x/sys/windows"

func isWouldBlock(err error) bool {
	return err == windows.WSAEWOULDBLOCK
}

func isFatalIOError(err error) bool {
	return err != windows.WSAEINTR
}
