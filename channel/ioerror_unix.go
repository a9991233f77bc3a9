//go:build linux || darwin

package channel

import "golang.org/x/sys/unix"

func isWouldBlock(err error) bool {
	return err == unix.EAGAIN || err == unix.EWOULDBLOCK
}

// isFatalIOError decides whether an I/O failure should drive the
// channel to close. Every error reaching here already excludes
// EAGAIN/EWOULDBLOCK (handled before this is called); the core does
// not interpret protocol-level causes, so reset, broken pipe, and
// everything else not explicitly retryable are all treated alike as
// unrecoverable.
func isFatalIOError(err error) bool {
	return err != unix.EINTR
}
