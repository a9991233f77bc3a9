//go:build linux

package channel

import "golang.org/x/sys/unix"

// sendFileRegion performs a zero-copy file-region write via the
// sendfile(2) syscall.
func sendFileRegion(dstFD, srcFD int, offset int64, count int) (int, error) {
	off := offset
	return unix.Sendfile(dstFD, srcFD, &off, count)
}
