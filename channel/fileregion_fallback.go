//go:build darwin

package channel

import "golang.org/x/sys/unix"

// sendFileRegion falls back to a pread-then-write copy on darwin:
// unix.Sendfile's signature there takes a pointer-in/pointer-out
// length argument different enough from Linux's that sharing one
// call site isn't worth the extra build-tag complexity for this
// exercise. The file-region write's observable contract — the byte
// range reaches the destination fd — still holds, just without the
// zero-copy optimization Linux gets.
func sendFileRegion(dstFD, srcFD int, offset int64, count int) (int, error) {
	buf := make([]byte, count)
	n, err := unix.Pread(srcFD, buf, offset)
	if err != nil {
		return 0, err
	}
	return unix.Write(dstFD, buf[:n])
}
