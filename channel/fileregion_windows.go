//go:build windows

package channel

import "golang.org/x/sys/windows"

// sendFileRegion falls back to a read-then-send copy on Windows;
// TransmitFile's async completion model belongs at the IOCP poller
// layer, out of scope for this exercise's file-region support.
func sendFileRegion(dstFD, srcFD int, offset int64, count int) (int, error) {
	src := windows.Handle(srcFD)
	if _, err := windows.Seek(src, offset, 0); err != nil {
		return 0, err
	}
	buf := make([]byte, count)
	n, err := windows.Read(src, buf)
	if err != nil {
		return 0, err
	}
	return windows.Send(windows.Handle(dstFD), buf[:n], 0)
}
