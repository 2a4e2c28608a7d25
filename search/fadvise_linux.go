//go:build linux

package search

import (
	"os"

	"golang.org/x/sys/unix"
)

// dropPageCache tells the kernel the file's pages will not be needed again
func dropPageCache(f *os.File) {
	_ = unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_DONTNEED)
}
