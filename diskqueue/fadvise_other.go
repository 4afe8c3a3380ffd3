//go:build !linux

package diskqueue

// fadviseSequential is a no-op on platforms without posix_fadvise.
func fadviseSequential(fd int, offset, length int64) {}

// madviseSequential is a no-op on platforms without madvise.
func madviseSequential(data []byte) {}
