//go:build !linux

package diskqueue

// prefaultRegion is a no-op on platforms without MADV_POPULATE_WRITE.
func prefaultRegion(data []byte) {}
