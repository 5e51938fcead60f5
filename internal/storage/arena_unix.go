// arena_unix.go
//go:build linux || darwin

package storage

import (
	"golang.org/x/sys/unix"
)

// arenaAlloc reserves block memory as an anonymous private mapping, keeping
// row storage off the Go heap so large tables don't inflate GC scan time.
func arenaAlloc(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
}

// arenaFree returns the mapping to the OS.
func arenaFree(mem []byte) error {
	if mem == nil {
		return nil
	}
	return unix.Munmap(mem)
}
