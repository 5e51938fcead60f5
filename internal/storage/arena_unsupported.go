// arena_unsupported.go
//go:build !linux && !darwin

package storage

// On unsupported platforms block memory falls back to the Go heap.
func arenaAlloc(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func arenaFree([]byte) error { return nil }
