//go:build !linux && !darwin && !freebsd && !netbsd && !openbsd && !dragonfly && !windows

package arena

// mapAnon falls back to the Go heap where anonymous mappings are unavailable.
func mapAnon(size int) ([]byte, func() error, error) {
	return make([]byte, size), func() error { return nil }, nil
}
