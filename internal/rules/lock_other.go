//go:build !unix

package rules

// lockPath is a no-op where flock is unavailable; writes are still atomic.
func lockPath(path string, exclusive bool) (func(), error) {
	return func() {}, nil
}
