//go:build !darwin || !cgo

package replay

// NewPoster returns the platform poster. Without the macOS event APIs there
// is none.
func NewPoster() (Poster, error) {
	return nil, ErrNotSupported
}
