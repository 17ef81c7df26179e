//go:build !darwin || !cgo

package keystroke

import (
	"context"
	"runtime"
)

// UnsupportedSource is the Source on platforms without a keyboard hook.
type UnsupportedSource struct {
	BaseSource
}

func newPlatformSource(opts Options) Source {
	s := &UnsupportedSource{}
	s.init(opts)
	return s
}

// Start implements Source.
func (s *UnsupportedSource) Start(context.Context) error {
	return ErrNotAvailable
}

// Stop implements Source.
func (s *UnsupportedSource) Stop() error {
	return nil
}

// Available implements Source.
func (s *UnsupportedSource) Available() (bool, string) {
	if runtime.GOOS == "darwin" {
		return false, "built without cgo; the event tap requires cgo"
	}
	return false, "keyboard hook not supported on " + runtime.GOOS
}

// RequestPermission implements Source.
func (s *UnsupportedSource) RequestPermission() bool {
	return false
}

var _ Source = (*UnsupportedSource)(nil)
