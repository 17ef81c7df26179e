//go:build darwin && cgo

package keystroke

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation -framework IOKit
#include "eventtap_darwin.h"
*/
import "C"

import (
	"context"
	"fmt"
	"runtime/cgo"
	"sync"
	"time"
	"unicode/utf16"
	"unsafe"
)

const accessibilityHint = "grant Accessibility and Input Monitoring in System Settings > Privacy & Security"

// tapOwner serialises ownership of the single process-wide event tap.
var tapOwner struct {
	sync.Mutex
	src *DarwinSource
}

// DarwinSource hooks key-down events through a CGEventTap.
type DarwinSource struct {
	BaseSource

	handle    cgo.Handle
	cancel    context.CancelFunc
	pollDone  chan struct{}
	lifecycle sync.Mutex
}

func newPlatformSource(opts Options) Source {
	d := &DarwinSource{}
	d.init(opts)
	return d
}

// Available implements Source.
func (d *DarwinSource) Available() (bool, string) {
	if C.trAccessibilityTrusted(0) != 1 {
		return false, "Accessibility permission required: " + accessibilityHint
	}
	if C.trListenAccess() != 1 {
		return false, "Input Monitoring permission required: " + accessibilityHint
	}
	return true, "CGEventTap available"
}

// RequestPermission implements Source. macOS shows its consent prompts; the
// grant usually only takes effect after the process restarts.
func (d *DarwinSource) RequestPermission() bool {
	listen := C.trRequestListenAccess() == 1
	trusted := C.trAccessibilityTrusted(1) == 1
	return listen && trusted
}

// Start implements Source.
func (d *DarwinSource) Start(ctx context.Context) error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if d.IsRunning() {
		return nil
	}
	if C.trAccessibilityTrusted(0) != 1 {
		return fmt.Errorf("%w: %s", ErrPermissionDenied, accessibilityHint)
	}

	tapOwner.Lock()
	if tapOwner.src != nil {
		tapOwner.Unlock()
		return ErrBusy
	}
	tapOwner.src = d
	tapOwner.Unlock()

	// Running must be set before the tap delivers its first event.
	d.SetRunning(true)
	d.handle = cgo.NewHandle(d)

	switch rc := C.trStartTap(C.uintptr_t(d.handle)); rc {
	case C.TR_TAP_OK:
	case C.TR_TAP_DENIED:
		d.release()
		return fmt.Errorf("%w: %s", ErrPermissionDenied, accessibilityHint)
	default:
		d.release()
		return fmt.Errorf("%w: code %d", ErrHookFailed, int(rc))
	}

	var pollCtx context.Context
	pollCtx, d.cancel = context.WithCancel(ctx)
	d.pollDone = make(chan struct{})
	go d.healthLoop(pollCtx)

	d.logger.Info("event tap started")
	return nil
}

func (d *DarwinSource) release() {
	d.SetRunning(false)
	d.handle.Delete()
	d.handle = 0

	tapOwner.Lock()
	if tapOwner.src == d {
		tapOwner.src = nil
	}
	tapOwner.Unlock()
}

// healthLoop records system tap disables and notices when the tap dies,
// for example after the permission is revoked.
func (d *DarwinSource) healthLoop(ctx context.Context) {
	defer close(d.pollDone)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := int64(C.trTakeTapDisables()); n > 0 {
				d.tapDisables.Add(n)
				d.logger.Warn("event tap disabled by system, re-enabled", "count", d.tapDisables.Load())
			}
			if C.trTapEnabled() != 1 && d.IsRunning() {
				d.logger.Error("event tap stopped unexpectedly")
				go func() { _ = d.Stop() }()
				return
			}
		}
	}
}

// Stop implements Source. It must not be called from the handler.
func (d *DarwinSource) Stop() error {
	d.lifecycle.Lock()
	defer d.lifecycle.Unlock()

	if !d.IsRunning() {
		return nil
	}
	if d.cancel != nil {
		d.cancel()
	}
	if d.pollDone != nil {
		<-d.pollDone
	}

	C.trStopTap()
	d.release()
	d.logger.Info("event tap stopped")
	return nil
}

//export trGoKeyEvent
func trGoKeyEvent(handle C.uintptr_t, keyCode C.int, flags C.uint64_t, chars *C.uint16_t, n C.int, userData C.int64_t) C.int {
	d, ok := cgo.Handle(handle).Value().(*DarwinSource)
	if !ok {
		return 0
	}

	var text string
	if n > 0 && chars != nil {
		units := unsafe.Slice((*uint16)(unsafe.Pointer(chars)), int(n))
		text = string(utf16.Decode(units))
	}

	ev := Event{
		KeyCode:   uint16(keyCode),
		Chars:     text,
		Modifiers: Modifiers(uint64(flags)) & modMask,
		Timestamp: time.Now(),
		Synthetic: int64(userData) == SyntheticMarker,
	}
	if d.Dispatch(ev) == Suppress {
		return 1
	}
	return 0
}

var _ Source = (*DarwinSource)(nil)
