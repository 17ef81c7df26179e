//go:build darwin && cgo

package replay

/*
#cgo LDFLAGS: -framework ApplicationServices -framework CoreFoundation
#include <ApplicationServices/ApplicationServices.h>

static int postKey(CGKeyCode code, int down, uint64_t flags, int64_t marker) {
    CGEventRef ev = CGEventCreateKeyboardEvent(NULL, code, down ? true : false);
    if (ev == NULL) {
        return -1;
    }
    CGEventSetFlags(ev, (CGEventFlags)flags);
    CGEventSetIntegerValueField(ev, kCGEventSourceUserData, marker);
    CGEventPost(kCGHIDEventTap, ev);
    CFRelease(ev);
    return 0;
}
*/
import "C"

import (
	"fmt"

	"textreplacer/internal/keystroke"
)

// CGPoster posts key events at the HID event tap.
type CGPoster struct{}

// NewPoster returns the platform poster.
func NewPoster() (Poster, error) {
	return CGPoster{}, nil
}

// PostKey implements Poster.
func (CGPoster) PostKey(code uint16, down bool, mods keystroke.Modifiers) error {
	d := C.int(0)
	if down {
		d = 1
	}
	if C.postKey(C.CGKeyCode(code), d, C.uint64_t(mods), C.int64_t(keystroke.SyntheticMarker)) != 0 {
		return fmt.Errorf("replay: create key event %d failed", code)
	}
	return nil
}
