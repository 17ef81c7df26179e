//go:build darwin && cgo

package replay

/*
#cgo CFLAGS: -x objective-c
#cgo LDFLAGS: -framework AppKit -framework Foundation

#import <AppKit/AppKit.h>
#include <stdlib.h>
#include <string.h>

// NSPasteboard is not safe for concurrent use; the Go side serialises calls.

static char *pasteboardText(int *ok) {
    char *result = NULL;
    *ok = 0;
    @autoreleasepool {
        NSString *text = [[NSPasteboard generalPasteboard] stringForType:NSPasteboardTypeString];
        if (text != nil) {
            result = strdup([text UTF8String]);
            *ok = 1;
        }
    }
    return result;
}

static int setPasteboardText(const char *s) {
    int ok = 0;
    @autoreleasepool {
        NSPasteboard *pb = [NSPasteboard generalPasteboard];
        [pb clearContents];
        NSString *text = [NSString stringWithUTF8String:s];
        if (text != nil && [pb setString:text forType:NSPasteboardTypeString]) {
            ok = 1;
        }
    }
    return ok;
}
*/
import "C"

import (
	"errors"
	"sync"
	"unsafe"
)

// Pasteboard accesses the general NSPasteboard.
type Pasteboard struct {
	mu sync.Mutex
}

// NewClipboard returns the platform clipboard.
func NewClipboard() (ClipboardAccessor, error) {
	return &Pasteboard{}, nil
}

// GetText implements ClipboardAccessor.
func (p *Pasteboard) GetText() (string, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	var ok C.int
	cstr := C.pasteboardText(&ok)
	if ok == 0 {
		return "", false, nil
	}
	defer C.free(unsafe.Pointer(cstr))
	return C.GoString(cstr), true, nil
}

// SetText implements ClipboardAccessor.
func (p *Pasteboard) SetText(text string) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cstr := C.CString(text)
	defer C.free(unsafe.Pointer(cstr))
	if C.setPasteboardText(cstr) == 0 {
		return errors.New("replay: pasteboard rejected text")
	}
	return nil
}
