package keystroke

import "unicode"

// Virtual key codes (macOS kVK_* values) used by the monitor and replayer.
const (
	KeyA            uint16 = 0
	KeyV            uint16 = 9
	KeyReturn       uint16 = 36
	KeyTab          uint16 = 48
	KeySpace        uint16 = 49
	KeyBackspace    uint16 = 51
	KeyEscape       uint16 = 53
	KeyRightCommand uint16 = 54
	KeyCommand      uint16 = 55
	KeyShift        uint16 = 56
	KeyCapsLock     uint16 = 57
	KeyOption       uint16 = 58
	KeyControl      uint16 = 59
	KeyRightShift   uint16 = 60
	KeyRightOption  uint16 = 61
	KeyRightControl uint16 = 62
	KeyFunction     uint16 = 63
	KeyClear        uint16 = 71
	KeyEnter        uint16 = 76
	KeyHome         uint16 = 115
	KeyPageUp       uint16 = 116
	KeyForwardDel   uint16 = 117
	KeyEnd          uint16 = 119
	KeyPageDown     uint16 = 121
	KeyLeft         uint16 = 123
	KeyRight        uint16 = 124
	KeyDown         uint16 = 125
	KeyUp           uint16 = 126
)

// specialKeys clear the input buffer: the cursor may have moved or the
// text context changed.
var specialKeys = map[uint16]struct{}{
	// arrows
	KeyLeft: {}, KeyRight: {}, KeyDown: {}, KeyUp: {},
	// F1-F12
	122: {}, 120: {}, 99: {}, 118: {}, 96: {}, 97: {}, 98: {}, 100: {}, 101: {}, 109: {}, 103: {}, 111: {},
	// F13-F20
	105: {}, 107: {}, 113: {}, 106: {}, 64: {}, 79: {}, 80: {}, 90: {},
	KeyEscape: {}, KeyTab: {}, KeyReturn: {}, KeySpace: {}, KeyClear: {}, KeyEnter: {},
	KeyForwardDel: {}, KeyHome: {}, KeyEnd: {}, KeyPageUp: {}, KeyPageDown: {},
	// modifiers
	KeyRightCommand: {}, KeyCommand: {}, KeyShift: {}, KeyCapsLock: {}, KeyOption: {},
	KeyControl: {}, KeyRightShift: {}, KeyRightOption: {}, KeyRightControl: {}, KeyFunction: {},
}

// IsSpecial reports whether code is a navigation, function, whitespace or
// modifier key.
func IsSpecial(code uint16) bool {
	_, ok := specialKeys[code]
	return ok
}

// usLayout maps unshifted characters to their ANSI US key codes.
var usLayout = map[rune]uint16{
	'a': 0, 'b': 11, 'c': 8, 'd': 2, 'e': 14, 'f': 3, 'g': 5, 'h': 4,
	'i': 34, 'j': 38, 'k': 40, 'l': 37, 'm': 46, 'n': 45, 'o': 31,
	'p': 35, 'q': 12, 'r': 15, 's': 1, 't': 17, 'u': 32, 'v': 9,
	'w': 13, 'x': 7, 'y': 16, 'z': 6,
	'0': 29, '1': 18, '2': 19, '3': 20, '4': 21, '5': 23,
	'6': 22, '7': 26, '8': 28, '9': 25,
	' ': 49, '-': 27, '=': 24, '[': 33, ']': 30, '\\': 42,
	';': 41, '\'': 39, ',': 43, '.': 47, '/': 44, '`': 50,
	'\t': 48, '\n': 36,
}

// usShifted maps shifted punctuation to the key typed with Shift held.
var usShifted = map[rune]uint16{
	'!': 18, '@': 19, '#': 20, '$': 21, '%': 23, '^': 22, '&': 26, '*': 28,
	'(': 25, ')': 29, '_': 27, '+': 24, '{': 33, '}': 30, '|': 42,
	':': 41, '"': 39, '<': 43, '>': 47, '?': 44, '~': 50,
}

// KeyForRune returns the US-layout key code that types r and whether Shift
// must be held. ok is false for characters that have no key.
func KeyForRune(r rune) (code uint16, shift bool, ok bool) {
	if code, ok := usLayout[r]; ok {
		return code, false, true
	}
	if code, ok := usShifted[r]; ok {
		return code, true, true
	}
	if r <= unicode.MaxASCII && unicode.IsUpper(r) {
		code, ok := usLayout[unicode.ToLower(r)]
		return code, true, ok
	}
	return 0, false, false
}

// KeyForText is KeyForRune for a single character given as a string. Multi-rune
// grapheme clusters never map.
func KeyForText(s string) (code uint16, shift bool, ok bool) {
	runes := []rune(s)
	if len(runes) != 1 {
		return 0, false, false
	}
	return KeyForRune(runes[0])
}
