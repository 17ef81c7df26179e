package monitor

import "github.com/rivo/uniseg"

// DefaultBufferSize is the number of characters kept for matching.
const DefaultBufferSize = 100

// Buffer holds the most recently typed characters, bounded to a maximum
// number of grapheme clusters. When full, the oldest characters are dropped
// so the buffer always holds the exact suffix of the input.
type Buffer struct {
	max   int
	text  string
	count int
}

// NewBuffer creates a buffer holding at most max characters.
func NewBuffer(max int) *Buffer {
	if max <= 0 {
		max = DefaultBufferSize
	}
	return &Buffer{max: max}
}

// Append adds s and trims the front past the bound.
func (b *Buffer) Append(s string) {
	if s == "" {
		return
	}
	b.text += s
	b.count = uniseg.GraphemeClusterCount(b.text)
	if b.count <= b.max {
		return
	}

	drop := b.count - b.max
	end := 0
	gr := uniseg.NewGraphemes(b.text)
	for i := 0; i < drop && gr.Next(); i++ {
		_, end = gr.Positions()
	}
	b.text = b.text[end:]
	b.count = b.max
}

// Backspace removes the last character. It reports false when the buffer
// was already empty.
func (b *Buffer) Backspace() bool {
	if b.text == "" {
		return false
	}
	last := 0
	gr := uniseg.NewGraphemes(b.text)
	for gr.Next() {
		last, _ = gr.Positions()
	}
	b.text = b.text[:last]
	b.count--
	return true
}

// Reset empties the buffer.
func (b *Buffer) Reset() {
	b.text = ""
	b.count = 0
}

// SetMax changes the bound, trimming if needed.
func (b *Buffer) SetMax(max int) {
	if max <= 0 {
		max = DefaultBufferSize
	}
	b.max = max
	if b.count > b.max {
		text := b.text
		b.Reset()
		b.Append(text)
	}
}

// String returns the buffered text.
func (b *Buffer) String() string {
	return b.text
}

// Len returns the number of characters buffered.
func (b *Buffer) Len() int {
	return b.count
}
