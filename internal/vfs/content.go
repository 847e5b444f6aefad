package vfs

import (
	"fmt"
	"io"
	"unicode/utf8"
)

// Content is what Write stores: text, or a binary buffer. Both are written
// byte for byte; the distinction only affects how callers read it back.
type Content struct {
	data   []byte
	binary bool
}

// Text returns UTF-8 text content.
func Text(s string) Content {
	return Content{data: []byte(s)}
}

// Binary returns content holding b. The slice is not copied.
func Binary(b []byte) Content {
	return Content{data: b, binary: true}
}

// FromReader drains r into binary content.
func FromReader(r io.Reader) (Content, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Content{}, fmt.Errorf("failed to read content: %w", err)
	}
	return Binary(data), nil
}

// Bytes returns the raw bytes to store.
func (c Content) Bytes() []byte {
	if c.data == nil {
		return []byte{}
	}
	return c.data
}

// IsBinary reports whether c was built from bytes rather than text.
func (c Content) IsBinary() bool { return c.binary }

// Len returns the number of bytes in c.
func (c Content) Len() int { return len(c.data) }

// ValidText reports whether data decodes as UTF-8.
func ValidText(data []byte) bool {
	return utf8.Valid(data)
}
