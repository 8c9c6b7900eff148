// Package props holds the property records a host uses to configure
// cameras and storage sinks, together with the string model shared by
// both: strings arrive at the API boundary as borrowed views over caller
// memory and are copied into ownership before they are persisted.
package props

import (
	"bytes"
	"errors"
)

// ErrEmptyString is returned when a zero-length buffer is validated.
var ErrEmptyString = errors.New("string buffer is empty")

// String is a NUL-terminated byte buffer that is either owned or a
// borrowed view over caller memory. The byte length always includes the
// terminating NUL. The zero value is an invalid empty string.
type String struct {
	buf []byte
	ref bool
}

// BorrowBytes returns a String that aliases the given buffer. A
// terminating NUL is not added; buf is taken as-is.
func BorrowBytes(buf []byte) String {
	return String{buf: buf, ref: true}
}

// OwnString returns an owned String holding a NUL-terminated copy of s.
func OwnString(s string) String {
	buf := make([]byte, len(s)+1)
	copy(buf, s)

	return String{buf: buf}
}

// Str returns the string value without the terminating NUL.
func (s *String) Str() string {
	b := s.buf
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}

// NBytes returns the byte length including the terminating NUL. A zero
// return means the string is invalid.
func (s *String) NBytes() int {
	return len(s.buf)
}

// IsRef returns whether the String borrows caller memory.
func (s *String) IsRef() bool {
	return s.ref
}

// Validate fails on a zero-length buffer.
func (s *String) Validate() error {
	if len(s.buf) == 0 {
		return ErrEmptyString
	}

	return nil
}

// CopyString copies src into dst. After the call dst owns its buffer, no
// matter the provenance of either side. A nil or empty src yields the
// one-byte owned empty string. A destination buffer that is already owned
// and large enough is reused in place.
func CopyString(dst *String, src *String) {
	empty := [1]byte{}

	var from []byte
	if src == nil || len(src.buf) == 0 {
		from = empty[:]
	} else {
		from = src.buf
	}

	if dst.ref || cap(dst.buf) < len(from) {
		dst.buf = make([]byte, len(from))
		dst.ref = false
	} else {
		dst.buf = dst.buf[:len(from)]
	}

	copy(dst.buf, from)

	// strings must be NUL terminated
	dst.buf[len(dst.buf)-1] = 0
}

// Destroy resets the String to its zero value, releasing any owned
// buffer.
func (s *String) Destroy() {
	s.buf = nil
	s.ref = false
}
