package codec

import (
	"fmt"
)

// RingBuffer is a fixed-capacity circular byte buffer with separate read
// and write cursors. It has exactly one producer and one consumer, both on
// the cooperative loop, so it carries no lock.
//
// Writes are all-or-nothing: a write that does not fit leaves the buffer
// untouched and reports false, which callers treat as backpressure.
type RingBuffer struct {
	name   string
	buffer []byte
	rPtr   int // Next byte to read
	wPtr   int // Next byte to write
	size   int // Bytes currently stored
}

// NewRingBuffer creates a ring buffer holding up to capacity bytes
func NewRingBuffer(capacity int, name string) *RingBuffer {
	if capacity <= 0 {
		panic("RingBuffer capacity must be > 0")
	}

	return &RingBuffer{
		name:   name,
		buffer: make([]byte, capacity),
	}
}

// Write appends p. Returns false, writing nothing, if p does not fit.
func (rb *RingBuffer) Write(p []byte) bool {
	if len(p) > rb.FreeSpace() {
		return false
	}

	n := copy(rb.buffer[rb.wPtr:], p)
	if n < len(p) {
		copy(rb.buffer, p[n:])
	}
	rb.wPtr = (rb.wPtr + len(p)) % len(rb.buffer)
	rb.size += len(p)

	return true
}

// Read fills p from the buffer. Returns false, reading nothing, if fewer
// than len(p) bytes are stored.
func (rb *RingBuffer) Read(p []byte) bool {
	if !rb.PeekAt(0, p) {
		return false
	}
	rb.advance(len(p))
	return true
}

// PeekAt copies len(p) bytes starting off bytes past the read cursor
// without consuming them
func (rb *RingBuffer) PeekAt(off int, p []byte) bool {
	if off < 0 || off+len(p) > rb.size {
		return false
	}

	start := (rb.rPtr + off) % len(rb.buffer)
	n := copy(p, rb.buffer[start:])
	if n < len(p) {
		copy(p[n:], rb.buffer)
	}

	return true
}

// Discard drops up to n bytes from the read side and returns how many were
// actually removed
func (rb *RingBuffer) Discard(n int) int {
	if n > rb.size {
		n = rb.size
	}
	if n < 0 {
		n = 0
	}
	rb.advance(n)
	return n
}

func (rb *RingBuffer) advance(n int) {
	rb.rPtr = (rb.rPtr + n) % len(rb.buffer)
	rb.size -= n
}

// Reset empties the buffer
func (rb *RingBuffer) Reset() {
	rb.rPtr = 0
	rb.wPtr = 0
	rb.size = 0
}

// FreeSpace returns the number of bytes that can still be written
func (rb *RingBuffer) FreeSpace() int {
	return len(rb.buffer) - rb.size
}

// DataSize returns the number of bytes waiting to be read
func (rb *RingBuffer) DataSize() int {
	return rb.size
}

// Capacity returns the fixed buffer size
func (rb *RingBuffer) Capacity() int {
	return len(rb.buffer)
}

// IsEmpty reports whether there is nothing to read
func (rb *RingBuffer) IsEmpty() bool {
	return rb.size == 0
}

// Name returns the buffer name for logging
func (rb *RingBuffer) Name() string {
	return rb.name
}

func (rb *RingBuffer) String() string {
	return fmt.Sprintf("RingBuffer[%s]: size=%d, capacity=%d, r=%d, w=%d",
		rb.name, rb.size, len(rb.buffer), rb.rPtr, rb.wPtr)
}
