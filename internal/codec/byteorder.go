package codec

import (
	"math/bits"

	"github.com/dbehnke/scoaudio/internal/protocol"
)

// ByteOrderAdapter applies the per-word byte order of the operator-facing
// buffer. Wideband links swap the two bytes of every 16-bit word, headers
// and payload alike; narrowband links pass words through unchanged.
//
// The adapter is chosen once when an endpoint connects and is stateless.
type ByteOrderAdapter struct {
	swap bool
}

// NewByteOrderAdapter returns the adapter for a negotiated format
func NewByteOrderAdapter(format protocol.AudioFormat) ByteOrderAdapter {
	return ByteOrderAdapter{swap: format == protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED}
}

// Swaps reports whether the adapter changes anything
func (a ByteOrderAdapter) Swaps() bool {
	return a.swap
}

// AdaptWord transforms one 16-bit word. Applying it twice is the identity.
func (a ByteOrderAdapter) AdaptWord(w uint16) uint16 {
	if a.swap {
		return bits.ReverseBytes16(w)
	}
	return w
}

// AdaptBytes copies src into dst one little-endian 16-bit word at a time,
// transforming each word. An odd trailing byte has no partner and is copied
// unchanged. dst and src may be the same slice. Returns the bytes written.
func (a ByteOrderAdapter) AdaptBytes(dst, src []byte) int {
	n := len(src)
	if len(dst) < n {
		n = len(dst)
	}

	if !a.swap {
		return copy(dst[:n], src[:n])
	}

	i := 0
	for ; i+2 <= n; i += 2 {
		lo, hi := src[i], src[i+1]
		dst[i], dst[i+1] = hi, lo
	}
	if i < n {
		dst[i] = src[i]
	}
	return n
}

// PutWord stores w into b[0:2] little-endian after adapting it
func (a ByteOrderAdapter) PutWord(b []byte, w uint16) {
	w = a.AdaptWord(w)
	b[0] = byte(w)
	b[1] = byte(w >> 8)
}

// Word reads a little-endian word from b[0:2] and removes the adaptation
func (a ByteOrderAdapter) Word(b []byte) uint16 {
	return a.AdaptWord(uint16(b[0]) | uint16(b[1])<<8)
}
