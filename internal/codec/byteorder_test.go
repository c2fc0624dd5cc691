package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/dbehnke/scoaudio/internal/protocol"
)

func TestAdaptWord(t *testing.T) {
	wb := NewByteOrderAdapter(protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED)
	nb := NewByteOrderAdapter(protocol.AUDIO_FORMAT_NARROWBAND)

	assert.True(t, wb.Swaps())
	assert.False(t, nb.Swaps())
	assert.Equal(t, uint16(0x3412), wb.AdaptWord(0x1234))
	assert.Equal(t, uint16(0x1234), nb.AdaptWord(0x1234))
}

func TestAdaptWordRoundTrip(t *testing.T) {
	wb := NewByteOrderAdapter(protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED)
	nb := NewByteOrderAdapter(protocol.AUDIO_FORMAT_NARROWBAND)

	rapid.Check(t, func(t *rapid.T) {
		x := rapid.Uint16().Draw(t, "x")
		assert.Equal(t, x, wb.AdaptWord(wb.AdaptWord(x)))
		assert.Equal(t, x, nb.AdaptWord(x))
	})
}

func TestAdaptBytes(t *testing.T) {
	tests := []struct {
		name   string
		format protocol.AudioFormat
		input  []byte
		want   []byte
	}{
		{
			name:   "wideband even",
			format: protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED,
			input:  []byte{0x01, 0x02, 0x03, 0x04},
			want:   []byte{0x02, 0x01, 0x04, 0x03},
		},
		{
			name:   "wideband odd tail untouched",
			format: protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED,
			input:  []byte{0x01, 0x02, 0x03},
			want:   []byte{0x02, 0x01, 0x03},
		},
		{
			name:   "narrowband identity",
			format: protocol.AUDIO_FORMAT_NARROWBAND,
			input:  []byte{0x01, 0x02, 0x03},
			want:   []byte{0x01, 0x02, 0x03},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := NewByteOrderAdapter(tt.format)
			dst := make([]byte, len(tt.input))
			assert.Equal(t, len(tt.input), a.AdaptBytes(dst, tt.input))
			assert.Equal(t, tt.want, dst)

			// In place gives the same result
			inPlace := append([]byte(nil), tt.input...)
			a.AdaptBytes(inPlace, inPlace)
			assert.Equal(t, tt.want, inPlace)
		})
	}
}

func TestAdaptBytesRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		format := rapid.SampledFrom([]protocol.AudioFormat{
			protocol.AUDIO_FORMAT_NARROWBAND,
			protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED,
		}).Draw(t, "format")
		a := NewByteOrderAdapter(format)
		in := rapid.SliceOf(rapid.Byte()).Draw(t, "in")

		once := make([]byte, len(in))
		twice := make([]byte, len(in))
		a.AdaptBytes(once, in)
		a.AdaptBytes(twice, once)
		assert.Equal(t, in, twice)
	})
}

func TestPutWord(t *testing.T) {
	b := make([]byte, 2)

	wb := NewByteOrderAdapter(protocol.AUDIO_FORMAT_WIDEBAND_SWAPPED)
	wb.PutWord(b, 0xABCD)
	assert.Equal(t, []byte{0xAB, 0xCD}, b)
	assert.Equal(t, uint16(0xABCD), wb.Word(b))

	nb := NewByteOrderAdapter(protocol.AUDIO_FORMAT_NARROWBAND)
	nb.PutWord(b, 0xABCD)
	assert.Equal(t, []byte{0xCD, 0xAB}, b)
	assert.Equal(t, uint16(0xABCD), nb.Word(b))
}
