package sco

import (
	"encoding/binary"
	"fmt"

	"github.com/dbehnke/scoaudio/internal/protocol"
)

// Metadata is the fixed 8-byte in-band header in front of every slot payload.
//
// Layout, two 32-bit words, each stored little-endian:
//
//	word0 = length:16 | status:16
//	word1 = payload_size:16 | counter:16
type Metadata struct {
	Length      uint16              // Header size in bytes
	Status      protocol.SlotStatus // Receive status of the slot
	PayloadSize uint16              // Payload bytes following the header
	Counter     uint16              // Radio slot counter, or timestamp once framed
}

// Decode unpacks a header from its two 32-bit words. It never fails.
func Decode(word0, word1 uint32) Metadata {
	return Metadata{
		Length:      uint16((word0 >> 16) & 0xFFFF),
		Status:      protocol.SlotStatus(word0 & 0xFFFF),
		PayloadSize: uint16((word1 >> 16) & 0xFFFF),
		Counter:     uint16(word1 & 0xFFFF),
	}
}

// Encode packs the header into its two 32-bit words
func (m Metadata) Encode() (word0, word1 uint32) {
	word0 = uint32(m.Length)<<16 | uint32(m.Status)
	word1 = uint32(m.PayloadSize)<<16 | uint32(m.Counter)
	return word0, word1
}

// DecodeBytes reads a header from the first 8 bytes of b
func DecodeBytes(b []byte) (Metadata, error) {
	if len(b) < protocol.SCO_METADATA_LENGTH {
		return Metadata{}, fmt.Errorf("sco header too short: got %d bytes, need %d",
			len(b), protocol.SCO_METADATA_LENGTH)
	}
	return Decode(binary.LittleEndian.Uint32(b[0:4]), binary.LittleEndian.Uint32(b[4:8])), nil
}

// PutBytes writes the header into the first 8 bytes of b
func (m Metadata) PutBytes(b []byte) {
	word0, word1 := m.Encode()
	binary.LittleEndian.PutUint32(b[0:4], word0)
	binary.LittleEndian.PutUint32(b[4:8], word1)
}

// Bytes returns the header as a new 8-byte slice
func (m Metadata) Bytes() []byte {
	b := make([]byte, protocol.SCO_METADATA_LENGTH)
	m.PutBytes(b)
	return b
}

// Words returns the header as the 16-bit words it occupies in a buffer,
// in storage order: low(word0), high(word0), low(word1), high(word1).
func (m Metadata) Words() [protocol.SCO_METADATA_WORDS]uint16 {
	return [protocol.SCO_METADATA_WORDS]uint16{
		uint16(m.Status), m.Length, m.Counter, m.PayloadSize,
	}
}

// FromWords is the inverse of Words
func FromWords(w [protocol.SCO_METADATA_WORDS]uint16) Metadata {
	return Metadata{
		Length:      w[1],
		Status:      protocol.SlotStatus(w[0]),
		PayloadSize: w[3],
		Counter:     w[2],
	}
}

// FrameSize is the total size of header plus payload as declared by the header
func (m Metadata) FrameSize() int {
	return int(m.Length) + int(m.PayloadSize)
}

func (m Metadata) String() string {
	return fmt.Sprintf("len=%d status=%s payload=%d counter=%d",
		m.Length, m.Status, m.PayloadSize, m.Counter)
}
