package correction

import (
	"encoding/binary"
	"math/bits"
)

// All helpers walk the buffers a 32-bit little-endian word at a time and
// finish any trailing 1-3 bytes individually. When the inputs differ in
// length only the common prefix is compared.

func commonLength(lengths ...int) int {
	n := lengths[0]
	for _, l := range lengths[1:] {
		if l < n {
			n = l
		}
	}
	return n
}

// HammingWeight counts the set bits in b
func HammingWeight(b []byte) uint32 {
	var weight int
	i := 0
	for ; i+4 <= len(b); i += 4 {
		weight += bits.OnesCount32(binary.LittleEndian.Uint32(b[i:]))
	}
	for ; i < len(b); i++ {
		weight += bits.OnesCount8(b[i])
	}
	return uint32(weight)
}

// HammingDistance counts the bit positions where a and b differ
func HammingDistance(a, b []byte) uint32 {
	n := commonLength(len(a), len(b))

	var distance int
	i := 0
	for ; i+4 <= n; i += 4 {
		x := binary.LittleEndian.Uint32(a[i:]) ^ binary.LittleEndian.Uint32(b[i:])
		distance += bits.OnesCount32(x)
	}
	for ; i < n; i++ {
		distance += bits.OnesCount8(a[i] ^ b[i])
	}
	return uint32(distance)
}

// Disagreement counts the bit positions where a, b and c do not all agree
func Disagreement(a, b, c []byte) uint32 {
	n := commonLength(len(a), len(b), len(c))

	var count int
	i := 0
	for ; i+4 <= n; i += 4 {
		wa := binary.LittleEndian.Uint32(a[i:])
		wb := binary.LittleEndian.Uint32(b[i:])
		wc := binary.LittleEndian.Uint32(c[i:])
		count += bits.OnesCount32((wa ^ wb) | (wb ^ wc))
	}
	for ; i < n; i++ {
		count += bits.OnesCount8((a[i] ^ b[i]) | (b[i] ^ c[i]))
	}
	return uint32(count)
}

// Majority writes the bitwise two-of-three vote of a, b and c into dst and
// returns the number of bytes written. A bit is set iff at least two of
// the inputs have it set: (A&B)|(B&C)|(A&C).
func Majority(dst, a, b, c []byte) int {
	n := commonLength(len(dst), len(a), len(b), len(c))

	i := 0
	for ; i+4 <= n; i += 4 {
		wa := binary.LittleEndian.Uint32(a[i:])
		wb := binary.LittleEndian.Uint32(b[i:])
		wc := binary.LittleEndian.Uint32(c[i:])
		binary.LittleEndian.PutUint32(dst[i:], (wa&wb)|(wb&wc)|(wa&wc))
	}
	for ; i < n; i++ {
		dst[i] = (a[i] & b[i]) | (b[i] & c[i]) | (a[i] & c[i])
	}
	return n
}
